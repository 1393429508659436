// Package feed はRSSフィードの取得とパースを提供する。
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/placementbridge/oppengine/internal/model"
)

// userAgent は外部フィードへのリクエストで名乗るUA。
const userAgent = "OpportunityBot/1.0 (+https://www.placementbridge.org)"

const (
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 30 * time.Second
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// permanentError はリトライしても回復しない取得エラー。
// 404/403およびパース失敗が該当する。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Fetcher は個別フィードのHTTPフェッチとパースを行う。
// SSRF検証付きクライアントでの取得、指数バックオフによるリトライ、
// gofeedによるパースを実行する。
type Fetcher struct {
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	maxRetries  int
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
	maxRetries int,
) *Fetcher {
	return &Fetcher{
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		maxRetries:  maxRetries,
	}
}

// FetchURL はフィードURLを取得してパースし、生のフィード項目を返す。
// 一時的な失敗（ネットワークエラー、429、5xx）は指数バックオフ付きで
// 最大maxRetries回リトライする。404/403とパース失敗はリトライしない。
func (f *Fetcher) FetchURL(ctx context.Context, feedURL string) ([]model.RawFeedItem, error) {
	if err := f.ssrfGuard.ValidateURL(feedURL); err != nil {
		return nil, model.NewSSRFBlockedError()
	}

	var lastErr error
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			f.logger.Warn("フィード取得をリトライします",
				slog.String("feed_url", feedURL),
				slog.Int("attempt", attempt+1),
				slog.Float64("delay_sec", delay.Seconds()),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		items, err := f.fetchOnce(ctx, feedURL)
		if err == nil {
			return items, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return nil, perm.err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("フィードの取得に失敗しました（%d回試行）: %w", f.maxRetries, lastErr)
}

// fetchOnce は1回分のHTTPフェッチとパースを実行する。
func (f *Fetcher) fetchOnce(ctx context.Context, feedURL string) ([]model.RawFeedItem, error) {
	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("リクエスト作成に失敗しました: %w", err)}
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// 続行
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, &permanentError{err: fmt.Errorf("フィードにアクセスできません: HTTPステータス %d", resp.StatusCode)}
	default:
		// 429/5xx等はリトライ対象
		return nil, fmt.Errorf("フィード取得が失敗しました: HTTPステータス %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("フィードのパースに失敗しました: %w", err)}
	}

	return convertGofeedItems(parsedFeed.Items), nil
}

// backoffDelay はattempt回目のリトライ待機時間を返す。
// base * 2^(attempt-1) にジッターを加え、上限でクリップする。
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter
}

// convertGofeedItems はgofeedの項目をmodel.RawFeedItemに変換する。
func convertGofeedItems(items []*gofeed.Item) []model.RawFeedItem {
	rawItems := make([]model.RawFeedItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		raw := model.RawFeedItem{
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
		}

		// 説明が空の場合は本文を使用
		if raw.Description == "" && item.Content != "" {
			raw.Description = item.Content
		}

		// 掲載元（dc:creator または author）
		if item.Author != nil {
			raw.Creator = item.Author.Name
		}
		if raw.Creator == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			raw.Creator = item.Authors[0].Name
		}

		// 公開日時
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			raw.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			raw.PublishedAt = &t
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if raw.Link == "" && item.GUID != "" &&
			(strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			raw.Link = item.GUID
		}

		rawItems = append(rawItems, raw)
	}

	return rawItems
}
