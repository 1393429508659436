package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/placementbridge/oppengine/internal/model"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>Opportunity Desk</title>
    <item>
      <title>Software Engineering Internship 2026</title>
      <link>https://example.com/internship</link>
      <description>&lt;p&gt;Remote internship for developers&lt;/p&gt;</description>
      <dc:creator>UNDP Careers</dc:creator>
      <pubDate>Mon, 10 Aug 2026 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Mastercard Foundation Scholarship</title>
      <link>https://example.com/scholarship</link>
      <description>Fully funded scholarship</description>
    </item>
  </channel>
</rss>`

// stubSSRFGuard はテスト用のSSRF検証スタブ。
// httptestサーバーはループバックで動作するため、実際のsafeurlクライアントは使えない。
type stubSSRFGuard struct {
	validateErr error
}

func (s *stubSSRFGuard) ValidateURL(rawURL string) error {
	return s.validateErr
}

func (s *stubSSRFGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func newTestFetcher(guard SSRFValidator) *Fetcher {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewFetcher(guard, logger, 5*time.Second, 10*1024*1024, 3)
}

func TestFetchURL_ParsesItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "OpportunityBot/1.0") {
			t.Errorf("User-Agentが不正: %q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, sampleRSS)
	}))
	defer server.Close()

	fetcher := newTestFetcher(&stubSSRFGuard{})
	items, err := fetcher.FetchURL(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("FetchURLに失敗: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("項目数が不正: got %d, want 2", len(items))
	}

	first := items[0]
	if first.Title != "Software Engineering Internship 2026" {
		t.Errorf("タイトルが不正: %q", first.Title)
	}
	if first.Link != "https://example.com/internship" {
		t.Errorf("リンクが不正: %q", first.Link)
	}
	if first.Creator != "UNDP Careers" {
		t.Errorf("Creatorが不正: %q", first.Creator)
	}
	if first.PublishedAt == nil {
		t.Error("公開日時がパースされていません")
	}

	second := items[1]
	if second.PublishedAt != nil {
		t.Errorf("公開日時のない項目にPublishedAtが設定されています: %v", second.PublishedAt)
	}
}

func TestFetchURL_NoRetryOn404(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := newTestFetcher(&stubSSRFGuard{})
	_, err := fetcher.FetchURL(context.Background(), server.URL)
	if err == nil {
		t.Fatal("404でエラーが返りませんでした")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("404はリトライ対象外のはず: リクエスト数 %d, want 1", got)
	}
}

func TestFetchURL_RetriesOn500ThenSucceeds(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, sampleRSS)
	}))
	defer server.Close()

	fetcher := newTestFetcher(&stubSSRFGuard{})
	items, err := fetcher.FetchURL(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("リトライ後の成功が返りませんでした: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("項目数が不正: got %d, want 2", len(items))
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("リクエスト数が不正: got %d, want 3", got)
	}
}

func TestFetchURL_NoRetryOnParseFailure(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		io.WriteString(w, "this is not xml at all")
	}))
	defer server.Close()

	fetcher := newTestFetcher(&stubSSRFGuard{})
	_, err := fetcher.FetchURL(context.Background(), server.URL)
	if err == nil {
		t.Fatal("パース失敗でエラーが返りませんでした")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("パース失敗はリトライ対象外のはず: リクエスト数 %d, want 1", got)
	}
}

func TestFetchURL_SSRFBlocked(t *testing.T) {
	fetcher := newTestFetcher(&stubSSRFGuard{validateErr: errors.New("blocked")})

	_, err := fetcher.FetchURL(context.Background(), "http://169.254.169.254/latest/meta-data")
	if err == nil {
		t.Fatal("SSRF検証エラーが返りませんでした")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorではないエラーが返りました: %v", err)
	}
	if apiErr.Code != model.ErrCodeSSRFBlocked {
		t.Errorf("エラーコードが不正: got %q, want %q", apiErr.Code, model.ErrCodeSSRFBlocked)
	}
}

func TestFetchURL_ContextCancelDuringRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	fetcher := newTestFetcher(&stubSSRFGuard{})
	_, err := fetcher.FetchURL(ctx, server.URL)
	if err == nil {
		t.Fatal("コンテキストキャンセルでエラーが返りませんでした")
	}
}
