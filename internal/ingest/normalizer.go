package ingest

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/placementbridge/oppengine/internal/model"
)

// 正規化で項目をスキップする理由。
var (
	ErrMissingTitle = errors.New("タイトルがありません")
	ErrMissingLink  = errors.New("リンクがありません")
	ErrInvalidLink  = errors.New("リンクが有効なURLではありません")
	ErrItemTooOld   = errors.New("公開日が古すぎます")
	ErrItemExpired  = errors.New("応募期限が過ぎています")
)

// Sanitizer はHTMLのプレーンテキスト化のインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// Normalizer はフィード項目を保存可能な募集情報に正規化する。
// HTML除去、文字数制限、URLの検証と正規化、鮮度チェックを行う。
type Normalizer struct {
	sanitizer            Sanitizer
	classifier           *Classifier
	maxDescriptionLength int
	maxItemAge           time.Duration
}

// NewNormalizer はNormalizerを生成する。
func NewNormalizer(sanitizer Sanitizer, classifier *Classifier, maxDescriptionLength, maxItemAgeDays int) *Normalizer {
	return &Normalizer{
		sanitizer:            sanitizer,
		classifier:           classifier,
		maxDescriptionLength: maxDescriptionLength,
		maxItemAge:           time.Duration(maxItemAgeDays) * 24 * time.Hour,
	}
}

// Normalize はフィード項目を正規化・分類し、未保存の募集情報を返す。
// タイトル・リンクの欠落、不正なURL、古すぎる項目、
// 本文の応募期限が過ぎている項目はエラーでスキップされる。
// 正規化は決定的であり、同一入力には常に同一の結果を返す。
func (n *Normalizer) Normalize(raw model.RawFeedItem, sourceName string) (*model.NewOpportunity, error) {
	title := strings.TrimSpace(n.sanitizer.Sanitize(raw.Title))
	if title == "" {
		return nil, ErrMissingTitle
	}

	link := strings.TrimSpace(raw.Link)
	if link == "" {
		return nil, ErrMissingLink
	}
	parsed, err := url.Parse(link)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, ErrInvalidLink
	}
	link = cleanURL(parsed)

	if raw.PublishedAt != nil && time.Since(*raw.PublishedAt) > n.maxItemAge {
		return nil, ErrItemTooOld
	}

	description := truncateAtWord(n.sanitizer.Sanitize(raw.Description), n.maxDescriptionLength)

	if deadlinePassed(title, description, time.Now()) {
		return nil, ErrItemExpired
	}

	// 掲載元はdc:creatorを優先し、なければソース名を使う
	organization := strings.TrimSpace(raw.Creator)
	if organization == "" {
		organization = sourceName
	}

	cls := n.classifier.Classify(title, description)

	return &model.NewOpportunity{
		Title:        title,
		Organization: organization,
		Description:  description,
		URL:          link,
		Source:       sourceName,
		Type:         cls.Type,
		Field:        cls.Field,
		Country:      cls.Country,
		PublishedAt:  raw.PublishedAt,
	}, nil
}

// deadlinePatterns は本文中の応募期限表記。先頭から順に照合する。
var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)deadline:\s*(\w+\s+\d{1,2},?\s+\d{4})`),
	regexp.MustCompile(`(?i)closes?\s+on\s+(\w+\s+\d{1,2},?\s+\d{4})`),
	regexp.MustCompile(`(?i)apply\s+by\s+(\w+\s+\d{1,2},?\s+\d{4})`),
}

// deadlineLayouts は期限表記として受け付ける日付フォーマット。
var deadlineLayouts = []string{
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
}

// deadlinePassed はタイトルと説明文から応募期限表記を探し、期限超過かを判定する。
// 日付として解釈できない表記は無視する。
func deadlinePassed(title, description string, now time.Time) bool {
	text := title + " " + description
	for _, pattern := range deadlinePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if deadline, ok := parseDeadline(m[1]); ok && deadline.Before(now) {
			return true
		}
	}
	return false
}

// parseDeadline は期限表記の日付文字列を解釈する。
// 月名の大文字小文字は揃えてから照合する。
func parseDeadline(s string) (time.Time, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	r, size := utf8.DecodeRuneInString(s)
	if r != utf8.RuneError {
		s = string(unicode.ToUpper(r)) + s[size:]
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// trackingParams は重複排除の妨げになるトラッキング用クエリパラメータ。
var trackingParams = []string{"fbclid", "gclid", "mc_cid", "mc_eid", "ref"}

// cleanURL はURLからトラッキングパラメータと末尾スラッシュを除去する。
// 同一記事が異なるトラッキング付きURLで再配信されても同じURLに正規化される。
func cleanURL(parsed *url.URL) string {
	query := parsed.Query()
	for key := range query {
		if strings.HasPrefix(key, "utm_") {
			query.Del(key)
			continue
		}
		for _, p := range trackingParams {
			if key == p {
				query.Del(key)
				break
			}
		}
	}
	parsed.RawQuery = query.Encode()
	parsed.Fragment = ""
	if len(parsed.Path) > 1 && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
		parsed.RawPath = ""
	}
	return parsed.String()
}

// truncateAtWord は文字列を最大バイト長で切り詰める。
// 単語の途中で切れないよう、直近の空白位置まで戻す。
func truncateAtWord(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]
	if idx := strings.LastIndex(truncated, " "); idx > maxLen/2 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
