package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/placementbridge/oppengine/internal/model"
)

// chatMaxDisplay はチャット返信に整形する結果の最大件数。
const chatMaxDisplay = 5

// ChatResult は自然言語検索の結果を表す。
// Replyはそのままチャット画面に表示できるMarkdownテキスト。
type ChatResult struct {
	Reply  string               `json:"reply"`
	Intent model.SearchIntent   `json:"intent"`
	Items  []model.SearchResult `json:"items"`
	Mode   string               `json:"mode"`
}

// SearchForChat は自然言語メッセージから検索意図を抽出して検索し、
// チャット表示用に整形した結果を返す。
// optsで明示されたフィルタは抽出された意図より優先される。
func (e *Engine) SearchForChat(ctx context.Context, message string, opts model.SearchParams) (*ChatResult, error) {
	intent := ParseSearchIntent(message)

	params := model.SearchParams{
		Query:   intent.Keywords,
		Type:    intent.Type,
		Field:   intent.Field,
		Country: intent.Country,
		Limit:   opts.Limit,
	}
	if params.Query == "" && intent.Type == "" && intent.Country == "" && intent.Field == "" {
		params.Query = strings.TrimSpace(message)
	}
	if opts.Type != "" {
		params.Type = opts.Type
	}
	if opts.Field != "" {
		params.Field = opts.Field
	}
	if opts.Country != "" {
		params.Country = opts.Country
	}

	e.logger.Info("チャット検索を実行します",
		slog.String("message", message),
		slog.String("keywords", params.Query),
		slog.String("type", string(params.Type)),
		slog.String("field", params.Field),
		slog.String("country", params.Country),
	)

	result, err := e.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		Reply:  formatChatReply(result.Items),
		Intent: intent,
		Items:  result.Items,
		Mode:   result.Mode,
	}, nil
}

// formatChatReply は検索結果をチャット表示用のMarkdownに整形する。
func formatChatReply(items []model.SearchResult) string {
	if len(items) == 0 {
		return "No opportunities found matching your criteria. Try broadening your search or using different keywords."
	}

	display := items
	if len(display) > chatMaxDisplay {
		display = display[:chatMaxDisplay]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d opportunities. Here are the top %d:\n\n", len(items), len(display))

	for i, item := range display {
		similarity := ""
		if score := bestScore(item); score > 0 {
			similarity = fmt.Sprintf(" (%d%% match)", int(score*100+0.5))
		}
		fmt.Fprintf(&b, "**%d. %s**%s\n", i+1, item.Title, similarity)

		if item.Organization != "" {
			fmt.Fprintf(&b, "   🏢 %s\n", item.Organization)
		}

		var details []string
		if item.Type != "" {
			details = append(details, "📋 "+capitalizeFirst(string(item.Type)))
		}
		if item.Field != "" {
			details = append(details, "🎯 "+item.Field)
		}
		if item.Country != "" {
			details = append(details, "📍 "+item.Country)
		}
		if len(details) > 0 {
			fmt.Fprintf(&b, "   %s\n", strings.Join(details, " | "))
		}

		if item.Description != "" {
			fmt.Fprintf(&b, "   %s\n", descriptionSnippet(item.Description, 150))
		}

		fmt.Fprintf(&b, "   🔗 [Read more](%s)\n\n", item.URL)
	}

	if len(items) > chatMaxDisplay {
		fmt.Fprintf(&b, "_... and %d more opportunities._", len(items)-chatMaxDisplay)
	}

	return b.String()
}

// bestScore は検索経路に応じて埋まっているスコアのうち代表値を返す。
func bestScore(item model.SearchResult) float64 {
	if item.HybridScore > 0 {
		return item.HybridScore
	}
	if item.VectorScore > 0 {
		return item.VectorScore
	}
	return item.KeywordScore
}

// descriptionSnippet は説明文の先頭をルーン境界で切り出す。
func descriptionSnippet(description string, maxLen int) string {
	runes := []rune(description)
	if len(runes) <= maxLen {
		return description
	}
	return string(runes[:maxLen]) + "..."
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
