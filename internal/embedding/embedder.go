// Package embedding は募集情報の埋め込みベクトル生成を提供する。
//
// OpenAI互換APIで生成したベクトルはセマンティック検索とハイブリッド検索、
// および関連募集情報の推薦に使用される。APIキーが設定されていない場合、
// 埋め込み生成はスキップされ、検索はキーワード検索にフォールバックする。
package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder はテキストの埋め込みベクトル生成のインターフェース。
type Embedder interface {
	// EmbedText は単一テキストの埋め込みベクトルを生成する。
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts は複数テキストの埋め込みベクトルをまとめて生成する。
	// 戻り値のベクトル数と順序は入力テキストに対応する。
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// openAIEmbedder はlangchaingo経由でOpenAI互換APIを呼ぶEmbedderの実装。
type openAIEmbedder struct {
	embedder embeddings.Embedder
}

// インターフェース実装のコンパイル時チェック
var _ Embedder = (*openAIEmbedder)(nil)

// NewOpenAIEmbedder はOpenAI互換APIを使うEmbedderを生成する。
func NewOpenAIEmbedder(apiKey, model string) (Embedder, error) {
	client, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("OpenAIクライアントの作成に失敗しました: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("埋め込みクライアントの作成に失敗しました: %w", err)
	}

	return &openAIEmbedder{embedder: embedder}, nil
}

// EmbedText は単一テキストの埋め込みベクトルを生成する。
func (e *openAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("埋め込みの生成に失敗しました: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("埋め込みAPIが空の結果を返しました")
	}
	return vectors[0], nil
}

// EmbedTexts は複数テキストの埋め込みベクトルをまとめて生成する。
func (e *openAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("埋め込みの一括生成に失敗しました: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("埋め込みAPIの結果数が入力数と一致しません: got %d, want %d", len(vectors), len(texts))
	}
	return vectors, nil
}
