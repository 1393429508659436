// Package search は募集情報の検索エンジンを提供する。
//
// 検索はハイブリッド検索（ベクトル類似度 + 全文検索）を基本とし、
// 埋め込みが使えない場合やヒットがない場合はキーワード検索、
// 最終的にはILIKEによる基本検索へ段階的にフォールバックする。
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/placementbridge/oppengine/internal/embedding"
	"github.com/placementbridge/oppengine/internal/metrics"
	"github.com/placementbridge/oppengine/internal/model"
	"github.com/placementbridge/oppengine/internal/repository"
)

// 検索経路ごとの類似度の足切り値。
const (
	semanticThreshold = 0.5
	hybridThreshold   = 0.3
)

// 検索経路の識別子。レスポンスのメタ情報とメトリクスのラベルに使う。
const (
	ModeListing = "listing"
	ModeHybrid  = "hybrid"
	ModeKeyword = "keyword"
	ModeBasic   = "basic"
)

// Result は検索結果と使用した検索経路を表す。
type Result struct {
	Items []model.SearchResult `json:"items"`
	Mode  string               `json:"mode"`
}

// Engine は段階的フォールバック付きの検索エンジン。
type Engine struct {
	repo     repository.OpportunityRepository
	embedder embedding.Embedder
	cache    *Cache
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewEngine はEngineを生成する。
// embedderがnilの場合はハイブリッド検索をスキップし、
// cacheがnilの場合はキャッシュなしで動作する。
func NewEngine(
	repo repository.OpportunityRepository,
	embedder embedding.Embedder,
	cache *Cache,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		repo:     repo,
		embedder: embedder,
		cache:    cache,
		metrics:  collector,
		logger:   logger,
	}
}

// Search は検索パラメータに応じて最適な検索経路を選択して実行する。
//
// クエリが空の場合はフィルタ条件のみの一覧を返す。
// クエリがある場合はハイブリッド検索 → キーワード検索 → 基本検索の順に
// 試行し、結果が得られた時点の経路で返す。
func (e *Engine) Search(ctx context.Context, params model.SearchParams) (*Result, error) {
	start := time.Now()
	defer func() {
		e.metrics.RecordSearchLatency(time.Since(start))
	}()

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, params); ok {
			return cached, nil
		}
	}

	result, err := e.search(ctx, params)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordSearch(result.Mode)
	if e.cache != nil {
		e.cache.Set(ctx, params, result)
	}
	return result, nil
}

func (e *Engine) search(ctx context.Context, params model.SearchParams) (*Result, error) {
	if strings.TrimSpace(params.Query) == "" {
		items, err := e.repo.List(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("募集情報の一覧取得に失敗しました: %w", err)
		}
		return &Result{Items: items, Mode: ModeListing}, nil
	}

	if e.embedder != nil {
		if items, ok := e.hybridSearch(ctx, params); ok {
			return &Result{Items: items, Mode: ModeHybrid}, nil
		}
	}

	items, err := e.repo.KeywordSearch(ctx, params)
	if err != nil {
		e.logger.Warn("キーワード検索に失敗しました", slog.String("error", err.Error()))
	} else if len(items) > 0 {
		return &Result{Items: items, Mode: ModeKeyword}, nil
	}

	items, err = e.repo.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("基本検索に失敗しました: %w", err)
	}
	return &Result{Items: items, Mode: ModeBasic}, nil
}

// hybridSearch はハイブリッド検索を試行する。
// 埋め込み生成や検索の失敗、ヒットなしの場合はfalseを返して
// 次の検索経路に委ねる。
func (e *Engine) hybridSearch(ctx context.Context, params model.SearchParams) ([]model.SearchResult, bool) {
	vector, err := e.embedder.EmbedText(ctx, params.Query)
	if err != nil {
		e.logger.Warn("クエリの埋め込み生成に失敗しました", slog.String("error", err.Error()))
		return nil, false
	}

	items, err := e.repo.HybridSearch(ctx, vector, params, hybridThreshold)
	if err != nil {
		e.logger.Warn("ハイブリッド検索に失敗しました", slog.String("error", err.Error()))
		return nil, false
	}
	if len(items) == 0 {
		return nil, false
	}
	return items, true
}

// SemanticSearch は埋め込みベクトルのみによる類似検索を実行する。
func (e *Engine) SemanticSearch(ctx context.Context, params model.SearchParams) ([]model.SearchResult, error) {
	if e.embedder == nil {
		return nil, model.NewEmbeddingUnavailableError()
	}

	vector, err := e.embedder.EmbedText(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("クエリの埋め込み生成に失敗しました: %w", err)
	}

	items, err := e.repo.SemanticSearch(ctx, vector, params, semanticThreshold)
	if err != nil {
		return nil, fmt.Errorf("セマンティック検索に失敗しました: %w", err)
	}
	return items, nil
}

// GetRelated は指定募集情報に関連する募集情報を返す。
func (e *Engine) GetRelated(ctx context.Context, id string, limit int) ([]model.SearchResult, error) {
	opp, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("募集情報の取得に失敗しました: %w", err)
	}
	if opp == nil {
		return nil, model.NewOpportunityNotFoundError(id)
	}

	items, err := e.repo.FindRelated(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("関連募集情報の取得に失敗しました: %w", err)
	}
	return items, nil
}

// Stats は募集情報の統計を返す。
func (e *Engine) Stats(ctx context.Context) (*model.OpportunityStats, error) {
	stats, err := e.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("統計の取得に失敗しました: %w", err)
	}
	return stats, nil
}

// InvalidateCache は検索キャッシュを無効化する。
// 取り込みで新しい募集情報が挿入された後に呼ばれる。キャッシュなしの
// 構成では何もしない。
func (e *Engine) InvalidateCache(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx); err != nil {
		e.logger.Warn("検索キャッシュの無効化に失敗しました", slog.String("error", err.Error()))
	}
}
