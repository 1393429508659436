package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/placementbridge/oppengine/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// 検索
	SearchEngine SearchEngineInterface

	// 取り込み
	IngestionRunner IngestionRunner
	SourceRegistry  SourceRegistry
	Cache           CacheInvalidator // nil可

	// ヘルスチェック
	DB                DBPinger
	EmbeddingsEnabled bool

	// Prometheusスクレイプ用ハンドラー
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → RateLimit(General)
//
// ヘルスチェックとメトリクスはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	searchHandler := NewSearchHandler(deps.SearchEngine)
	ingestionHandler := NewIngestionHandler(deps.IngestionRunner, deps.SourceRegistry, deps.Cache, deps.Logger)
	healthHandler := NewHealthHandler(deps.DB, deps.EmbeddingsEnabled)

	// --- 監視用ルート（レート制限の対象外） ---

	r.Get("/api/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 検索
		r.Route("/api/opportunities", func(r chi.Router) {
			r.Get("/search", searchHandler.SearchOpportunities)
			r.Get("/stats", searchHandler.GetStats)
			r.Get("/{id}/related", searchHandler.GetRelated)
		})

		// チャット検索
		r.Post("/api/chat/search", searchHandler.ChatSearch)

		// 取り込み管理（トリガー系には取り込み専用レート制限を追加）
		r.Route("/api/ingestion", func(r chi.Router) {
			r.With(deps.RateLimiter.IngestionMiddleware()).Post("/run", ingestionHandler.RunIngestion)
			r.With(deps.RateLimiter.IngestionMiddleware()).Post("/source", ingestionHandler.IngestSource)

			r.Get("/sources", ingestionHandler.ListSources)
			r.Post("/sources", ingestionHandler.AddSource)
		})
	})

	return r
}
