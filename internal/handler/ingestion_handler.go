package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/placementbridge/oppengine/internal/model"
)

// IngestionRunner は取り込みハンドラーが必要とするパイプラインインターフェース。
type IngestionRunner interface {
	// RunIngestion は全ソースの取り込みを実行する。
	RunIngestion(ctx context.Context) (*model.RunSummary, error)
	// IngestSource は単一URLのフィードを取り込む。未登録URLはソースとして登録される。
	IngestSource(ctx context.Context, name, url string) (*model.SourceResult, error)
}

// SourceRegistry は取り込みハンドラーが必要とするソース管理インターフェース。
// repository.SourceRepositoryを直接変更せず、最小限のインターフェースとして定義する。
type SourceRegistry interface {
	// List は全ソースを登録順に返す。
	List(ctx context.Context) ([]*model.RssSource, error)
	// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.RssSource, error)
	// Create はソースを作成する。
	Create(ctx context.Context, source *model.RssSource) error
}

// CacheInvalidator は取り込み完了後の検索キャッシュ無効化インターフェース。
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context)
}

// IngestionHandler は取り込み管理のHTTPハンドラー。
type IngestionHandler struct {
	runner  IngestionRunner
	sources SourceRegistry
	cache   CacheInvalidator
	logger  *slog.Logger

	// 同一プロセス内の取り込み多重起動ガード。
	// プロセスをまたぐ多重起動は実行ログの時間窓ロックで防止される。
	running atomic.Bool
}

// NewIngestionHandler はIngestionHandlerを生成する。
// cacheはnilを許容する（キャッシュ未構成時）。
func NewIngestionHandler(runner IngestionRunner, sources SourceRegistry, cache CacheInvalidator, logger *slog.Logger) *IngestionHandler {
	return &IngestionHandler{
		runner:  runner,
		sources: sources,
		cache:   cache,
		logger:  logger,
	}
}

// ingestSourceRequest は単一フィード取り込みリクエストのボディ。
type ingestSourceRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// addSourceRequest はソース登録リクエストのボディ。
type addSourceRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	IsActive *bool  `json:"is_active"`
}

// sourceResponse はソース情報のAPIレスポンス。
type sourceResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	URL           string  `json:"url"`
	IsActive      bool    `json:"is_active"`
	LastFetchedAt *string `json:"last_fetched_at"`
	LastError     string  `json:"last_error,omitempty"`
	ItemsCount    int     `json:"items_count"`
}

// sourceResultResponse は1ソース分の取り込み結果のAPIレスポンス。
type sourceResultResponse struct {
	Source   string   `json:"source"`
	Fetched  int      `json:"fetched"`
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// RunIngestion は全ソースの取り込みを非同期で開始する。
// POST /api/ingestion/run
func (h *IngestionHandler) RunIngestion(w http.ResponseWriter, r *http.Request) {
	if !h.running.CompareAndSwap(false, true) {
		writeAPIErrorResponse(w, http.StatusConflict, model.NewRunInProgressError(""))
		return
	}

	// リクエストコンテキストはレスポンス後にキャンセルされるため使用しない
	go func() {
		defer h.running.Store(false)

		summary, err := h.runner.RunIngestion(context.Background())
		if err != nil {
			h.logger.Error("取り込み実行に失敗しました", slog.String("error", err.Error()))
			return
		}
		if summary.Skipped {
			h.logger.Info("直近の実行があるため取り込みをスキップしました")
			return
		}

		if h.cache != nil && summary.TotalInserted > 0 {
			h.cache.InvalidateCache(context.Background())
		}
	}()

	writeJSONResponse(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// IngestSource は単一URLのフィード取り込みを処理する。
// POST /api/ingestion/source
func (h *IngestionHandler) IngestSource(w http.ResponseWriter, r *http.Request) {
	var req ingestSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	if apiErr := validateFeedURL(req.URL); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.runner.IngestSource(r.Context(), req.Name, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.cache != nil && result.Inserted > 0 {
		h.cache.InvalidateCache(r.Context())
	}

	writeJSONResponse(w, http.StatusOK, sourceResultResponse{
		Source:   result.Source,
		Fetched:  result.Fetched,
		Inserted: result.Inserted,
		Skipped:  result.Skipped,
		Failed:   result.Failed,
		Errors:   result.Errors,
	})
}

// ListSources は登録済みソースの一覧を返す。
// GET /api/ingestion/sources
func (h *IngestionHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resps := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		resps = append(resps, toSourceResponse(s))
	}

	writeJSONResponse(w, http.StatusOK, resps)
}

// AddSource は新しいソースを登録する。
// POST /api/ingestion/sources
func (h *IngestionHandler) AddSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	if req.Name == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "ソース名が空です。",
			Category: "validation",
			Action:   "nameフィールドを指定してください。",
		})
		return
	}
	if apiErr := validateFeedURL(req.URL); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	existing, err := h.sources.FindByURL(r.Context(), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if existing != nil {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     "SOURCE_EXISTS",
			Message:  "同じURLのソースが既に登録されています。",
			Category: "ingestion",
			Action:   "既存のソースを確認してください。",
		})
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := time.Now()
	source := &model.RssSource{
		ID:        uuid.NewString(),
		Name:      req.Name,
		URL:       req.URL,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.sources.Create(r.Context(), source); err != nil {
		handleServiceError(w, err)
		return
	}

	h.logger.Info("ソースを登録しました",
		slog.String("name", source.Name),
		slog.String("url", source.URL),
	)

	writeJSONResponse(w, http.StatusCreated, toSourceResponse(source))
}

// validateFeedURL はフィードURLの形式を検証する。
// 実際の到達可能性・SSRF検査はフェッチ時にsafeurlクライアントが行う。
func validateFeedURL(raw string) *model.APIError {
	if raw == "" {
		return model.NewInvalidURLError("URLが空です")
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return model.NewInvalidURLError("URLの形式が不正です")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return model.NewInvalidURLError("http/https以外のスキームは使用できません")
	}

	return nil
}

// toSourceResponse はmodel.RssSourceからAPIレスポンスに変換する。
func toSourceResponse(s *model.RssSource) sourceResponse {
	resp := sourceResponse{
		ID:         s.ID,
		Name:       s.Name,
		URL:        s.URL,
		IsActive:   s.IsActive,
		LastError:  s.LastError,
		ItemsCount: s.ItemsCount,
	}
	if s.LastFetchedAt != nil {
		fetched := s.LastFetchedAt.Format(time.RFC3339)
		resp.LastFetchedAt = &fetched
	}
	return resp
}
