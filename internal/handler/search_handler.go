// Package handler は検索・取り込みAPIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/placementbridge/oppengine/internal/model"
	"github.com/placementbridge/oppengine/internal/search"
)

// 検索パラメータのデフォルトと上限。
const (
	defaultSearchLimit  = 20
	maxSearchLimit      = 100
	defaultRelatedLimit = 5
	maxRelatedLimit     = 20
)

// SearchEngineInterface は検索ハンドラーが必要とするエンジンインターフェース。
type SearchEngineInterface interface {
	// Search はフィルタ付き検索を実行する。
	Search(ctx context.Context, params model.SearchParams) (*search.Result, error)
	// SearchForChat は自然言語メッセージから検索意図を抽出して検索する。
	SearchForChat(ctx context.Context, message string, opts model.SearchParams) (*search.ChatResult, error)
	// GetRelated は指定IDの募集情報に類似する募集情報を返す。
	GetRelated(ctx context.Context, id string, limit int) ([]model.SearchResult, error)
	// Stats は募集情報の統計を返す。
	Stats(ctx context.Context) (*model.OpportunityStats, error)
}

// SearchHandler は検索APIのHTTPハンドラー。
type SearchHandler struct {
	engine SearchEngineInterface
}

// NewSearchHandler はSearchHandlerを生成する。
func NewSearchHandler(engine SearchEngineInterface) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// opportunityResponse は募集情報1件のAPIレスポンス。
type opportunityResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Organization string  `json:"organization"`
	Description  string  `json:"description"`
	URL          string  `json:"url"`
	Source       string  `json:"source"`
	Type         string  `json:"type"`
	Field        string  `json:"field"`
	Country      string  `json:"country"`
	PublishedAt  *string `json:"published_at"`
	VectorScore  float64 `json:"vector_score,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	HybridScore  float64 `json:"hybrid_score,omitempty"`
}

// searchResponse は検索APIのレスポンス。
type searchResponse struct {
	Items   []opportunityResponse `json:"items"`
	Mode    string                `json:"mode"`
	Count   int                   `json:"count"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
	Query   string                `json:"query,omitempty"`
	Filters *detectedFilters      `json:"detected_filters,omitempty"`
}

// detectedFilters はクエリから抽出された検索条件。
type detectedFilters struct {
	Type    string `json:"type,omitempty"`
	Field   string `json:"field,omitempty"`
	Country string `json:"country,omitempty"`
}

// chatSearchRequest はチャット検索リクエストのボディ。
type chatSearchRequest struct {
	Query   string `json:"query"`
	Type    string `json:"type"`
	Field   string `json:"field"`
	Country string `json:"country"`
	Limit   int    `json:"limit"`
}

// chatSearchResponse はチャット検索APIのレスポンス。
type chatSearchResponse struct {
	Reply  string                `json:"reply"`
	Items  []opportunityResponse `json:"items"`
	Mode   string                `json:"mode"`
	Intent detectedFilters       `json:"intent"`
}

// statsResponse は統計APIのレスポンス。
type statsResponse struct {
	Total          int            `json:"total"`
	WithEmbeddings int            `json:"with_embeddings"`
	ByType         map[string]int `json:"by_type"`
	ByCountry      map[string]int `json:"by_country"`
}

// SearchOpportunities はフィルタ付き検索を処理する。
// GET /api/opportunities/search
func (h *SearchHandler) SearchOpportunities(w http.ResponseWriter, r *http.Request) {
	params, apiErr := parseSearchParams(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.engine.Search(r.Context(), params)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := searchResponse{
		Items:  toOpportunityResponses(result.Items),
		Mode:   result.Mode,
		Count:  len(result.Items),
		Limit:  params.Limit,
		Offset: params.Offset,
		Query:  params.Query,
	}

	// クエリがある場合は抽出された検索条件も返す
	if params.Query != "" {
		intent := search.ParseSearchIntent(params.Query)
		if intent.Type != "" || intent.Field != "" || intent.Country != "" {
			resp.Filters = &detectedFilters{
				Type:    string(intent.Type),
				Field:   intent.Field,
				Country: intent.Country,
			}
		}
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// ChatSearch は自然言語メッセージによる検索を処理する。
// POST /api/chat/search
func (h *SearchHandler) ChatSearch(w http.ResponseWriter, r *http.Request) {
	var req chatSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	if req.Query == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidSearch,
			Message:  "検索メッセージが空です。",
			Category: "validation",
			Action:   "queryフィールドに検索したい内容を指定してください。",
		})
		return
	}

	opts := model.SearchParams{
		Type:    model.OpportunityType(req.Type),
		Field:   req.Field,
		Country: req.Country,
		Limit:   req.Limit,
	}
	if opts.Limit <= 0 || opts.Limit > maxSearchLimit {
		opts.Limit = defaultSearchLimit
	}

	result, err := h.engine.SearchForChat(r.Context(), req.Query, opts)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, chatSearchResponse{
		Reply: result.Reply,
		Items: toOpportunityResponses(result.Items),
		Mode:  result.Mode,
		Intent: detectedFilters{
			Type:    string(result.Intent.Type),
			Field:   result.Intent.Field,
			Country: result.Intent.Country,
		},
	})
}

// GetRelated は類似募集情報の取得を処理する。
// GET /api/opportunities/:id/related
func (h *SearchHandler) GetRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := defaultRelatedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRelatedLimit {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     model.ErrCodeInvalidSearch,
				Message:  "limitパラメータが不正です。",
				Category: "validation",
				Action:   "1〜20の整数を指定してください。",
			})
			return
		}
		limit = n
	}

	items, err := h.engine.GetRelated(r.Context(), id, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, searchResponse{
		Items: toOpportunityResponses(items),
		Mode:  "related",
		Count: len(items),
		Limit: limit,
	})
}

// GetStats は募集情報の統計取得を処理する。
// GET /api/opportunities/stats
func (h *SearchHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, statsResponse{
		Total:          stats.Total,
		WithEmbeddings: stats.WithEmbeddings,
		ByType:         stats.ByType,
		ByCountry:      stats.ByCountry,
	})
}

// parseSearchParams はクエリパラメータから検索条件を組み立てる。
// queryとkeywordはエイリアスとして扱う。
func parseSearchParams(r *http.Request) (model.SearchParams, *model.APIError) {
	q := r.URL.Query()

	query := q.Get("query")
	if query == "" {
		query = q.Get("keyword")
	}

	params := model.SearchParams{
		Query:   query,
		Field:   q.Get("field"),
		Country: q.Get("country"),
		Limit:   defaultSearchLimit,
	}

	if raw := q.Get("type"); raw != "" {
		oppType := model.OpportunityType(raw)
		if !isValidOpportunityType(oppType) {
			return params, &model.APIError{
				Code:     model.ErrCodeInvalidSearch,
				Message:  "typeパラメータが不正です。",
				Category: "validation",
				Action:   "job, internship, scholarship などの有効な種別を指定してください。",
			}
		}
		params.Type = oppType
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			return params, &model.APIError{
				Code:     model.ErrCodeInvalidSearch,
				Message:  "limitパラメータが不正です。",
				Category: "validation",
				Action:   "1〜100の整数を指定してください。",
			}
		}
		params.Limit = n
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return params, &model.APIError{
				Code:     model.ErrCodeInvalidSearch,
				Message:  "offsetパラメータが不正です。",
				Category: "validation",
				Action:   "0以上の整数を指定してください。",
			}
		}
		params.Offset = n
	}

	return params, nil
}

// isValidOpportunityType は種別が定義済みの値かを判定する。
func isValidOpportunityType(t model.OpportunityType) bool {
	switch t {
	case model.TypeJob, model.TypeInternship, model.TypeScholarship,
		model.TypeFellowship, model.TypeTraining, model.TypeGrant,
		model.TypeCompetition, model.TypeVolunteer, model.TypeConference,
		model.TypeOther:
		return true
	}
	return false
}

// toOpportunityResponses はmodel.SearchResultのスライスをAPIレスポンスに変換する。
func toOpportunityResponses(items []model.SearchResult) []opportunityResponse {
	resps := make([]opportunityResponse, 0, len(items))
	for _, item := range items {
		resp := opportunityResponse{
			ID:           item.ID,
			Title:        item.Title,
			Organization: item.Organization,
			Description:  item.Description,
			URL:          item.URL,
			Source:       item.Source,
			Type:         string(item.Type),
			Field:        item.Field,
			Country:      item.Country,
			VectorScore:  item.VectorScore,
			KeywordScore: item.KeywordScore,
			HybridScore:  item.HybridScore,
		}
		if item.PublishedAt != nil {
			published := item.PublishedAt.Format(time.RFC3339)
			resp.PublishedAt = &published
		}
		resps = append(resps, resp)
	}
	return resps
}

// --- 共通ヘルパー ---

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONResponse(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// invalidRequestBodyError はリクエストボディ解析失敗のAPIErrorを返す。
func invalidRequestBodyError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidSearch:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeSourceNotFound, model.ErrCodeOpportunityMiss:
		return http.StatusNotFound
	case model.ErrCodeRunInProgress, "SOURCE_EXISTS":
		return http.StatusConflict
	case model.ErrCodeEmbeddingMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
