package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/placementbridge/oppengine/internal/middleware"
	"github.com/placementbridge/oppengine/internal/model"
	"github.com/placementbridge/oppengine/internal/search"
)

// stubPinger はDBPingerのテスト用スタブ。
type stubPinger struct {
	err error
}

func (s *stubPinger) PingContext(ctx context.Context) error {
	return s.err
}

func newTestRouter(t *testing.T, pingErr error) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		IngestionRate:   100,
		IngestionBurst:  100,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Logger:      handlerTestLogger(),
		RateLimiter: rl,
		SearchEngine: &stubSearchEngine{
			searchResult: &search.Result{Mode: "basic"},
			stats:        &model.OpportunityStats{},
		},
		IngestionRunner: &stubIngestionRunner{
			runSummary: &model.RunSummary{},
		},
		SourceRegistry:    &stubSourceRegistry{},
		DB:                &stubPinger{err: pingErr},
		EmbeddingsEnabled: false,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	})
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var resp healthResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗しました: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Services["database"] != "connected" {
		t.Errorf("database = %q, want connected", resp.Services["database"])
	}
	if resp.Services["embeddings"] != "not configured" {
		t.Errorf("embeddings = %q, want not configured", resp.Services["embeddings"])
	}
}

func TestRouter_HealthEndpointUnhealthy(t *testing.T) {
	router := newTestRouter(t, errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}

	var resp healthResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗しました: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_RouteDispatch(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"検索", http.MethodGet, "/api/opportunities/search", http.StatusOK},
		{"統計", http.MethodGet, "/api/opportunities/stats", http.StatusOK},
		{"取り込み開始", http.MethodPost, "/api/ingestion/run", http.StatusAccepted},
		{"ソース一覧", http.MethodGet, "/api/ingestion/sources", http.StatusOK},
		{"未定義ルート", http.MethodGet, "/api/unknown", http.StatusNotFound},
		{"メソッド不一致", http.MethodDelete, "/api/opportunities/search", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, nil)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRouter_PanicRecovered(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	// Statsでpanicするエンジンを使用
	router := NewRouter(&RouterDeps{
		Logger:            handlerTestLogger(),
		RateLimiter:       rl,
		SearchEngine:      &panicEngine{},
		IngestionRunner:   &stubIngestionRunner{},
		SourceRegistry:    &stubSourceRegistry{},
		DB:                &stubPinger{},
		EmbeddingsEnabled: false,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/opportunities/stats", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

// panicEngine はpanicリカバリ検証用のエンジン。
type panicEngine struct {
	stubSearchEngine
}

func (p *panicEngine) Stats(ctx context.Context) (*model.OpportunityStats, error) {
	panic("boom")
}
