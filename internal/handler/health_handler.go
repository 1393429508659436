package handler

import (
	"context"
	"net/http"
	"time"
)

// DBPinger はヘルスチェックが必要とするDB疎通確認インターフェース。
// *sql.DBがそのまま満たす。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db                DBPinger
	embeddingsEnabled bool
	startedAt         time.Time
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db DBPinger, embeddingsEnabled bool) *HealthHandler {
	return &HealthHandler{
		db:                db,
		embeddingsEnabled: embeddingsEnabled,
		startedAt:         time.Now(),
	}
}

// healthResponse はヘルスチェックAPIのレスポンス。
type healthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Services      map[string]string `json:"services"`
}

// Health はサービス全体のヘルスチェックを処理する。
// DBに到達できない場合は503を返す。埋め込みAPI未構成は劣化動作であり健全とみなす。
// GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbStatus := "connected"
	healthy := true
	if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "disconnected"
		healthy = false
	}

	embeddingsStatus := "available"
	if !h.embeddingsEnabled {
		embeddingsStatus = "not configured"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthResponse{
		Status:        status,
		Timestamp:     time.Now().Format(time.RFC3339),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Services: map[string]string{
			"database":   dbStatus,
			"embeddings": embeddingsStatus,
		},
	})
}
