// Package model はドメインモデルを定義する。
package model

import "time"

// RunStatus は取り込み実行の状態を表す。running → completed | failed の一方向遷移。
type RunStatus string

const (
	// RunStatusRunning は実行中の状態。
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted は正常終了した状態（終端）。
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed は異常終了した状態（終端）。
	RunStatusFailed RunStatus = "failed"
)

// IngestionRunLog は1回の取り込み実行の監査レコードを表す。
type IngestionRunLog struct {
	ID            string
	Status        RunStatus
	ItemsFetched  int
	ItemsInserted int
	ItemsSkipped  int
	ItemsFailed   int
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// SourceResult は1ソース分の取り込み結果の集計を表す。
type SourceResult struct {
	Source   string
	Fetched  int
	Inserted int
	Skipped  int
	Failed   int
	Errors   []string
}

// RunSummary は取り込み実行全体の集計を表す。
type RunSummary struct {
	Results             []SourceResult
	TotalFetched        int
	TotalInserted       int
	TotalSkipped        int
	TotalFailed         int
	EmbeddingsGenerated int
	NotificationsQueued int
	Skipped             bool // 直近実行ロックによりスキップされた場合true
}
