// Package model はドメインモデルを定義する。
package model

import "time"

// NotificationStatus は通知の配信状態を表す。pending → sent | failed の一方向遷移。
type NotificationStatus string

const (
	// NotificationStatusPending は配信待ちの状態。
	NotificationStatusPending NotificationStatus = "pending"
	// NotificationStatusSent は配信済みの状態（終端）。再送は行わない。
	NotificationStatusSent NotificationStatus = "sent"
	// NotificationStatusFailed は配信失敗の状態（終端）。リトライは外部スケジューラの責務。
	NotificationStatusFailed NotificationStatus = "failed"
)

// Notification は購読×チャネルごとに1件作成される配信レコードを表す。
// OpportunityIDはマッチした募集情報のうち代表1件のみを参照する。
type Notification struct {
	ID             string
	UserID         string
	SubscriptionID string
	OpportunityID  string
	Channel        NotificationChannel
	Status         NotificationStatus
	SentAt         *time.Time
	ErrorMessage   string
	CreatedAt      time.Time
}

// PendingNotification は配信処理用に募集情報を結合した通知レコードを表す。
type PendingNotification struct {
	Notification
	Opportunity *Opportunity
}
