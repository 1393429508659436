// Package model はドメインモデルを定義する。
package model

import "time"

// NotificationChannel は通知の配信チャネルを表す。
type NotificationChannel string

const (
	ChannelInApp NotificationChannel = "in_app"
	ChannelEmail NotificationChannel = "email"
	ChannelPush  NotificationChannel = "push"
)

// SubscriptionCriteria は購読の絞り込み条件を表す。
// 各リストは「いずれかに一致」で評価され、未設定のリストは常にマッチする。
type SubscriptionCriteria struct {
	Types     []OpportunityType `json:"types,omitempty"`
	Fields    []string          `json:"fields,omitempty"`
	Countries []string          `json:"countries,omitempty"`
	Keywords  []string          `json:"keywords,omitempty"`
}

// Subscription はユーザーが保存した通知条件を表す。
// 本コアからは読み取り専用（作成・更新はUI側の責務）。
type Subscription struct {
	ID        string
	UserID    string
	Criteria  SubscriptionCriteria
	Channels  []NotificationChannel
	IsActive  bool
	CreatedAt time.Time
}

// SubscriptionMatch は1購読とそれにマッチした新着募集情報の組を表す。
type SubscriptionMatch struct {
	Subscription  *Subscription
	Opportunities []*Opportunity
}
