// Package model はドメインモデルを定義する。
package model

import "time"

// RssSource は設定済みのフィードソースを表す。
// フェッチ試行のたびにステータス（最終取得時刻・エラー）が更新される。
type RssSource struct {
	ID            string
	Name          string
	URL           string
	IsActive      bool
	LastFetchedAt *time.Time
	LastError     string
	ItemsCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SourceStatus はフェッチ試行後にソースへ記録するステータス更新を表す。
type SourceStatus struct {
	LastFetchedAt time.Time
	LastError     string
	ItemsCount    int
}
