// Package model はドメインモデルを定義する。
package model

import "time"

// Opportunity は取り込み済みの募集情報（求人・奨学金など）を表す。
// urlが自然キーであり、同一URLの再取り込みはno-opとなる。
type Opportunity struct {
	ID           string
	Title        string
	Organization string
	Description  string
	URL          string
	Source       string
	Type         OpportunityType
	Field        string
	Country      string
	PublishedAt  *time.Time
	Embedding    []float32 // セマンティック検索用ベクトル（未生成時はnil）
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OpportunityType は募集情報の種別を表す。
type OpportunityType string

const (
	TypeJob         OpportunityType = "job"
	TypeInternship  OpportunityType = "internship"
	TypeScholarship OpportunityType = "scholarship"
	TypeFellowship  OpportunityType = "fellowship"
	TypeTraining    OpportunityType = "training"
	TypeGrant       OpportunityType = "grant"
	TypeCompetition OpportunityType = "competition"
	TypeVolunteer   OpportunityType = "volunteer"
	TypeConference  OpportunityType = "conference"
	TypeOther       OpportunityType = "other"
)

// FieldGeneral は分野が特定できない場合のフォールバック値。
const FieldGeneral = "General"

// CountryGlobal は国が特定できない場合のフォールバック値。
const CountryGlobal = "Global"

// NewOpportunity は正規化・分類済みの未保存の募集情報を表す。
// パイプラインがフィードから生成し、ゲートウェイに渡される。
type NewOpportunity struct {
	Title        string
	Organization string
	Description  string
	URL          string
	Source       string
	Type         OpportunityType
	Field        string
	Country      string
	PublishedAt  *time.Time
}

// RawFeedItem はフィードパーサーから取得した未加工の記事データを表す。
type RawFeedItem struct {
	Title       string
	Link        string
	Description string
	Creator     string
	PublishedAt *time.Time
}
