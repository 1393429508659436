// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/placementbridge/oppengine/internal/model"
)

// OpportunityRepository は募集情報の永続化インターフェース。
// 取り込み時の重複排除、埋め込みベクトル管理、各種検索を提供する。
type OpportunityRepository interface {
	// FindByID は指定IDの募集情報を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Opportunity, error)

	// FindByIDs は指定ID群の募集情報を取得する。存在しないIDは無視される。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Opportunity, error)

	// ExistingURLs は指定URL群のうちデータベースに既に存在するものを返す。
	// URLはチャンク単位で照会し、チャンクの照会に失敗した場合は
	// そのチャンクのURLを「未登録」として扱う（挿入時のユニーク制約が最終防衛線）。
	ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error)

	// BulkInsert は募集情報をチャンク単位で一括挿入し、実際に挿入された行のIDを返す。
	// URLが衝突した行はスキップされ、返却IDにも含まれない。
	BulkInsert(ctx context.Context, opps []*model.Opportunity) ([]string, error)

	// ListWithoutEmbeddings は埋め込みベクトル未生成の募集情報を新しい順に返す。
	ListWithoutEmbeddings(ctx context.Context, limit int) ([]*model.Opportunity, error)

	// UpdateEmbedding は募集情報の埋め込みベクトルを更新する。
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error

	// SemanticSearch は埋め込みベクトルのコサイン類似度で検索する。
	// 類似度がthreshold未満の行は除外される。
	SemanticSearch(ctx context.Context, embedding []float32, params model.SearchParams, threshold float64) ([]model.SearchResult, error)

	// HybridSearch はベクトル類似度と全文検索スコアを加重合成して検索する。
	// 合成スコアがthreshold未満の行は除外される。
	HybridSearch(ctx context.Context, embedding []float32, params model.SearchParams, threshold float64) ([]model.SearchResult, error)

	// KeywordSearch はtsvectorの全文検索のみで検索する。
	KeywordSearch(ctx context.Context, params model.SearchParams) ([]model.SearchResult, error)

	// List はフィルタ条件による一覧を新しい順に返す。
	// Queryが指定された場合はタイトルと説明のILIKE部分一致で絞り込む。
	List(ctx context.Context, params model.SearchParams) ([]model.SearchResult, error)

	// FindRelated は指定募集情報とベクトル類似度の高い募集情報を返す。
	// 対象の埋め込みが未生成の場合は同一type/fieldの新着を返す。
	FindRelated(ctx context.Context, id string, limit int) ([]model.SearchResult, error)

	// Stats は募集情報の集計統計を返す。
	Stats(ctx context.Context) (*model.OpportunityStats, error)

	// DeleteOlderThan は指定時刻より古い公開日の募集情報を削除し、削除件数を返す。
	// 公開日が未設定の行は作成日時で判定する。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SourceRepository はRSSソースの永続化インターフェース。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.RssSource, error)

	// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.RssSource, error)

	// Create はソースを作成する。
	Create(ctx context.Context, source *model.RssSource) error

	// EnsureExists はURLが未登録の場合のみソースを作成する（初期シード用）。
	EnsureExists(ctx context.Context, name, url string) error

	// List は全ソースを登録順に返す。
	List(ctx context.Context) ([]*model.RssSource, error)

	// ListActive は有効なソースのみを登録順に返す。
	ListActive(ctx context.Context) ([]*model.RssSource, error)

	// UpdateFetchResult は取得結果（最終取得日時、エラー、取得件数）を記録する。
	UpdateFetchResult(ctx context.Context, id string, status model.SourceStatus) error

	// SetActive はソースの有効フラグを変更する。
	SetActive(ctx context.Context, id string, active bool) error
}

// RunLogRepository は取り込み実行ログの永続化インターフェース。
type RunLogRepository interface {
	// Create は実行ログを作成する。
	Create(ctx context.Context, log *model.IngestionRunLog) error

	// FindBlockingRun は実行中、または指定期間内に完了した直近の実行ログを返す。
	// 該当がない場合はnilを返す。
	FindBlockingRun(ctx context.Context, window time.Duration) (*model.IngestionRunLog, error)

	// Complete は実行ログを完了状態に更新する。
	Complete(ctx context.Context, log *model.IngestionRunLog) error

	// MarkFailed は実行ログを失敗状態に更新する。
	MarkFailed(ctx context.Context, id string, errorMessage string) error

	// ListRecent は直近の実行ログを開始時刻の降順で返す。
	ListRecent(ctx context.Context, limit int) ([]*model.IngestionRunLog, error)
}

// SubscriptionRepository は募集情報購読の永続化インターフェース。
type SubscriptionRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// Create は購読を作成する。
	Create(ctx context.Context, sub *model.Subscription) error

	// ListActive は有効な購読を全件返す。
	ListActive(ctx context.Context) ([]*model.Subscription, error)

	// ListByUserID はユーザーの購読一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Subscription, error)

	// SetActive は購読の有効フラグを変更する。
	SetActive(ctx context.Context, id string, active bool) error
}

// NotificationRepository は通知キューとアプリ内受信箱の永続化インターフェース。
type NotificationRepository interface {
	// BulkCreate は通知をまとめてキューに登録する。
	BulkCreate(ctx context.Context, notifications []*model.Notification) error

	// ListPending は未送信の通知を募集情報付きで古い順に返す。
	ListPending(ctx context.Context, limit int) ([]*model.PendingNotification, error)

	// MarkSent は通知を送信済みに更新する。
	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkFailed は通知を失敗状態に更新する。
	MarkFailed(ctx context.Context, id string, errorMessage string) error

	// InsertInbox はアプリ内受信箱に通知行を追加する。
	InsertInbox(ctx context.Context, userID, title, body, link string) error
}
