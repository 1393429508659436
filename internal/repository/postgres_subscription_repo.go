package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/placementbridge/oppengine/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
// 購読条件はJSONB、通知チャネルはtext[]で保持する。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, criteria, channels, is_active, created_at`

// scanSubscription は購読1行をスキャンする。
func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var criteriaJSON []byte
	var channels pq.StringArray

	err := scanner.Scan(
		&sub.ID, &sub.UserID, &criteriaJSON, &channels,
		&sub.IsActive, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(criteriaJSON, &sub.Criteria); err != nil {
		return nil, fmt.Errorf("購読条件のデコードに失敗しました: %w", err)
	}
	sub.Channels = make([]model.NotificationChannel, len(channels))
	for i, ch := range channels {
		sub.Channels[i] = model.NotificationChannel(ch)
	}
	return sub, nil
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM opportunity_subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// Create は購読を作成する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	criteriaJSON, err := json.Marshal(sub.Criteria)
	if err != nil {
		return fmt.Errorf("購読条件のエンコードに失敗しました: %w", err)
	}

	channels := make(pq.StringArray, len(sub.Channels))
	for i, ch := range sub.Channels {
		channels[i] = string(ch)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO opportunity_subscriptions (id, user_id, criteria, channels, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.UserID, criteriaJSON, channels, sub.IsActive, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return nil
}

// ListActive は有効な購読を全件返す。
func (r *PostgresSubscriptionRepo) ListActive(ctx context.Context) ([]*model.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM opportunity_subscriptions
		 WHERE is_active = true ORDER BY created_at ASC`)
}

// ListByUserID はユーザーの購読一覧を返す。
func (r *PostgresSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM opportunity_subscriptions
		 WHERE user_id = $1 ORDER BY created_at ASC`, userID)
}

func (r *PostgresSubscriptionRepo) list(ctx context.Context, query string, args ...any) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// SetActive は購読の有効フラグを変更する。
func (r *PostgresSubscriptionRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE opportunity_subscriptions SET is_active = $2 WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("購読の有効フラグ更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
