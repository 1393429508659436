package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/placementbridge/oppengine/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
// 送信キュー（opportunity_notifications）とアプリ内受信箱（notifications）を扱う。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// BulkCreate は通知をまとめてキューに登録する。
func (r *PostgresNotificationRepo) BulkCreate(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	valueClauses := make([]string, 0, len(notifications))
	args := make([]any, 0, len(notifications)*7)
	argIndex := 1
	for _, n := range notifications {
		valueClauses = append(valueClauses, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			argIndex, argIndex+1, argIndex+2, argIndex+3, argIndex+4, argIndex+5, argIndex+6,
		))
		args = append(args,
			n.ID, n.UserID, n.SubscriptionID, n.OpportunityID,
			n.Channel, n.Status, n.CreatedAt,
		)
		argIndex += 7
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO opportunity_notifications (id, user_id, subscription_id, opportunity_id, channel, status, created_at)
		 VALUES `+strings.Join(valueClauses, ", "),
		args...,
	)
	if err != nil {
		return fmt.Errorf("通知の一括登録に失敗しました: %w", err)
	}
	return nil
}

// ListPending は未送信の通知を募集情報付きで古い順に返す。
func (r *PostgresNotificationRepo) ListPending(ctx context.Context, limit int) ([]*model.PendingNotification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT n.id, n.user_id, n.subscription_id, n.opportunity_id, n.channel,
		        n.status, n.sent_at, n.error_message, n.created_at,
		        o.id, o.title, o.organization, o.description, o.url, o.source,
		        o.type, o.field, o.country, o.published_at, o.created_at, o.updated_at
		 FROM opportunity_notifications n
		 JOIN opportunities o ON o.id = n.opportunity_id
		 WHERE n.status = $1
		 ORDER BY n.created_at ASC
		 LIMIT $2`,
		model.NotificationStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未送信通知一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var pending []*model.PendingNotification
	for rows.Next() {
		p := &model.PendingNotification{Opportunity: &model.Opportunity{}}
		var sentAt, publishedAt sql.NullTime

		if err := rows.Scan(
			&p.ID, &p.UserID, &p.SubscriptionID, &p.OpportunityID, &p.Channel,
			&p.Status, &sentAt, &p.ErrorMessage, &p.CreatedAt,
			&p.Opportunity.ID, &p.Opportunity.Title, &p.Opportunity.Organization,
			&p.Opportunity.Description, &p.Opportunity.URL, &p.Opportunity.Source,
			&p.Opportunity.Type, &p.Opportunity.Field, &p.Opportunity.Country,
			&publishedAt, &p.Opportunity.CreatedAt, &p.Opportunity.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("未送信通知行の読み取りに失敗しました: %w", err)
		}
		if sentAt.Valid {
			p.SentAt = &sentAt.Time
		}
		if publishedAt.Valid {
			p.Opportunity.PublishedAt = &publishedAt.Time
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未送信通知一覧の走査に失敗しました: %w", err)
	}
	return pending, nil
}

// MarkSent は通知を送信済みに更新する。
func (r *PostgresNotificationRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE opportunity_notifications
		 SET status = $2, sent_at = $3, error_message = ''
		 WHERE id = $1`,
		id, model.NotificationStatusSent, sentAt,
	)
	if err != nil {
		return fmt.Errorf("通知の送信済み更新に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は通知を失敗状態に更新する。
func (r *PostgresNotificationRepo) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE opportunity_notifications
		 SET status = $2, error_message = $3
		 WHERE id = $1`,
		id, model.NotificationStatusFailed, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("通知の失敗更新に失敗しました: %w", err)
	}
	return nil
}

// InsertInbox はアプリ内受信箱に通知行を追加する。
func (r *PostgresNotificationRepo) InsertInbox(ctx context.Context, userID, title, body, link string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, body, link)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, title, body, link,
	)
	if err != nil {
		return fmt.Errorf("アプリ内通知の登録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
