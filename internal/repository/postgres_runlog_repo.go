package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/placementbridge/oppengine/internal/model"
)

// PostgresRunLogRepo はPostgreSQLを使用した取り込み実行ログリポジトリ。
type PostgresRunLogRepo struct {
	db *sql.DB
}

// NewPostgresRunLogRepo はPostgresRunLogRepoを生成する。
func NewPostgresRunLogRepo(db *sql.DB) *PostgresRunLogRepo {
	return &PostgresRunLogRepo{db: db}
}

const runLogColumns = `id, status, items_fetched, items_inserted, items_skipped, items_failed,
       error_message, started_at, completed_at`

// scanRunLog は実行ログ1行をスキャンする。
func scanRunLog(scanner interface{ Scan(...any) error }) (*model.IngestionRunLog, error) {
	log := &model.IngestionRunLog{}
	var completedAt sql.NullTime

	err := scanner.Scan(
		&log.ID, &log.Status, &log.ItemsFetched, &log.ItemsInserted,
		&log.ItemsSkipped, &log.ItemsFailed, &log.ErrorMessage,
		&log.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		log.CompletedAt = &completedAt.Time
	}
	return log, nil
}

// Create は実行ログを作成する。
func (r *PostgresRunLogRepo) Create(ctx context.Context, log *model.IngestionRunLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingestion_run_logs (id, status, started_at)
		 VALUES ($1, $2, $3)`,
		log.ID, log.Status, log.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("実行ログの作成に失敗しました: %w", err)
	}
	return nil
}

// FindBlockingRun は実行中、または指定期間内に完了した直近の実行ログを返す。
// 該当がない場合はnilを返す。
func (r *PostgresRunLogRepo) FindBlockingRun(ctx context.Context, window time.Duration) (*model.IngestionRunLog, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runLogColumns+` FROM ingestion_run_logs
		 WHERE status = $1
		    OR (status = $2 AND started_at > now() - $3::interval)
		 ORDER BY started_at DESC
		 LIMIT 1`,
		model.RunStatusRunning, model.RunStatusCompleted,
		fmt.Sprintf("%d seconds", int(window.Seconds())),
	)

	log, err := scanRunLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("実行中ログの検索に失敗しました: %w", err)
	}
	return log, nil
}

// Complete は実行ログを完了状態に更新する。
func (r *PostgresRunLogRepo) Complete(ctx context.Context, log *model.IngestionRunLog) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ingestion_run_logs
		 SET status = $2, items_fetched = $3, items_inserted = $4,
		     items_skipped = $5, items_failed = $6, error_message = $7,
		     completed_at = now()
		 WHERE id = $1`,
		log.ID, model.RunStatusCompleted,
		log.ItemsFetched, log.ItemsInserted, log.ItemsSkipped, log.ItemsFailed,
		log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("実行ログの完了更新に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は実行ログを失敗状態に更新する。
func (r *PostgresRunLogRepo) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ingestion_run_logs
		 SET status = $2, error_message = $3, completed_at = now()
		 WHERE id = $1`,
		id, model.RunStatusFailed, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("実行ログの失敗更新に失敗しました: %w", err)
	}
	return nil
}

// ListRecent は直近の実行ログを開始時刻の降順で返す。
func (r *PostgresRunLogRepo) ListRecent(ctx context.Context, limit int) ([]*model.IngestionRunLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runLogColumns+` FROM ingestion_run_logs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行ログ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var logs []*model.IngestionRunLog
	for rows.Next() {
		log, err := scanRunLog(rows)
		if err != nil {
			return nil, fmt.Errorf("実行ログ行の読み取りに失敗しました: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行ログ一覧の走査に失敗しました: %w", err)
	}
	return logs, nil
}

// compile-time interface check
var _ RunLogRepository = (*PostgresRunLogRepo)(nil)
