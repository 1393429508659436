package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/placementbridge/oppengine/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したRSSソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, name, url, is_active, last_fetched_at, last_error, items_count, created_at, updated_at`

// scanSource はRSSソース1行をスキャンする。
func scanSource(scanner interface{ Scan(...any) error }) (*model.RssSource, error) {
	src := &model.RssSource{}
	var lastFetchedAt sql.NullTime

	err := scanner.Scan(
		&src.ID, &src.Name, &src.URL, &src.IsActive,
		&lastFetchedAt, &src.LastError, &src.ItemsCount,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastFetchedAt.Valid {
		src.LastFetchedAt = &lastFetchedAt.Time
	}
	return src, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.RssSource, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM rss_sources WHERE id = $1`, id)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("RSSソースの取得に失敗しました: %w", err)
	}
	return src, nil
}

// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByURL(ctx context.Context, url string) (*model.RssSource, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM rss_sources WHERE url = $1`, url)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによるRSSソースの検索に失敗しました: %w", err)
	}
	return src, nil
}

// Create はソースを作成する。
func (r *PostgresSourceRepo) Create(ctx context.Context, source *model.RssSource) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rss_sources (id, name, url, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		source.ID, source.Name, source.URL, source.IsActive,
		source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("RSSソースの作成に失敗しました: %w", err)
	}
	return nil
}

// EnsureExists はURLが未登録の場合のみソースを作成する（初期シード用）。
func (r *PostgresSourceRepo) EnsureExists(ctx context.Context, name, url string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rss_sources (id, name, url, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, true, $4, $4)
		 ON CONFLICT (url) DO NOTHING`,
		uuid.NewString(), name, url, now,
	)
	if err != nil {
		return fmt.Errorf("RSSソースのシードに失敗しました: %w", err)
	}
	return nil
}

// List は全ソースを登録順に返す。
func (r *PostgresSourceRepo) List(ctx context.Context) ([]*model.RssSource, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM rss_sources ORDER BY created_at ASC`)
}

// ListActive は有効なソースのみを登録順に返す。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]*model.RssSource, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM rss_sources WHERE is_active = true ORDER BY created_at ASC`)
}

func (r *PostgresSourceRepo) list(ctx context.Context, query string) ([]*model.RssSource, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("RSSソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.RssSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("RSSソース行の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("RSSソース一覧の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// UpdateFetchResult は取得結果（最終取得日時、エラー、取得件数）を記録する。
func (r *PostgresSourceRepo) UpdateFetchResult(ctx context.Context, id string, status model.SourceStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rss_sources
		 SET last_fetched_at = $2, last_error = $3, items_count = $4, updated_at = now()
		 WHERE id = $1`,
		id, status.LastFetchedAt, status.LastError, status.ItemsCount,
	)
	if err != nil {
		return fmt.Errorf("RSSソースの取得結果更新に失敗しました: %w", err)
	}
	return nil
}

// SetActive はソースの有効フラグを変更する。
func (r *PostgresSourceRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rss_sources SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("RSSソースの有効フラグ更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
