package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/placementbridge/oppengine/internal/model"
)

const (
	// existingURLsChunkSize は既存URL照会のIN句に渡すURL数の上限。
	existingURLsChunkSize = 100
	// bulkInsertChunkSize は一括挿入1文あたりの行数上限。
	bulkInsertChunkSize = 50
)

// PostgresOpportunityRepo はPostgreSQLを使用した募集情報リポジトリ。
// 全文検索はtsv生成カラム、ベクトル検索はpgvectorのコサイン距離を使用する。
type PostgresOpportunityRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresOpportunityRepo はPostgresOpportunityRepoを生成する。
func NewPostgresOpportunityRepo(db *sql.DB, logger *slog.Logger) *PostgresOpportunityRepo {
	return &PostgresOpportunityRepo{db: db, logger: logger}
}

const opportunityColumns = `id, title, organization, description, url, source,
       type, field, country, published_at, created_at, updated_at`

// scanOpportunity は募集情報1行をスキャンする。
func scanOpportunity(scanner interface{ Scan(...any) error }) (*model.Opportunity, error) {
	opp := &model.Opportunity{}
	var publishedAt sql.NullTime

	err := scanner.Scan(
		&opp.ID, &opp.Title, &opp.Organization, &opp.Description, &opp.URL,
		&opp.Source, &opp.Type, &opp.Field, &opp.Country,
		&publishedAt, &opp.CreatedAt, &opp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		opp.PublishedAt = &publishedAt.Time
	}
	return opp, nil
}

// FindByID は指定IDの募集情報を取得する。見つからない場合はnilを返す。
func (r *PostgresOpportunityRepo) FindByID(ctx context.Context, id string) (*model.Opportunity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = $1`, id)

	opp, err := scanOpportunity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("募集情報の取得に失敗しました: %w", err)
	}
	return opp, nil
}

// FindByIDs は指定ID群の募集情報を取得する。存在しないIDは無視される。
func (r *PostgresOpportunityRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Opportunity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities
		 WHERE id IN (`+strings.Join(placeholders, ",")+`)
		 ORDER BY created_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("ID群による募集情報の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var opps []*model.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("募集情報行の読み取りに失敗しました: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("募集情報一覧の走査に失敗しました: %w", err)
	}
	return opps, nil
}

// ExistingURLs は指定URL群のうちデータベースに既に存在するものを返す。
// チャンクの照会に失敗した場合はそのチャンクを未登録として扱う。
// 見逃した重複は挿入時のON CONFLICTで排除される。
func (r *PostgresOpportunityRepo) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})

	for start := 0; start < len(urls); start += existingURLsChunkSize {
		end := start + existingURLsChunkSize
		if end > len(urls) {
			end = len(urls)
		}
		chunk := urls[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, u := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = u
		}

		rows, err := r.db.QueryContext(ctx,
			`SELECT url FROM opportunities WHERE url IN (`+strings.Join(placeholders, ",")+`)`,
			args...,
		)
		if err != nil {
			// チャンク単位でフェイルオープン
			r.logger.Warn("既存URLチャンクの照会に失敗しました（未登録として扱います）",
				slog.Int("chunk_size", len(chunk)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for rows.Next() {
			var url string
			if err := rows.Scan(&url); err != nil {
				rows.Close()
				return nil, fmt.Errorf("既存URL行の読み取りに失敗しました: %w", err)
			}
			existing[url] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("既存URL一覧の走査に失敗しました: %w", err)
		}
		rows.Close()
	}

	return existing, nil
}

// BulkInsert は募集情報をチャンク単位で一括挿入し、実際に挿入された行のIDを返す。
// URLが衝突した行はON CONFLICT DO NOTHINGによりスキップされる。
func (r *PostgresOpportunityRepo) BulkInsert(ctx context.Context, opps []*model.Opportunity) ([]string, error) {
	var insertedIDs []string

	for start := 0; start < len(opps); start += bulkInsertChunkSize {
		end := start + bulkInsertChunkSize
		if end > len(opps) {
			end = len(opps)
		}
		chunk := opps[start:end]

		valueClauses := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*10)
		argIndex := 1
		for _, opp := range chunk {
			valueClauses = append(valueClauses, fmt.Sprintf(
				"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				argIndex, argIndex+1, argIndex+2, argIndex+3, argIndex+4,
				argIndex+5, argIndex+6, argIndex+7, argIndex+8, argIndex+9,
			))
			args = append(args,
				opp.ID, opp.Title, opp.Organization, opp.Description, opp.URL,
				opp.Source, opp.Type, opp.Field, opp.Country, opp.PublishedAt,
			)
			argIndex += 10
		}

		rows, err := r.db.QueryContext(ctx,
			`INSERT INTO opportunities (id, title, organization, description, url,
			                            source, type, field, country, published_at)
			 VALUES `+strings.Join(valueClauses, ", ")+`
			 ON CONFLICT (url) DO NOTHING
			 RETURNING id`,
			args...,
		)
		if err != nil {
			return insertedIDs, fmt.Errorf("募集情報の一括挿入に失敗しました: %w", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return insertedIDs, fmt.Errorf("挿入済みIDの読み取りに失敗しました: %w", err)
			}
			insertedIDs = append(insertedIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return insertedIDs, fmt.Errorf("挿入済みID一覧の走査に失敗しました: %w", err)
		}
		rows.Close()
	}

	return insertedIDs, nil
}

// ListWithoutEmbeddings は埋め込みベクトル未生成の募集情報を新しい順に返す。
func (r *PostgresOpportunityRepo) ListWithoutEmbeddings(ctx context.Context, limit int) ([]*model.Opportunity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities
		 WHERE embedding IS NULL
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("埋め込み未生成の募集情報一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var opps []*model.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("募集情報行の読み取りに失敗しました: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("募集情報一覧の走査に失敗しました: %w", err)
	}
	return opps, nil
}

// UpdateEmbedding は募集情報の埋め込みベクトルを更新する。
func (r *PostgresOpportunityRepo) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE opportunities SET embedding = $2, updated_at = now() WHERE id = $1`,
		id, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("埋め込みベクトルの更新に失敗しました: %w", err)
	}
	return nil
}

// buildFilterClause はtype/field/countryのフィルタ条件を組み立てる。
// 返却するargIndexは次に使用可能なプレースホルダ番号。
func buildFilterClause(params model.SearchParams, argIndex int) (string, []any, int) {
	var clauses []string
	var args []any

	if params.Type != "" {
		clauses = append(clauses, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, params.Type)
		argIndex++
	}
	if params.Field != "" {
		clauses = append(clauses, fmt.Sprintf("field = $%d", argIndex))
		args = append(args, params.Field)
		argIndex++
	}
	if params.Country != "" {
		clauses = append(clauses, fmt.Sprintf("country = $%d", argIndex))
		args = append(args, params.Country)
		argIndex++
	}

	if len(clauses) == 0 {
		return "", nil, argIndex
	}
	return " AND " + strings.Join(clauses, " AND "), args, argIndex
}

// SemanticSearch は埋め込みベクトルのコサイン類似度で検索する。
// 類似度は 1 - コサイン距離 で計算し、負値は0に切り上げる。
func (r *PostgresOpportunityRepo) SemanticSearch(ctx context.Context, embedding []float32, params model.SearchParams, threshold float64) ([]model.SearchResult, error) {
	filterClause, filterArgs, argIndex := buildFilterClause(params, 3)

	query := `SELECT ` + opportunityColumns + `,
	       GREATEST(0, 1 - (embedding <=> $1)) AS vector_score
	 FROM opportunities
	 WHERE embedding IS NOT NULL
	   AND GREATEST(0, 1 - (embedding <=> $1)) >= $2` + filterClause + `
	 ORDER BY vector_score DESC
	 LIMIT $` + fmt.Sprint(argIndex) + ` OFFSET $` + fmt.Sprint(argIndex+1)

	args := append([]any{pgvector.NewVector(embedding), threshold}, filterArgs...)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ベクトル検索に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanSearchResults(rows, scanVectorScore)
}

// HybridSearch はベクトル類似度と全文検索スコアを加重合成して検索する。
// 合成スコア = 0.6 * ベクトル類似度 + 0.4 * キーワードスコア。
// キーワードスコアはts_rank_cdを rank/(1+rank) で[0,1)に正規化した値。
func (r *PostgresOpportunityRepo) HybridSearch(ctx context.Context, embedding []float32, params model.SearchParams, threshold float64) ([]model.SearchResult, error) {
	filterClause, filterArgs, argIndex := buildFilterClause(params, 4)

	query := `SELECT ` + opportunityColumns + `, vector_score, keyword_score,
	       (0.6 * vector_score + 0.4 * keyword_score) AS hybrid_score
	 FROM (
	     SELECT ` + opportunityColumns + `,
	            CASE WHEN embedding IS NULL THEN 0
	                 ELSE GREATEST(0, 1 - (embedding <=> $1)) END AS vector_score,
	            COALESCE(ts_rank_cd(tsv, plainto_tsquery('english', $2), 32), 0) AS keyword_score
	     FROM opportunities
	     WHERE true` + filterClause + `
	 ) scored
	 WHERE (0.6 * vector_score + 0.4 * keyword_score) >= $3
	 ORDER BY hybrid_score DESC
	 LIMIT $` + fmt.Sprint(argIndex) + ` OFFSET $` + fmt.Sprint(argIndex+1)

	args := append([]any{pgvector.NewVector(embedding), params.Query, threshold}, filterArgs...)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ハイブリッド検索に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanSearchResults(rows, scanHybridScore)
}

// KeywordSearch はtsvectorの全文検索のみで検索する。
func (r *PostgresOpportunityRepo) KeywordSearch(ctx context.Context, params model.SearchParams) ([]model.SearchResult, error) {
	filterClause, filterArgs, argIndex := buildFilterClause(params, 2)

	query := `SELECT ` + opportunityColumns + `,
	       ts_rank_cd(tsv, plainto_tsquery('english', $1), 32) AS keyword_score
	 FROM opportunities
	 WHERE tsv @@ plainto_tsquery('english', $1)` + filterClause + `
	 ORDER BY keyword_score DESC
	 LIMIT $` + fmt.Sprint(argIndex) + ` OFFSET $` + fmt.Sprint(argIndex+1)

	args := append([]any{params.Query}, filterArgs...)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("キーワード検索に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanSearchResults(rows, scanKeywordScore)
}

// List はフィルタ条件による一覧を新しい順に返す。
// Queryが指定された場合はタイトルと説明のILIKE部分一致で絞り込む。
func (r *PostgresOpportunityRepo) List(ctx context.Context, params model.SearchParams) ([]model.SearchResult, error) {
	var clauses []string
	var args []any
	argIndex := 1

	if params.Query != "" {
		clauses = append(clauses, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+params.Query+"%")
		argIndex++
	}
	filterClause, filterArgs, argIndex := buildFilterClause(params, argIndex)
	args = append(args, filterArgs...)

	query := `SELECT ` + opportunityColumns + ` FROM opportunities WHERE true`
	if len(clauses) > 0 {
		query += " AND " + strings.Join(clauses, " AND ")
	}
	query += filterClause
	query += ` ORDER BY COALESCE(published_at, created_at) DESC
	 LIMIT $` + fmt.Sprint(argIndex) + ` OFFSET $` + fmt.Sprint(argIndex+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("募集情報一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanSearchResults(rows, scanNoScore)
}

// FindRelated は指定募集情報とベクトル類似度の高い募集情報を返す。
// 対象の埋め込みが未生成の場合は同一type/fieldの新着を返す。
func (r *PostgresOpportunityRepo) FindRelated(ctx context.Context, id string, limit int) ([]model.SearchResult, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+prefixedOpportunityColumns("o")+`,
		        GREATEST(0, 1 - (o.embedding <=> t.embedding)) AS vector_score
		 FROM opportunities o, opportunities t
		 WHERE t.id = $1
		   AND o.id <> t.id
		   AND t.embedding IS NOT NULL
		   AND o.embedding IS NOT NULL
		 ORDER BY o.embedding <=> t.embedding
		 LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("関連募集情報の検索に失敗しました: %w", err)
	}
	defer rows.Close()

	results, err := scanSearchResults(rows, scanVectorScore)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	// 埋め込み未生成時のフォールバック: 同一type/fieldの新着
	fallbackRows, err := r.db.QueryContext(ctx,
		`SELECT `+prefixedOpportunityColumns("o")+`
		 FROM opportunities o, opportunities t
		 WHERE t.id = $1
		   AND o.id <> t.id
		   AND (o.type = t.type OR o.field = t.field)
		 ORDER BY o.created_at DESC
		 LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("関連募集情報のフォールバック検索に失敗しました: %w", err)
	}
	defer fallbackRows.Close()

	return scanSearchResults(fallbackRows, scanNoScore)
}

// Stats は募集情報の集計統計を返す。
func (r *PostgresOpportunityRepo) Stats(ctx context.Context) (*model.OpportunityStats, error) {
	stats := &model.OpportunityStats{
		ByType:    make(map[string]int),
		ByCountry: make(map[string]int),
	}

	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), count(embedding) FROM opportunities`,
	).Scan(&stats.Total, &stats.WithEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("募集情報の総数取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT type, count(*) FROM opportunities GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("種別ごとの集計に失敗しました: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("種別集計行の読み取りに失敗しました: %w", err)
		}
		stats.ByType[typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("種別集計の走査に失敗しました: %w", err)
	}

	countryRows, err := r.db.QueryContext(ctx,
		`SELECT country, count(*) FROM opportunities GROUP BY country`)
	if err != nil {
		return nil, fmt.Errorf("国ごとの集計に失敗しました: %w", err)
	}
	defer countryRows.Close()
	for countryRows.Next() {
		var country string
		var count int
		if err := countryRows.Scan(&country, &count); err != nil {
			return nil, fmt.Errorf("国集計行の読み取りに失敗しました: %w", err)
		}
		stats.ByCountry[country] = count
	}
	if err := countryRows.Err(); err != nil {
		return nil, fmt.Errorf("国集計の走査に失敗しました: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM rss_sources WHERE is_active = true`,
	).Scan(&stats.ActiveSources)
	if err != nil {
		return nil, fmt.Errorf("有効ソース数の取得に失敗しました: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan は指定時刻より古い公開日の募集情報を削除し、削除件数を返す。
func (r *PostgresOpportunityRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM opportunities WHERE COALESCE(published_at, created_at) < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れ募集情報の削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// prefixedOpportunityColumns はエイリアス付きのカラムリストを返す。
func prefixedOpportunityColumns(alias string) string {
	cols := strings.Split(opportunityColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scoreScanMode は検索結果スキャン時のスコアカラム構成を表す。
type scoreScanMode int

const (
	scanNoScore scoreScanMode = iota
	scanVectorScore
	scanKeywordScore
	scanHybridScore
)

// scanSearchResults は検索結果の行を指定のスコア構成でスキャンする。
func scanSearchResults(rows *sql.Rows, mode scoreScanMode) ([]model.SearchResult, error) {
	var results []model.SearchResult
	for rows.Next() {
		var sr model.SearchResult
		var publishedAt sql.NullTime

		dest := []any{
			&sr.ID, &sr.Title, &sr.Organization, &sr.Description, &sr.URL,
			&sr.Source, &sr.Type, &sr.Field, &sr.Country,
			&publishedAt, &sr.CreatedAt, &sr.UpdatedAt,
		}
		switch mode {
		case scanVectorScore:
			dest = append(dest, &sr.VectorScore)
		case scanKeywordScore:
			dest = append(dest, &sr.KeywordScore)
		case scanHybridScore:
			dest = append(dest, &sr.VectorScore, &sr.KeywordScore, &sr.HybridScore)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("検索結果行の読み取りに失敗しました: %w", err)
		}
		if publishedAt.Valid {
			sr.PublishedAt = &publishedAt.Time
		}
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("検索結果の走査に失敗しました: %w", err)
	}
	return results, nil
}

// compile-time interface check
var _ OpportunityRepository = (*PostgresOpportunityRepo)(nil)
