package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/placementbridge/oppengine/internal/config"
	"github.com/placementbridge/oppengine/internal/metrics"
	"github.com/placementbridge/oppengine/internal/model"
	"github.com/placementbridge/oppengine/internal/repository"
)

// FeedFetcher はフィード取得のインターフェース。
type FeedFetcher interface {
	FetchURL(ctx context.Context, feedURL string) ([]model.RawFeedItem, error)
}

// EmbeddingGenerator は埋め込み未生成の募集情報への埋め込み付与のインターフェース。
type EmbeddingGenerator interface {
	GenerateForNew(ctx context.Context, limit int) (int, error)
}

// SubscriptionMatcher は新着募集情報と購読の照合・通知キュー登録のインターフェース。
type SubscriptionMatcher interface {
	MatchAndQueue(ctx context.Context, opportunityIDs []string) (int, error)
}

// Pipeline は取り込みパイプラインを統括する。
// 実行ロック → ソース巡回 → 正規化・分類 → 重複排除 → 一括保存 →
// 埋め込み生成 → 購読照合の順に処理する。
type Pipeline struct {
	oppRepo    repository.OpportunityRepository
	sourceRepo repository.SourceRepository
	runLogRepo repository.RunLogRepository
	fetcher    FeedFetcher
	normalizer *Normalizer
	embedder   EmbeddingGenerator
	matcher    SubscriptionMatcher
	metrics    metrics.MetricsCollector
	logger     *slog.Logger

	fallbackSources []config.DefaultSource
	sourceDelay     time.Duration
	lockWindow      time.Duration
	embedLimit      int
}

// NewPipeline はPipelineを生成する。
// embedderとmatcherはnil可で、nilの場合は該当フェーズをスキップする。
// fallbackSourcesは有効ソースが1件も登録されていない場合に使用される。
func NewPipeline(
	oppRepo repository.OpportunityRepository,
	sourceRepo repository.SourceRepository,
	runLogRepo repository.RunLogRepository,
	fetcher FeedFetcher,
	normalizer *Normalizer,
	embedder EmbeddingGenerator,
	matcher SubscriptionMatcher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	fallbackSources []config.DefaultSource,
	sourceDelay time.Duration,
	lockWindow time.Duration,
	embedLimit int,
) *Pipeline {
	return &Pipeline{
		oppRepo:         oppRepo,
		sourceRepo:      sourceRepo,
		runLogRepo:      runLogRepo,
		fetcher:         fetcher,
		normalizer:      normalizer,
		embedder:        embedder,
		matcher:         matcher,
		metrics:         collector,
		logger:          logger,
		fallbackSources: fallbackSources,
		sourceDelay:     sourceDelay,
		lockWindow:      lockWindow,
		embedLimit:      embedLimit,
	}
}

// RunIngestion は全有効ソースの取り込みを1回実行する。
// 実行中のラン、またはロック期間内に完了したランが存在する場合は
// 何もせずSkipped=trueのサマリを返す。
func (p *Pipeline) RunIngestion(ctx context.Context) (*model.RunSummary, error) {
	blocking, err := p.runLogRepo.FindBlockingRun(ctx, p.lockWindow)
	if err != nil {
		return nil, fmt.Errorf("実行ロックの確認に失敗しました: %w", err)
	}
	if blocking != nil {
		p.logger.Info("取り込みをスキップします（直近の実行が存在）",
			slog.String("blocking_run_id", blocking.ID),
			slog.String("blocking_status", string(blocking.Status)),
			slog.Time("blocking_started_at", blocking.StartedAt),
		)
		return &model.RunSummary{Skipped: true}, nil
	}

	runLog := &model.IngestionRunLog{
		ID:        uuid.NewString(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := p.runLogRepo.Create(ctx, runLog); err != nil {
		return nil, fmt.Errorf("実行ログの作成に失敗しました: %w", err)
	}

	summary, err := p.runSources(ctx)
	if err != nil {
		if markErr := p.runLogRepo.MarkFailed(ctx, runLog.ID, err.Error()); markErr != nil {
			p.logger.Error("実行ログの失敗更新に失敗しました",
				slog.String("run_id", runLog.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return nil, err
	}

	runLog.ItemsFetched = summary.TotalFetched
	runLog.ItemsInserted = summary.TotalInserted
	runLog.ItemsSkipped = summary.TotalSkipped
	runLog.ItemsFailed = summary.TotalFailed
	if err := p.runLogRepo.Complete(ctx, runLog); err != nil {
		p.logger.Error("実行ログの完了更新に失敗しました",
			slog.String("run_id", runLog.ID),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Info("取り込みが完了しました",
		slog.String("run_id", runLog.ID),
		slog.Int("fetched", summary.TotalFetched),
		slog.Int("inserted", summary.TotalInserted),
		slog.Int("skipped", summary.TotalSkipped),
		slog.Int("failed", summary.TotalFailed),
		slog.Int("embeddings", summary.EmbeddingsGenerated),
		slog.Int("notifications", summary.NotificationsQueued),
	)

	return summary, nil
}

// runSources は全有効ソースを巡回して取り込む。
func (p *Pipeline) runSources(ctx context.Context) (*model.RunSummary, error) {
	sources, err := p.sourceRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("有効ソース一覧の取得に失敗しました: %w", err)
	}

	// 有効ソースが未登録なら既定のソース一覧にフォールバックする
	if len(sources) == 0 && len(p.fallbackSources) > 0 {
		p.logger.Warn("有効なソースが登録されていないため既定のソース一覧で実行します",
			slog.Int("fallback_count", len(p.fallbackSources)),
		)
		for _, src := range p.fallbackSources {
			sources = append(sources, &model.RssSource{Name: src.Name, URL: src.URL, IsActive: true})
		}
	}

	summary := &model.RunSummary{}
	var allInsertedIDs []string

	// 外部サイトへの集中アクセスを避けるためソース間の間隔を制御する
	limiter := rate.NewLimiter(rate.Every(p.sourceDelay), 1)

	for _, source := range sources {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, insertedIDs := p.processSource(ctx, source)
		summary.Results = append(summary.Results, *result)
		summary.TotalFetched += result.Fetched
		summary.TotalInserted += result.Inserted
		summary.TotalSkipped += result.Skipped
		summary.TotalFailed += result.Failed
		allInsertedIDs = append(allInsertedIDs, insertedIDs...)
	}

	p.finishRun(ctx, summary, allInsertedIDs)
	return summary, nil
}

// finishRun は挿入済み募集情報に対する埋め込み生成と購読照合を行う。
// どちらの失敗も取り込み全体の失敗とはしない。
func (p *Pipeline) finishRun(ctx context.Context, summary *model.RunSummary, insertedIDs []string) {
	if p.embedder != nil && len(insertedIDs) > 0 {
		generated, err := p.embedder.GenerateForNew(ctx, p.embedLimit)
		if err != nil {
			p.logger.Warn("埋め込み生成に失敗しました", slog.String("error", err.Error()))
		} else {
			summary.EmbeddingsGenerated = generated
			p.metrics.RecordEmbeddingsGenerated(generated)
		}
	}

	if p.matcher != nil && len(insertedIDs) > 0 {
		queued, err := p.matcher.MatchAndQueue(ctx, insertedIDs)
		if err != nil {
			p.logger.Warn("購読照合に失敗しました", slog.String("error", err.Error()))
		} else {
			summary.NotificationsQueued = queued
			p.metrics.RecordNotificationsQueued(queued)
		}
	}
}

// processSource は1ソース分の取得・正規化・保存を行う。
// ソース単位の失敗は結果に記録し、他ソースの処理は継続する。
func (p *Pipeline) processSource(ctx context.Context, source *model.RssSource) (*model.SourceResult, []string) {
	result := &model.SourceResult{Source: source.Name}

	rawItems, err := p.fetcher.FetchURL(ctx, source.URL)
	if err != nil {
		p.logger.Warn("ソースの取得に失敗しました",
			slog.String("source", source.Name),
			slog.String("url", source.URL),
			slog.String("error", err.Error()),
		)
		p.metrics.RecordSourceFetchFailure(source.Name)
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		p.updateSourceStatus(ctx, source.ID, 0, err.Error())
		return result, nil
	}

	p.metrics.RecordSourceFetchSuccess(source.Name)
	result.Fetched = len(rawItems)

	inserted, skipped, failed, insertedIDs, errs := p.storeItems(ctx, rawItems, source.Name)
	result.Inserted = inserted
	result.Skipped = skipped
	result.Failed += failed
	result.Errors = append(result.Errors, errs...)

	p.metrics.RecordItemsInserted(inserted)
	p.metrics.RecordItemsSkipped(skipped)
	p.updateSourceStatus(ctx, source.ID, inserted, "")

	p.logger.Info("ソースの取り込みが完了しました",
		slog.String("source", source.Name),
		slog.Int("fetched", result.Fetched),
		slog.Int("inserted", inserted),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
	)

	return result, insertedIDs
}

// storeItems はフィード項目を正規化し、重複を除いて保存する。
// 戻り値は (挿入数, スキップ数, 失敗数, 挿入済みID, エラーメッセージ)。
func (p *Pipeline) storeItems(ctx context.Context, rawItems []model.RawFeedItem, sourceName string) (int, int, int, []string, []string) {
	var skipped, failed int
	var errs []string

	// 正規化とバッチ内の重複排除
	seen := make(map[string]struct{})
	var normalized []*model.NewOpportunity
	for _, raw := range rawItems {
		opp, err := p.normalizer.Normalize(raw, sourceName)
		if err != nil {
			skipped++
			continue
		}
		if _, dup := seen[opp.URL]; dup {
			skipped++
			continue
		}
		seen[opp.URL] = struct{}{}
		normalized = append(normalized, opp)
	}

	if len(normalized) == 0 {
		return 0, skipped, failed, nil, errs
	}

	// 既存URLを除外。照会に失敗したチャンクは挿入時のON CONFLICTで排除される。
	urls := make([]string, len(normalized))
	for i, opp := range normalized {
		urls[i] = opp.URL
	}
	existing, err := p.oppRepo.ExistingURLs(ctx, urls)
	if err != nil {
		failed += len(normalized)
		errs = append(errs, fmt.Sprintf("既存URLの照会に失敗しました: %s", err.Error()))
		return 0, skipped, failed, nil, errs
	}

	now := time.Now()
	var toInsert []*model.Opportunity
	for _, opp := range normalized {
		if _, dup := existing[opp.URL]; dup {
			skipped++
			continue
		}
		toInsert = append(toInsert, &model.Opportunity{
			ID:           uuid.NewString(),
			Title:        opp.Title,
			Organization: opp.Organization,
			Description:  opp.Description,
			URL:          opp.URL,
			Source:       opp.Source,
			Type:         opp.Type,
			Field:        opp.Field,
			Country:      opp.Country,
			PublishedAt:  opp.PublishedAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if len(toInsert) == 0 {
		return 0, skipped, failed, nil, errs
	}

	insertedIDs, err := p.oppRepo.BulkInsert(ctx, toInsert)
	remainder := len(toInsert) - len(insertedIDs)
	if err != nil {
		failed += remainder
		errs = append(errs, fmt.Sprintf("一括挿入に失敗しました: %s", err.Error()))
	} else {
		// エラーなしで挿入されなかった行はURL衝突によるスキップ
		skipped += remainder
	}

	return len(insertedIDs), skipped, failed, insertedIDs, errs
}

// IngestSource は単一ソースを即時に取り込む。
// 未登録URLの場合は新規ソースとして登録してから処理する。
func (p *Pipeline) IngestSource(ctx context.Context, name, url string) (*model.SourceResult, error) {
	source, err := p.sourceRepo.FindByURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ソースの検索に失敗しました: %w", err)
	}
	if source == nil {
		now := time.Now()
		source = &model.RssSource{
			ID:        uuid.NewString(),
			Name:      name,
			URL:       url,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if source.Name == "" {
			source.Name = url
		}
		if err := p.sourceRepo.Create(ctx, source); err != nil {
			return nil, fmt.Errorf("ソースの登録に失敗しました: %w", err)
		}
	}

	result, insertedIDs := p.processSource(ctx, source)
	p.finishRun(ctx, &model.RunSummary{}, insertedIDs)
	return result, nil
}

// updateSourceStatus はソースの取得結果を記録する。失敗してもログのみ。
func (p *Pipeline) updateSourceStatus(ctx context.Context, sourceID string, itemsCount int, lastError string) {
	// フォールバック実行時のソースは未登録のため記録しない
	if sourceID == "" {
		return
	}
	status := model.SourceStatus{
		LastFetchedAt: time.Now(),
		LastError:     lastError,
		ItemsCount:    itemsCount,
	}
	if err := p.sourceRepo.UpdateFetchResult(ctx, sourceID, status); err != nil {
		p.logger.Warn("ソース状態の更新に失敗しました",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()),
		)
	}
}
