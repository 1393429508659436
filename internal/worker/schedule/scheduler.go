// Package schedule は取り込み・埋め込み・通知の定期実行ジョブを提供する。
// robfig/cronで3つのジョブを管理する:
// 全ソース取り込み（設定間隔）、埋め込みキャッチアップ（毎時30分）、通知配信（短周期）。
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/placementbridge/oppengine/internal/model"
)

// IngestionRunner は取り込み実行インターフェース。
type IngestionRunner interface {
	RunIngestion(ctx context.Context) (*model.RunSummary, error)
}

// EmbeddingGenerator は埋め込みキャッチアップの実行インターフェース。
type EmbeddingGenerator interface {
	GenerateForNew(ctx context.Context, limit int) (int, error)
}

// NotificationDrainer は保留中通知の配信インターフェース。
type NotificationDrainer interface {
	ProcessPending(ctx context.Context) (int, error)
}

// CacheInvalidator は取り込み後の検索キャッシュ無効化インターフェース。
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context)
}

// Config はスケジューラの実行間隔設定。
type Config struct {
	IngestionInterval   time.Duration // 全ソース取り込みの間隔
	EmbedCatchUpLimit   int           // 毎時キャッチアップで処理する最大件数
	NotifyDrainInterval time.Duration // 通知配信の間隔
}

// Scheduler は定期ジョブの登録と起動を管理する。
// embedder、drainer、cacheはいずれもnilを許容する（未構成時はジョブをスキップ）。
type Scheduler struct {
	cron     *cron.Cron
	runner   IngestionRunner
	embedder EmbeddingGenerator
	drainer  NotificationDrainer
	cache    CacheInvalidator
	logger   *slog.Logger
	config   Config
}

// New はSchedulerを生成する。
func New(
	runner IngestionRunner,
	embedder EmbeddingGenerator,
	drainer NotificationDrainer,
	cache CacheInvalidator,
	logger *slog.Logger,
	config Config,
) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		runner:   runner,
		embedder: embedder,
		drainer:  drainer,
		cache:    cache,
		logger:   logger,
		config:   config,
	}
}

// Start は全ジョブを登録してスケジューラを起動する。
// 起動直後に1回取り込みを実行する（最初のティックを待たない）。
func (s *Scheduler) Start(ctx context.Context) error {
	ingestSpec := fmt.Sprintf("@every %s", s.config.IngestionInterval)
	if _, err := s.cron.AddFunc(ingestSpec, func() {
		s.RunIngestionOnce(ctx)
	}); err != nil {
		return fmt.Errorf("取り込みジョブの登録に失敗しました: %w", err)
	}

	// 取り込み時に失敗した埋め込みを毎時拾い直す
	if _, err := s.cron.AddFunc("30 * * * *", func() {
		s.RunEmbeddingCatchUp(ctx)
	}); err != nil {
		return fmt.Errorf("埋め込みキャッチアップジョブの登録に失敗しました: %w", err)
	}

	drainSpec := fmt.Sprintf("@every %s", s.config.NotifyDrainInterval)
	if _, err := s.cron.AddFunc(drainSpec, func() {
		s.RunNotificationDrain(ctx)
	}); err != nil {
		return fmt.Errorf("通知配信ジョブの登録に失敗しました: %w", err)
	}

	s.cron.Start()
	s.logger.Info("スケジューラを開始しました",
		slog.String("ingestion_spec", ingestSpec),
		slog.String("drain_spec", drainSpec),
	)

	// 起動直後に1回実行
	go s.RunIngestionOnce(ctx)

	return nil
}

// Stop はスケジューラを停止し、実行中のジョブの完了を待つ。
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("スケジューラを停止しました")
}

// RunIngestionOnce は全ソースの取り込みを1回実行する。
// 挿入があった場合は検索キャッシュを無効化する。
func (s *Scheduler) RunIngestionOnce(ctx context.Context) {
	summary, err := s.runner.RunIngestion(ctx)
	if err != nil {
		s.logger.Error("定期取り込みに失敗しました", slog.String("error", err.Error()))
		return
	}

	if summary.Skipped {
		s.logger.Info("直近の実行があるため定期取り込みをスキップしました")
		return
	}

	s.logger.Info("定期取り込みが完了しました",
		slog.Int("fetched", summary.TotalFetched),
		slog.Int("inserted", summary.TotalInserted),
		slog.Int("skipped", summary.TotalSkipped),
		slog.Int("failed", summary.TotalFailed),
		slog.Int("embeddings", summary.EmbeddingsGenerated),
		slog.Int("notifications", summary.NotificationsQueued),
	)

	if s.cache != nil && summary.TotalInserted > 0 {
		s.cache.InvalidateCache(ctx)
	}
}

// RunEmbeddingCatchUp は埋め込み未生成の募集情報を処理する。
// 埋め込みAPIが未構成の場合は何もしない。
func (s *Scheduler) RunEmbeddingCatchUp(ctx context.Context) {
	if s.embedder == nil {
		return
	}

	count, err := s.embedder.GenerateForNew(ctx, s.config.EmbedCatchUpLimit)
	if err != nil {
		s.logger.Error("埋め込みキャッチアップに失敗しました", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		s.logger.Info("埋め込みキャッチアップが完了しました", slog.Int("generated", count))
	}
}

// RunNotificationDrain は保留中の通知を配信する。
func (s *Scheduler) RunNotificationDrain(ctx context.Context) {
	if s.drainer == nil {
		return
	}

	sent, err := s.drainer.ProcessPending(ctx)
	if err != nil {
		s.logger.Error("通知配信に失敗しました", slog.String("error", err.Error()))
		return
	}
	if sent > 0 {
		s.logger.Info("通知配信が完了しました", slog.Int("sent", sent))
	}
}
