// Package cleanup は古い募集情報の保持期間管理ジョブを提供する。
// 取り込み・検索の経路からは呼ばれず、運用者がcleanupサブコマンドで
// 明示的に実行したときのみ削除が行われる。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OpportunityDeleter は保持期間超過の募集情報を削除するインターフェース。
type OpportunityDeleter interface {
	// DeleteOlderThan は指定時刻より古い募集情報を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob は保持期間を超過した募集情報の削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type RetentionJob struct {
	repo          OpportunityDeleter
	logger        *slog.Logger
	RetentionDays int // 募集情報の保持日数（デフォルト: 90）
}

// NewRetentionJob は新しいRetentionJobを生成する。
// デフォルトの保持日数は90日。
func NewRetentionJob(repo OpportunityDeleter, logger *slog.Logger) *RetentionJob {
	return &RetentionJob{
		repo:          repo,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は保持期間を超過した募集情報を削除する。
func (j *RetentionJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := time.Now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("保持期間ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("募集情報クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("保持期間ジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
