// Package cleanup は失効・期限切れセッションの自動削除ジョブを提供する。
// 期限切れまたは失効から保持期間（デフォルト30日）を過ぎたセッションを
// 定期バッチで物理削除する。有効なセッションは削除対象にならない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/famledger/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const defaultInterval = 24 * time.Hour

// deleteStaleSessionsQuery は保持期間を過ぎた失効・期限切れセッションを削除する。
const deleteStaleSessionsQuery = `DELETE FROM sessions
WHERE expires_at < $1
   OR (revoked_at IS NOT NULL AND revoked_at < $1)`

// SessionCleanupJob は保持期間を超過したセッションの自動削除ジョブ。
// 冪等な削除処理で、削除対象がない場合もエラーにならない。
type SessionCleanupJob struct {
	db            Executor
	logger        *slog.Logger
	recorder      metrics.CleanupRecorder
	now           func() time.Time
	RetentionDays int // 期限切れ・失効後の保持日数（デフォルト: 30）
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewSessionCleanupJob(db Executor, logger *slog.Logger, recorder metrics.CleanupRecorder) *SessionCleanupJob {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &SessionCleanupJob{
		db:            db,
		logger:        logger,
		recorder:      recorder,
		now:           time.Now,
		RetentionDays: 30,
	}
}

// Run は保持期間を超過したセッションを削除する。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().Add(-time.Duration(j.RetentionDays) * 24 * time.Hour)

	result, err := j.db.ExecContext(ctx, deleteStaleSessionsQuery, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.recorder.RecordSessionsPurged(deletedCount)

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回Runを実行し、その後intervalごとに繰り返す。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに残して継続する。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}

	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup run failed, will retry at next tick", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("cleanup run failed, will retry at next tick", slog.String("error", err.Error()))
			}
		}
	}
}
