// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 1時間ごと（起動直後に1回）expires_atを過ぎたセッションをまとめて削除する。
// 削除に失敗してもログに記録するのみで、次回の実行で再試行される。
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/docpad/internal/metrics"
)

// DefaultInterval はスイープの既定の実行間隔。
const DefaultInterval = time.Hour

// ExpiredSessionDeleter は期限切れセッションの一括削除を抽象化するインターフェース。
// repository.SessionRepository が満たす。
type ExpiredSessionDeleter interface {
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error)
}

// SessionSweeper は期限切れセッションを定期的に削除する。
// Start/Stopで明示的にライフサイクルを管理する。
type SessionSweeper struct {
	sessions ExpiredSessionDeleter
	logger   *slog.Logger
	metrics  metrics.MetricsCollector

	Interval time.Duration // 実行間隔（デフォルト: 1時間）
	Now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionSweeper は新しいSessionSweeperを生成する。mcがnilの場合はメトリクスを記録しない。
func NewSessionSweeper(sessions ExpiredSessionDeleter, logger *slog.Logger, mc metrics.MetricsCollector) *SessionSweeper {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &SessionSweeper{
		sessions: sessions,
		logger:   logger,
		metrics:  mc,
		Interval: DefaultInterval,
		Now:      time.Now,
	}
}

// RunOnce は期限切れセッションを1回削除し、削除件数を返す。
// エラーはログに記録したうえで呼び出し元にも返す。
func (s *SessionSweeper) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := s.sessions.DeleteExpiredBefore(ctx, s.Now())
	if err != nil {
		s.metrics.RecordSweepFailure()
		s.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	s.metrics.RecordSessionsSwept(deleted)
	s.logger.Info("期限切れセッションの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start はスイープのゴルーチンを起動する。起動済みの場合は何もしない。
// ctxがキャンセルされるか、Stopが呼ばれると終了する。
func (s *SessionSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	s.logger.Info("セッションスイーパーを起動しました",
		slog.Duration("interval", s.Interval),
	)
}

// Stop はスイープのゴルーチンを停止し、終了を待つ。未起動の場合は何もしない。
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.logger.Info("セッションスイーパーを停止しました")
}

func (s *SessionSweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		// エラーはRunOnce内でログ済み。ループは継続する
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
