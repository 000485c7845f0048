package job

import (
	"Patronage/internal/chat"
	"Patronage/internal/pkg/consts"
	"Patronage/internal/pkg/logger"
	"context"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

const reconcileLockTTL = 5 * time.Minute

// DirtyQueue 待重算的会话集合
type DirtyQueue interface {
	Mark(ctx context.Context, members ...string) error
	Claim(ctx context.Context) ([]string, error)
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, value string)
}

type ThreadReconciler interface {
	ReconcileThread(ctx context.Context, thread chat.ThreadID) error
}

// ThreadReconcileJob 补偿写入路径上重算失败的会话摘要
type ThreadReconcileJob struct {
	reconciler ThreadReconciler
	dirty      DirtyQueue
	locker     Locker
}

func NewThreadReconcileJob(reconciler ThreadReconciler, dirty DirtyQueue, locker Locker) *ThreadReconcileJob {
	return &ThreadReconcileJob{
		reconciler: reconciler,
		dirty:      dirty,
		locker:     locker,
	}
}

func (s *ThreadReconcileJob) Run() {
	traceID := "job-thread-" + uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, traceID)

	// 多实例部署时只允许一个实例处理
	token := uuid.NewString()
	ok, err := s.locker.Acquire(ctx, consts.IMThreadReconcileLock, token, reconcileLockTTL)
	if err != nil {
		log.ErrorContext(ctx, "acquire reconcile lock error", "err", err)
		return
	}
	if !ok {
		return
	}
	defer s.locker.Release(ctx, consts.IMThreadReconcileLock, token)

	members, err := s.dirty.Claim(ctx)
	if err != nil {
		log.ErrorContext(ctx, "claim dirty threads error", "err", err)
		return
	}
	if len(members) == 0 {
		return
	}

	var failed []string
	for _, m := range members {
		thread, err := chat.ParseThreadID(m)
		if err != nil {
			log.WarnContext(ctx, "drop invalid dirty thread", "thread", m, "err", err)
			continue
		}
		if err = s.reconciler.ReconcileThread(ctx, thread); err != nil {
			log.ErrorContext(ctx, "reconcile thread error", "thread", m, "err", err)
			failed = append(failed, m)
		}
	}

	if err = s.dirty.Release(ctx); err != nil {
		log.ErrorContext(ctx, "release dirty threads error", "err", err)
	}
	if len(failed) > 0 {
		if err = s.dirty.Mark(ctx, failed...); err != nil {
			log.ErrorContext(ctx, "re-mark failed threads error", "count", len(failed), "err", err)
		}
	}

	log.InfoContext(ctx, "thread reconcile job finished", "total", len(members), "failed", len(failed))
}
