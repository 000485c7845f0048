package cron

import (
	"Patronage/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine             *cron.Cron
	reconcileSpec      string
	threadReconcileJob *job.ThreadReconcileJob
}

func NewCronManager(reconcileSpec string, threadReconcileJob *job.ThreadReconcileJob) *Manager {
	if reconcileSpec == "" {
		reconcileSpec = "@every 1m"
	}
	return &Manager{
		engine:             cron.New(cron.WithSeconds()),
		reconcileSpec:      reconcileSpec,
		threadReconcileJob: threadReconcileJob,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	// 上一轮未结束时跳过
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(s.threadReconcileJob)
	if _, err := s.engine.AddJob(s.reconcileSpec, wrapped); err != nil {
		return err
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动", "reconcile", s.reconcileSpec)
	s.engine.Start()
}

func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	<-s.engine.Stop().Done()
}
