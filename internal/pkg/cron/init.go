package cron

import log "log/slog"

// InitCron 注册私信后台任务并启动引擎
func InitCron(mgr *Manager) error {
	if err := mgr.RegisterJobs(); err != nil {
		log.Error("Cron 任务注册失败", "reconcile", mgr.reconcileSpec, "err", err)
		return err
	}
	mgr.Start()
	for _, e := range mgr.engine.Entries() {
		log.Info("Cron 任务已就绪", "entry", e.ID, "next", e.Next)
	}
	return nil
}
