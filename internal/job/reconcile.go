package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cardpay/internal/service"
)

// ReconcileJob 定期按流水重放校验全部账户余额
type ReconcileJob struct {
	audit     *service.AuditService
	interval  time.Duration
	batchSize int
	log       *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewReconcileJob(audit *service.AuditService, interval time.Duration, log *slog.Logger) *ReconcileJob {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ReconcileJob{
		audit:     audit,
		interval:  interval,
		batchSize: 100,
		log:       log.With("component", "reconcile"),
		stopCh:    make(chan struct{}),
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.Info("对账任务启动", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce 执行一轮对账，返回存在差额的账户
func (j *ReconcileJob) RunOnce(ctx context.Context) []*service.AuditReport {
	start := time.Now()
	drifted, err := j.audit.ReconcileAll(ctx, j.batchSize)
	if err != nil {
		j.log.Error("对账中断", "error", err)
	}
	for _, r := range drifted {
		j.log.Error("余额与流水不一致",
			"account_type", r.AccountType,
			"account_id", r.AccountID,
			"expected", r.Expected.StringFixed(2),
			"actual", r.Actual.StringFixed(2),
			"drift", r.Drift.StringFixed(2),
		)
	}
	j.log.Info("对账完成", "drifted", len(drifted), "elapsed", time.Since(start))
	return drifted
}
