package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cardpay/internal/infrastructure/mq"
	"cardpay/internal/model"
	"cardpay/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender 轮询 outbox 表，把账本事件投递到 Kafka
// 投递是至少一次语义，消费方按 message_key（流水号）去重
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	maxRetry   int
	interval   time.Duration
	batchSize  int
	log        *slog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, interval time.Duration, maxRetry int, log *slog.Logger) *OutboxSender {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   maxRetry,
		interval:   interval,
		batchSize:  100,
		log:        log.With("component", "outbox"),
		stopCh:     make(chan struct{}),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessPending 处理一批待发送消息，返回成功发送的条数
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			s.log.Error("更新消息状态失败", "id", msg.ID, "error", updateErr)
			return false
		}
		s.log.Debug("消息发送成功", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		return true
	}

	s.log.Warn("消息发送失败", "id", msg.ID, "retry", msg.RetryCount, "error", err)

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error("标记消息失败状态失败", "id", msg.ID, "error", err)
		} else {
			s.log.Error("消息超过最大重试次数，标记为失败", "id", msg.ID, "key", msg.MessageKey)
		}
		return false
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error("增加重试次数失败", "id", msg.ID, "error", err)
	}
	return false
}
