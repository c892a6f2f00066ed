// Package messaging 审计事件的 Kafka 发布端
package messaging

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/mq"
)

const auditTopic = "options.audit.events"

// AuditPublisher 把领域审计事件异步发布到 Kafka。
// 发布是 fire-and-forget 的：任何失败只记日志，绝不影响领域操作。
type AuditPublisher struct {
	producer *mq.KafkaProducer
	logger   *slog.Logger
}

func NewAuditPublisher(producer *mq.KafkaProducer, logger *slog.Logger) *AuditPublisher {
	return &AuditPublisher{
		producer: producer,
		logger:   logger.With("module", "audit_publisher"),
	}
}

// Notify 实现 domain.AuditSink。发布脱离调用方的生命周期，
// 带独立超时，避免阻塞领域操作。
func (p *AuditPublisher) Notify(_ context.Context, event domain.AuditEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		key := strconv.FormatUint(event.SeriesID, 10)
		if err := p.producer.SendMessage(ctx, auditTopic, key, event); err != nil {
			p.logger.WarnContext(ctx, "audit event dropped",
				"kind", event.Kind, "series_id", event.SeriesID, "error", err)
		}
	}()
}
