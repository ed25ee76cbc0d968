package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/notify"
)

// Processor delivers queued notifications.
type Processor struct {
	deliverer notify.Deliverer
	logger    *zap.Logger
}

func NewProcessor(d notify.Deliverer, logger *zap.Logger) *Processor {
	return &Processor{deliverer: d, logger: logger}
}

// Handle processes an SQS batch. Undecodable messages are dropped; failed deliveries are reported
// back as batch item failures so only those messages are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		logger := p.logger.With(zap.String("message_id", rec.MessageId))
		msg, err := notify.Decode(rec.Body)
		if err != nil {
			logger.Error("notification_dropped", zap.Error(err))
			continue
		}
		logger = logger.With(zap.String("type", msg.Type), zap.String("order_id", msg.OrderID))

		if err := p.deliverer.Deliver(logging.WithContext(ctx, logger), msg); err != nil {
			logger.Warn("notification_delivery_failed", zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}
