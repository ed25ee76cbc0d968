package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/notify"
)

func main() {
	cfg := config.Load()
	logger := logging.MustNewLogger(cfg.ServiceName+"-worker", cfg.Env)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	p := NewProcessor(notify.LogDeliverer{}, logger)

	// If RUN_LOCAL=true, process a single message from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"type":"order_confirmation","order_id":"local-order-1","total_amount":1000,"currency":"INR"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler failed", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
