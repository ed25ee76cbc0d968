package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/admission"
	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/cart"
	"github.com/imrishuroy/storefront-reconciler/internal/catalog"
	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/handlers"
	"github.com/imrishuroy/storefront-reconciler/internal/health"
	"github.com/imrishuroy/storefront-reconciler/internal/idempotency"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/metrics"
	"github.com/imrishuroy/storefront-reconciler/internal/notify"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/pricing"
	"github.com/imrishuroy/storefront-reconciler/internal/promo"
	"github.com/imrishuroy/storefront-reconciler/internal/stock"
	"github.com/imrishuroy/storefront-reconciler/internal/webhooks"
)

const metricsNamespace = "storefront"

func main() {
	cfg := config.Load()
	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	for _, w := range cfg.Warnings {
		logger.Warn("config_value_ignored", zap.String("detail", w))
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	var (
		recorder      metrics.Recorder
		metricsHandle http.Handler
	)
	if cfg.RunLocal {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheus(reg, metricsNamespace)
		metricsHandle = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else {
		recorder = metrics.NewCloudWatch(clients.CloudWatch, metricsNamespace, cfg.ServiceName)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	handlers.RegisterRoutes(r, buildHandlers(cfg, clients, recorder, metricsHandle, logger))

	// RUN_LOCAL=true serves plain HTTP for development; otherwise run behind API Gateway.
	if cfg.RunLocal {
		logger.Info("running local server", zap.String("addr", cfg.HTTPAddr))
		if err := r.Run(cfg.HTTPAddr); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func buildHandlers(cfg *config.Config, clients *aws.AWSClients, recorder metrics.Recorder, metricsHandler http.Handler, logger *zap.Logger) handlers.Config {
	ordersStore := orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.GatewayRefIndex)
	catalogStore := catalog.NewStore(clients.DynamoDB, cfg.ProductsTable)
	carts := cart.NewStore(clients.DynamoDB, cfg.CartsTable)
	mutator := stock.NewMutator(catalogStore)
	pricer := pricing.NewPricer(catalogStore, pricing.ShippingRule{FlatFee: cfg.ShippingFlatFee, FreeAbove: cfg.FreeShippingAbove})

	var notifier notify.Notifier
	if cfg.NotificationsQueueURL != "" {
		notifier = notify.NewQueue(aws.NewPublisher(clients.SQS, cfg.NotificationsQueueURL), cfg.AdminAlertEmail)
	} else {
		logger.Warn("notifications disabled: NOTIFICATIONS_QUEUE_URL not set")
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.Payments.NotifyTimeout)

	registry, skipped := gateway.NewRegistryFromConfig(cfg, &http.Client{})
	for _, gw := range skipped {
		logger.Warn("gateway_not_configured", zap.String("gateway", string(gw)))
	}

	deps := &payments.Deps{
		Orders:   ordersStore,
		Stock:    mutator,
		Pricer:   pricer,
		Gateways: registry,
		Guard:    gateway.NewGuard(cfg.Guard),
		Carts:    carts,
		Notify:   dispatcher,
		Metrics:  recorder,
		Config:   cfg.Payments,
	}
	applier := payments.NewApplier(deps)
	initiator := payments.NewInitiator(deps)

	return handlers.Config{
		Admission: admission.NewService(admission.Config{
			Orders:      ordersStore,
			Stock:       mutator,
			Pricer:      pricer,
			Promos:      promo.NewStore(clients.DynamoDB, cfg.PromosTable),
			Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.Payments.IdempotencyTTL),
			Carts:       carts,
			Notify:      dispatcher,
			Metrics:     recorder,
			Currency:    cfg.Currency,
		}),
		Orders:               ordersStore,
		Initiator:            initiator,
		Retry:                payments.NewRetryController(deps, initiator),
		Reconciler:           payments.NewReconciler(deps, applier),
		Applier:              applier,
		Ingestor:             webhooks.NewIngestor(ordersStore, registry, applier, recorder),
		Health:               health.NewChecker(clients.DynamoDB, cfg.OrdersTable, cfg.Payments.HealthCacheTTL),
		TrustIdentityHeaders: cfg.RunLocal,
		Logger:               logger,
		MetricsHandler:       metricsHandler,
	}
}
