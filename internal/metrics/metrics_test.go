package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "storefront")
	ctx := context.Background()

	p.Count(ctx, WebhooksHandled, L("gateway", "GatewayB"), L("result", "applied"))
	p.Count(ctx, WebhooksHandled, L("gateway", "GatewayB"), L("result", "applied"), L("bogus", "x"))
	p.Count(ctx, PaymentTimeouts)
	p.Count(ctx, "unknown_total")

	if got := testutil.ToFloat64(p.vecs[WebhooksHandled].WithLabelValues("GatewayB", "applied")); got != 2 {
		t.Fatalf("expected 2 webhooks, got %v", got)
	}
	if got := testutil.ToFloat64(p.vecs[PaymentTimeouts].WithLabelValues()); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
}

type captureCW struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (c *captureCW) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.inputs = append(c.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, c.err
}

func TestCloudWatchCount(t *testing.T) {
	cw := &captureCW{}
	NewCloudWatch(cw, "Storefront", "api").Count(context.Background(), OrdersAdmitted, L("method", "COD"), L("empty", ""))
	if len(cw.inputs) != 1 {
		t.Fatalf("expected one PutMetricData, got %d", len(cw.inputs))
	}
	d := cw.inputs[0].MetricData[0]
	if *d.MetricName != OrdersAdmitted || *d.Value != 1 || len(d.Dimensions) != 2 {
		t.Fatalf("unexpected datum %+v", d)
	}

	cw.err = errors.New("throttled")
	NewCloudWatch(cw, "Storefront", "api").Count(context.Background(), PaymentTimeouts)
}
