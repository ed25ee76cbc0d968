package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

const tracerName = "storefront.gateway"

const maxResponseBytes = 1 << 20

// caller performs provider HTTP calls with a per-call timeout and a client span.
type caller struct {
	gateway orders.Gateway
	client  *http.Client
	timeout time.Duration
	tracer  trace.Tracer
}

func newCaller(gw orders.Gateway, client *http.Client, timeout time.Duration) *caller {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &caller{gateway: gw, client: client, timeout: timeout, tracer: otel.Tracer(tracerName)}
}

type response struct {
	status int
	body   []byte
}

// do sends the request and classifies failures: 401/403 map to ErrAuthFailed, transport errors,
// timeouts and 5xx map to ErrUnavailable, any other non-2xx maps to ErrBadResponse.
func (c *caller) do(ctx context.Context, op, method, url string, headers map[string]string, body []byte) (_ *response, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.name", string(c.gateway)),
			attribute.String("http.method", method),
		),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		logging.FromContext(ctx).Debug("gateway_call",
			zap.String("gateway", string(c.gateway)),
			zap.String("op", op),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", c.gateway, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s timed out after %s", ErrUnavailable, c.gateway, op, c.timeout)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, c.gateway, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: read body: %v", ErrUnavailable, c.gateway, op, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrAuthFailed, c.gateway, op, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, c.gateway, op, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", ErrBadResponse, c.gateway, op, resp.StatusCode, snippet(raw))
	}
	return &response{status: resp.StatusCode, body: raw}, nil
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
