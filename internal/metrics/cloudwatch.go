package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	awsapi "github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
)

// CloudWatch publishes each count as a single PutMetricData datum. Failures are logged only.
type CloudWatch struct {
	client    awsapi.CloudWatchAPI
	namespace string
	service   string
	timeout   time.Duration
	nowFunc   func() time.Time
}

func NewCloudWatch(client awsapi.CloudWatchAPI, namespace, service string) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace, service: service, timeout: 2 * time.Second, nowFunc: time.Now}
}

func (c *CloudWatch) Count(ctx context.Context, name string, labels ...Label) {
	dims := []cwtypes.Dimension{{Name: aws.String("service"), Value: aws.String(c.service)}}
	for _, l := range labels {
		if l.Value == "" {
			continue
		}
		dims = append(dims, cwtypes.Dimension{Name: aws.String(l.Key), Value: aws.String(l.Value)})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(name),
			Dimensions: dims,
			Timestamp:  aws.Time(c.nowFunc()),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(1),
		}},
	})
	if err != nil {
		logging.FromContext(ctx).Warn("metric_publish_failed", zap.String("metric", name), zap.Error(err))
	}
}
