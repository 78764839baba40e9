// Package metrics publishes engine cycle counters to CloudWatch. Metric
// publication never fails a cycle; errors are logged and the datapoint is
// lost.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sleepwatch/internal/types"
)

// Metric names emitted to CloudWatch.
const (
	MetricReadingsProcessed = "ReadingsProcessed"
	MetricReadingsSkipped   = "ReadingsSkipped"
	MetricBatchesFailed     = "BatchesFailed"
	MetricAlertsEmitted     = "AlertsEmitted"
	MetricSummariesWritten  = "SummariesWritten"
	MetricSessionsDeferred  = "SessionsDeferred"
	MetricPollErrors        = "PollErrors"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// EngineMetrics publishes engine cycle counters to a CloudWatch namespace.
type EngineMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewEngineMetrics creates an EngineMetrics publishing to the given
// namespace.
func NewEngineMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *EngineMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordProcessing emits counters for one interval-processing pass. Zero
// counters are skipped to keep PutMetricData calls small.
func (m *EngineMetrics) RecordProcessing(ctx context.Context, report types.ProcessingReport) {
	m.publish(ctx, map[string]int{
		MetricReadingsProcessed: report.ReadingsProcessed,
		MetricReadingsSkipped:   report.ReadingsSkipped,
		MetricBatchesFailed:     report.BatchesFailed,
		MetricAlertsEmitted:     report.AlertsEmitted,
	})
}

// RecordAggregation emits counters for one session-aggregation pass.
func (m *EngineMetrics) RecordAggregation(ctx context.Context, report types.AggregationReport) {
	m.publish(ctx, map[string]int{
		MetricSummariesWritten: report.SummariesWritten,
		MetricSessionsDeferred: report.Deferred,
	})
}

// RecordPollError emits one PollErrors datapoint.
func (m *EngineMetrics) RecordPollError(ctx context.Context) {
	m.publish(ctx, map[string]int{MetricPollErrors: 1})
}

func (m *EngineMetrics) publish(ctx context.Context, counters map[string]int) {
	var data []cwtypes.MetricDatum
	for name, value := range counters {
		if value == 0 {
			continue
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(value)),
			Unit:       cwtypes.StandardUnitCount,
		})
	}
	if len(data) == 0 {
		return
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish engine metrics",
			"namespace", m.namespace,
			"error", err,
		)
	}
}
