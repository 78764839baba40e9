package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepwatch/internal/types"
)

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func datumValues(input *cloudwatch.PutMetricDataInput) map[string]float64 {
	out := make(map[string]float64, len(input.MetricData))
	for _, d := range input.MetricData {
		out[*d.MetricName] = *d.Value
	}
	return out
}

func TestRecordProcessingPublishesNonZeroCounters(t *testing.T) {
	client := &mockCloudWatch{}
	m := NewEngineMetrics(client, "Sleepwatch", discardLogger())

	m.RecordProcessing(context.Background(), types.ProcessingReport{
		SessionsVisited:   3,
		ReadingsProcessed: 42,
		AlertsEmitted:     2,
	})

	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "Sleepwatch", *input.Namespace)

	values := datumValues(input)
	assert.Equal(t, map[string]float64{
		MetricReadingsProcessed: 42,
		MetricAlertsEmitted:     2,
	}, values)

	for _, d := range input.MetricData {
		assert.Equal(t, cwtypes.StandardUnitCount, d.Unit)
	}
}

func TestRecordProcessingAllZeroSkipsCall(t *testing.T) {
	client := &mockCloudWatch{}
	m := NewEngineMetrics(client, "Sleepwatch", discardLogger())

	m.RecordProcessing(context.Background(), types.ProcessingReport{SessionsVisited: 5})
	assert.Empty(t, client.inputs)
}

func TestRecordAggregation(t *testing.T) {
	client := &mockCloudWatch{}
	m := NewEngineMetrics(client, "Sleepwatch", discardLogger())

	m.RecordAggregation(context.Background(), types.AggregationReport{
		SummariesWritten: 4,
		Deferred:         1,
	})

	require.Len(t, client.inputs, 1)
	assert.Equal(t, map[string]float64{
		MetricSummariesWritten: 4,
		MetricSessionsDeferred: 1,
	}, datumValues(client.inputs[0]))
}

func TestRecordPollError(t *testing.T) {
	client := &mockCloudWatch{}
	m := NewEngineMetrics(client, "Sleepwatch", discardLogger())

	m.RecordPollError(context.Background())

	require.Len(t, client.inputs, 1)
	assert.Equal(t, map[string]float64{MetricPollErrors: 1}, datumValues(client.inputs[0]))
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	client := &mockCloudWatch{err: errors.New("access denied")}
	m := NewEngineMetrics(client, "Sleepwatch", discardLogger())

	// Must not panic or propagate; the datapoint is simply lost.
	m.RecordPollError(context.Background())
	assert.Len(t, client.inputs, 1)
}
