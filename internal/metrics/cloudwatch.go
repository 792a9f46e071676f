// Package metrics publishes reminder run and API request telemetry to
// CloudWatch.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"mealreminder/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Mode dimension values.
const (
	ModeLive   = "live"
	ModeDryRun = "dry_run"
)

// requestTimeout bounds PutMetricData calls made outside a request context.
const requestTimeout = 2 * time.Second

// CloudWatch emits run summaries and API request metrics. Publish failures
// are logged and never reach the caller.
//
// Metrics emitted per run, all with Dims {Trigger, Mode}:
//   - UsersChecked, SlotMatches, RemindersSent, SlotsSkipped, RunErrors (Count)
//   - RunDuration (Milliseconds)
//
// Per API request:
//   - APIRequestCount: Dims {Method, Endpoint, Status}
//   - APILatency: Dims {Method, Endpoint}
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatch creates a publisher. An empty namespace uses types.MetricNamespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatch {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = types.NewSlogAdapter(nil)
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

// RecordRun publishes the summary counters of one run in a single call.
func (m *CloudWatch) RecordRun(ctx context.Context, report *types.RunReport) {
	if report == nil {
		return
	}
	trigger := report.Options.Trigger
	if trigger == "" {
		trigger = "unknown"
	}
	mode := ModeLive
	if report.Options.DryRun {
		mode = ModeDryRun
	}
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimTrigger), Value: aws.String(trigger)},
		{Name: aws.String(types.DimMode), Value: aws.String(mode)},
	}

	s := report.Summary
	data := []cwtypes.MetricDatum{
		count(types.MetricUsersChecked, s.UsersChecked, dims),
		count(types.MetricMatches, s.Matches, dims),
		count(types.MetricSent, s.Sent, dims),
		count(types.MetricSkipped, s.Skipped, dims),
		count(types.MetricErrors, s.Errors, dims),
		{
			MetricName: aws.String(types.MetricRunDuration),
			Value:      aws.Float64(float64(report.DurationMs)),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record run metrics",
			"error", err.Error(),
			"run_id", report.RunID,
			"trigger", trigger,
		)
	}
}

// RecordRequest publishes request count and latency for one API call.
func (m *CloudWatch) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	base := []cwtypes.Dimension{
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
	}
	withStatus := append(append([]cwtypes.Dimension{}, base...),
		cwtypes.Dimension{Name: aws.String(types.DimStatus), Value: aws.String(status)})

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			count(types.MetricAPIRequestCount, 1, withStatus),
			{
				MetricName: aws.String(types.MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: base,
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record request metric",
			"error", err.Error(),
			"method", method,
			"endpoint", endpoint,
			"status", status,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

func count(name string, v int, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(v)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

// Nop discards everything. It satisfies both the run and request collectors.
type Nop struct{}

// RecordRun does nothing.
func (Nop) RecordRun(context.Context, *types.RunReport) {}

// RecordRequest does nothing.
func (Nop) RecordRequest(string, string, string, time.Duration) {}
