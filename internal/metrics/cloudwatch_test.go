package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"mealreminder/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

type recordingLogger struct {
	errors []string
}

func (l *recordingLogger) Debug(string, ...any)       {}
func (l *recordingLogger) Info(string, ...any)        {}
func (l *recordingLogger) Warn(string, ...any)        {}
func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) With(...any) types.Logger   { return l }

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, value string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != value {
				t.Errorf("dimension %s: expected %q, got %q", name, value, *d.Value)
			}
			return
		}
	}
	t.Errorf("dimension %s not found", name)
}

func datumByName(t *testing.T, data []cwtypes.MetricDatum, name string) cwtypes.MetricDatum {
	t.Helper()
	for _, d := range data {
		if *d.MetricName == name {
			return d
		}
	}
	t.Fatalf("metric %s not found", name)
	return cwtypes.MetricDatum{}
}

func TestCloudWatch_RecordRun(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "", &recordingLogger{})

	m.RecordRun(context.Background(), &types.RunReport{
		RunID:      "r1",
		Options:    types.RunOptions{Trigger: "cron"},
		Summary:    types.RunSummary{UsersChecked: 4, Matches: 2, Sent: 1, Skipped: 9, Errors: 1},
		DurationMs: 812,
	})

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	if len(input.MetricData) != 6 {
		t.Fatalf("expected 6 metric datums, got %d", len(input.MetricData))
	}

	want := map[string]float64{
		types.MetricUsersChecked: 4,
		types.MetricMatches:      2,
		types.MetricSent:         1,
		types.MetricSkipped:      9,
		types.MetricErrors:       1,
	}
	for name, v := range want {
		d := datumByName(t, input.MetricData, name)
		if *d.Value != v {
			t.Errorf("%s: expected %v, got %v", name, v, *d.Value)
		}
		if d.Unit != cwtypes.StandardUnitCount {
			t.Errorf("%s: expected unit Count, got %s", name, d.Unit)
		}
		assertDimension(t, d.Dimensions, types.DimTrigger, "cron")
		assertDimension(t, d.Dimensions, types.DimMode, ModeLive)
	}

	dur := datumByName(t, input.MetricData, types.MetricRunDuration)
	if *dur.Value != 812 || dur.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("unexpected duration datum: %v %s", *dur.Value, dur.Unit)
	}
}

func TestCloudWatch_RecordRun_DryRunAndNamespace(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "Custom/Reminders", nil)

	m.RecordRun(context.Background(), &types.RunReport{Options: types.RunOptions{DryRun: true}})

	input := cw.calls[0]
	if *input.Namespace != "Custom/Reminders" {
		t.Errorf("expected custom namespace, got %q", *input.Namespace)
	}
	d := datumByName(t, input.MetricData, types.MetricSent)
	assertDimension(t, d.Dimensions, types.DimMode, ModeDryRun)
	assertDimension(t, d.Dimensions, types.DimTrigger, "unknown")
}

func TestCloudWatch_RecordRun_NilReport(t *testing.T) {
	cw := &mockCloudWatchClient{}
	NewCloudWatch(cw, "", nil).RecordRun(context.Background(), nil)
	if len(cw.calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(cw.calls))
	}
}

func TestCloudWatch_ErrorsAreLogged(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	logger := &recordingLogger{}
	m := NewCloudWatch(cw, "", logger)

	m.RecordRun(context.Background(), &types.RunReport{})
	m.RecordRequest("GET", "/ping", "200", time.Millisecond)

	if len(logger.errors) != 2 {
		t.Fatalf("expected 2 logged errors, got %d", len(logger.errors))
	}
}

func TestCloudWatch_RecordRequest(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatch(cw, "", types.NewSlogAdapter(slog.New(slog.NewTextHandler(io.Discard, nil))))

	m.RecordRequest("POST", "/api/cron/send-reminders", "200", 1500*time.Millisecond)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}
	data := cw.calls[0].MetricData

	cnt := datumByName(t, data, types.MetricAPIRequestCount)
	assertDimension(t, cnt.Dimensions, types.DimMethod, "POST")
	assertDimension(t, cnt.Dimensions, types.DimEndpoint, "/api/cron/send-reminders")
	assertDimension(t, cnt.Dimensions, types.DimStatus, "200")

	lat := datumByName(t, data, types.MetricAPILatency)
	if *lat.Value != 1500 {
		t.Errorf("expected latency 1500, got %v", *lat.Value)
	}
	if len(lat.Dimensions) != 2 {
		t.Errorf("latency should not carry the status dimension, got %d dims", len(lat.Dimensions))
	}
}
