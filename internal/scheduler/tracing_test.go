package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestJobExecutionSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	h := newHarness(t, WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))))
	h.register(t, "ok", noop)
	h.register(t, "fail", func(context.Context, *testJob) error { return errors.New("boom") })
	h.start(t)
	ctx := WithTenant(context.Background(), 4)

	start := time.Now().Add(50 * time.Millisecond)
	h.schedule(t, ctx, "ok", "ok", nil, &OneShotTrigger{StartDate: start})
	h.schedule(t, ctx, "fail", "fail", nil, &OneShotTrigger{StartDate: start})
	h.record.wait(t, 2)

	var spans []sdktrace.ReadOnlySpan
	require.Eventually(t, func() bool {
		spans = recorder.Ended()
		return len(spans) == 2
	}, 5*time.Second, 20*time.Millisecond)

	status := make(map[string]codes.Code)
	for _, span := range spans {
		assert.Equal(t, "JobExecution", span.Name())
		var jobName string
		var tenantID int64
		for _, kv := range span.Attributes() {
			switch kv.Key {
			case attribute.Key("job.name"):
				jobName = kv.Value.AsString()
			case attribute.Key("tenant.id"):
				tenantID = kv.Value.AsInt64()
			}
		}
		assert.Equal(t, int64(4), tenantID)
		status[jobName] = span.Status().Code
	}
	assert.Equal(t, map[string]codes.Code{"ok": codes.Unset, "fail": codes.Error}, status)
}
