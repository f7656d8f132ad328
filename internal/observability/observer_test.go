package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		level Level
		text  string
		slog  slog.Level
	}{
		{LevelVerbose, "DEBUG", slog.LevelDebug},
		{LevelInfo, "INFO", slog.LevelInfo},
		{LevelWarning, "WARN", slog.LevelWarn},
		{LevelError, "ERROR", slog.LevelError},
		{Level(2), "TRACE", slog.LevelDebug},
		{Level(21), "FATAL", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.text, tt.level.String())
			assert.Equal(t, tt.slog, tt.level.SlogLevel())
		})
	}
}

func TestSlogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))

	obs := NewSlogObserver(logger)
	obs.OnEvent(context.Background(), NewEvent(EventJobCommit, LevelVerbose, "ripple.runtime", map[string]any{
		"value": 2,
		"cell":  "a",
	}))

	assert.Equal(t, "level=DEBUG msg=runtime.job.commit source=ripple.runtime cell=a value=2\n", buf.String())
}

func TestMultiObserver(t *testing.T) {
	first := &RecordingObserver{}
	second := &RecordingObserver{}

	obs := NewMultiObserver(first, nil, second)
	obs.OnEvent(context.Background(), NewEvent(EventFlush, LevelVerbose, "test", map[string]any{}))
	obs.OnEvent(context.Background(), NewEvent(EventJobCommit, LevelVerbose, "test", map[string]any{}))

	assert.Len(t, first.Events(), 2)
	assert.Len(t, second.Events(EventFlush), 1)

	first.Reset()
	assert.Empty(t, first.Events())
}

func TestMetrics(t *testing.T) {
	t.Run("nil metrics record nothing", func(t *testing.T) {
		var m *Metrics

		assert.NotPanics(t, func() {
			m.JobCommitted()
			m.JobDropped("unchanged")
			m.Recomputed(errors.New("oops"))
			m.QueueDepth(3)
			m.Drained(time.Millisecond)
			m.Notified("callback")
			m.Flushed(time.Millisecond)
		})
	})

	t.Run("records on the configured registry", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		m := NewMetrics(
			WithRegistry(registry),
			WithNamespace("app"),
			WithSubsystem("cells"),
			WithConstLabels(prometheus.Labels{"env": "test"}),
			WithBuckets([]float64{.001, .01}),
		)

		m.JobCommitted()
		m.JobDropped("unchanged")
		m.JobDropped("unchanged")
		m.Recomputed(nil)
		m.Recomputed(errors.New("oops"))
		m.QueueDepth(4)

		families, err := registry.Gather()
		require.NoError(t, err)

		values := map[string]float64{}
		for _, mf := range families {
			for _, metric := range mf.GetMetric() {
				switch {
				case metric.GetCounter() != nil:
					values[mf.GetName()] += metric.GetCounter().GetValue()
				case metric.GetGauge() != nil:
					values[mf.GetName()] = metric.GetGauge().GetValue()
				}
			}
		}

		assert.Equal(t, map[string]float64{
			"app_cells_jobs_total":             1,
			"app_cells_jobs_dropped_total":     2,
			"app_cells_recomputes_total":       2,
			"app_cells_recompute_errors_total": 1,
			"app_cells_queue_depth":            4,
		}, values)
	})
}
