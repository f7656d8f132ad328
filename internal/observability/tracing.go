package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for runtime spans.
const TracerName = "github.com/AnatoleLucet/ripple"

// DefaultTracer resolves the tracer from the global provider, which is a no-op
// until the application installs one.
func DefaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
