package tracing

import (
	"fmt"
	"strings"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Sampler strategies accepted in telemetry.tracing.sampler.
const (
	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// createSampler builds the process sampler: the configured strategy behind
// ParentBased, so an upstream decision carried in traceparent is kept, and
// in front of that a filter dropping request spans for skipPaths.
func createSampler(strategy string, ratio float64, skipPaths []string) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch strategy {
	case SamplerAlways:
		root = sdktrace.AlwaysSample()
	case SamplerNever:
		root = sdktrace.NeverSample()
	case SamplerRatio:
		if ratio < 0 || ratio > 1 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
		}
		root = sdktrace.TraceIDRatioBased(ratio)
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s (valid: always, never, ratio)", strategy)
	}

	sampler := sdktrace.ParentBased(root)
	if len(skipPaths) == 0 {
		return sampler, nil
	}

	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return &pathFilter{skip: skip, next: sampler}, nil
}

// pathFilter drops server spans named "<METHOD> <path>" whose path is in
// skip. Probes and scrapes would otherwise dominate the sampled traces.
type pathFilter struct {
	skip map[string]struct{}
	next sdktrace.Sampler
}

func (f *pathFilter) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if p.Kind == trace.SpanKindServer {
		if _, path, ok := strings.Cut(p.Name, " "); ok {
			if _, drop := f.skip[path]; drop {
				return sdktrace.SamplingResult{
					Decision:   sdktrace.Drop,
					Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
				}
			}
		}
	}
	return f.next.ShouldSample(p)
}

func (f *pathFilter) Description() string {
	return "PathFilter{" + f.next.Description() + "}"
}
