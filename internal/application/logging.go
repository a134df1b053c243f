package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/gym-backoffice/internal/lifecycle"
	"github.com/example/gym-backoffice/internal/logging"
)

const instrumentationName = "github.com/example/gym-backoffice/internal/application"

// Recorder receives operation outcomes for metrics. A nil Recorder is ignored.
type Recorder interface {
	ObserveOperation(service, operation, outcome string, elapsed time.Duration)
	ObserveConflicts(count int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, string, time.Duration) {}
func (nopRecorder) ObserveConflicts(int)                                   {}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func defaultRecorder(recorder Recorder) Recorder {
	if recorder != nil {
		return recorder
	}
	return nopRecorder{}
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// observer bundles the logger, tracer and metrics recorder shared by services.
type observer struct {
	service  string
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

func newObserver(service string, logger *slog.Logger, recorder Recorder) observer {
	return observer{
		service:  service,
		logger:   defaultLogger(logger),
		recorder: defaultRecorder(recorder),
		tracer:   otel.Tracer(instrumentationName),
	}
}

// operation is one instrumented service call.
type operation struct {
	name    string
	obs     observer
	logger  *slog.Logger
	span    trace.Span
	started time.Time
}

func (o observer) begin(ctx context.Context, name string, attrs ...any) (context.Context, *operation) {
	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		spanAttrs = append(spanAttrs, attribute.String(key, fmt.Sprint(attrs[i+1])))
	}
	ctx, span := o.tracer.Start(ctx, o.service+"."+name, trace.WithAttributes(spanAttrs...))

	return ctx, &operation{
		name:    name,
		obs:     o,
		logger:  serviceLogger(ctx, o.logger, o.service, name, attrs...),
		span:    span,
		started: time.Now(),
	}
}

// end logs one completion line, closes the span, and records the outcome.
// Rejections caused by the request log at Warn; infrastructure failures at Error.
func (op *operation) end(ctx context.Context, err error, attrs ...any) {
	elapsed := time.Since(op.started)
	kind := ErrorKind(err)
	outcome := kind
	if err == nil {
		outcome = "ok"
	}
	op.obs.recorder.ObserveOperation(op.obs.service, op.name, outcome, elapsed)

	logger := op.logger.With("duration", elapsed)
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	switch kind {
	case "":
		op.span.SetStatus(codes.Ok, "")
		logger.InfoContext(ctx, "operation completed")
	case "persistence", "unexpected":
		op.span.RecordError(err)
		op.span.SetStatus(codes.Error, kind)
		logger.ErrorContext(ctx, "operation failed", "error", err, "error_kind", kind)
	default:
		op.span.SetAttributes(attribute.String("error_kind", kind))
		logger.WarnContext(ctx, "operation rejected", "error", err, "error_kind", kind)
	}
	op.span.End()
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSchedulingConflict):
		return "conflict"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, lifecycle.ErrGuardFailed):
		return "guard_failed"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}
