package database

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

const tracerName = "github.com/medimantra/telehealth/pkg/database"

// Query outcomes. A lookup that matches no row is a miss, not a failure:
// unknown refresh tokens and unused emails are routine.
const (
	outcomeOK    = "ok"
	outcomeMiss  = "miss"
	outcomeError = "error"
)

var queryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "telehealth",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Repository query latency, by operation and outcome",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"operation", "outcome"},
)

type slowQueryLog struct {
	threshold time.Duration
	logger    *slog.Logger
}

var slowQueries atomic.Pointer[slowQueryLog]

// SetSlowQueryLogging warns through logger about every query slower than
// threshold. A zero threshold or nil logger turns it off.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	if threshold <= 0 || logger == nil {
		slowQueries.Store(nil)
		return
	}
	slowQueries.Store(&slowQueryLog{threshold: threshold, logger: logger})
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, apperrors.ErrNotFound):
		return outcomeMiss
	default:
		return outcomeError
	}
}

// TraceQuery wraps one repository statement in a client span and a latency
// sample. Call the returned func with the statement's final error:
//
//	ctx, end := database.TraceQuery(ctx, "ConsumeRefreshToken", consumeRefreshTokenSQL)
//	defer func() { end(err) }()
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperation(operation),
			semconv.DBStatement(statement),
		),
	)

	return ctx, func(err error) {
		elapsed := time.Since(start)
		outcome := outcomeOf(err)
		queryDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())

		if outcome == outcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		cfg := slowQueries.Load()
		if cfg == nil || elapsed < cfg.threshold {
			return
		}
		attrs := []any{
			slog.String("operation", operation),
			slog.String("outcome", outcome),
			slog.Duration("duration", elapsed),
			slog.String("statement", statement),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		cfg.logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}
