package database

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetryBackoff_WithinJitterBounds(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		base := defaultRetryBaseWait << attempt
		lo := time.Duration(float64(base) * (1 - retryJitterFraction))
		hi := time.Duration(float64(base) * (1 + retryJitterFraction))
		for i := 0; i < 20; i++ {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax", errors.New(`syntax error at or near "TABLEE"`), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isConnectionError(tc.err))
		})
	}
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM refresh_tokens").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	err = WithTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "DELETE FROM refresh_tokens WHERE expires_at < NOW()")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = WithTx(context.Background(), mock, func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	migrations := fstest.MapFS{
		"002_refresh_tokens.up.sql": {Data: []byte("CREATE TABLE refresh_tokens (id UUID)")},
		"001_identities.up.sql":     {Data: []byte("CREATE TABLE identities (id UUID)")},
		"001_identities.down.sql":   {Data: []byte("DROP TABLE identities")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_identities.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("002_refresh_tokens.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE refresh_tokens").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_refresh_tokens.up.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), mock, migrations, discardLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_SQLErrorNotRetried(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	migrations := fstest.MapFS{"001_bad.up.sql": {Data: []byte("CREATE TABLEE nope")}}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_bad.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLEE").WillReturnError(errors.New(`syntax error at or near "TABLEE"`))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), mock, migrations, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 001_bad.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func setupQueryTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
		SetSlowQueryLogging(0, nil)
	})
	return exporter
}

func TestTraceQuery_RecordsSpanAndSlowQuery(t *testing.T) {
	exporter := setupQueryTracer(t)

	var buf bytes.Buffer
	SetSlowQueryLogging(time.Nanosecond, slog.New(slog.NewJSONHandler(&buf, nil)))

	_, end := TraceQuery(context.Background(), "RevokeRefreshToken", "UPDATE refresh_tokens SET revoked_at = $1")
	time.Sleep(time.Millisecond)
	end(errors.New("connection reset"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.RevokeRefreshToken", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, buf.String(), "slow query detected")
	assert.Contains(t, buf.String(), `"outcome":"error"`)
}

func TestTraceQuery_MissIsNotAFailure(t *testing.T) {
	exporter := setupQueryTracer(t)

	for _, err := range []error{pgx.ErrNoRows, apperrors.ErrNotFound} {
		_, end := TraceQuery(context.Background(), "ConsumeRefreshToken", "UPDATE refresh_tokens ... RETURNING id")
		end(err)
	}

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.NotEqual(t, codes.Error, span.Status.Code)
	}

	ch := make(chan prometheus.Metric, 16)
	queryDuration.Collect(ch)
	close(ch)
	var misses uint64
	for m := range ch {
		d := &dto.Metric{}
		require.NoError(t, m.Write(d))
		labels := map[string]string{}
		for _, lp := range d.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["operation"] == "ConsumeRefreshToken" && labels["outcome"] == outcomeMiss {
			misses = d.GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), misses)
}

func TestSetSlowQueryLogging_ZeroDisables(t *testing.T) {
	setupQueryTracer(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	SetSlowQueryLogging(time.Nanosecond, logger)
	SetSlowQueryLogging(0, logger)

	_, end := TraceQuery(context.Background(), "GetIdentityByEmail", "SELECT id FROM identities WHERE email = $1")
	time.Sleep(time.Millisecond)
	end(nil)

	assert.Empty(t, buf.String())
}
