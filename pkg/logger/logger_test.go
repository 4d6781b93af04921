package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailbridge/pkg/logger"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf))

	log.Info("hello", slog.String("k", "v"))
	record := logLine(t, &buf)
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "v", record["k"])

	buf.Reset()
	log.Debug("below threshold")
	assert.Zero(t, buf.Len())
}

func TestNewTextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithFormat(logger.FormatText))

	log.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestWithLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelDebug))

	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithAttrs(slog.String("service", "mailer")))

	log.Info("hello")
	assert.Equal(t, "mailer", logLine(t, &buf)["service"])
}

type ctxKey struct{}

func TestContextExtractor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithContextExtractor(func(ctx context.Context) (slog.Attr, bool) {
			id, ok := ctx.Value(ctxKey{}).(string)
			return slog.String("request_id", id), ok
		}),
	)

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	log.InfoContext(ctx, "with context")
	assert.Equal(t, "req-1", logLine(t, &buf)["request_id"])

	buf.Reset()
	log.InfoContext(context.Background(), "without value")
	_, ok := logLine(t, &buf)["request_id"]
	assert.False(t, ok)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	var buf bytes.Buffer
	log, err := logger.NewFromEnv(logger.WithOutput(&buf))
	require.NoError(t, err)

	log.Debug("env configured")
	assert.Contains(t, buf.String(), "env configured")
	assert.True(t, strings.HasPrefix(buf.String(), "time="))
}

func TestNewFromEnvInvalid(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	_, err := logger.NewFromEnv()
	assert.Error(t, err)

	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = logger.NewFromEnv()
	assert.Error(t, err)
}
