package observability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTraceIDContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceIDFromContext(ctx))

	ctx = ContextWithTraceID(ctx, "trace-123")
	assert.Equal(t, "trace-123", TraceIDFromContext(ctx))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("info"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	// Unknown strings default to info.
	assert.Equal(t, zerolog.InfoLevel, parseLevel("weird"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	logger := Nop()
	logger.WithContext(ContextWithTraceID(context.Background(), "t")).
		WithTenant("tenant-a").
		WithStage("retrieval").
		Info().
		Str("k", "v").
		Int("n", 1).
		Msg("quiet")
}
