package common

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "GRPC_ADDR", "MAX_UPLOAD_BYTES", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"OPENAI_MAX_TOKENS", "OPENAI_TIMEOUT", "OPENAI_IMAGE_DETAIL", "IMAGE_MAX_DIMENSION", "IMAGE_JPEG_QUALITY", "HEIC_CONVERTER", "CSRF_KEY", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	t.Setenv("OPENAI_API_KEY", "  sk-test-123456789  ")

	cfg := LoadConfig()

	assert.Equal(t, "sk-test-123456789", cfg.LLM.APIKey, "key is trimmed")
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 300, cfg.LLM.MaxTokens)
	assert.Equal(t, 2048, cfg.Image.MaxDimension)
	assert.Equal(t, 85, cfg.Image.JPEGQuality)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.True(t, cfg.GRPCEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("OPENAI_TIMEOUT", "10s")
	t.Setenv("IMAGE_MAX_DIMENSION", "1024")
	t.Setenv("GRPC_ADDR", "off")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OPENAI_MAX_TOKENS", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 10*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 300, cfg.LLM.MaxTokens, "unparseable value falls back to the default")
	assert.Equal(t, 1024, cfg.Image.MaxDimension)
	assert.False(t, cfg.GRPCEnabled())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestValidate(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_IMAGE_DETAIL", "HEIC_CONVERTER", "CSRF_KEY", "IMAGE_JPEG_QUALITY"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()
	// a missing key is reported per analysis, not at startup
	require.NoError(t, cfg.Validate())

	cfg.Image.JPEGQuality = 0
	cfg.LLM.ImageDetail = "ultra"
	cfg.Image.HeicConverter = "ffmpeg"
	cfg.Server.CSRFKey = "short"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrConfig)
	for _, want := range []string{"IMAGE_JPEG_QUALITY", "OPENAI_IMAGE_DETAIL", "HEIC_CONVERTER", "CSRF_KEY"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                    "(missing)",
		"short":               "****",
		"sk-proj-abcdefghijk": "sk-p…",
	}
	for in, want := range tests {
		assert.Equal(t, want, MaskSecret(in), "MaskSecret(%q)", in)
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	fallback := slog.Default()
	assert.Same(t, fallback, LoggerFromContext(ctx, fallback))

	scoped := slog.Default().With("transport", "test")
	ctx = WithLogger(WithRequestID(ctx, "req-1"), scoped)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Same(t, scoped, LoggerFromContext(ctx, fallback))
}
