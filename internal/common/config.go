package common

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/car-analyzer/constants"
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig
	LLM    LLMConfig
	Image  ImageConfig
	Log    LogConfig
}

// ServerConfig holds HTTP and gRPC server configuration
type ServerConfig struct {
	HTTPAddr       string
	GRPCAddr       string // "off" disables the gRPC listener
	MaxUploadBytes int64
	CSRFKey        string
	SecureCookies  bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// LLMConfig holds inference endpoint configuration
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	ImageDetail string // low | high | auto | ""
	Timeout     time.Duration
}

// ImageConfig holds image normalization configuration
type ImageConfig struct {
	MaxDimension  int
	JPEGQuality   int
	HeicConverter string // magick | heif-convert | sips | none
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// LoadConfig loads configuration from environment variables.
// A local .env file is read first when present; real environment variables win.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:       getEnv("GRPC_ADDR", ":9090"),
			MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", constants.DefaultMaxUploadBytes),
			CSRFKey:        os.Getenv("CSRF_KEY"),
			SecureCookies:  getEnvAsBool("SECURE_COOKIES", false),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			// must outlive the upstream call
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			APIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvAsInt("OPENAI_MAX_TOKENS", 300),
			ImageDetail: getEnv("OPENAI_IMAGE_DETAIL", "auto"),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Image: ImageConfig{
			MaxDimension:  getEnvAsInt("IMAGE_MAX_DIMENSION", constants.DefaultMaxDimension),
			JPEGQuality:   getEnvAsInt("IMAGE_JPEG_QUALITY", constants.DefaultJPEGQuality),
			HeicConverter: getEnv("HEIC_CONVERTER", "magick"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the structural settings. A missing OPENAI_API_KEY is not reported here:
// it surfaces as a configuration error on every analysis instead.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if k := c.Server.CSRFKey; k != "" && len(k) < 32 {
		errs = append(errs, errors.New("CSRF_KEY must be at least 32 characters"))
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("OPENAI_BASE_URL is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("OPENAI_MODEL is required"))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("OPENAI_MAX_TOKENS must be positive"))
	}
	switch c.LLM.ImageDetail {
	case "", "low", "high", "auto":
	default:
		errs = append(errs, fmt.Errorf("OPENAI_IMAGE_DETAIL must be one of: low, high, auto (got: %s)", c.LLM.ImageDetail))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("OPENAI_TIMEOUT must be positive"))
	}
	if c.Image.MaxDimension <= 0 {
		errs = append(errs, errors.New("IMAGE_MAX_DIMENSION must be positive"))
	}
	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		errs = append(errs, errors.New("IMAGE_JPEG_QUALITY must be between 1 and 100"))
	}
	switch c.Image.HeicConverter {
	case "magick", "heif-convert", "sips", "none":
	default:
		errs = append(errs, fmt.Errorf("HEIC_CONVERTER must be one of: magick, heif-convert, sips, none (got: %s)", c.Image.HeicConverter))
	}

	if len(errs) > 0 {
		return NewAppError(CodeConfig, "configuration validation failed", errors.Join(errs...))
	}
	return nil
}

// GRPCEnabled reports whether the gRPC listener should be started.
func (c *Config) GRPCEnabled() bool {
	a := strings.TrimSpace(c.Server.GRPCAddr)
	return a != "" && !strings.EqualFold(a, "off")
}

// LogLevel maps Log.Level onto a slog level; unknown values mean info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// MaskSecret returns a short preview of a secret, safe to log.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return "(missing)"
	case len(s) <= 8:
		return "****"
	}
	return s[:4] + "…"
}
