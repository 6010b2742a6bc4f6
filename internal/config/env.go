package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored and variables already set win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SUBBURN_ADDR", c.Server.Addr)
	c.Server.MaxUploadBytes = getEnvAsInt64("SUBBURN_MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)
	if origins := getEnv("SUBBURN_CORS_ORIGINS", ""); origins != "" {
		c.Server.CORSOrigins = strings.Split(origins, ",")
	}
	c.Server.RateLimitPerMinute = int(getEnvAsInt64("SUBBURN_RATE_LIMIT_PER_MINUTE", int64(c.Server.RateLimitPerMinute)))

	c.Transcribe.Provider = getEnv("SUBBURN_PROVIDER", c.Transcribe.Provider)
	c.Transcribe.Model = getEnv("SUBBURN_MODEL", c.Transcribe.Model)
	c.Transcribe.Python = getEnv("SUBBURN_PYTHON", c.Transcribe.Python)
	c.Transcribe.Device = getEnv("SUBBURN_DEVICE", c.Transcribe.Device)
	c.Transcribe.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.Transcribe.OpenAIAPIKey)
	c.Transcribe.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.Transcribe.GeminiAPIKey)

	c.Translate.Provider = getEnv("SUBBURN_TRANSLATE_PROVIDER", c.Translate.Provider)
	c.Translate.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.Translate.AnthropicAPIKey)

	c.FFmpeg.FFmpegPath = getEnv("SUBBURN_FFMPEG_PATH", c.FFmpeg.FFmpegPath)
	c.FFmpeg.FFprobePath = getEnv("SUBBURN_FFPROBE_PATH", c.FFmpeg.FFprobePath)
	c.FFmpeg.Precheck = getEnvAsBool("SUBBURN_FFMPEG_PRECHECK", c.FFmpeg.Precheck)

	c.Storage.WorkDir = getEnv("SUBBURN_WORK_DIR", c.Storage.WorkDir)
	c.Storage.OutputDir = getEnv("SUBBURN_OUTPUT_DIR", c.Storage.OutputDir)
	c.Storage.DBPath = getEnv("SUBBURN_DB_PATH", c.Storage.DBPath)
	if raw := getEnv("SUBBURN_RETENTION", ""); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			c.Storage.Retention = Duration{d}
		}
	}

	c.Metrics.Enabled = getEnvAsBool("SUBBURN_METRICS", c.Metrics.Enabled)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
