package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// DefaultFileName is looked up in the working directory when no --config is given.
const DefaultFileName = "subburn.toml"

// Duration decodes TOML strings such as "30s" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" || raw == "0" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Server holds HTTP listener settings.
type Server struct {
	Addr               string   `toml:"addr" validate:"required"`
	MaxUploadBytes     int64    `toml:"max_upload_bytes" validate:"gt=0"`
	CORSOrigins        []string `toml:"cors_origins" validate:"min=1"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute" validate:"gte=0"`
	RateLimitBurst     int      `toml:"rate_limit_burst" validate:"gte=0"`
	ShutdownTimeout    Duration `toml:"shutdown_timeout"`
}

// Transcribe selects and configures the speech model.
type Transcribe struct {
	Provider     string `toml:"provider" validate:"oneof=local openai gemini"`
	Model        string `toml:"model"`
	Python       string `toml:"python"`
	Device       string `toml:"device" validate:"oneof=auto cpu cuda"`
	Prompt       string `toml:"prompt"`
	OpenAIAPIKey string `toml:"openai_api_key"`
	GeminiAPIKey string `toml:"gemini_api_key"`
}

// Translate configures optional subtitle translation.
type Translate struct {
	Provider        string `toml:"provider" validate:"oneof=anthropic openai gemini"`
	Model           string `toml:"model"`
	BatchSize       int    `toml:"batch_size" validate:"gte=0"`
	Concurrency     int    `toml:"concurrency" validate:"gte=0"`
	AnthropicAPIKey string `toml:"anthropic_api_key"`
}

// FFmpeg configures the burn-in tool.
type FFmpeg struct {
	FFmpegPath    string `toml:"ffmpeg_path"`
	FFprobePath   string `toml:"ffprobe_path"`
	Precheck      bool   `toml:"precheck"`
	AllowDownload bool   `toml:"allow_download"`
	FontSize      int    `toml:"font_size" validate:"gte=0"`
	FontName      string `toml:"font_name"`
}

// Storage configures where request files live.
type Storage struct {
	WorkDir       string   `toml:"work_dir"`
	OutputDir     string   `toml:"output_dir"`
	DBPath        string   `toml:"db_path"`
	Retention     Duration `toml:"retention"`
	SweepInterval Duration `toml:"sweep_interval"`
}

type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config is the full subburn configuration.
type Config struct {
	Server     Server     `toml:"server"`
	Transcribe Transcribe `toml:"transcribe"`
	Translate  Translate  `toml:"translate"`
	FFmpeg     FFmpeg     `toml:"ffmpeg"`
	Storage    Storage    `toml:"storage"`
	Metrics    Metrics    `toml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:               ":5000",
			MaxUploadBytes:     100 * 1024 * 1024,
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 10,
			RateLimitBurst:     3,
			ShutdownTimeout:    Duration{30 * time.Second},
		},
		Transcribe: Transcribe{
			Provider: "local",
			Model:    "small",
			Python:   "python3",
			Device:   "auto",
		},
		Translate: Translate{
			Provider:    "anthropic",
			BatchSize:   50,
			Concurrency: 3,
		},
		FFmpeg: FFmpeg{
			Precheck: true,
		},
		Storage: Storage{
			Retention:     Duration{24 * time.Hour},
			SweepInterval: Duration{10 * time.Minute},
		},
		Metrics: Metrics{Enabled: true},
	}
}

// SampleConfig returns the annotated sample configuration file.
func SampleConfig() string {
	return sampleConfig
}

// Load reads path (or ./subburn.toml when path is empty and the file exists),
// applies environment overrides, fills derived defaults and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the work and output directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.WorkDir, c.Storage.OutputDir, filepath.Dir(c.Storage.DBPath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Transcribe.Provider = strings.ToLower(strings.TrimSpace(c.Transcribe.Provider))
	c.Translate.Provider = strings.ToLower(strings.TrimSpace(c.Translate.Provider))
	c.Transcribe.Device = strings.ToLower(strings.TrimSpace(c.Transcribe.Device))
	if c.Transcribe.Device == "" {
		c.Transcribe.Device = "auto"
	}
	if c.Transcribe.Python == "" {
		c.Transcribe.Python = "python3"
	}

	if c.Storage.WorkDir == "" {
		c.Storage.WorkDir = os.TempDir()
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = c.Storage.WorkDir
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Storage.WorkDir, "subburn", "subburn.db")
	}
	if c.Storage.SweepInterval.Duration <= 0 {
		c.Storage.SweepInterval = Duration{10 * time.Minute}
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		c.Server.ShutdownTimeout = Duration{30 * time.Second}
	}

	origins := c.Server.CORSOrigins[:0]
	for _, origin := range c.Server.CORSOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Server.CORSOrigins = origins
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file not found: %s", path)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return path, true, nil
	}

	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName, true, nil
	}
	return "", false, nil
}
