package transcribe

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mgpai22/subburn/internal/audio"
	"github.com/mgpai22/subburn/internal/config"
	"github.com/mgpai22/subburn/internal/logging"
	"github.com/mgpai22/subburn/internal/subtitle"
)

// transcription result
type Result struct {
	Text     string
	Language string
	Segments []subtitle.Segment
	Duration time.Duration
}

// Transcriber turns a media file into timed segments. Implementations are
// built once and shared between requests.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string, opts Options) (*Result, error)
}

// transcription service provider
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate" // speech to English text
)

// per-request options
type Options struct {
	Language string // source language hint, empty means autodetect
	Task     string // TaskTranscribe (default) or TaskTranslate
	Prompt   string
}

func (o Options) translating() bool {
	return strings.EqualFold(strings.TrimSpace(o.Task), TaskTranslate)
}

// Deps carries shared collaborators for Factory.
type Deps struct {
	Audio   *audio.Tools
	WorkDir string
	Logger  *logging.Logger
}

// Factory builds the configured transcriber.
func Factory(ctx context.Context, cfg config.Transcribe, deps Deps) (Transcriber, error) {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	source := NewAudioSource(deps.Audio, deps.WorkDir)

	switch Provider(cfg.Provider) {
	case ProviderLocal, "":
		return NewLocalTranscriber(LocalOptions{
			Python: cfg.Python,
			Model:  cfg.Model,
			Device: cfg.Device,
			Prompt: cfg.Prompt,
			Logger: deps.Logger.Component("whisper"),
		}), nil
	case ProviderOpenAI:
		return NewOpenAITranscriber(cfg.OpenAIAPIKey, cfg.Model, cfg.Prompt, source)
	case ProviderGemini:
		return NewGeminiTranscriber(ctx, cfg.GeminiAPIKey, cfg.Model, cfg.Prompt, source)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// Close releases resources held by t, if any.
func Close(t Transcriber) error {
	if c, ok := t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// PreparedAudio is a file ready for upload to a remote API.
type PreparedAudio struct {
	Path     string
	Duration time.Duration
	cleanup  func()
}

func (p *PreparedAudio) Cleanup() {
	if p.cleanup != nil {
		p.cleanup()
	}
}

// AudioSource shrinks uploads for remote providers. Media is re-encoded to
// mono mp3 before it leaves the host.
type AudioSource struct {
	tools   *audio.Tools
	workDir string
}

func NewAudioSource(tools *audio.Tools, workDir string) *AudioSource {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &AudioSource{tools: tools, workDir: workDir}
}

func (s *AudioSource) Prepare(ctx context.Context, mediaPath string) (*PreparedAudio, error) {
	if _, err := os.Stat(mediaPath); err != nil {
		return nil, fmt.Errorf("media file not found: %s", mediaPath)
	}
	if s == nil || s.tools == nil {
		return &PreparedAudio{Path: mediaPath}, nil
	}

	duration, _ := s.tools.GetDuration(ctx, mediaPath)

	outPath := filepath.Join(s.workDir, uuid.NewString()+".mp3")
	if err := s.tools.CompressAudio(ctx, mediaPath, outPath, audio.DefaultCompressionOptions()); err != nil {
		return nil, err
	}

	return &PreparedAudio{
		Path:     outPath,
		Duration: duration,
		cleanup:  func() { _ = os.Remove(outPath) },
	}, nil
}

func joinSegmentText(segments []subtitle.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
