// Package pipeline runs one media file through transcription, optional
// translation, SRT serialization and subtitle burn-in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/mgpai22/subburn/internal/logging"
	"github.com/mgpai22/subburn/internal/store"
	"github.com/mgpai22/subburn/internal/subtitle"
	"github.com/mgpai22/subburn/internal/transcribe"
	"github.com/mgpai22/subburn/internal/translate"
	"github.com/mgpai22/subburn/internal/video"
)

// OutputSuffix is appended to the input path to name the burned video.
const OutputSuffix = "_subtitled.mp4"

// Stage names used in errors, logs and metrics.
const (
	StagePrecheck   = "precheck"
	StageProbe      = "probe"
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
	StageSubtitles  = "subtitles"
	StageBurn       = "burn"
	StageRecord     = "record"
)

// StageError reports which step of the pipeline failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, or "" when err did not come
// from the pipeline.
func FailedStage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

// ErrTranslatorUnavailable reports that no translator could be built for a
// request, as opposed to the provider failing.
var ErrTranslatorUnavailable = errors.New("translator unavailable")

// Checker verifies that ffmpeg can run.
type Checker interface {
	Check(ctx context.Context) error
}

// Recorder persists produced outputs.
type Recorder interface {
	Record(ctx context.Context, out store.Output) error
}

// TranslatorFactory builds a translator for one request.
type TranslatorFactory func(ctx context.Context, sourceLanguage, targetLanguage string) (translate.Translator, error)

// Request describes one file to process.
type Request struct {
	ID           string
	SourcePath   string
	OriginalName string
	Language     string
	TranslateTo  string

	// OutputPath overrides the default <OutputDir>/<input name>_subtitled.mp4.
	OutputPath string
	// SubtitlePath, when set, keeps the SRT there instead of a temporary file.
	SubtitlePath string
	// Segments skips transcription and burns these instead.
	Segments []subtitle.Segment
	// KeepSource leaves SourcePath in place after processing.
	KeepSource bool
}

// Outcome is the result of a successful Process call.
type Outcome struct {
	ID            string
	Text          string
	Language      string
	Segments      []subtitle.Segment
	HasVideo      bool
	VideoPath     string
	VideoFilename string
	SizeBytes     int64
	SubtitlePath  string
}

// Config holds the per-service settings.
type Config struct {
	WorkDir   string
	OutputDir string
	Precheck  bool
}

// Service wires the collaborators together. Transcriber and Burner are
// required; the rest are optional.
type Service struct {
	cfg         Config
	checker     Checker
	prober      video.Prober
	transcriber transcribe.Transcriber
	translators TranslatorFactory
	burner      video.MediaBurner
	recorder    Recorder
	log         *logging.Logger
	now         func() time.Time
}

// Deps are the collaborators of a Service.
type Deps struct {
	Checker     Checker
	Prober      video.Prober
	Transcriber transcribe.Transcriber
	Translators TranslatorFactory
	Burner      video.MediaBurner
	Recorder    Recorder
	Logger      *logging.Logger
}

// NewService validates deps and returns a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Burner == nil {
		return nil, errors.New("pipeline: burner is required")
	}
	if cfg.Precheck && deps.Checker == nil {
		return nil, errors.New("pipeline: precheck enabled without a checker")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.WorkDir
	}
	initMetrics()

	return &Service{
		cfg:         cfg,
		checker:     deps.Checker,
		prober:      deps.Prober,
		transcriber: deps.Transcriber,
		translators: deps.Translators,
		burner:      deps.Burner,
		recorder:    deps.Recorder,
		log:         deps.Logger.Component("pipeline"),
		now:         time.Now,
	}, nil
}

// Process runs the pipeline for req. The source file (unless KeepSource) and
// the temporary SRT are removed whether or not processing succeeds.
func (s *Service) Process(ctx context.Context, req Request) (outcome *Outcome, err error) {
	if req.SourcePath == "" {
		return nil, errors.New("source path is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.OriginalName == "" {
		req.OriginalName = filepath.Base(req.SourcePath)
	}

	log := s.log.WithFields("request_id", req.ID, "file", req.OriginalName)
	started := s.now()
	defer func() {
		result := "ok"
		if err != nil {
			result = FailedStage(err)
			log.Warnw("processing failed", "error", err)
		}
		pipelineRuns.WithLabelValues(result).Inc()
	}()

	if !req.KeepSource {
		defer s.remove(log, req.SourcePath)
	}

	if s.cfg.Precheck {
		if err := s.stage(ctx, StagePrecheck, func(ctx context.Context) error {
			return s.checker.Check(ctx)
		}); err != nil {
			return nil, err
		}
	}

	hasVideo := true
	if s.prober != nil {
		if err := s.stage(ctx, StageProbe, func(ctx context.Context) error {
			info, err := s.prober.GetInfo(ctx, req.SourcePath)
			if err != nil {
				return err
			}
			hasVideo = info.HasVideo
			return nil
		}); err != nil {
			return nil, err
		}
	}

	out := &Outcome{ID: req.ID, HasVideo: hasVideo, Language: req.Language}

	segments := req.Segments
	if segments == nil {
		if s.transcriber == nil {
			return nil, &StageError{Stage: StageTranscribe, Err: errors.New("no transcriber configured")}
		}
		var result *transcribe.Result
		if err := s.stage(ctx, StageTranscribe, func(ctx context.Context) error {
			var err error
			result, err = s.transcriber.Transcribe(ctx, req.SourcePath, transcribe.Options{Language: req.Language})
			if err == nil && result == nil {
				err = errors.New("empty transcription result")
			}
			return err
		}); err != nil {
			return nil, err
		}
		segments = result.Segments
		out.Text = result.Text
		if result.Language != "" {
			out.Language = result.Language
		}
		log.Infow("transcribed", "segments", len(segments), "language", out.Language)
	}

	if req.TranslateTo != "" {
		if err := s.stage(ctx, StageTranslate, func(ctx context.Context) error {
			if s.translators == nil {
				return fmt.Errorf("%w: translation is not configured", ErrTranslatorUnavailable)
			}
			tr, err := s.translators(ctx, out.Language, req.TranslateTo)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrTranslatorUnavailable, err)
			}
			segments, err = translate.TranslateSegments(ctx, tr, segments)
			return err
		}); err != nil {
			return nil, err
		}
		out.Language = req.TranslateTo
		out.Text = ""
	}

	if out.Text == "" {
		out.Text = joinText(segments)
	}
	out.Segments = segments

	srtPath := req.SubtitlePath
	if srtPath == "" {
		srtPath = filepath.Join(s.cfg.WorkDir, filepath.Base(req.SourcePath)+".srt")
		defer s.remove(log, srtPath)
	} else {
		out.SubtitlePath = srtPath
	}
	if err := s.stage(ctx, StageSubtitles, func(context.Context) error {
		return subtitle.WriteFile(srtPath, segments)
	}); err != nil {
		return nil, err
	}

	if !hasVideo {
		log.Infow("no video stream, skipping burn-in", "elapsed", s.now().Sub(started).Round(time.Millisecond))
		return out, nil
	}

	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(s.cfg.OutputDir, filepath.Base(req.SourcePath)+OutputSuffix)
	}
	if err := s.stage(ctx, StageBurn, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return err
		}
		return s.burner.Burn(ctx, req.SourcePath, srtPath, outputPath)
	}); err != nil {
		return nil, err
	}

	out.VideoPath = outputPath
	out.VideoFilename = filepath.Base(outputPath)
	if info, err := os.Stat(outputPath); err == nil {
		out.SizeBytes = info.Size()
	}

	if s.recorder != nil {
		if err := s.stage(ctx, StageRecord, func(ctx context.Context) error {
			return s.recorder.Record(ctx, store.Output{
				ID:           out.ID,
				Filename:     out.VideoFilename,
				OriginalName: req.OriginalName,
				Language:     out.Language,
				SizeBytes:    out.SizeBytes,
				CreatedAt:    s.now(),
			})
		}); err != nil {
			// unrecorded outputs are never served or swept
			s.remove(log, outputPath)
			return nil, err
		}
	}

	log.Infow("subtitled video ready",
		"output", out.VideoFilename,
		"size", humanize.Bytes(uint64(max(out.SizeBytes, 0))),
		"elapsed", s.now().Sub(started).Round(time.Millisecond),
	)
	return out, nil
}

func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	started := time.Now()
	err := fn(ctx)
	stageDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

func (s *Service) remove(log *logging.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnw("failed to remove temporary file", "path", path, "error", err)
	}
}

func joinText(segments []subtitle.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
