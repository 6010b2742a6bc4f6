package cli

import (
	"context"
	"fmt"

	"github.com/mgpai22/subburn/internal/audio"
	"github.com/mgpai22/subburn/internal/config"
	"github.com/mgpai22/subburn/internal/ffmpeg"
	"github.com/mgpai22/subburn/internal/logging"
	"github.com/mgpai22/subburn/internal/pipeline"
	"github.com/mgpai22/subburn/internal/transcribe"
	"github.com/mgpai22/subburn/internal/translate"
	"github.com/mgpai22/subburn/internal/video"
)

// toolchain groups the ffmpeg-backed helpers built from one locator.
type toolchain struct {
	locator   *ffmpeg.Locator
	checker   *ffmpeg.Checker
	processor *video.DefaultProcessor
	audio     *audio.Tools
	burner    *video.FFmpegBurner
}

func newToolchain(c *config.Config) *toolchain {
	locator := ffmpeg.NewLocator(ffmpeg.Options{
		FFmpegPath:    c.FFmpeg.FFmpegPath,
		FFprobePath:   c.FFmpeg.FFprobePath,
		AllowDownload: c.FFmpeg.AllowDownload,
	})
	return &toolchain{
		locator:   locator,
		checker:   ffmpeg.NewChecker(locator),
		processor: video.NewProcessor(locator),
		audio:     audio.NewTools(locator),
		burner: video.NewBurner(locator, video.SubtitleStyle{
			FontName: c.FFmpeg.FontName,
			FontSize: c.FFmpeg.FontSize,
		}),
	}
}

// newTranscriber builds the configured transcriber. The caller closes it.
func newTranscriber(ctx context.Context, c *config.Config, tools *toolchain, log *logging.Logger) (transcribe.Transcriber, error) {
	tr, err := transcribe.Factory(ctx, c.Transcribe, transcribe.Deps{
		Audio:   tools.audio,
		WorkDir: c.Storage.WorkDir,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transcriber: %w", err)
	}
	return tr, nil
}

func translatorFactory(c *config.Config) pipeline.TranslatorFactory {
	return func(ctx context.Context, sourceLanguage, targetLanguage string) (translate.Translator, error) {
		return translate.FromConfig(ctx, c, sourceLanguage, targetLanguage)
	}
}

func newPipeline(c *config.Config, tools *toolchain, tr transcribe.Transcriber, recorder pipeline.Recorder, log *logging.Logger) (*pipeline.Service, error) {
	return pipeline.NewService(pipeline.Config{
		WorkDir:   c.Storage.WorkDir,
		OutputDir: c.Storage.OutputDir,
		Precheck:  c.FFmpeg.Precheck,
	}, pipeline.Deps{
		Checker:     tools.checker,
		Prober:      tools.processor,
		Transcriber: tr,
		Translators: translatorFactory(c),
		Burner:      tools.burner,
		Recorder:    recorder,
		Logger:      log,
	})
}
