package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	ffmpegbin "github.com/mgpai22/subburn/internal/ffmpeg"
)

const diagnosticLines = 20

// MediaBurner renders a subtitle file into the video stream of inputPath.
type MediaBurner interface {
	Burn(ctx context.Context, inputPath, subtitlePath, outputPath string) error
}

// BurnError is returned when ffmpeg ran but exited non-zero.
type BurnError struct {
	ExitCode   int
	Diagnostic string
}

func (e *BurnError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("ffmpeg exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("ffmpeg exited with status %d: %s", e.ExitCode, e.Diagnostic)
}

// SubtitleStyle maps to the libass force_style option. Zero values keep
// ffmpeg defaults.
type SubtitleStyle struct {
	FontName string
	FontSize int
}

func (s SubtitleStyle) forceStyle() string {
	var parts []string
	if s.FontName != "" {
		parts = append(parts, "FontName="+s.FontName)
	}
	if s.FontSize > 0 {
		parts = append(parts, fmt.Sprintf("FontSize=%d", s.FontSize))
	}
	return strings.Join(parts, ",")
}

// FFmpegBurner burns subtitles with `ffmpeg -vf subtitles=...`.
type FFmpegBurner struct {
	locator *ffmpegbin.Locator
	style   SubtitleStyle
	run     ffmpegbin.CommandRunner
}

func NewBurner(locator *ffmpegbin.Locator, style SubtitleStyle) *FFmpegBurner {
	return &FFmpegBurner{
		locator: locator,
		style:   style,
		run:     ffmpegbin.ExecRunner,
	}
}

func (b *FFmpegBurner) WithCommandRunner(run ffmpegbin.CommandRunner) *FFmpegBurner {
	if run != nil {
		b.run = run
	}
	return b
}

func (b *FFmpegBurner) Burn(ctx context.Context, inputPath, subtitlePath, outputPath string) error {
	ffmpegPath, err := b.locator.FFmpegPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	out, err := b.run(ctx, ffmpegPath, b.args(inputPath, subtitlePath, outputPath)...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &BurnError{
			ExitCode:   exitErr.ExitCode(),
			Diagnostic: stderrTail(out, diagnosticLines),
		}
	}
	// the binary could not be started at all
	return fmt.Errorf("%w: %v", ffmpegbin.ErrUnavailable, err)
}

func (b *FFmpegBurner) args(inputPath, subtitlePath, outputPath string) []string {
	filter := fmt.Sprintf("subtitles='%s'", escapeFilterPath(subtitlePath))
	if style := b.style.forceStyle(); style != "" {
		filter += fmt.Sprintf(":force_style='%s'", style)
	}

	return ffmpeg.Input(filepath.ToSlash(inputPath)).
		Output(filepath.ToSlash(outputPath), ffmpeg.KwArgs{
			"vf":  filter,
			"c:a": "copy",
		}).
		OverWriteOutput().
		GetArgs()
}

// escapeFilterPath quotes a path for use inside the subtitles filter.
// Backslashes become forward slashes, and ':' and '\'' are escaped.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.ReplaceAll(path, ":", `\:`)
	path = strings.ReplaceAll(path, "'", `\'`)
	return path
}

func stderrTail(out []byte, lines int) string {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}
