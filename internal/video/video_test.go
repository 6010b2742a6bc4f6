package video

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	ffmpegbin "github.com/mgpai22/subburn/internal/ffmpeg"
)

func testLocator(t *testing.T) *ffmpegbin.Locator {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"ffmpeg", "ffprobe"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatalf("write fake %s: %v", name, err)
		}
	}
	return ffmpegbin.NewLocator(ffmpegbin.Options{
		FFmpegPath:  filepath.Join(dir, "ffmpeg"),
		FFprobePath: filepath.Join(dir, "ffprobe"),
	})
}

func exitError(t *testing.T, code string) error {
	t.Helper()
	err := exec.Command("sh", "-c", "exit "+code).Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *exec.ExitError, got %v", err)
	}
	return err
}

func TestEscapeFilterPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/a.srt", "/tmp/a.srt"},
		{`C:\Users\me\a.srt`, `C\:/Users/me/a.srt`},
		{"/tmp/it's.srt", `/tmp/it\'s.srt`},
	}

	for _, tt := range tests {
		if got := escapeFilterPath(tt.in); got != tt.want {
			t.Errorf("escapeFilterPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBurnArgs(t *testing.T) {
	var got []string
	burner := NewBurner(testLocator(t), SubtitleStyle{FontName: "Arial", FontSize: 24}).
		WithCommandRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
			got = args
			return nil, nil
		})

	out := filepath.Join(t.TempDir(), "clip.mp4_subtitled.mp4")
	if err := burner.Burn(context.Background(), "/tmp/clip.mp4", "/tmp/clip.srt", out); err != nil {
		t.Fatalf("Burn returned error: %v", err)
	}

	wantFilter := "subtitles='/tmp/clip.srt':force_style='FontName=Arial,FontSize=24'"
	for _, want := range []string{"-i", "/tmp/clip.mp4", wantFilter, "copy", "-y", out} {
		if !slices.Contains(got, want) {
			t.Errorf("expected %q in args %v", want, got)
		}
	}
}

func TestBurnNonZeroExit(t *testing.T) {
	var stderr strings.Builder
	for i := 0; i < 30; i++ {
		stderr.WriteString("frame line\n")
	}
	stderr.WriteString("Unable to open /tmp/clip.srt\n")

	runErr := exitError(t, "3")
	burner := NewBurner(testLocator(t), SubtitleStyle{}).
		WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
			return []byte(stderr.String()), runErr
		})

	err := burner.Burn(context.Background(), "/tmp/in.mp4", "/tmp/clip.srt", filepath.Join(t.TempDir(), "out.mp4"))

	var burnErr *BurnError
	if !errors.As(err, &burnErr) {
		t.Fatalf("expected *BurnError, got %v", err)
	}
	if burnErr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", burnErr.ExitCode)
	}
	if !strings.HasSuffix(burnErr.Diagnostic, "Unable to open /tmp/clip.srt") {
		t.Errorf("unexpected diagnostic %q", burnErr.Diagnostic)
	}
	if lines := strings.Count(burnErr.Diagnostic, "\n") + 1; lines != diagnosticLines {
		t.Errorf("expected %d diagnostic lines, got %d", diagnosticLines, lines)
	}
}

func TestBurnStartFailureIsUnavailable(t *testing.T) {
	burner := NewBurner(testLocator(t), SubtitleStyle{}).
		WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
			return nil, exec.ErrNotFound
		})

	err := burner.Burn(context.Background(), "/tmp/in.mp4", "/tmp/a.srt", filepath.Join(t.TempDir(), "out.mp4"))
	if !errors.Is(err, ffmpegbin.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantVideo bool
		wantAudio bool
		wantFPS   float64
	}{
		{
			name: "video with audio",
			json: `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,"avg_frame_rate":"30000/1001"},
				{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"61.5"}}`,
			wantVideo: true,
			wantAudio: true,
			wantFPS:   30000.0 / 1001.0,
		},
		{
			name:      "audio only",
			json:      `{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"3.0"}}`,
			wantAudio: true,
		},
		{
			name: "audio with cover art",
			json: `{"streams":[{"codec_type":"audio"},{"codec_type":"video","codec_name":"mjpeg","disposition":{"attached_pic":1}}],
				"format":{"duration":"3.0"}}`,
			wantAudio: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseProbe([]byte(tt.json))
			if err != nil {
				t.Fatalf("parseProbe returned error: %v", err)
			}
			if info.HasVideo != tt.wantVideo || info.HasAudio != tt.wantAudio {
				t.Errorf("got video=%v audio=%v", info.HasVideo, info.HasAudio)
			}
			if info.FrameRate != tt.wantFPS {
				t.Errorf("expected fps %v, got %v", tt.wantFPS, info.FrameRate)
			}
		})
	}
}

func TestGetInfo(t *testing.T) {
	media := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(media, []byte("x"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}

	processor := NewProcessor(testLocator(t)).
		WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			if !slices.Contains(args, "-show_streams") {
				t.Errorf("expected -show_streams in %v", args)
			}
			return []byte(`{"streams":[{"codec_type":"video","width":640,"height":360,"avg_frame_rate":"25/1"}],"format":{"duration":"2"}}`), nil
		})

	info, err := processor.GetInfo(context.Background(), media)
	if err != nil {
		t.Fatalf("GetInfo returned error: %v", err)
	}
	if info.Path != media || info.Width != 640 || info.Duration != 2*time.Second || info.FrameRate != 25 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestExtractAudioArgs(t *testing.T) {
	media := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(media, []byte("x"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}

	var got []string
	processor := NewProcessor(testLocator(t)).
		WithCommandRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
			got = args
			return nil, nil
		})

	out := filepath.Join(t.TempDir(), "clip.wav")
	if err := processor.ExtractAudio(context.Background(), media, out, DefaultExtractAudioOptions()); err != nil {
		t.Fatalf("ExtractAudio returned error: %v", err)
	}
	for _, want := range []string{"-vn", "pcm_s16le", "16000", out} {
		if !slices.Contains(got, want) {
			t.Errorf("expected %q in args %v", want, got)
		}
	}
}
