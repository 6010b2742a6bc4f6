package cli

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mgpai22/subburn/internal/config"
	"github.com/mgpai22/subburn/internal/ffmpeg"
	"github.com/mgpai22/subburn/internal/store"
	"github.com/mgpai22/subburn/internal/subtitle"
)

func TestTranslatedPath(t *testing.T) {
	tests := []struct {
		path    string
		lang    string
		overlay bool
		want    string
	}{
		{"talk.srt", "ja", false, "talk.ja.srt"},
		{"dir/talk.srt", "Brazilian Portuguese", false, "dir/talk.brazilian-portuguese.srt"},
		{"talk.srt", "es", true, "talk.es.overlay.srt"},
	}
	for _, tt := range tests {
		if got := translatedPath(tt.path, tt.lang, tt.overlay); got != tt.want {
			t.Errorf("translatedPath(%q, %q, %v) = %q, want %q", tt.path, tt.lang, tt.overlay, got, tt.want)
		}
	}
}

func TestOverlaySegments(t *testing.T) {
	original := []subtitle.Segment{{Start: 1, End: 2, Text: " Hello "}}
	translated := []subtitle.Segment{{Start: 1, End: 2, Text: "Hola"}}

	got := overlaySegments(translated, original)
	if got[0].Text != "Hola\nHello" || got[0].Start != 1 || got[0].End != 2 {
		t.Errorf("unexpected overlay %+v", got[0])
	}
	if translated[0].Text != "Hola" {
		t.Error("input must not be modified")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "****"},
		{"sk-abcdefghijkl1234", "****1234"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactedLeavesOriginal(t *testing.T) {
	c := config.Default()
	c.Translate.AnthropicAPIKey = "sk-ant-0123456789"

	r := redacted(c)
	if r.Translate.AnthropicAPIKey != "****6789" {
		t.Errorf("unexpected masked key %q", r.Translate.AnthropicAPIKey)
	}
	if c.Translate.AnthropicAPIKey != "sk-ant-0123456789" {
		t.Error("redacted must not modify its argument")
	}
}

func TestOutputsTable(t *testing.T) {
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	rendered := outputsTable([]store.Output{
		{Filename: "abc_clip.mp4_subtitled.mp4", OriginalName: "clip.mp4", Language: "en", SizeBytes: 1_500_000, CreatedAt: now.Add(-2 * time.Hour)},
		{Filename: "def_talk.mp4_subtitled.mp4", OriginalName: "talk.mp4", CreatedAt: now},
	}, now)

	for _, want := range []string{"File", "abc_clip.mp4_subtitled.mp4", "1.5 MB", "2 hours ago", "talk.mp4"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("table missing %q:\n%s", want, rendered)
		}
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	rendered := renderTable([]string{"A", "B"}, [][]string{{"only"}})
	if !strings.Contains(rendered, "only") {
		t.Errorf("unexpected table:\n%s", rendered)
	}
	if renderTable(nil, nil) != "" {
		t.Error("expected empty output without headers")
	}
}

func TestRunChecks(t *testing.T) {
	locator := ffmpeg.NewLocator(ffmpeg.Options{FFmpegPath: "/opt/ffmpeg", FFprobePath: "/opt/ffprobe"})

	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		switch name {
		case "/opt/ffmpeg":
			return []byte("ffmpeg version 6.1 Copyright\nbuilt with gcc"), nil
		case "/opt/ffprobe":
			return []byte("ffprobe version 6.1\n"), nil
		default:
			return nil, errors.New("exec: not found")
		}
	}

	c := config.Default()
	results := runChecks(context.Background(), &c, locator, run)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %+v", results)
	}
	if !results[0].ok || results[0].detail != "ffmpeg version 6.1 Copyright" {
		t.Errorf("unexpected ffmpeg result %+v", results[0])
	}
	if !results[1].ok || results[1].detail != "ffprobe version 6.1" {
		t.Errorf("unexpected ffprobe result %+v", results[1])
	}
	if results[2].ok || !strings.Contains(results[2].detail, "openai-whisper") {
		t.Errorf("missing whisper should fail with a hint, got %+v", results[2])
	}

	c.Transcribe.Provider = "openai"
	results = runChecks(context.Background(), &c, locator, run)
	if last := results[len(results)-1]; last.name != "OPENAI_API_KEY" || last.ok {
		t.Errorf("expected failing key check, got %+v", last)
	}
}

func TestReplaceExt(t *testing.T) {
	if got := replaceExt("a/b/video.mkv", ".wav"); got != "a/b/video.wav" {
		t.Errorf("replaceExt = %q", got)
	}
	if got := replaceExt("noext", ".mp3"); got != "noext.mp3" {
		t.Errorf("replaceExt = %q", got)
	}
}
