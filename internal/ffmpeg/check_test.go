package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fakeBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestLocatorExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	locator := NewLocator(Options{
		FFmpegPath:  fakeBinary(t, dir, "ffmpeg"),
		FFprobePath: fakeBinary(t, dir, "ffprobe"),
	})

	paths, err := locator.Paths()
	if err != nil {
		t.Fatalf("Paths returned error: %v", err)
	}
	if paths.FFmpeg != filepath.Join(dir, "ffmpeg") || paths.FFprobe != filepath.Join(dir, "ffprobe") {
		t.Errorf("unexpected paths %+v", paths)
	}
}

func TestLocatorUnavailableWithoutDownload(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	locator := NewLocator(Options{})

	_, err := locator.Paths()
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLocatorRetriesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", dir)
	locator := NewLocator(Options{})

	if _, err := locator.Paths(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable before install, got %v", err)
	}

	fakeBinary(t, dir, "ffmpeg")
	fakeBinary(t, dir, "ffprobe")

	paths, err := locator.Paths()
	if err != nil {
		t.Fatalf("Paths after install: %v", err)
	}
	if paths.FFprobe != filepath.Join(dir, "ffprobe") {
		t.Errorf("unexpected paths %+v", paths)
	}
}

func TestCheckerNeedsOnlyFFmpeg(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", dir)
	ffmpegPath := fakeBinary(t, dir, "ffmpeg")

	var ran string
	checker := NewChecker(NewLocator(Options{})).WithCommandRunner(func(_ context.Context, name string, _ ...string) ([]byte, error) {
		ran = name
		return []byte("ffmpeg version 6.1\n"), nil
	})

	if err := checker.Check(context.Background()); err != nil {
		t.Fatalf("Check without ffprobe: %v", err)
	}
	if ran != ffmpegPath {
		t.Errorf("ran %q, want %q", ran, ffmpegPath)
	}
}

func TestCheckerCheck(t *testing.T) {
	dir := t.TempDir()
	locator := NewLocator(Options{
		FFmpegPath:  fakeBinary(t, dir, "ffmpeg"),
		FFprobePath: fakeBinary(t, dir, "ffprobe"),
	})

	tests := []struct {
		name    string
		out     string
		runErr  error
		wantErr bool
	}{
		{"ok", "ffmpeg version 6.1 Copyright (c) 2000-2023\nbuilt with gcc\n", nil, false},
		{"exit status", "", errors.New("exit status 1"), true},
		{"wrong binary", "usage: something else\n", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotArgs []string
			checker := NewChecker(locator).WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
				gotArgs = append([]string{name}, args...)
				return []byte(tt.out), tt.runErr
			})

			err := checker.Check(context.Background())
			if tt.wantErr {
				if !errors.Is(err, ErrUnavailable) {
					t.Fatalf("expected ErrUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check returned error: %v", err)
			}
			if len(gotArgs) != 2 || gotArgs[1] != "-version" {
				t.Errorf("unexpected invocation %v", gotArgs)
			}
		})
	}
}

func TestCheckerVersion(t *testing.T) {
	dir := t.TempDir()
	locator := NewLocator(Options{
		FFmpegPath:  fakeBinary(t, dir, "ffmpeg"),
		FFprobePath: fakeBinary(t, dir, "ffprobe"),
	})
	checker := NewChecker(locator).WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("ffmpeg version 6.1\nmore\n"), nil
	})

	version, err := checker.Version(context.Background())
	if err != nil {
		t.Fatalf("Version returned error: %v", err)
	}
	if version != "ffmpeg version 6.1" {
		t.Errorf("unexpected version %q", version)
	}
}

func TestAssetForPlatform(t *testing.T) {
	if _, err := assetForPlatform("plan9", "386"); err == nil {
		t.Error("expected error for unsupported platform")
	}
	name, err := assetForPlatform("linux", "amd64")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "ffmpeg-6.1-linux-64.zip" {
		t.Errorf("unexpected asset %q", name)
	}
}
