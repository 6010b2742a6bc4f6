package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnavailable reports that the ffmpeg binary is missing or cannot run.
var ErrUnavailable = errors.New("ffmpeg is not available")

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Checker verifies that ffmpeg can be executed.
type Checker struct {
	locator *Locator
	run     CommandRunner
}

func NewChecker(locator *Locator) *Checker {
	return &Checker{locator: locator, run: ExecRunner}
}

// WithCommandRunner swaps the process runner, mainly for tests.
func (c *Checker) WithCommandRunner(run CommandRunner) *Checker {
	if run != nil {
		c.run = run
	}
	return c
}

// Check runs `ffmpeg -version`. Any failure is wrapped in ErrUnavailable.
func (c *Checker) Check(ctx context.Context) error {
	path, err := c.locator.FFmpegPath()
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out, err := c.run(ctx, path, "-version")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s -version: %v", ErrUnavailable, path, err)
	}
	if !strings.Contains(string(out), "ffmpeg version") {
		return fmt.Errorf("%w: unexpected -version output from %s", ErrUnavailable, path)
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`.
func (c *Checker) Version(ctx context.Context) (string, error) {
	path, err := c.locator.FFmpegPath()
	if err != nil {
		return "", err
	}
	out, err := c.run(ctx, path, "-version")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}
