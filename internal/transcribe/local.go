package transcribe

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mgpai22/subburn/internal/logging"
	"github.com/mgpai22/subburn/internal/subtitle"
)

//go:embed assets/whisper_worker.py
var workerScript []byte

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transcriber closed")

const (
	defaultStartTimeout = 10 * time.Minute
	workerStopGrace     = 5 * time.Second
)

type LocalOptions struct {
	Python       string
	Model        string
	Device       string // auto|cpu|cuda
	Prompt       string
	StartTimeout time.Duration // model download + load
	Logger       *logging.Logger
}

// workerConn is a running helper process.
type workerConn struct {
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stop   func(force bool) error
}

type workerStarter func(opts LocalOptions) (*workerConn, error)

// LocalTranscriber runs openai-whisper in a long-lived python process. The
// model is loaded once when the worker starts and requests are serialised.
// A worker that dies is replaced on the next request.
type LocalTranscriber struct {
	opts  LocalOptions
	start workerStarter
	log   *logging.Logger

	mu     sync.Mutex
	worker *workerConn
	nextID int64
	closed bool
}

type workerRequest struct {
	ID       int64  `json:"id"`
	Audio    string `json:"audio"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type workerResponse struct {
	Ready    *bool            `json:"ready,omitempty"`
	Model    string           `json:"model,omitempty"`
	ID       int64            `json:"id"`
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
	Error    string           `json:"error,omitempty"`
}

func NewLocalTranscriber(opts LocalOptions) *LocalTranscriber {
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.Model == "" {
		opts.Model = "small"
	}
	if opts.Device == "" {
		opts.Device = "auto"
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &LocalTranscriber{
		opts:  opts,
		start: execWorker,
		log:   opts.Logger,
	}
}

// Start launches the worker and waits for the model to load. Calling it is
// optional; Transcribe starts the worker on first use.
func (t *LocalTranscriber) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return t.ensureWorker(ctx)
}

func (t *LocalTranscriber) Transcribe(ctx context.Context, mediaPath string, opts Options) (*Result, error) {
	if _, err := os.Stat(mediaPath); err != nil {
		return nil, fmt.Errorf("media file not found: %s", mediaPath)
	}
	absPath, err := filepath.Abs(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("resolve media path: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if err := t.ensureWorker(ctx); err != nil {
		return nil, err
	}

	t.nextID++
	req := workerRequest{
		ID:       t.nextID,
		Audio:    absPath,
		Language: opts.Language,
		Task:     opts.Task,
		Prompt:   opts.Prompt,
	}
	if req.Prompt == "" {
		req.Prompt = t.opts.Prompt
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}
	if _, err := t.worker.stdin.Write(append(data, '\n')); err != nil {
		t.reset(true)
		return nil, fmt.Errorf("send request to whisper worker: %w", err)
	}

	started := time.Now()
	for {
		resp, err := t.readResponse(ctx)
		if err != nil {
			t.reset(true)
			return nil, err
		}
		if resp == nil || resp.ID != req.ID {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("whisper: %s", resp.Error)
		}

		t.log.Debugw("transcribed",
			"id", req.ID,
			"segments", len(resp.Segments),
			"elapsed", time.Since(started).Round(time.Millisecond),
		)
		return resp.result(), nil
	}
}

// Close stops the worker. The transcriber cannot be used afterwards.
func (t *LocalTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.worker == nil {
		return nil
	}
	err := t.worker.stop(false)
	t.worker = nil
	return err
}

func (t *LocalTranscriber) ensureWorker(ctx context.Context) error {
	if t.worker != nil {
		return nil
	}

	t.log.Infow("starting whisper worker",
		"python", t.opts.Python,
		"model", t.opts.Model,
		"device", t.opts.Device,
	)

	worker, err := t.start(t.opts)
	if err != nil {
		return fmt.Errorf("start whisper worker: %w", err)
	}
	t.worker = worker

	startCtx, cancel := context.WithTimeout(ctx, t.opts.StartTimeout)
	defer cancel()

	for {
		resp, err := t.readResponse(startCtx)
		if err != nil {
			t.reset(true)
			return fmt.Errorf("whisper worker did not become ready: %w", err)
		}
		if resp == nil || resp.Ready == nil {
			continue
		}
		if !*resp.Ready {
			t.reset(true)
			return fmt.Errorf("whisper worker failed to start: %s", resp.Error)
		}
		t.log.Infow("whisper model loaded", "model", resp.Model)
		return nil
	}
}

// readResponse reads one stdout line. Lines that are not JSON yield nil.
func (t *LocalTranscriber) readResponse(ctx context.Context) (*workerResponse, error) {
	type lineResult struct {
		line []byte
		err  error
	}

	reader := t.worker.stdout
	ch := make(chan lineResult, 1)
	go func() {
		line, err := reader.ReadBytes('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("whisper worker exited: %w", r.err)
		}
		var resp workerResponse
		if err := json.Unmarshal(r.line, &resp); err != nil {
			t.log.Debugw("worker output", "line", strings.TrimSpace(string(r.line)))
			return nil, nil
		}
		return &resp, nil
	}
}

func (t *LocalTranscriber) reset(force bool) {
	if t.worker == nil {
		return
	}
	if err := t.worker.stop(force); err != nil {
		t.log.Debugw("whisper worker stopped", "error", err)
	}
	t.worker = nil
}

func (r *workerResponse) result() *Result {
	segments := make([]subtitle.Segment, 0, len(r.Segments))
	for _, seg := range r.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, subtitle.Segment{Start: seg.Start, End: seg.End, Text: text})
	}

	text := strings.TrimSpace(r.Text)
	if text == "" {
		text = joinSegmentText(segments)
	}

	return &Result{
		Text:     text,
		Language: r.Language,
		Segments: segments,
		Duration: time.Duration(r.Duration * float64(time.Second)),
	}
}

// execWorker writes the embedded helper to disk and launches it.
func execWorker(opts LocalOptions) (*workerConn, error) {
	script, err := os.CreateTemp("", "subburn-whisper-*.py")
	if err != nil {
		return nil, fmt.Errorf("create helper script: %w", err)
	}
	scriptPath := script.Name()
	if _, err := script.Write(workerScript); err != nil {
		_ = script.Close()
		_ = os.Remove(scriptPath)
		return nil, fmt.Errorf("write helper script: %w", err)
	}
	_ = script.Close()

	// not CommandContext: the worker outlives any single request
	cmd := exec.Command(opts.Python, scriptPath, "--model", opts.Model, "--device", opts.Device)
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = os.Remove(scriptPath)
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = os.Remove(scriptPath)
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = os.Remove(scriptPath)
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = os.Remove(scriptPath)
		return nil, err
	}

	log := opts.Logger
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				log.Debugw("whisper stderr", "line", line)
			}
		}
	}()

	var once sync.Once
	var stopErr error
	stop := func(force bool) error {
		once.Do(func() {
			_ = stdin.Close()
			done := make(chan error, 1)
			go func() { done <- cmd.Wait() }()

			grace := workerStopGrace
			if force {
				grace = 0
			}
			select {
			case stopErr = <-done:
			case <-time.After(grace):
				_ = cmd.Process.Kill()
				stopErr = <-done
			}
			_ = os.Remove(scriptPath)
		})
		return stopErr
	}

	return &workerConn{
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stop:   stop,
	}, nil
}
