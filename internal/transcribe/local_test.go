package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeWorker speaks the worker protocol over in-memory pipes.
type fakeWorker struct {
	mu       sync.Mutex
	requests []workerRequest
	starts   int
	// respond builds the reply for a request; nil means no reply.
	respond func(req workerRequest) any
	ready   any
}

func (f *fakeWorker) starter() workerStarter {
	return func(LocalOptions) (*workerConn, error) {
		f.mu.Lock()
		f.starts++
		f.mu.Unlock()

		inR, inW := io.Pipe()
		outR, outW := io.Pipe()

		go func() {
			defer outW.Close()
			enc := json.NewEncoder(outW)
			_, _ = io.WriteString(outW, "loading model...\n")
			ready := f.ready
			if ready == nil {
				ready = map[string]any{"ready": true, "model": "small"}
			}
			if err := enc.Encode(ready); err != nil {
				return
			}

			scanner := bufio.NewScanner(inR)
			for scanner.Scan() {
				var req workerRequest
				if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
					return
				}
				f.mu.Lock()
				f.requests = append(f.requests, req)
				respond := f.respond
				f.mu.Unlock()

				reply := respond(req)
				if reply == nil {
					continue
				}
				if err := enc.Encode(reply); err != nil {
					return
				}
			}
		}()

		return &workerConn{
			stdin:  inW,
			stdout: bufio.NewReader(outR),
			stop: func(bool) error {
				_ = inW.Close()
				_ = outR.Close()
				return nil
			},
		}, nil
	}
}

func newTestLocal(f *fakeWorker) *LocalTranscriber {
	tr := NewLocalTranscriber(LocalOptions{StartTimeout: 2 * time.Second, Prompt: "default prompt"})
	tr.start = f.starter()
	return tr
}

func mediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

func okReply(req workerRequest) any {
	return map[string]any{
		"id":       req.ID,
		"text":     " Hello there. General Kenobi. ",
		"language": "en",
		"duration": 3.5,
		"segments": []map[string]any{
			{"start": 0.0, "end": 1.2, "text": " Hello there."},
			{"start": 1.2, "end": 3.5, "text": "General Kenobi. "},
			{"start": 3.5, "end": 3.5, "text": "  "},
		},
	}
}

func TestLocalTranscribe(t *testing.T) {
	f := &fakeWorker{respond: okReply}
	tr := newTestLocal(f)
	defer tr.Close()

	path := mediaFile(t)
	result, err := tr.Transcribe(context.Background(), path, Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}

	if result.Text != "Hello there. General Kenobi." {
		t.Errorf("unexpected text %q", result.Text)
	}
	if result.Language != "en" {
		t.Errorf("unexpected language %q", result.Language)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(result.Segments))
	}
	if result.Segments[0].End != 1.2 || result.Segments[1].Text != "General Kenobi." {
		t.Errorf("unexpected segments %+v", result.Segments)
	}
	if result.Duration != 3500*time.Millisecond {
		t.Errorf("unexpected duration %v", result.Duration)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(f.requests))
	}
	req := f.requests[0]
	if req.Audio != path || req.Language != "en" || req.Prompt != "default prompt" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestLocalWorkerStartsOnce(t *testing.T) {
	f := &fakeWorker{respond: okReply}
	tr := newTestLocal(f)
	defer tr.Close()

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	path := mediaFile(t)
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Transcribe(context.Background(), path, Options{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Transcribe returned error: %v", err)
		}
	}
	if f.starts != 1 {
		t.Errorf("expected worker to start once, started %d times", f.starts)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[int64]bool{}
	for _, req := range f.requests {
		if seen[req.ID] {
			t.Errorf("duplicate request id %d", req.ID)
		}
		seen[req.ID] = true
	}
}

func TestLocalWorkerError(t *testing.T) {
	f := &fakeWorker{respond: func(req workerRequest) any {
		return map[string]any{"id": req.ID, "error": "CUDA out of memory"}
	}}
	tr := newTestLocal(f)
	defer tr.Close()

	_, err := tr.Transcribe(context.Background(), mediaFile(t), Options{})
	if err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected worker error, got %v", err)
	}

	// a reported error does not kill the worker
	f.mu.Lock()
	f.respond = okReply
	f.mu.Unlock()
	if _, err := tr.Transcribe(context.Background(), mediaFile(t), Options{}); err != nil {
		t.Fatalf("second Transcribe returned error: %v", err)
	}
	if f.starts != 1 {
		t.Errorf("expected worker reuse, started %d times", f.starts)
	}
}

func TestLocalWorkerNotReady(t *testing.T) {
	f := &fakeWorker{
		ready:   map[string]any{"ready": false, "error": "No module named 'whisper'"},
		respond: okReply,
	}
	tr := newTestLocal(f)
	defer tr.Close()

	err := tr.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "No module named") {
		t.Fatalf("expected startup error, got %v", err)
	}
}

func TestLocalContextCancelRestartsWorker(t *testing.T) {
	block := make(chan struct{})
	f := &fakeWorker{respond: func(workerRequest) any {
		<-block
		return nil
	}}
	tr := newTestLocal(f)
	defer tr.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Transcribe(ctx, mediaFile(t), Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	tr.mu.Lock()
	alive := tr.worker != nil
	tr.mu.Unlock()
	if alive {
		t.Error("expected worker to be discarded after cancellation")
	}
}

func TestLocalMissingMedia(t *testing.T) {
	tr := newTestLocal(&fakeWorker{respond: okReply})
	if _, err := tr.Transcribe(context.Background(), "/nope/clip.mp4", Options{}); err == nil {
		t.Fatal("expected error for missing media")
	}
}

func TestLocalClosed(t *testing.T) {
	tr := newTestLocal(&fakeWorker{respond: okReply})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), mediaFile(t), Options{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
