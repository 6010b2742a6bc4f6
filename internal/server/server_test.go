package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mgpai22/subburn/internal/config"
	"github.com/mgpai22/subburn/internal/ffmpeg"
	"github.com/mgpai22/subburn/internal/logging"
	"github.com/mgpai22/subburn/internal/pipeline"
	"github.com/mgpai22/subburn/internal/store"
	"github.com/mgpai22/subburn/internal/subtitle"
	"github.com/mgpai22/subburn/internal/video"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeProcessor struct {
	mu       sync.Mutex
	requests []pipeline.Request
	outcome  *pipeline.Outcome
	err      error
}

func (f *fakeProcessor) Process(_ context.Context, req pipeline.Request) (*pipeline.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	out := *f.outcome
	if out.VideoFilename != "" {
		out.VideoFilename = filepath.Base(req.SourcePath) + pipeline.OutputSuffix
	}
	return &out, nil
}

type fakeIndex map[string]bool

func (f fakeIndex) GetByFilename(_ context.Context, filename string) (*store.Output, error) {
	if !f[filename] {
		return nil, nil
	}
	return &store.Output{Filename: filename}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.WorkDir = t.TempDir()
	cfg.Storage.OutputDir = t.TempDir()
	cfg.Server.RateLimitPerMinute = 0
	return &cfg
}

func newTestServer(t *testing.T, cfg *config.Config, proc Processor) *Server {
	t.Helper()
	return New(cfg, proc, fakeIndex{}, logging.NewNop())
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(content)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func postTranscribe(t *testing.T, h http.Handler, filename string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, []byte("fake media"), fields)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestTranscribeSuccess(t *testing.T) {
	cfg := testConfig(t)
	proc := &fakeProcessor{outcome: &pipeline.Outcome{
		Text:          "hello world",
		Language:      "en",
		VideoFilename: "set-by-fake",
		Segments:      make([]subtitle.Segment, 2),
	}}
	srv := newTestServer(t, cfg, proc)

	rec := postTranscribe(t, srv.Handler(), "../My Clip é.mp4", map[string]string{"language": "en"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	body := decode(t, rec)
	if body["text"] != "hello world" || body["language"] != "en" || body["segments"] != float64(2) {
		t.Errorf("unexpected body %v", body)
	}

	if len(proc.requests) != 1 {
		t.Fatalf("expected one pipeline call, got %d", len(proc.requests))
	}
	req := proc.requests[0]
	if filepath.Dir(req.SourcePath) != cfg.Storage.WorkDir {
		t.Errorf("upload saved outside work dir: %s", req.SourcePath)
	}
	if !strings.HasSuffix(req.SourcePath, "_My_Clip_e.mp4") || len(req.ID) != 32 {
		t.Errorf("unexpected upload naming %q (id %q)", req.SourcePath, req.ID)
	}
	if req.Language != "en" {
		t.Errorf("language hint not forwarded: %+v", req)
	}

	wantName := req.ID + "_My_Clip_e.mp4" + pipeline.OutputSuffix
	if body["video_filename"] != wantName || body["download_url"] != "/download-video/"+wantName || body["video_id"] != req.ID {
		t.Errorf("unexpected video fields %v", body)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestTranscribeAudioOnlyOmitsVideo(t *testing.T) {
	srv := newTestServer(t, testConfig(t), &fakeProcessor{outcome: &pipeline.Outcome{Text: "hi"}})

	rec := postTranscribe(t, srv.Handler(), "voice.mp3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if _, ok := body["video_filename"]; ok {
		t.Errorf("video_filename should be omitted, got %v", body)
	}
	if _, ok := body["download_url"]; ok {
		t.Errorf("download_url should be omitted, got %v", body)
	}
}

func TestTranscribeRejectsBadUploads(t *testing.T) {
	srv := newTestServer(t, testConfig(t), &fakeProcessor{outcome: &pipeline.Outcome{}})

	rec := postTranscribe(t, srv.Handler(), "", map[string]string{"language": "en"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing file: status = %d", rec.Code)
	}

	rec = postTranscribe(t, srv.Handler(), "notes.txt", nil)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("unsupported type: status = %d", rec.Code)
	}
}

func TestTranscribeTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxUploadBytes = 64
	srv := newTestServer(t, cfg, &fakeProcessor{outcome: &pipeline.Outcome{}})

	body, contentType := multipartBody(t, "big.mp4", bytes.Repeat([]byte("x"), 1024), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestTranscribeErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantDetail string
	}{
		{
			name:       "ffmpeg missing",
			err:        &pipeline.StageError{Stage: pipeline.StagePrecheck, Err: fmt.Errorf("%w: not on PATH", ffmpeg.ErrUnavailable)},
			wantStatus: http.StatusInternalServerError,
			wantError:  msgFFmpegUnavailable,
		},
		{
			name:       "burn failed",
			err:        &pipeline.StageError{Stage: pipeline.StageBurn, Err: &video.BurnError{ExitCode: 1, Diagnostic: "No such filter"}},
			wantStatus: http.StatusInternalServerError,
			wantError:  msgBurnFailed,
			wantDetail: "No such filter",
		},
		{
			name:       "malformed segment",
			err:        &pipeline.StageError{Stage: pipeline.StageSubtitles, Err: fmt.Errorf("segment 2: %w", subtitle.ErrMalformedSegment)},
			wantStatus: http.StatusInternalServerError,
			wantError:  msgSubtitlesFailed,
		},
		{
			name:       "transcription",
			err:        &pipeline.StageError{Stage: pipeline.StageTranscribe, Err: errors.New("worker died")},
			wantStatus: http.StatusInternalServerError,
			wantError:  msgTranscribeFailed,
		},
		{
			name:       "translator not configured",
			err:        &pipeline.StageError{Stage: pipeline.StageTranslate, Err: fmt.Errorf("%w: OPENAI_API_KEY is not set", pipeline.ErrTranslatorUnavailable)},
			wantStatus: http.StatusInternalServerError,
			wantError:  msgTranslateFailed,
		},
		{
			name:       "translation",
			err:        &pipeline.StageError{Stage: pipeline.StageTranslate, Err: errors.New("quota")},
			wantStatus: http.StatusBadGateway,
			wantError:  msgTranslateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, testConfig(t), &fakeProcessor{err: tt.err})
			rec := postTranscribe(t, srv.Handler(), "clip.mp4", nil)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			if body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
			if tt.wantDetail != "" && body["details"] != tt.wantDetail {
				t.Errorf("details = %v, want %q", body["details"], tt.wantDetail)
			}
		})
	}
}

func TestFFmpegUnavailableBodyIsExact(t *testing.T) {
	status, body := errorResponse(ffmpeg.ErrUnavailable)
	data, _ := json.Marshal(body)
	if status != http.StatusInternalServerError || string(data) != `{"error":"FFmpeg is not available on the server."}` {
		t.Errorf("got %d %s", status, data)
	}
}

func TestDownload(t *testing.T) {
	cfg := testConfig(t)
	name := "abc_clip.mp4_subtitled.mp4"
	if err := os.WriteFile(filepath.Join(cfg.Storage.OutputDir, name), []byte("video bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	// a file outside the output dir that traversal would reach
	if err := os.WriteFile(filepath.Join(filepath.Dir(cfg.Storage.OutputDir), "secret.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// files in the output dir that were never recorded
	for _, other := range []string{"subburn.db", "subburn.db-wal", "deadbeef_other_upload.mp4"} {
		if err := os.WriteFile(filepath.Join(cfg.Storage.OutputDir, other), []byte("private"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	srv := New(cfg, &fakeProcessor{}, fakeIndex{name: true, "recorded_but_gone.mp4": true}, logging.NewNop())

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/download-video/" + name, http.StatusOK, "video bytes"},
		{"/download-video/missing.mp4", http.StatusNotFound, msgVideoNotFound},
		{"/download-video/recorded_but_gone.mp4", http.StatusNotFound, msgVideoNotFound},
		{"/download-video/subburn.db", http.StatusNotFound, msgVideoNotFound},
		{"/download-video/subburn.db-wal", http.StatusNotFound, msgVideoNotFound},
		{"/download-video/deadbeef_other_upload.mp4", http.StatusNotFound, msgVideoNotFound},
		{"/download-video/.hidden.mp4", http.StatusNotFound, msgVideoNotFound},
		{"/download-video/..%2Fsecret.mp4", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantStatus == http.StatusOK {
				if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
					t.Errorf("expected attachment, got %q", rec.Header().Get("Content-Disposition"))
				}
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, testConfig(t), &fakeProcessor{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "healthy" {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "subburn_http_requests_total") {
		t.Errorf("metrics endpoint missing request counter")
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	srv := newTestServer(t, cfg, &fakeProcessor{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimitPerMinute = 1
	cfg.Server.RateLimitBurst = 2
	srv := newTestServer(t, cfg, &fakeProcessor{outcome: &pipeline.Outcome{}})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = postTranscribe(t, srv.Handler(), "clip.mp4", nil).Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
}

func TestCORSAllowsAnyOriginByDefault(t *testing.T) {
	srv := newTestServer(t, testConfig(t), &fakeProcessor{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.org")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"My cool movie.mov", "My_cool_movie.mov"},
		{"../../../etc/passwd", "etc_passwd"},
		{"i contain cool \xfcml\xe4uts.txt", "i_contain_cool_mluts.txt"},
		{"résumé.mp4", "resume.mp4"},
		{"..", ""},
		{"__init__.py", "init__.py"},
		{"clip.mp4", "clip.mp4"},
	}
	if runtime.GOOS == "windows" {
		tests = append(tests, struct{ in, want string }{"con.mp4", "_con.mp4"})
	} else {
		tests = append(tests, struct{ in, want string }{"con.mp4", "con.mp4"})
	}
	for _, tt := range tests {
		if got := secureFilename(tt.in); got != tt.want {
			t.Errorf("secureFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
