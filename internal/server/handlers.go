package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mgpai22/subburn/internal/audio"
	"github.com/mgpai22/subburn/internal/ffmpeg"
	"github.com/mgpai22/subburn/internal/pipeline"
	"github.com/mgpai22/subburn/internal/subtitle"
	"github.com/mgpai22/subburn/internal/video"
)

const (
	msgFFmpegUnavailable = "FFmpeg is not available on the server."
	msgBurnFailed        = "Failed to generate subtitled video"
	msgSubtitlesFailed   = "Failed to generate subtitles"
	msgTranscribeFailed  = "Transcription failed"
	msgTranslateFailed   = "Translation failed"
	msgProbeFailed       = "Failed to read media file"
	msgVideoNotFound     = "Video not found"
)

type transcribeResponse struct {
	Text          string `json:"text"`
	Language      string `json:"language"`
	VideoFilename string `json:"video_filename,omitempty"`
	VideoID       string `json:"video_id"`
	DownloadURL   string `json:"download_url,omitempty"`
	Segments      int    `json:"segments"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleTranscribe(c *gin.Context) {
	limit := s.cfg.MaxUploadBytes
	if c.Request.ContentLength > limit {
		s.tooLarge(c)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			s.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	safeName := secureFilename(header.Filename)
	if safeName == "" {
		safeName = "upload"
	}
	if !audio.IsMediaFile(safeName) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": fmt.Sprintf("Unsupported file type %q", filepath.Ext(safeName)),
		})
		return
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	inputPath := filepath.Join(s.workDir, id+"_"+safeName)
	if err := c.SaveUploadedFile(header, inputPath); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload"})
		return
	}

	s.log.Infow("upload received",
		"request_id", c.GetString(requestIDKey),
		"video_id", id,
		"file", safeName,
		"size", humanize.Bytes(uint64(max(header.Size, 0))),
	)

	outcome, err := s.processor.Process(c.Request.Context(), pipeline.Request{
		ID:           id,
		SourcePath:   inputPath,
		OriginalName: header.Filename,
		Language:     strings.TrimSpace(c.PostForm("language")),
		TranslateTo:  strings.TrimSpace(c.PostForm("translate_to")),
	})
	if err != nil {
		_ = c.Error(err)
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}

	resp := transcribeResponse{
		Text:          outcome.Text,
		Language:      outcome.Language,
		VideoFilename: outcome.VideoFilename,
		VideoID:       id,
		Segments:      len(outcome.Segments),
	}
	if outcome.VideoFilename != "" {
		resp.DownloadURL = "/download-video/" + outcome.VideoFilename
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("File exceeds the %s upload limit", humanize.IBytes(uint64(s.cfg.MaxUploadBytes))),
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	name := c.Param("filename")
	if name == "" || secureFilename(name) != name {
		c.String(http.StatusNotFound, msgVideoNotFound)
		return
	}

	if s.outputs == nil {
		c.String(http.StatusNotFound, msgVideoNotFound)
		return
	}
	rec, err := s.outputs.GetByFilename(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		s.log.Warnw("output lookup failed", "file", name, "error", err)
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	if rec == nil {
		c.String(http.StatusNotFound, msgVideoNotFound)
		return
	}

	path := filepath.Join(s.outputDir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.String(http.StatusNotFound, msgVideoNotFound)
		return
	}

	c.FileAttachment(path, name)
}

// errorResponse maps pipeline failures onto the status and body clients see.
func errorResponse(err error) (int, gin.H) {
	var burnErr *video.BurnError
	switch {
	case errors.Is(err, ffmpeg.ErrUnavailable):
		return http.StatusInternalServerError, gin.H{"error": msgFFmpegUnavailable}
	case errors.As(err, &burnErr):
		return http.StatusInternalServerError, gin.H{"error": msgBurnFailed, "details": burnErr.Diagnostic}
	case errors.Is(err, subtitle.ErrMalformedSegment):
		return http.StatusInternalServerError, gin.H{"error": msgSubtitlesFailed, "details": err.Error()}
	case errors.Is(err, pipeline.ErrTranslatorUnavailable):
		return http.StatusInternalServerError, gin.H{"error": msgTranslateFailed, "details": err.Error()}
	}

	switch pipeline.FailedStage(err) {
	case pipeline.StageTranscribe:
		return http.StatusInternalServerError, gin.H{"error": msgTranscribeFailed, "details": err.Error()}
	case pipeline.StageTranslate:
		return http.StatusBadGateway, gin.H{"error": msgTranslateFailed, "details": err.Error()}
	case pipeline.StageProbe:
		return http.StatusUnprocessableEntity, gin.H{"error": msgProbeFailed, "details": err.Error()}
	case pipeline.StageBurn:
		return http.StatusInternalServerError, gin.H{"error": msgBurnFailed, "details": err.Error()}
	case pipeline.StageSubtitles:
		return http.StatusInternalServerError, gin.H{"error": msgSubtitlesFailed, "details": err.Error()}
	}
	return http.StatusInternalServerError, gin.H{"error": "Internal server error"}
}
