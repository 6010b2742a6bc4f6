package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mgpai22/subburn/internal/subtitle"
)

// implements Transcriber using the OpenAI Audio API
type OpenAITranscriber struct {
	client openai.Client
	model  string
	prompt string
	source *AudioSource
}

// segment from OpenAI Whisper verbose_json response
type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// verbose_json response structure from Whisper
type whisperVerboseResponse struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
}

func NewOpenAITranscriber(apiKey, model, prompt string, source *AudioSource) (*OpenAITranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	// the local default model name means nothing to the API
	if model == "" || model == "small" {
		model = "whisper-1"
	}

	return &OpenAITranscriber{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		prompt: prompt,
		source: source,
	}, nil
}

func (t *OpenAITranscriber) Transcribe(
	ctx context.Context,
	mediaPath string,
	opts Options,
) (*Result, error) {
	prepared, err := t.source.Prepare(ctx, mediaPath)
	if err != nil {
		return nil, err
	}
	defer prepared.Cleanup()

	file, err := os.Open(prepared.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	prompt := opts.Prompt
	if prompt == "" {
		prompt = t.prompt
	}

	if opts.translating() {
		return t.transcribeWithTranslation(ctx, file, prompt, prepared.Duration)
	}
	return t.transcribeWithTimestamps(ctx, file, opts.Language, prompt, prepared.Duration)
}

func (t *OpenAITranscriber) transcribeWithTranslation(
	ctx context.Context,
	file *os.File,
	prompt string,
	duration time.Duration,
) (*Result, error) {
	params := openai.AudioTranslationNewParams{
		File:           file,
		Model:          openai.AudioModel(t.model),
		ResponseFormat: openai.AudioTranslationNewParamsResponseFormatVerboseJSON,
	}
	if prompt != "" {
		params.Prompt = openai.String(prompt)
	}

	resp, err := t.client.Audio.Translations.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("translation failed: %w", err)
	}

	result, err := parseVerboseJSONResponse(resp.RawJSON(), duration)
	if err != nil {
		result = fallbackResult(resp.Text, duration)
	}
	result.Language = "en"
	return result, nil
}

func (t *OpenAITranscriber) transcribeWithTimestamps(
	ctx context.Context,
	file *os.File,
	language, prompt string,
	duration time.Duration,
) (*Result, error) {
	params := openai.AudioTranscriptionNewParams{
		File:                   file,
		Model:                  openai.AudioModel(t.model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
	}
	if language != "" {
		params.Language = openai.String(language)
	}
	if prompt != "" {
		params.Prompt = openai.String(prompt)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	result, err := parseVerboseJSONResponse(resp.RawJSON(), duration)
	if err != nil {
		result = fallbackResult(resp.Text, duration)
	}
	if result.Language == "" {
		result.Language = language
	}
	return result, nil
}

func fallbackResult(text string, duration time.Duration) *Result {
	text = strings.TrimSpace(text)
	return &Result{
		Text: text,
		Segments: []subtitle.Segment{{
			Start: 0,
			End:   duration.Seconds(),
			Text:  text,
		}},
		Duration: duration,
	}
}

func parseVerboseJSONResponse(rawJSON string, fallbackDuration time.Duration) (*Result, error) {
	if rawJSON == "" {
		return nil, fmt.Errorf("empty response")
	}

	var verboseResp whisperVerboseResponse
	if err := json.Unmarshal([]byte(rawJSON), &verboseResp); err != nil {
		return nil, fmt.Errorf("failed to parse verbose_json response: %w", err)
	}

	duration := fallbackDuration
	if verboseResp.Duration > 0 {
		duration = time.Duration(verboseResp.Duration * float64(time.Second))
	}

	result := &Result{
		Text:     strings.TrimSpace(verboseResp.Text),
		Language: verboseResp.Language,
		Duration: duration,
	}

	if len(verboseResp.Segments) == 0 {
		if result.Text == "" {
			return nil, fmt.Errorf("no segments or text in response")
		}
		result.Segments = []subtitle.Segment{{
			Start: 0,
			End:   duration.Seconds(),
			Text:  result.Text,
		}}
		return result, nil
	}

	result.Segments = make([]subtitle.Segment, 0, len(verboseResp.Segments))
	for _, seg := range verboseResp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, subtitle.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  text,
		})
	}
	if result.Text == "" {
		result.Text = joinSegmentText(result.Segments)
	}

	return result, nil
}
