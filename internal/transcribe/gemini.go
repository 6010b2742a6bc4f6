package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/mgpai22/subburn/internal/subtitle"
)

var jsonBlockRegex = regexp.MustCompile("```(?:json)?\\s*")

// implements Transcriber using Google Gemini
type GeminiTranscriber struct {
	client *genai.Client
	model  string
	prompt string
	source *AudioSource
}

// segment from Gemini's JSON response
type transcriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func NewGeminiTranscriber(ctx context.Context, apiKey, model, prompt string, source *AudioSource) (*GeminiTranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if model == "" || model == "small" {
		model = "gemini-2.5-flash"
	}

	return &GeminiTranscriber{
		client: client,
		model:  model,
		prompt: prompt,
		source: source,
	}, nil
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, mediaPath string, opts Options) (*Result, error) {
	prepared, err := t.source.Prepare(ctx, mediaPath)
	if err != nil {
		return nil, err
	}
	defer prepared.Cleanup()

	uploadedFile, err := t.client.Files.UploadFromPath(ctx, prepared.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio file: %w", err)
	}
	defer func() {
		_, _ = t.client.Files.Delete(context.WithoutCancel(ctx), uploadedFile.Name, nil)
	}()

	parts := []*genai.Part{
		genai.NewPartFromText(t.buildTranscriptionPrompt(opts)),
		genai.NewPartFromURI(uploadedFile.URI, uploadedFile.MIMEType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	segments, err := parseTranscriptionResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transcription: %w", err)
	}

	language := opts.Language
	if opts.translating() {
		language = "en"
	}

	return &Result{
		Text:     joinSegmentText(segments),
		Language: language,
		Segments: segments,
		Duration: prepared.Duration,
	}, nil
}

// creates the prompt for transcription
func (t *GeminiTranscriber) buildTranscriptionPrompt(opts Options) string {
	var sb strings.Builder

	sb.WriteString("Generate a detailed transcript of this audio. ")
	sb.WriteString("For each sentence or phrase, provide the start timestamp, end timestamp, and the exact text spoken. ")
	sb.WriteString("Format your response as a JSON array with objects containing 'start', 'end', and 'text' fields, ")
	sb.WriteString("where 'start' and 'end' are timestamps in seconds (as numbers). ")

	if opts.Language != "" {
		sb.WriteString(fmt.Sprintf("The audio is in %s. ", opts.Language))
	}
	if opts.translating() {
		sb.WriteString("Output the transcript in English. ")
	}

	prompt := opts.Prompt
	if prompt == "" {
		prompt = t.prompt
	}
	if prompt != "" {
		sb.WriteString(prompt)
		sb.WriteString(" ")
	}

	sb.WriteString("Return ONLY the JSON array, no other text or markdown formatting.")

	return sb.String()
}

// parses Gemini's response into segments
func parseTranscriptionResponse(result *genai.GenerateContentResponse) ([]subtitle.Segment, error) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	var responseText strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			responseText.WriteString(part.Text)
		}
	}
	if responseText.Len() == 0 {
		return nil, fmt.Errorf("no text in Gemini response")
	}

	found, err := extractTranscriptSegments(cleanJSONResponse(responseText.String()))
	if err != nil {
		return nil, err
	}

	segments := make([]subtitle.Segment, 0, len(found))
	for _, ts := range found {
		text := strings.TrimSpace(ts.Text)
		if text == "" {
			continue
		}
		segments = append(segments, subtitle.Segment{
			Start: ts.Start,
			End:   ts.End,
			Text:  text,
		})
	}

	return segments, nil
}

// extractTranscriptSegments finds the first JSON value in text that holds a
// usable segment array. Models like to wrap the array in prose or in an
// object, so every '[' and '{' is tried as a starting point.
func extractTranscriptSegments(text string) ([]transcriptSegment, error) {
	for i := 0; i < len(text); i++ {
		if text[i] != '[' && text[i] != '{' {
			continue
		}

		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}

		if segments, ok := findSegments(raw); ok {
			return segments, nil
		}
		i += int(dec.InputOffset()) - 1
	}

	return nil, errors.New("no transcript segments found in response: " + truncateString(text, 200))
}

var preferredSegmentKeys = []string{"segments", "transcript", "data"}

func findSegments(raw json.RawMessage) ([]transcriptSegment, bool) {
	var segments []transcriptSegment
	if err := json.Unmarshal(raw, &segments); err == nil {
		return segments, validateSegments(segments)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := keyRank(keys[i]), keyRank(keys[j])
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		if segments, ok := findSegments(obj[k]); ok {
			return segments, true
		}
	}
	return nil, false
}

func keyRank(key string) int {
	for i, k := range preferredSegmentKeys {
		if strings.EqualFold(k, key) {
			return i
		}
	}
	return len(preferredSegmentKeys)
}

// validateSegments reports whether at least one segment carries data.
func validateSegments(segments []transcriptSegment) bool {
	for _, s := range segments {
		if s.Text != "" || s.Start != 0 || s.End != 0 {
			return true
		}
	}
	return false
}

// removes markdown formatting from the response
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	s = jsonBlockRegex.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
