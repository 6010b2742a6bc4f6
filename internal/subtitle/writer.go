package subtitle

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// SubRip format
type SRTWriter struct{}

func NewWriter() *SRTWriter {
	return &SRTWriter{}
}

// writes the segments to an SRT file
func (w *SRTWriter) Write(segments []Segment, path string) error {
	content, err := Serialize(segments)
	if err != nil {
		return err
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(content), 0644)
}

// WriteFile serializes segments to path as SRT.
func WriteFile(path string, segments []Segment) error {
	return NewWriter().Write(segments, path)
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm. Hours are zero-padded to
// two digits but never truncated. Negative input clamps to zero and values
// past the int64 millisecond range saturate.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}

	// round once so 1.2 prints ,200 rather than ,199
	ms := math.Round(seconds * 1000)
	totalMillis := int64(math.MaxInt64)
	if ms < float64(math.MaxInt64) {
		totalMillis = int64(ms)
	}

	hours := totalMillis / 3_600_000
	minutes := (totalMillis / 60_000) % 60
	secs := (totalMillis / 1000) % 60
	millis := totalMillis % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// NewDocument numbers segments 1..N in input order. A single malformed
// segment fails the whole document.
func NewDocument(segments []Segment) (*Document, error) {
	entries := make([]Entry, 0, len(segments))

	for i, seg := range segments {
		if err := validateSegment(seg); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}

		entries = append(entries, Entry{
			Index: i + 1,
			Start: FormatTimestamp(seg.Start),
			End:   FormatTimestamp(seg.End),
			Text:  SanitizeText(seg.Text),
		})
	}

	return &Document{Entries: entries}, nil
}

// String renders the document in SubRip grammar.
func (d *Document) String() string {
	var sb strings.Builder
	for _, entry := range d.Entries {
		// index (1-based)
		sb.WriteString(fmt.Sprintf("%d\n", entry.Index))

		// timestamps: 00:00:00,000 --> 00:00:00,000
		sb.WriteString(fmt.Sprintf("%s %s %s\n", entry.Start, Arrow, entry.End))

		sb.WriteString(entry.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// Serialize converts segments into a complete SRT document.
func Serialize(segments []Segment) (string, error) {
	doc, err := NewDocument(segments)
	if err != nil {
		return "", err
	}
	return doc.String(), nil
}

// SanitizeText trims surrounding whitespace and replaces any literal arrow so
// cue text cannot be mistaken for a timing line.
func SanitizeText(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), Arrow, arrowReplacement)
}

func validateSegment(seg Segment) error {
	switch {
	case math.IsNaN(seg.Start) || math.IsNaN(seg.End),
		math.IsInf(seg.Start, 0) || math.IsInf(seg.End, 0):
		return fmt.Errorf("%w: non-finite time", ErrMalformedSegment)
	case seg.Start < 0:
		return fmt.Errorf("%w: negative start %v", ErrMalformedSegment, seg.Start)
	case seg.End < seg.Start:
		return fmt.Errorf(
			"%w: end %v before start %v",
			ErrMalformedSegment,
			seg.End,
			seg.Start,
		)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}
