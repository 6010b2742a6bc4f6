package subtitle

import "errors"

// Arrow separates the start and end timestamps on an SRT timing line.
const Arrow = "-->"

// arrowReplacement stands in for a literal Arrow inside cue text.
const arrowReplacement = "→"

// ErrMalformedSegment is returned when a segment cannot be placed on a timeline.
var ErrMalformedSegment = errors.New("malformed segment")

// represents transcribed audio segment, offsets in seconds
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// represents single subtitle entry, timestamps already formatted
type Entry struct {
	Index int
	Start string
	End   string
	Text  string
}

// Document is a complete SubRip document. Entry i (0-based) always comes from
// input segment i.
type Document struct {
	Entries []Entry
}

// interface for writing subtitles to files
type Writer interface {
	Write(segments []Segment, path string) error
}
