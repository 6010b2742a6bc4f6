package translate

import (
	"context"
	"fmt"

	"github.com/mgpai22/subburn/internal/subtitle"
)

// TranslateSegments replaces segment texts with their translations. Timings,
// count and order are kept so the subtitle indices still line up.
func TranslateSegments(ctx context.Context, tr Translator, segments []subtitle.Segment) ([]subtitle.Segment, error) {
	if len(segments) == 0 {
		return segments, nil
	}

	items := make([]TranslationItem, len(segments))
	for i, seg := range segments {
		items[i] = TranslationItem{Index: i, Text: seg.Text}
	}

	results, err := tr.Translate(ctx, items)
	if err != nil {
		return nil, err
	}

	texts := make(map[int]string, len(results))
	for _, r := range results {
		texts[r.Index] = r.Text
	}

	out := make([]subtitle.Segment, len(segments))
	for i, seg := range segments {
		text, ok := texts[i]
		if !ok {
			return nil, fmt.Errorf("translation missing for segment %d", i+1)
		}
		out[i] = subtitle.Segment{Start: seg.Start, End: seg.End, Text: text}
	}
	return out, nil
}
