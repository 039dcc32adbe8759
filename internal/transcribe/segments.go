package transcribe

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// EstimatedSegmentSeconds is the assumed length of a segment whose end time
// the text does not state.
const EstimatedSegmentSeconds = 5.0

// timestampLine matches a line starting with [MM:SS], (H:MM:SS) or a range
// such as [00:05 - 00:12], optionally behind a list bullet or bold markers.
var timestampLine = regexp.MustCompile(
	`^\s*(?:[-*•]\s+)?\**[\[\(]\s*(\d{1,2}:\d{2}(?::\d{2})?)(?:\s*[-–]\s*(\d{1,2}:\d{2}(?::\d{2})?))?\s*[\]\)]\**\s*(.*)$`)

// ExtractSegments scans free text line by line for leading timestamps and
// returns one segment per timestamped line, ordered by start time. End
// times come from an explicit range when present, otherwise start plus
// EstimatedSegmentSeconds, clipped so segments never overlap. Lines sharing
// a timestamp become one segment. Returns nil
// when no line carries a valid timestamp.
func ExtractSegments(text string) []Segment {
	var segs []Segment
	for _, line := range strings.Split(text, "\n") {
		m := timestampLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		start, ok := parseTimestamp(m[1])
		if !ok {
			continue
		}
		body := strings.TrimSpace(m[3])
		if body == "" {
			continue
		}
		end := start + EstimatedSegmentSeconds
		if m[2] != "" {
			if e, ok := parseTimestamp(m[2]); ok && e > start {
				end = e
			}
		}
		segs = append(segs, Segment{Text: body, Start: start, End: end})
	}
	if len(segs) == 0 {
		return nil
	}

	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	segs = mergeSameStart(segs)
	for i := 0; i+1 < len(segs); i++ {
		if next := segs[i+1].Start; segs[i].End > next {
			segs[i].End = next
		}
	}
	return segs
}

// mergeSameStart joins sorted segments that share a start time into one,
// keeping the latest end.
func mergeSameStart(segs []Segment) []Segment {
	out := segs[:1]
	for _, s := range segs[1:] {
		last := &out[len(out)-1]
		if s.Start == last.Start {
			last.Text += " " + s.Text
			last.End = max(last.End, s.End)
			continue
		}
		out = append(out, s)
	}
	return out
}

// parseTimestamp converts MM:SS or H:MM:SS to seconds. Seconds must be
// below 60; minutes too when hours are present.
func parseTimestamp(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		nums[i] = n
	}
	switch len(nums) {
	case 2:
		if nums[1] >= 60 {
			return 0, false
		}
		return float64(nums[0]*60 + nums[1]), true
	case 3:
		if nums[1] >= 60 || nums[2] >= 60 {
			return 0, false
		}
		return float64(nums[0]*3600 + nums[1]*60 + nums[2]), true
	}
	return 0, false
}

// ValidateSegments checks the ordering invariants of a segment list:
// start <= end, non-decreasing starts, no overlap.
func ValidateSegments(segs []Segment) error {
	for i, s := range segs {
		if s.Start < 0 || s.End < s.Start {
			return fmt.Errorf("segment %d has invalid span [%.3f, %.3f]", i, s.Start, s.End)
		}
		if i > 0 {
			prev := segs[i-1]
			if s.Start < prev.Start {
				return fmt.Errorf("segment %d starts before segment %d", i, i-1)
			}
			if s.Start < prev.End {
				return fmt.Errorf("segment %d overlaps segment %d", i, i-1)
			}
		}
	}
	return nil
}

// tidySegments orders backend segments and trims small overlaps between
// neighbours, dropping empty text. Returns nil for an empty input.
func tidySegments(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := 0; i+1 < len(out); i++ {
		if next := out[i+1].Start; out[i].End > next {
			out[i].End = next
		}
	}
	return out
}
