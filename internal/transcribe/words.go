package transcribe

import (
	"strings"
)

// Word is a word-level timestamp as returned by word-granular backends.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"` // 0 when not reported
	Speaker    string  `json:"speaker,omitempty"`
}

// Segment boundaries for word grouping.
const (
	WordPauseGap      = 1.5  // seconds of silence that closes a segment
	MaxSegmentSeconds = 30.0 // longest segment built from words
)

// GroupWords turns word timestamps into sentence-sized segments. A segment
// closes on a speaker change, a pause longer than WordPauseGap, the end of a
// sentence, or once it spans MaxSegmentSeconds.
//
// When fullText is provided, segment text is sliced from it so punctuation
// missing from individual word tokens is preserved.
func GroupWords(words []Word, fullText string) []Segment {
	if len(words) == 0 {
		return nil
	}

	var positions []int
	if fullText != "" {
		positions = mapWordPositions(words, fullText)
	}

	type group struct {
		firstIdx, lastIdx int
	}
	var groups []group
	g := group{}
	for i := 1; i < len(words); i++ {
		prev, w := words[i-1], words[i]
		split := w.Speaker != prev.Speaker ||
			w.Start-prev.End > WordPauseGap ||
			w.End-words[g.firstIdx].Start > MaxSegmentSeconds ||
			endsSentence(between(words, positions, fullText, i-1))
		if split {
			groups = append(groups, g)
			g = group{firstIdx: i}
		}
		g.lastIdx = i
	}
	groups = append(groups, g)

	segments := make([]Segment, 0, len(groups))
	for i, grp := range groups {
		var text string
		if positions != nil {
			textEnd := len(fullText)
			if i+1 < len(groups) {
				textEnd = positions[groups[i+1].firstIdx]
			}
			text = strings.TrimSpace(fullText[positions[grp.firstIdx]:textEnd])
		} else {
			text = joinTokens(words[grp.firstIdx : grp.lastIdx+1])
		}
		segments = append(segments, Segment{
			Text:       text,
			Start:      words[grp.firstIdx].Start,
			End:        words[grp.lastIdx].End,
			Confidence: meanConfidence(words[grp.firstIdx : grp.lastIdx+1]),
		})
	}
	return segments
}

// between returns the text of word i including any trailing punctuation that
// precedes word i+1.
func between(words []Word, positions []int, fullText string, i int) string {
	if positions == nil || i+1 >= len(positions) {
		return words[i].Word
	}
	return fullText[positions[i]:positions[i+1]]
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

// mapWordPositions maps each word token to its byte offset in fullText using
// sequential case-insensitive forward scanning. Each word is matched only once,
// advancing past previous matches to handle repeated words correctly.
func mapWordPositions(words []Word, fullText string) []int {
	positions := make([]int, len(words))
	lower := strings.ToLower(fullText)
	searchFrom := 0

	for i, w := range words {
		wLower := strings.ToLower(strings.TrimSpace(w.Word))
		idx := strings.Index(lower[searchFrom:], wLower)
		if idx >= 0 && wLower != "" {
			positions[i] = searchFrom + idx
			searchFrom = searchFrom + idx + len(wLower)
		} else {
			// not found, use current search position as best guess
			positions[i] = searchFrom
		}
	}
	return positions
}

func joinTokens(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Word); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func meanConfidence(words []Word) *float64 {
	var sum float64
	var n int
	for _, w := range words {
		if w.Confidence > 0 {
			sum += w.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	c := sum / float64(n)
	return &c
}
