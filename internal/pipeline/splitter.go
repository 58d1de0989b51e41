// Package pipeline turns an LLM chunk sequence into played audio: it splits
// accumulating text into synthesizable units, dispatches each unit to a
// bounded pool of TTS workers, and plays the results back in strict
// submission order regardless of synthesis parallelism.
package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkStrategy extracts the first complete synthesizable unit from buf, if
// one is available yet. It returns the unit text, the remainder of buf after
// the unit, and true if a unit was found. When ok is false, the caller keeps
// accumulating text and tries again on the next call.
type ChunkStrategy interface {
	Extract(buf string) (unit string, rest string, ok bool)
}

// SentenceStrategy splits on '.', '!', or '?' followed by whitespace or end
// of buffer, requiring at least MinLength runes in the extracted unit so a
// short clause like "Ok." doesn't dispatch a TTS job by itself.
type SentenceStrategy struct {
	MinLength int
}

func (s SentenceStrategy) Extract(buf string) (string, string, bool) {
	search := buf
	offset := 0
	for {
		idx := firstBoundary(search, ".!?")
		if idx < 0 {
			return "", buf, false
		}
		end := offset + idx + 1
		unit := strings.TrimSpace(buf[:end])
		if utf8.RuneCountInString(unit) >= s.MinLength {
			return unit, strings.TrimLeft(buf[end:], " \t\n\r"), true
		}
		// Too short: extend the search past this boundary and look for the
		// next one, accumulating sentences until MinLength is met.
		offset = end
		search = buf[offset:]
		if search == "" {
			return "", buf, false
		}
	}
}

// ParagraphStrategy splits on a blank line (two consecutive newlines).
// Whenever the buffer holds no blank line yet, it falls back to
// SentenceStrategy's boundary with the same MinLength, so a reply with no
// blank lines at all still streams sentence-by-sentence instead of waiting
// for Flush. A paragraph therefore becomes a single unit only when its
// closing blank line arrives before a sentence boundary of MinLength runes
// has been extracted from it; otherwise it is split at its sentences.
type ParagraphStrategy struct {
	MinLength int
}

func (p ParagraphStrategy) Extract(buf string) (string, string, bool) {
	if idx := strings.Index(buf, "\n\n"); idx >= 0 {
		unit := strings.TrimSpace(buf[:idx])
		if unit != "" {
			return unit, strings.TrimLeft(buf[idx+2:], " \t\n\r"), true
		}
		return "", strings.TrimLeft(buf[idx+2:], " \t\n\r"), true
	}
	return SentenceStrategy{MinLength: p.MinLength}.Extract(buf)
}

// ClauseStrategy additionally splits on ',', ';', and ':' to trade fluency
// for lower latency than SentenceStrategy.
type ClauseStrategy struct {
	MinLength int
}

func (c ClauseStrategy) Extract(buf string) (string, string, bool) {
	idx := firstBoundary(buf, ".!?,;:")
	if idx < 0 {
		return "", buf, false
	}
	unit := strings.TrimSpace(buf[:idx+1])
	if len(unit) < c.MinLength {
		return "", buf, false
	}
	return unit, strings.TrimLeft(buf[idx+1:], " \t\n\r"), true
}

// WordStrategy splits on the first whitespace run, yielding one word per
// unit: lowest latency, lowest fluency.
type WordStrategy struct{}

func (WordStrategy) Extract(buf string) (string, string, bool) {
	trimmed := strings.TrimLeft(buf, " \t\n\r")
	idx := strings.IndexFunc(trimmed, unicode.IsSpace)
	if idx < 0 {
		return "", buf, false
	}
	word := trimmed[:idx]
	if word == "" {
		return "", buf, false
	}
	return word, strings.TrimLeft(trimmed[idx:], " \t\n\r"), true
}

// FixedStrategy splits every N runes regardless of word or sentence
// boundaries.
type FixedStrategy struct {
	N int
}

func (f FixedStrategy) Extract(buf string) (string, string, bool) {
	r := []rune(buf)
	if len(r) < f.N {
		return "", buf, false
	}
	return string(r[:f.N]), string(r[f.N:]), true
}

// firstBoundary returns the index of the first rune in marks that is
// immediately followed by whitespace or the end of s, or -1 if none exists.
func firstBoundary(s string, marks string) int {
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(marks, rune(s[i])) {
			continue
		}
		if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
			return i
		}
	}
	return -1
}

// Splitter accumulates incoming text fragments and extracts complete units
// using the configured strategy, preserving any incomplete trailing text
// across calls.
type Splitter struct {
	strategy ChunkStrategy
	buf      strings.Builder
}

// NewSplitter constructs a Splitter using strategy to find unit boundaries.
func NewSplitter(strategy ChunkStrategy) *Splitter {
	return &Splitter{strategy: strategy}
}

// Feed appends text to the accumulating buffer and returns every complete
// unit that can be extracted from it, in order.
func (s *Splitter) Feed(text string) []string {
	s.buf.WriteString(text)
	var units []string
	for {
		unit, rest, ok := s.strategy.Extract(s.buf.String())
		if !ok {
			return units
		}
		s.buf.Reset()
		s.buf.WriteString(rest)
		if unit == "" {
			continue
		}
		units = append(units, unit)
	}
}

// Flush returns any remaining buffered text as a final trailing unit,
// clearing the buffer. Returns "" if nothing remains.
func (s *Splitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}
