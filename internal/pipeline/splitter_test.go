package pipeline

import (
	"reflect"
	"testing"
)

func TestSentenceStrategyRespectsMinLength(t *testing.T) {
	s := NewSplitter(SentenceStrategy{MinLength: 10})
	units := s.Feed("Ok. Sure thing, I can help with that. ")
	if !reflect.DeepEqual(units, []string{"Ok. Sure thing, I can help with that."}) {
		t.Fatalf("units = %#v", units)
	}
}

func TestSentenceStrategySplitsMultipleSentences(t *testing.T) {
	s := NewSplitter(SentenceStrategy{MinLength: 3})
	units := s.Feed("Hello there. How are you? I am fine! ")
	want := []string{"Hello there.", "How are you?", "I am fine!"}
	if !reflect.DeepEqual(units, want) {
		t.Fatalf("units = %#v, want %#v", units, want)
	}
}

func TestSentenceStrategyBuffersIncompleteTrailer(t *testing.T) {
	s := NewSplitter(SentenceStrategy{MinLength: 3})
	units := s.Feed("Partial sentence without end")
	if len(units) != 0 {
		t.Fatalf("expected no units yet, got %#v", units)
	}
	if flushed := s.Flush(); flushed != "Partial sentence without end" {
		t.Fatalf("Flush() = %q", flushed)
	}
}

func TestParagraphStrategySplitsOnBlankLine(t *testing.T) {
	s := NewSplitter(ParagraphStrategy{MinLength: 3})
	units := s.Feed("First paragraph here.\n\nSecond paragraph here.\n\n")
	want := []string{"First paragraph here.", "Second paragraph here."}
	if !reflect.DeepEqual(units, want) {
		t.Fatalf("units = %#v", units)
	}
}

func TestParagraphStrategyFallsBackToSentenceBoundary(t *testing.T) {
	s := NewSplitter(ParagraphStrategy{MinLength: 3})
	units := s.Feed("No blank lines here. Just sentences. ")
	want := []string{"No blank lines here.", "Just sentences."}
	if !reflect.DeepEqual(units, want) {
		t.Fatalf("units = %#v", units)
	}
}

func TestClauseStrategySplitsOnPunctuation(t *testing.T) {
	s := NewSplitter(ClauseStrategy{MinLength: 1})
	units := s.Feed("First clause, second clause; done. ")
	want := []string{"First clause,", "second clause;", "done."}
	if !reflect.DeepEqual(units, want) {
		t.Fatalf("units = %#v, want %#v", units, want)
	}
}

func TestWordStrategySplitsOnWhitespace(t *testing.T) {
	s := NewSplitter(WordStrategy{})
	units := s.Feed("one two three ")
	want := []string{"one", "two", "three"}
	if !reflect.DeepEqual(units, want) {
		t.Fatalf("units = %#v, want %#v", units, want)
	}
}

func TestFixedStrategySplitsEveryNRunes(t *testing.T) {
	s := NewSplitter(FixedStrategy{N: 4})
	units := s.Feed("abcdefgh")
	want := []string{"abcd", "efgh"}
	if !reflect.DeepEqual(units, want) {
		t.Fatalf("units = %#v, want %#v", units, want)
	}
}

func TestFixedStrategyBuffersShortRemainder(t *testing.T) {
	s := NewSplitter(FixedStrategy{N: 4})
	units := s.Feed("abcdef")
	if !reflect.DeepEqual(units, []string{"abcd"}) {
		t.Fatalf("units = %#v", units)
	}
	if flushed := s.Flush(); flushed != "ef" {
		t.Fatalf("Flush() = %q", flushed)
	}
}

func TestFeedAcrossMultipleCallsPreservesState(t *testing.T) {
	s := NewSplitter(SentenceStrategy{MinLength: 1})
	if units := s.Feed("Hello "); len(units) != 0 {
		t.Fatalf("expected no units yet, got %#v", units)
	}
	units := s.Feed("world. ")
	if !reflect.DeepEqual(units, []string{"Hello world."}) {
		t.Fatalf("units = %#v", units)
	}
}
