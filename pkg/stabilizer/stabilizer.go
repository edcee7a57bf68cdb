// Package stabilizer converts a stream of volatile ASR partials into a
// monotonically growing "stable prefix" that never retracts.
package stabilizer

import (
	"strings"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// Options configures a Stabilizer. The zero value is not valid; use
// DefaultOptions().
type Options struct {
	// Window is the number of trailing partial hypotheses kept for
	// longest-common-prefix comparison.
	Window int
	// RequireRepetitionForLowConfidence, when set, withholds any word below
	// MinWordConfidence from the stable prefix until it has appeared in at
	// least two consecutive hypotheses.
	RequireRepetitionForLowConfidence bool
	// MinWordConfidence is the threshold below which a word is treated as
	// low-confidence.
	MinWordConfidence float64
}

// DefaultOptions matches spec defaults: a 3-hypothesis ring, confidence
// gating enabled at 0.6.
func DefaultOptions() Options {
	return Options{
		Window:                            3,
		RequireRepetitionForLowConfidence: true,
		MinWordConfidence:                 0.6,
	}
}

// Stabilizer is a pure value type: it holds no goroutines, no locks, and is
// owned exclusively by the pipeline task that drives it (see pkg/pipeline).
type Stabilizer struct {
	opts Options

	ring      [][]string      // word-tokenized hypotheses, oldest first
	ringWords [][]events.AsrWord // parallel word-confidence info, may be nil per entry
	stable    string
}

// New creates a Stabilizer with the given options.
func New(opts Options) *Stabilizer {
	if opts.Window <= 0 {
		opts.Window = 3
	}
	return &Stabilizer{opts: opts}
}

// StableText returns the current stable prefix.
func (s *Stabilizer) StableText() string {
	return s.stable
}

// Reset clears the hypothesis ring for a new utterance. The stable prefix is
// also cleared since stability is scoped per-utterance.
func (s *Stabilizer) Reset() {
	s.ring = nil
	s.ringWords = nil
	s.stable = ""
}

// AddHypothesis feeds a partial ASR hypothesis and returns the updated
// stable prefix. Empty/whitespace-only input contributes nothing.
func (s *Stabilizer) AddHypothesis(text string, words []events.AsrWord) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.stable
	}

	tokens := strings.Fields(text)
	s.ring = append(s.ring, tokens)
	s.ringWords = append(s.ringWords, words)
	if len(s.ring) > s.opts.Window {
		s.ring = s.ring[len(s.ring)-s.opts.Window:]
		s.ringWords = s.ringWords[len(s.ringWords)-s.opts.Window:]
	}

	s.recompute()
	return s.stable
}

// CommitFinal commits a final ASR segment: the stable prefix is extended to
// include the entire committed text (even if it was never the ring's common
// prefix) and the partial ring is cleared, since a final is authoritative.
// When the committed text already starts with the current stable prefix
// (case-insensitively, on a word boundary) it replaces that prefix rather
// than repeating it; otherwise it is appended after it.
func (s *Stabilizer) CommitFinal(text string) string {
	text = strings.TrimSpace(text)
	if text != "" {
		lowerText, lowerStable := strings.ToLower(text), strings.ToLower(s.stable)
		if s.stable == "" || lowerText == lowerStable || strings.HasPrefix(lowerText, lowerStable+" ") {
			s.stable = text
		} else {
			s.stable = s.stable + " " + text
		}
	}
	s.ring = nil
	s.ringWords = nil
	return s.stable
}

// recompute finds the longest common word-prefix across every hypothesis
// currently in the ring, applying the low-confidence repetition gate when
// word-level confidence is available.
func (s *Stabilizer) recompute() {
	if len(s.ring) == 0 {
		return
	}

	shortest := s.ring[0]
	for _, h := range s.ring[1:] {
		if len(h) < len(shortest) {
			shortest = h
		}
	}

	var prefix []string
	for i, word := range shortest {
		agree := true
		for _, h := range s.ring {
			if i >= len(h) || !strings.EqualFold(h[i], word) {
				agree = false
				break
			}
		}
		if !agree {
			break
		}

		if s.opts.RequireRepetitionForLowConfidence {
			if conf, ok := s.wordConfidenceAt(i); ok && conf < s.opts.MinWordConfidence {
				if s.repetitionCountAt(i) < 2 {
					break
				}
			}
		}

		prefix = append(prefix, word)
	}

	if len(prefix) > 0 {
		candidate := strings.Join(prefix, " ")
		if len(candidate) > len(s.stable) {
			s.stable = candidate
		}
	}
}

// wordConfidenceAt returns the confidence of the word at index i in the most
// recent hypothesis that has word-level info, if any.
func (s *Stabilizer) wordConfidenceAt(i int) (float64, bool) {
	for j := len(s.ringWords) - 1; j >= 0; j-- {
		words := s.ringWords[j]
		if i < len(words) {
			return words[i].Confidence, true
		}
	}
	return 0, false
}

// repetitionCountAt counts how many of the trailing hypotheses agree on the
// word at index i (case-insensitively), used to satisfy the "repeated in at
// least two consecutive hypotheses" rule for low-confidence words.
func (s *Stabilizer) repetitionCountAt(i int) int {
	if len(s.ring) < 2 {
		return 0
	}
	last := s.ring[len(s.ring)-1]
	if i >= len(last) {
		return 0
	}
	count := 0
	for _, h := range s.ring {
		if i < len(h) && strings.EqualFold(h[i], last[i]) {
			count++
		}
	}
	return count
}
