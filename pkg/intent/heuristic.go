package intent

import (
	"context"
	"strings"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// HeuristicDetector classifies text by pattern matching only (spec.md §4.3).
// It holds no state and is safe for concurrent use.
type HeuristicDetector struct {
	emitter Emitter
}

// NewHeuristicDetector creates a HeuristicDetector. emitter may be nil if
// the caller only uses DetectCandidate/DetectFinal directly (as the
// parallel strategy does) rather than through ProcessUtterance.
func NewHeuristicDetector(emitter Emitter) *HeuristicDetector {
	return &HeuristicDetector{emitter: emitter}
}

var stopImperatives = []struct {
	words   []string
	subtype events.IntentSubtype
	conf    float64
}{
	{[]string{"stop", "cancel", "quit", "enough", "abort", "halt"}, events.SubtypeStop, 0.9},
}

var repeatPhrases = []string{"repeat", "say it again", "say that again", "once more"}
var continuePhrases = []string{"continue", "go on", "keep going", "next question", "move on"}
var startOverPhrases = []string{"start over", "restart", "begin again", "from the top"}

var generateVerbs = []string{"generate", "create", "make"}
var generateNouns = []string{"question", "summary", "list", "example"}

var whWords = []string{"what", "why", "when", "where", "who", "how", "which"}
var auxWords = []string{"can", "could", "would", "should", "is", "are", "do", "does", "did", "will"}

type subtypeMatcher struct {
	subtype events.IntentSubtype
	phrases []string
}

var questionSubtypes = []subtypeMatcher{
	{events.SubtypeDefinition, []string{"what is", "define", "meaning of"}},
	{events.SubtypeHowTo, []string{"how to", "how do", "steps to", "process"}},
	{events.SubtypeCompare, []string{"compare", "vs", "versus", "difference between"}},
	{events.SubtypeTroubleshoot, []string{"error", "bug", "fix", "problem", "not working"}},
}

// DetectFinal applies the ordered classification rules in spec.md §4.3.
func (h *HeuristicDetector) DetectFinal(text string) events.DetectedIntent {
	original := text
	norm := strings.ToLower(strings.TrimSpace(text))

	if containsAny(norm, stopImperatives[0].words) {
		return events.DetectedIntent{
			Type: events.IntentImperative, Subtype: events.SubtypeStop,
			Confidence: 0.9, SourceText: norm, OriginalText: original,
		}
	}
	if containsAny(norm, repeatPhrases) {
		return events.DetectedIntent{
			Type: events.IntentImperative, Subtype: events.SubtypeRepeat,
			Confidence: 0.85, SourceText: norm, OriginalText: original,
		}
	}
	if containsAny(norm, continuePhrases) {
		return events.DetectedIntent{
			Type: events.IntentImperative, Subtype: events.SubtypeContinue,
			Confidence: 0.85, SourceText: norm, OriginalText: original,
		}
	}
	if containsAny(norm, startOverPhrases) {
		return events.DetectedIntent{
			Type: events.IntentImperative, Subtype: events.SubtypeStartOver,
			Confidence: 0.85, SourceText: norm, OriginalText: original,
		}
	}
	if hasVerbNounPair(norm, generateVerbs, generateNouns) {
		return events.DetectedIntent{
			Type: events.IntentImperative, Subtype: events.SubtypeGenerate,
			Confidence: 0.8, SourceText: norm, OriginalText: original,
		}
	}

	if isQuestion(norm) {
		subtype := events.SubtypeNone
		for _, m := range questionSubtypes {
			if containsAny(norm, m.phrases) {
				subtype = m.subtype
				break
			}
		}
		return events.DetectedIntent{
			Type: events.IntentQuestion, Subtype: subtype,
			Confidence: 0.8, SourceText: norm, OriginalText: original,
		}
	}

	return events.DetectedIntent{
		Type: events.IntentStatement, Subtype: events.SubtypeNone,
		Confidence: 0.5, SourceText: norm, OriginalText: original,
	}
}

// DetectCandidate runs the same rules as DetectFinal but is intended for
// Update events; candidates are advisory only (spec.md §4.3). Empty/
// whitespace input yields no candidate.
func (h *HeuristicDetector) DetectCandidate(text string) (events.DetectedIntent, bool) {
	if strings.TrimSpace(text) == "" {
		return events.DetectedIntent{}, false
	}
	return h.DetectFinal(text), true
}

// ProcessUtterance runs DetectFinal synchronously and emits a final
// IntentEvent. The heuristic path need not be asynchronous (spec.md §9).
func (h *HeuristicDetector) ProcessUtterance(_ context.Context, u events.UtteranceEvent) {
	if strings.TrimSpace(u.StableText) == "" {
		return
	}
	di := h.DetectFinal(u.StableText)
	di.UtteranceID = u.ID
	if h.emitter != nil {
		h.emitter.OnIntent(events.IntentEvent{
			Intent:      di,
			UtteranceID: u.ID,
			IsCandidate: false,
			OffsetMs:    u.OffsetMs,
		})
	}
}

func (h *HeuristicDetector) SignalPause() {}
func (h *HeuristicDetector) Dispose()     {}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func hasVerbNounPair(text string, verbs, nouns []string) bool {
	hasVerb := containsAny(text, verbs)
	hasNoun := containsAny(text, nouns)
	return hasVerb && hasNoun
}

func isQuestion(text string) bool {
	if strings.HasSuffix(text, "?") {
		return true
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	for _, w := range whWords {
		if first == w {
			return true
		}
	}
	for _, w := range auxWords {
		if first == w {
			return true
		}
	}
	return false
}
