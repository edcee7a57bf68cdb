package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// ErrTransient wraps network/5xx/429/timeout failures (spec.md §7
// ClassifierTransient). Callers match with errors.Is.
var ErrTransient = errors.New("classifier: transient failure")

// ErrMalformed wraps a non-JSON or schema-mismatched response (spec.md §7
// ClassifierMalformed).
var ErrMalformed = errors.New("classifier: malformed response")

// classifierSystemPrompt instructs the remote model to return the
// contractual response shape from spec.md §4.4: an ordered JSON array of
// detected intents, each with type/subtype/confidence/source_text/
// original_text/utterance_id.
const classifierSystemPrompt = `You classify transcribed speech utterances into intents.

Each input line is prefixed with an utterance id in the form "[id] text".
Return ONLY a JSON array (no prose) of objects shaped exactly as:
  {"type": "Question"|"Imperative"|"Statement"|"Other",
   "subtype": "Definition"|"HowTo"|"Compare"|"Troubleshoot"|"Clarification"|
              "Rhetorical"|"General"|"Stop"|"Repeat"|"Continue"|"StartOver"|
              "Generate"|"",
   "confidence": 0.0-1.0,
   "source_text": "the reformulated, standalone version of the utterance",
   "original_text": "the original substring before reformulation",
   "utterance_id": "the id this utterance came from, if known"}
Return one object per utterance you can confidently classify. Omit
low-confidence guesses rather than including them.`

// rawIntent mirrors the wire shape the system prompt requests.
type rawIntent struct {
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype"`
	Confidence   float64 `json:"confidence"`
	SourceText   string  `json:"source_text"`
	OriginalText string  `json:"original_text"`
	UtteranceID  string  `json:"utterance_id"`
}

// parseIntentsJSON decodes a classifier's raw text response into
// DetectedIntents, tolerating a response wrapped in a code fence (a common
// LLM habit) before the array itself.
func parseIntentsJSON(raw string) ([]events.DetectedIntent, error) {
	raw = stripCodeFence(raw)

	var items []rawIntent
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := make([]events.DetectedIntent, 0, len(items))
	for _, it := range items {
		out = append(out, events.DetectedIntent{
			Type:         events.IntentType(it.Type),
			Subtype:      events.IntentSubtype(it.Subtype),
			Confidence:   it.Confidence,
			SourceText:   it.SourceText,
			OriginalText: it.OriginalText,
			UtteranceID:  it.UtteranceID,
		})
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
