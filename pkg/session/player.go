package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// wireRecord mirrors events.RecordedEvent but keeps Data as a raw message
// until Kind is known, so a malformed or unknown kind can be skipped rather
// than failing the whole read (spec.md §9: forward-compatible with
// recordings from newer versions).
type wireRecord struct {
	Kind      events.RecordKind `json:"kind"`
	OffsetMs  int64             `json:"offset_ms"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
}

// PlaybackEvent is what Player.Play hands to its callback: the envelope
// fields plus Data decoded into its concrete event-specific type.
type PlaybackEvent struct {
	Kind      events.RecordKind
	OffsetMs  int64
	Timestamp time.Time
	Data      interface{}
}

// Summary is produced by Play (and by Analyze) regardless of mode.
type Summary struct {
	AsrCount        int
	UtteranceCount  int
	IntentCount     int
	CorrectionCount int
	ActionCount     int
	SkippedUnknown  int
	TotalDuration   time.Duration
	FinalUtterances []string
	DispatchedActions []string
}

// Player replays a recorded JSONL session, reconstructing the original
// timing between records (spec.md §4.7).
type Player struct {
	path string
}

func NewPlayer(path string) *Player {
	return &Player{path: path}
}

// Play reads the recording, invoking onEvent for every recognized record in
// order. In non-headless mode it sleeps between records for the same
// duration that separated them during capture (derived from OffsetMs).
// onEvent may be nil, in which case Play only computes the Summary.
func (p *Player) Play(ctx context.Context, headless bool, onEvent func(PlaybackEvent)) (Summary, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	var summary Summary
	var lastOffsetMs int64
	first := true

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec wireRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			summary.SkippedUnknown++
			continue
		}

		data, ok := decodeData(rec.Kind, rec.Data)
		if !ok {
			summary.SkippedUnknown++
			continue
		}

		if !headless && !first {
			gap := time.Duration(rec.OffsetMs-lastOffsetMs) * time.Millisecond
			if gap > 0 {
				select {
				case <-time.After(gap):
				case <-ctx.Done():
					return summary, ctx.Err()
				}
			}
		}
		first = false
		lastOffsetMs = rec.OffsetMs
		summary.TotalDuration = time.Duration(rec.OffsetMs) * time.Millisecond

		summarize(&summary, rec.Kind, data)

		if onEvent != nil {
			onEvent(PlaybackEvent{Kind: rec.Kind, OffsetMs: rec.OffsetMs, Timestamp: rec.Timestamp, Data: data})
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return summary, err
	}

	return summary, nil
}

// Analyze is Play with headless semantics and no callback: a report-only
// pass (spec.md §6's `--analyze`).
func (p *Player) Analyze(ctx context.Context) (Summary, error) {
	return p.Play(ctx, true, nil)
}

func decodeData(kind events.RecordKind, raw json.RawMessage) (interface{}, bool) {
	switch kind {
	case events.KindAsr:
		var e events.AsrEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, false
		}
		return e, true
	case events.KindUtterance:
		var e events.UtteranceEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, false
		}
		return e, true
	case events.KindIntent:
		var e events.IntentEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, false
		}
		return e, true
	case events.KindIntentCorrection:
		var e events.IntentCorrectionEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, false
		}
		return e, true
	case events.KindAction:
		var e events.ActionEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, false
		}
		return e, true
	default:
		return nil, false
	}
}

func summarize(s *Summary, kind events.RecordKind, data interface{}) {
	switch kind {
	case events.KindAsr:
		s.AsrCount++
	case events.KindUtterance:
		s.UtteranceCount++
		if u, ok := data.(events.UtteranceEvent); ok && u.Type == events.UtteranceFinal {
			s.FinalUtterances = append(s.FinalUtterances, u.StableText)
		}
	case events.KindIntent:
		s.IntentCount++
	case events.KindIntentCorrection:
		s.CorrectionCount++
	case events.KindAction:
		s.ActionCount++
		if a, ok := data.(events.ActionEvent); ok && !a.WasDebounced {
			s.DispatchedActions = append(s.DispatchedActions, a.ActionName)
		}
	}
}

// Report renders a Summary as a human-readable multi-line report, the shape
// --headless and --analyze print to stdout.
func (s Summary) Report() string {
	return fmt.Sprintf(
		"duration=%s asr=%d utterances=%d intents=%d corrections=%d actions=%d skipped=%d\nfinal utterances: %v\ndispatched actions: %v\n",
		s.TotalDuration, s.AsrCount, s.UtteranceCount, s.IntentCount, s.CorrectionCount, s.ActionCount, s.SkippedUnknown,
		s.FinalUtterances, s.DispatchedActions,
	)
}
