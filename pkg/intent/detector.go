// Package intent classifies finalized utterance text into a DetectedIntent,
// in three interchangeable strategies: heuristic (pattern matching only),
// LLM (a remote classifier), and parallel (both, merged). The three share
// the Detector interface, mirroring the teacher's STTProvider /
// StreamingSTTProvider polymorphism in pkg/orchestrator/types.go.
package intent

import (
	"context"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// Detector is the capability set shared by every strategy (spec.md §9:
// "process_utterance(utt) -> async emits IntentEvent, signal_pause(),
// dispose()"). DetectCandidate/DetectFinal are the synchronous heuristic
// entry points (§4.3); ProcessUtterance is the asynchronous entry point used
// by LLM-backed strategies (§4.4-4.5). A strategy that doesn't need one of
// these is free to make it a no-op (the heuristic detector's
// ProcessUtterance synchronously emits rather than truly running async).
type Detector interface {
	// DetectCandidate classifies Update text for UI hints only. The result
	// MUST NEVER be used to trigger an action.
	DetectCandidate(text string) (events.DetectedIntent, bool)
	// DetectFinal classifies Final text; this may trigger an action.
	DetectFinal(text string) events.DetectedIntent
	// ProcessUtterance drives a (possibly asynchronous) classification of a
	// finalized utterance, emitting IntentEvents and IntentCorrectionEvents
	// through the callbacks supplied at construction time.
	ProcessUtterance(ctx context.Context, u events.UtteranceEvent)
	// SignalPause notifies the strategy of an external pause/endpointing
	// signal (used by the LLM strategy's trigger_on_pause policy).
	SignalPause()
	// Dispose releases any resources (timers, goroutines) held by the
	// strategy. Safe to call multiple times.
	Dispose()
}

// Emitter is how a Detector reports results back to the pipeline. Handlers
// must not block the publisher (spec.md §9); implementations should queue
// from inside OnIntent/OnCorrection if further work would block.
type Emitter interface {
	OnIntent(events.IntentEvent)
	OnCorrection(events.IntentCorrectionEvent)
}

// EmitterFuncs adapts two plain functions to the Emitter interface.
type EmitterFuncs struct {
	Intent     func(events.IntentEvent)
	Correction func(events.IntentCorrectionEvent)
}

func (f EmitterFuncs) OnIntent(e events.IntentEvent) {
	if f.Intent != nil {
		f.Intent(e)
	}
}

func (f EmitterFuncs) OnCorrection(e events.IntentCorrectionEvent) {
	if f.Correction != nil {
		f.Correction(e)
	}
}
