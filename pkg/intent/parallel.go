package intent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/providers/classifier"
)

// ParallelOptions configures the parallel merge strategy (spec.md §4.5).
type ParallelOptions struct {
	LLMTimeout          time.Duration
	ConfidenceThreshold float64
	StopWords           map[string]bool
}

func DefaultParallelOptions() ParallelOptions {
	return ParallelOptions{
		LLMTimeout:          5000 * time.Millisecond,
		ConfidenceThreshold: 0.7,
		StopWords:           DefaultStopWords,
	}
}

// ParallelDetector runs the heuristic detector synchronously for an
// immediate candidate, and a remote Classifier concurrently for the final
// decision (spec.md §4.5). If the classifier fails or exceeds LLMTimeout,
// the heuristic result is promoted to final instead.
type ParallelDetector struct {
	heuristic  *HeuristicDetector
	classifier classifier.Classifier
	emitter    Emitter
	opts       ParallelOptions

	mu        sync.Mutex
	finalized map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewParallelDetector(c classifier.Classifier, emitter Emitter, opts ParallelOptions) *ParallelDetector {
	ctx, cancel := context.WithCancel(context.Background())
	return &ParallelDetector{
		heuristic:  NewHeuristicDetector(nil),
		classifier: c,
		emitter:    emitter,
		opts:       opts,
		finalized:  make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (d *ParallelDetector) DetectCandidate(text string) (events.DetectedIntent, bool) {
	return d.heuristic.DetectCandidate(text)
}

func (d *ParallelDetector) DetectFinal(text string) events.DetectedIntent {
	return d.heuristic.DetectFinal(text)
}

// ProcessUtterance emits the heuristic classification immediately as a
// candidate, then races a classifier call against LLMTimeout in a detached
// goroutine; whichever resolves first (LLM result or timeout) is emitted as
// final, and the other is discarded.
func (d *ParallelDetector) ProcessUtterance(ctx context.Context, u events.UtteranceEvent) {
	if strings.TrimSpace(u.StableText) == "" {
		return
	}

	candidate := d.heuristic.DetectFinal(u.StableText)
	candidate.UtteranceID = u.ID
	if d.emitter != nil {
		d.emitter.OnIntent(events.IntentEvent{
			Intent:      candidate,
			UtteranceID: u.ID,
			IsCandidate: true,
			OffsetMs:    u.OffsetMs,
		})
	}

	d.wg.Add(1)
	go d.classifyAndPromote(ctx, u, candidate)
}

func (d *ParallelDetector) classifyAndPromote(parent context.Context, u events.UtteranceEvent, fallback events.DetectedIntent) {
	defer d.wg.Done()

	callCtx, cancel := context.WithTimeout(parent, d.opts.LLMTimeout)
	defer cancel()

	text := "[" + u.ID + "] " + u.StableText
	intents, err := d.classifier.Classify(callCtx, text, "")

	if d.tryFinalize(u.ID) {
		return
	}

	final := fallback
	if err == nil {
		candidates := map[string]string{u.ID: u.StableText}
		if best, ok := bestIntentFor(intents, u.ID, candidates, d.opts.ConfidenceThreshold, d.opts.StopWords); ok {
			final = best
		}
	}
	final.UtteranceID = u.ID

	if d.emitter != nil {
		d.emitter.OnIntent(events.IntentEvent{
			Intent:      final,
			UtteranceID: u.ID,
			IsCandidate: false,
			OffsetMs:    u.OffsetMs,
		})
	}
}

// bestIntentFor picks the intent within intents attributed to utteranceID
// (by the LLM's own tag, falling back to Jaccard overlap) whose confidence
// clears threshold.
func bestIntentFor(intents []events.DetectedIntent, utteranceID string, candidates map[string]string, threshold float64, stopWords map[string]bool) (events.DetectedIntent, bool) {
	var best events.DetectedIntent
	found := false
	for _, di := range intents {
		if di.Confidence < threshold {
			continue
		}
		attributed := AttributeUtteranceID(di.UtteranceID, di.SourceText, candidates, stopWords)
		if attributed != utteranceID {
			continue
		}
		if !found || di.Confidence > best.Confidence {
			best = di
			found = true
		}
	}
	return best, found
}

// tryFinalize marks utteranceID as finalized, returning true if it was
// already finalized. Guards against the pipeline ever emitting a duplicate
// Final for the same utterance id racing two classifyAndPromote calls.
func (d *ParallelDetector) tryFinalize(utteranceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	already := d.finalized[utteranceID]
	d.finalized[utteranceID] = true
	return already
}

func (d *ParallelDetector) SignalPause() {}

func (d *ParallelDetector) Dispose() {
	d.cancel()
	d.wg.Wait()
}
