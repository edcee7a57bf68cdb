package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// slowClassifier blocks until ctx is done (simulating a hung remote call) or
// a configured delay elapses, whichever comes first, then returns either a
// canned result or an error.
type slowClassifier struct {
	delay   time.Duration
	result  []events.DetectedIntent
	err     error
}

func (s *slowClassifier) Name() string { return "slow" }

func (s *slowClassifier) Classify(ctx context.Context, _ string, _ string) ([]events.DetectedIntent, error) {
	select {
	case <-time.After(s.delay):
		return s.result, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestParallelDetector_HeuristicEmittedAsCandidateImmediately(t *testing.T) {
	c := &slowClassifier{delay: time.Hour} // never resolves within the test
	em := &testEmitter{}
	opts := DefaultParallelOptions()
	opts.LLMTimeout = 50 * time.Millisecond

	d := NewParallelDetector(c, em, opts)
	defer d.Dispose()

	d.ProcessUtterance(context.Background(), events.UtteranceEvent{ID: "u1", Type: events.UtteranceFinal, StableText: "stop"})

	deadline := time.Now().Add(500 * time.Millisecond)
	for em.intentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	em.mu.Lock()
	if len(em.intents) == 0 {
		em.mu.Unlock()
		t.Fatal("expected a candidate intent to be emitted immediately")
	}
	first := em.intents[0]
	em.mu.Unlock()

	if !first.IsCandidate {
		t.Errorf("expected first emitted event to be a candidate")
	}
	if first.Intent.Subtype != events.SubtypeStop {
		t.Errorf("expected heuristic Stop classification, got %v", first.Intent.Subtype)
	}
}

func TestParallelDetector_LLMResultSupersedesAsFinal(t *testing.T) {
	c := &slowClassifier{
		delay: 20 * time.Millisecond,
		result: []events.DetectedIntent{
			{Type: events.IntentQuestion, Subtype: events.SubtypeHowTo, Confidence: 0.95, SourceText: "how do I stop this", UtteranceID: "u1"},
		},
	}
	em := &testEmitter{}
	opts := DefaultParallelOptions()
	opts.LLMTimeout = 2 * time.Second

	d := NewParallelDetector(c, em, opts)
	defer d.Dispose()

	d.ProcessUtterance(context.Background(), events.UtteranceEvent{ID: "u1", Type: events.UtteranceFinal, StableText: "stop"})

	deadline := time.Now().Add(1 * time.Second)
	for {
		em.mu.Lock()
		n := len(em.intents)
		em.mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.intents) != 2 {
		t.Fatalf("expected a candidate then a final, got %d events", len(em.intents))
	}
	final := em.intents[1]
	if final.IsCandidate {
		t.Errorf("expected second event to be final")
	}
	if final.Intent.Type != events.IntentQuestion || final.Intent.Subtype != events.SubtypeHowTo {
		t.Errorf("expected LLM result to supersede heuristic, got %+v", final.Intent)
	}
}

func TestParallelDetector_TimeoutPromotesHeuristicToFinal(t *testing.T) {
	c := &slowClassifier{delay: time.Hour, err: errors.New("unused")}
	em := &testEmitter{}
	opts := DefaultParallelOptions()
	opts.LLMTimeout = 30 * time.Millisecond

	d := NewParallelDetector(c, em, opts)
	defer d.Dispose()

	d.ProcessUtterance(context.Background(), events.UtteranceEvent{ID: "u1", Type: events.UtteranceFinal, StableText: "stop"})

	deadline := time.Now().Add(1 * time.Second)
	for {
		em.mu.Lock()
		n := len(em.intents)
		em.mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.intents) != 2 {
		t.Fatalf("expected a candidate then a promoted final, got %d events", len(em.intents))
	}
	final := em.intents[1]
	if final.IsCandidate {
		t.Errorf("expected second event to be final")
	}
	if final.Intent.Subtype != events.SubtypeStop {
		t.Errorf("expected heuristic Stop to be promoted, got %+v", final.Intent)
	}
}

func TestBestIntentFor_FiltersBelowThreshold(t *testing.T) {
	intents := []events.DetectedIntent{
		{Type: events.IntentQuestion, Confidence: 0.5, SourceText: "what is this", UtteranceID: "u1"},
	}
	_, ok := bestIntentFor(intents, "u1", map[string]string{"u1": "what is this"}, 0.7, DefaultStopWords)
	if ok {
		t.Error("expected low-confidence intent to be filtered out")
	}
}
