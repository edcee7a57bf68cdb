// Package pipeline wires the stabilizer, utterance builder, intent
// detector, action router and session recorder into the cooperating task
// graph described for a single session: one ASR-ingress task, one
// utterance/intent consumer, one coarse poller, and the detector's own
// internal goroutines (LLM/parallel strategies). context.Context is the
// single session-level cancellation token, mirroring the teacher's
// ManagedStream ctx/cancel pair.
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/action"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/audio"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/intent"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/providers/asr"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/session"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/utterance"
)

// Config bundles the tunables a composition root needs to set; everything
// else keeps the package defaults.
type Config struct {
	SampleRate        int
	PollInterval      time.Duration
	PCMBufferCapacity int
	UtteranceOptions  utterance.Options

	// SpeechGateEnabled, when true, skips forwarding PCM chunks to the ASR
	// provider while the speech gate judges the mic confirmed-silent,
	// trading a little onset latency for less idle streaming load.
	SpeechGateEnabled    bool
	SpeechGateThreshold  float64
	SpeechGateSilenceGap time.Duration
}

// DefaultConfig matches spec.md's 16kHz mono PCM16 assumption and a ~100ms
// coarse poll for timeout-driven state transitions.
func DefaultConfig() Config {
	return Config{
		SampleRate:           16000,
		PollInterval:         100 * time.Millisecond,
		PCMBufferCapacity:    16,
		UtteranceOptions:     utterance.DefaultOptions(),
		SpeechGateEnabled:    false,
		SpeechGateThreshold:  0.02,
		SpeechGateSilenceGap: 600 * time.Millisecond,
	}
}

// LatencyBreakdown is diagnostic-only per-stage timing, the pipeline's
// analogue of the teacher's ManagedStream.GetLatencyBreakdown. It never
// gates behavior.
type LatencyBreakdown struct {
	StabilizerToUtteranceFinal time.Duration
	UtteranceFinalToIntent     time.Duration
	IntentToAction             time.Duration
}

// Pipeline is the composition root's single long-lived object per session.
// It implements intent.Emitter directly so a Detector can be constructed
// with the Pipeline itself as its emitter before Run is ever called.
type Pipeline struct {
	asrProvider asr.Provider
	detector    intent.Detector
	router      *action.Router
	recorder    *session.Recorder
	logger      events.Logger
	cfg         Config

	builder *utterance.Builder

	ring       *audio.RingChunker
	speechGate *audio.SpeechGate
	pcmNotify  chan struct{}
	pcmOut     chan []byte
	asrEvents  chan events.AsrEvent

	mu               sync.Mutex
	utteranceOpenAt  time.Time
	utteranceFinalAt time.Time
	intentFinalAt    time.Time
	latency          LatencyBreakdown
}

// New constructs a Pipeline. makeDetector receives the Pipeline itself (as
// an intent.Emitter) so the returned Detector's IntentEvents/
// IntentCorrectionEvents route back through OnIntent/OnCorrection below.
func New(asrProvider asr.Provider, makeDetector func(intent.Emitter) intent.Detector, router *action.Router, recorder *session.Recorder, logger events.Logger, cfg Config) *Pipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PCMBufferCapacity <= 0 {
		cfg.PCMBufferCapacity = 16
	}
	if logger == nil {
		logger = events.NoOpLogger{}
	}

	p := &Pipeline{
		asrProvider: asrProvider,
		router:      router,
		recorder:    recorder,
		logger:      logger,
		cfg:         cfg,
		ring:        audio.NewRingChunker(cfg.PCMBufferCapacity),
		pcmNotify:   make(chan struct{}, 1),
		pcmOut:      make(chan []byte),
		asrEvents:   make(chan events.AsrEvent, 64),
	}
	if cfg.SpeechGateEnabled {
		p.speechGate = audio.NewSpeechGate(cfg.SpeechGateThreshold, cfg.SpeechGateSilenceGap)
	}
	p.builder = utterance.New(cfg.UtteranceOptions, p.onUtteranceEvent)
	p.detector = makeDetector(p)
	return p
}

// Feed accepts one chunk of raw PCM16 audio from the capture device. It is
// safe to call from the malgo capture callback: Push never blocks, and
// overflow drops the oldest buffered chunk rather than the newest (spec.md
// §5's drop-oldest PCM channel, grounded on the ring capacity the teacher
// enforces through its own non-blocking emit/Write idiom).
func (p *Pipeline) Feed(chunk []byte) {
	if p.speechGate != nil && !p.speechGate.ShouldForward(chunk) {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	p.ring.Push(cp)
	select {
	case p.pcmNotify <- struct{}{}:
	default:
	}
}

// Run starts the task graph and blocks until ctx is cancelled or a task
// fails. It tears down all sibling tasks on the first error, per the
// single-cancellation-token model.
func (p *Pipeline) Run(parent context.Context) error {
	g, ctx := errgroup.WithContext(parent)

	g.Go(func() error { return p.runPCMPump(ctx) })
	g.Go(func() error { return p.asrProvider.StreamTranscribe(ctx, p.pcmOut, p.cfg.SampleRate, p.onAsrEvent) })
	g.Go(func() error { return p.runAsrConsumer(ctx) })
	g.Go(func() error { return p.runPoller(ctx) })

	err := g.Wait()
	p.builder.ForceClose()
	if p.recorder != nil {
		if cerr := p.recorder.Close(); cerr != nil {
			p.logger.Error("recorder close failed", "error", cerr)
		}
	}
	p.detector.Dispose()
	if parent.Err() != nil {
		return nil
	}
	return err
}

// runPCMPump drains the ring buffer into the ASR provider's input channel.
// It wakes on Feed's notify signal or a short fallback tick, so a burst of
// pushes doesn't starve the pump and an idle session doesn't spin.
func (p *Pipeline) runPCMPump(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.pcmNotify:
		case <-ticker.C:
		}
		for {
			chunk, ok := p.ring.Pop()
			if !ok {
				break
			}
			if p.recorder != nil {
				p.recorder.WriteAudio(chunk)
			}
			select {
			case p.pcmOut <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// onAsrEvent is the ASR provider's callback; it hands the event to the
// consumer goroutine over a bounded, blocking channel (ASR events must not
// be silently dropped per spec.md §3/§5).
func (p *Pipeline) onAsrEvent(e events.AsrEvent) {
	p.asrEvents <- e
}

func (p *Pipeline) runAsrConsumer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-p.asrEvents:
			if p.recorder != nil {
				p.recorder.RecordAsr(e)
			}
			p.builder.ProcessAsrEvent(e)
		}
	}
}

// runPoller drives the two coarse-polled timeout checks: utterance
// end-conditions that fire on elapsed time rather than a new ASR event, and
// the action router's conflict-window expiry.
func (p *Pipeline) runPoller(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.builder.CheckTimeouts()
			p.router.CheckConflictWindow()
		}
	}
}

func (p *Pipeline) onUtteranceEvent(u events.UtteranceEvent) {
	if p.recorder != nil {
		p.recorder.RecordUtterance(u)
	}

	if u.Type == events.UtteranceOpen {
		p.mu.Lock()
		p.utteranceOpenAt = time.Now()
		p.mu.Unlock()
		return
	}
	if u.Type != events.UtteranceFinal {
		return
	}

	now := time.Now()
	p.mu.Lock()
	if !p.utteranceOpenAt.IsZero() {
		p.latency.StabilizerToUtteranceFinal = now.Sub(p.utteranceOpenAt)
	}
	p.utteranceFinalAt = now
	p.mu.Unlock()

	p.detector.ProcessUtterance(context.Background(), u)
}

// OnIntent implements intent.Emitter. Final imperative intents are routed
// for dispatch; candidates and non-imperative finals are recorded only.
func (p *Pipeline) OnIntent(e events.IntentEvent) {
	if p.recorder != nil {
		p.recorder.RecordIntent(e)
	}
	if e.IsCandidate {
		return
	}

	p.mu.Lock()
	if !p.utteranceFinalAt.IsZero() {
		p.latency.UtteranceFinalToIntent = time.Since(p.utteranceFinalAt)
	}
	p.intentFinalAt = time.Now()
	p.mu.Unlock()

	if e.Intent.Type != events.IntentImperative {
		return
	}
	p.router.Route(e.Intent, e.UtteranceID)

	p.mu.Lock()
	p.latency.IntentToAction = time.Since(p.intentFinalAt)
	p.mu.Unlock()
}

// OnCorrection implements intent.Emitter.
func (p *Pipeline) OnCorrection(e events.IntentCorrectionEvent) {
	if p.recorder != nil {
		p.recorder.RecordCorrection(e)
	}
	if e.CorrectionType == events.CorrectionAdded && e.CorrectedIntent.Type == events.IntentImperative {
		p.router.Route(e.CorrectedIntent, e.UtteranceID)
	}
}

// OnAction is the callback a composition root passes to action.New; it
// routes dispatched/debounced actions to the recorder.
func (p *Pipeline) OnAction(e events.ActionEvent) {
	if p.recorder != nil {
		p.recorder.RecordAction(e)
	}
}

// LatencyBreakdown returns the most recent per-stage timing snapshot.
func (p *Pipeline) LatencyBreakdown() LatencyBreakdown {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency
}

// GetProviders reports the wired provider names, kept from the teacher's
// Orchestrator.GetProviders for the session report cmd/sessiontool prints.
func (p *Pipeline) GetProviders() map[string]string {
	return map[string]string{
		"asr": p.asrProvider.Name(),
	}
}
