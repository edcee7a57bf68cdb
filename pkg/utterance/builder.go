// Package utterance segments a stream of ASR events into coherent
// utterances, using silence, punctuation, timeouts and length limits as end
// conditions. The state machine is grounded on the teacher's ManagedStream:
// a small mutex-guarded struct whose public methods are short,
// non-blocking, and never hold the lock across I/O.
package utterance

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/stabilizer"
)

// Options configures end-condition thresholds. Defaults match spec.md §4.2.
type Options struct {
	SilenceGap      time.Duration
	PunctuationPause time.Duration
	MaxDuration     time.Duration
	MaxLength       int
	// UseStabilizer selects whether stable_text comes from an internal
	// Stabilizer (recommended) or is simply the concatenation of
	// contributing ASR-final texts.
	UseStabilizer bool
	StabilizerOptions stabilizer.Options
}

// DefaultOptions matches spec.md §4.2's defaults.
func DefaultOptions() Options {
	return Options{
		SilenceGap:        750 * time.Millisecond,
		PunctuationPause:  300 * time.Millisecond,
		MaxDuration:       12 * time.Second,
		MaxLength:         500,
		UseStabilizer:     true,
		StabilizerOptions: stabilizer.DefaultOptions(),
	}
}

// state is the internal Idle/Open phase; distinct from events.UtteranceEventType
// which only names the emitted event, not the builder's own state.
type state int

const (
	stateIdle state = iota
	stateOpen
)

// Builder drives the Idle -> Open -> (Update)* -> Final state machine
// described in spec.md §4.2. All public methods are safe for concurrent use;
// ProcessAsrEvent and CheckTimeouts may be called from different goroutines
// per the pipeline's polling design.
type Builder struct {
	opts Options
	now  func() time.Time // overridable for tests

	mu sync.Mutex

	state      state
	id         string
	justOpened bool
	stab       *stabilizer.Stabilizer
	plainText  string // used when UseStabilizer is false
	openedAt   time.Time
	lastUpdate time.Time
	finalOffsets []int64
	// lastAsrOffsetMs is the most recently contributing ASR event's stream
	// offset. Open/Final events carry it instead of a wall-clock timestamp
	// so every event in a session shares one non-decreasing offset_ms clock
	// with Update events and with the ASR events the recorder attributes
	// transcript ranges against.
	lastAsrOffsetMs int64

	onEvent func(events.UtteranceEvent)
}

// New creates a Builder. onEvent is invoked synchronously for every
// Open/Update/Final transition; callers needing asynchronous delivery
// should queue from inside onEvent rather than block it (spec.md §9:
// "Handlers must not block the publisher").
func New(opts Options, onEvent func(events.UtteranceEvent)) *Builder {
	b := &Builder{
		opts:    opts,
		now:     time.Now,
		onEvent: onEvent,
	}
	if opts.UseStabilizer {
		b.stab = stabilizer.New(opts.StabilizerOptions)
	}
	return b
}

// ProcessAsrEvent feeds one ASR event (partial or final) into the builder.
func (b *Builder) ProcessAsrEvent(e events.AsrEvent) {
	b.mu.Lock()

	text := strings.TrimSpace(e.Text)
	now := b.now()

	if b.state == stateIdle {
		if text == "" {
			b.mu.Unlock()
			return
		}
		b.openLocked(now)
	}
	opened := events.UtteranceEvent{}
	justOpened := b.justOpened
	if justOpened {
		opened = events.UtteranceEvent{ID: b.id, Type: events.UtteranceOpen, OffsetMs: e.OffsetMs}
		b.justOpened = false
	}

	b.lastUpdate = now
	b.lastAsrOffsetMs = e.OffsetMs
	if e.IsFinal {
		b.finalOffsets = append(b.finalOffsets, e.OffsetMs)
	}

	var stableText, unstableText string
	if b.opts.UseStabilizer {
		if e.IsFinal {
			stableText = b.stab.CommitFinal(text)
		} else {
			stableText = b.stab.AddHypothesis(text, e.Words)
		}
		unstableText = text
	} else {
		if e.IsFinal {
			if b.plainText == "" {
				b.plainText = text
			} else if text != "" {
				b.plainText = b.plainText + " " + text
			}
		}
		stableText = b.plainText
		unstableText = text
	}

	_, shouldClose := b.checkEndConditionsLocked(now, stableText)
	id := b.id

	if shouldClose {
		final := b.buildFinalLocked(stableText, now)
		b.resetLocked()
		b.mu.Unlock()
		if justOpened {
			b.emit(opened)
		}
		b.emit(final)
		return
	}

	update := events.UtteranceEvent{
		ID:           id,
		Type:         events.UtteranceUpdate,
		StableText:   stableText,
		UnstableText: unstableText,
		OffsetMs:     e.OffsetMs,
	}
	b.mu.Unlock()
	if justOpened {
		// The event that opens an utterance emits only Open, carrying the
		// first stable/unstable text; later events emit Updates.
		opened.StableText, opened.UnstableText = stableText, unstableText
		b.emit(opened)
		return
	}
	b.emit(update)
}

// SignalUtteranceEnd is the external end-hint from the ASR provider's own
// endpointing (end condition 5 in spec.md §4.2).
func (b *Builder) SignalUtteranceEnd() {
	b.closeIfOpen()
}

// ForceClose closes any open utterance unconditionally (end condition 6;
// also used on session cancellation per spec.md §5).
func (b *Builder) ForceClose() {
	b.closeIfOpen()
}

func (b *Builder) closeIfOpen() {
	b.mu.Lock()
	if b.state != stateOpen {
		b.mu.Unlock()
		return
	}
	now := b.now()
	stableText := b.currentStableLocked()
	final := b.buildFinalLocked(stableText, now)
	b.resetLocked()
	b.mu.Unlock()
	b.emit(final)
}

// CheckTimeouts is polled coarsely (~100ms) by an external scheduler to
// close utterances whose silence-gap, punctuation-pause or max-duration
// condition has fired without a new ASR event arriving to trigger the check
// inline. Safe to call concurrently with ProcessAsrEvent.
func (b *Builder) CheckTimeouts() {
	b.mu.Lock()
	if b.state != stateOpen {
		b.mu.Unlock()
		return
	}
	now := b.now()
	stableText := b.currentStableLocked()
	_, shouldClose := b.checkEndConditionsLocked(now, stableText)
	if !shouldClose {
		b.mu.Unlock()
		return
	}
	final := b.buildFinalLocked(stableText, now)
	b.resetLocked()
	b.mu.Unlock()
	b.emit(final)
}

func (b *Builder) currentStableLocked() string {
	if b.opts.UseStabilizer {
		return b.stab.StableText()
	}
	return b.plainText
}

// openLocked transitions Idle -> Open. Must be called with b.mu held; the
// Open event itself is emitted by the caller after releasing the lock, to
// keep all onEvent calls outside the critical section.
func (b *Builder) openLocked(now time.Time) {
	b.state = stateOpen
	b.id = uuid.NewString()
	b.openedAt = now
	b.lastUpdate = now
	b.finalOffsets = nil
	b.justOpened = true
	if b.opts.UseStabilizer {
		b.stab.Reset()
	}
	b.plainText = ""
}

// checkEndConditionsLocked evaluates the four timer/length-based end
// conditions from spec.md §4.2 (external signals are handled by their own
// methods). Must be called with b.mu held.
func (b *Builder) checkEndConditionsLocked(now time.Time, stableText string) (reason string, shouldClose bool) {
	if now.Sub(b.lastUpdate) >= b.opts.SilenceGap {
		return "silence_gap", true
	}

	if endsWithTerminalPunctuation(stableText) && now.Sub(b.lastUpdate) >= b.opts.PunctuationPause {
		return "punctuation_pause", true
	}

	if now.Sub(b.openedAt) >= b.opts.MaxDuration {
		return "max_duration", true
	}

	if len(stableText) >= b.opts.MaxLength {
		return "max_length", true
	}

	return "", false
}

func endsWithTerminalPunctuation(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == '.' || last == '?' || last == '!'
}

func (b *Builder) buildFinalLocked(stableText string, now time.Time) events.UtteranceEvent {
	offsets := append([]int64(nil), b.finalOffsets...)
	return events.UtteranceEvent{
		ID:              b.id,
		Type:            events.UtteranceFinal,
		StableText:      stableText,
		DurationMs:      now.Sub(b.openedAt).Milliseconds(),
		AsrFinalOffsets: offsets,
		OffsetMs:        b.lastAsrOffsetMs,
	}
}

func (b *Builder) resetLocked() {
	b.state = stateIdle
	b.id = ""
	if b.opts.UseStabilizer {
		b.stab.Reset()
	}
	b.plainText = ""
	b.finalOffsets = nil
}

func (b *Builder) emit(e events.UtteranceEvent) {
	if b.onEvent != nil {
		b.onEvent(e)
	}
}

// SetClock overrides the time source; test-only hook.
func (b *Builder) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
