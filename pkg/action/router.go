// Package action turns imperative IntentEvents into ActionEvents, applying
// per-subtype cooldowns and a last-wins conflict window so rapid
// self-corrections ("stop... no wait, continue") collapse into a single
// dispatched action. Grounded on the teacher's EchoSuppressor/ManagedStream
// timer idiom: a mutex-guarded struct tracking lastFiredAt per key, polled
// coarsely rather than driven by per-key timers.
package action

import (
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// Handler processes a routed action. Any panic raised by a Handler is
// recovered and discarded by Route (spec.md §4.6's handler-exception
// policy): a misbehaving handler never takes down the router.
type Handler func(events.ActionEvent)

// Options configures cooldowns and the conflict window (spec.md §4.6).
type Options struct {
	Cooldowns      map[events.IntentSubtype]time.Duration
	ConflictWindow time.Duration
	// Strict makes even the first arrival in a conflict-free window wait out
	// ConflictWindow before firing, instead of firing immediately. Default
	// false matches every end-to-end scenario in spec.md §8.
	Strict bool
}

func DefaultOptions() Options {
	return Options{
		Cooldowns: map[events.IntentSubtype]time.Duration{
			events.SubtypeStop:      0,
			events.SubtypeRepeat:    1500 * time.Millisecond,
			events.SubtypeContinue:  1500 * time.Millisecond,
			events.SubtypeStartOver: 2000 * time.Millisecond,
			events.SubtypeGenerate:  5000 * time.Millisecond,
		},
		ConflictWindow: 1500 * time.Millisecond,
		Strict:         false,
	}
}

type pendingIntent struct {
	intent      events.DetectedIntent
	utteranceID string
	windowEnds  time.Time
	// fired is true when this entry is the conflict window opened by an
	// already-dispatched intent (fireAndOpenWindow's immediate fire, or a
	// previously-expired pending intent firing), as opposed to an intent
	// still waiting to fire when the window closes.
	fired bool
}

// Router dispatches imperative intents to registered handlers, absorbing
// rapid corrections within a conflict window. Safe for concurrent use.
type Router struct {
	mu           sync.Mutex
	opts         Options
	handlers     map[events.IntentSubtype]Handler
	lastFiredAt  map[events.IntentSubtype]time.Time
	pending      *pendingIntent
	now          func() time.Time
	onAction     func(events.ActionEvent)
}

// New constructs a Router. onAction, if non-nil, is invoked for every
// ActionEvent the router produces (fired or debounced), mirroring the
// emit-outside-the-lock discipline used throughout this codebase.
func New(opts Options, onAction func(events.ActionEvent)) *Router {
	return &Router{
		opts:        opts,
		handlers:    make(map[events.IntentSubtype]Handler),
		lastFiredAt: make(map[events.IntentSubtype]time.Time),
		now:         time.Now,
		onAction:    onAction,
	}
}

// RegisterHandler registers h for subtype. Idempotent; a later registration
// for the same subtype replaces the earlier one.
func (r *Router) RegisterHandler(subtype events.IntentSubtype, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[subtype] = h
}

// Route applies spec.md §4.6's algorithm: non-imperative intents are
// rejected, cooled-down subtypes are debounced, and anything else either
// fires immediately (opening a fresh conflict window) or replaces the
// currently pending intent (last-wins).
func (r *Router) Route(intent events.DetectedIntent, utteranceID string) bool {
	if intent.Type != events.IntentImperative || intent.Subtype == events.SubtypeNone {
		return false
	}

	r.mu.Lock()
	now := r.now()
	cooldown := r.opts.Cooldowns[intent.Subtype]
	lastFired, hasFired := r.lastFiredAt[intent.Subtype]
	onCooldown := hasFired && now.Sub(lastFired) < cooldown

	if onCooldown {
		r.mu.Unlock()
		r.emitAction(events.ActionEvent{
			ActionName:   string(intent.Subtype),
			Intent:       intent,
			UtteranceID:  utteranceID,
			Timestamp:    now,
			WasDebounced: true,
		})
		return false
	}

	// Any arrival inside an open conflict window — whether that window was
	// opened by an immediate fire (fired == true) or is still waiting to
	// fire itself (fired == false) — replaces the pending intent (last-wins)
	// rather than firing again itself. Once the window has closed, a
	// not-yet-fired pending intent fires now (it missed its poll); an
	// already-fired one is just cleared.
	var expiredPending *pendingIntent
	if r.pending != nil {
		if now.Before(r.pending.windowEnds) {
			r.pending = &pendingIntent{intent: intent, utteranceID: utteranceID, windowEnds: now.Add(r.opts.ConflictWindow)}
			r.mu.Unlock()
			return true
		}
		if !r.pending.fired {
			expiredPending = r.pending
		}
		r.pending = nil
	}
	r.mu.Unlock()

	if expiredPending != nil {
		r.fire(expiredPending.intent, expiredPending.utteranceID, expiredPending.windowEnds)
	}

	if r.opts.Strict {
		r.mu.Lock()
		r.pending = &pendingIntent{intent: intent, utteranceID: utteranceID, windowEnds: now.Add(r.opts.ConflictWindow)}
		r.mu.Unlock()
		return true
	}

	r.fireAndOpenWindow(intent, utteranceID, now)
	return true
}

// fireAndOpenWindow dispatches intent immediately, per spec.md §4.6 step 4,
// and opens a fresh already-fired conflict window so subsequent in-window
// arrivals are held pending (last-wins) instead of firing again themselves.
func (r *Router) fireAndOpenWindow(intent events.DetectedIntent, utteranceID string, now time.Time) {
	r.dispatch(intent, utteranceID, now)
}

// fire dispatches a previously-pending intent whose conflict window has
// closed, independently of any current "now", so cooldown math stays
// correct; it likewise opens a fresh already-fired window afterward.
func (r *Router) fire(intent events.DetectedIntent, utteranceID string, firedAt time.Time) {
	r.dispatch(intent, utteranceID, firedAt)
}

func (r *Router) dispatch(intent events.DetectedIntent, utteranceID string, firedAt time.Time) {
	r.mu.Lock()
	r.lastFiredAt[intent.Subtype] = firedAt
	r.pending = &pendingIntent{intent: intent, utteranceID: utteranceID, windowEnds: firedAt.Add(r.opts.ConflictWindow), fired: true}
	handler := r.handlers[intent.Subtype]
	r.mu.Unlock()

	r.invokeHandlerSafely(handler, intent, utteranceID, firedAt)
	r.emitAction(events.ActionEvent{
		ActionName:  string(intent.Subtype),
		Intent:      intent,
		UtteranceID: utteranceID,
		Timestamp:   firedAt,
	})
}

func (r *Router) invokeHandlerSafely(h Handler, intent events.DetectedIntent, utteranceID string, firedAt time.Time) {
	if h == nil {
		return
	}
	defer func() {
		recover() // spec.md §4.6: a handler's panic is caught and discarded.
	}()
	h(events.ActionEvent{
		ActionName:  string(intent.Subtype),
		Intent:      intent,
		UtteranceID: utteranceID,
		Timestamp:   firedAt,
	})
}

func (r *Router) emitAction(ev events.ActionEvent) {
	if r.onAction != nil {
		r.onAction(ev)
	}
}

// CheckConflictWindow closes an expired conflict window by firing its
// pending intent. Intended to be polled coarsely (≈100 ms), grounded on the
// same external-poll idiom as utterance.Builder.CheckTimeouts.
func (r *Router) CheckConflictWindow() {
	r.mu.Lock()
	if r.pending == nil || r.now().Before(r.pending.windowEnds) {
		r.mu.Unlock()
		return
	}
	p := r.pending
	r.pending = nil
	r.mu.Unlock()

	if p.fired {
		return
	}
	r.fire(p.intent, p.utteranceID, p.windowEnds)
}

// Reset clears all cooldowns and any pending intent without firing it.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFiredAt = make(map[events.IntentSubtype]time.Time)
	r.pending = nil
}

// SetClock overrides the router's time source. Test hook only.
func (r *Router) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
