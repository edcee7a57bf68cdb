package intent

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/providers/classifier"
)

// LLMOptions configures the LLM strategy's triggering, call construction and
// post-processing policy (spec.md §4.4).
type LLMOptions struct {
	RateLimit              time.Duration
	TriggerOnQuestionMark  bool
	TriggerOnPause         bool
	TriggerTimeout         time.Duration
	BufferMaxChars         int
	ContextWindowChars     int
	ConfidenceThreshold    float64
	EnableDeduplication    bool
	DedupWindow            time.Duration
	EnablePreprocessing    bool
	StopWords              map[string]bool
	// PollInterval governs how often the background goroutine checks
	// TriggerTimeout; it does not appear in spec.md and only bounds the
	// timer's real-world granularity.
	PollInterval time.Duration
}

func DefaultLLMOptions() LLMOptions {
	return LLMOptions{
		RateLimit:             2000 * time.Millisecond,
		TriggerOnQuestionMark: true,
		TriggerOnPause:        true,
		TriggerTimeout:        3000 * time.Millisecond,
		BufferMaxChars:        800,
		ContextWindowChars:    1500,
		ConfidenceThreshold:   0.7,
		EnableDeduplication:   true,
		DedupWindow:           30 * time.Second,
		EnablePreprocessing:   true,
		StopWords:             DefaultStopWords,
		PollInterval:          250 * time.Millisecond,
	}
}

var fillerWordRe = regexp.MustCompile(`(?i)\b(um+|uh+|er+|hmm+)\b`)

var technicalTermMap = map[string]string{
	"spanty":             "Span<T>",
	"sea sharp":          "C#",
	"configure await":    "ConfigureAwait",
}

// preprocess removes filler words, collapses runs of three or more of the
// same word down to one occurrence, and applies the technical-term
// correction map (spec.md §4.4).
func preprocess(text string) string {
	out := fillerWordRe.ReplaceAllString(text, "")
	words := strings.Fields(out)
	kept := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		j := i + 1
		for j < len(words) && strings.EqualFold(words[j], words[i]) {
			j++
		}
		run := words[i:j]
		if len(run) > 2 {
			run = run[:1]
		}
		kept = append(kept, run...)
		i = j
	}
	out = strings.Join(kept, " ")
	lower := strings.ToLower(out)
	for k, v := range technicalTermMap {
		if idx := strings.Index(lower, k); idx >= 0 {
			out = strings.ReplaceAll(out, out[idx:idx+len(k)], v)
			lower = strings.ToLower(out)
		}
	}
	return strings.Join(strings.Fields(out), " ")
}

type pendingUtterance struct {
	id   string
	text string
}

type reportedIntent struct {
	intent events.DetectedIntent
}

// LLMDetector classifies finalized utterances through a remote Classifier,
// rate-limited and buffered per spec.md §4.4. Grounded on the teacher's
// ManagedStream mutex discipline: public methods lock only to mutate state,
// never across the classifier call or an emit.
type LLMDetector struct {
	opts       LLMOptions
	classifier classifier.Classifier
	emitter    Emitter
	now        func() time.Time

	mu                sync.Mutex
	processedText     string
	unprocessedBuffer []pendingUtterance
	lastCallAt        time.Time
	lastUtteranceAt   time.Time
	fingerprints      map[string]time.Time
	reported          map[string]reportedIntent

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLLMDetector constructs an LLMDetector and starts its background
// trigger-timeout poller. Callers must call Dispose when finished.
func NewLLMDetector(c classifier.Classifier, emitter Emitter, opts LLMOptions) *LLMDetector {
	ctx, cancel := context.WithCancel(context.Background())
	d := &LLMDetector{
		opts:       opts,
		classifier: c,
		emitter:    emitter,
		now:        time.Now,
		fingerprints: make(map[string]time.Time),
		reported:     make(map[string]reportedIntent),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go d.pollLoop(ctx)
	return d
}

func (d *LLMDetector) pollLoop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkTimeoutTrigger(ctx)
		}
	}
}

func (d *LLMDetector) checkTimeoutTrigger(ctx context.Context) {
	d.mu.Lock()
	if len(d.unprocessedBuffer) == 0 {
		d.mu.Unlock()
		return
	}
	idle := d.now().Sub(d.lastUtteranceAt)
	elapsedSinceCall := d.now().Sub(d.lastCallAt)
	shouldTrigger := idle >= d.opts.TriggerTimeout && elapsedSinceCall >= d.opts.RateLimit
	d.mu.Unlock()
	if shouldTrigger {
		d.flush(ctx, "")
	}
}

// DetectCandidate and DetectFinal are not used by the LLM strategy directly
// (it classifies asynchronously); they delegate to a heuristic so the
// Detector interface is fully satisfiable when a caller invokes them.
func (d *LLMDetector) DetectCandidate(text string) (events.DetectedIntent, bool) {
	return (&HeuristicDetector{}).DetectCandidate(text)
}

func (d *LLMDetector) DetectFinal(text string) events.DetectedIntent {
	return (&HeuristicDetector{}).DetectFinal(text)
}

// ProcessUtterance buffers the utterance and triggers a classification call
// if a triggering condition and the rate limit both hold (spec.md §4.4).
func (d *LLMDetector) ProcessUtterance(ctx context.Context, u events.UtteranceEvent) {
	if strings.TrimSpace(u.StableText) == "" {
		return
	}

	text := u.StableText
	if d.opts.EnablePreprocessing {
		text = preprocess(text)
	}

	d.mu.Lock()
	d.unprocessedBuffer = append(d.unprocessedBuffer, pendingUtterance{id: u.ID, text: text})
	d.lastUtteranceAt = d.now()
	bufferChars := 0
	for _, p := range d.unprocessedBuffer {
		bufferChars += len(p.text)
	}
	questionTrigger := d.opts.TriggerOnQuestionMark && strings.HasSuffix(strings.TrimSpace(text), "?")
	bufferTrigger := bufferChars >= d.opts.BufferMaxChars
	elapsedSinceCall := d.now().Sub(d.lastCallAt)
	rateLimitOK := elapsedSinceCall >= d.opts.RateLimit
	d.mu.Unlock()

	if bufferTrigger {
		// Buffer-max-chars is a forced detection: it fires even inside the
		// rate limit window (spec.md §4.4 item 4).
		d.flush(ctx, "")
		return
	}
	if questionTrigger && rateLimitOK {
		d.flush(ctx, "")
	}
}

// SignalPause implements the external pause/endpointing trigger.
func (d *LLMDetector) SignalPause() {
	if !d.opts.TriggerOnPause {
		return
	}
	d.mu.Lock()
	rateLimitOK := d.now().Sub(d.lastCallAt) >= d.opts.RateLimit
	hasWork := len(d.unprocessedBuffer) > 0
	d.mu.Unlock()
	if rateLimitOK && hasWork {
		d.flush(context.Background(), "")
	}
}

func (d *LLMDetector) Dispose() {
	d.cancel()
	<-d.done
}

// flush drains unprocessedBuffer, calls the classifier and post-processes
// the response (spec.md §4.4). callContext overrides the trimmed
// processedText tail when non-empty; every current caller passes "".
func (d *LLMDetector) flush(ctx context.Context, callContext string) {
	d.mu.Lock()
	if len(d.unprocessedBuffer) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.unprocessedBuffer
	d.unprocessedBuffer = nil
	d.lastCallAt = d.now()

	candidates := make(map[string]string, len(batch))
	var textToClassify strings.Builder
	for i, p := range batch {
		if i > 0 {
			textToClassify.WriteString("\n")
		}
		textToClassify.WriteString("[")
		textToClassify.WriteString(p.id)
		textToClassify.WriteString("] ")
		textToClassify.WriteString(p.text)
		candidates[p.id] = p.text
	}

	context_ := callContext
	if context_ == "" {
		context_ = tailAtWordBoundary(d.processedText, d.opts.ContextWindowChars)
	}
	d.mu.Unlock()

	intents, err := d.classifier.Classify(ctx, textToClassify.String(), context_)
	if err != nil {
		// ClassifierTransient policy (spec.md §7): drop the batch,
		// retrying on the next trigger with fresh utterances. The dropped
		// batch's text is still appended to processedText so later context
		// windows remain coherent.
		d.mu.Lock()
		d.appendProcessedLocked(batch)
		d.mu.Unlock()
		return
	}

	d.postProcess(intents, batch, candidates)
}

func (d *LLMDetector) appendProcessedLocked(batch []pendingUtterance) {
	for _, p := range batch {
		if d.processedText != "" {
			d.processedText += " "
		}
		d.processedText += p.text
	}
	d.processedText = tailAtWordBoundary(d.processedText, d.opts.ContextWindowChars)
}

func (d *LLMDetector) postProcess(intents []events.DetectedIntent, batch []pendingUtterance, candidates map[string]string) {
	now := d.now()

	for _, di := range intents {
		if di.Confidence < d.opts.ConfidenceThreshold {
			continue
		}

		uid := AttributeUtteranceID(di.UtteranceID, di.SourceText, candidates, d.opts.StopWords)
		if uid == "" {
			continue
		}
		di.UtteranceID = uid

		if d.opts.EnableDeduplication {
			fp := Fingerprint(di.SourceText, d.opts.StopWords)
			d.mu.Lock()
			seenAt, seen := d.fingerprints[fp]
			if seen && now.Sub(seenAt) < d.opts.DedupWindow {
				d.mu.Unlock()
				continue
			}
			d.fingerprints[fp] = now
			d.mu.Unlock()
		}

		d.reportWithCorrection(di, now)
	}

	d.mu.Lock()
	d.appendProcessedLocked(batch)
	d.mu.Unlock()
}

// reportWithCorrection emits a final IntentEvent for a genuinely new
// utterance id (preceded by an Added IntentCorrectionEvent when it is a
// question), or an IntentCorrectionEvent (Removed/TypeChanged/Confirmed)
// for a previously reported one, per spec.md §4.4's correction protocol.
func (d *LLMDetector) reportWithCorrection(di events.DetectedIntent, now time.Time) {
	d.mu.Lock()
	prior, hadPrior := d.reported[di.UtteranceID]
	d.reported[di.UtteranceID] = reportedIntent{intent: di}
	d.mu.Unlock()

	if d.emitter == nil {
		return
	}

	if !hadPrior {
		// spec.md §4.4: a question reported for an utterance id with no
		// prior final IntentEvent is also announced as a correction
		// (Added), ahead of its final IntentEvent.
		if di.Type == events.IntentQuestion {
			d.emitter.OnCorrection(events.IntentCorrectionEvent{
				UtteranceID:     di.UtteranceID,
				CorrectionType:  events.CorrectionAdded,
				CorrectedIntent: di,
			})
		}
		d.emitter.OnIntent(events.IntentEvent{
			Intent:      di,
			UtteranceID: di.UtteranceID,
			IsCandidate: false,
		})
		return
	}

	switch {
	case prior.intent.Type == di.Type && prior.intent.Subtype == di.Subtype:
		d.emitter.OnCorrection(events.IntentCorrectionEvent{
			UtteranceID:     di.UtteranceID,
			CorrectionType:  events.CorrectionConfirmed,
			CorrectedIntent: di,
		})
	case prior.intent.Type == events.IntentQuestion && di.Type != events.IntentQuestion:
		d.emitter.OnCorrection(events.IntentCorrectionEvent{
			UtteranceID:     di.UtteranceID,
			CorrectionType:  events.CorrectionRemoved,
			CorrectedIntent: di,
		})
	default:
		d.emitter.OnCorrection(events.IntentCorrectionEvent{
			UtteranceID:     di.UtteranceID,
			CorrectionType:  events.CorrectionTypeChanged,
			CorrectedIntent: di,
		})
	}
}

// tailAtWordBoundary returns the last maxChars of s, trimmed forward to the
// next word boundary so a word is never split mid-token (spec.md §4.4).
func tailAtWordBoundary(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	cut := len(s) - maxChars
	for cut < len(s) && s[cut] != ' ' {
		cut++
	}
	return strings.TrimSpace(s[cut:])
}
