// Package session implements the append-only event recorder and its
// time-faithful player (spec.md §4.7). The recorder owns a single writer
// goroutine draining a channel, grounded on the teacher's
// ManagedStream.events chan OrchestratorEvent idiom, generalized here to a
// blocking, durable send: the recorder must never silently drop an event.
package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/audio"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

type utteranceSpan struct {
	startMs int64
	endMs   int64
}

type transcriptSegment struct {
	text      string
	offsetMs  int64
	charStart int
	charEnd   int
}

// Recorder appends every AsrEvent, UtteranceEvent, IntentEvent,
// IntentCorrectionEvent and ActionEvent to a newline-delimited JSON file,
// and optionally mirrors captured PCM audio into a WAV sidecar.
type Recorder struct {
	logger events.Logger
	now    func() time.Time

	jobs chan recordJob
	wg   sync.WaitGroup

	file    *os.File
	writer  *bufio.Writer
	writeMu sync.Mutex

	sessionStart time.Time

	// Transcript bookkeeping is only ever touched from the caller's
	// goroutine (the pipeline task), matching the ownership model spec.md
	// §5 assumes for the Pipeline task, so it needs no lock of its own.
	transcript string
	segments   []transcriptSegment
	spans      map[string]utteranceSpan

	audioPath string
	pcm       []byte
	pcmRate   int
}

type recordJob struct {
	kind events.RecordKind
	data interface{}
	ts   time.Time
}

// Options configures a Recorder's optional WAV sidecar, its sample rate, and
// its logger.
type Options struct {
	// AudioSidecarPath, if non-empty, receives a WAV mirror of every chunk
	// passed to WriteAudio, written on Close.
	AudioSidecarPath string
	SampleRate       int
	Logger           events.Logger
}

// NewRecorder opens path for append (creating it if absent) and starts the
// writer goroutine. The caller must call Close to flush and release the
// file handle.
func NewRecorder(path string, opts Options) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = events.NoOpLogger{}
	}

	r := &Recorder{
		logger:       logger,
		now:          time.Now,
		jobs:         make(chan recordJob, 64),
		file:         f,
		writer:       bufio.NewWriter(f),
		sessionStart: time.Now(),
		spans:        make(map[string]utteranceSpan),
		audioPath:    opts.AudioSidecarPath,
		pcmRate:      opts.SampleRate,
	}
	if r.pcmRate == 0 {
		r.pcmRate = 16000
	}

	r.wg.Add(1)
	go r.runWriter()

	return r, nil
}

func (r *Recorder) runWriter() {
	defer r.wg.Done()
	enc := json.NewEncoder(r.writer)
	for job := range r.jobs {
		ev := events.RecordedEvent{
			Kind:      job.kind,
			OffsetMs:  r.elapsedMs(job.ts),
			Timestamp: job.ts,
			Data:      job.data,
		}
		r.writeMu.Lock()
		if err := enc.Encode(ev); err != nil {
			r.logger.Warn("session: recorder write failed", "error", err)
		}
		if err := r.writer.Flush(); err != nil {
			r.logger.Warn("session: recorder flush failed", "error", err)
		}
		r.writeMu.Unlock()
	}
}

func (r *Recorder) elapsedMs(ts time.Time) int64 {
	return int64(ts.Sub(r.sessionStart) / time.Millisecond)
}

func (r *Recorder) enqueue(kind events.RecordKind, data interface{}, ts time.Time) {
	// A blocking send: the recorder must never drop an event (spec.md §5).
	r.jobs <- recordJob{kind: kind, data: data, ts: ts}
}

// RecordAsr appends an ASR hypothesis and, if it's final, extends the
// running transcript used for intent transcript-position attribution.
func (r *Recorder) RecordAsr(e events.AsrEvent) {
	if e.IsFinal && strings.TrimSpace(e.Text) != "" {
		r.appendTranscriptSegment(e)
	}
	r.enqueue(events.KindAsr, e, r.now())
}

func (r *Recorder) appendTranscriptSegment(e events.AsrEvent) {
	charStart := len(r.transcript)
	if r.transcript != "" {
		r.transcript += " "
		charStart = len(r.transcript)
	}
	r.transcript += e.Text
	r.segments = append(r.segments, transcriptSegment{
		text:      e.Text,
		offsetMs:  e.OffsetMs,
		charStart: charStart,
		charEnd:   len(r.transcript),
	})
}

// RecordUtterance appends a Stabilizer/UtteranceBuilder lifecycle event and,
// for Final events, remembers the utterance's time span for later transcript
// attribution.
func (r *Recorder) RecordUtterance(e events.UtteranceEvent) {
	if e.Type == events.UtteranceFinal {
		r.spans[e.ID] = utteranceSpan{
			startMs: e.OffsetMs - e.DurationMs,
			endMs:   e.OffsetMs,
		}
	}
	r.enqueue(events.KindUtterance, e, r.now())
}

// RecordIntent appends a candidate or final IntentEvent. Final events are
// annotated with transcript_char_start/end per spec.md §4.7's attribution
// algorithm before being enqueued.
func (r *Recorder) RecordIntent(e events.IntentEvent) {
	if !e.IsCandidate {
		start, end := r.attributeTranscriptRange(e.UtteranceID, e.Intent.SourceText, e.Intent.OriginalText)
		e.TranscriptCharStart = start
		e.TranscriptCharEnd = end
	}
	r.enqueue(events.KindIntent, e, r.now())
}

// RecordCorrection appends an IntentCorrectionEvent, annotated the same way
// as a final IntentEvent.
func (r *Recorder) RecordCorrection(e events.IntentCorrectionEvent) {
	start, end := r.attributeTranscriptRange(e.UtteranceID, e.CorrectedIntent.SourceText, e.CorrectedIntent.OriginalText)
	e.TranscriptCharStart = start
	e.TranscriptCharEnd = end
	r.enqueue(events.KindIntentCorrection, e, r.now())
}

// RecordAction appends a dispatched or debounced ActionEvent.
func (r *Recorder) RecordAction(e events.ActionEvent) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	r.enqueue(events.KindAction, e, ts)
}

// attributeTranscriptRange implements spec.md §4.7's algorithm: collect ASR
// final segments within [start-2s, end+2s] of the utterance, search for
// sourceText then originalText (case-insensitively) within the concatenated
// region, falling back to the region's full span. Returns nil, nil if no
// segments fall in range at all.
func (r *Recorder) attributeTranscriptRange(utteranceID, sourceText, originalText string) (*int, *int) {
	span, ok := r.spans[utteranceID]
	if !ok {
		return nil, nil
	}

	lo := span.startMs - 2000
	hi := span.endMs + 2000

	var inRange []transcriptSegment
	for _, seg := range r.segments {
		if seg.offsetMs >= lo && seg.offsetMs <= hi {
			inRange = append(inRange, seg)
		}
	}
	if len(inRange) == 0 {
		return nil, nil
	}

	regionStart := inRange[0].charStart
	regionEnd := inRange[len(inRange)-1].charEnd
	region := r.transcript[regionStart:regionEnd]
	regionLower := strings.ToLower(region)

	if sourceText != "" {
		if idx := strings.Index(regionLower, strings.ToLower(sourceText)); idx >= 0 {
			start := regionStart + idx
			end := start + len(sourceText)
			return &start, &end
		}
	}
	if originalText != "" {
		if idx := strings.Index(regionLower, strings.ToLower(originalText)); idx >= 0 {
			start := regionStart + idx
			end := start + len(originalText)
			return &start, &end
		}
	}

	return &regionStart, &regionEnd
}

// WriteAudio appends captured PCM to the in-memory sidecar buffer. No-op if
// no AudioSidecarPath was configured.
func (r *Recorder) WriteAudio(pcm []byte) {
	if r.audioPath == "" {
		return
	}
	r.pcm = append(r.pcm, pcm...)
}

// Close flushes the writer goroutine, writes the WAV sidecar (if
// configured), and closes the underlying file.
func (r *Recorder) Close() error {
	close(r.jobs)
	r.wg.Wait()

	if r.audioPath != "" && len(r.pcm) > 0 {
		wav := audio.NewWavBuffer(r.pcm, r.pcmRate)
		if err := os.WriteFile(r.audioPath, wav, 0o644); err != nil {
			r.logger.Warn("session: failed to write audio sidecar", "error", err)
		}
	}

	return r.file.Close()
}

// DeriveAudioSidecarPath returns the conventional sidecar filename for a
// JSONL recording path (spec.md §6: "filename derived from the JSONL base
// name").
func DeriveAudioSidecarPath(jsonlPath string) string {
	ext := filepath.Ext(jsonlPath)
	return strings.TrimSuffix(jsonlPath, ext) + ".wav"
}
