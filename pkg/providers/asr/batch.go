package asr

import (
	"context"
	"strconv"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// Transcriber is a non-streaming "send a WAV, get text back" RPC, the shape
// shared by the teacher's GroqSTT/OpenAISTT/AssemblyAISTT adapters.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// BatchProvider adapts a Transcriber to the streaming Provider interface by
// buffering PCM chunks for FlushInterval and issuing one batch call per
// buffer, emitting a single Final AsrEvent per flush. This trades interim
// hypotheses for compatibility with providers that only expose a batch
// transcription endpoint (the majority of the teacher's pkg/providers/stt
// adapters).
type BatchProvider struct {
	transcriber   Transcriber
	flushInterval time.Duration
}

func NewBatchProvider(t Transcriber, flushInterval time.Duration) *BatchProvider {
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &BatchProvider{transcriber: t, flushInterval: flushInterval}
}

func (b *BatchProvider) Name() string { return b.transcriber.Name() }

func (b *BatchProvider) StreamTranscribe(ctx context.Context, pcm <-chan []byte, sampleRate int, onEvent func(events.AsrEvent)) error {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	var buf []byte
	seq := 0
	startedAt := time.Now()

	flush := func() {
		if len(buf) == 0 {
			return
		}
		data := buf
		buf = nil
		text, err := b.transcriber.Transcribe(ctx, data, sampleRate)
		if err != nil || text == "" {
			return
		}
		seq++
		onEvent(events.AsrEvent{
			ID:       b.Name() + "-" + strconv.Itoa(seq),
			Text:     text,
			IsFinal:  true,
			OffsetMs: time.Since(startedAt).Milliseconds(),
		})
	}

	for {
		select {
		case <-ctx.Done():
			for drained := false; !drained; {
				select {
				case chunk, ok := <-pcm:
					buf = append(buf, chunk...)
					drained = !ok
				default:
					drained = true
				}
			}
			flush()
			return ctx.Err()
		case <-ticker.C:
			flush()
		case chunk, ok := <-pcm:
			if !ok {
				flush()
				return nil
			}
			buf = append(buf, chunk...)
		}
	}
}
