// Package asr provides interchangeable streaming speech-recognition
// adapters that emit events.AsrEvent from a channel of PCM16 chunks.
// Grounded on the teacher's STTProvider/StreamingSTTProvider polymorphism
// (pkg/orchestrator/types.go) and its pkg/providers/stt adapters.
package asr

import (
	"context"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// Provider streams PCM16 mono audio to a remote ASR service and emits
// interim/final hypotheses as events.AsrEvent (spec.md §6's abstract ASR
// ingress). StreamTranscribe blocks until pcm is closed, ctx is cancelled,
// or the provider connection fails.
type Provider interface {
	Name() string
	StreamTranscribe(ctx context.Context, pcm <-chan []byte, sampleRate int, onEvent func(events.AsrEvent)) error
}
