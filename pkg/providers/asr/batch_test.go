package asr

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

type fakeTranscriber struct {
	calls     int
	returnFor func(pcm []byte) string
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	f.calls++
	if f.returnFor != nil {
		return f.returnFor(pcm), nil
	}
	return "hello world", nil
}

func TestBatchProvider_FlushesOnChannelClose(t *testing.T) {
	transcriber := &fakeTranscriber{}
	b := NewBatchProvider(transcriber, time.Hour)

	pcm := make(chan []byte, 1)
	pcm <- []byte{1, 2, 3, 4}
	close(pcm)

	var got []events.AsrEvent
	err := b.StreamTranscribe(context.Background(), pcm, 16000, func(e events.AsrEvent) {
		got = append(got, e)
	})
	if err != nil {
		t.Fatalf("StreamTranscribe: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 flush on channel close, got %d", len(got))
	}
	if !got[0].IsFinal {
		t.Error("expected batch flush to emit a Final event")
	}
	if got[0].Text != "hello world" {
		t.Errorf("unexpected text: %q", got[0].Text)
	}
}

func TestBatchProvider_FlushesOnContextDone(t *testing.T) {
	transcriber := &fakeTranscriber{}
	b := NewBatchProvider(transcriber, time.Hour)

	pcm := make(chan []byte, 1)
	pcm <- []byte{1, 2, 3, 4}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []events.AsrEvent
	err := b.StreamTranscribe(ctx, pcm, 16000, func(e events.AsrEvent) {
		got = append(got, e)
	})
	if err == nil {
		t.Error("expected context cancellation error")
	}
	if len(got) != 1 {
		t.Fatalf("expected flush before returning, got %d events", len(got))
	}
}

func TestBatchProvider_SkipsEmptyFlush(t *testing.T) {
	transcriber := &fakeTranscriber{returnFor: func([]byte) string { return "" }}
	b := NewBatchProvider(transcriber, time.Hour)

	pcm := make(chan []byte, 1)
	pcm <- []byte{1, 2, 3, 4}
	close(pcm)

	var got []events.AsrEvent
	err := b.StreamTranscribe(context.Background(), pcm, 16000, func(e events.AsrEvent) {
		got = append(got, e)
	})
	if err != nil {
		t.Fatalf("StreamTranscribe: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no event for empty transcription, got %d", len(got))
	}
}

func TestBatchProvider_DefaultFlushInterval(t *testing.T) {
	b := NewBatchProvider(&fakeTranscriber{}, 0)
	if b.flushInterval != 2*time.Second {
		t.Errorf("expected default flush interval of 2s, got %s", b.flushInterval)
	}
}
