package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func silentChunk(n int) []byte {
	return make([]byte, n*2)
}

func loudChunk(n int, amplitude int16) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestSpeechGate_RequiresConsecutiveFramesToConfirmSpeech(t *testing.T) {
	g := NewSpeechGate(0.5, 50*time.Millisecond)
	g.SetMinConfirmed(3)

	loud := loudChunk(10, 20000)
	if g.ShouldForward(loud) {
		t.Fatal("first loud frame should not yet confirm speech")
	}
	if g.ShouldForward(loud) {
		t.Fatal("second loud frame should not yet confirm speech")
	}
	if !g.ShouldForward(loud) {
		t.Fatal("third consecutive loud frame should confirm speech")
	}
	if !g.IsSpeaking() {
		t.Error("expected IsSpeaking true after confirmation")
	}
}

func TestSpeechGate_DropsSilenceBeforeSpeechConfirmed(t *testing.T) {
	g := NewSpeechGate(0.5, 50*time.Millisecond)
	if g.ShouldForward(silentChunk(10)) {
		t.Error("silent frame should not be forwarded before any speech")
	}
}

func TestSpeechGate_HoldsThroughBriefSilenceAfterConfirmed(t *testing.T) {
	g := NewSpeechGate(0.5, 100*time.Millisecond)
	g.SetMinConfirmed(1)

	if !g.ShouldForward(loudChunk(10, 20000)) {
		t.Fatal("expected speech confirmed on first loud frame with minConfirmed=1")
	}
	if !g.ShouldForward(silentChunk(10)) {
		t.Error("brief silence inside silenceLimit should still forward")
	}
	if !g.IsSpeaking() {
		t.Error("expected IsSpeaking to remain true during the silence-limit window")
	}
}

func TestSpeechGate_ClosesAfterSilenceLimitElapses(t *testing.T) {
	g := NewSpeechGate(0.5, 20*time.Millisecond)
	g.SetMinConfirmed(1)

	if !g.ShouldForward(loudChunk(10, 20000)) {
		t.Fatal("expected speech confirmed on first loud frame")
	}
	g.ShouldForward(silentChunk(10))
	time.Sleep(30 * time.Millisecond)
	if g.ShouldForward(silentChunk(10)) {
		t.Error("expected gate to close after silence limit elapsed")
	}
	if g.IsSpeaking() {
		t.Error("expected IsSpeaking false after silence limit elapsed")
	}
}

func TestSpeechGate_Reset(t *testing.T) {
	g := NewSpeechGate(0.5, 50*time.Millisecond)
	g.SetMinConfirmed(1)
	g.ShouldForward(loudChunk(10, 20000))
	if !g.IsSpeaking() {
		t.Fatal("expected IsSpeaking true before reset")
	}
	g.Reset()
	if g.IsSpeaking() {
		t.Error("expected IsSpeaking false after Reset")
	}
}
