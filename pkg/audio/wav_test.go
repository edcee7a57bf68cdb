package audio

import (
	"bytes"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestReadWavPCM_RoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	wav := NewWavBuffer(pcm, 16000)

	gotPCM, gotRate, err := ReadWavPCM(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", gotRate)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Errorf("expected pcm %v, got %v", pcm, gotPCM)
	}
}

func TestReadWavPCM_RejectsNonWav(t *testing.T) {
	_, _, err := ReadWavPCM([]byte("not a wav file at all"))
	if err != ErrNotWav {
		t.Errorf("expected ErrNotWav, got %v", err)
	}
}
