package audio

import (
	"math"
	"time"
)

// SpeechGate is an RMS-based voice activity gate, adapted from the
// teacher's RMSVAD: confirmed speech-start requires minConfirmed
// consecutive above-threshold frames (filters spikes/echo-onset pops),
// confirmed speech-end requires silenceLimit of continuous below-threshold
// audio. Unlike the teacher's VAD, which drove utterance segmentation
// directly, this gate is advisory only here — pkg/utterance segments on ASR
// text, not audio energy — and is used to skip forwarding confirmed-silent
// PCM chunks to the ASR provider, saving transport bandwidth on an idle mic.
type SpeechGate struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64
}

// NewSpeechGate creates a gate. threshold is an RMS amplitude in [0,1];
// silenceLimit is how long confirmed speech must go quiet before the gate
// reports silence again.
func NewSpeechGate(threshold float64, silenceLimit time.Duration) *SpeechGate {
	return &SpeechGate{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7,
	}
}

func (g *SpeechGate) SetMinConfirmed(count int) { g.minConfirmed = count }
func (g *SpeechGate) SetThreshold(threshold float64) { g.threshold = threshold }
func (g *SpeechGate) Threshold() float64 { return g.threshold }
func (g *SpeechGate) LastRMS() float64 { return g.lastRMS }
func (g *SpeechGate) IsSpeaking() bool { return g.isSpeaking }

// ShouldForward reports whether chunk should be sent onward to the ASR
// provider: true while speech is confirmed-active, including the
// trailing-silence window after it so the stabilizer still sees the chunks
// that follow real speech. Chunks before speech is confirmed, including the
// first minConfirmed-1 above-threshold frames, are not forwarded.
func (g *SpeechGate) ShouldForward(chunk []byte) bool {
	rms := g.calculateRMS(chunk)
	g.lastRMS = rms
	now := time.Now()

	if rms > g.threshold {
		g.consecutiveFrames++
		if !g.isSpeaking {
			if g.consecutiveFrames >= g.minConfirmed {
				g.isSpeaking = true
			}
			return g.isSpeaking
		}
		g.silenceStart = time.Time{}
		return true
	}

	g.consecutiveFrames = 0
	if !g.isSpeaking {
		return false
	}

	if g.silenceStart.IsZero() {
		g.silenceStart = now
	}
	if now.Sub(g.silenceStart) >= g.silenceLimit {
		g.isSpeaking = false
		g.silenceStart = time.Time{}
		return false
	}
	return true
}

func (g *SpeechGate) Reset() {
	g.isSpeaking = false
	g.silenceStart = time.Time{}
	g.consecutiveFrames = 0
}

func (g *SpeechGate) calculateRMS(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)/2))
}
