package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// DeepgramASR streams PCM16 audio over Deepgram's websocket listen
// endpoint, grounded on the URL/query-param construction of the teacher's
// batch pkg/providers/stt/deepgram.go combined with the websocket
// dial/read-loop idiom of pkg/providers/tts/lokutor.go.
type DeepgramASR struct {
	apiKey string
	host   string
	scheme string
}

func NewDeepgramASR(apiKey string) *DeepgramASR {
	return &DeepgramASR{apiKey: apiKey, host: "api.deepgram.com", scheme: "wss"}
}

func (d *DeepgramASR) Name() string { return "deepgram-asr" }

type deepgramMessage struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	Start float64 `json:"start"`
}

func (d *DeepgramASR) StreamTranscribe(ctx context.Context, pcm <-chan []byte, sampleRate int, onEvent func(events.AsrEvent)) error {
	u := url.URL{
		Scheme: d.scheme,
		Host:   d.host,
		Path:   "/v1/listen",
	}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()

	header := map[string][]string{"Authorization": {"Token " + d.apiKey}}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("deepgram asr: dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- d.readLoop(ctx, conn, onEvent)
	}()

	id := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErrCh:
			return err
		case chunk, ok := <-pcm:
			if !ok {
				conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
				return <-readErrCh
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return fmt.Errorf("deepgram asr: write failed: %w", err)
			}
			id++
		}
	}
}

func (d *DeepgramASR) readLoop(ctx context.Context, conn *websocket.Conn, onEvent func(events.AsrEvent)) error {
	seq := 0
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg deepgramMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if len(msg.Channel.Alternatives) == 0 {
			continue
		}

		alt := msg.Channel.Alternatives[0]
		words := make([]events.AsrWord, 0, len(alt.Words))
		for _, w := range alt.Words {
			words = append(words, events.AsrWord{
				Text:       w.Word,
				StartMs:    int64(w.Start * 1000),
				EndMs:      int64(w.End * 1000),
				Confidence: w.Confidence,
			})
		}

		seq++
		onEvent(events.AsrEvent{
			ID:       fmt.Sprintf("dg-%d", seq),
			Text:     alt.Transcript,
			IsFinal:  msg.IsFinal,
			OffsetMs: int64(msg.Start * 1000),
			Words:    words,
		})
	}
}
