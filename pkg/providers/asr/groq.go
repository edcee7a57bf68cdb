package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/audio"
)

// GroqASR is a batch Transcriber grounded on the teacher's
// pkg/providers/stt/groq.go, adapted for Provider use through BatchProvider.
type GroqASR struct {
	apiKey string
	url    string
	model  string
}

func NewGroqASR(apiKey, model string) *GroqASR {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqASR{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/audio/transcriptions",
		model:  model,
	}
}

func (g *GroqASR) Name() string { return "groq-asr" }

func (g *GroqASR) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wavData := audio.NewWavBuffer(pcm, sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", g.model); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("groq asr error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
