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

// OpenAIASR is a batch Transcriber grounded on the teacher's
// pkg/providers/stt/openai.go.
type OpenAIASR struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAIASR(apiKey, model string) *OpenAIASR {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIASR{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/audio/transcriptions",
		model:  model,
	}
}

func (o *OpenAIASR) Name() string { return "openai-asr" }

func (o *OpenAIASR) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wavData := audio.NewWavBuffer(pcm, sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", o.model); err != nil {
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

	req, err := http.NewRequestWithContext(ctx, "POST", o.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("openai asr error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
