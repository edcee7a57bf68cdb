package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/audio"
)

// AssemblyAIASR is a batch Transcriber grounded on the teacher's
// pkg/providers/stt/assemblyai.go upload -> submit -> poll flow.
type AssemblyAIASR struct {
	apiKey      string
	baseURL     string
	pollEvery   time.Duration
	pollTimeout time.Duration
}

func NewAssemblyAIASR(apiKey string) *AssemblyAIASR {
	return &AssemblyAIASR{
		apiKey:      apiKey,
		baseURL:     "https://api.assemblyai.com/v2",
		pollEvery:   500 * time.Millisecond,
		pollTimeout: 60 * time.Second,
	}
}

func (a *AssemblyAIASR) Name() string { return "assemblyai-asr" }

func (a *AssemblyAIASR) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wavData := audio.NewWavBuffer(pcm, sampleRate)

	uploadURL, err := a.upload(ctx, wavData)
	if err != nil {
		return "", fmt.Errorf("assemblyai asr: upload: %w", err)
	}

	transcriptID, err := a.submit(ctx, uploadURL)
	if err != nil {
		return "", fmt.Errorf("assemblyai asr: submit: %w", err)
	}

	return a.getTranscript(ctx, transcriptID)
}

func (a *AssemblyAIASR) upload(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.UploadURL, nil
}

func (a *AssemblyAIASR) submit(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{"audio_url": audioURL})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody interface{}
		json.NewDecoder(resp.Body).Decode(&errBody)
		return "", fmt.Errorf("submit failed with status %d: %v", resp.StatusCode, errBody)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (a *AssemblyAIASR) getTranscript(ctx context.Context, id string) (string, error) {
	deadline := time.Now().Add(a.pollTimeout)
	for {
		req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/transcript/"+id, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", a.apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}

		var result struct {
			Status string `json:"status"`
			Text   string `json:"text"`
			Error  string `json:"error"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if decodeErr != nil {
			return "", decodeErr
		}

		switch result.Status {
		case "completed":
			return result.Text, nil
		case "error":
			return "", fmt.Errorf("transcription failed: %s", result.Error)
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("transcription timed out after %s", a.pollTimeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(a.pollEvery):
		}
	}
}
