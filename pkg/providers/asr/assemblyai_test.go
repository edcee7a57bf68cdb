package asr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAssemblyAIASR_UploadSubmitPollFlow(t *testing.T) {
	var pollCount int
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/audio.wav"})
	})
	mux.HandleFunc("/transcript", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "abc123"})
	})
	mux.HandleFunc("/transcript/abc123", func(w http.ResponseWriter, r *http.Request) {
		pollCount++
		if pollCount < 2 {
			json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "completed", "text": "repeat that please"})
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	a := &AssemblyAIASR{
		apiKey:      "test-key",
		baseURL:     server.URL,
		pollEvery:   10 * time.Millisecond,
		pollTimeout: time.Second,
	}

	text, err := a.Transcribe(context.Background(), []byte{0, 1, 2, 3}, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "repeat that please" {
		t.Errorf("unexpected text: %q", text)
	}
	if pollCount < 2 {
		t.Errorf("expected polling to occur at least twice, got %d", pollCount)
	}
}

func TestAssemblyAIASR_TranscriptErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/audio.wav"})
	})
	mux.HandleFunc("/transcript", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "bad1"})
	})
	mux.HandleFunc("/transcript/bad1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "decode failure"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	a := &AssemblyAIASR{
		apiKey:      "test-key",
		baseURL:     server.URL,
		pollEvery:   10 * time.Millisecond,
		pollTimeout: time.Second,
	}

	_, err := a.Transcribe(context.Background(), []byte{0}, 16000)
	if err == nil || !strings.Contains(err.Error(), "decode failure") {
		t.Errorf("expected transcription failure error, got %v", err)
	}
}

func TestAssemblyAIASR_PollTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/audio.wav"})
	})
	mux.HandleFunc("/transcript", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "stuck"})
	})
	mux.HandleFunc("/transcript/stuck", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	a := &AssemblyAIASR{
		apiKey:      "test-key",
		baseURL:     server.URL,
		pollEvery:   5 * time.Millisecond,
		pollTimeout: 30 * time.Millisecond,
	}

	_, err := a.Transcribe(context.Background(), []byte{0}, 16000)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
}
