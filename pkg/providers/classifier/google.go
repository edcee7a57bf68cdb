package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// GoogleClassifier calls a Gemini generateContent endpoint, grounded on
// pkg/providers/llm/google.go in the teacher.
type GoogleClassifier struct {
	apiKey string
	url    string
	model  string
}

func NewGoogleClassifier(apiKey string, model string) *GoogleClassifier {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleClassifier{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

func (c *GoogleClassifier) Name() string { return "google-classifier" }

func (c *GoogleClassifier) Classify(ctx context.Context, textToClassify, conversationContext string) ([]events.DetectedIntent, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role"`
		Parts []part `json:"parts"`
	}

	system := classifierSystemPrompt
	if conversationContext != "" {
		system = system + "\n\nRecent conversation context:\n" + conversationContext
	}

	payload := map[string]interface{}{
		"contents": []content{
			{Role: "user", Parts: []part{{Text: system + "\n\n" + textToClassify}}},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"?key="+c.apiKey, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: google status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("google classifier error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", ErrMalformed)
	}

	return parseIntentsJSON(result.Candidates[0].Content.Parts[0].Text)
}
