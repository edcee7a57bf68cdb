package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// AnthropicClassifier calls an Anthropic-shaped messages endpoint with a
// system prompt that instructs the model to return a JSON array of detected
// intents, grounded on pkg/providers/llm/anthropic.go in the teacher.
type AnthropicClassifier struct {
	apiKey string
	url    string
	model  string
}

func NewAnthropicClassifier(apiKey string, model string) *AnthropicClassifier {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicClassifier{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
	}
}

func (c *AnthropicClassifier) Name() string { return "anthropic-classifier" }

func (c *AnthropicClassifier) Classify(ctx context.Context, textToClassify, context_ string) ([]events.DetectedIntent, error) {
	system := classifierSystemPrompt
	if context_ != "" {
		system = system + "\n\nRecent conversation context:\n" + context_
	}

	payload := map[string]interface{}{
		"model":      c.model,
		"max_tokens": 1024,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": textToClassify},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: anthropic status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("anthropic classifier error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(result.Content) == 0 {
		return nil, fmt.Errorf("%w: no content returned", ErrMalformed)
	}

	return parseIntentsJSON(result.Content[0].Text)
}
