package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// OpenAIClassifier is grounded on pkg/providers/llm/openai.go in the
// teacher: chat-completions payload, Bearer auth, defensive decode.
type OpenAIClassifier struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAIClassifier(apiKey string, model string) *OpenAIClassifier {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIClassifier{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
	}
}

func (c *OpenAIClassifier) Name() string { return "openai-classifier" }

func (c *OpenAIClassifier) Classify(ctx context.Context, textToClassify, conversationContext string) ([]events.DetectedIntent, error) {
	system := classifierSystemPrompt
	if conversationContext != "" {
		system = system + "\n\nRecent conversation context:\n" + conversationContext
	}

	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": textToClassify},
		},
		"response_format": map[string]string{"type": "json_object"},
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: openai status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("openai classifier error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformed)
	}

	return parseIntentsJSON(result.Choices[0].Message.Content)
}
