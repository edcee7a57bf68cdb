// Package classifier provides interchangeable remote-LLM classifier
// adapters for the intent package's LLM strategy. Each adapter is grounded
// on the teacher's pkg/providers/llm adapters (AnthropicLLM/OpenAILLM/
// GoogleLLM): a small struct holding an API key/URL/model, building a JSON
// payload, doing http.NewRequestWithContext + http.DefaultClient.Do, and
// defensively decoding a response.
package classifier

import (
	"context"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
)

// Classifier is the abstract remote RPC named in spec.md §6:
// classify(text_to_classify, context?) -> []DetectedIntent.
type Classifier interface {
	Classify(ctx context.Context, textToClassify string, context string) ([]events.DetectedIntent, error)
	Name() string
}
