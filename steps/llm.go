package steps

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/executor"
)

// chatClient is the slice of the OpenAI client the adapter needs. Tests
// substitute a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMExecutor runs a chat completion as a workflow step. The step input
// must carry a "prompt" string; "{{name}}" placeholders in the prompt are
// filled from the remaining input values. The output is a map with the
// completion text, the model, and token usage.
type LLMExecutor struct {
	kind         string
	client       chatClient
	model        string
	systemPrompt string
	temperature  float32
	logger       core.Logger
}

// LLMOption configures an LLMExecutor.
type LLMOption func(*LLMExecutor)

// WithModel overrides the completion model.
func WithModel(model string) LLMOption {
	return func(e *LLMExecutor) { e.model = model }
}

// WithSystemPrompt sets a system message sent before the step prompt.
func WithSystemPrompt(prompt string) LLMOption {
	return func(e *LLMExecutor) { e.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) LLMOption {
	return func(e *LLMExecutor) { e.temperature = t }
}

// WithChatClient substitutes the OpenAI client. Used by tests.
func WithChatClient(client chatClient) LLMOption {
	return func(e *LLMExecutor) { e.client = client }
}

// WithLLMLogger sets the logger.
func WithLLMLogger(logger core.Logger) LLMOption {
	return func(e *LLMExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewLLMExecutor creates an adapter serving the given kind. The API key
// comes from OPENAI_API_KEY unless a client is injected.
func NewLLMExecutor(kind string, opts ...LLMOption) *LLMExecutor {
	e := &LLMExecutor{
		kind:   kind,
		model:  openai.GPT4oMini,
		logger: &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = openai.NewClient(os.Getenv("OPENAI_API_KEY"))
	}
	return e
}

func (e *LLMExecutor) Kind() string { return e.kind }

func (e *LLMExecutor) Execute(ctx context.Context, step *executor.Step, input map[string]interface{}) (interface{}, error) {
	prompt, ok := input["prompt"].(string)
	if !ok || prompt == "" {
		return nil, fmt.Errorf("step %q: invalid input: missing prompt", step.Name)
	}
	prompt = fillPlaceholders(prompt, input)

	var messages []openai.ChatCompletionMessage
	if e.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: e.systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    messages,
		Temperature: e.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("step %q completion: %w", step.Name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("step %q completion: empty response", step.Name)
	}

	e.logger.Debug("Completion finished", map[string]interface{}{
		"step":          step.Name,
		"model":         resp.Model,
		"prompt_tokens": resp.Usage.PromptTokens,
		"total_tokens":  resp.Usage.TotalTokens,
	})
	return map[string]interface{}{
		"content":      resp.Choices[0].Message.Content,
		"model":        resp.Model,
		"total_tokens": resp.Usage.TotalTokens,
	}, nil
}

// fillPlaceholders substitutes {{name}} markers with stringified input
// values. Unknown markers are left in place.
func fillPlaceholders(prompt string, input map[string]interface{}) string {
	for key, value := range input {
		if key == "prompt" {
			continue
		}
		marker := "{{" + key + "}}"
		if strings.Contains(prompt, marker) {
			prompt = strings.ReplaceAll(prompt, marker, fmt.Sprintf("%v", value))
		}
	}
	return prompt
}
