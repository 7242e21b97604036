package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultSystemPrompt instructs the model to answer in the assistant protocol.
const DefaultSystemPrompt = `Eres el asistente de atención al cliente de una tienda de electrónica.
Responde SIEMPRE con un objeto JSON con esta forma exacta:
{"response":{"text":"<mensaje para el usuario>"},"actions":[{"command":"<COMANDO>","parameters":{}}],"session_data":{}}
Comandos disponibles: CONSULT_CATALOG (query, category, brand, min_price, max_price, limit, currency),
CONSULT_GUARANTEES (user_id), REGISTER_GUARANTEE, CONSULT_SCHEDULE, SEND_GEOLOCATION,
SEND_IMAGE (product_id), END_CONVERSATION.
Usa "actions": [] cuando no haga falta ninguna acción. El campo session_data del
mensaje del usuario contiene tu memoria de la conversación; devuélvela actualizada.`

// chatService defines the minimal surface of the chat completions API.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIOpts configures an OpenAIClient.
type OpenAIOpts struct {
	Model        string
	SystemPrompt string
	BaseURL      string
	Timeout      time.Duration
}

// OpenAIOption sets a field on OpenAIOpts.
type OpenAIOption func(*OpenAIOpts)

// WithModel selects the chat model.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAIOpts) { o.Model = model }
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) OpenAIOption {
	return func(o *OpenAIOpts) { o.SystemPrompt = prompt }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) OpenAIOption {
	return func(o *OpenAIOpts) { o.Timeout = d }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(o *OpenAIOpts) { o.BaseURL = url }
}

// OpenAIClient asks an OpenAI chat model to act as the assistant.
type OpenAIClient struct {
	chat         chatService
	model        string
	systemPrompt string
}

// NewOpenAIClient creates a client using apiKey.
// Retries are left to the caller's RetryPolicy.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	cfg := applyOpenAIOpts(opts)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &OpenAIClient{chat: &cli.Chat.Completions, model: cfg.Model, systemPrompt: cfg.SystemPrompt}, nil
}

func newOpenAIClientWithService(chat chatService, opts ...OpenAIOption) *OpenAIClient {
	cfg := applyOpenAIOpts(opts)
	return &OpenAIClient{chat: chat, model: cfg.Model, systemPrompt: cfg.SystemPrompt}
}

func applyOpenAIOpts(opts []OpenAIOption) OpenAIOpts {
	cfg := OpenAIOpts{Model: openai.ChatModelGPT4oMini, SystemPrompt: DefaultSystemPrompt, Timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	return cfg
}

// Ask sends the request as a user message and parses the model's JSON answer.
func (c *OpenAIClient) Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assistant request: %w", err)
	}
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt),
			openai.UserMessage(string(payload)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Category: CategoryInvalidResponse, Message: "no choices returned", Err: ErrInvalidResponse}
	}
	parsed, err := ParseResponse([]byte(stripCodeFence(resp.Choices[0].Message.Content)))
	if err != nil {
		return nil, &ProviderError{Category: CategoryInvalidResponse, Message: err.Error(), Err: err}
	}
	return parsed, nil
}

func classifyOpenAIError(err error) *ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Message + " " + apiErr.Code + " " + apiErr.Type
		pe := newStatusError(apiErr.StatusCode, body)
		pe.Err = err
		return pe
	}
	return classifyTransportError(err)
}

// stripCodeFence removes a markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
