// Package assistant talks to the external natural-language assistant.
//
// Two providers speak the same JSON exchange: a plain HTTP endpoint and an
// OpenAI chat model prompted to answer in that format. Calls go through a
// retry policy for transient failures and degrade to a canned fallback reply
// when the provider cannot produce a valid answer.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// Client performs one exchange with an assistant provider.
type Client interface {
	Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error)
}

// wireResponse keeps fields raw so their JSON types can be checked.
type wireResponse struct {
	Response    json.RawMessage `json:"response"`
	Actions     json.RawMessage `json:"actions"`
	SessionData json.RawMessage `json:"session_data"`
}

type wireReply struct {
	Text        json.RawMessage `json:"text"`
	ParseMode   string          `json:"parse_mode"`
	ReplyMarkup json.RawMessage `json:"reply_markup"`
}

// ParseResponse validates and decodes an assistant reply.
// response.text must be a string and actions must be an array.
func ParseResponse(raw []byte) (*models.AssistantResponse, error) {
	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if jsonKind(w.Response) != '{' {
		return nil, fmt.Errorf("%w: response must be an object", ErrInvalidResponse)
	}
	var reply wireReply
	if err := json.Unmarshal(w.Response, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if jsonKind(reply.Text) != '"' {
		return nil, fmt.Errorf("%w: response.text must be a string", ErrInvalidResponse)
	}
	if jsonKind(w.Actions) != '[' {
		return nil, fmt.Errorf("%w: actions must be an array", ErrInvalidResponse)
	}

	out := &models.AssistantResponse{}
	if err := json.Unmarshal(reply.Text, &out.Response.Text); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	out.Response.ParseMode = reply.ParseMode
	if jsonKind(reply.ReplyMarkup) == '{' || jsonKind(reply.ReplyMarkup) == '[' {
		out.Response.ReplyMarkup = reply.ReplyMarkup
	}

	var rawActions []json.RawMessage
	if err := json.Unmarshal(w.Actions, &rawActions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	out.Actions = make([]models.Action, 0, len(rawActions))
	for _, ra := range rawActions {
		// A malformed entry becomes an action with an empty command, which the
		// dispatcher reports as a per-action failure.
		var a models.Action
		_ = json.Unmarshal(ra, &a)
		out.Actions = append(out.Actions, a)
	}

	if jsonKind(w.SessionData) == '{' {
		if err := json.Unmarshal(w.SessionData, &out.SessionData); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	return out, nil
}

// jsonKind returns the first significant byte of a JSON value, or 0 when absent.
func jsonKind(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case 'n':
			return 0 // null
		default:
			return b
		}
	}
	return 0
}
