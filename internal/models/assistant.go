package models

import (
	"encoding/json"
	"time"
)

// Action commands understood by the dispatcher.
const (
	CommandConsultCatalog    = "CONSULT_CATALOG"
	CommandConsultGuarantees = "CONSULT_GUARANTEES"
	CommandRegisterGuarantee = "REGISTER_GUARANTEE"
	CommandConsultSchedule   = "CONSULT_SCHEDULE"
	CommandSendGeolocation   = "SEND_GEOLOCATION"
	CommandSendImage         = "SEND_IMAGE"
	CommandEndConversation   = "END_CONVERSATION"
)

// AssistantRequest is the payload sent to the assistant service.
type AssistantRequest struct {
	Message     string         `json:"message"`
	UserID      string         `json:"user_id"`
	ChatID      string         `json:"chat_id"`
	SessionData map[string]any `json:"session_data"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AssistantReply is the user-facing part of an assistant response.
type AssistantReply struct {
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode,omitempty"`
	ReplyMarkup json.RawMessage `json:"reply_markup,omitempty"`
}

// Action is one command requested by the assistant.
type Action struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// AssistantResponse is the validated response of the assistant service.
type AssistantResponse struct {
	Response    AssistantReply `json:"response"`
	Actions     []Action       `json:"actions"`
	SessionData map[string]any `json:"session_data,omitempty"`
}

// ActionResult is the outcome of executing one Action.
type ActionResult struct {
	Command  string     `json:"command"`
	Success  bool       `json:"success"`
	Error    string     `json:"error,omitempty"`
	Data     any        `json:"data,omitempty"`
	Outbound []Outbound `json:"outbound,omitempty"`
}
