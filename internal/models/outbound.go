package models

import "encoding/json"

// OutboundKind identifies what an Outbound asks the transport to do.
type OutboundKind string

const (
	// OutboundText sends a text message.
	OutboundText OutboundKind = "text"
	// OutboundPhoto sends a photo with an optional caption.
	OutboundPhoto OutboundKind = "photo"
	// OutboundDelete deletes a previously sent message.
	OutboundDelete OutboundKind = "delete"
)

// Choice is a selectable reply option. Data is delivered back as callback data.
type Choice struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Outbound is one message action for the transport to carry out.
type Outbound struct {
	Kind        OutboundKind    `json:"kind"`
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text,omitempty"`
	ParseMode   string          `json:"parse_mode,omitempty"`
	ReplyMarkup json.RawMessage `json:"reply_markup,omitempty"`
	Choices     []Choice        `json:"choices,omitempty"`
	PhotoRef    string          `json:"photo_ref,omitempty"`
	Caption     string          `json:"caption,omitempty"`
	MessageID   string          `json:"message_id,omitempty"`
}

// OutboundActions is the ordered list of actions produced by one turn.
type OutboundActions []Outbound

// TextMessage builds a plain text outbound.
func TextMessage(chatID, text string) Outbound {
	return Outbound{Kind: OutboundText, ChatID: chatID, Text: text}
}

// ChoiceMessage builds a text outbound with selectable choices.
func ChoiceMessage(chatID, text string, choices []Choice) Outbound {
	return Outbound{Kind: OutboundText, ChatID: chatID, Text: text, Choices: choices}
}

// PhotoMessage builds a photo outbound.
func PhotoMessage(chatID, ref, caption string) Outbound {
	return Outbound{Kind: OutboundPhoto, ChatID: chatID, PhotoRef: ref, Caption: caption}
}

// DeleteMessage builds a delete outbound for a previously sent message.
func DeleteMessage(chatID, messageID string) Outbound {
	return Outbound{Kind: OutboundDelete, ChatID: chatID, MessageID: messageID}
}
