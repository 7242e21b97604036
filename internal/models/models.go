// Package models defines the core data structures for the support bot.
//
// It includes the persistent entities (users, conversations, guarantees, surveys, catalog rows),
// the per-user Session, outbound actions, and the assistant exchange protocol.
package models

import (
	"errors"
	"time"
)

// ConversationStatus is the lifecycle status of a conversation row.
type ConversationStatus string

const (
	// ConversationStatusActive marks an open conversation.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusEnded marks a closed conversation.
	ConversationStatusEnded ConversationStatus = "ended"
)

// Survey rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// Error variables for validation
var (
	ErrEmptyUserID         = errors.New("user id cannot be empty")
	ErrEmptyChatID         = errors.New("chat id cannot be empty")
	ErrRatingOutOfRange    = errors.New("rating must be between 1 and 5")
	ErrIncompleteGuarantee = errors.New("guarantee is missing required fields")
)

// User is a registered chat user.
type User struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Conversation is a bounded episode of interaction with a user.
type Conversation struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       *time.Time         `json:"ended_at,omitempty"`
	Status        ConversationStatus `json:"status"`
	AISessionData map[string]any     `json:"ai_session_data,omitempty"`
}

// IsActive reports whether the conversation is still open.
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive && c.EndedAt == nil
}

// Guarantee is a registered warranty claim.
type Guarantee struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	InvoiceNumber   string    `json:"invoice_number"`
	InvoicePhotoRef string    `json:"invoice_photo_ref"`
	ProductPhotoRef string    `json:"product_photo_ref"`
	Description     string    `json:"description"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// GuaranteeStatusPending is the status assigned to newly registered claims.
const GuaranteeStatusPending = "pending"

// Validate checks that every collected field is present.
func (g *Guarantee) Validate() error {
	if g.UserID == "" {
		return ErrEmptyUserID
	}
	if g.InvoiceNumber == "" || g.InvoicePhotoRef == "" || g.ProductPhotoRef == "" || g.Description == "" {
		return ErrIncompleteGuarantee
	}
	return nil
}

// Survey is a satisfaction rating tied to a conversation.
type Survey struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Rating         int       `json:"rating"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidRating reports whether rating is within the accepted range.
func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}

// Product is a catalog entry.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	Brand       string  `json:"brand,omitempty"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Stock       int     `json:"stock"`
	ImageRef    string  `json:"image_ref,omitempty"`
}

// ProductFilter narrows a catalog search.
type ProductFilter struct {
	Query    string   `json:"query,omitempty"`
	Category string   `json:"category,omitempty"`
	Brand    string   `json:"brand,omitempty"`
	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`
	InStock  bool     `json:"in_stock,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Schedule is the opening hours of one weekday.
type Schedule struct {
	DayOfWeek int    `json:"day_of_week"` // 0 = Sunday
	DayName   string `json:"day_name"`
	OpensAt   string `json:"opens_at,omitempty"`
	ClosesAt  string `json:"closes_at,omitempty"`
	Closed    bool   `json:"closed"`
}

// StoreLocation is the physical location of the store.
type StoreLocation struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// MessageDirection is the direction of a logged message.
type MessageDirection string

const (
	// MessageDirectionInbound is a message received from a user.
	MessageDirectionInbound MessageDirection = "inbound"
	// MessageDirectionOutbound is a message sent to a user.
	MessageDirectionOutbound MessageDirection = "outbound"
)

// Message is a logged chat message.
type Message struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Direction      MessageDirection `json:"direction"`
	Kind           string           `json:"kind"`
	Body           string           `json:"body"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PhotoRef is one resolution of an inbound photo.
type PhotoRef struct {
	Ref      string `json:"ref"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size"`
}

// LargestPhoto returns the highest-resolution photo, or false when photos is empty.
func LargestPhoto(photos []PhotoRef) (PhotoRef, bool) {
	if len(photos) == 0 {
		return PhotoRef{}, false
	}
	best := photos[0]
	for _, p := range photos[1:] {
		if p.Width*p.Height > best.Width*best.Height ||
			(p.Width*p.Height == best.Width*best.Height && p.FileSize > best.FileSize) {
			best = p
		}
	}
	return best, true
}

// TimerInfo describes a pending inactivity timer.
type TimerInfo struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	ArmedAt        time.Time `json:"armed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Remaining      string    `json:"remaining"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
