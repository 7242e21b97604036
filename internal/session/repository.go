// Package session persists and restores per-user Sessions.
//
// Sessions are serialized as JSON. A snapshot that cannot be decoded or fails
// validation is reported as ErrMalformed so callers can fall back to a fresh
// idle session instead of failing the turn.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// ErrMalformed is returned by Load when a persisted session cannot be decoded.
var ErrMalformed = errors.New("malformed session snapshot")

// Repository loads and saves sessions keyed by user id.
type Repository interface {
	// Load returns nil, nil when no session is stored for the user.
	Load(ctx context.Context, userID string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, userID string) error
}

// Encode serializes a session.
func Encode(s *models.Session) ([]byte, error) {
	if s.UserID == "" {
		return nil, models.ErrEmptyUserID
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session for %s: %w", s.UserID, err)
	}
	return data, nil
}

// Decode deserializes and validates a session snapshot.
func Decode(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &s, nil
}
