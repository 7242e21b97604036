// Package store provides storage backends for the support bot.
//
// It defines narrow repository interfaces (users, conversations, guarantees, surveys,
// catalog, session snapshots, message log, inbound dedup) and implements them on
// SQLite, PostgreSQL, and an in-memory map used by tests.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// Error variables shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrActiveConversationExists is returned when a user already has an active conversation.
	ErrActiveConversationExists = errors.New("user already has an active conversation")
)

// UserRepo stores chat users.
type UserRepo interface {
	UpsertUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// ConversationRepo stores conversations. At most one conversation per user is active.
type ConversationRepo interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// GetActiveConversation returns nil, nil when the user has no active conversation.
	GetActiveConversation(ctx context.Context, userID string) (*models.Conversation, error)
	ListActiveConversations(ctx context.Context) ([]models.Conversation, error)
	// EndConversation marks the conversation ended. It returns false, nil when the
	// conversation was already ended and ErrNotFound when it does not exist.
	EndConversation(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateConversationAISessionData(ctx context.Context, id string, data map[string]any) error
}

// GuaranteeRepo stores guarantee claims.
type GuaranteeRepo interface {
	CreateGuarantee(ctx context.Context, g *models.Guarantee) error
	ListGuaranteesByUser(ctx context.Context, userID string) ([]models.Guarantee, error)
}

// SurveyRepo stores satisfaction ratings.
type SurveyRepo interface {
	CreateSurvey(ctx context.Context, s *models.Survey) error
}

// CatalogRepo exposes products, opening hours, and the store location.
type CatalogRepo interface {
	SearchProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	GetStoreLocation(ctx context.Context) (*models.StoreLocation, error)

	UpsertProduct(ctx context.Context, p models.Product) error
	UpsertSchedule(ctx context.Context, s models.Schedule) error
	SetStoreLocation(ctx context.Context, loc models.StoreLocation) error
}

// SessionSnapshotRepo persists serialized sessions keyed by user id.
type SessionSnapshotRepo interface {
	SaveSessionSnapshot(ctx context.Context, userID string, data []byte) error
	// GetSessionSnapshot returns nil, nil when no snapshot exists.
	GetSessionSnapshot(ctx context.Context, userID string) ([]byte, error)
	DeleteSessionSnapshot(ctx context.Context, userID string) error
}

// MessageRepo is the chat message log.
type MessageRepo interface {
	AddMessage(ctx context.Context, m models.Message) error
	ListMessages(ctx context.Context, userID string, limit int) ([]models.Message, error)
}

// Store is the full persistence surface.
type Store interface {
	UserRepo
	ConversationRepo
	GuaranteeRepo
	SurveyRepo
	CatalogRepo
	SessionSnapshotRepo
	MessageRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// PostgreSQL URLs or key/value strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the backend matching the DSN.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// DefaultCatalogLimit is used when a product search does not set a limit.
const DefaultCatalogLimit = 5
