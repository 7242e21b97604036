package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/google/uuid"
)

// InMemoryStore is a map-backed Store used by tests and local runs without a database.
type InMemoryStore struct {
	mu            sync.RWMutex
	users         map[string]models.User
	conversations map[string]models.Conversation
	guarantees    []models.Guarantee
	surveys       []models.Survey
	products      map[string]models.Product
	schedules     map[int]models.Schedule
	location      *models.StoreLocation
	snapshots     map[string][]byte
	messages      []models.Message
	dedup         map[string]DedupRecord
}

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:         make(map[string]models.User),
		conversations: make(map[string]models.Conversation),
		products:      make(map[string]models.Product),
		schedules:     make(map[int]models.Schedule),
		snapshots:     make(map[string][]byte),
		dedup:         make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) UpsertUser(_ context.Context, u models.User) error {
	if u.ID == "" {
		return models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
		if u.DisplayName == "" {
			u.DisplayName = existing.DisplayName
		}
	} else {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.ID] = u
	return nil
}

func (s *InMemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func copyAIData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *InMemoryStore) CreateConversation(_ context.Context, c *models.Conversation) error {
	if c.UserID == "" {
		return models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conversations {
		if existing.UserID == c.UserID && existing.Status == models.ConversationStatusActive {
			return ErrActiveConversationExists
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	c.Status = models.ConversationStatusActive
	c.EndedAt = nil
	stored := *c
	stored.AISessionData = copyAIData(c.AISessionData)
	s.conversations[c.ID] = stored
	return nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.AISessionData = copyAIData(c.AISessionData)
	return &c, nil
}

func (s *InMemoryStore) GetActiveConversation(_ context.Context, userID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.UserID == userID && c.Status == models.ConversationStatusActive {
			c.AISessionData = copyAIData(c.AISessionData)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListActiveConversations(_ context.Context) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if c.Status == models.ConversationStatusActive {
			c.AISessionData = copyAIData(c.AISessionData)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *InMemoryStore) EndConversation(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status == models.ConversationStatusEnded {
		return false, nil
	}
	at = at.UTC()
	c.Status = models.ConversationStatusEnded
	c.EndedAt = &at
	s.conversations[id] = c
	return true, nil
}

func (s *InMemoryStore) UpdateConversationAISessionData(_ context.Context, id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.AISessionData = copyAIData(data)
	s.conversations[id] = c
	return nil
}

func (s *InMemoryStore) CreateGuarantee(_ context.Context, g *models.Guarantee) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.GuaranteeStatusPending
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	s.guarantees = append(s.guarantees, *g)
	return nil
}

func (s *InMemoryStore) ListGuaranteesByUser(_ context.Context, userID string) ([]models.Guarantee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Guarantee
	for i := len(s.guarantees) - 1; i >= 0; i-- {
		if s.guarantees[i].UserID == userID {
			out = append(out, s.guarantees[i])
		}
	}
	return out, nil
}

// Guarantees returns every stored guarantee in insertion order.
func (s *InMemoryStore) Guarantees() []models.Guarantee {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Guarantee(nil), s.guarantees...)
}

func (s *InMemoryStore) CreateSurvey(_ context.Context, sv *models.Survey) error {
	if !models.ValidRating(sv.Rating) {
		return models.ErrRatingOutOfRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv.ID == "" {
		sv.ID = uuid.NewString()
	}
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = time.Now().UTC()
	}
	s.surveys = append(s.surveys, *sv)
	return nil
}

// Surveys returns every stored survey in insertion order.
func (s *InMemoryStore) Surveys() []models.Survey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Survey(nil), s.surveys...)
}

func (s *InMemoryStore) SearchProducts(_ context.Context, f models.ProductFilter) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var out []models.Product
	for _, p := range s.products {
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			continue
		}
		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			continue
		}
		if f.Brand != "" && !strings.EqualFold(p.Brand, f.Brand) {
			continue
		}
		if f.MinPrice != nil && p.Price < *f.MinPrice {
			continue
		}
		if f.MaxPrice != nil && p.Price > *f.MaxPrice {
			continue
		}
		if f.InStock && p.Stock <= 0 {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultCatalogLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *InMemoryStore) UpsertProduct(_ context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.products[p.ID] = p
	return nil
}

func (s *InMemoryStore) ListSchedules(_ context.Context) ([]models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayOfWeek < out[j].DayOfWeek })
	return out, nil
}

func (s *InMemoryStore) UpsertSchedule(_ context.Context, sc models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.DayOfWeek] = sc
	return nil
}

func (s *InMemoryStore) GetStoreLocation(_ context.Context) (*models.StoreLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.location == nil {
		return nil, ErrNotFound
	}
	loc := *s.location
	return &loc, nil
}

func (s *InMemoryStore) SetStoreLocation(_ context.Context, loc models.StoreLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = &loc
	return nil
}

func (s *InMemoryStore) SaveSessionSnapshot(_ context.Context, userID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[userID] = append([]byte(nil), data...)
	return nil
}

func (s *InMemoryStore) GetSessionSnapshot(_ context.Context, userID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[userID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *InMemoryStore) DeleteSessionSnapshot(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, userID)
	return nil
}

func (s *InMemoryStore) AddMessage(_ context.Context, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, userID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []models.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].UserID == userID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now().UTC()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) PruneDedup(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(before) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}
