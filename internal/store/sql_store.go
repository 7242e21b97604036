package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/google/uuid"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with '?' placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db      *sql.DB
	dialect string // "sqlite3" or "postgres"
	name    string // used as the log prefix
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.name+".Close: closing database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error(s.name+".Close: failed to close database", "error", err)
	}
	return err
}

func (s *sqlStore) UpsertUser(ctx context.Context, u models.User) error {
	if u.ID == "" {
		return models.ErrEmptyUserID
	}
	now := time.Now().UTC()
	_, err := s.exec(ctx, `
		INSERT INTO users (id, chat_id, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			chat_id = excluded.chat_id,
			display_name = CASE WHEN excluded.display_name = '' THEN users.display_name ELSE excluded.display_name END,
			updated_at = excluded.updated_at`,
		u.ID, u.ChatID, u.DisplayName, now, now)
	if err != nil {
		slog.Error(s.name+".UpsertUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *sqlStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.queryRow(ctx, `SELECT id, chat_id, display_name, created_at, updated_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.ChatID, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error(s.name+".GetUser failed", "error", err, "userID", id)
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *sqlStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.UserID == "" {
		return models.ErrEmptyUserID
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	c.Status = models.ConversationStatusActive
	c.EndedAt = nil
	aiJSON, err := marshalAIData(c.AISessionData)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO conversations (id, user_id, started_at, status, ai_session_data)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.StartedAt.UTC(), string(c.Status), aiJSON)
	if err != nil {
		// The partial unique index rejects a second active row for the user.
		if existing, getErr := s.GetActiveConversation(ctx, c.UserID); getErr == nil && existing != nil {
			slog.Debug(s.name+".CreateConversation: active conversation exists", "userID", c.UserID, "conversationID", existing.ID)
			return ErrActiveConversationExists
		}
		slog.Error(s.name+".CreateConversation failed", "error", err, "userID", c.UserID)
		return fmt.Errorf("failed to create conversation for %s: %w", c.UserID, err)
	}
	slog.Debug(s.name+".CreateConversation succeeded", "userID", c.UserID, "conversationID", c.ID)
	return nil
}

const conversationColumns = `id, user_id, started_at, ended_at, status, ai_session_data`

func scanConversation(scan func(dest ...any) error) (*models.Conversation, error) {
	var c models.Conversation
	var endedAt sql.NullTime
	var status string
	var aiJSON []byte
	if err := scan(&c.ID, &c.UserID, &c.StartedAt, &endedAt, &status, &aiJSON); err != nil {
		return nil, err
	}
	c.Status = models.ConversationStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	c.AISessionData = unmarshalAIData(aiJSON, c.ID)
	return &c, nil
}

func (s *sqlStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.queryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error(s.name+".GetConversation failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *sqlStore) GetActiveConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	row := s.queryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE user_id = ? AND status = 'active'`, userID)
	c, err := scanConversation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetActiveConversation failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get active conversation for %s: %w", userID, err)
	}
	return c, nil
}

func (s *sqlStore) ListActiveConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE status = 'active' ORDER BY started_at`)
	if err != nil {
		slog.Error(s.name+".ListActiveConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query active conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *sqlStore) EndConversation(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `UPDATE conversations SET status = 'ended', ended_at = ? WHERE id = ? AND status = 'active'`, at.UTC(), id)
	if err != nil {
		slog.Error(s.name+".EndConversation failed", "error", err, "conversationID", id)
		return false, fmt.Errorf("failed to end conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		slog.Debug(s.name+".EndConversation succeeded", "conversationID", id)
		return true, nil
	}
	// Nothing updated: either already ended or missing.
	if _, err := s.GetConversation(ctx, id); err != nil {
		return false, err
	}
	slog.Debug(s.name+".EndConversation: already ended", "conversationID", id)
	return false, nil
}

func (s *sqlStore) UpdateConversationAISessionData(ctx context.Context, id string, data map[string]any) error {
	aiJSON, err := marshalAIData(data)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE conversations SET ai_session_data = ? WHERE id = ?`, aiJSON, id)
	if err != nil {
		slog.Error(s.name+".UpdateConversationAISessionData failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to update ai session data for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) CreateGuarantee(ctx context.Context, g *models.Guarantee) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.GuaranteeStatusPending
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO guarantees (id, user_id, invoice_number, invoice_photo_ref, product_photo_ref, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.InvoiceNumber, g.InvoicePhotoRef, g.ProductPhotoRef, g.Description, g.Status, g.CreatedAt.UTC())
	if err != nil {
		slog.Error(s.name+".CreateGuarantee failed", "error", err, "userID", g.UserID)
		return fmt.Errorf("failed to create guarantee for %s: %w", g.UserID, err)
	}
	slog.Debug(s.name+".CreateGuarantee succeeded", "userID", g.UserID, "guaranteeID", g.ID)
	return nil
}

func (s *sqlStore) ListGuaranteesByUser(ctx context.Context, userID string) ([]models.Guarantee, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, invoice_number, invoice_photo_ref, product_photo_ref, description, status, created_at
		FROM guarantees WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		slog.Error(s.name+".ListGuaranteesByUser query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query guarantees: %w", err)
	}
	defer rows.Close()

	var out []models.Guarantee
	for rows.Next() {
		var g models.Guarantee
		if err := rows.Scan(&g.ID, &g.UserID, &g.InvoiceNumber, &g.InvoicePhotoRef, &g.ProductPhotoRef,
			&g.Description, &g.Status, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan guarantee row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateSurvey(ctx context.Context, sv *models.Survey) error {
	if !models.ValidRating(sv.Rating) {
		return models.ErrRatingOutOfRange
	}
	if sv.ID == "" {
		sv.ID = uuid.NewString()
	}
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `INSERT INTO surveys (id, user_id, conversation_id, rating, created_at) VALUES (?, ?, ?, ?, ?)`,
		sv.ID, sv.UserID, sv.ConversationID, sv.Rating, sv.CreatedAt.UTC())
	if err != nil {
		slog.Error(s.name+".CreateSurvey failed", "error", err, "userID", sv.UserID, "conversationID", sv.ConversationID)
		return fmt.Errorf("failed to create survey: %w", err)
	}
	return nil
}

const productColumns = `id, name, category, brand, description, price, currency, stock, image_ref`

func scanProduct(scan func(dest ...any) error) (models.Product, error) {
	var p models.Product
	err := scan(&p.ID, &p.Name, &p.Category, &p.Brand, &p.Description, &p.Price, &p.Currency, &p.Stock, &p.ImageRef)
	return p, err
}

func (s *sqlStore) SearchProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	var where []string
	var args []any
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)")
		pattern := "%" + strings.ToLower(q) + "%"
		args = append(args, pattern, pattern)
	}
	if f.Category != "" {
		where = append(where, "LOWER(category) = ?")
		args = append(args, strings.ToLower(f.Category))
	}
	if f.Brand != "" {
		where = append(where, "LOWER(brand) = ?")
		args = append(args, strings.ToLower(f.Brand))
	}
	if f.MinPrice != nil {
		where = append(where, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		where = append(where, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.InStock {
		where = append(where, "stock > 0")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultCatalogLimit
	}

	q := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY name LIMIT ?"
	args = append(args, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		slog.Error(s.name+".SearchProducts query failed", "error", err)
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := scanProduct(s.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	return &p, nil
}

func (s *sqlStore) UpsertProduct(ctx context.Context, p models.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `
		INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, category = excluded.category, brand = excluded.brand,
			description = excluded.description, price = excluded.price, currency = excluded.currency,
			stock = excluded.stock, image_ref = excluded.image_ref`,
		p.ID, p.Name, p.Category, p.Brand, p.Description, p.Price, p.Currency, p.Stock, p.ImageRef)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (s *sqlStore) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := s.query(ctx, `SELECT day_of_week, day_name, opens_at, closes_at, closed FROM schedules ORDER BY day_of_week`)
	if err != nil {
		slog.Error(s.name+".ListSchedules query failed", "error", err)
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var out []models.Schedule
	for rows.Next() {
		var sc models.Schedule
		if err := rows.Scan(&sc.DayOfWeek, &sc.DayName, &sc.OpensAt, &sc.ClosesAt, &sc.Closed); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpsertSchedule(ctx context.Context, sc models.Schedule) error {
	_, err := s.exec(ctx, `
		INSERT INTO schedules (day_of_week, day_name, opens_at, closes_at, closed) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (day_of_week) DO UPDATE SET
			day_name = excluded.day_name, opens_at = excluded.opens_at,
			closes_at = excluded.closes_at, closed = excluded.closed`,
		sc.DayOfWeek, sc.DayName, sc.OpensAt, sc.ClosesAt, sc.Closed)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule for day %d: %w", sc.DayOfWeek, err)
	}
	return nil
}

func (s *sqlStore) GetStoreLocation(ctx context.Context) (*models.StoreLocation, error) {
	var loc models.StoreLocation
	err := s.queryRow(ctx, `SELECT name, address, latitude, longitude FROM store_config WHERE id = 1`).
		Scan(&loc.Name, &loc.Address, &loc.Latitude, &loc.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store location: %w", err)
	}
	return &loc, nil
}

func (s *sqlStore) SetStoreLocation(ctx context.Context, loc models.StoreLocation) error {
	_, err := s.exec(ctx, `
		INSERT INTO store_config (id, name, address, latitude, longitude) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, address = excluded.address,
			latitude = excluded.latitude, longitude = excluded.longitude`,
		loc.Name, loc.Address, loc.Latitude, loc.Longitude)
	if err != nil {
		return fmt.Errorf("failed to set store location: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveSessionSnapshot(ctx context.Context, userID string, data []byte) error {
	_, err := s.exec(ctx, `
		INSERT INTO session_snapshots (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, string(data), time.Now().UTC())
	if err != nil {
		slog.Error(s.name+".SaveSessionSnapshot failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save session snapshot for %s: %w", userID, err)
	}
	return nil
}

func (s *sqlStore) GetSessionSnapshot(ctx context.Context, userID string) ([]byte, error) {
	var data string
	err := s.queryRow(ctx, `SELECT data FROM session_snapshots WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetSessionSnapshot failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session snapshot for %s: %w", userID, err)
	}
	return []byte(data), nil
}

func (s *sqlStore) DeleteSessionSnapshot(ctx context.Context, userID string) error {
	if _, err := s.exec(ctx, `DELETE FROM session_snapshots WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete session snapshot for %s: %w", userID, err)
	}
	return nil
}

func (s *sqlStore) AddMessage(ctx context.Context, m models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO messages (id, user_id, conversation_id, direction, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.ConversationID, string(m.Direction), m.Kind, m.Body, m.CreatedAt.UTC())
	if err != nil {
		slog.Error(s.name+".AddMessage failed", "error", err, "userID", m.UserID)
		return fmt.Errorf("failed to add message for %s: %w", m.UserID, err)
	}
	return nil
}

func (s *sqlStore) ListMessages(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `
		SELECT id, user_id, conversation_id, direction, kind, body, created_at
		FROM messages WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var dir string
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &dir, &m.Kind, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Direction = models.MessageDirection(dir)
		out = append(out, m)
	}
	return out, rows.Err()
}

func marshalAIData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ai session data: %w", err)
	}
	return string(b), nil
}

// unmarshalAIData decodes the stored blob, falling back to an empty map on malformed JSON.
func unmarshalAIData(raw []byte, conversationID string) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("store: malformed ai_session_data, using empty map", "conversationID", conversationID, "error", err)
		return map[string]any{}
	}
	return out
}
