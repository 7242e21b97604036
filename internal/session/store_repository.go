package session

import (
	"context"
	"log/slog"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
)

// StoreRepository keeps session snapshots in the relational store.
type StoreRepository struct {
	snapshots store.SessionSnapshotRepo
}

// Compile-time check that StoreRepository implements Repository.
var _ Repository = (*StoreRepository)(nil)

// NewStoreRepository creates a Repository backed by the store's snapshot table.
func NewStoreRepository(snapshots store.SessionSnapshotRepo) *StoreRepository {
	return &StoreRepository{snapshots: snapshots}
}

// Load reads and decodes the user's snapshot.
func (r *StoreRepository) Load(ctx context.Context, userID string) (*models.Session, error) {
	data, err := r.snapshots.GetSessionSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	s, err := Decode(data)
	if err != nil {
		slog.Warn("StoreRepository.Load: discarding snapshot", "userID", userID, "error", err)
		return nil, err
	}
	return s, nil
}

// Save encodes and writes the session.
func (r *StoreRepository) Save(ctx context.Context, s *models.Session) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	return r.snapshots.SaveSessionSnapshot(ctx, s.UserID, data)
}

// Delete removes the user's snapshot.
func (r *StoreRepository) Delete(ctx context.Context, userID string) error {
	return r.snapshots.DeleteSessionSnapshot(ctx, userID)
}
