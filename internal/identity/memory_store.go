package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store used for unit tests and
// local runs without MongoDB. It enforces the same uniqueness and
// conditional-promote semantics as the Mongo implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	byPublic   map[string]*Record
	byExternal map[string]string // externalId -> publicId
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPublic:   make(map[string]*Record),
		byExternal: make(map[string]string),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPublic[rec.PublicID]; ok {
		return ErrDuplicatePublicID
	}
	cp := *rec
	s.byPublic[cp.PublicID] = &cp
	if cp.ExternalID != "" {
		s.byExternal[cp.ExternalID] = cp.PublicID
	}
	return nil
}

func (s *MemoryStore) FindByPublicID(ctx context.Context, publicID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byPublic[publicID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) FindByExternalID(ctx context.Context, externalID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.byExternal[externalID]
	if !ok {
		return nil, nil
	}
	cp := *s.byPublic[pid]
	return &cp, nil
}

func (s *MemoryStore) Promote(ctx context.Context, publicID string, ext ExternalIdentity, now time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pid, ok := s.byExternal[ext.ExternalID]; ok && pid != publicID {
		return nil, ErrExternalIDTaken
	}
	rec, ok := s.byPublic[publicID]
	if !ok || !rec.IsAnonymous {
		return nil, ErrPromoteConflict
	}
	rec.ExternalID = ext.ExternalID
	if ext.Email != "" {
		rec.Email = ext.Email
	}
	if ext.AvatarImage != "" {
		rec.AvatarImage = ext.AvatarImage
	}
	rec.IsAnonymous = false
	rec.UpdatedAt = now
	s.byExternal[ext.ExternalID] = publicID
	cp := *rec
	return &cp, nil
}
