package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftnote/driftnote/backend/go-identity/internal/names"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// publicIDLength matches the entropy of the original nanoid(12) public
	// identifiers. The store's unique index is the hard backstop.
	publicIDLength = 12

	// provisionAttempts bounds publicId regeneration on insert collisions.
	provisionAttempts = 3
)

var (
	// ErrProvisioningExhausted means publicId generation collided on every
	// attempt. Fatal for the request, safe to retry later.
	ErrProvisioningExhausted = errors.New("identity: provisioning retries exhausted")

	// ErrLinkingConflict means the upgrade lost a race and the follow-up
	// lookup still found no winner. Callers should treat it as "try again
	// later", never as corruption.
	ErrLinkingConflict = errors.New("identity: linking conflict")
)

// Service implements identity resolution, anonymous provisioning and the
// anonymous-to-verified upgrade over an injected Store. It holds no request
// state and is safe for concurrent use.
type Service struct {
	store Store
	names *names.Generator

	// overridable in tests
	newPublicID func() (string, error)
	newRecordID func() (string, error)
	now         func() time.Time
}

func NewService(store Store, gen *names.Generator) *Service {
	return &Service{
		store:       store,
		names:       gen,
		newPublicID: func() (string, error) { return gonanoid.New(publicIDLength) },
		newRecordID: func() (string, error) { return gonanoid.New() },
		now:         time.Now,
	}
}

// Resolve determines the effective identity for the given evidence.
// Verified claims are authoritative and resolved by externalId without
// consulting the anonymous token; otherwise the anonymous publicId is tried.
// An unknown or foreign token is treated as absent, never as an error.
// Returns (nil, nil) when no identity can be resolved; the caller is then
// expected to Provision.
func (s *Service) Resolve(ctx context.Context, ev Evidence) (*Record, error) {
	if ev.Claims != nil && ev.Claims.ExternalID != "" {
		return s.store.FindByExternalID(ctx, ev.Claims.ExternalID)
	}
	if ev.AnonymousPublicID != "" {
		return s.store.FindByPublicID(ctx, ev.AnonymousPublicID)
	}
	return nil, nil
}

// Provision creates and persists a fresh anonymous record. Generation
// collisions on publicId are retried with a new id up to provisionAttempts
// times; the store's unique constraint is what actually guarantees
// uniqueness under concurrent provisioning.
func (s *Service) Provision(ctx context.Context) (*Record, error) {
	for attempt := 0; attempt < provisionAttempts; attempt++ {
		publicID, err := s.newPublicID()
		if err != nil {
			return nil, fmt.Errorf("generate publicId: %w", err)
		}
		id, err := s.newRecordID()
		if err != nil {
			return nil, fmt.Errorf("generate record id: %w", err)
		}
		now := s.now().UTC()
		rec := &Record{
			ID:          id,
			PublicID:    publicID,
			DisplayName: s.names.Generate(),
			IsAnonymous: true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = s.store.Insert(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrDuplicatePublicID) {
			continue
		}
		return nil, fmt.Errorf("insert anonymous record: %w", err)
	}
	return nil, ErrProvisioningExhausted
}
