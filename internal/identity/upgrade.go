package identity

import (
	"context"
	"errors"
	"fmt"
)

// Upgrade reconciles an anonymous record with a verified external identity.
//
// The order is load-bearing: check preconditions, look up an existing owner
// of the external identity, and only then promote with a conditional write.
// Two concurrent upgrades for the same externalId can both pass the lookup;
// the store's unique constraint rejects the loser, and the re-check below
// turns that rejection into "return the winner" instead of an error.
//
// Returns (nil, nil) when there is nothing to upgrade (no record, or the
// record is already linked). Never mutates a record other than anon, and
// never overwrites anon's display name.
func (s *Service) Upgrade(ctx context.Context, anon *Record, ext ExternalIdentity) (*Record, error) {
	if anon == nil || !anon.IsAnonymous {
		return nil, nil
	}
	if ext.ExternalID == "" {
		return nil, nil
	}

	// Another record may already own this external identity, e.g. the user
	// linked from a different device and this browser's anonymous record is
	// stale. That record is authoritative; anon stays untouched.
	existing, err := s.store.FindByExternalID(ctx, ext.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("lookup externalId: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	rec, err := s.store.Promote(ctx, anon.PublicID, ext, s.now().UTC())
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrExternalIDTaken) && !errors.Is(err, ErrPromoteConflict) {
		return nil, fmt.Errorf("promote %s: %w", anon.PublicID, err)
	}

	// Lost the race between lookup and write. Re-run the lookup once: the
	// winner's record must exist now.
	winner, err := s.store.FindByExternalID(ctx, ext.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("re-lookup externalId: %w", err)
	}
	if winner != nil {
		return winner, nil
	}
	return nil, ErrLinkingConflict
}
