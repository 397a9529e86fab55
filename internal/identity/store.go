package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicatePublicID is returned by Insert when the generated publicId
	// already exists. The provisioner retries with a fresh id.
	ErrDuplicatePublicID = errors.New("identity: publicId already exists")

	// ErrExternalIDTaken is returned by Promote when another record already
	// holds the external identity (the unique constraint fired).
	ErrExternalIDTaken = errors.New("identity: externalId already linked")

	// ErrPromoteConflict is returned by Promote when the target record is
	// missing or no longer anonymous, i.e. the conditional update matched
	// nothing.
	ErrPromoteConflict = errors.New("identity: record not promotable")
)

// Store is the only shared mutable resource of the linking protocol. All
// lookups return (nil, nil) when nothing matches; absence is a valid outcome,
// not an error. Implementations must enforce uniqueness of publicId and
// externalId and must apply Promote as a single atomic conditional write —
// the linking engine's race safety depends on both.
type Store interface {
	// Insert persists a new record. The caller sets all fields including ID
	// and timestamps.
	Insert(ctx context.Context, rec *Record) error

	// FindByPublicID returns the record owning the public identifier.
	FindByPublicID(ctx context.Context, publicID string) (*Record, error)

	// FindByExternalID returns the record linked to the external identity.
	FindByExternalID(ctx context.Context, externalID string) (*Record, error)

	// Promote links the record identified by publicID to ext, but only if it
	// is still anonymous. The display name is preserved; updatedAt is set to
	// now. Returns the updated record, ErrPromoteConflict when the record is
	// gone or already linked, or ErrExternalIDTaken when the external
	// identity was claimed by another record.
	Promote(ctx context.Context, publicID string, ext ExternalIdentity, now time.Time) (*Record, error)
}
