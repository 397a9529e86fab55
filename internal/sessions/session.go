package sessions

import (
	"time"

	"github.com/driftnote/driftnote/backend/go-identity/internal/identity"
)

// Claims is the identity snapshot a verified session carries between
// requests. Linked tells the boundary whether the external identity has
// already been merged into the user store; when false, the next request
// carrying these claims should invoke the linking engine.
type Claims struct {
	PublicID    string `bson:"publicId" json:"publicId"`
	DisplayName string `bson:"displayName" json:"displayName"`
	Email       string `bson:"email,omitempty" json:"email,omitempty"`
	AvatarImage string `bson:"avatarImage,omitempty" json:"avatarImage,omitempty"`
	ExternalID  string `bson:"externalId,omitempty" json:"externalId,omitempty"`
	IsAnonymous bool   `bson:"isAnonymous" json:"isAnonymous"`
	Linked      bool   `bson:"linked" json:"linked"`
}

// FromRecord snapshots a store record into session claims.
func FromRecord(rec *identity.Record) Claims {
	return Claims{
		PublicID:    rec.PublicID,
		DisplayName: rec.DisplayName,
		Email:       rec.Email,
		AvatarImage: rec.AvatarImage,
		ExternalID:  rec.ExternalID,
		IsAnonymous: rec.IsAnonymous,
		Linked:      !rec.IsAnonymous,
	}
}

// Session represents a persistent verified session keyed by an opaque token
type Session struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Token     string    `bson:"token" json:"token"`
	Claims    Claims    `bson:"claims" json:"claims"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
