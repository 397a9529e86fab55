package identity

import "time"

// Record is the single persistent identity entity. A record is created
// anonymous and may be promoted to a linked record exactly once; it is never
// replaced by a new record on upgrade and never reverts to anonymous.
type Record struct {
	// ID is the internal primary key. It is never serialized to clients.
	ID          string    `bson:"_id" json:"-"`
	PublicID    string    `bson:"publicId" json:"publicId"`
	DisplayName string    `bson:"displayName" json:"displayName"`
	Email       string    `bson:"email,omitempty" json:"email,omitempty"`
	AvatarImage string    `bson:"avatarImage,omitempty" json:"avatarImage,omitempty"`
	IsAnonymous bool      `bson:"isAnonymous" json:"isAnonymous"`
	ExternalID  string    `bson:"externalId,omitempty" json:"-"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Linked reports whether the record has been promoted to a verified external
// identity. Invariant: Linked() == (ExternalID != "").
func (r *Record) Linked() bool {
	return !r.IsAnonymous
}

// ExternalIdentity is the verified identity handed to us by the upstream
// provider after a successful OAuth exchange. ProfileName is carried for
// completeness but is deliberately not applied on upgrade: the anonymous
// display name wins.
type ExternalIdentity struct {
	ExternalID  string `json:"externalId"`
	Email       string `json:"email"`
	ProfileName string `json:"profileName"`
	AvatarImage string `json:"avatarImage"`
}

// VerifiedClaims is the session-level identity evidence supplied by the
// boundary once a provider exchange has succeeded. Linked distinguishes
// "session carries an external identity that is not yet merged" from
// "already merged".
type VerifiedClaims struct {
	ExternalID  string `json:"externalId"`
	Email       string `json:"email"`
	ProfileName string `json:"profileName"`
	AvatarImage string `json:"avatarImage"`
	Linked      bool   `json:"linked"`
}

// Evidence bundles everything a request can present about who it is.
// Both fields are optional; an empty bundle resolves to absent.
type Evidence struct {
	// AnonymousPublicID is the publicId recovered from the anonymous bearer
	// token, or "" when the request carried no usable token.
	AnonymousPublicID string
	// Claims are verified-session claims, nil when the session is anonymous.
	Claims *VerifiedClaims
}

// Identity carries the external identity asserted by the claims.
func (c *VerifiedClaims) Identity() ExternalIdentity {
	return ExternalIdentity{
		ExternalID:  c.ExternalID,
		Email:       c.Email,
		ProfileName: c.ProfileName,
		AvatarImage: c.AvatarImage,
	}
}
