package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidKey = errors.New("identity key requires session id and user id")

// Key addresses one cached identity.
type Key struct {
	SessionID uuid.UUID
	UserID    string
}

// Validate checks that both parts of the key are set.
func (k Key) Validate() error {
	if k.SessionID == uuid.Nil || k.UserID == "" {
		return ErrInvalidKey
	}
	return nil
}

// String renders the key as used by persistent stores.
func (k Key) String() string {
	return k.SessionID.String() + "/" + k.UserID
}

// Identity is what a participant entered locally for a session plus the
// last role they were known to hold.
type Identity struct {
	RealName       string    `cbor:"realName" json:"realName"`
	DisplayName    string    `cbor:"displayName" json:"displayName"`
	RoleID         string    `cbor:"roleId,omitempty" json:"roleId,omitempty"`
	RoleName       string    `cbor:"roleName,omitempty" json:"roleName,omitempty"`
	AvatarFallback string    `cbor:"avatarFallback,omitempty" json:"avatarFallback,omitempty"`
	SavedAt        time.Time `cbor:"savedAt" json:"savedAt"`
}

// HasNames reports whether both names are present.
func (i *Identity) HasNames() bool {
	return i != nil && i.RealName != "" && i.DisplayName != ""
}

// Clone returns a copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	return &out
}

// Cache is the durable local store of identities. Load returns nil when
// nothing is cached. Purge removes every field for the key at once.
type Cache interface {
	Load(ctx context.Context, key Key) (*Identity, error)
	Save(ctx context.Context, key Key, id *Identity) error
	Purge(ctx context.Context, key Key) error
}
