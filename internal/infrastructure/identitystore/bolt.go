package identitystore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/chatsim/joinsync/internal/domain/identity"
)

const (
	identityBucket = "identity"
	clientBucket   = "client"
	userIDKey      = "user_id"
)

// BoltCache is a file-backed identity cache. It survives restarts of the
// participant client and also holds the client's stable user id.
type BoltCache struct {
	db *bbolt.DB
}

var _ identity.Cache = (*BoltCache)(nil)

// Open opens or creates the cache file at path.
func Open(path string) (*BoltCache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open identity cache: %w", err)
	}
	c := &BoltCache{db: db}
	if err := c.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database.
func (c *BoltCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *BoltCache) Load(ctx context.Context, key identity.Key) (*identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var out *identity.Identity
	err := c.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket([]byte(identityBucket)).Get([]byte(key.String()))
		if payload == nil {
			return nil
		}
		id, err := decodeIdentity(payload)
		if err != nil {
			return err
		}
		out = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BoltCache) Save(ctx context.Context, key identity.Key, id *identity.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if id == nil {
		return c.Purge(ctx, key)
	}
	payload, err := encodeIdentity(id)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(identityBucket)).Put([]byte(key.String()), payload)
	})
}

// Purge removes the identity in a single transaction, so no field outlives
// the others.
func (c *BoltCache) Purge(ctx context.Context, key identity.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(identityBucket)).Delete([]byte(key.String()))
	})
}

// UserID returns the client's stable user id, generating and persisting one
// on first use.
func (c *BoltCache) UserID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var id string
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(clientBucket))
		if existing := b.Get([]byte(userIDKey)); existing != nil {
			id = string(existing)
			return nil
		}
		id = uuid.NewString()
		return b.Put([]byte(userIDKey), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("load user id: %w", err)
	}
	return id, nil
}

func (c *BoltCache) ensureBuckets() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{identityBucket, clientBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
