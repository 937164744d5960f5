// Package directory is the shared public-key directory. Every chat user
// publishes exactly one X25519 public key; publishing again overwrites the
// previous entry (last write wins).
package directory

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the user has never published a key, which usually
	// means they have not used chat yet.
	ErrNotFound = errors.New("directory: no published key for user")

	// ErrCorruptEntry means an entry exists but its key does not decode to
	// 32 bytes of hex. The keystore treats this like a missing entry and
	// republishes.
	ErrCorruptEntry = errors.New("directory: published key does not decode")
)

type Client interface {
	// Publish upserts the (userID, publicKey) entry.
	Publish(ctx context.Context, userID string, publicKey [32]byte) error
	// Fetch returns the currently published key for userID.
	Fetch(ctx context.Context, userID string) ([32]byte, error)
}
