// Package keystore owns the lifecycle of the user's chat key pair: local
// persistence of the secret half, publication of the public half, and
// regeneration whenever the two can no longer be paired.
package keystore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/sync/singleflight"

	"campuschat/internal/cryptographic/box"
	"campuschat/internal/directory"
	"campuschat/internal/localstore"
	"campuschat/internal/utils/log"
)

const secretKeyPrefix = "campuschat:chat_secret:"

type (
	KeyStore struct {
		local     localstore.Store
		directory directory.Client

		// Concurrent GetOrCreate calls for the same user converge on a
		// single regeneration instead of racing the directory write.
		group singleflight.Group
	}

	KeyPair struct {
		PublicKey [32]byte
		SecretKey [32]byte
	}
)

func New(local localstore.Store, dir directory.Client) *KeyStore {
	return &KeyStore{
		local:     local,
		directory: dir,
	}
}

// GetOrCreateKeyPair returns the user's key pair, regenerating it when the
// locally stored secret cannot be paired with a directory-published public
// key. The directory write happens before the old local secret is
// discarded, so a failed publish never strands the user without a usable
// pair.
func (s *KeyStore) GetOrCreateKeyPair(ctx context.Context, userID string) (KeyPair, error) {
	v, err, _ := s.group.Do(userID, func() (any, error) {
		return s.getOrCreate(ctx, userID)
	})
	if err != nil {
		return KeyPair{}, err
	}
	return v.(KeyPair), nil
}

func (s *KeyStore) getOrCreate(ctx context.Context, userID string) (KeyPair, error) {
	pair, err := s.loadValid(ctx, userID)
	if err == nil {
		return pair, nil
	}

	if !isRecoverable(err) {
		return KeyPair{}, err
	}

	log.Debug("regenerating chat key pair",
		zap.String("user_id", userID),
		zap.Error(err))
	return s.regenerate(ctx, userID)
}

// loadValid returns the cached pair when the local secret decodes and the
// directory holds a matching public key. Any recoverable failure makes the
// caller regenerate.
func (s *KeyStore) loadValid(ctx context.Context, userID string) (KeyPair, error) {
	stored, err := s.local.Get(ctx, secretKeyPrefix+userID)
	if err != nil {
		return KeyPair{}, err
	}

	secret, err := decodeKey(stored)
	if err != nil {
		return KeyPair{}, errCorruptSecret
	}

	published, err := s.directory.Fetch(ctx, userID)
	if err != nil {
		return KeyPair{}, err
	}

	derived, err := derivePublic(secret)
	if err != nil {
		return KeyPair{}, errCorruptSecret
	}
	if derived != published {
		return KeyPair{}, errKeyMismatch
	}

	return KeyPair{PublicKey: published, SecretKey: secret}, nil
}

func (s *KeyStore) regenerate(ctx context.Context, userID string) (KeyPair, error) {
	pub, priv, err := box.NewKeyPair()
	if err != nil {
		return KeyPair{}, err
	}

	// Publish first. If this fails the old local secret is untouched and
	// the next open retries from scratch.
	if err := s.directory.Publish(ctx, userID, pub); err != nil {
		return KeyPair{}, fmt.Errorf("publish regenerated key: %w", err)
	}

	if err := s.local.Set(ctx, secretKeyPrefix+userID, hex.EncodeToString(priv[:])); err != nil {
		return KeyPair{}, fmt.Errorf("store regenerated secret: %w", err)
	}

	log.Info("published new chat key pair", zap.String("user_id", userID))
	return KeyPair{PublicKey: pub, SecretKey: priv}, nil
}

var (
	errCorruptSecret = errors.New("keystore: stored secret key does not decode")
	errKeyMismatch   = errors.New("keystore: stored secret does not match published key")
)

// isRecoverable reports whether the validity failure should be healed by
// regeneration. Transport errors from the directory are not: regenerating
// on a flaky read would overwrite a good published key.
func isRecoverable(err error) bool {
	return errors.Is(err, localstore.ErrNotFound) ||
		errors.Is(err, errCorruptSecret) ||
		errors.Is(err, errKeyMismatch) ||
		errors.Is(err, directory.ErrNotFound) ||
		errors.Is(err, directory.ErrCorruptEntry)
}

func decodeKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("key is %d bytes, want 32", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func derivePublic(secret [32]byte) ([32]byte, error) {
	var pub [32]byte
	raw, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], raw)
	return pub, nil
}
