package keystore_test

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"campuschat/internal/cryptographic/box"
	"campuschat/internal/directory"
	"campuschat/internal/keystore"
	"campuschat/internal/localstore"
)

// fakeDirectory is an in-memory directory.Client with failure injection.
type fakeDirectory struct {
	mu       sync.Mutex
	entries  map[string][32]byte
	publishN int

	publishErr error
	fetchErr   error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{entries: make(map[string][32]byte)}
}

func (d *fakeDirectory) Publish(_ context.Context, userID string, publicKey [32]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.publishErr != nil {
		return d.publishErr
	}
	d.entries[userID] = publicKey
	d.publishN++
	return nil
}

func (d *fakeDirectory) Fetch(_ context.Context, userID string) ([32]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fetchErr != nil {
		return [32]byte{}, d.fetchErr
	}
	key, ok := d.entries[userID]
	if !ok {
		return [32]byte{}, directory.ErrNotFound
	}
	return key, nil
}

// assertUsablePair checks the pair round-trips against a fresh third party.
func assertUsablePair(t *testing.T, pair keystore.KeyPair) {
	t.Helper()
	peerPub, peerPriv, err := box.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	env, err := box.Encrypt("probe", peerPub, pair.SecretKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := box.Decrypt(env, pair.PublicKey, peerPriv)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "probe" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestGetOrCreate_FreshUser(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemoryStore()
	dir := newFakeDirectory()
	ks := keystore.New(local, dir)

	pair, err := ks.GetOrCreateKeyPair(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateKeyPair: %v", err)
	}

	published, err := dir.Fetch(ctx, "alice")
	if err != nil {
		t.Fatalf("Fetch after create: %v", err)
	}
	if published != pair.PublicKey {
		t.Fatal("published key differs from returned pair")
	}
	assertUsablePair(t, pair)
}

func TestGetOrCreate_ReturnsCachedPair(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemoryStore()
	dir := newFakeDirectory()
	ks := keystore.New(local, dir)

	first, err := ks.GetOrCreateKeyPair(ctx, "alice")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := ks.GetOrCreateKeyPair(ctx, "alice")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first != second {
		t.Fatal("second call regenerated a valid pair")
	}
	if dir.publishN != 1 {
		t.Fatalf("publish count = %d, want 1", dir.publishN)
	}
}

func TestGetOrCreate_CorruptLocalSecretRegenerates(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemoryStore()
	dir := newFakeDirectory()
	ks := keystore.New(local, dir)

	if _, err := ks.GetOrCreateKeyPair(ctx, "alice"); err != nil {
		t.Fatalf("initial create: %v", err)
	}
	if err := local.Set(ctx, "campuschat:chat_secret:alice", "not-hex-at-all"); err != nil {
		t.Fatalf("corrupt secret: %v", err)
	}

	pair, err := ks.GetOrCreateKeyPair(ctx, "alice")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	assertUsablePair(t, pair)

	stored, err := local.Get(ctx, "campuschat:chat_secret:alice")
	if err != nil {
		t.Fatalf("read stored secret: %v", err)
	}
	raw, err := hex.DecodeString(stored)
	if err != nil || len(raw) != 32 {
		t.Fatalf("stored secret does not decode to 32 bytes: %v", err)
	}
}

func TestGetOrCreate_MissingDirectoryEntryRegenerates(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemoryStore()
	dir := newFakeDirectory()
	ks := keystore.New(local, dir)

	if _, err := ks.GetOrCreateKeyPair(ctx, "alice"); err != nil {
		t.Fatalf("initial create: %v", err)
	}
	dir.mu.Lock()
	delete(dir.entries, "alice")
	dir.mu.Unlock()

	pair, err := ks.GetOrCreateKeyPair(ctx, "alice")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	published, err := dir.Fetch(ctx, "alice")
	if err != nil {
		t.Fatalf("Fetch after regenerate: %v", err)
	}
	if published != pair.PublicKey {
		t.Fatal("directory does not hold the regenerated key")
	}
}

func TestGetOrCreate_MismatchedPairRegenerates(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemoryStore()
	dir := newFakeDirectory()
	ks := keystore.New(local, dir)

	first, err := ks.GetOrCreateKeyPair(ctx, "alice")
	if err != nil {
		t.Fatalf("initial create: %v", err)
	}

	// Another device wins the publish race with a different pair.
	otherPub, _, err := box.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	if err := dir.Publish(ctx, "alice", otherPub); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	pair, err := ks.GetOrCreateKeyPair(ctx, "alice")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if pair == first {
		t.Fatal("mismatched pair was not regenerated")
	}
	assertUsablePair(t, pair)
}

func TestGetOrCreate_PublishFailureKeepsOldSecret(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemoryStore()
	dir := newFakeDirectory()
	ks := keystore.New(local, dir)

	if _, err := ks.GetOrCreateKeyPair(ctx, "alice"); err != nil {
		t.Fatalf("initial create: %v", err)
	}
	before, err := local.Get(ctx, "campuschat:chat_secret:alice")
	if err != nil {
		t.Fatalf("read secret: %v", err)
	}

	// Force regeneration, then fail the directory write.
	dir.mu.Lock()
	delete(dir.entries, "alice")
	dir.publishErr = errors.New("directory down")
	dir.mu.Unlock()

	if _, err := ks.GetOrCreateKeyPair(ctx, "alice"); err == nil {
		t.Fatal("expected error when publish fails")
	}

	after, err := local.Get(ctx, "campuschat:chat_secret:alice")
	if err != nil {
		t.Fatalf("read secret after failure: %v", err)
	}
	if before != after {
		t.Fatal("local secret was replaced although publish failed")
	}
}

func TestGetOrCreate_TransportErrorDoesNotRegenerate(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemoryStore()
	dir := newFakeDirectory()
	ks := keystore.New(local, dir)

	if _, err := ks.GetOrCreateKeyPair(ctx, "alice"); err != nil {
		t.Fatalf("initial create: %v", err)
	}

	dir.mu.Lock()
	dir.fetchErr = errors.New("timeout")
	dir.mu.Unlock()

	if _, err := ks.GetOrCreateKeyPair(ctx, "alice"); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
	if dir.publishN != 1 {
		t.Fatalf("publish count = %d after transport error, want 1", dir.publishN)
	}
}

func TestGetOrCreate_ConcurrentCallsConverge(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemoryStore()
	dir := newFakeDirectory()
	ks := keystore.New(local, dir)

	const callers = 16
	pairs := make([]keystore.KeyPair, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs[i], errs[i] = ks.GetOrCreateKeyPair(ctx, "alice")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
	}

	published, err := dir.Fetch(ctx, "alice")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for i, p := range pairs {
		if p.PublicKey != published {
			t.Fatalf("caller %d got a pair the directory does not know", i)
		}
	}
}
