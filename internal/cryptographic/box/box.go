package box

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	naclbox "golang.org/x/crypto/nacl/box"
)

// Envelope format: hex(nonce) + ":" + hex(ciphertext), hex lowercase.
// The nonce is box.Seal's 24-byte random nonce; the ciphertext carries the
// poly1305 tag, so tampering with either segment fails authentication.

const NonceSize = 24

var (
	ErrMalformedEnvelope = errors.New("malformed ciphertext envelope")
	ErrDecryptFailed     = errors.New("decryption failed: authentication error")
	ErrKeyGeneration     = errors.New("key pair generation failed")
)

// NewKeyPair returns a fresh X25519 key pair for box encryption.
func NewKeyPair() (pub, priv [32]byte, err error) {
	pubPtr, privPtr, err := naclbox.GenerateKey(rand.Reader)
	if err != nil {
		return pub, priv, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return *pubPtr, *privPtr, nil
}

// Encrypt seals plaintext for the recipient, authenticated by the sender's
// secret key. A fresh nonce is drawn per call, so the same plaintext never
// produces the same envelope twice.
func Encrypt(plaintext string, recipientPub, senderPriv [32]byte) (string, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("rand.Read nonce: %w", err)
	}
	ct := naclbox.Seal(nil, []byte(plaintext), &nonce, &recipientPub, &senderPriv)
	return hex.EncodeToString(nonce[:]) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens an envelope produced by Encrypt. The split must yield
// exactly two non-empty hex segments before any cryptographic work is
// attempted.
func Decrypt(envelope string, senderPub, recipientPriv [32]byte) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrMalformedEnvelope
	}

	nonceBytes, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(nonceBytes) != NonceSize {
		return "", fmt.Errorf("%w: nonce is %d bytes, want %d", ErrMalformedEnvelope, len(nonceBytes), NonceSize)
	}

	ct, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], nonceBytes)

	plain, ok := naclbox.Open(nil, ct, &nonce, &senderPub, &recipientPriv)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}
