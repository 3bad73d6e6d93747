// Package vault stores per-endpoint secrets encrypted at rest.
//
// Secrets are sealed with ChaCha20-Poly1305 under a single process-wide
// key loaded at startup; the key is read-only afterwards and the AEAD is
// safe for concurrent use. Plaintext only ever leaves through Reveal,
// which is called from adapter invocation paths (scheduler cycles,
// validate/test). The HTTP layer holds no vault reference and endpoint
// responses carry only a has_credentials flag.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
)

// Store is the persistence surface the vault needs. The sqlite
// repository implements it; ciphertext is opaque to the store.
type Store interface {
	CreateSecret(ctx context.Context, handle string, ciphertext []byte) error
	GetSecret(ctx context.Context, handle string) ([]byte, error)
	UpdateSecret(ctx context.Context, handle string, ciphertext []byte) error
	DeleteSecret(ctx context.Context, handle string) error
}

// Error is returned for any secret failure: missing handle, corrupted
// ciphertext, storage fault. Callers treat it as a poll failure for the
// owning endpoint, never a crash.
type Error struct {
	Handle string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vault %s %s: %v", e.Op, e.Handle, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Vault encrypts and decrypts endpoint secrets.
type Vault struct {
	aead  cipher.AEAD
	store Store
}

// New creates a vault from a 32-byte key.
func New(key []byte, store Store) (*Vault, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("vault key: %w", err)
	}
	return &Vault{aead: aead, store: store}, nil
}

// Store encrypts a secret and persists it under a fresh handle.
func (v *Vault) Store(ctx context.Context, secret string) (string, error) {
	handle := uuid.NewString()
	ciphertext, err := v.seal(secret)
	if err != nil {
		return "", &Error{Handle: handle, Op: "store", Err: err}
	}
	if err := v.store.CreateSecret(ctx, handle, ciphertext); err != nil {
		return "", &Error{Handle: handle, Op: "store", Err: err}
	}
	return handle, nil
}

// Reveal decrypts the secret behind a handle.
func (v *Vault) Reveal(ctx context.Context, handle string) (string, error) {
	ciphertext, err := v.store.GetSecret(ctx, handle)
	if err != nil {
		return "", &Error{Handle: handle, Op: "reveal", Err: err}
	}
	plaintext, err := v.open(ciphertext)
	if err != nil {
		return "", &Error{Handle: handle, Op: "reveal", Err: err}
	}
	return plaintext, nil
}

// Rotate replaces the secret behind an existing handle. The handle
// stays valid so endpoint rows keep their reference.
func (v *Vault) Rotate(ctx context.Context, handle string, newSecret string) error {
	ciphertext, err := v.seal(newSecret)
	if err != nil {
		return &Error{Handle: handle, Op: "rotate", Err: err}
	}
	if err := v.store.UpdateSecret(ctx, handle, ciphertext); err != nil {
		return &Error{Handle: handle, Op: "rotate", Err: err}
	}
	return nil
}

// Delete removes the secret behind a handle.
func (v *Vault) Delete(ctx context.Context, handle string) error {
	if err := v.store.DeleteSecret(ctx, handle); err != nil {
		return &Error{Handle: handle, Op: "delete", Err: err}
	}
	return nil
}

func (v *Vault) seal(secret string) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, []byte(secret), nil), nil
}

func (v *Vault) open(ciphertext []byte) (string, error) {
	if len(ciphertext) < v.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext truncated")
	}
	nonce, sealed := ciphertext[:v.aead.NonceSize()], ciphertext[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
