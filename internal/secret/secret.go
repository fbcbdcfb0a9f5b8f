// Package secret encrypts credentials at rest with AES-256-GCM.
//
// Values are stored as "aesgcm:" followed by base64(iv || ciphertext). The key
// is generated on first use and kept next to the secrets in the state store.
// Values written by older releases (bare base64, no prefix) still decode but
// are reported as MigrationNeeded so the caller can re-save them.
package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dgnsrekt/readaloud/internal/store"
)

const (
	// Prefix marks values encrypted by this package.
	Prefix = "aesgcm:"

	// KeyName is the state key holding the encryption key.
	KeyName = "secret.key.v2"

	// NotNeeded is stored verbatim for servers without authentication.
	NotNeeded = "not-needed"

	keySize   = 32
	nonceSize = 12

	minLength = 8
	maxLength = 256
)

var (
	ErrTooShort   = fmt.Errorf("API key must be at least %d characters", minLength)
	ErrTooLong    = fmt.Errorf("API key must be at most %d characters", maxLength)
	ErrCorrupt    = errors.New("stored secret is corrupt")
	ErrBadKeySize = errors.New("stored encryption key has the wrong size")
)

// Kind tags a Result.
type Kind int

const (
	Absent Kind = iota
	Found
	MigrationNeeded
	Failed
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case MigrationNeeded:
		return "migration-needed"
	case Failed:
		return "failed"
	default:
		return "absent"
	}
}

// Result is the outcome of Get. Plaintext is set for Found and
// MigrationNeeded, Err for Failed.
type Result struct {
	Kind      Kind
	Plaintext string
	Err       error
}

// Store reads and writes encrypted values.
type Store struct {
	state store.StateStore

	mu  sync.Mutex
	key []byte
}

// New wraps a state store.
func New(state store.StateStore) *Store {
	return &Store{state: state}
}

// Get reads and decrypts name.
func (s *Store) Get(ctx context.Context, name string) Result {
	raw, ok, err := s.state.GetState(ctx, name)
	if err != nil {
		return Result{Kind: Failed, Err: err}
	}
	if !ok {
		return Result{Kind: Absent}
	}
	if raw == "" || raw == NotNeeded {
		return Result{Kind: Found, Plaintext: raw}
	}

	if !strings.HasPrefix(raw, Prefix) {
		plain, err := base64.StdEncoding.DecodeString(raw)
		if err != nil || !utf8.Valid(plain) {
			return Result{Kind: Failed, Err: ErrCorrupt}
		}
		return Result{Kind: MigrationNeeded, Plaintext: string(plain)}
	}

	key, err := s.loadKey(ctx, false)
	if err != nil {
		return Result{Kind: Failed, Err: err}
	}
	if key == nil {
		return Result{Kind: Failed, Err: fmt.Errorf("%w: encryption key missing", ErrCorrupt)}
	}

	plain, err := decrypt(key, strings.TrimPrefix(raw, Prefix))
	if err != nil {
		return Result{Kind: Failed, Err: err}
	}
	return Result{Kind: Found, Plaintext: plain}
}

// Set encrypts plaintext and stores it under name.
func (s *Store) Set(ctx context.Context, name, plaintext string) error {
	if plaintext == "" || plaintext == NotNeeded {
		return s.state.SetState(ctx, name, plaintext)
	}

	key, err := s.loadKey(ctx, true)
	if err != nil {
		return err
	}
	enc, err := encrypt(key, plaintext)
	if err != nil {
		return err
	}
	return s.state.SetState(ctx, name, Prefix+enc)
}

// Delete removes name.
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.state.DeleteState(ctx, name)
}

func (s *Store) loadKey(ctx context.Context, create bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		return s.key, nil
	}

	raw, ok, err := s.state.GetState(ctx, KeyName)
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption key: %w", err)
	}
	if ok {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKeySize, err)
		}
		if len(key) != keySize {
			return nil, ErrBadKeySize
		}
		s.key = key
		return key, nil
	}
	if !create {
		return nil, nil
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if err := s.state.SetState(ctx, KeyName, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to persist encryption key: %w", err)
	}
	s.key = key
	return key, nil
}

func encrypt(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func decrypt(key []byte, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(data) <= nonceSize {
		return "", ErrCorrupt
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// Validate checks an API key before it is saved.
func Validate(key string) error {
	if key == "" || key == NotNeeded {
		return nil
	}
	n := utf8.RuneCountInString(key)
	switch {
	case n < minLength:
		return ErrTooShort
	case n > maxLength:
		return ErrTooLong
	}
	return nil
}

// Mask hides all but the last four characters of key.
func Mask(key string) string {
	if key == "" || key == NotNeeded {
		return key
	}
	r := []rune(key)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
