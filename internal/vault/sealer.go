package vault

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/mailbridge/pkg/crypto"
)

// sealedPrefix versions stored ciphertexts so the derivation can change without ambiguity.
const sealedPrefix = "v1:"

// Sealer encrypts mailbox credentials with an AES-GCM key derived from the configured
// master key using Argon2id.
type Sealer struct {
	key []byte
}

type sealerConfig struct {
	params crypto.Argon2Parameters
	salt   []byte
}

// Option configures the sealer.
type Option func(*sealerConfig)

// WithSalt overrides the salt used for Argon2 key derivation.
func WithSalt(salt []byte) Option {
	cp := append([]byte(nil), salt...)
	return func(cfg *sealerConfig) {
		cfg.salt = cp
	}
}

// WithArgon2Parameters overrides the Argon2 parameters used during key derivation.
func WithArgon2Parameters(params crypto.Argon2Parameters) Option {
	return func(cfg *sealerConfig) {
		cfg.params = params
	}
}

// NewSealer derives the sealing key from masterKey.
func NewSealer(masterKey []byte, opts ...Option) (*Sealer, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("vault: master key is required")
	}

	cfg := sealerConfig{params: crypto.DefaultArgon2Params()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.salt) == 0 {
		sum := sha256.Sum256(masterKey)
		cfg.salt = sum[:crypto.MinSaltLength]
	}

	key, err := crypto.DeriveKeyArgon2id(masterKey, cfg.salt, cfg.params)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Encrypt seals plaintext and returns a versioned base64 payload.
func (s *Sealer) Encrypt(plaintext []byte) (string, error) {
	if s == nil || len(s.key) == 0 {
		return "", errors.New("vault: sealer is not initialised")
	}
	sealed, err := crypto.Encrypt(plaintext, s.key)
	if err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}
	return sealedPrefix + sealed, nil
}

// Decrypt opens a payload produced by Encrypt.
func (s *Sealer) Decrypt(payload string) ([]byte, error) {
	if s == nil || len(s.key) == 0 {
		return nil, errors.New("vault: sealer is not initialised")
	}
	body, ok := strings.CutPrefix(payload, sealedPrefix)
	if !ok {
		return nil, errors.New("vault: unsupported payload version")
	}
	plain, err := crypto.Decrypt(body, s.key)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt: %w", err)
	}
	return plain, nil
}
