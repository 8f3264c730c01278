// Package credentials stores per-project upstream API keys encrypted at
// rest and resolves them for the provider adapters.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/store"
)

// Cipher encrypts credential values with AES-256-GCM. The AES key is the
// SHA-256 of the configured secret; the random nonce is prepended to the
// ciphertext and the whole blob is base64 encoded.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("credentials: empty encryption secret")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("credentials: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: gcm init: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credentials: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("credentials: decode: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("credentials: blob too short")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("credentials: decrypt: %w", err)
	}
	return string(plain), nil
}

// Service manages project-scoped provider credentials. It implements
// providers.KeySource for the adapters.
type Service struct {
	store  store.CredentialStore
	cipher *Cipher
	log    *slog.Logger
}

func NewService(st store.CredentialStore, cipher *Cipher, log *slog.Logger) *Service {
	return &Service{store: st, cipher: cipher, log: log}
}

// Set validates and stores an encrypted provider key for a project.
func (s *Service) Set(ctx context.Context, projectID uuid.UUID, provider, apiKey string) error {
	if !slices.Contains(providers.SupportedProviders, provider) {
		return gwerr.Invalid(gwerr.CodeUnknownProvider, "unsupported provider %q", provider)
	}
	if apiKey == "" {
		return gwerr.Invalid(gwerr.CodeInvalidRequest, "api key must not be empty")
	}
	blob, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return err
	}
	return s.store.SetCredential(ctx, projectID, provider, blob)
}

// Delete removes a project's credential for a provider.
func (s *Service) Delete(ctx context.Context, projectID uuid.UUID, provider string) error {
	return s.store.DeleteCredential(ctx, projectID, provider)
}

// ProviderKey returns the decrypted project key for a provider, or "" when
// none is stored. An undecryptable blob is treated as absent so a rotated
// encryption secret degrades to global keys instead of failing requests.
func (s *Service) ProviderKey(ctx context.Context, projectID uuid.UUID, provider string) (string, error) {
	blob, err := s.store.Credential(ctx, projectID, provider)
	if err != nil {
		return "", err
	}
	if blob == "" {
		return "", nil
	}
	key, err := s.cipher.Decrypt(blob)
	if err != nil {
		s.log.Warn("credential_undecryptable",
			slog.String("project_id", projectID.String()),
			slog.String("provider", provider),
		)
		return "", nil
	}
	return key, nil
}
