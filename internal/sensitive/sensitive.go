// Package sensitive masks field values before they reach the outbox.
//
// Masking produces two representations: a deterministic one-way digest that is
// safe to display, and a best-effort reversible ciphertext for operators with
// key access. The digest never fails; the ciphertext is absent when no key
// material is configured.
package sensitive

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"audittrail/pkg/apperrors"
)

const (
	maskPrefix   = "masked:"
	cipherPrefix = "enc:"
	digestLen    = 8
)

// Masker turns raw sensitive values into masked digests and, when a key is
// configured, reversible ciphertexts.
type Masker struct {
	aead     cipher.AEAD
	logger   *slog.Logger
	warnOnce sync.Once
}

// Option configures the Masker.
type Option func(*Masker)

// WithLogger sets a logger for key-absence warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Masker) {
		m.logger = logger
	}
}

// New creates a Masker. rawKey may be empty: masking then degrades to
// digest-only output. requireCipher makes an empty key a configuration error
// instead, for deployments that refuse to trade completeness for availability.
func New(rawKey string, requireCipher bool, opts ...Option) (*Masker, error) {
	m := &Masker{}
	for _, opt := range opts {
		opt(m)
	}
	if rawKey == "" {
		if requireCipher {
			return nil, apperrors.New(apperrors.KindConfiguration,
				"sensitive cipher key required but not configured")
		}
		return m, nil
	}
	// Any passphrase works as key material; derive a fixed-size key from it.
	derived := sha256.Sum256([]byte(rawKey))
	aead, err := chacha20poly1305.NewX(derived[:])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, "init sensitive cipher", err)
	}
	m.aead = aead
	return m, nil
}

// Mask returns the masked digest for value and, when a cipher is configured,
// the reversible ciphertext. The digest is deterministic per raw value so
// unchanged-but-sensitive fields remain detectable without exposing content.
func (m *Masker) Mask(value string) (digest string, ciphertext string) {
	sum := sha256.Sum256([]byte(value))
	digest = maskPrefix + hex.EncodeToString(sum[:])[:digestLen]

	if m.aead == nil {
		if m.logger != nil {
			m.warnOnce.Do(func() {
				m.logger.Warn("sensitive cipher key not configured; storing masked digest only")
			})
		}
		return digest, ""
	}

	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		// Never fail the diff over masking; fall back to digest-only.
		if m.logger != nil {
			m.logger.Warn("sensitive encryption failed; storing masked digest only", "error", err)
		}
		return digest, ""
	}
	sealed := m.aead.Seal(nonce, nonce, []byte(value), nil)
	return digest, cipherPrefix + base64.RawURLEncoding.EncodeToString(sealed)
}

// Unmask decrypts a ciphertext produced by Mask, returning the original raw
// value.
func (m *Masker) Unmask(ciphertext string) (string, error) {
	if m.aead == nil {
		return "", apperrors.New(apperrors.KindConfiguration,
			"sensitive cipher key not configured")
	}
	if !strings.HasPrefix(ciphertext, cipherPrefix) {
		return "", fmt.Errorf("value is not an audit ciphertext")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ciphertext, cipherPrefix))
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < m.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:m.aead.NonceSize()], raw[m.aead.NonceSize():]
	plain, err := m.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt sensitive value: %w", err)
	}
	return string(plain), nil
}

// IsMasked reports whether the value carries the masked digest prefix.
func IsMasked(value string) bool {
	return strings.HasPrefix(value, maskPrefix)
}

// IsCiphertext reports whether the value carries the ciphertext prefix.
func IsCiphertext(value string) bool {
	return strings.HasPrefix(value, cipherPrefix)
}
