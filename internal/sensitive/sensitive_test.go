package sensitive

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audittrail/pkg/apperrors"
)

func TestMaskDeterministic(t *testing.T) {
	m, err := New("test-key", false)
	require.NoError(t, err)

	d1, c1 := m.Mask("4111-1111-1111-1111")
	d2, c2 := m.Mask("4111-1111-1111-1111")

	assert.Equal(t, d1, d2, "digest must be deterministic per raw value")
	assert.True(t, IsMasked(d1))
	assert.Len(t, d1, len("masked:")+8)

	// Ciphertexts use random nonces so they differ per call.
	assert.NotEqual(t, c1, c2)
	assert.True(t, IsCiphertext(c1))
}

func TestMaskDistinctValues(t *testing.T) {
	m, err := New("test-key", false)
	require.NoError(t, err)

	d1, _ := m.Mask("alice@example.com")
	d2, _ := m.Mask("bob@example.com")
	assert.NotEqual(t, d1, d2)
}

func TestUnmaskRoundTrip(t *testing.T) {
	m, err := New("test-key", false)
	require.NoError(t, err)

	for _, raw := range []string{"", "secret", "müller-straße 7", "4111-1111-1111-1111"} {
		_, ciphertext := m.Mask(raw)
		require.True(t, IsCiphertext(ciphertext))
		plain, err := m.Unmask(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, raw, plain)
	}
}

func TestUnmaskRejectsForeignValues(t *testing.T) {
	m, err := New("test-key", false)
	require.NoError(t, err)

	_, err = m.Unmask("not-a-ciphertext")
	assert.Error(t, err)

	_, err = m.Unmask("enc:%%%")
	assert.Error(t, err)

	// Tampered payload must not decrypt.
	_, ciphertext := m.Mask("secret")
	tampered := ciphertext[:len(ciphertext)-2] + "xx"
	_, err = m.Unmask(tampered)
	assert.Error(t, err)
}

func TestNoKeyDegradesToDigestOnly(t *testing.T) {
	m, err := New("", false)
	require.NoError(t, err)

	digest, ciphertext := m.Mask("secret")
	assert.True(t, IsMasked(digest))
	assert.Empty(t, ciphertext)

	_, err = m.Unmask("enc:whatever")
	assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
}

func TestRequireCipherWithoutKey(t *testing.T) {
	_, err := New("", true)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
}

func TestKeysAreIndependent(t *testing.T) {
	m1, err := New("key-one", false)
	require.NoError(t, err)
	m2, err := New("key-two", false)
	require.NoError(t, err)

	_, ciphertext := m1.Mask("secret")
	_, err = m2.Unmask(ciphertext)
	assert.Error(t, err, "ciphertext from one key must not open under another")
}

func TestMaskConcurrentDigestOnly(t *testing.T) {
	// Digest-only maskers serve every request goroutine, warning log included.
	m, err := New("", false, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	want, _ := m.Mask("secret")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				digest, ciphertext := m.Mask("secret")
				if digest != want || ciphertext != "" {
					t.Errorf("Mask returned (%q, %q), want (%q, \"\")", digest, ciphertext, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}
