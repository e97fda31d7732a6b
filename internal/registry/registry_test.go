package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackedFields(t *testing.T) {
	tests := []struct {
		name     string
		cfg      TypeConfig
		expected []string
	}{
		{
			name:     "fields only",
			cfg:      TypeConfig{Fields: []string{"amount", "status"}},
			expected: []string{"amount", "status"},
		},
		{
			name:     "sensitive appended after fields",
			cfg:      TypeConfig{Fields: []string{"amount"}, Sensitive: []string{"iban"}},
			expected: []string{"amount", "iban"},
		},
		{
			name:     "sensitive overlapping a field is not duplicated",
			cfg:      TypeConfig{Fields: []string{"amount", "iban"}, Sensitive: []string{"iban"}},
			expected: []string{"amount", "iban"},
		},
		{
			name:     "empty config",
			cfg:      TypeConfig{},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.TrackedFields())
		})
	}
}

func TestLabelFallback(t *testing.T) {
	cfg := TypeConfig{Labels: map[string]string{"amount": "Invoice amount"}}
	assert.Equal(t, "Invoice amount", cfg.Label("amount"))
	assert.Equal(t, "status", cfg.Label("status"))
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register("billing.invoice", TypeConfig{Fields: []string{"amount"}})

	cfg, ok := r.Get("billing.invoice")
	require.True(t, ok)
	assert.Equal(t, []string{"amount"}, cfg.Fields)

	assert.True(t, r.Tracked("billing.invoice"))
	assert.False(t, r.Tracked("billing.receipt"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.yaml")
	body := `
types:
  billing.invoice:
    fields: [amount, status]
    sensitive: [iban]
    m2m: [tags]
    labels:
      amount: Amount
  crm.contact:
    fields: [email]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	r := New()
	// In-code registration for the same label must win over the file entry.
	r.Register("crm.contact", TypeConfig{Fields: []string{"phone"}})
	require.NoError(t, r.LoadFile(path))

	inv, ok := r.Get("billing.invoice")
	require.True(t, ok)
	assert.Equal(t, []string{"amount", "status", "iban"}, inv.TrackedFields())
	assert.True(t, inv.IsSensitive("iban"))
	assert.True(t, inv.IsM2M("tags"))
	assert.Equal(t, "Amount", inv.Label("amount"))

	contact, _ := r.Get("crm.contact")
	assert.Equal(t, []string{"phone"}, contact.Fields)
}

func TestLoadFileMissing(t *testing.T) {
	r := New()
	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")))
}
