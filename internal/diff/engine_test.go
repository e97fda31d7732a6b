package diff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audittrail/internal/domain"
	"audittrail/internal/registry"
	"audittrail/internal/sensitive"
	"audittrail/pkg/sentinel"
)

type staticSchema map[string]FieldMeta

func (s staticSchema) FieldMeta(_, field string) (FieldMeta, bool) {
	meta, ok := s[field]
	return meta, ok
}

type staticResolver map[string]domain.RelatedRef

func (r staticResolver) Resolve(_ context.Context, relatedType, key string) (domain.RelatedRef, error) {
	if ref, ok := r[relatedType+":"+key]; ok {
		return ref, nil
	}
	return domain.RelatedRef{}, sentinel.ErrNotFound
}

func newTestEngine(t *testing.T, schema Schema, resolver RelatedResolver) *Engine {
	t.Helper()
	masker, err := sensitive.New("unit-test-key", false)
	require.NoError(t, err)
	return NewEngine(schema, resolver, masker)
}

func TestComputeEmitsOnlyChangedFields(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	cfg := registry.TypeConfig{Fields: []string{"amount", "status", "note"}}
	id := domain.Identity{Type: "billing.invoice", Key: "42"}

	before := map[string]any{"amount": 100, "status": "open", "note": "x"}
	after := map[string]any{"amount": 150, "status": "open", "note": "x"}

	diff := engine.Compute(context.Background(), id, cfg, before, after, domain.KindUpdated)
	require.Len(t, diff, 1)

	change := diff["amount"]
	assert.Equal(t, domain.RelationField, change.Relation)
	assert.Equal(t, float64(100), change.Before)
	assert.Equal(t, float64(150), change.After)
	assert.Equal(t, "amount", change.Label)
}

func TestComputeNumericNormalization(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	cfg := registry.TypeConfig{Fields: []string{"amount"}}
	id := domain.Identity{Type: "billing.invoice", Key: "42"}

	// int before, float64 after (a JSON round-trip artifact) is not a change.
	diff := engine.Compute(context.Background(), id, cfg,
		map[string]any{"amount": 100},
		map[string]any{"amount": float64(100)},
		domain.KindUpdated)
	assert.Empty(t, diff)
}

func TestComputeCreated(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	cfg := registry.TypeConfig{Fields: []string{"amount"}}
	id := domain.Identity{Type: "billing.invoice", Key: "42"}

	diff := engine.Compute(context.Background(), id, cfg, nil,
		map[string]any{"amount": 100}, domain.KindCreated)
	require.Len(t, diff, 1)
	assert.Nil(t, diff["amount"].Before)
	assert.Equal(t, float64(100), diff["amount"].After)
}

func TestComputeDeletedEmitsUnconditionally(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	cfg := registry.TypeConfig{Fields: []string{"amount", "status"}}
	id := domain.Identity{Type: "billing.invoice", Key: "42"}

	diff := engine.Compute(context.Background(), id, cfg,
		map[string]any{"amount": 100, "status": "open"}, nil, domain.KindDeleted)
	require.Len(t, diff, 2)
	assert.Equal(t, float64(100), diff["amount"].Before)
	assert.Nil(t, diff["amount"].After)
	assert.Equal(t, "open", diff["status"].Before)
	assert.Nil(t, diff["status"].After)
}

func TestComputeSensitiveMasking(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	cfg := registry.TypeConfig{Fields: []string{"amount"}, Sensitive: []string{"iban"}}
	id := domain.Identity{Type: "billing.invoice", Key: "42"}

	diff := engine.Compute(context.Background(), id, cfg,
		map[string]any{"iban": "DE02 1203 0000"},
		map[string]any{"iban": "DE02 5001 0517"},
		domain.KindUpdated)
	require.Len(t, diff, 1)

	change := diff["iban"]
	require.IsType(t, "", change.Before)
	assert.True(t, sensitive.IsMasked(change.Before.(string)))
	assert.True(t, sensitive.IsMasked(change.After.(string)))
	assert.NotEqual(t, change.Before, change.After)
	assert.True(t, sensitive.IsCiphertext(change.EncryptedBefore))
	assert.True(t, sensitive.IsCiphertext(change.EncryptedAfter))
}

func TestComputeSensitiveNilSidesStayNil(t *testing.T) {
	engine := newTestEngine(t, nil, nil)
	cfg := registry.TypeConfig{Sensitive: []string{"iban"}}
	id := domain.Identity{Type: "billing.invoice", Key: "42"}

	diff := engine.Compute(context.Background(), id, cfg, nil,
		map[string]any{"iban": "DE02"}, domain.KindCreated)
	require.Len(t, diff, 1)
	assert.Nil(t, diff["iban"].Before)
	assert.Empty(t, diff["iban"].EncryptedBefore)
	assert.NotEmpty(t, diff["iban"].EncryptedAfter)
}

func TestComputeForeignKeyResolution(t *testing.T) {
	schema := staticSchema{
		"customer": {Type: "reference", Relation: domain.RelationForeignKey, RelatedType: "crm.customer"},
	}
	resolver := staticResolver{
		"crm.customer:7": {Key: "7", Display: "ACME GmbH", Type: "crm.customer"},
	}
	engine := newTestEngine(t, schema, resolver)
	cfg := registry.TypeConfig{Fields: []string{"customer"}}
	id := domain.Identity{Type: "billing.invoice", Key: "42"}

	diff := engine.Compute(context.Background(), id, cfg,
		map[string]any{"customer": "7"},
		map[string]any{"customer": "9"},
		domain.KindUpdated)
	require.Len(t, diff, 1)

	change := diff["customer"]
	assert.Equal(t, domain.RelationForeignKey, change.Relation)
	assert.Equal(t, domain.RelatedRef{Key: "7", Display: "ACME GmbH", Type: "crm.customer"}, change.Before)
	// Vanished rows degrade to a key-only reference.
	assert.Equal(t, domain.RelatedRef{Key: "9", Display: "9", Type: "crm.customer"}, change.After)
}

func TestComputeRelationsSortedByKey(t *testing.T) {
	engine := newTestEngine(t, nil, staticResolver{
		"crm.tag:1": {Key: "1", Display: "vip", Type: "crm.tag"},
		"crm.tag:2": {Key: "2", Display: "late-payer", Type: "crm.tag"},
	})
	cfg := registry.TypeConfig{M2M: []string{"tags"}}
	id := domain.Identity{Type: "crm.contact", Key: "5"}

	deltas := map[string]RelationDelta{
		"tags": {
			Added:       map[string]struct{}{"2": {}, "1": {}},
			Removed:     map[string]struct{}{},
			RelatedType: "crm.tag",
		},
	}
	diff := engine.ComputeRelations(context.Background(), id, cfg, deltas)
	require.Len(t, diff, 1)

	change := diff["tags"]
	assert.Equal(t, domain.RelationManyToMany, change.Relation)
	require.Len(t, change.Added, 2)
	assert.Equal(t, "1", change.Added[0].Key)
	assert.Equal(t, "2", change.Added[1].Key)
	assert.Empty(t, change.Removed)
	assert.NotNil(t, change.Removed)
}

func TestArenaCaptureConsume(t *testing.T) {
	arena := NewArena(time.Minute)
	id := domain.Identity{Type: "billing.invoice", Key: "42"}

	arena.Capture(id, map[string]any{"amount": 100})
	snapshot, ok := arena.Consume(id)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"amount": 100}, snapshot)

	// Consumed exactly once.
	_, ok = arena.Consume(id)
	assert.False(t, ok)
}

func TestArenaSweepReclaimsExpiredOnly(t *testing.T) {
	arena := NewArena(time.Minute)
	arena.Capture(domain.Identity{Type: "a", Key: "1"}, map[string]any{})
	arena.Capture(domain.Identity{Type: "a", Key: "2"}, map[string]any{})

	assert.Equal(t, 0, arena.Sweep(time.Now()))
	assert.Equal(t, 2, arena.Len())

	assert.Equal(t, 2, arena.Sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, arena.Len())
}
