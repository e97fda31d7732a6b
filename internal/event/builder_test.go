package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audittrail/internal/domain"
	"audittrail/pkg/requestcontext"
)

type failingResolver struct{}

func (failingResolver) Resolve(context.Context) (requestcontext.ActorPayload, error) {
	return requestcontext.ActorPayload{}, errors.New("ldap unavailable")
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, domain.Diff) (string, error) {
	return "", errors.New("summarizer down")
}

type slowSummarizer struct{}

func (slowSummarizer) Summarize(ctx context.Context, _ domain.Diff) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Second):
		return "too late", nil
	}
}

var testDiff = domain.Diff{
	"amount": {Field: "amount", Label: "amount", Relation: domain.RelationField, Before: 100, After: 150},
}

func TestBuildCarriesActorAndContext(t *testing.T) {
	builder := NewBuilder(NewRuleSummarizer())
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	ctx := requestcontext.WithTime(context.Background(), fixed)
	ctx = requestcontext.WithActor(ctx, requestcontext.ActorPayload{ID: "7", Username: "alice"})
	ctx = requestcontext.WithMeta(ctx, requestcontext.RequestMeta{IP: "10.0.0.9", Method: "POST", Path: "/invoices/42"})
	ctx = requestcontext.WithRequestID(ctx, "req-123")

	id := domain.Identity{Type: "billing.invoice", Key: "42"}
	evt := builder.Build(ctx, id, domain.KindUpdated, testDiff)

	assert.Empty(t, evt.EventID, "event id is assigned at staging time, not build time")
	assert.Equal(t, "billing.invoice", evt.ObjectType)
	assert.Equal(t, "42", evt.ObjectID)
	assert.Equal(t, domain.KindUpdated, evt.Kind)
	assert.Equal(t, fixed, evt.Timestamp)
	require.NotNil(t, evt.Actor)
	assert.Equal(t, "alice", evt.Actor.Username)
	require.NotNil(t, evt.Context.Request)
	assert.Equal(t, "10.0.0.9", evt.Context.Request.IP)
	assert.Equal(t, "req-123", evt.Context.RequestID)
	assert.Equal(t, "amount changed from 100 to 150.", evt.Summary)
}

func TestBuildResolverFailureDegradesToAbsentActor(t *testing.T) {
	builder := NewBuilder(NewRuleSummarizer(), WithActorResolver(failingResolver{}))
	evt := builder.Build(context.Background(), domain.Identity{Type: "billing.invoice", Key: "42"},
		domain.KindUpdated, testDiff)
	assert.Nil(t, evt.Actor)
}

func TestBuildSummarizerFailureUsesDefault(t *testing.T) {
	builder := NewBuilder(failingSummarizer{})
	evt := builder.Build(context.Background(), domain.Identity{Type: "billing.invoice", Key: "42"},
		domain.KindCreated, testDiff)
	assert.Equal(t, "Created billing.invoice 42", evt.Summary)
}

func TestBuildSummarizerTimeoutUsesDefault(t *testing.T) {
	builder := NewBuilder(slowSummarizer{}, WithSummaryTimeout(10*time.Millisecond))
	evt := builder.Build(context.Background(), domain.Identity{Type: "billing.invoice", Key: "42"},
		domain.KindDeleted, testDiff)
	assert.Equal(t, "Deleted billing.invoice 42", evt.Summary)
}

func TestRuleSummarizer(t *testing.T) {
	tests := []struct {
		name     string
		diff     domain.Diff
		expected string
	}{
		{
			name: "scalar change",
			diff: domain.Diff{
				"status": {Field: "status", Label: "Status", Relation: domain.RelationField, Before: "open", After: "paid"},
			},
			expected: "Status changed from open to paid.",
		},
		{
			name: "nil sides read as empty",
			diff: domain.Diff{
				"note": {Field: "note", Relation: domain.RelationField, After: "ping"},
			},
			expected: "note changed from empty to ping.",
		},
		{
			name: "related refs use display names",
			diff: domain.Diff{
				"customer": {
					Field: "customer", Label: "Customer", Relation: domain.RelationForeignKey,
					Before: domain.RelatedRef{Key: "7", Display: "ACME GmbH"},
					After:  domain.RelatedRef{Key: "9", Display: "9"},
				},
			},
			expected: "Customer changed from ACME GmbH to 9.",
		},
		{
			name: "many-to-many with display names",
			diff: domain.Diff{
				"tags": {
					Field: "tags", Label: "Tags", Relation: domain.RelationManyToMany,
					Added:   []domain.RelatedRef{{Key: "1", Display: "vip"}},
					Removed: []domain.RelatedRef{{Key: "2", Display: "trial"}},
				},
			},
			expected: "Tags updated: added vip, removed trial.",
		},
		{
			name: "anonymous refs collapse to counts",
			diff: domain.Diff{
				"tags": {
					Field: "tags", Label: "Tags", Relation: domain.RelationManyToMany,
					Added:   []domain.RelatedRef{{Key: "1", Display: "1"}, {Key: "2", Display: "2"}},
					Removed: []domain.RelatedRef{},
				},
			},
			expected: "Tags updated: added 2 entries.",
		},
		{
			name: "multiple fields ordered by name",
			diff: domain.Diff{
				"b_status": {Field: "b_status", Relation: domain.RelationField, Before: "open", After: "paid"},
				"a_amount": {Field: "a_amount", Relation: domain.RelationField, Before: 1, After: 2},
			},
			expected: "a_amount changed from 1 to 2. b_status changed from open to paid.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRuleSummarizer().Summarize(context.Background(), tt.diff)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
