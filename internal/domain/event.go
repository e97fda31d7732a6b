// Package domain holds the canonical audit event shapes shared by the diff
// engine, outbox, storage backends, and history queries.
package domain

import (
	"fmt"
	"strings"
	"time"

	"audittrail/pkg/requestcontext"
)

// EventKind discriminates what happened to the audited record.
type EventKind string

const (
	KindCreated EventKind = "created"
	KindUpdated EventKind = "updated"
	KindDeleted EventKind = "deleted"
)

// Relation discriminates how a changed field relates to other records.
type Relation string

const (
	RelationField      Relation = "field"
	RelationForeignKey Relation = "foreign_key"
	RelationOneToOne   Relation = "one_to_one"
	RelationReverse    Relation = "reverse_relation"
	RelationManyToMany Relation = "many_to_many"
)

// Identity is the composite key correlating snapshots, relation buffers, and
// outbox rows to the originating record. Stable for the lifetime of one
// mutation.
type Identity struct {
	Type string
	Key  string
}

func (id Identity) String() string {
	return id.Type + ":" + id.Key
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id.Type == "" && id.Key == ""
}

// ParseIdentity splits a "type:key" string back into an Identity. The key part
// may itself contain colons.
func ParseIdentity(s string) (Identity, error) {
	typ, key, ok := strings.Cut(s, ":")
	if !ok || typ == "" || key == "" {
		return Identity{}, fmt.Errorf("malformed object identity %q", s)
	}
	return Identity{Type: typ, Key: key}, nil
}

// RelatedRef describes a record referenced by a relation change.
type RelatedRef struct {
	Key     string `json:"key"`
	Display string `json:"display"`
	Type    string `json:"type"`
}

// Change is one field-level change descriptor. Scalar and single-valued
// relation changes carry Before/After; many-to-many changes carry
// Added/Removed. Sensitive changes additionally carry reversible ciphertexts
// while Before/After hold only the masked digest.
type Change struct {
	Field     string   `json:"field"`
	Label     string   `json:"label"`
	FieldType string   `json:"field_type"`
	Relation  Relation `json:"relation"`

	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`

	RelatedType string       `json:"related_type,omitempty"`
	Added       []RelatedRef `json:"added,omitempty"`
	Removed     []RelatedRef `json:"removed,omitempty"`

	EncryptedBefore string `json:"encrypted_before,omitempty"`
	EncryptedAfter  string `json:"encrypted_after,omitempty"`
}

// Diff maps field names to their change descriptors. Only fields that
// actually changed appear.
type Diff map[string]Change

// EventContext is the metadata captured alongside a diff: who acted and
// through which request.
type EventContext struct {
	Actor     *requestcontext.ActorPayload `json:"actor,omitempty"`
	Request   *requestcontext.RequestMeta  `json:"request,omitempty"`
	RequestID string                       `json:"request_id,omitempty"`
}

// Event is the immutable audit payload staged in the outbox and delivered to
// storage backends. EventID is assigned when the event is durably staged.
type Event struct {
	EventID    string                       `json:"event_id"`
	ObjectType string                       `json:"object_type"`
	ObjectID   string                       `json:"object_id"`
	Kind       EventKind                    `json:"event_kind"`
	Timestamp  time.Time                    `json:"timestamp"`
	Actor      *requestcontext.ActorPayload `json:"actor,omitempty"`
	Diff       Diff                         `json:"diff"`
	Context    EventContext                 `json:"context"`
	Summary    string                       `json:"summary"`
}

// Identity returns the object identity the event belongs to.
func (e Event) Identity() Identity {
	return Identity{Type: e.ObjectType, Key: e.ObjectID}
}
