package diff

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"

	"audittrail/internal/domain"
	"audittrail/internal/registry"
	"audittrail/internal/sensitive"
	"audittrail/pkg/sentinel"
)

// FieldMeta describes a tracked field beyond its name: its display type, how
// it relates to other records, and for relations, which type it points at.
type FieldMeta struct {
	Type        string
	Relation    domain.Relation
	RelatedType string
}

// Schema supplies field metadata per tracked type. Types without a schema fall
// back to scalar fields with value-derived display types.
type Schema interface {
	FieldMeta(typeLabel, field string) (FieldMeta, bool)
}

// RelatedResolver looks up referenced records so relation changes can carry a
// display representation. Implementations return sentinel.ErrNotFound for
// vanished rows; the engine degrades those to a key-only reference rather than
// failing the diff.
type RelatedResolver interface {
	Resolve(ctx context.Context, relatedType, key string) (domain.RelatedRef, error)
}

// Engine computes normalized diffs for tracked mutations.
type Engine struct {
	schema   Schema
	resolver RelatedResolver
	masker   *sensitive.Masker
}

// NewEngine creates a diff engine. schema and resolver may be nil; masker must
// not be.
func NewEngine(schema Schema, resolver RelatedResolver, masker *sensitive.Masker) *Engine {
	return &Engine{schema: schema, resolver: resolver, masker: masker}
}

// Compute diffs before against after for every tracked field of cfg and
// returns the change descriptors for fields that differ. For deletes, after is
// ignored and every tracked field present in before emits a descriptor with a
// nil after.
func (e *Engine) Compute(
	ctx context.Context,
	id domain.Identity,
	cfg registry.TypeConfig,
	before, after map[string]any,
	kind domain.EventKind,
) domain.Diff {
	diff := make(domain.Diff)
	for _, field := range cfg.TrackedFields() {
		var (
			oldValue, newValue any
			oldOK, newOK       bool
		)
		if before != nil {
			oldValue, oldOK = before[field]
		}
		if after != nil {
			newValue, newOK = after[field]
		}

		if kind == domain.KindDeleted {
			if !oldOK {
				continue
			}
			newValue = nil
		} else {
			if !newOK {
				continue
			}
			if kind == domain.KindCreated {
				oldValue = nil
			}
			if cmp.Equal(normalize(oldValue), normalize(newValue)) {
				continue
			}
		}

		diff[field] = e.describeScalar(ctx, id, cfg, field, oldValue, newValue)
	}
	return diff
}

// ComputeRelations resolves accumulated multi-relation deltas into
// many-to-many change descriptors, sorted by key for determinism.
func (e *Engine) ComputeRelations(
	ctx context.Context,
	id domain.Identity,
	cfg registry.TypeConfig,
	deltas map[string]RelationDelta,
) domain.Diff {
	diff := make(domain.Diff, len(deltas))
	for field, delta := range deltas {
		if delta.Empty() {
			continue
		}
		label := delta.Label
		if label == "" {
			label = cfg.Label(field)
		}
		fieldType := "many_to_many"
		if meta, ok := e.fieldMeta(id.Type, field); ok && meta.Type != "" {
			fieldType = meta.Type
		}
		diff[field] = domain.Change{
			Field:       field,
			Label:       label,
			FieldType:   fieldType,
			Relation:    domain.RelationManyToMany,
			RelatedType: delta.RelatedType,
			Added:       e.resolveRefs(ctx, delta.RelatedType, delta.Added),
			Removed:     e.resolveRefs(ctx, delta.RelatedType, delta.Removed),
		}
	}
	return diff
}

func (e *Engine) describeScalar(
	ctx context.Context,
	id domain.Identity,
	cfg registry.TypeConfig,
	field string,
	oldValue, newValue any,
) domain.Change {
	meta, hasMeta := e.fieldMeta(id.Type, field)
	relation := domain.RelationField
	if hasMeta && meta.Relation != "" {
		relation = meta.Relation
	}

	change := domain.Change{
		Field:    field,
		Label:    cfg.Label(field),
		Relation: relation,
	}
	if hasMeta && meta.Type != "" {
		change.FieldType = meta.Type
	} else {
		change.FieldType = displayType(newValue, oldValue)
	}

	if cfg.IsSensitive(field) {
		if oldValue != nil {
			digest, ciphertext := e.masker.Mask(stringify(oldValue))
			oldValue = digest
			change.EncryptedBefore = ciphertext
		}
		if newValue != nil {
			digest, ciphertext := e.masker.Mask(stringify(newValue))
			newValue = digest
			change.EncryptedAfter = ciphertext
		}
		change.Before = oldValue
		change.After = newValue
		return change
	}

	if relation != domain.RelationField && relation != domain.RelationManyToMany {
		change.RelatedType = meta.RelatedType
		change.Before = e.resolveValue(ctx, meta.RelatedType, oldValue)
		change.After = e.resolveValue(ctx, meta.RelatedType, newValue)
		return change
	}

	change.Before = normalize(oldValue)
	change.After = normalize(newValue)
	return change
}

// resolveValue turns a relation key into a RelatedRef. Vanished rows degrade
// to a key-only reference.
func (e *Engine) resolveValue(ctx context.Context, relatedType string, value any) any {
	if value == nil {
		return nil
	}
	if ref, ok := value.(domain.RelatedRef); ok {
		return ref
	}
	key := stringify(value)
	if e.resolver != nil {
		ref, err := e.resolver.Resolve(ctx, relatedType, key)
		if err == nil {
			return ref
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			// Lookup failures degrade the same way: never fail the diff.
			return domain.RelatedRef{Key: key, Display: key, Type: relatedType}
		}
	}
	return domain.RelatedRef{Key: key, Display: key, Type: relatedType}
}

func (e *Engine) resolveRefs(ctx context.Context, relatedType string, keys map[string]struct{}) []domain.RelatedRef {
	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	refs := make([]domain.RelatedRef, 0, len(sorted))
	for _, key := range sorted {
		refs = append(refs, e.resolveValue(ctx, relatedType, key).(domain.RelatedRef))
	}
	return refs
}

func (e *Engine) fieldMeta(typeLabel, field string) (FieldMeta, bool) {
	if e.schema == nil {
		return FieldMeta{}, false
	}
	return e.schema.FieldMeta(typeLabel, field)
}

// normalize maps numeric values onto float64 so int(100) and float64(100)
// compare equal, matching JSON round-trip behavior.
func normalize(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return value
	}
}

func displayType(values ...any) string {
	for _, v := range values {
		switch v.(type) {
		case nil:
			continue
		case string:
			return "string"
		case bool:
			return "bool"
		case int, int32, int64, float32, float64:
			return "number"
		case map[string]any:
			return "json"
		case []any:
			return "list"
		default:
			return fmt.Sprintf("%T", v)
		}
	}
	return "unknown"
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
