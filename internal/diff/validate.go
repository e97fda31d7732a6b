package diff

import (
	"fmt"

	"audittrail/internal/domain"
	"audittrail/pkg/apperrors"
)

// Validate rejects malformed change descriptors before they reach the outbox.
// Many-to-many descriptors must carry Added and Removed as lists of records;
// every other kind must carry a before/after pair and no membership lists.
func Validate(d domain.Diff) error {
	for field, change := range d {
		if change.Field == "" {
			return malformed(field, "missing field name")
		}
		if change.Field != field {
			return malformed(field, fmt.Sprintf("descriptor is keyed under %q", change.Field))
		}
		switch change.Relation {
		case domain.RelationManyToMany:
			if change.Added == nil || change.Removed == nil {
				return malformed(field, "many-to-many descriptor requires added and removed lists")
			}
			for _, ref := range append(append([]domain.RelatedRef{}, change.Added...), change.Removed...) {
				if ref.Key == "" {
					return malformed(field, "related record without a key")
				}
			}
			if change.Before != nil || change.After != nil {
				return malformed(field, "many-to-many descriptor must not carry before/after")
			}
		case domain.RelationField, domain.RelationForeignKey, domain.RelationOneToOne, domain.RelationReverse:
			if len(change.Added) > 0 || len(change.Removed) > 0 {
				return malformed(field, "scalar descriptor must not carry membership lists")
			}
		default:
			return malformed(field, fmt.Sprintf("unknown relation kind %q", change.Relation))
		}
	}
	return nil
}

func malformed(field, reason string) error {
	return apperrors.New(apperrors.KindValidation,
		fmt.Sprintf("invalid diff entry for %s: %s", field, reason))
}
