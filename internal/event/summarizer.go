package event

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"audittrail/internal/domain"
)

// Summarizer renders a human-readable summary for a diff. Implementations may
// be rule-based or call out to a generation service; the builder bounds the
// call with a timeout and substitutes a default string on error, so
// implementations never need their own fallback.
type Summarizer interface {
	Summarize(ctx context.Context, diff domain.Diff) (string, error)
}

// RuleSummarizer renders one sentence per changed field from fixed phrase
// templates.
type RuleSummarizer struct{}

// NewRuleSummarizer returns the default rule-based summarizer.
func NewRuleSummarizer() *RuleSummarizer {
	return &RuleSummarizer{}
}

// Summarize joins per-field sentences in field-name order for determinism.
func (s *RuleSummarizer) Summarize(_ context.Context, diff domain.Diff) (string, error) {
	fields := make([]string, 0, len(diff))
	for field := range diff {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	sentences := make([]string, 0, len(fields))
	for _, field := range fields {
		sentences = append(sentences, describeChange(diff[field]))
	}
	return strings.Join(sentences, " "), nil
}

func describeChange(change domain.Change) string {
	subject := change.Label
	if subject == "" {
		subject = change.Field
	}

	if change.Relation == domain.RelationManyToMany {
		fragments := make([]string, 0, 2)
		if len(change.Added) > 0 {
			fragments = append(fragments, "added "+formatRefs(change.Added))
		}
		if len(change.Removed) > 0 {
			fragments = append(fragments, "removed "+formatRefs(change.Removed))
		}
		if len(fragments) == 0 {
			fragments = append(fragments, "no membership changes")
		}
		return fmt.Sprintf("%s updated: %s.", subject, strings.Join(fragments, ", "))
	}

	before := formatValue(change.Before)
	after := formatValue(change.After)
	if before == after {
		return fmt.Sprintf("%s remained %s.", subject, after)
	}
	return fmt.Sprintf("%s changed from %s to %s.", subject, before, after)
}

func formatRefs(refs []domain.RelatedRef) string {
	named := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Display != "" && ref.Display != ref.Key {
			named = append(named, ref.Display)
		}
	}
	if len(named) == len(refs) {
		return strings.Join(named, ", ")
	}
	// Anonymous references collapse into a count so summaries stay readable.
	noun := "entry"
	if len(refs) != 1 {
		noun = inflection.Plural(noun)
	}
	return fmt.Sprintf("%d %s", len(refs), noun)
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "empty"
	case string:
		if v == "" {
			return "empty"
		}
		return v
	case domain.RelatedRef:
		if v.Display != "" {
			return v.Display
		}
		return v.Key
	default:
		return fmt.Sprintf("%v", v)
	}
}
