package registry

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// fileSchema is the YAML layout for declarative registrations:
//
//	types:
//	  billing.invoice:
//	    fields: [amount, status]
//	    sensitive: [iban]
//	    m2m: [tags]
//	    labels:
//	      amount: Amount
type fileSchema struct {
	Types map[string]TypeConfig `yaml:"types"`
}

// LoadFile merges registrations from a YAML file into the registry. Existing
// in-code registrations win over file entries for the same type label.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read registry file: %w", err)
	}
	var parsed fileSchema
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse registry file %s: %w", path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for label, cfg := range parsed.Types {
		if _, exists := r.types[label]; exists {
			continue
		}
		r.types[label] = cfg
	}
	return nil
}
