package contributions

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry is a read-only, effective-dated collection of table sets.
type Registry struct {
	sets []TableSet
}

type fileFormat struct {
	Sets []TableSet `yaml:"sets"`
}

func NewRegistry(sets ...TableSet) (*Registry, error) {
	seen := make(map[string]struct{}, len(sets))
	out := make([]TableSet, 0, len(sets))
	for _, set := range sets {
		if err := set.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[set.Version]; dup {
			return nil, fmt.Errorf("duplicate table set version %s", set.Version)
		}
		seen[set.Version] = struct{}{}
		out = append(out, set)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
	})
	return &Registry{sets: out}, nil
}

// LoadFile parses a YAML document with a top-level "sets" list.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse contribution tables: %w", err)
	}
	if len(doc.Sets) == 0 {
		return nil, fmt.Errorf("parse contribution tables: %w", ErrNoTables)
	}
	return NewRegistry(doc.Sets...)
}

// For returns the latest set effective on or before date.
func (r *Registry) For(date time.Time) (TableSet, error) {
	if r == nil {
		return TableSet{}, ErrNoTables
	}
	idx := sort.Search(len(r.sets), func(i int) bool {
		return r.sets[i].EffectiveFrom.After(date)
	})
	if idx == 0 {
		return TableSet{}, fmt.Errorf("%s: %w", date.Format("2006-01-02"), ErrNoTables)
	}
	return r.sets[idx-1], nil
}

func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.sets))
	for _, set := range r.sets {
		out = append(out, set.Version)
	}
	return out
}
