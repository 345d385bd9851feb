// Package candidates holds the model families the search can choose from.
//
// Every family satisfies model.Family and declares its model.Space. The
// scheduler and trainer only ever see the interface, so adding a family
// means adding a type here and listing it in Default.
package candidates

import (
	"sort"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
)

// Registry is an immutable, name-ordered set of families.
type Registry struct {
	families []model.Family
	byName   map[string]model.Family
}

// NewRegistry validates names and spaces and orders the families by name.
func NewRegistry(families ...model.Family) (*Registry, error) {
	r := &Registry{byName: make(map[string]model.Family, len(families))}
	for _, f := range families {
		name := f.Name()
		if name == "" {
			return nil, errors.NewConfigError("candidates", "family name must not be empty", nil)
		}
		if _, dup := r.byName[name]; dup {
			return nil, errors.NewConfigError("candidates", "duplicate family", name)
		}
		if err := f.Space().Validate(); err != nil {
			return nil, errors.Wrapf(err, "family %s", name)
		}
		r.byName[name] = f
		r.families = append(r.families, f)
	}
	sort.Slice(r.families, func(i, j int) bool { return r.families[i].Name() < r.families[j].Name() })
	return r, nil
}

// Default returns the built-in families.
func Default() *Registry {
	r, err := NewRegistry(
		Logistic{},
		Ridge{},
		DecisionTree{},
		RandomForest{},
		KNN{},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Families returns all families in name order.
func (r *Registry) Families() []model.Family {
	return append([]model.Family(nil), r.families...)
}

// For returns the families supporting task, in name order.
func (r *Registry) For(task model.Task) []model.Family {
	var out []model.Family
	for _, f := range r.families {
		if f.Supports(task) {
			out = append(out, f)
		}
	}
	return out
}

// Get looks a family up by name.
func (r *Registry) Get(name string) (model.Family, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Names lists family names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.families))
	for i, f := range r.families {
		names[i] = f.Name()
	}
	return names
}

// Only returns a registry restricted to names. An empty list keeps every
// family; an unknown name is a ConfigError.
func (r *Registry) Only(names ...string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	picked := make([]model.Family, 0, len(names))
	for _, n := range names {
		f, ok := r.byName[n]
		if !ok {
			return nil, errors.NewConfigError("candidates", "unknown family", n)
		}
		picked = append(picked, f)
	}
	return NewRegistry(picked...)
}
