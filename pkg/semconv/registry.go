// Package semconv loads the semantic convention registry and checks emitted
// attributes against it: known key, matching value type.
package semconv

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	semconvdata "github.com/andrewh/genaitrace/third_party/semconv"
)

var (
	// ErrUnknownAttribute is returned by Check for keys the registry does not define.
	ErrUnknownAttribute = errors.New("attribute not defined by semantic conventions")
	// ErrTypeMismatch is returned by Check when the value type differs from the definition.
	ErrTypeMismatch = errors.New("attribute value type does not match definition")
)

// Registry indexes groups and attribute definitions.
type Registry struct {
	groups   []Group
	byGroup  map[string]*Group
	byAttr   map[string]*Attribute
	byMetric map[string]*Group
}

// Load parses every .yaml/.yml file in fsys. Files under a "deprecated"
// directory are skipped; the first directory names the group's domain.
func Load(fsys fs.FS) (*Registry, error) {
	var groups []Group
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "deprecated" {
				return fs.SkipDir
			}
			return nil
		}
		if ext := path.Ext(p); ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		var file struct {
			Groups []Group `yaml:"groups"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		domain, _, _ := strings.Cut(p, "/")
		if domain == p {
			domain = ""
		}
		for _, g := range file.Groups {
			g.domain = domain
			groups = append(groups, g)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading semantic conventions: %w", err)
	}
	return newRegistry(groups), nil
}

// LoadEmbedded loads the registry bundled with this module.
func LoadEmbedded() (*Registry, error) {
	sub, err := fs.Sub(semconvdata.ModelFS, "model")
	if err != nil {
		return nil, fmt.Errorf("opening embedded model: %w", err)
	}
	return Load(sub)
}

func newRegistry(groups []Group) *Registry {
	r := &Registry{
		groups:   groups,
		byGroup:  make(map[string]*Group, len(groups)),
		byAttr:   make(map[string]*Attribute),
		byMetric: make(map[string]*Group),
	}
	for i := range r.groups {
		g := &r.groups[i]
		r.byGroup[g.ID] = g
		if g.MetricName != "" {
			r.byMetric[g.MetricName] = g
		}
		for j := range g.Attributes {
			if a := &g.Attributes[j]; a.Ref == "" && a.ID != "" {
				r.byAttr[a.ID] = a
			}
		}
	}
	for i := range r.groups {
		for j := range r.groups[i].Attributes {
			r.resolve(&r.groups[i].Attributes[j])
		}
	}
	return r
}

// resolve fills a reference from its definition, keeping the reference's own
// requirement level and any non-empty brief.
func (r *Registry) resolve(a *Attribute) {
	if a.Ref == "" {
		return
	}
	def, ok := r.byAttr[a.Ref]
	a.ID = a.Ref
	if !ok {
		return
	}
	a.Type = def.Type
	a.Stability = def.Stability
	a.Examples = def.Examples
	a.Deprecated = def.Deprecated
	if a.Brief == "" {
		a.Brief = def.Brief
	}
}

// Attribute returns the definition of id, or nil.
func (r *Registry) Attribute(id string) *Attribute {
	return r.byAttr[id]
}

// Group returns the group with the given id, or nil.
func (r *Registry) Group(id string) *Group {
	return r.byGroup[id]
}

// Metric returns the metric group named name, or nil.
func (r *Registry) Metric(name string) *Group {
	return r.byMetric[name]
}

// Groups returns every loaded group.
func (r *Registry) Groups() []Group {
	return r.groups
}

// Attributes returns the definitions whose id starts with prefix, sorted by id.
func (r *Registry) Attributes(prefix string) []*Attribute {
	var out []*Attribute
	for id, a := range r.byAttr {
		if strings.HasPrefix(id, prefix) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b *Attribute) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Check verifies that kv is defined and carries a value of the defined type.
// Enum values outside the member list are accepted; enums are open sets.
func (r *Registry) Check(kv attribute.KeyValue) error {
	def := r.byAttr[string(kv.Key)]
	if def == nil {
		return fmt.Errorf("%s: %w", kv.Key, ErrUnknownAttribute)
	}
	if !typeMatches(def.Type, kv.Value.Type()) {
		return fmt.Errorf("%s: %w: want %s, got %s", kv.Key, ErrTypeMismatch, def.Type.Name, kv.Value.Type())
	}
	return nil
}

// CheckAll runs Check on every kv, skipping keys listed in allow, and joins the failures.
func (r *Registry) CheckAll(kvs []attribute.KeyValue, allow ...attribute.Key) error {
	var errs []error
	for _, kv := range kvs {
		if slices.Contains(allow, kv.Key) {
			continue
		}
		if err := r.Check(kv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func typeMatches(def AttributeType, got attribute.Type) bool {
	switch def.Name {
	case TypeAny:
		return true
	case TypeString:
		return got == attribute.STRING
	case TypeInt:
		return got == attribute.INT64
	case TypeDouble:
		return got == attribute.FLOAT64
	case TypeBoolean:
		return got == attribute.BOOL
	case TypeStringSlice:
		return got == attribute.STRINGSLICE
	case TypeIntSlice:
		return got == attribute.INT64SLICE
	case TypeDoubleSlice:
		return got == attribute.FLOAT64SLICE
	case TypeBoolSlice:
		return got == attribute.BOOLSLICE
	case TypeEnum:
		if len(def.Members) > 0 {
			if _, ok := def.Members[0].Value.(int); ok {
				return got == attribute.INT64
			}
		}
		return got == attribute.STRING
	default:
		return false
	}
}
