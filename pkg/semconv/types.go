// Semantic convention model types decoded from the registry YAML format
// Polymorphic YAML fields (type, requirement_level, examples) decode from yaml.Node
package semconv

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Type names that appear in the registry.
const (
	TypeString      = "string"
	TypeInt         = "int"
	TypeDouble      = "double"
	TypeBoolean     = "boolean"
	TypeStringSlice = "string[]"
	TypeIntSlice    = "int[]"
	TypeDoubleSlice = "double[]"
	TypeBoolSlice   = "boolean[]"
	TypeAny         = "any"
	TypeEnum        = "enum"
)

// AttributeType is a scalar type name, or TypeEnum with its members.
type AttributeType struct {
	Name    string
	Members []EnumMember
}

// UnmarshalYAML accepts "string"-style scalars and {members: [...]} mappings.
func (t *AttributeType) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		t.Name = node.Value
		return nil
	case yaml.MappingNode:
		var enum struct {
			Members []EnumMember `yaml:"members"`
		}
		if err := node.Decode(&enum); err != nil {
			return fmt.Errorf("attribute type members: %w", err)
		}
		t.Name = TypeEnum
		t.Members = enum.Members
		return nil
	default:
		return fmt.Errorf("attribute type: line %d: want scalar or mapping", node.Line)
	}
}

// MemberValues returns the string forms of the enum member values.
func (t AttributeType) MemberValues() []string {
	out := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		out = append(out, fmt.Sprint(m.Value))
	}
	return out
}

// EnumMember is one well-known value of an enum attribute.
type EnumMember struct {
	ID        string `yaml:"id"`
	Value     any    `yaml:"value"`
	Brief     string `yaml:"brief"`
	Stability string `yaml:"stability"`
}

// Requirement is an attribute's requirement level inside a group. Conditional
// levels carry their condition text.
type Requirement struct {
	Level     string
	Condition string
}

// UnmarshalYAML accepts "recommended"-style scalars and {conditionally_required: "..."} mappings.
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		r.Level = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) < 2 {
			return fmt.Errorf("requirement level: line %d: empty mapping", node.Line)
		}
		r.Level = node.Content[0].Value
		r.Condition = node.Content[1].Value
		return nil
	default:
		return fmt.Errorf("requirement level: line %d: want scalar or mapping", node.Line)
	}
}

// Examples holds example values; a scalar example decodes to one value.
type Examples []any

// UnmarshalYAML accepts a scalar or a sequence.
func (e *Examples) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var seq []any
		if err := node.Decode(&seq); err != nil {
			return fmt.Errorf("examples: %w", err)
		}
		*e = seq
		return nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("examples: %w", err)
	}
	*e = Examples{v}
	return nil
}

// Attribute is an attribute definition, or a reference to one when Ref is set.
type Attribute struct {
	ID          string        `yaml:"id"`
	Ref         string        `yaml:"ref"`
	Type        AttributeType `yaml:"type"`
	Brief       string        `yaml:"brief"`
	Stability   string        `yaml:"stability"`
	Examples    Examples      `yaml:"examples"`
	Deprecated  any           `yaml:"deprecated"`
	Requirement Requirement   `yaml:"requirement_level"`
}

// IsDeprecated reports whether the definition carries a deprecation notice.
func (a *Attribute) IsDeprecated() bool {
	return a.Deprecated != nil
}

// Group is an attribute group, metric, span or event definition.
type Group struct {
	ID         string      `yaml:"id"`
	Type       string      `yaml:"type"`
	Brief      string      `yaml:"brief"`
	Stability  string      `yaml:"stability"`
	Extends    string      `yaml:"extends"`
	SpanKind   string      `yaml:"span_kind"`
	MetricName string      `yaml:"metric_name"`
	Instrument string      `yaml:"instrument"`
	Unit       string      `yaml:"unit"`
	Name       string      `yaml:"name"`
	Attributes []Attribute `yaml:"attributes"`

	domain string
}

// Domain is the registry directory the group was loaded from.
func (g *Group) Domain() string {
	return g.domain
}
