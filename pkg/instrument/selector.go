// Interception point selection gated by a one-time module version check
// Incompatible, unknown or unparsable versions disable every point; the host call then runs unwrapped
package instrument

import (
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"
	"go.opentelemetry.io/otel"
)

// ErrIncompatible is returned when a module version falls outside the supported range.
var ErrIncompatible = errors.New("module version outside supported range")

// Module identifies an instrumented library and its installed version.
type Module struct {
	Path    string
	Version string
}

func (m Module) String() string {
	if m.Version == "" {
		return m.Path
	}
	return m.Path + "@" + m.Version
}

// ModuleFromBuildInfo returns the version of the dependency at path as
// recorded in the running binary, following replace directives.
func ModuleFromBuildInfo(path string) (Module, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Module{Path: path}, fmt.Errorf("module %s: build information not available", path)
	}
	return moduleFromDeps(path, info.Main, info.Deps)
}

func moduleFromDeps(path string, main debug.Module, deps []*debug.Module) (Module, error) {
	if main.Path == path {
		return Module{Path: path, Version: main.Version}, nil
	}
	for _, d := range deps {
		if d.Path != path {
			continue
		}
		if d.Replace != nil && d.Replace.Version != "" {
			return Module{Path: path, Version: d.Replace.Version}, nil
		}
		return Module{Path: path, Version: d.Version}, nil
	}
	return Module{Path: path}, fmt.Errorf("module %s is not a dependency of this binary", path)
}

// bound is one end of an interval; a nil version is unbounded.
type bound struct {
	v         *version.Version
	inclusive bool
}

type interval struct {
	lower, upper bound
}

func (iv interval) contains(v *version.Version) bool {
	if lo := iv.lower; lo.v != nil {
		if c := v.Compare(lo.v); c < 0 || (c == 0 && !lo.inclusive) {
			return false
		}
	}
	if hi := iv.upper; hi.v != nil {
		if c := v.Compare(hi.v); c > 0 || (c == 0 && !hi.inclusive) {
			return false
		}
	}
	return true
}

// VersionRange is a set of supported versions, written either in interval
// notation ("[1.0,2.0)", "(,1.0],[1.2,)", "[1.0.0.3]", "(,)") or as
// comma-separated constraints (">= 1.0, < 2.0").
type VersionRange struct {
	expr        string
	intervals   []interval
	constraints version.Constraints
}

// ParseVersionRange parses a Maven interval list or a constraint list.
func ParseVersionRange(expr string) (VersionRange, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return VersionRange{}, errors.New("empty version range")
	}
	if expr[0] != '[' && expr[0] != '(' {
		c, err := version.NewConstraint(expr)
		if err != nil {
			return VersionRange{}, fmt.Errorf("parsing version constraint %q: %w", expr, err)
		}
		return VersionRange{expr: expr, constraints: c}, nil
	}

	r := VersionRange{expr: expr}
	rest := expr
	for rest != "" {
		if rest[0] != '[' && rest[0] != '(' {
			return VersionRange{}, fmt.Errorf("version range %q: expected '[' or '(' at %q", expr, rest)
		}
		end := strings.IndexAny(rest, "])")
		if end < 0 {
			return VersionRange{}, fmt.Errorf("version range %q: unterminated interval", expr)
		}
		iv, err := parseInterval(rest[0], rest[1:end], rest[end])
		if err != nil {
			return VersionRange{}, fmt.Errorf("version range %q: %w", expr, err)
		}
		r.intervals = append(r.intervals, iv)

		rest = strings.TrimSpace(rest[end+1:])
		if strings.HasPrefix(rest, ",") {
			rest = strings.TrimSpace(rest[1:])
			if rest == "" {
				return VersionRange{}, fmt.Errorf("version range %q: trailing comma", expr)
			}
		} else if rest != "" {
			return VersionRange{}, fmt.Errorf("version range %q: expected ',' at %q", expr, rest)
		}
	}
	return r, nil
}

func parseInterval(open byte, body string, closing byte) (interval, error) {
	lo, hi, hasComma := strings.Cut(body, ",")
	if !hasComma {
		if open != '[' || closing != ']' {
			return interval{}, fmt.Errorf("single version %q must use [v]", body)
		}
		v, err := version.NewVersion(strings.TrimSpace(body))
		if err != nil {
			return interval{}, err
		}
		return interval{lower: bound{v, true}, upper: bound{v, true}}, nil
	}

	var iv interval
	var err error
	if iv.lower, err = parseBound(lo, open == '['); err != nil {
		return interval{}, err
	}
	if iv.upper, err = parseBound(hi, closing == ']'); err != nil {
		return interval{}, err
	}
	if iv.lower.v != nil && iv.upper.v != nil && iv.lower.v.GreaterThan(iv.upper.v) {
		return interval{}, fmt.Errorf("lower bound %s above upper bound %s", iv.lower.v, iv.upper.v)
	}
	return iv, nil
}

func parseBound(s string, inclusive bool) (bound, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return bound{}, nil
	}
	v, err := version.NewVersion(s)
	if err != nil {
		return bound{}, err
	}
	return bound{v: v, inclusive: inclusive}, nil
}

// Contains reports whether v is in the range.
func (r VersionRange) Contains(v *version.Version) bool {
	if r.constraints != nil {
		return r.constraints.Check(v)
	}
	return slices.ContainsFunc(r.intervals, func(iv interval) bool { return iv.contains(v) })
}

// Check verifies that the module's version is in the range.
func (r VersionRange) Check(m Module) error {
	if m.Version == "" {
		return fmt.Errorf("%s: unknown version", m.Path)
	}
	v, err := version.NewVersion(m.Version)
	if err != nil {
		return fmt.Errorf("%s: parsing version: %w", m, err)
	}
	if !r.Contains(v) {
		return fmt.Errorf("%s not in %s: %w", m, r, ErrIncompatible)
	}
	return nil
}

func (r VersionRange) String() string {
	return r.expr
}

// InterceptionPoint names a method eligible for wrapping.
type InterceptionPoint struct {
	Type             string
	Method           string
	ReturnsPublisher bool
}

func (p InterceptionPoint) String() string {
	return p.Type + "." + p.Method
}

// Interception points of genai.ChatModel.
var (
	ChatModelCall   = InterceptionPoint{Type: "genai.ChatModel", Method: "Call"}
	ChatModelStream = InterceptionPoint{Type: "genai.ChatModel", Method: "Stream", ReturnsPublisher: true}
)

// Selector decides once whether its interception points are enabled. The
// verdict is computed on first use and cached for the selector's lifetime.
type Selector struct {
	resolve   func() (Module, error)
	rangeSpec string
	points    []InterceptionPoint
	handle    func(error)

	once   sync.Once
	module Module
	err    error
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithErrorHandler sets where a failed check is reported. Defaults to otel.Handle.
func WithErrorHandler(h func(error)) SelectorOption {
	return func(s *Selector) { s.handle = h }
}

// NewSelector returns a selector for a module whose version is already known.
func NewSelector(m Module, rangeSpec string, points []InterceptionPoint, opts ...SelectorOption) *Selector {
	return newSelector(func() (Module, error) { return m, nil }, rangeSpec, points, opts)
}

// NewBuildInfoSelector returns a selector that looks up the version of the
// module at path in the running binary's build information.
func NewBuildInfoSelector(path, rangeSpec string, points []InterceptionPoint, opts ...SelectorOption) *Selector {
	return newSelector(func() (Module, error) { return ModuleFromBuildInfo(path) }, rangeSpec, points, opts)
}

func newSelector(resolve func() (Module, error), rangeSpec string, points []InterceptionPoint, opts []SelectorOption) *Selector {
	s := &Selector{
		resolve:   resolve,
		rangeSpec: rangeSpec,
		points:    slices.Clone(points),
		handle:    otel.Handle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Selector) check() {
	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("instrument: version check panic: %v", r)
		}
		if s.err != nil && s.handle != nil {
			s.handle(fmt.Errorf("instrumentation disabled: %w", s.err))
		}
	}()

	m, err := s.resolve()
	s.module = m
	if err != nil {
		s.err = err
		return
	}
	r, err := ParseVersionRange(s.rangeSpec)
	if err != nil {
		s.err = err
		return
	}
	s.err = r.Check(m)
}

// Err returns the reason the selector is disabled, or nil.
func (s *Selector) Err() error {
	s.once.Do(s.check)
	return s.err
}

// Module returns the module the verdict was computed for.
func (s *Selector) Module() Module {
	s.once.Do(s.check)
	return s.module
}

// Enabled reports whether p is declared and the module is compatible.
// A nil Selector enables everything.
func (s *Selector) Enabled(p InterceptionPoint) bool {
	if s == nil {
		return true
	}
	return s.Err() == nil && slices.Contains(s.points, p)
}

// Points returns the declared interception points.
func (s *Selector) Points() []InterceptionPoint {
	return slices.Clone(s.points)
}
