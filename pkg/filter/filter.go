// Package filter defines a typed query filter DSL in place of loosely
// structured, string-keyed filter maps. A Filter is a tagged variant over
// the operator shapes a PersistenceAdapter may be asked to execute;
// callers negotiate against a CapabilityMap before building one so they
// never emit an operator an adapter cannot satisfy.
package filter

import "github.com/cuemby/agentic-fabric/pkg/types"

// Kind tags which operator variant a Filter carries.
type Kind string

const (
	KindEq    Kind = "eq"
	KindIlike Kind = "ilike"
	KindIn    Kind = "in"
	KindRange Kind = "range"
)

// RangeOp is the comparison operator for a Range filter.
type RangeOp string

const (
	RangeGT  RangeOp = "gt"
	RangeGTE RangeOp = "gte"
	RangeLT  RangeOp = "lt"
	RangeLTE RangeOp = "lte"
)

// Filter is one constraint on a single column. Exactly one of the typed
// fields is meaningful, selected by Kind.
type Filter struct {
	Kind    Kind
	Col     string
	Val     any     // Eq, Range
	Vals    []any   // In
	RangeOp RangeOp // Range
}

// Eq builds an equality filter.
func Eq(col string, val any) Filter { return Filter{Kind: KindEq, Col: col, Val: val} }

// Ilike builds a case-insensitive containment filter. pat may include SQL
// wildcard characters ('%', '_'); callers decide based on
// CapabilityMap.ILike whether to degrade this to an Eq instead.
func Ilike(col string, pat string) Filter { return Filter{Kind: KindIlike, Col: col, Val: pat} }

// In builds a set-membership filter.
func In(col string, vals []any) Filter { return Filter{Kind: KindIn, Col: col, Vals: vals} }

// Range builds a comparison filter.
func Range(col string, op RangeOp, val any) Filter {
	return Filter{Kind: KindRange, Col: col, Val: val, RangeOp: op}
}

// Set is an ordered collection of filters applied as a conjunction (AND).
// Order is preserved because InMemory's scan evaluates them left to right
// and some higher layers (reformulation) rely on reproducing the same
// ordering across attempts for deterministic logging.
type Set []Filter

// Supported reports whether every filter in the set is expressible given
// an adapter's advertised capabilities.
func (s Set) Supported(caps types.CapabilityMap) bool {
	for _, f := range s {
		switch f.Kind {
		case KindEq:
			if !caps.EqualityFilters {
				return false
			}
		case KindIlike:
			if !caps.ILike {
				return false
			}
		case KindIn:
			if !caps.InOperator {
				return false
			}
		case KindRange:
			if !caps.RangeOperators {
				return false
			}
		}
	}
	return true
}

// Without returns a copy of s with every filter on col removed.
func (s Set) Without(col string) Set {
	out := make(Set, 0, len(s))
	for _, f := range s {
		if f.Col != col {
			out = append(out, f)
		}
	}
	return out
}

// Get returns the first filter on col, if any.
func (s Set) Get(col string) (Filter, bool) {
	for _, f := range s {
		if f.Col == col {
			return f, true
		}
	}
	return Filter{}, false
}

// ToMap renders the set as a plain map for metadata.query_filters, which
// travels over the wire as an object rather than the typed DSL.
func (s Set) ToMap() map[string]any {
	if len(s) == 0 {
		return nil
	}
	m := make(map[string]any, len(s))
	for _, f := range s {
		switch f.Kind {
		case KindIn:
			m[f.Col] = f.Vals
		default:
			m[f.Col] = f.Val
		}
	}
	return m
}
