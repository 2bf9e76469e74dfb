package discovery

import (
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// condition is one active condition family unit. Multiple values inside a
// family (types, labels, content types) form their own OR set and still
// count as a single unit.
type condition func(res *resource.Resource) bool

// matcher holds the compiled condition set for one discovery request.
type matcher struct {
	conditions []condition
	operation  onem2m.FilterOperation
}

// newMatcher compiles the filter criteria. Compilation errors (bad
// timestamps, unparsable queries) are client faults.
func newMatcher(fc *onem2m.FilterCriteria) (*matcher, error) {
	m := &matcher{operation: fc.Operation()}

	addTime := func(value string, cmp func(attr, bound string) bool, attr string) error {
		if value == "" {
			return nil
		}
		if _, err := onem2m.ParseTimestamp(value); err != nil {
			return err
		}
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			v := res.String(attr)
			return v != "" && cmp(v, value)
		})
		return nil
	}

	before := func(attr, bound string) bool { return attr < bound }
	notBefore := func(attr, bound string) bool { return attr >= bound }
	after := func(attr, bound string) bool { return attr > bound }
	notAfter := func(attr, bound string) bool { return attr <= bound }

	for _, tc := range []struct {
		value string
		cmp   func(attr, bound string) bool
		attr  string
	}{
		{fc.CreatedBefore, before, onem2m.AttrCreationTime},
		{fc.CreatedAfter, notBefore, onem2m.AttrCreationTime},
		{fc.ModifiedSince, after, onem2m.AttrLastModified},
		{fc.UnmodifiedSince, notAfter, onem2m.AttrLastModified},
		{fc.ExpireBefore, before, onem2m.AttrExpirationTime},
		{fc.ExpireAfter, notBefore, onem2m.AttrExpirationTime},
	} {
		if err := addTime(tc.value, tc.cmp, tc.attr); err != nil {
			return nil, err
		}
	}

	if len(fc.ResourceTypes) > 0 {
		types := fc.ResourceTypes
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			for _, ty := range types {
				if res.Type() == ty {
					return true
				}
			}
			return false
		})
	}

	if len(fc.Labels) > 0 {
		labels := fc.Labels
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			have := res.Labels()
			for _, want := range labels {
				for _, l := range have {
					if l == want {
						return true
					}
				}
			}
			return false
		})
	}

	if fc.StateTagSmaller != nil {
		bound := *fc.StateTagSmaller
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			st, ok := res.IntAttr(onem2m.AttrStateTag)
			return ok && st < bound
		})
	}
	if fc.StateTagBigger != nil {
		bound := *fc.StateTagBigger
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			st, ok := res.IntAttr(onem2m.AttrStateTag)
			return ok && st > bound
		})
	}

	// Content-size bounds apply to instance types only; anything else
	// simply fails the condition.
	if fc.SizeAbove != nil {
		bound := *fc.SizeAbove
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			return res.Type().IsInstance() && res.Int(resource.AttrContentSize) > bound
		})
	}
	if fc.SizeBelow != nil {
		bound := *fc.SizeBelow
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			return res.Type().IsInstance() && res.Int(resource.AttrContentSize) < bound
		})
	}

	if len(fc.ContentTypes) > 0 {
		ctypes := fc.ContentTypes
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			if res.Type() != onem2m.TypeContentInstance {
				return false
			}
			cnf := res.String(resource.AttrContentInfo)
			for _, want := range ctypes {
				if cnf == want {
					return true
				}
			}
			return false
		})
	}

	// Each attribute match is its own condition unit.
	for name, want := range fc.Attributes {
		m.conditions = append(m.conditions, func(res *resource.Resource) bool {
			return attributeMatches(res.Attributes[name], want)
		})
	}

	if fc.AdvancedQuery != "" {
		expr, err := parseQuery(fc.AdvancedQuery)
		if err != nil {
			return nil, err
		}
		m.conditions = append(m.conditions, expr.matches)
	}

	if fc.SpatialOperator != "" || fc.Geometry != "" {
		geo, err := newGeoPredicate(fc.GeometryType, fc.Geometry, fc.SpatialOperator)
		if err != nil {
			return nil, err
		}
		m.conditions = append(m.conditions, geo.matches)
	}

	return m, nil
}

// matches evaluates the resource: under AND every active condition must
// hold, under OR at least one. Zero active conditions match everything.
func (m *matcher) matches(res *resource.Resource) (bool, error) {
	if len(m.conditions) == 0 {
		return true, nil
	}
	found := 0
	for _, cond := range m.conditions {
		if cond(res) {
			found++
		}
	}
	if m.operation == onem2m.FilterOperationOR {
		return found > 0, nil
	}
	return found == len(m.conditions), nil
}

// attributeMatches compares a resource attribute against a filter value,
// supporting trailing-* wildcards on strings and containment on lists.
func attributeMatches(have any, want string) bool {
	switch v := have.(type) {
	case nil:
		return false
	case string:
		if strings.HasSuffix(want, "*") {
			return strings.HasPrefix(v, strings.TrimSuffix(want, "*"))
		}
		return v == want
	case []any:
		for _, e := range v {
			if attributeMatches(e, want) {
				return true
			}
		}
		return false
	default:
		return scalarString(v) == want
	}
}
