package resource

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
)

// Resource is one node of the tree held in memory for the duration of a
// single operation. Attributes carry the full persisted attribute set,
// including ri/pi/ty/rn and the timestamps. SRN is derived from ancestor
// names and maintained by the store's identifier mapping; it is not part of
// the attribute set.
type Resource struct {
	Attributes map[string]any
	SRN        string
}

// New builds a bare resource with the given identity attributes and the
// creation/modification timestamps set to now.
func New(ty onem2m.ResourceType, ri, pi, rn string) *Resource {
	now := onem2m.TimestampNow()
	return &Resource{
		Attributes: map[string]any{
			onem2m.AttrResourceType: int(ty),
			onem2m.AttrResourceID:   ri,
			onem2m.AttrParentID:     pi,
			onem2m.AttrResourceName: rn,
			onem2m.AttrCreationTime: now,
			onem2m.AttrLastModified: now,
		},
	}
}

// RI returns the resource-ID.
func (r *Resource) RI() string { return r.String(onem2m.AttrResourceID) }

// ParentID returns the parent resource-ID, empty only for the CSE base.
func (r *Resource) ParentID() string { return r.String(onem2m.AttrParentID) }

// Name returns the resource name.
func (r *Resource) Name() string { return r.String(onem2m.AttrResourceName) }

// Type returns the stored type tag.
func (r *Resource) Type() onem2m.ResourceType {
	return onem2m.ResourceType(r.Int(onem2m.AttrResourceType))
}

// CreationTime returns the ct attribute.
func (r *Resource) CreationTime() string { return r.String(onem2m.AttrCreationTime) }

// LastModified returns the lt attribute.
func (r *Resource) LastModified() string { return r.String(onem2m.AttrLastModified) }

// ExpirationTime returns the et attribute, empty when the resource never
// expires.
func (r *Resource) ExpirationTime() string { return r.String(onem2m.AttrExpirationTime) }

// Labels returns the lbl attribute as a string slice.
func (r *Resource) Labels() []string { return r.StringSlice(onem2m.AttrLabels) }

// String returns a string attribute, or "" when absent or not a string.
func (r *Resource) String(name string) string {
	s, _ := r.Attributes[name].(string)
	return s
}

// Int returns an integer attribute. JSON decoding produces float64 and the
// store produces int; both are accepted.
func (r *Resource) Int(name string) int {
	switch v := r.Attributes[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		// CBOR decodes non-negative integers as uint64.
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

// IntAttr returns an integer attribute and whether it is present.
func (r *Resource) IntAttr(name string) (int, bool) {
	if _, ok := r.Attributes[name]; !ok {
		return 0, false
	}
	return r.Int(name), true
}

// StringSlice returns a string-list attribute. A scalar string is accepted
// as a one-element list, matching lenient JSON producers.
func (r *Resource) StringSlice(name string) []string {
	switch v := r.Attributes[name].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Set assigns an attribute value.
func (r *Resource) Set(name string, value any) {
	r.Attributes[name] = value
}

// SetInt assigns an integer attribute.
func (r *Resource) SetInt(name string, value int) {
	r.Attributes[name] = value
}

// Touch refreshes the last-modified timestamp.
func (r *Resource) Touch() {
	r.Attributes[onem2m.AttrLastModified] = onem2m.TimestampNow()
}

// Expired reports whether the resource's expiration time has elapsed.
func (r *Resource) Expired() bool {
	et := r.ExpirationTime()
	if et == "" {
		return false
	}
	t, err := onem2m.ParseTimestamp(et)
	if err != nil {
		return false
	}
	return t.Before(nowFunc())
}

// DeepCopy returns an independent copy of the resource. The dispatch core
// snapshots originals before merging updates; the copy guarantees the two
// views never alias.
func (r *Resource) DeepCopy() *Resource {
	if r == nil {
		return nil
	}
	return &Resource{
		Attributes: deepCopyMap(r.Attributes),
		SRN:        r.SRN,
	}
}

// deepCopyMap clones a map[string]any including nested maps and slices.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// ValidName reports whether rn is usable as a resource name: non-empty, no
// path separators, none of the reserved virtual or placeholder segments.
func ValidName(rn string) bool {
	if rn == "" || rn == "-" || strings.ContainsAny(rn, "/ \t") {
		return false
	}
	if _, virtual := onem2m.VirtualSuffixType(rn); virtual {
		return false
	}
	return true
}

// Representation wraps the resource's attributes under its short type name
// for result shaping, e.g. {"m2m:cnt": {...}}.
func Representation(t Typed) map[string]any {
	return map[string]any{t.ShortName(): t.Resource().Attributes}
}

// ErrUnknownType is wrapped by the factory when a stored or requested type
// tag has no registered implementation.
var ErrUnknownType = fmt.Errorf("unknown resource type: %w", onem2m.ErrBadRequest)
