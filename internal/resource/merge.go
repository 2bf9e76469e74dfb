package resource

import (
	"fmt"
	"reflect"

	"github.com/wrenware/lattice/internal/onem2m"
)

// immutableAttrs can never be changed by an UPDATE. A patch naming one of
// them with a different value is a structural refusal, not a silent drop.
var immutableAttrs = map[string]struct{}{
	onem2m.AttrResourceID:   {},
	onem2m.AttrParentID:     {},
	onem2m.AttrResourceType: {},
	onem2m.AttrResourceName: {},
	onem2m.AttrCreationTime: {},
}

// Merge applies an update patch over a stored attribute set with value
// semantics: the stored map is never touched, the merged result is a fresh
// map. An explicit null in the patch removes the attribute.
//
// The returned diff is the modified-attributes view (result-content mode 9):
// every patch attribute with its final merged value, removals omitted, plus
// the refreshed last-modified timestamp. Applying the same patch twice
// yields the same merged document and the same diff keys; nothing in the
// merge mutates hidden state.
func Merge(stored, patch map[string]any) (merged, diff map[string]any, err error) {
	for name, value := range patch {
		if _, immutable := immutableAttrs[name]; immutable {
			if !reflect.DeepEqual(stored[name], value) {
				return nil, nil, fmt.Errorf("attribute %q is immutable: %w", name, onem2m.ErrOperationNotAllowed)
			}
		}
	}

	merged = deepCopyMap(stored)
	diff = make(map[string]any, len(patch)+1)

	for name, value := range patch {
		if value == nil {
			delete(merged, name)
			continue
		}
		merged[name] = deepCopyValue(value)
		diff[name] = value
	}

	lt := onem2m.TimestampNow()
	merged[onem2m.AttrLastModified] = lt
	diff[onem2m.AttrLastModified] = lt
	return merged, diff, nil
}

// ParseContent extracts the single short-name-keyed representation from a
// request's primitive content, e.g. {"m2m:cnt": {...}} → "m2m:cnt", attrs.
func ParseContent(content map[string]any) (string, map[string]any, error) {
	if len(content) != 1 {
		return "", nil, fmt.Errorf("content must hold exactly one resource representation, got %d keys: %w",
			len(content), onem2m.ErrBadRequest)
	}
	for short, raw := range content {
		attrs, ok := raw.(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("representation under %q is not an object: %w", short, onem2m.ErrBadRequest)
		}
		return short, attrs, nil
	}
	return "", nil, onem2m.ErrBadRequest // unreachable
}
