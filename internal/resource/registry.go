package resource

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wrenware/lattice/internal/onem2m"
)

// shortNames maps persisted type tags to their serialization keys.
var shortNames = map[onem2m.ResourceType]string{
	onem2m.TypeACP:             "m2m:acp",
	onem2m.TypeAE:              "m2m:ae",
	onem2m.TypeContainer:       "m2m:cnt",
	onem2m.TypeContentInstance: "m2m:cin",
	onem2m.TypeCSEBase:         "m2m:cb",
	onem2m.TypeGroup:           "m2m:grp",
	onem2m.TypePollingChannel:  "m2m:pch",
	onem2m.TypeRemoteCSE:       "m2m:csr",
	onem2m.TypeSubscription:    "m2m:sub",
}

// idPrefixes seed generated resource-IDs and names per type, e.g. cnt1234.
var idPrefixes = map[onem2m.ResourceType]string{
	onem2m.TypeACP:             "acp",
	onem2m.TypeAE:              "ae",
	onem2m.TypeContainer:       "cnt",
	onem2m.TypeContentInstance: "cin",
	onem2m.TypeCSEBase:         "cb",
	onem2m.TypeGroup:           "grp",
	onem2m.TypePollingChannel:  "pch",
	onem2m.TypeRemoteCSE:       "csr",
	onem2m.TypeSubscription:    "sub",
}

// ShortNameOf returns the serialization key for a type tag.
func ShortNameOf(ty onem2m.ResourceType) (string, bool) {
	s, ok := shortNames[ty]
	return s, ok
}

// TypeOfShortName is the reverse lookup used when decoding content.
func TypeOfShortName(short string) (onem2m.ResourceType, bool) {
	for ty, s := range shortNames {
		if s == short {
			return ty, true
		}
	}
	return 0, false
}

// GenerateRI produces a new unique resource-ID with the type's prefix.
func GenerateRI(ty onem2m.ResourceType) string {
	prefix, ok := idPrefixes[ty]
	if !ok {
		prefix = "res"
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:16]
}

// GenerateName produces a resource name for a create request that did not
// supply one.
func GenerateName(ty onem2m.ResourceType) string {
	return GenerateRI(ty)
}

// FromResource wraps a loaded resource in its typed implementation,
// selected by the stored type tag.
func FromResource(res *Resource) (Typed, error) {
	switch res.Type() {
	case onem2m.TypeACP:
		return newACP(res), nil
	case onem2m.TypeAE:
		return newAE(res), nil
	case onem2m.TypeContainer:
		return newContainer(res), nil
	case onem2m.TypeContentInstance:
		return newContentInstance(res), nil
	case onem2m.TypeCSEBase:
		return newCSEBase(res), nil
	case onem2m.TypeGroup:
		return newGroup(res), nil
	case onem2m.TypePollingChannel:
		return newPollingChannel(res), nil
	case onem2m.TypeRemoteCSE:
		return newRemoteCSE(res), nil
	case onem2m.TypeSubscription:
		return newSubscription(res), nil
	default:
		return nil, fmt.Errorf("type tag %d: %w", res.Type(), ErrUnknownType)
	}
}

// FromContent instantiates a typed resource from request content for a
// CREATE. The representation's short name must agree with the announced
// type; identity attributes supplied by the caller override anything the
// payload tries to smuggle in.
func FromContent(content map[string]any, ty onem2m.ResourceType, pi string) (Typed, error) {
	short, attrs, err := ParseContent(content)
	if err != nil {
		return nil, err
	}
	wantShort, ok := shortNames[ty]
	if !ok {
		return nil, fmt.Errorf("type tag %d: %w", ty, ErrUnknownType)
	}
	if short != wantShort {
		return nil, fmt.Errorf("content key %q does not match announced type %q: %w",
			short, wantShort, onem2m.ErrBadRequest)
	}

	rn, _ := attrs[onem2m.AttrResourceName].(string)
	if rn == "" {
		rn = GenerateName(ty)
	} else if !ValidName(rn) {
		return nil, fmt.Errorf("invalid resource name %q: %w", rn, onem2m.ErrBadRequest)
	}

	res := New(ty, GenerateRI(ty), pi, rn)
	for name, value := range attrs {
		if _, immutable := immutableAttrs[name]; immutable {
			continue
		}
		if name == onem2m.AttrLastModified || name == onem2m.AttrStateTag {
			continue
		}
		res.Attributes[name] = deepCopyValue(value)
	}
	res.Set(onem2m.AttrResourceName, rn)

	return FromResource(res)
}
