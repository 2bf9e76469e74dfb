package addressing

import (
	"fmt"
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
)

// rootPlaceholder is the reserved segment standing for the local CSE's
// resource name in structured addresses.
const rootPlaceholder = "-"

// Local identifies the CSE the resolver runs on.
type Local struct {
	// CSEID is the CSE identifier without its leading slash, e.g. "id-in".
	CSEID string

	// SPID is the service provider identifier without its leading "//".
	SPID string

	// ResourceName is the CSE base resource name, the first segment of
	// every structured path, e.g. "cse-in".
	ResourceName string

	// ResourceID is the resource-ID of the CSE base itself.
	ResourceID string
}

// Resolved is the outcome of address classification.
//
// Exactly one of three shapes holds:
//   - RemoteCSEID set: forwarding candidate, Target carries the address to
//     forward untouched (virtual suffix re-appended).
//   - SRN set: a structured path to resolve through the identifier mapping.
//   - RI set: an unstructured resource-ID for a direct lookup.
type Resolved struct {
	RI          string
	SRN         string
	RemoteCSEID string

	// VirtualType is the virtual resource named by a stripped trailing
	// segment, or 0 when the address is ordinary.
	VirtualType onem2m.ResourceType
}

// Remote reports whether the address must be forwarded to a peer.
func (r Resolved) Remote() bool {
	return r.RemoteCSEID != ""
}

// Virtual reports whether the address carried a virtual-resource suffix.
func (r Resolved) Virtual() bool {
	return r.VirtualType != 0
}

// Resolve classifies target per the address grammar. Malformed input yields
// an error wrapping onem2m.ErrBadRequest; the resolver never panics.
func Resolve(target string, local Local) (Resolved, error) {
	if target == "" {
		return Resolved{}, fmt.Errorf("empty target address: %w", onem2m.ErrBadRequest)
	}

	slashes := 0
	for slashes < len(target) && target[slashes] == '/' {
		slashes++
	}
	rest := target[slashes:]

	switch slashes {
	case 0:
		return resolveLocal(rest, local)
	case 1:
		return resolveSPRelative(rest, local)
	case 2:
		return resolveAbsolute(rest, local)
	default:
		return Resolved{}, fmt.Errorf("address %q has too many leading separators: %w", target, onem2m.ErrBadRequest)
	}
}

// resolveSPRelative handles "/cse-id/remainder" with the leading slash
// already removed.
func resolveSPRelative(rest string, local Local) (Resolved, error) {
	if rest == "" {
		return Resolved{}, fmt.Errorf("SP-relative address has no CSE identifier: %w", onem2m.ErrBadRequest)
	}
	cseID, remainder, _ := strings.Cut(rest, "/")
	if cseID != local.CSEID {
		// Forwarding candidate. The address is handed on untouched; the
		// virtual suffix, if any, stays where it is.
		return Resolved{RemoteCSEID: cseID}, nil
	}
	if remainder == "" {
		// "/id-in" names the CSE base itself.
		return Resolved{RI: local.ResourceID}, nil
	}
	return resolveLocal(remainder, local)
}

// resolveAbsolute handles "//sp-id/cse-id/remainder" with both leading
// slashes already removed.
func resolveAbsolute(rest string, local Local) (Resolved, error) {
	spID, after, found := strings.Cut(rest, "/")
	if spID == "" || !found || after == "" {
		return Resolved{}, fmt.Errorf("absolute address is too short: %w", onem2m.ErrBadRequest)
	}
	cseID, _, _ := strings.Cut(after, "/")
	if spID != local.SPID || cseID != local.CSEID {
		// A foreign service provider or CSE. Either way the registrar path
		// decides how to reach it; locally it is a forwarding candidate.
		return Resolved{RemoteCSEID: cseID}, nil
	}
	return resolveSPRelative(after, local)
}

// resolveLocal handles a CSE-relative remainder: a single non-reserved
// segment is an unstructured resource-ID, anything else is a structured
// path with the root placeholder substituted.
func resolveLocal(rest string, local Local) (Resolved, error) {
	rest, virtual := stripVirtualSuffix(rest)
	if rest == "" {
		if virtual != 0 {
			return Resolved{}, fmt.Errorf("virtual resource address has no parent: %w", onem2m.ErrBadRequest)
		}
		return Resolved{}, fmt.Errorf("empty local address: %w", onem2m.ErrBadRequest)
	}

	if !strings.Contains(rest, "/") && rest != rootPlaceholder {
		return Resolved{RI: rest, VirtualType: virtual}, nil
	}

	segments := strings.Split(rest, "/")
	if segments[0] == rootPlaceholder {
		segments[0] = local.ResourceName
	}
	for _, seg := range segments {
		if seg == "" {
			return Resolved{}, fmt.Errorf("structured path %q has an empty segment: %w", rest, onem2m.ErrBadRequest)
		}
	}
	return Resolved{SRN: strings.Join(segments, "/"), VirtualType: virtual}, nil
}

// stripVirtualSuffix removes a trailing virtual-resource segment and
// returns the shortened address plus the virtual type it named.
func stripVirtualSuffix(rest string) (string, onem2m.ResourceType) {
	idx := strings.LastIndex(rest, "/")
	last := rest[idx+1:]
	ty, ok := onem2m.VirtualSuffixType(last)
	if !ok {
		return rest, 0
	}
	if idx < 0 {
		return "", ty
	}
	return rest[:idx], ty
}

// StructuredOf reports whether the address, after grammar classification,
// would be treated as structured. Used by bindings that need to echo the
// caller's addressing style.
func StructuredOf(target string) bool {
	trimmed := strings.TrimLeft(target, "/")
	slashes := len(target) - len(trimmed)
	switch slashes {
	case 1:
		_, remainder, _ := strings.Cut(trimmed, "/")
		trimmed = remainder
	case 2:
		parts := strings.SplitN(trimmed, "/", 3)
		if len(parts) < 3 {
			return false
		}
		trimmed = parts[2]
	}
	stripped, _ := stripVirtualSuffix(trimmed)
	return strings.Contains(stripped, "/") || stripped == rootPlaceholder
}
