package security

import (
	"context"
	"errors"
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// Oracle is the permission check consumed by the dispatch core and the
// discovery engine. Implementations must be safe for concurrent use.
//
// The check is deliberately narrow: originator, target resource, and the
// requested permission bit. Structural admission of a CREATE, whether the
// parent accepts a child of the announced type, is the parent resource's
// CanAddChild hook, not an oracle concern.
type Oracle interface {
	// HasAccess reports whether originator may perform perm on res.
	// Evaluation errors other than missing policies deny and surface.
	HasAccess(ctx context.Context, originator string, res *resource.Resource, perm onem2m.Permission) (bool, error)
}

// PolicyLoader fetches ACP resources for evaluation. The store satisfies
// this with its Get method.
type PolicyLoader interface {
	Get(ctx context.Context, ri string) (*resource.Resource, error)
}

// Evaluator is the default Oracle: it walks the target's acpi references.
type Evaluator struct {
	policies PolicyLoader

	// admin is the originator granted everything, typically the CSE
	// administrator configured at startup.
	admin string

	// cseID lets the CSE's own identity act with full privileges, for
	// internally generated requests.
	cseID string
}

// NewEvaluator creates the default policy evaluator.
func NewEvaluator(policies PolicyLoader, admin, cseID string) *Evaluator {
	return &Evaluator{policies: policies, admin: admin, cseID: cseID}
}

// HasAccess implements Oracle.
//
// Resources without any policy reference are open: a deployment closes the
// tree by attaching policies, not by relying on an implicit deny that
// would make a fresh CSE unusable.
func (e *Evaluator) HasAccess(ctx context.Context, originator string, res *resource.Resource, perm onem2m.Permission) (bool, error) {
	if originator == e.admin || strings.TrimPrefix(originator, "/") == e.cseID {
		return true, nil
	}

	// A policy governs itself through pvs only.
	if res.Type() == onem2m.TypeACP {
		return matchPrivileges(res.Attributes[resource.AttrSelfPrivileges], originator, perm), nil
	}

	acpi := res.StringSlice(onem2m.AttrACPIDs)
	if len(acpi) == 0 {
		return true, nil
	}

	for _, ref := range acpi {
		policy, err := e.policies.Get(ctx, ref)
		if err != nil {
			if errors.Is(err, onem2m.ErrNotFound) {
				// Dangling policy reference: skip, the remaining
				// references still apply.
				continue
			}
			return false, err
		}
		if matchPrivileges(policy.Attributes[resource.AttrPrivileges], originator, perm) {
			return true, nil
		}
	}
	return false, nil
}

// ACPIUpdateChecker is the narrower check for updates that change only the
// policy-reference attribute: authority comes from the referenced
// policies' self-privileges, not from their ordinary privileges.
type ACPIUpdateChecker interface {
	CanUpdateACPI(ctx context.Context, originator string, res *resource.Resource) (bool, error)
}

// CanUpdateACPI implements ACPIUpdateChecker.
func (e *Evaluator) CanUpdateACPI(ctx context.Context, originator string, res *resource.Resource) (bool, error) {
	if originator == e.admin || strings.TrimPrefix(originator, "/") == e.cseID {
		return true, nil
	}
	acpi := res.StringSlice(onem2m.AttrACPIDs)
	if len(acpi) == 0 {
		return true, nil
	}
	for _, ref := range acpi {
		policy, err := e.policies.Get(ctx, ref)
		if err != nil {
			if errors.Is(err, onem2m.ErrNotFound) {
				continue
			}
			return false, err
		}
		if matchPrivileges(policy.Attributes[resource.AttrSelfPrivileges], originator, onem2m.PermissionUpdate) {
			return true, nil
		}
	}
	return false, nil
}

// matchPrivileges evaluates one pv/pvs structure:
//
//	{"acr": [{"acor": ["originator", ...], "acop": bitmask}, ...]}
func matchPrivileges(raw any, originator string, perm onem2m.Permission) bool {
	pv, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	rules, ok := pv["acr"].([]any)
	if !ok {
		return false
	}
	for _, rawRule := range rules {
		rule, ok := rawRule.(map[string]any)
		if !ok {
			continue
		}
		if !originatorMatches(rule["acor"], originator) {
			continue
		}
		if opsOf(rule["acop"])&perm != 0 {
			return true
		}
	}
	return false
}

// originatorMatches checks the acor set: exact match, "all", or a
// trailing-* wildcard.
func originatorMatches(raw any, originator string) bool {
	list, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, entry := range list {
		pattern, ok := entry.(string)
		if !ok {
			continue
		}
		switch {
		case pattern == "all" || pattern == "*":
			return true
		case strings.HasSuffix(pattern, "*"):
			if strings.HasPrefix(originator, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		case pattern == originator:
			return true
		}
	}
	return false
}

// opsOf coerces the acop bitmask from its JSON forms.
func opsOf(raw any) onem2m.Permission {
	switch v := raw.(type) {
	case float64:
		return onem2m.Permission(v)
	case int:
		return onem2m.Permission(v)
	default:
		return 0
	}
}
