package resource

import (
	"fmt"

	"github.com/wrenware/lattice/internal/onem2m"
)

// ACP-specific short attribute names. pv governs access to resources that
// reference the policy; pvs governs access to the policy itself.
const (
	AttrPrivileges     = "pv"
	AttrSelfPrivileges = "pvs"
)

// ACP is an access control policy resource evaluated by the security
// oracle.
type ACP struct {
	Base
}

func newACP(res *Resource) *ACP {
	return &ACP{Base: NewBase(res, "m2m:acp", onem2m.TypeSubscription)}
}

// Validate requires self-privileges; a policy nobody can administer would
// be unreachable forever.
func (a *ACP) Validate(create bool) error {
	if err := validateCommon(a.Resource(), create); err != nil {
		return err
	}
	if _, ok := a.Resource().Attributes[AttrSelfPrivileges]; !ok {
		return fmt.Errorf("missing mandatory attribute %q: %w", AttrSelfPrivileges, onem2m.ErrBadRequest)
	}
	return nil
}
