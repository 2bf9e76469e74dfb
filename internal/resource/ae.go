package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
)

// AE-specific short attribute names.
const (
	AttrAppID = "api"
	AttrAEID  = "aei"
)

// AE is a registered application entity.
type AE struct {
	Base
}

func newAE(res *Resource) *AE {
	return &AE{Base: NewBase(res, "m2m:ae",
		onem2m.TypeACP,
		onem2m.TypeContainer,
		onem2m.TypeGroup,
		onem2m.TypePollingChannel,
		onem2m.TypeSubscription,
	)}
}

// Validate requires the application identifier.
func (a *AE) Validate(create bool) error {
	if err := validateCommon(a.Resource(), create); err != nil {
		return err
	}
	return requireString(a.Resource(), AttrAppID)
}

// Register implements the AE registration originator rules: an absent
// originator or the bare "C"/"S" placeholder gets an auto-assigned AE-ID;
// a full C-prefixed or S-prefixed identifier is adopted as the AE-ID. Any
// other originator shape is refused, since AEs may only register under an
// AE-ID they are entitled to.
func (a *AE) Register(_ context.Context, _ Env, originator string) (string, error) {
	var aei string
	switch {
	case originator == "" || originator == "C" || originator == "S":
		aei = "C" + a.Resource().RI()
	case strings.HasPrefix(originator, "C") || strings.HasPrefix(originator, "S"):
		aei = originator
	default:
		return "", fmt.Errorf("originator %q may not register an AE: %w", originator, onem2m.ErrSecurityAssociation)
	}
	a.Resource().Set(AttrAEID, aei)
	return aei, nil
}
