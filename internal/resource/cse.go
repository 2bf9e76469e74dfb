package resource

import (
	"context"
	"fmt"

	"github.com/wrenware/lattice/internal/onem2m"
)

// CSE-specific short attribute names.
const (
	AttrCSEID          = "csi"
	AttrCSEType        = "cst"
	AttrSupportedTypes = "srt"
	AttrPointOfAccess  = "poa"
	AttrRequestReach   = "rr"
)

// CSEBase is the root of the tree. It is created once at startup and can
// never be deleted.
type CSEBase struct {
	Base
}

func newCSEBase(res *Resource) *CSEBase {
	return &CSEBase{Base: NewBase(res, "m2m:cb",
		onem2m.TypeACP,
		onem2m.TypeAE,
		onem2m.TypeContainer,
		onem2m.TypeGroup,
		onem2m.TypeRemoteCSE,
		onem2m.TypeSubscription,
	)}
}

// NewCSEBase builds the root resource for first-start seeding. csi carries
// its leading slash form when serialized; here it is stored bare.
func NewCSEBase(ri, rn, csi string) *CSEBase {
	res := New(onem2m.TypeCSEBase, ri, "", rn)
	res.Set(AttrCSEID, csi)
	res.SetInt(AttrCSEType, 1) // IN-CSE
	cb := newCSEBase(res)
	cb.setSupportedTypes()
	return cb
}

func (c *CSEBase) setSupportedTypes() {
	supported := make([]any, 0, len(shortNames))
	for ty := range shortNames {
		supported = append(supported, int(ty))
	}
	c.Resource().Set(AttrSupportedTypes, supported)
}

// Validate checks the root's identity attributes.
func (c *CSEBase) Validate(create bool) error {
	if err := validateCommon(c.Resource(), create); err != nil {
		return err
	}
	return requireString(c.Resource(), AttrCSEID)
}

// WillDeactivate always refuses: the root is never deletable.
func (c *CSEBase) WillDeactivate(context.Context, Env) error {
	return fmt.Errorf("the CSE base cannot be deleted: %w", onem2m.ErrOperationNotAllowed)
}
