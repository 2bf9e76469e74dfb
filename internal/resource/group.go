package resource

import (
	"fmt"

	"github.com/wrenware/lattice/internal/onem2m"
)

// Group-specific short attribute names.
const (
	AttrMemberType     = "mt"
	AttrMemberIDs      = "mid"
	AttrMaxMembers     = "mnm"
	AttrCurrentMembers = "cnm"
)

// Group aggregates member resources; requests addressed at its fan-out
// point are fanned out to every member by the dispatch core.
type Group struct {
	Base
}

func newGroup(res *Resource) *Group {
	return &Group{Base: NewBase(res, "m2m:grp", onem2m.TypeSubscription)}
}

// Validate checks member bookkeeping: the member list fits the maximum,
// and the current-member counter always mirrors the list.
func (g *Group) Validate(create bool) error {
	r := g.Resource()
	if err := validateCommon(r, create); err != nil {
		return err
	}
	members := r.StringSlice(AttrMemberIDs)
	if _, ok := r.Attributes[AttrMemberIDs]; !ok {
		r.Set(AttrMemberIDs, []any{})
	}
	if mnm, ok := r.IntAttr(AttrMaxMembers); ok && len(members) > mnm {
		return fmt.Errorf("group has %d members, maximum is %d: %w",
			len(members), mnm, onem2m.ErrContentsUnacceptable)
	}
	if _, ok := r.Attributes[AttrMemberType]; !ok {
		r.SetInt(AttrMemberType, int(onem2m.TypeMixed))
	}
	r.SetInt(AttrCurrentMembers, len(members))
	return nil
}

// MemberIDs returns the member resource addresses.
func (g *Group) MemberIDs() []string {
	return g.Resource().StringSlice(AttrMemberIDs)
}

// MemberType returns the declared member type; TypeMixed admits any type.
func (g *Group) MemberType() onem2m.ResourceType {
	return onem2m.ResourceType(g.Resource().Int(AttrMemberType))
}
