package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
)

// Remote-CSE-specific short attribute names.
const (
	AttrCSEBaseAddr = "cb"
)

// RemoteCSE records a federation peer registration. The transit forwarder
// reads its point of access to reach the peer.
type RemoteCSE struct {
	Base
}

func newRemoteCSE(res *Resource) *RemoteCSE {
	return &RemoteCSE{Base: NewBase(res, "m2m:csr",
		onem2m.TypeACP,
		onem2m.TypeContainer,
		onem2m.TypeGroup,
		onem2m.TypeSubscription,
	)}
}

// Validate requires the peer's CSE-ID and at least one point of access.
func (r *RemoteCSE) Validate(create bool) error {
	res := r.Resource()
	if err := validateCommon(res, create); err != nil {
		return err
	}
	if err := requireString(res, AttrCSEID); err != nil {
		return err
	}
	if len(res.StringSlice(AttrPointOfAccess)) == 0 {
		return fmt.Errorf("remote CSE needs a point of access: %w", onem2m.ErrBadRequest)
	}
	return nil
}

// Register adopts the peer's CSE-ID as originator when the request arrived
// without one, mirroring the AE registration rules for CSE registration.
func (r *RemoteCSE) Register(_ context.Context, _ Env, originator string) (string, error) {
	csi := r.Resource().String(AttrCSEID)
	if originator == "" {
		return "/" + strings.TrimPrefix(csi, "/"), nil
	}
	return originator, nil
}

// CSEID returns the peer's CSE identifier without a leading slash.
func (r *RemoteCSE) CSEID() string {
	return strings.TrimPrefix(r.Resource().String(AttrCSEID), "/")
}

// PointsOfAccess returns the peer's reachable endpoints.
func (r *RemoteCSE) PointsOfAccess() []string {
	return r.Resource().StringSlice(AttrPointOfAccess)
}
