package dispatch

import (
	"context"
	"errors"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// handleRetrieve serves both plain retrieval and discovery; the two differ
// in the checked permission and in whether the discovery engine runs.
func (d *Dispatcher) handleRetrieve(ctx context.Context, req *onem2m.Request, resolved addressing.Resolved) *onem2m.Result {
	res, err := d.fetch(ctx, resolved)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	t, err := typedOf(res)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	if req.Discovery() {
		return d.discover(ctx, req, res, t)
	}

	if err := d.checkAccess(ctx, req.Originator, res, onem2m.PermissionRetrieve); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if err := t.WillRetrieve(ctx, d.env(), req.Originator); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	if req.ResultContent == onem2m.ResultContentPermissions {
		return d.retrievePermissions(ctx, req, res)
	}

	rcn := req.ResultContent
	if rcn == onem2m.ResultContentNothing {
		// RETRIEVE defaults to returning the attributes; "nothing" is
		// only meaningful for mutating operations.
		rcn = onem2m.ResultContentAttributes
	}
	content, err := shapeSingle(t, rcn)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	return onem2m.NewResult(req.Operation, req.RequestID, content)
}

// discover runs the discovery engine below the addressed root and shapes
// the walked result set.
func (d *Dispatcher) discover(ctx context.Context, req *onem2m.Request, root *resource.Resource, t resource.Typed) *onem2m.Result {
	perm := onem2m.PermissionRetrieve
	if req.FilterCriteria != nil && req.FilterCriteria.FilterUsage == onem2m.FilterUsageDiscovery {
		perm = onem2m.PermissionDiscover
	}
	if err := d.checkAccess(ctx, req.Originator, root, perm); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	results, err := d.discovery.Discover(ctx, root, req.Originator, req.FilterCriteria)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	rcn := req.ResultContent
	if !rcn.IsDiscovery() {
		// A discovery filter usage without an explicit child mode returns
		// the reference list.
		rcn = onem2m.ResultContentDiscoveryResultRefs
	}
	content, err := shapeDiscovery(t, results, rcn, req.DesiredIDType)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	return onem2m.NewResult(req.Operation, req.RequestID, content)
}

// retrievePermissions returns the privilege structures of the policies
// governing the addressed resource.
func (d *Dispatcher) retrievePermissions(ctx context.Context, req *onem2m.Request, res *resource.Resource) *onem2m.Result {
	var privileges []any
	for _, ref := range res.StringSlice(onem2m.AttrACPIDs) {
		policy, err := d.store.Get(ctx, ref)
		if err != nil {
			if errors.Is(err, onem2m.ErrNotFound) {
				continue
			}
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		if pv, ok := policy.Attributes[resource.AttrPrivileges]; ok {
			privileges = append(privileges, pv)
		}
	}
	return onem2m.NewResult(req.Operation, req.RequestID, map[string]any{"m2m:pvl": privileges})
}
