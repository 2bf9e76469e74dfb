package dispatch

import (
	"context"
	"fmt"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// handleDelete removes a resource and its subtree. When the requested
// result content needs child data, the discovery engine runs before
// anything is deleted.
func (d *Dispatcher) handleDelete(ctx context.Context, req *onem2m.Request, resolved addressing.Resolved) *onem2m.Result {
	res, err := d.fetch(ctx, resolved)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if res.RI() == d.local.ResourceID || res.Type() == onem2m.TypeCSEBase {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("the CSE base cannot be deleted: %w", onem2m.ErrOperationNotAllowed))
	}
	t, err := typedOf(res)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if err := d.checkAccess(ctx, req.Originator, res, onem2m.PermissionDelete); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	// Shape child payloads while the subtree still exists.
	var content map[string]any
	switch {
	case req.ResultContent.IsDiscovery():
		results, derr := d.discovery.Discover(ctx, res, req.Originator, req.FilterCriteria)
		if derr != nil {
			return onem2m.NewErrorResult(req.RequestID, derr)
		}
		content, err = shapeDiscovery(t, results, req.ResultContent, req.DesiredIDType)
		if err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
	case req.ResultContent == onem2m.ResultContentAttributes:
		content = resource.Representation(t)
	}

	env := d.env()
	if err := t.WillDeactivate(ctx, env); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	// The target's own subscriptions learn about the deletion before the
	// subtree (and with it the subscriptions) goes away.
	d.notifySubscribers(ctx, res, resource.NotifyEventDelete, resource.Representation(t))

	if res.Type() == onem2m.TypePollingChannel {
		d.polling.drop(res.RI())
	}

	if err := d.removeResource(ctx, res.RI(), false); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	d.logger.Info("resource deleted", "ri", res.RI(), "ty", int(res.Type()), "srn", res.SRN)

	return onem2m.NewResult(req.Operation, req.RequestID, content)
}
