package dispatch

import (
	"context"
	"fmt"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// handleNotify delivers a notification envelope to a notification-capable
// target: a polling channel, a group (fanned out to members), or an entity
// reachable through its points of access. The payload shape, not the
// addressing, is what distinguishes NOTIFY from the other operations.
func (d *Dispatcher) handleNotify(ctx context.Context, req *onem2m.Request, resolved addressing.Resolved) *onem2m.Result {
	if _, ok := req.Content[resource.NotificationKey]; !ok {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("notify payload is not a notification envelope: %w", onem2m.ErrBadRequest))
	}

	res, err := d.fetch(ctx, resolved)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	switch res.Type() {
	case onem2m.TypePollingChannel:
		// The channel belongs to its AE; only reachability matters, the
		// enqueue succeeds for whoever may notify the owner.
		if err := d.checkAccess(ctx, req.Originator, res, onem2m.PermissionNotify); err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		if err := d.polling.enqueue(ctx, res.RI(), req.Content); err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		return onem2m.NewResult(req.Operation, req.RequestID, nil)

	case onem2m.TypeGroup:
		return d.notifyGroup(ctx, req, res)

	case onem2m.TypeAE, onem2m.TypeRemoteCSE, onem2m.TypeCSEBase:
		if err := d.checkAccess(ctx, req.Originator, res, onem2m.PermissionNotify); err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		if err := d.notifyResource(ctx, res, req.Content); err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		return onem2m.NewResult(req.Operation, req.RequestID, nil)

	default:
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("resource %q is not a notification target: %w", res.RI(), onem2m.ErrOperationNotAllowed))
	}
}

// notifyGroup fans a notification out to every group member and reports
// how many deliveries succeeded.
func (d *Dispatcher) notifyGroup(ctx context.Context, req *onem2m.Request, res *resource.Resource) *onem2m.Result {
	if err := d.checkAccess(ctx, req.Originator, res, onem2m.PermissionNotify); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	t, err := typedOf(res)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	group := t.(*resource.Group)

	delivered := 0
	for _, member := range group.MemberIDs() {
		if err := d.deliverNotification(ctx, member, req.Content); err != nil {
			d.logger.Warn("group notification failed", "group", res.RI(), "member", member, "error", err)
			continue
		}
		delivered++
	}
	return onem2m.NewResult(req.Operation, req.RequestID, map[string]any{
		"delivered": delivered,
		"members":   len(group.MemberIDs()),
	})
}
