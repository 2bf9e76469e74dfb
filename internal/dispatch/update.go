package dispatch

import (
	"context"
	"fmt"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
	"github.com/wrenware/lattice/internal/security"
)

// handleUpdate merges the request attributes over the stored resource with
// value semantics: the original is snapshotted, the merge builds a fresh
// document, and only the merged value is persisted and handed onward.
func (d *Dispatcher) handleUpdate(ctx context.Context, req *onem2m.Request, resolved addressing.Resolved) *onem2m.Result {
	res, err := d.fetch(ctx, resolved)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if res.Type().IsInstance() {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("instance resources are immutable: %w", onem2m.ErrOperationNotAllowed))
	}
	t, err := typedOf(res)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	short, patch, err := resource.ParseContent(req.Content)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if short != t.ShortName() {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("content key %q does not match resource type %q: %w", short, t.ShortName(), onem2m.ErrBadRequest))
	}

	if err := d.checkUpdateAccess(ctx, req.Originator, res, patch); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	original := res.DeepCopy()
	if err := t.WillUpdate(ctx, d.env(), patch); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	mergedAttrs, diff, err := resource.Merge(res.Attributes, patch)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	merged := &resource.Resource{Attributes: mergedAttrs, SRN: res.SRN}
	mergedTyped, err := typedOf(merged)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if err := mergedTyped.Validate(false); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	if err := d.store.Update(ctx, merged); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if err := mergedTyped.DidUpdate(ctx, d.env(), original.Attributes); err != nil {
		d.logger.Warn("post-update hook failed", "ri", merged.RI(), "error", err)
	}

	d.notifySubscribers(ctx, merged, resource.NotifyEventUpdate, resource.Representation(mergedTyped))

	content, err := shapeUpdate(mergedTyped, diff, req.ResultContent)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	return onem2m.NewResult(req.Operation, req.RequestID, content)
}

// checkUpdateAccess applies the UPDATE permission, with the carve-out for
// patches that touch only the policy-reference attribute: those are
// validated against the referenced policies' self-privileges instead.
func (d *Dispatcher) checkUpdateAccess(ctx context.Context, originator string, res *resource.Resource, patch map[string]any) error {
	if len(patch) == 1 {
		if _, acpiOnly := patch[onem2m.AttrACPIDs]; acpiOnly {
			if checker, ok := d.oracle.(security.ACPIUpdateChecker); ok {
				granted, err := checker.CanUpdateACPI(ctx, originator, res)
				if err != nil {
					return fmt.Errorf("policy-reference check failed: %v: %w", err, onem2m.ErrInternal)
				}
				if !granted {
					return fmt.Errorf("originator %q may not change policy references on %q: %w",
						originator, res.RI(), onem2m.ErrForbidden)
				}
				return nil
			}
		}
	}
	return d.checkAccess(ctx, originator, res, onem2m.PermissionUpdate)
}
