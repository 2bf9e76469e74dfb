package dispatch

import (
	"context"
	"fmt"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// creatableTypes are the types a request may create. The CSE base exists
// exactly once and only by seeding; virtual types are never persisted.
var creatableTypes = map[onem2m.ResourceType]struct{}{
	onem2m.TypeACP:             {},
	onem2m.TypeAE:              {},
	onem2m.TypeContainer:       {},
	onem2m.TypeContentInstance: {},
	onem2m.TypeGroup:           {},
	onem2m.TypePollingChannel:  {},
	onem2m.TypeRemoteCSE:       {},
	onem2m.TypeSubscription:    {},
}

// handleCreate drives the full creation lifecycle:
// validate → persist → activate → child-added → post-creation notify,
// with a compensating delete if any step after persistence fails.
func (d *Dispatcher) handleCreate(ctx context.Context, req *onem2m.Request, resolved addressing.Resolved) *onem2m.Result {
	if _, ok := creatableTypes[req.ResourceType]; !ok {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("resource type %d cannot be created: %w", req.ResourceType, onem2m.ErrInvalidChildType))
	}

	parent, err := d.fetch(ctx, resolved)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if err := d.checkAccess(ctx, req.Originator, parent, onem2m.PermissionCreate); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	parentTyped, err := typedOf(parent)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	t, err := resource.FromContent(req.Content, req.ResourceType, parent.RI())
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if err := t.Validate(true); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	env := d.env()
	if err := parentTyped.CanAddChild(ctx, env, t); err != nil {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("parent %q refuses child: %w", parent.RI(), err))
	}

	// Registration-time checks may rewrite the originator.
	originator := req.Originator
	if registrant, ok := t.(resource.Registrant); ok {
		originator, err = registrant.Register(ctx, env, originator)
		if err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
	}
	if err := d.checkRegistrationUniqueness(ctx, t); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	res := t.Resource()
	res.SRN = parent.SRN + "/" + res.Name()
	if parent.SRN == "" {
		res.SRN = res.Name()
	}

	// Persist; duplicate resource-IDs and structured paths surface as
	// conflicts from the store's unique constraints.
	if err := d.store.Create(ctx, res); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	if err := t.Activate(ctx, env); err != nil {
		d.compensateCreate(ctx, res.RI())
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("resource creation rolled back because activation failed: %w", err))
	}
	if err := parentTyped.ChildAdded(ctx, env, t); err != nil {
		d.compensateCreate(ctx, res.RI())
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("resource creation rolled back because the parent refused it: %w", err))
	}

	d.notifySubscribers(ctx, parent, resource.NotifyEventCreateChild, resource.Representation(t))
	d.logger.Info("resource created",
		"ri", res.RI(), "ty", int(res.Type()), "srn", res.SRN, "originator", originator)

	_, payload, _ := resource.ParseContent(req.Content)
	content, err := shapeCreate(t, payload, req.ResultContent)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	return onem2m.NewResult(req.Operation, req.RequestID, content)
}

// checkRegistrationUniqueness rejects a second registration under an
// already-taken AE-ID or CSE-ID.
func (d *Dispatcher) checkRegistrationUniqueness(ctx context.Context, t resource.Typed) error {
	var attr, value string
	switch typed := t.(type) {
	case *resource.AE:
		attr, value = resource.AttrAEID, typed.Resource().String(resource.AttrAEID)
	case *resource.RemoteCSE:
		attr, value = resource.AttrCSEID, typed.Resource().String(resource.AttrCSEID)
	default:
		return nil
	}
	if value == "" {
		return nil
	}
	matches, err := d.store.Search(ctx, attr, value)
	if err != nil {
		return fmt.Errorf("uniqueness check failed: %v: %w", err, onem2m.ErrInternal)
	}
	if len(matches) > 0 {
		return fmt.Errorf("%s %q is already registered: %w", attr, value, onem2m.ErrConflict)
	}
	return nil
}

// compensateCreate removes a resource whose multi-step creation failed
// after persistence. Best effort: the failure that triggered it is the
// one reported to the caller.
func (d *Dispatcher) compensateCreate(ctx context.Context, ri string) {
	if err := d.removeResource(ctx, ri, true); err != nil {
		d.logger.Error("compensating delete failed", "ri", ri, "error", err)
	}
}
