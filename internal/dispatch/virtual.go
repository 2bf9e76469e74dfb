package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// defaultLongPoll bounds a pcu long poll when the request carries no
// expiration of its own.
const defaultLongPoll = 30 * time.Second

// handleVirtual redirects an address that ended in a virtual-resource
// segment to the matching handler. Virtual resources are synthesized or
// redirect-only; they never take part in ordinary tree logic.
func (d *Dispatcher) handleVirtual(ctx context.Context, req *onem2m.Request, resolved addressing.Resolved) *onem2m.Result {
	parent, err := d.fetch(ctx, resolved)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	switch resolved.VirtualType {
	case onem2m.TypeLatest, onem2m.TypeOldest:
		return d.handleInstancePointer(ctx, req, parent, resolved.VirtualType)
	case onem2m.TypeFanOutPoint:
		return d.handleFanOut(ctx, req, parent)
	case onem2m.TypePollingChannelURI:
		return d.handlePollingURI(ctx, req, parent)
	default:
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("unknown virtual resource type %d: %w", resolved.VirtualType, onem2m.ErrInternal))
	}
}

// handleInstancePointer serves la/ol under a container: RETRIEVE returns
// the newest/oldest content instance, DELETE removes it. Everything else
// is structurally refused.
func (d *Dispatcher) handleInstancePointer(ctx context.Context, req *onem2m.Request, parent *resource.Resource, ty onem2m.ResourceType) *onem2m.Result {
	if parent.Type() != onem2m.TypeContainer {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("latest/oldest is only defined under a container: %w", onem2m.ErrBadRequest))
	}

	refs, err := d.store.ChildrenOf(ctx, parent.RI(), onem2m.TypeContentInstance)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if len(refs) == 0 {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("container %q has no content instances: %w", parent.RI(), onem2m.ErrNotFound))
	}
	ref := refs[len(refs)-1]
	if ty == onem2m.TypeOldest {
		ref = refs[0]
	}
	res, err := d.store.Get(ctx, ref.RI)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	t, err := typedOf(res)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	switch req.Operation {
	case onem2m.OperationRetrieve:
		if err := d.checkAccess(ctx, req.Originator, res, onem2m.PermissionRetrieve); err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		content, err := shapeSingle(t, onem2m.ResultContentAttributes)
		if err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		return onem2m.NewResult(req.Operation, req.RequestID, content)

	case onem2m.OperationDelete:
		if err := d.checkAccess(ctx, req.Originator, res, onem2m.PermissionDelete); err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		if err := d.removeResource(ctx, res.RI(), false); err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		return onem2m.NewResult(req.Operation, req.RequestID, nil)

	default:
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("operation %s is not defined on latest/oldest: %w",
				req.Operation.String(), onem2m.ErrOperationNotAllowed))
	}
}

// fanOutChainKey carries the resource-IDs of the groups a fanned-out
// request has already passed through.
type fanOutChainKey struct{}

func fanOutChain(ctx context.Context) []string {
	chain, _ := ctx.Value(fanOutChainKey{}).([]string)
	return chain
}

// handleFanOut relays the request to every member of the group and
// aggregates the member results. Groups may legitimately list other
// groups' fan-out points as members; the chain of visited groups guards
// against membership cycles, which would otherwise recurse unboundedly.
func (d *Dispatcher) handleFanOut(ctx context.Context, req *onem2m.Request, parent *resource.Resource) *onem2m.Result {
	if parent.Type() != onem2m.TypeGroup {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("fan-out point is only defined under a group: %w", onem2m.ErrBadRequest))
	}
	chain := fanOutChain(ctx)
	for _, ri := range chain {
		if ri == parent.RI() {
			return onem2m.NewErrorResult(req.RequestID,
				fmt.Errorf("group membership cycle through %q: %w", parent.RI(), onem2m.ErrBadRequest))
		}
	}
	ctx = context.WithValue(ctx, fanOutChainKey{}, append(chain[:len(chain):len(chain)], parent.RI()))
	perm := onem2m.PermissionFor(req.Operation)
	if err := d.checkAccess(ctx, req.Originator, parent, perm); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	t, err := typedOf(parent)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	group := t.(*resource.Group)

	members := group.MemberIDs()
	aggregated := make([]map[string]any, 0, len(members))
	for _, member := range members {
		sub := *req
		sub.Target = member
		sub.RequestID = req.RequestID + "-" + member
		memberResult := d.Handle(ctx, &sub)

		entry := map[string]any{"rsc": int(memberResult.Status), "to": member}
		if memberResult.Content != nil {
			entry["pc"] = memberResult.Content
		}
		if memberResult.Debug != "" {
			entry["dbg"] = memberResult.Debug
		}
		aggregated = append(aggregated, entry)
	}

	return onem2m.NewResult(onem2m.OperationRetrieve, req.RequestID, map[string]any{
		"m2m:agr": aggregated,
	})
}

// handlePollingURI serves the pcu virtual child of a polling channel:
// RETRIEVE long-polls for the next notification, NOTIFY enqueues one.
func (d *Dispatcher) handlePollingURI(ctx context.Context, req *onem2m.Request, parent *resource.Resource) *onem2m.Result {
	if parent.Type() != onem2m.TypePollingChannel {
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("pcu is only defined under a polling channel: %w", onem2m.ErrBadRequest))
	}
	if err := d.checkAccess(ctx, req.Originator, parent, onem2m.PermissionFor(req.Operation)); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	switch req.Operation {
	case onem2m.OperationRetrieve:
		wait := defaultLongPoll
		if req.RequestExpiration != "" {
			if expires, err := onem2m.ParseTimestamp(req.RequestExpiration); err == nil {
				wait = time.Until(expires)
			}
		}
		pollCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		content, err := d.polling.dequeue(pollCtx, parent.RI())
		if err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		return onem2m.NewResult(req.Operation, req.RequestID, content)

	case onem2m.OperationNotify:
		if err := d.polling.enqueue(ctx, parent.RI(), req.Content); err != nil {
			return onem2m.NewErrorResult(req.RequestID, err)
		}
		return onem2m.NewResult(req.Operation, req.RequestID, nil)

	default:
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("operation %s is not defined on pcu: %w",
				req.Operation.String(), onem2m.ErrOperationNotAllowed))
	}
}
