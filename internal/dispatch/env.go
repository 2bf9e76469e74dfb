package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// hookEnv is the resource.Env the dispatcher hands to lifecycle hooks. It
// scopes hook side effects to the store, the notifier, and the logger.
type hookEnv struct {
	d *Dispatcher
}

func (d *Dispatcher) env() *hookEnv {
	return &hookEnv{d: d}
}

// Fetch implements resource.Env.
func (e *hookEnv) Fetch(ctx context.Context, ri string) (resource.Typed, error) {
	res, err := e.d.store.Get(ctx, ri)
	if err != nil {
		return nil, err
	}
	return typedOf(res)
}

// Children implements resource.Env.
func (e *hookEnv) Children(ctx context.Context, ri string, types ...onem2m.ResourceType) ([]resource.Typed, error) {
	refs, err := e.d.store.ChildrenOf(ctx, ri, types...)
	if err != nil {
		return nil, err
	}
	out := make([]resource.Typed, 0, len(refs))
	for _, ref := range refs {
		res, err := e.d.store.Get(ctx, ref.RI)
		if err != nil {
			if errors.Is(err, onem2m.ErrNotFound) {
				continue
			}
			return nil, err
		}
		t, err := typedOf(res)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Persist implements resource.Env.
func (e *hookEnv) Persist(ctx context.Context, t resource.Typed) error {
	return e.d.store.Update(ctx, t.Resource())
}

// Remove implements resource.Env: a full-lifecycle delete on behalf of a
// hook, used for oldest-instance eviction.
func (e *hookEnv) Remove(ctx context.Context, ri string) error {
	return e.d.removeResource(ctx, ri, false)
}

// SendNotification implements resource.Env.
func (e *hookEnv) SendNotification(ctx context.Context, target string, content map[string]any) error {
	return e.d.deliverNotification(ctx, target, content)
}

// Debug implements resource.Env.
func (e *hookEnv) Debug(msg string, args ...any) { e.d.logger.Debug(msg, args...) }

// Warn implements resource.Env.
func (e *hookEnv) Warn(msg string, args ...any) { e.d.logger.Warn(msg, args...) }

// removeResource deletes a resource with its full lifecycle: subtree
// first, then deactivation, store delete, parent child-removed, and the
// parent's subscription notifications. notifyParentSubs is false when the
// caller already handles notification (compensating deletes).
func (d *Dispatcher) removeResource(ctx context.Context, ri string, compensating bool) error {
	res, err := d.store.Get(ctx, ri)
	if err != nil {
		return err
	}
	t, err := typedOf(res)
	if err != nil {
		return err
	}
	env := d.env()

	// Children go first; deletion never cascades implicitly in the store.
	children, err := d.store.ChildrenOf(ctx, ri)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := d.removeResource(ctx, child.RI, compensating); err != nil && !errors.Is(err, onem2m.ErrNotFound) {
			return fmt.Errorf("removing subtree of %q: %w", ri, err)
		}
	}

	t.Deactivate(ctx, env)
	if err := d.store.Delete(ctx, ri); err != nil {
		return err
	}

	if pi := res.ParentID(); pi != "" {
		parent, err := d.store.Get(ctx, pi)
		if err == nil {
			if parentTyped, terr := typedOf(parent); terr == nil {
				if herr := parentTyped.ChildRemoved(ctx, env, t); herr != nil {
					d.logger.Warn("child-removed hook failed", "parent", pi, "child", ri, "error", herr)
				}
				if !compensating {
					d.notifySubscribers(ctx, parent, resource.NotifyEventDeleteChild, resource.Representation(t))
				}
			}
		}
	}
	return nil
}

// deliverNotification routes a notification to its target: an absolute URI
// goes out through the notifier, a resource address is resolved locally to
// a notification-capable entity.
func (d *Dispatcher) deliverNotification(ctx context.Context, target string, content map[string]any) error {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") ||
		strings.HasPrefix(target, "mqtt://") {
		return d.notifier.SendNotification(ctx, target, content)
	}

	resolved, err := addressing.Resolve(target, d.local)
	if err != nil {
		return err
	}
	if resolved.Remote() {
		if d.forwarder == nil {
			return fmt.Errorf("no forwarder for notification target %q: %w", target, onem2m.ErrNotReachable)
		}
		result := d.forwarder.Forward(ctx, &onem2m.Request{
			Operation:  onem2m.OperationNotify,
			Target:     target,
			Originator: "/" + d.local.CSEID,
			Content:    content,
		}, resolved.RemoteCSEID)
		if !result.OK() {
			return fmt.Errorf("remote notification failed: %s: %w", result.Debug, onem2m.ErrNotReachable)
		}
		return nil
	}

	res, err := d.fetch(ctx, resolved)
	if err != nil {
		return err
	}
	return d.notifyResource(ctx, res, content)
}

// notifyResource delivers to a local notification-capable resource: a
// polling channel enqueues, an AE or remote CSE goes out via its points of
// access.
func (d *Dispatcher) notifyResource(ctx context.Context, res *resource.Resource, content map[string]any) error {
	switch res.Type() {
	case onem2m.TypePollingChannel:
		return d.polling.enqueue(ctx, res.RI(), content)
	case onem2m.TypeAE, onem2m.TypeRemoteCSE, onem2m.TypeCSEBase:
		poa := res.StringSlice(resource.AttrPointOfAccess)
		if len(poa) == 0 {
			// An unreachable AE may still own a polling channel.
			if pch := d.pollingChannelOf(ctx, res.RI()); pch != "" {
				return d.polling.enqueue(ctx, pch, content)
			}
			return fmt.Errorf("notification target %q has no point of access: %w", res.RI(), onem2m.ErrNotReachable)
		}
		var lastErr error
		for _, uri := range poa {
			if lastErr = d.notifier.SendNotification(ctx, uri, content); lastErr == nil {
				return nil
			}
		}
		return lastErr
	default:
		return fmt.Errorf("resource %q cannot receive notifications: %w", res.RI(), onem2m.ErrOperationNotAllowed)
	}
}

// pollingChannelOf returns the first polling channel child of a resource.
func (d *Dispatcher) pollingChannelOf(ctx context.Context, ri string) string {
	refs, err := d.store.ChildrenOf(ctx, ri, onem2m.TypePollingChannel)
	if err != nil || len(refs) == 0 {
		return ""
	}
	return refs[0].RI
}
