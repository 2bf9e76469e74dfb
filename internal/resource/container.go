package resource

import (
	"context"
	"fmt"

	"github.com/wrenware/lattice/internal/onem2m"
)

// Container-specific short attribute names.
const (
	AttrMaxInstances     = "mni"
	AttrMaxByteSize      = "mbs"
	AttrCurrentInstances = "cni"
	AttrCurrentByteSize  = "cbs"
	AttrDisableRetrieval = "disr"
	AttrContentSize      = "cs"
)

// Container holds content instances and maintains the instance bookkeeping
// (cni, cbs, st) as instances arrive and leave.
type Container struct {
	Base
}

func newContainer(res *Resource) *Container {
	return &Container{Base: NewBase(res, "m2m:cnt",
		onem2m.TypeContainer,
		onem2m.TypeContentInstance,
		onem2m.TypeSubscription,
	)}
}

// Validate checks the limit attributes and, on creation, initialises the
// bookkeeping counters.
func (c *Container) Validate(create bool) error {
	r := c.Resource()
	if err := validateCommon(r, create); err != nil {
		return err
	}
	if mni, ok := r.IntAttr(AttrMaxInstances); ok && mni < 0 {
		return fmt.Errorf("mni must not be negative: %w", onem2m.ErrBadRequest)
	}
	if mbs, ok := r.IntAttr(AttrMaxByteSize); ok && mbs < 0 {
		return fmt.Errorf("mbs must not be negative: %w", onem2m.ErrBadRequest)
	}
	if create {
		r.SetInt(AttrCurrentInstances, 0)
		r.SetInt(AttrCurrentByteSize, 0)
		r.SetInt(onem2m.AttrStateTag, 0)
	}
	return nil
}

// WillRetrieve refuses when retrieval has been disabled on the container.
func (c *Container) WillRetrieve(_ context.Context, _ Env, _ string) error {
	if disr, _ := c.Resource().Attributes[AttrDisableRetrieval].(bool); disr {
		return fmt.Errorf("retrieval is disabled for this container: %w", onem2m.ErrOperationNotAllowed)
	}
	return nil
}

// CanAddChild refuses a content instance whose size alone already exceeds
// the container's byte-size limit; no store mutation has happened yet at
// this point, so the refusal leaves nothing behind.
func (c *Container) CanAddChild(ctx context.Context, env Env, child Typed) error {
	if err := c.Base.CanAddChild(ctx, env, child); err != nil {
		return err
	}
	if child.Resource().Type() != onem2m.TypeContentInstance {
		return nil
	}
	if mbs, ok := c.Resource().IntAttr(AttrMaxByteSize); ok {
		if cs := child.Resource().Int(AttrContentSize); cs > mbs {
			return fmt.Errorf("content size %d exceeds container limit %d: %w", cs, mbs, onem2m.ErrContentsUnacceptable)
		}
	}
	return nil
}

// ChildAdded maintains the instance counters when a content instance
// arrives and evicts the oldest instances while either limit is exceeded.
func (c *Container) ChildAdded(ctx context.Context, env Env, child Typed) error {
	if child.Resource().Type() != onem2m.TypeContentInstance {
		return nil
	}
	r := c.Resource()
	r.SetInt(onem2m.AttrStateTag, r.Int(onem2m.AttrStateTag)+1)
	r.SetInt(AttrCurrentInstances, r.Int(AttrCurrentInstances)+1)
	r.SetInt(AttrCurrentByteSize, r.Int(AttrCurrentByteSize)+child.Resource().Int(AttrContentSize))
	r.Touch()
	if err := c.enforceLimits(ctx, env); err != nil {
		return err
	}
	return env.Persist(ctx, c)
}

// ChildRemoved keeps the counters in step when a content instance leaves.
func (c *Container) ChildRemoved(ctx context.Context, env Env, child Typed) error {
	if child.Resource().Type() != onem2m.TypeContentInstance {
		return nil
	}
	r := c.Resource()
	if cni := r.Int(AttrCurrentInstances); cni > 0 {
		r.SetInt(AttrCurrentInstances, cni-1)
	}
	cbs := r.Int(AttrCurrentByteSize) - child.Resource().Int(AttrContentSize)
	if cbs < 0 {
		cbs = 0
	}
	r.SetInt(AttrCurrentByteSize, cbs)
	r.Touch()
	return env.Persist(ctx, c)
}

// enforceLimits evicts oldest content instances until mni and mbs hold.
// Each eviction runs the full child lifecycle, which in turn re-enters
// ChildRemoved and keeps the counters truthful.
func (c *Container) enforceLimits(ctx context.Context, env Env) error {
	r := c.Resource()
	mni, hasMNI := r.IntAttr(AttrMaxInstances)
	mbs, hasMBS := r.IntAttr(AttrMaxByteSize)
	if !hasMNI && !hasMBS {
		return nil
	}

	for {
		overInstances := hasMNI && r.Int(AttrCurrentInstances) > mni
		overBytes := hasMBS && r.Int(AttrCurrentByteSize) > mbs
		if !overInstances && !overBytes {
			return nil
		}
		instances, err := env.Children(ctx, r.RI(), onem2m.TypeContentInstance)
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			return nil
		}
		oldest := instances[0]
		env.Debug("evicting oldest content instance",
			"container", r.RI(), "instance", oldest.Resource().RI())
		if err := env.Remove(ctx, oldest.Resource().RI()); err != nil {
			return err
		}
	}
}
