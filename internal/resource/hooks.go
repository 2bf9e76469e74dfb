package resource

import (
	"context"
	"time"

	"github.com/wrenware/lattice/internal/onem2m"
)

// nowFunc is the clock used for expiration checks; a variable so tests can
// pin time.
var nowFunc = time.Now

// Env is the slice of the system a lifecycle hook may touch. The dispatch
// core implements it over the resource store and the notification sender;
// keeping it an interface here avoids a dependency cycle and keeps hooks
// testable with a fake.
type Env interface {
	// Fetch loads a resource by resource-ID.
	Fetch(ctx context.Context, ri string) (Typed, error)

	// Children lists a resource's direct children, optionally restricted
	// to the given types, in child-index order.
	Children(ctx context.Context, ri string, types ...onem2m.ResourceType) ([]Typed, error)

	// Persist writes attribute bookkeeping performed by a hook (state
	// tags, instance counters) back to the store.
	Persist(ctx context.Context, t Typed) error

	// Remove deletes a descendant as part of a hook's own housekeeping,
	// such as oldest-instance eviction. The full lifecycle (deactivate,
	// child-removed) runs for the removed resource.
	Remove(ctx context.Context, ri string) error

	// SendNotification delivers a notification envelope to a URI or
	// resource address on behalf of a hook, honouring ctx as deadline.
	SendNotification(ctx context.Context, target string, content map[string]any) error

	// Logger mirrors the logging interface the rest of the system uses.
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Typed is the behaviour contract every concrete resource type implements.
// The factory selects the implementation from the stored type tag; the
// dispatch core drives the hooks in the documented order:
//
//	CREATE:  Validate(true) → persist → Activate → parent.ChildAdded
//	UPDATE:  WillUpdate → merge → persist → DidUpdate
//	DELETE:  WillDeactivate → Deactivate → delete → parent.ChildRemoved
type Typed interface {
	// Resource returns the underlying attribute holder.
	Resource() *Resource

	// ShortName returns the serialization key, e.g. "m2m:cnt".
	ShortName() string

	// CanHaveChild reports whether ty is in this type's allowed-child set.
	CanHaveChild(ty onem2m.ResourceType) bool

	// Validate checks and defaults the attribute set. create distinguishes
	// creation-time from update-time validation.
	Validate(create bool) error

	// WillRetrieve runs before the resource is returned from a RETRIEVE;
	// it may refuse (retrieval disabled) or report not-found.
	WillRetrieve(ctx context.Context, env Env, originator string) error

	// Activate runs after first persistence.
	Activate(ctx context.Context, env Env) error

	// WillUpdate inspects the incoming attribute patch before the merge.
	WillUpdate(ctx context.Context, env Env, patch map[string]any) error

	// DidUpdate runs after the merged resource has been persisted;
	// original is the pre-merge attribute snapshot.
	DidUpdate(ctx context.Context, env Env, original map[string]any) error

	// CanAddChild decides whether the prospective child is structurally
	// acceptable: type membership, cardinality, size limits. Runs before
	// any store mutation.
	CanAddChild(ctx context.Context, env Env, child Typed) error

	// ChildAdded runs after a child has been persisted and activated.
	ChildAdded(ctx context.Context, env Env, child Typed) error

	// ChildRemoved runs after a child has been deleted.
	ChildRemoved(ctx context.Context, env Env, child Typed) error

	// WillDeactivate is the pre-deletion guard; returning an error forbids
	// the deletion.
	WillDeactivate(ctx context.Context, env Env) error

	// Deactivate releases whatever the resource holds. It runs after
	// WillDeactivate passed and must not fail.
	Deactivate(ctx context.Context, env Env)
}

// Registrant is implemented by types whose creation is a registration that
// may rewrite the request originator (AE, remote CSE). The returned
// originator replaces the request's for the rest of the operation.
type Registrant interface {
	Register(ctx context.Context, env Env, originator string) (string, error)
}

// Base supplies neutral hook implementations; concrete types embed it and
// override what they need.
type Base struct {
	res     *Resource
	short   string
	childTy []onem2m.ResourceType
}

// NewBase wraps res with the type's serialization name and allowed-child
// set.
func NewBase(res *Resource, short string, childTypes ...onem2m.ResourceType) Base {
	return Base{res: res, short: short, childTy: childTypes}
}

// Resource returns the underlying attribute holder.
func (b *Base) Resource() *Resource { return b.res }

// ShortName returns the serialization key.
func (b *Base) ShortName() string { return b.short }

// CanHaveChild reports membership in the allowed-child-type set.
func (b *Base) CanHaveChild(ty onem2m.ResourceType) bool {
	for _, t := range b.childTy {
		if t == ty {
			return true
		}
	}
	return false
}

// WillRetrieve permits retrieval by default.
func (b *Base) WillRetrieve(context.Context, Env, string) error { return nil }

// Activate is a no-op by default.
func (b *Base) Activate(context.Context, Env) error { return nil }

// WillUpdate accepts any patch by default; immutable-attribute protection
// happens in Merge.
func (b *Base) WillUpdate(context.Context, Env, map[string]any) error { return nil }

// DidUpdate is a no-op by default.
func (b *Base) DidUpdate(context.Context, Env, map[string]any) error { return nil }

// CanAddChild enforces the allowed-child-type set.
func (b *Base) CanAddChild(_ context.Context, _ Env, child Typed) error {
	if !b.CanHaveChild(child.Resource().Type()) {
		return onem2m.ErrInvalidChildType
	}
	return nil
}

// ChildAdded is a no-op by default.
func (b *Base) ChildAdded(context.Context, Env, Typed) error { return nil }

// ChildRemoved is a no-op by default.
func (b *Base) ChildRemoved(context.Context, Env, Typed) error { return nil }

// WillDeactivate permits deletion by default.
func (b *Base) WillDeactivate(context.Context, Env) error { return nil }

// Deactivate is a no-op by default.
func (b *Base) Deactivate(context.Context, Env) {}
