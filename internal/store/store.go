package store

import (
	"context"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// ChildRef is one entry of the per-parent child index, in creation order.
type ChildRef struct {
	RI   string
	Type onem2m.ResourceType
}

// Store is the persistence facade consumed by the dispatch core and the
// discovery engine. Implementations must serialize mutations per
// resource-ID and keep the identifier map and child index transactional
// with the resource document.
//
// Missing resources are reported by wrapping onem2m.ErrNotFound; duplicate
// resource-IDs or structured paths by wrapping onem2m.ErrConflict.
type Store interface {
	// Get loads a resource by resource-ID.
	Get(ctx context.Context, ri string) (*resource.Resource, error)

	// GetByPath loads a resource by structured path via the identifier
	// mapping.
	GetByPath(ctx context.Context, srn string) (*resource.Resource, error)

	// Create persists a new resource together with its identifier mapping
	// and child-index entry.
	Create(ctx context.Context, res *resource.Resource) error

	// Update replaces the stored document with the already-merged
	// attribute set. Identity attributes never change across an update.
	Update(ctx context.Context, res *resource.Resource) error

	// Delete removes the resource, its identifier mapping, and its
	// child-index entries.
	Delete(ctx context.Context, ri string) error

	// ChildrenOf lists the direct children of a parent in creation order,
	// optionally restricted to the given types.
	ChildrenOf(ctx context.Context, pi string, types ...onem2m.ResourceType) ([]ChildRef, error)

	// Search finds resources whose document attribute equals value. Used
	// for uniqueness checks and ad-hoc lookups (AE-IDs, CSE-IDs).
	Search(ctx context.Context, attr, value string) ([]*resource.Resource, error)
}
