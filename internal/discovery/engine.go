package discovery

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
	"github.com/wrenware/lattice/internal/security"
	"github.com/wrenware/lattice/internal/store"
)

// Logger is the subset of the logging interface the engine uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Engine walks the tree for discovery and child-listing result modes.
type Engine struct {
	store  store.Store
	oracle security.Oracle
	logger Logger

	// sortResults enables the deterministic ordering pass after the walk.
	sortResults bool

	// maxLevel caps walk depth when the caller sets no level filter.
	// Zero means unbounded.
	maxLevel int
}

// New creates a discovery engine.
func New(st store.Store, oracle security.Oracle, sortResults bool) *Engine {
	return &Engine{store: st, oracle: oracle, logger: noopLogger{}, sortResults: sortResults}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetMaxLevel caps the walk depth applied when a filter carries no level
// condition of its own.
func (e *Engine) SetMaxLevel(levels int) {
	e.maxLevel = levels
}

// Discover returns the descendants of root matching the criteria and
// permitted to the originator, in tree-walk order (or sorted when the
// engine is configured to sort).
func (e *Engine) Discover(ctx context.Context, root *resource.Resource, originator string, fc *onem2m.FilterCriteria) ([]*resource.Resource, error) {
	if fc == nil {
		fc = &onem2m.FilterCriteria{}
	}

	matcher, err := newMatcher(fc)
	if err != nil {
		return nil, err
	}

	perm := onem2m.PermissionRetrieve
	if fc.FilterUsage == onem2m.FilterUsageDiscovery {
		perm = onem2m.PermissionDiscover
	}

	level := -1 // unbounded; the tree is finite
	if e.maxLevel > 0 {
		level = e.maxLevel
	}
	if fc.Level != nil {
		if *fc.Level <= 0 {
			return nil, nil
		}
		level = *fc.Level
	}

	refs, err := e.store.ChildrenOf(ctx, root.RI())
	if err != nil {
		return nil, err
	}
	refs = paginate(refs, fc.Offset, fc.Limit)

	var results []*resource.Resource
	for _, ref := range refs {
		results, err = e.walk(ctx, ref, originator, matcher, perm, level, results)
		if err != nil {
			return nil, err
		}
	}

	if fc.ApplyRelativePath != "" {
		results, err = e.applyRelativePath(ctx, results, originator, fc.ApplyRelativePath, perm)
		if err != nil {
			return nil, err
		}
	}

	if e.sortResults {
		sortResources(results)
	}
	return results, nil
}

// walk visits one child and recurses into its subtree. remaining counts
// levels still allowed below this point; it is always finite or the tree
// bounds it.
func (e *Engine) walk(ctx context.Context, ref store.ChildRef, originator string, m *matcher, perm onem2m.Permission, remaining int, acc []*resource.Resource) ([]*resource.Resource, error) {
	if ref.Type.IsVirtual() {
		return acc, nil
	}

	res, err := e.store.Get(ctx, ref.RI)
	if err != nil {
		if errors.Is(err, onem2m.ErrNotFound) {
			// Deleted between index read and fetch; consistent enough.
			e.logger.Debug("child vanished during discovery walk", "ri", ref.RI)
			return acc, nil
		}
		return nil, err
	}

	matched, err := m.matches(res)
	if err != nil {
		return nil, err
	}
	if matched && !res.Expired() {
		granted, err := e.oracle.HasAccess(ctx, originator, res, perm)
		if err != nil {
			return nil, err
		}
		if granted {
			acc = append(acc, res)
		}
	}

	if remaining == 1 {
		return acc, nil
	}
	children, err := e.store.ChildrenOf(ctx, res.RI())
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		acc, err = e.walk(ctx, child, originator, m, perm, remaining-1, acc)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// applyRelativePath appends the fixed sub-path to every discovered
// resource, re-resolves it, and keeps only the targets that exist and are
// permitted.
func (e *Engine) applyRelativePath(ctx context.Context, in []*resource.Resource, originator, arp string, perm onem2m.Permission) ([]*resource.Resource, error) {
	arp = strings.Trim(arp, "/")
	out := make([]*resource.Resource, 0, len(in))
	for _, res := range in {
		target, err := e.store.GetByPath(ctx, res.SRN+"/"+arp)
		if err != nil {
			if errors.Is(err, onem2m.ErrNotFound) {
				continue
			}
			return nil, err
		}
		granted, err := e.oracle.HasAccess(ctx, originator, target, perm)
		if err != nil {
			return nil, err
		}
		if granted {
			out = append(out, target)
		}
	}
	return out, nil
}

// paginate slices the top-level child set per the protocol's pagination
// semantics: offset first, then limit.
func paginate(refs []store.ChildRef, offset, limit *int) []store.ChildRef {
	if offset != nil {
		if *offset >= len(refs) {
			return nil
		}
		if *offset > 0 {
			refs = refs[*offset:]
		}
	}
	if limit != nil && *limit >= 0 && *limit < len(refs) {
		refs = refs[:*limit]
	}
	return refs
}

// sortResources orders the flat result: content instances by creation
// time, everything else by type then case-insensitive name.
func sortResources(results []*resource.Resource) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Type().IsInstance() && b.Type().IsInstance() {
			return a.CreationTime() < b.CreationTime()
		}
		if a.Type() != b.Type() {
			return a.Type() < b.Type()
		}
		return strings.ToLower(a.Name()) < strings.ToLower(b.Name())
	})
}
