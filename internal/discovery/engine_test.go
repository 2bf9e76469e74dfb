package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
	"github.com/wrenware/lattice/internal/store"
)

// mockStore serves a fixed tree from maps.
type mockStore struct {
	byRI     map[string]*resource.Resource
	byPath   map[string]*resource.Resource
	children map[string][]store.ChildRef
}

func newMockStore() *mockStore {
	return &mockStore{
		byRI:     make(map[string]*resource.Resource),
		byPath:   make(map[string]*resource.Resource),
		children: make(map[string][]store.ChildRef),
	}
}

func (m *mockStore) add(res *resource.Resource) *resource.Resource {
	m.byRI[res.RI()] = res
	m.byPath[res.SRN] = res
	if pi := res.ParentID(); pi != "" {
		m.children[pi] = append(m.children[pi], store.ChildRef{RI: res.RI(), Type: res.Type()})
	}
	return res
}

func (m *mockStore) Get(_ context.Context, ri string) (*resource.Resource, error) {
	res, ok := m.byRI[ri]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", ri, onem2m.ErrNotFound)
	}
	return res, nil
}

func (m *mockStore) GetByPath(_ context.Context, srn string) (*resource.Resource, error) {
	res, ok := m.byPath[srn]
	if !ok {
		return nil, fmt.Errorf("path %q: %w", srn, onem2m.ErrNotFound)
	}
	return res, nil
}

func (m *mockStore) Create(context.Context, *resource.Resource) error { return nil }
func (m *mockStore) Update(context.Context, *resource.Resource) error { return nil }
func (m *mockStore) Delete(context.Context, string) error             { return nil }

func (m *mockStore) ChildrenOf(_ context.Context, pi string, types ...onem2m.ResourceType) ([]store.ChildRef, error) {
	refs := m.children[pi]
	if len(types) == 0 {
		return refs, nil
	}
	var out []store.ChildRef
	for _, ref := range refs {
		for _, ty := range types {
			if ref.Type == ty {
				out = append(out, ref)
			}
		}
	}
	return out, nil
}

func (m *mockStore) Search(context.Context, string, string) ([]*resource.Resource, error) {
	return nil, nil
}

// mockOracle denies the resource-IDs in its deny set.
type mockOracle struct {
	deny map[string]bool
}

func (m *mockOracle) HasAccess(_ context.Context, _ string, res *resource.Resource, _ onem2m.Permission) (bool, error) {
	return !m.deny[res.RI()], nil
}

func node(st *mockStore, ty onem2m.ResourceType, ri, pi, rn, srn string) *resource.Resource {
	res := resource.New(ty, ri, pi, rn)
	res.SRN = srn
	return st.add(res)
}

// testTree builds:
//
//	cb-001 (cse-base)
//	├── ae-001 (app)
//	│   └── cnt-001 (data)
//	│       ├── cin-001, cin-002
//	│       └── la (virtual, via child index only)
//	└── cnt-002 (shared)
func testTree(t *testing.T) (*mockStore, *resource.Resource) {
	t.Helper()
	st := newMockStore()
	root := node(st, onem2m.TypeCSEBase, "cb-001", "", "cse-base", "cse-base")
	node(st, onem2m.TypeAE, "ae-001", "cb-001", "app", "cse-base/app")
	node(st, onem2m.TypeContainer, "cnt-001", "ae-001", "data", "cse-base/app/data")
	cin1 := node(st, onem2m.TypeContentInstance, "cin-001", "cnt-001", "i1", "cse-base/app/data/i1")
	cin1.Set(onem2m.AttrCreationTime, "20260101T000001")
	cin2 := node(st, onem2m.TypeContentInstance, "cin-002", "cnt-001", "i2", "cse-base/app/data/i2")
	cin2.Set(onem2m.AttrCreationTime, "20260101T000002")
	st.children["cnt-001"] = append(st.children["cnt-001"], store.ChildRef{RI: "la", Type: onem2m.TypeLatest})
	node(st, onem2m.TypeContainer, "cnt-002", "cb-001", "shared", "cse-base/shared")
	return st, root
}

func engineOver(st *mockStore) *Engine {
	return New(st, &mockOracle{}, true)
}

func ris(results []*resource.Resource) []string {
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.RI()
	}
	return out
}

func intp(v int) *int { return &v }

// ===========================================================================
// Walk semantics
// ===========================================================================

func TestDiscover_FullWalk(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	results, err := e.Discover(context.Background(), root, "CAdmin", nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("len = %d, want 5: %v", len(results), ris(results))
	}
	// Sorted: AE (2) before containers (3) before instances (4); containers
	// by name, instances by creation time.
	want := []string{"ae-001", "cnt-001", "cnt-002", "cin-001", "cin-002"}
	for i, ri := range want {
		if results[i].RI() != ri {
			t.Errorf("results[%d] = %q, want %q (all: %v)", i, results[i].RI(), ri, ris(results))
		}
	}
}

func TestDiscover_VirtualChildrenSkipped(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	results, err := e.Discover(context.Background(), root, "CAdmin", nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for _, res := range results {
		if res.Type().IsVirtual() {
			t.Errorf("virtual resource %q in results", res.RI())
		}
	}
}

func TestDiscover_LevelLimitsDepth(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	results, err := e.Discover(context.Background(), root, "CAdmin", &onem2m.FilterCriteria{Level: intp(1)})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := map[string]bool{"ae-001": true, "cnt-002": true}
	if len(results) != len(want) {
		t.Fatalf("len = %d, want %d: %v", len(results), len(want), ris(results))
	}
	for _, res := range results {
		if !want[res.RI()] {
			t.Errorf("unexpected %q at level 1", res.RI())
		}
	}
}

func TestDiscover_NonPositiveLevelMatchesNothing(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	results, err := e.Discover(context.Background(), root, "CAdmin", &onem2m.FilterCriteria{Level: intp(0)})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("lvl=0 returned %v", ris(results))
	}
}

func TestDiscover_MaxLevelCapsUnfilteredWalks(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)
	e.SetMaxLevel(1)

	results, err := e.Discover(context.Background(), root, "CAdmin", nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("capped walk returned %v", ris(results))
	}

	// An explicit level filter overrides the engine cap.
	results, err = e.Discover(context.Background(), root, "CAdmin", &onem2m.FilterCriteria{Level: intp(3)})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("explicit lvl did not override the cap: %v", ris(results))
	}
}

func TestDiscover_DeniedResourcesOmitted(t *testing.T) {
	st, root := testTree(t)
	e := New(st, &mockOracle{deny: map[string]bool{"cnt-001": true}}, true)

	results, err := e.Discover(context.Background(), root, "Cstranger", nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for _, res := range results {
		if res.RI() == "cnt-001" {
			t.Error("denied resource returned")
		}
	}
	// Denial hides the resource, not its subtree.
	found := false
	for _, res := range results {
		if res.RI() == "cin-001" {
			found = true
		}
	}
	if !found {
		t.Error("subtree of a denied resource was pruned")
	}
}

func TestDiscover_ExpiredOmitted(t *testing.T) {
	st, root := testTree(t)
	st.byRI["cnt-002"].Set(onem2m.AttrExpirationTime, "20200101T000000")
	e := engineOver(st)

	results, err := e.Discover(context.Background(), root, "CAdmin", nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for _, res := range results {
		if res.RI() == "cnt-002" {
			t.Error("expired resource returned")
		}
	}
}

func TestDiscover_VanishedChildTolerated(t *testing.T) {
	st, root := testTree(t)
	delete(st.byRI, "cnt-002") // index entry remains
	e := engineOver(st)

	results, err := e.Discover(context.Background(), root, "CAdmin", nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("len = %d, want 4: %v", len(results), ris(results))
	}
}

// ===========================================================================
// Pagination
// ===========================================================================

func TestDiscover_PaginationAppliesToTopLevel(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	// Limit 1 keeps only the first top-level child (ae-001), whose whole
	// subtree is still walked.
	results, err := e.Discover(context.Background(), root, "CAdmin", &onem2m.FilterCriteria{Limit: intp(1)})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("len = %d, want 4: %v", len(results), ris(results))
	}

	results, err = e.Discover(context.Background(), root, "CAdmin", &onem2m.FilterCriteria{Offset: intp(1)})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 1 || results[0].RI() != "cnt-002" {
		t.Errorf("offset walk = %v", ris(results))
	}

	results, err = e.Discover(context.Background(), root, "CAdmin", &onem2m.FilterCriteria{Offset: intp(5)})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("offset past end = %v", ris(results))
	}
}

// ===========================================================================
// Relative path application
// ===========================================================================

func TestDiscover_ApplyRelativePath(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	fc := &onem2m.FilterCriteria{
		ResourceTypes:     []onem2m.ResourceType{onem2m.TypeAE},
		ApplyRelativePath: "data",
	}
	results, err := e.Discover(context.Background(), root, "CAdmin", fc)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 1 || results[0].RI() != "cnt-001" {
		t.Errorf("arp results = %v, want [cnt-001]", ris(results))
	}
}

func TestDiscover_ApplyRelativePathDropsMisses(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	fc := &onem2m.FilterCriteria{
		ResourceTypes:     []onem2m.ResourceType{onem2m.TypeContainer},
		ApplyRelativePath: "nonexistent",
	}
	results, err := e.Discover(context.Background(), root, "CAdmin", fc)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("arp misses kept: %v", ris(results))
	}
}

// ===========================================================================
// Filter matching
// ===========================================================================

func TestDiscover_TypeFilter(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	fc := &onem2m.FilterCriteria{ResourceTypes: []onem2m.ResourceType{onem2m.TypeContentInstance}}
	results, err := e.Discover(context.Background(), root, "CAdmin", fc)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("type filter = %v", ris(results))
	}
}

func TestDiscover_LabelFilter(t *testing.T) {
	st, root := testTree(t)
	st.byRI["cnt-001"].Set(onem2m.AttrLabels, []any{"room:kitchen"})
	e := engineOver(st)

	fc := &onem2m.FilterCriteria{Labels: []string{"room:kitchen"}}
	results, err := e.Discover(context.Background(), root, "CAdmin", fc)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 1 || results[0].RI() != "cnt-001" {
		t.Errorf("label filter = %v", ris(results))
	}
}

func TestDiscover_ANDvsOR(t *testing.T) {
	st, root := testTree(t)
	st.byRI["cnt-001"].Set(onem2m.AttrLabels, []any{"room:kitchen"})
	e := engineOver(st)

	// AND: container type and a label only cnt-001 carries.
	fc := &onem2m.FilterCriteria{
		ResourceTypes: []onem2m.ResourceType{onem2m.TypeContainer},
		Labels:        []string{"room:kitchen"},
	}
	results, err := e.Discover(context.Background(), root, "CAdmin", fc)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("AND filter = %v", ris(results))
	}

	// OR: every container or anything with the label.
	fc.FilterOperation = onem2m.FilterOperationOR
	results, err = e.Discover(context.Background(), root, "CAdmin", fc)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("OR filter = %v", ris(results))
	}
}

func TestDiscover_BadTimestampRejected(t *testing.T) {
	st, root := testTree(t)
	e := engineOver(st)

	_, err := e.Discover(context.Background(), root, "CAdmin", &onem2m.FilterCriteria{CreatedBefore: "garbage"})
	if !errors.Is(err, onem2m.ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest", err)
	}
}

// ===========================================================================
// Attribute matcher
// ===========================================================================

func TestAttributeMatches(t *testing.T) {
	tests := []struct {
		name string
		have any
		want string
		ok   bool
	}{
		{"string equal", "sensor", "sensor", true},
		{"string differ", "sensor", "actuator", false},
		{"wildcard match", "sensor-42", "sensor-*", true},
		{"wildcard miss", "actuator", "sensor-*", false},
		{"list containment", []any{"a", "b"}, "b", true},
		{"list miss", []any{"a"}, "b", false},
		{"number as string", float64(5), "5", true},
		{"bool as string", true, "true", true},
		{"absent", nil, "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := attributeMatches(tt.have, tt.want); got != tt.ok {
				t.Errorf("attributeMatches(%v, %q) = %v, want %v", tt.have, tt.want, got, tt.ok)
			}
		})
	}
}

// ===========================================================================
// Advanced query
// ===========================================================================

func TestParseQuery(t *testing.T) {
	res := resource.New(onem2m.TypeContainer, "cnt-001", "cb-001", "c")
	res.SetInt("mni", 10)
	res.Set("lbl", "room")

	tests := []struct {
		query string
		want  bool
	}{
		{`mni == 10`, true},
		{`mni != 10`, false},
		{`mni > 5`, true},
		{`mni >= 10`, true},
		{`mni < 5`, false},
		{`rn == "c"`, true},
		{`rn == 'c'`, true},
		{`mni > 5 & rn == c`, true},
		{`mni > 50 & rn == c`, false},
		{`mni > 50 | rn == c`, true},
		{`(mni > 50 | mni < 20) & rn == c`, true},
		{`missing == 1`, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			expr, err := parseQuery(tt.query)
			if err != nil {
				t.Fatalf("parseQuery(%q): %v", tt.query, err)
			}
			if got := expr.matches(res); got != tt.want {
				t.Errorf("matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseQuery_Malformed(t *testing.T) {
	for _, query := range []string{"", "mni ==", "mni ~ 5", "(mni == 1", "mni == 1 extra"} {
		t.Run(query, func(t *testing.T) {
			if _, err := parseQuery(query); !errors.Is(err, onem2m.ErrBadRequest) {
				t.Errorf("parseQuery(%q) = %v, want ErrBadRequest", query, err)
			}
		})
	}
}

// ===========================================================================
// Geo predicate
// ===========================================================================

func TestGeoPredicate(t *testing.T) {
	square := `[[0,0],[10,0],[10,10],[0,10]]`

	inside := resource.New(onem2m.TypeContainer, "in", "cb-001", "in")
	inside.Set("loc", map[string]any{"typ": "Point", "crd": "[5,5]"})
	outside := resource.New(onem2m.TypeContainer, "out", "cb-001", "out")
	outside.Set("loc", map[string]any{"typ": "Point", "crd": "[20,20]"})
	noLoc := resource.New(onem2m.TypeContainer, "none", "cb-001", "none")

	p, err := newGeoPredicate("Polygon", square, "within")
	if err != nil {
		t.Fatalf("newGeoPredicate: %v", err)
	}
	if !p.matches(inside) {
		t.Error("point inside the polygon did not match within")
	}
	if p.matches(outside) {
		t.Error("point outside the polygon matched within")
	}
	if p.matches(noLoc) {
		t.Error("resource without loc matched")
	}

	p, err = newGeoPredicate("Point", "[5,5]", "contains")
	if err != nil {
		t.Fatalf("newGeoPredicate: %v", err)
	}
	region := resource.New(onem2m.TypeContainer, "region", "cb-001", "region")
	region.Set("loc", map[string]any{"typ": "Polygon", "crd": square})
	if !p.matches(region) {
		t.Error("polygon containing the filter point did not match contains")
	}
}

func TestGeoPredicate_Invalid(t *testing.T) {
	if _, err := newGeoPredicate("Polygon", `[[0,0],[1,1],[2,2]]`, "orbits"); !errors.Is(err, onem2m.ErrBadRequest) {
		t.Errorf("unknown operator accepted: %v", err)
	}
	if _, err := newGeoPredicate("Blob", `[]`, "within"); !errors.Is(err, onem2m.ErrBadRequest) {
		t.Errorf("unknown geometry type accepted: %v", err)
	}
	if _, err := newGeoPredicate("Polygon", `[[0,0],[1,1]]`, "within"); !errors.Is(err, onem2m.ErrBadRequest) {
		t.Errorf("two-point polygon accepted: %v", err)
	}
}
