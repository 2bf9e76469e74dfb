package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/discovery"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
	"github.com/wrenware/lattice/internal/security"
	"github.com/wrenware/lattice/internal/store"
)

// memStore is an in-memory Store with the same contract as the SQLite
// implementation: conflict on duplicate ri/srn, child refs in creation
// order, copies on every read so callers never alias stored state.
type memStore struct {
	mu       sync.Mutex
	byRI     map[string]*resource.Resource
	riOfSRN  map[string]string
	children map[string][]store.ChildRef
}

func newMemStore() *memStore {
	return &memStore{
		byRI:     make(map[string]*resource.Resource),
		riOfSRN:  make(map[string]string),
		children: make(map[string][]store.ChildRef),
	}
}

func (m *memStore) Get(_ context.Context, ri string) (*resource.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.byRI[ri]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", ri, onem2m.ErrNotFound)
	}
	return res.DeepCopy(), nil
}

func (m *memStore) GetByPath(ctx context.Context, srn string) (*resource.Resource, error) {
	m.mu.Lock()
	ri, ok := m.riOfSRN[srn]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("structured path %q: %w", srn, onem2m.ErrNotFound)
	}
	return m.Get(ctx, ri)
}

func (m *memStore) Create(_ context.Context, res *resource.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRI[res.RI()]; exists {
		return fmt.Errorf("duplicate %q: %w", res.RI(), onem2m.ErrConflict)
	}
	if _, exists := m.riOfSRN[res.SRN]; exists {
		return fmt.Errorf("duplicate %q: %w", res.SRN, onem2m.ErrConflict)
	}
	m.byRI[res.RI()] = res.DeepCopy()
	m.riOfSRN[res.SRN] = res.RI()
	m.children[res.ParentID()] = append(m.children[res.ParentID()],
		store.ChildRef{RI: res.RI(), Type: res.Type()})
	return nil
}

func (m *memStore) Update(_ context.Context, res *resource.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byRI[res.RI()]
	if !ok {
		return fmt.Errorf("resource %q: %w", res.RI(), onem2m.ErrNotFound)
	}
	clone := res.DeepCopy()
	clone.SRN = stored.SRN
	m.byRI[res.RI()] = clone
	return nil
}

func (m *memStore) Delete(_ context.Context, ri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.byRI[ri]
	if !ok {
		return fmt.Errorf("resource %q: %w", ri, onem2m.ErrNotFound)
	}
	delete(m.byRI, ri)
	delete(m.riOfSRN, res.SRN)
	refs := m.children[res.ParentID()]
	for i, ref := range refs {
		if ref.RI == ri {
			m.children[res.ParentID()] = append(refs[:i:i], refs[i+1:]...)
			break
		}
	}
	delete(m.children, ri)
	return nil
}

func (m *memStore) ChildrenOf(_ context.Context, pi string, types ...onem2m.ResourceType) ([]store.ChildRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := m.children[pi]
	if len(types) == 0 {
		return append([]store.ChildRef(nil), refs...), nil
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

func (m *memStore) Search(_ context.Context, attr, value string) ([]*resource.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*resource.Resource
	for _, res := range m.byRI {
		if res.String(attr) == value {
			out = append(out, res.DeepCopy())
		}
	}
	return out, nil
}

// mockNotifier records outbound notifications and can be made to fail.
type mockNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	fail bool
}

type sentNotification struct {
	target  string
	content map[string]any
}

func (n *mockNotifier) SendNotification(_ context.Context, target string, content map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return fmt.Errorf("target %q refused: %w", target, onem2m.ErrNotReachable)
	}
	n.sent = append(n.sent, sentNotification{target, content})
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// mockForwarder records forwarded requests.
type mockForwarder struct {
	mu     sync.Mutex
	target string
	last   *onem2m.Request
}

func (f *mockForwarder) Forward(_ context.Context, req *onem2m.Request, targetCSEID string) *onem2m.Result {
	f.mu.Lock()
	f.target = targetCSEID
	f.last = req
	f.mu.Unlock()
	return onem2m.NewResult(req.Operation, req.RequestID, nil)
}

var testLocal = addressing.Local{
	CSEID:        "cse-01",
	SPID:         "sp.example.com",
	ResourceName: "cse-base",
	ResourceID:   "cb-001",
}

type fixture struct {
	d        *Dispatcher
	store    *memStore
	notifier *mockNotifier
	fwd      *mockForwarder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()

	root := resource.NewCSEBase("cb-001", "cse-base", "cse-01")
	res := root.Resource()
	res.SRN = "cse-base"
	if err := st.Create(context.Background(), res); err != nil {
		t.Fatalf("seeding root: %v", err)
	}

	oracle := security.NewEvaluator(st, "CAdmin", "cse-01")
	notifier := &mockNotifier{}
	fwd := &mockForwarder{}
	d, err := New(Deps{
		Store:     st,
		Oracle:    oracle,
		Discovery: discovery.New(st, oracle, true),
		Forwarder: fwd,
		Local:     testLocal,
		Notifier:  notifier,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{d: d, store: st, notifier: notifier, fwd: fwd}
}

// handle dispatches and fails the test on an unexpected status.
func (f *fixture) handle(t *testing.T, req *onem2m.Request, want onem2m.ResponseStatus) *onem2m.Result {
	t.Helper()
	result := f.d.Handle(context.Background(), req)
	if result.Status != want {
		t.Fatalf("status = %d, want %d (debug: %s)", result.Status, want, result.Debug)
	}
	return result
}

func createReq(target string, ty onem2m.ResourceType, content map[string]any) *onem2m.Request {
	return &onem2m.Request{
		Operation:    onem2m.OperationCreate,
		Target:       target,
		Originator:   "CAdmin",
		RequestID:    "r-" + onem2m.TimestampNow(),
		ResourceType: ty,
		Content:      content,
	}
}

// mustCreate builds a resource through the dispatcher and returns its ri.
func (f *fixture) mustCreate(t *testing.T, target string, ty onem2m.ResourceType, content map[string]any) string {
	t.Helper()
	req := createReq(target, ty, content)
	req.ResultContent = onem2m.ResultContentAttributes
	result := f.handle(t, req, onem2m.StatusCreated)
	for _, raw := range result.Content {
		attrs := raw.(map[string]any)
		ri, _ := attrs[onem2m.AttrResourceID].(string)
		return ri
	}
	t.Fatal("create result has no content")
	return ""
}

// ===========================================================================
// Retrieve
// ===========================================================================

func TestRetrieve_Root(t *testing.T) {
	f := newFixture(t)

	result := f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cb-001",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusOK)

	attrs, ok := result.Content["m2m:cb"].(map[string]any)
	if !ok {
		t.Fatalf("content = %v", result.Content)
	}
	if attrs[resource.AttrCSEID] != "cse-01" {
		t.Errorf("csi = %v", attrs[resource.AttrCSEID])
	}
}

func TestRetrieve_ByStructuredPath(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "sensors"}})

	result := f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/sensors",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusOK)
	if _, ok := result.Content["m2m:cnt"]; !ok {
		t.Errorf("content = %v", result.Content)
	}
}

func TestRetrieve_RootPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "-",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusOK)
}

func TestRetrieve_NotFound(t *testing.T) {
	f := newFixture(t)
	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "missing",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusNotFound)
}

func TestRetrieve_HierarchicalAddress(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "sensors"}})

	result := f.handle(t, &onem2m.Request{
		Operation:     onem2m.OperationRetrieve,
		Target:        "cse-base/sensors",
		Originator:    "CAdmin",
		RequestID:     "r-1",
		ResultContent: onem2m.ResultContentHierarchicalAddress,
	}, onem2m.StatusOK)
	if result.Content["m2m:uri"] != "cse-base/sensors" {
		t.Errorf("content = %v", result.Content)
	}
}

func TestRetrieve_ExpiredReportedMissing(t *testing.T) {
	f := newFixture(t)
	ri := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "old"}})

	f.store.mu.Lock()
	f.store.byRI[ri].Set(onem2m.AttrExpirationTime, "20200101T000000")
	f.store.mu.Unlock()

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     ri,
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusNotFound)
}

// ===========================================================================
// Discovery
// ===========================================================================

func TestDiscovery_URIList(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "a"}})
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "b"}})

	result := f.handle(t, &onem2m.Request{
		Operation:      onem2m.OperationRetrieve,
		Target:         "cb-001",
		Originator:     "CAdmin",
		RequestID:      "r-1",
		FilterCriteria: &onem2m.FilterCriteria{FilterUsage: onem2m.FilterUsageDiscovery},
	}, onem2m.StatusOK)

	uris, ok := result.Content["m2m:uril"].([]string)
	if !ok {
		t.Fatalf("content = %v", result.Content)
	}
	if len(uris) != 2 || uris[0] != "cse-base/a" || uris[1] != "cse-base/b" {
		t.Errorf("uril = %v", uris)
	}
}

func TestDiscovery_UnstructuredIdentifiers(t *testing.T) {
	f := newFixture(t)
	ri := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "a"}})

	result := f.handle(t, &onem2m.Request{
		Operation:      onem2m.OperationRetrieve,
		Target:         "cb-001",
		Originator:     "CAdmin",
		RequestID:      "r-1",
		DesiredIDType:  onem2m.DRTUnstructured,
		FilterCriteria: &onem2m.FilterCriteria{FilterUsage: onem2m.FilterUsageDiscovery},
	}, onem2m.StatusOK)

	uris := result.Content["m2m:uril"].([]string)
	if len(uris) != 1 || uris[0] != ri {
		t.Errorf("uril = %v, want [%s]", uris, ri)
	}
}

func TestDiscovery_AttributesAndChildren(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "a"}})

	result := f.handle(t, &onem2m.Request{
		Operation:     onem2m.OperationRetrieve,
		Target:        "cb-001",
		Originator:    "CAdmin",
		RequestID:     "r-1",
		ResultContent: onem2m.ResultContentAttrsAndChildResources,
	}, onem2m.StatusOK)

	attrs, ok := result.Content["m2m:cb"].(map[string]any)
	if !ok {
		t.Fatalf("content = %v", result.Content)
	}
	children, ok := attrs["ch"].([]map[string]any)
	if !ok || len(children) != 1 {
		t.Errorf("ch = %v", attrs["ch"])
	}
}

func TestDiscovery_TypeFilter(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "a"}})
	f.mustCreate(t, "cb-001", onem2m.TypeAE, map[string]any{"m2m:ae": map[string]any{"rn": "app", "api": "Nap1"}})

	result := f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cb-001",
		Originator: "CAdmin",
		RequestID:  "r-1",
		FilterCriteria: &onem2m.FilterCriteria{
			FilterUsage:   onem2m.FilterUsageDiscovery,
			ResourceTypes: []onem2m.ResourceType{onem2m.TypeAE},
		},
	}, onem2m.StatusOK)

	uris := result.Content["m2m:uril"].([]string)
	if len(uris) != 1 || uris[0] != "cse-base/app" {
		t.Errorf("uril = %v", uris)
	}
}

// ===========================================================================
// Create
// ===========================================================================

func TestCreate_Container(t *testing.T) {
	f := newFixture(t)

	req := createReq("cb-001", onem2m.TypeContainer, map[string]any{
		"m2m:cnt": map[string]any{"rn": "sensors", "mni": float64(5)},
	})
	req.ResultContent = onem2m.ResultContentAttributes
	result := f.handle(t, req, onem2m.StatusCreated)

	attrs := result.Content["m2m:cnt"].(map[string]any)
	if attrs[onem2m.AttrResourceName] != "sensors" {
		t.Errorf("rn = %v", attrs[onem2m.AttrResourceName])
	}
	if attrs[onem2m.AttrParentID] != "cb-001" {
		t.Errorf("pi = %v", attrs[onem2m.AttrParentID])
	}

	stored, err := f.store.GetByPath(context.Background(), "cse-base/sensors")
	if err != nil {
		t.Fatalf("created resource not resolvable by path: %v", err)
	}
	if stored.Int(resource.AttrCurrentInstances) != 0 {
		t.Errorf("cni = %d", stored.Int(resource.AttrCurrentInstances))
	}
}

func TestCreate_NothingResultContent(t *testing.T) {
	f := newFixture(t)
	req := createReq("cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	result := f.handle(t, req, onem2m.StatusCreated)
	if result.Content != nil {
		t.Errorf("content = %v, want nil for rcn 0", result.Content)
	}
}

func TestCreate_ModifiedAttributes(t *testing.T) {
	f := newFixture(t)
	req := createReq("cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	req.ResultContent = onem2m.ResultContentModifiedAttributes
	result := f.handle(t, req, onem2m.StatusCreated)

	assigned := result.Content["m2m:cnt"].(map[string]any)
	if _, echoed := assigned[onem2m.AttrResourceName]; echoed {
		t.Error("caller-supplied rn echoed in modified-attributes view")
	}
	if _, ok := assigned[onem2m.AttrResourceID]; !ok {
		t.Error("assigned ri missing from modified-attributes view")
	}
}

func TestCreate_InvalidChildType(t *testing.T) {
	f := newFixture(t)
	// A content instance directly under the CSE base is structurally wrong.
	req := createReq("cb-001", onem2m.TypeContentInstance, map[string]any{
		"m2m:cin": map[string]any{"con": "data"},
	})
	result := f.d.Handle(context.Background(), req)
	if result.Status != onem2m.StatusInvalidChildResourceType {
		t.Errorf("status = %d, want 4108 (debug: %s)", result.Status, result.Debug)
	}
}

func TestCreate_CSEBaseNotCreatable(t *testing.T) {
	f := newFixture(t)
	req := createReq("cb-001", onem2m.TypeCSEBase, map[string]any{"m2m:cb": map[string]any{"rn": "x"}})
	f.handle(t, req, onem2m.StatusInvalidChildResourceType)
}

func TestCreate_DuplicateNameConflicts(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	req := createReq("cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	f.handle(t, req, onem2m.StatusConflict)
}

func TestCreate_ContentTypeMismatch(t *testing.T) {
	f := newFixture(t)
	req := createReq("cb-001", onem2m.TypeContainer, map[string]any{"m2m:ae": map[string]any{"rn": "x"}})
	f.handle(t, req, onem2m.StatusBadRequest)
}

func TestCreate_AERegistrationAssignsAEID(t *testing.T) {
	f := newFixture(t)

	req := createReq("cb-001", onem2m.TypeAE, map[string]any{
		"m2m:ae": map[string]any{"rn": "app", "api": "Napp.example"},
	})
	req.Originator = ""
	req.ResultContent = onem2m.ResultContentAttributes
	result := f.handle(t, req, onem2m.StatusCreated)

	attrs := result.Content["m2m:ae"].(map[string]any)
	aei, _ := attrs[resource.AttrAEID].(string)
	if !strings.HasPrefix(aei, "C") {
		t.Errorf("aei = %q, want auto-assigned C identifier", aei)
	}
}

func TestCreate_AEDuplicateAEIDConflicts(t *testing.T) {
	f := newFixture(t)

	first := createReq("cb-001", onem2m.TypeAE, map[string]any{
		"m2m:ae": map[string]any{"rn": "app1", "api": "Nap1"},
	})
	first.Originator = "Cdevice1"
	f.handle(t, first, onem2m.StatusCreated)

	second := createReq("cb-001", onem2m.TypeAE, map[string]any{
		"m2m:ae": map[string]any{"rn": "app2", "api": "Nap2"},
	})
	second.Originator = "Cdevice1"
	f.handle(t, second, onem2m.StatusConflict)
}

func TestCreate_SubscriptionVerifiesTargets(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})

	req := createReq("cse-base/c", onem2m.TypeSubscription, map[string]any{
		"m2m:sub": map[string]any{"rn": "watcher", "nu": []any{"http://client.example/notify"}},
	})
	f.handle(t, req, onem2m.StatusCreated)

	if f.notifier.count() != 1 {
		t.Fatalf("verification requests sent = %d, want 1", f.notifier.count())
	}
	f.notifier.mu.Lock()
	sgn := f.notifier.sent[0].content[resource.NotificationKey].(map[string]any)
	f.notifier.mu.Unlock()
	if sgn[resource.NotificationVerify] != true {
		t.Errorf("verification envelope = %v", sgn)
	}
}

func TestCreate_SubscriptionRollsBackOnFailedVerification(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	f.notifier.fail = true

	req := createReq("cse-base/c", onem2m.TypeSubscription, map[string]any{
		"m2m:sub": map[string]any{"rn": "watcher", "nu": []any{"http://unreachable.example/"}},
	})
	result := f.d.Handle(context.Background(), req)
	if result.OK() {
		t.Fatal("creation succeeded despite failed verification")
	}

	if _, err := f.store.GetByPath(context.Background(), "cse-base/c/watcher"); err == nil {
		t.Error("subscription survived the compensating delete")
	}
}

// ===========================================================================
// Container instance accounting
// ===========================================================================

func cinContent(body string) map[string]any {
	return map[string]any{"m2m:cin": map[string]any{"con": body}}
}

func TestCreate_ContentInstanceUpdatesCounters(t *testing.T) {
	f := newFixture(t)
	cntRI := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})

	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("abcd")), onem2m.StatusCreated)
	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("ef")), onem2m.StatusCreated)

	cnt, err := f.store.Get(context.Background(), cntRI)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cnt.Int(resource.AttrCurrentInstances) != 2 {
		t.Errorf("cni = %d, want 2", cnt.Int(resource.AttrCurrentInstances))
	}
	if cnt.Int(resource.AttrCurrentByteSize) != 6 {
		t.Errorf("cbs = %d, want 6", cnt.Int(resource.AttrCurrentByteSize))
	}
	if cnt.Int(onem2m.AttrStateTag) != 2 {
		t.Errorf("st = %d, want 2", cnt.Int(onem2m.AttrStateTag))
	}
}

func TestCreate_MaxInstancesEvictsOldest(t *testing.T) {
	f := newFixture(t)
	cntRI := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{
		"m2m:cnt": map[string]any{"rn": "c", "mni": float64(2)},
	})

	for _, body := range []string{"one", "two", "three"} {
		f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent(body)), onem2m.StatusCreated)
	}

	refs, err := f.store.ChildrenOf(context.Background(), cntRI, onem2m.TypeContentInstance)
	if err != nil {
		t.Fatalf("ChildrenOf: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("instances = %d, want 2 after eviction", len(refs))
	}
	oldest, err := f.store.Get(context.Background(), refs[0].RI)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if oldest.String(resource.AttrContent) != "two" {
		t.Errorf("oldest surviving con = %q, want two", oldest.String(resource.AttrContent))
	}

	cnt, _ := f.store.Get(context.Background(), cntRI)
	if cnt.Int(resource.AttrCurrentInstances) != 2 {
		t.Errorf("cni = %d, want 2", cnt.Int(resource.AttrCurrentInstances))
	}
}

func TestCreate_OversizedInstanceRefused(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{
		"m2m:cnt": map[string]any{"rn": "c", "mbs": float64(3)},
	})

	req := createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("toolarge"))
	f.handle(t, req, onem2m.StatusContentsUnacceptable)

	refs, _ := f.store.ChildrenOf(context.Background(), f.riOf(t, "cse-base/c"), onem2m.TypeContentInstance)
	if len(refs) != 0 {
		t.Error("refused instance was persisted")
	}
}

func (f *fixture) riOf(t *testing.T, srn string) string {
	t.Helper()
	res, err := f.store.GetByPath(context.Background(), srn)
	if err != nil {
		t.Fatalf("GetByPath(%q): %v", srn, err)
	}
	return res.RI()
}

// ===========================================================================
// Update
// ===========================================================================

func TestUpdate_MergesAndReturnsDiff(t *testing.T) {
	f := newFixture(t)
	ri := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{
		"m2m:cnt": map[string]any{"rn": "c", "mni": float64(5)},
	})

	result := f.handle(t, &onem2m.Request{
		Operation:     onem2m.OperationUpdate,
		Target:        ri,
		Originator:    "CAdmin",
		RequestID:     "r-1",
		Content:       map[string]any{"m2m:cnt": map[string]any{"mni": float64(10), "lbl": []any{"room:kitchen"}}},
		ResultContent: onem2m.ResultContentModifiedAttributes,
	}, onem2m.StatusUpdated)

	diff := result.Content["m2m:cnt"].(map[string]any)
	if diff["mni"] != float64(10) {
		t.Errorf("diff mni = %v", diff["mni"])
	}
	if _, ok := diff[onem2m.AttrLastModified]; !ok {
		t.Error("diff missing lt")
	}

	stored, _ := f.store.Get(context.Background(), ri)
	if stored.Int(resource.AttrMaxInstances) != 10 {
		t.Errorf("stored mni = %d", stored.Int(resource.AttrMaxInstances))
	}
}

func TestUpdate_ImmutableAttributeRefused(t *testing.T) {
	f := newFixture(t)
	ri := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationUpdate,
		Target:     ri,
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    map[string]any{"m2m:cnt": map[string]any{"rn": "renamed"}},
	}, onem2m.StatusOperationNotAllowed)

	stored, _ := f.store.Get(context.Background(), ri)
	if stored.Name() != "c" {
		t.Error("refused update still changed the stored resource")
	}
}

func TestUpdate_InstanceImmutable(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	cinRI := f.mustCreate(t, "cse-base/c", onem2m.TypeContentInstance, cinContent("v"))

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationUpdate,
		Target:     cinRI,
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    map[string]any{"m2m:cin": map[string]any{"con": "changed"}},
	}, onem2m.StatusOperationNotAllowed)
}

func TestUpdate_WrongContentKey(t *testing.T) {
	f := newFixture(t)
	ri := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationUpdate,
		Target:     ri,
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    map[string]any{"m2m:ae": map[string]any{"lbl": []any{"x"}}},
	}, onem2m.StatusBadRequest)
}

// ===========================================================================
// Delete
// ===========================================================================

func TestDelete_RemovesSubtree(t *testing.T) {
	f := newFixture(t)
	cntRI := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	cinRI := f.mustCreate(t, "cse-base/c", onem2m.TypeContentInstance, cinContent("v"))

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationDelete,
		Target:     cntRI,
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusDeleted)

	for _, ri := range []string{cntRI, cinRI} {
		if _, err := f.store.Get(context.Background(), ri); err == nil {
			t.Errorf("resource %q survived subtree delete", ri)
		}
	}
}

func TestDelete_RootRefused(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"cb-001", "-"} {
		f.handle(t, &onem2m.Request{
			Operation:  onem2m.OperationDelete,
			Target:     target,
			Originator: "CAdmin",
			RequestID:  "r-1",
		}, onem2m.StatusOperationNotAllowed)
	}
}

func TestDelete_ReturnsAttributesWhenAsked(t *testing.T) {
	f := newFixture(t)
	ri := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})

	result := f.handle(t, &onem2m.Request{
		Operation:     onem2m.OperationDelete,
		Target:        ri,
		Originator:    "CAdmin",
		RequestID:     "r-1",
		ResultContent: onem2m.ResultContentAttributes,
	}, onem2m.StatusDeleted)
	if _, ok := result.Content["m2m:cnt"]; !ok {
		t.Errorf("content = %v", result.Content)
	}
}

func TestDelete_InstanceUpdatesCounters(t *testing.T) {
	f := newFixture(t)
	cntRI := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	cinRI := f.mustCreate(t, "cse-base/c", onem2m.TypeContentInstance, cinContent("abcd"))

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationDelete,
		Target:     cinRI,
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusDeleted)

	cnt, _ := f.store.Get(context.Background(), cntRI)
	if cnt.Int(resource.AttrCurrentInstances) != 0 {
		t.Errorf("cni = %d, want 0", cnt.Int(resource.AttrCurrentInstances))
	}
	if cnt.Int(resource.AttrCurrentByteSize) != 0 {
		t.Errorf("cbs = %d, want 0", cnt.Int(resource.AttrCurrentByteSize))
	}
}

// ===========================================================================
// Virtual resources
// ===========================================================================

func TestVirtual_LatestAndOldest(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("first")), onem2m.StatusCreated)
	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("second")), onem2m.StatusCreated)

	result := f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/c/la",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusOK)
	attrs := result.Content["m2m:cin"].(map[string]any)
	if attrs[resource.AttrContent] != "second" {
		t.Errorf("la con = %v, want second", attrs[resource.AttrContent])
	}

	result = f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/c/ol",
		Originator: "CAdmin",
		RequestID:  "r-2",
	}, onem2m.StatusOK)
	attrs = result.Content["m2m:cin"].(map[string]any)
	if attrs[resource.AttrContent] != "first" {
		t.Errorf("ol con = %v, want first", attrs[resource.AttrContent])
	}
}

func TestVirtual_LatestOnEmptyContainer(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/c/la",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusNotFound)
}

func TestVirtual_DeleteLatest(t *testing.T) {
	f := newFixture(t)
	cntRI := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("first")), onem2m.StatusCreated)
	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("second")), onem2m.StatusCreated)

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationDelete,
		Target:     "cse-base/c/la",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusDeleted)

	refs, _ := f.store.ChildrenOf(context.Background(), cntRI, onem2m.TypeContentInstance)
	if len(refs) != 1 {
		t.Fatalf("instances = %d, want 1", len(refs))
	}
	survivor, _ := f.store.Get(context.Background(), refs[0].RI)
	if survivor.String(resource.AttrContent) != "first" {
		t.Errorf("survivor = %q, want first", survivor.String(resource.AttrContent))
	}
}

func TestVirtual_UpdateLatestRefused(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("v")), onem2m.StatusCreated)

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationUpdate,
		Target:     "cse-base/c/la",
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    map[string]any{"m2m:cin": map[string]any{"con": "new"}},
	}, onem2m.StatusOperationNotAllowed)
}

func TestVirtual_LatestOutsideContainerRefused(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeAE, map[string]any{"m2m:ae": map[string]any{"rn": "app", "api": "Nap1"}})

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/app/la",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusBadRequest)
}

func TestVirtual_FanOut(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "a"}})
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "b"}})
	f.mustCreate(t, "cb-001", onem2m.TypeGroup, map[string]any{
		"m2m:grp": map[string]any{"rn": "fleet", "mid": []any{"cse-base/a", "cse-base/b", "cse-base/missing"}},
	})

	result := f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/fleet/fopt",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusOK)

	aggregated, ok := result.Content["m2m:agr"].([]map[string]any)
	if !ok {
		t.Fatalf("content = %v", result.Content)
	}
	if len(aggregated) != 3 {
		t.Fatalf("aggregated = %d entries, want 3", len(aggregated))
	}
	okCount, missCount := 0, 0
	for _, entry := range aggregated {
		switch entry["rsc"] {
		case int(onem2m.StatusOK):
			okCount++
		case int(onem2m.StatusNotFound):
			missCount++
		}
	}
	if okCount != 2 || missCount != 1 {
		t.Errorf("member outcomes = %d ok / %d missing", okCount, missCount)
	}
}

func TestVirtual_FanOutCycleTerminates(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeGroup, map[string]any{
		"m2m:grp": map[string]any{"rn": "g1", "mid": []any{"cse-base/g2/fopt"}},
	})
	f.mustCreate(t, "cb-001", onem2m.TypeGroup, map[string]any{
		"m2m:grp": map[string]any{"rn": "g2", "mid": []any{"cse-base/g1/fopt"}},
	})

	result := f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/g1/fopt",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusOK)

	// g1 fans to g2, g2 fans back to g1; the inner revisit of g1 must be
	// answered with a failure entry instead of recursing.
	outer := result.Content["m2m:agr"].([]map[string]any)
	if len(outer) != 1 {
		t.Fatalf("outer aggregation = %d entries, want 1", len(outer))
	}
	inner, ok := outer[0]["pc"].(map[string]any)
	if !ok {
		t.Fatalf("g2 member entry carries no content: %v", outer[0])
	}
	innerAgr := inner["m2m:agr"].([]map[string]any)
	if len(innerAgr) != 1 {
		t.Fatalf("inner aggregation = %d entries, want 1", len(innerAgr))
	}
	if innerAgr[0]["rsc"] != int(onem2m.StatusBadRequest) {
		t.Errorf("cyclic member rsc = %v, want %d", innerAgr[0]["rsc"], onem2m.StatusBadRequest)
	}
}

func TestVirtual_FanOutSelfReferenceRefused(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeGroup, map[string]any{
		"m2m:grp": map[string]any{"rn": "loop", "mid": []any{"cse-base/loop/fopt"}},
	})

	result := f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/loop/fopt",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusOK)

	aggregated := result.Content["m2m:agr"].([]map[string]any)
	if len(aggregated) != 1 || aggregated[0]["rsc"] != int(onem2m.StatusBadRequest) {
		t.Errorf("self-referencing member = %v, want one bad-request entry", aggregated)
	}
}

func TestVirtual_PollingChannel(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeAE, map[string]any{"m2m:ae": map[string]any{"rn": "app", "api": "Nap1"}})
	f.mustCreate(t, "cse-base/app", onem2m.TypePollingChannel, map[string]any{"m2m:pch": map[string]any{"rn": "ch"}})

	notification := map[string]any{resource.NotificationKey: map[string]any{"nev": map[string]any{}}}
	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationNotify,
		Target:     "cse-base/app/ch/pcu",
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    notification,
	}, onem2m.StatusOK)

	result := f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "cse-base/app/ch/pcu",
		Originator: "CAdmin",
		RequestID:  "r-2",
	}, onem2m.StatusOK)
	if _, ok := result.Content[resource.NotificationKey]; !ok {
		t.Errorf("dequeued content = %v", result.Content)
	}
}

// ===========================================================================
// Notify
// ===========================================================================

func notifyEnvelope() map[string]any {
	return map[string]any{
		resource.NotificationKey: map[string]any{
			resource.NotificationEvent: map[string]any{},
		},
	}
}

func TestNotify_AEThroughPointOfAccess(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeAE, map[string]any{
		"m2m:ae": map[string]any{"rn": "app", "api": "Nap1", "poa": []any{"http://device.example/notify"}},
	})

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationNotify,
		Target:     "cse-base/app",
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    notifyEnvelope(),
	}, onem2m.StatusOK)

	if f.notifier.count() != 1 {
		t.Fatalf("notifications sent = %d, want 1", f.notifier.count())
	}
	f.notifier.mu.Lock()
	target := f.notifier.sent[0].target
	f.notifier.mu.Unlock()
	if target != "http://device.example/notify" {
		t.Errorf("target = %q", target)
	}
}

func TestNotify_AEWithoutReachabilityFails(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeAE, map[string]any{"m2m:ae": map[string]any{"rn": "app", "api": "Nap1"}})

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationNotify,
		Target:     "cse-base/app",
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    notifyEnvelope(),
	}, onem2m.StatusTargetNotReachable)
}

func TestNotify_RequiresEnvelope(t *testing.T) {
	f := newFixture(t)
	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationNotify,
		Target:     "cb-001",
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    map[string]any{"random": "payload"},
	}, onem2m.StatusBadRequest)
}

func TestNotify_ContainerNotATarget(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationNotify,
		Target:     "cse-base/c",
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    notifyEnvelope(),
	}, onem2m.StatusOperationNotAllowed)
}

// ===========================================================================
// Subscriptions on tree events
// ===========================================================================

func TestSubscription_NotifiedOnChildCreate(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	f.mustCreate(t, "cse-base/c", onem2m.TypeSubscription, map[string]any{
		"m2m:sub": map[string]any{"rn": "watcher", "nu": []any{"http://client.example/notify"}},
	})
	verifications := f.notifier.count()

	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("v")), onem2m.StatusCreated)

	if f.notifier.count() != verifications+1 {
		t.Fatalf("notifications = %d, want %d", f.notifier.count(), verifications+1)
	}
	f.notifier.mu.Lock()
	last := f.notifier.sent[len(f.notifier.sent)-1]
	f.notifier.mu.Unlock()
	sgn := last.content[resource.NotificationKey].(map[string]any)
	nev := sgn[resource.NotificationEvent].(map[string]any)
	if nev[resource.NotificationEventType] != resource.NotifyEventCreateChild {
		t.Errorf("net = %v, want create-child", nev[resource.NotificationEventType])
	}
	if sgn[resource.NotificationSubRef] != "cse-base/c/watcher" {
		t.Errorf("sur = %v", sgn[resource.NotificationSubRef])
	}
}

func TestSubscription_EventCriteriaFilter(t *testing.T) {
	f := newFixture(t)
	ri := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})
	f.mustCreate(t, "cse-base/c", onem2m.TypeSubscription, map[string]any{
		"m2m:sub": map[string]any{
			"rn":  "watcher",
			"nu":  []any{"http://client.example/notify"},
			"enc": map[string]any{"net": []any{float64(resource.NotifyEventUpdate)}},
		},
	})
	before := f.notifier.count()

	// A child create does not match the update-only criteria.
	f.handle(t, createReq("cse-base/c", onem2m.TypeContentInstance, cinContent("v")), onem2m.StatusCreated)
	if f.notifier.count() != before {
		t.Error("create-child event delivered despite update-only criteria")
	}

	// An update does.
	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationUpdate,
		Target:     ri,
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    map[string]any{"m2m:cnt": map[string]any{"lbl": []any{"x"}}},
	}, onem2m.StatusUpdated)
	if f.notifier.count() != before+1 {
		t.Errorf("notifications = %d, want %d", f.notifier.count(), before+1)
	}
}

// ===========================================================================
// Access control
// ===========================================================================

func TestAccess_DeniedWithoutPolicy(t *testing.T) {
	f := newFixture(t)
	ri := f.mustCreate(t, "cb-001", onem2m.TypeContainer, map[string]any{"m2m:cnt": map[string]any{"rn": "c"}})

	// Attach a policy that grants only retrieve to Cdevice1.
	acpRI := f.mustCreate(t, "cb-001", onem2m.TypeACP, map[string]any{
		"m2m:acp": map[string]any{
			"rn":  "policy",
			"pv":  map[string]any{"acr": []any{map[string]any{"acor": []any{"Cdevice1"}, "acop": float64(2)}}},
			"pvs": map[string]any{"acr": []any{map[string]any{"acor": []any{"CAdmin"}, "acop": float64(63)}}},
		},
	})
	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationUpdate,
		Target:     ri,
		Originator: "CAdmin",
		RequestID:  "r-1",
		Content:    map[string]any{"m2m:cnt": map[string]any{"acpi": []any{acpRI}}},
	}, onem2m.StatusUpdated)

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     ri,
		Originator: "Cdevice1",
		RequestID:  "r-2",
	}, onem2m.StatusOK)

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationDelete,
		Target:     ri,
		Originator: "Cdevice1",
		RequestID:  "r-3",
	}, onem2m.StatusOriginatorNoPrivilege)
}

// ===========================================================================
// Transit and preamble
// ===========================================================================

func TestRemoteTargetForwarded(t *testing.T) {
	f := newFixture(t)

	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "/cse-02/cse-base/app",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusOK)

	f.fwd.mu.Lock()
	defer f.fwd.mu.Unlock()
	if f.fwd.target != "cse-02" {
		t.Errorf("forwarded to %q, want cse-02", f.fwd.target)
	}
	if f.fwd.last == nil || f.fwd.last.Target != "/cse-02/cse-base/app" {
		t.Error("forwarded request altered")
	}
}

func TestElapsedRequestExpirationRefused(t *testing.T) {
	f := newFixture(t)
	f.handle(t, &onem2m.Request{
		Operation:         onem2m.OperationRetrieve,
		Target:            "cb-001",
		Originator:        "CAdmin",
		RequestID:         "r-1",
		RequestExpiration: onem2m.FormatTimestamp(time.Now().Add(-time.Minute)),
	}, onem2m.StatusRequestTimeout)
}

func TestMalformedTargetRejected(t *testing.T) {
	f := newFixture(t)
	f.handle(t, &onem2m.Request{
		Operation:  onem2m.OperationRetrieve,
		Target:     "///bad",
		Originator: "CAdmin",
		RequestID:  "r-1",
	}, onem2m.StatusBadRequest)
}

// ===========================================================================
// Schedule
// ===========================================================================

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("08:00-17:30")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if s.Start != 8*60 || s.End != 17*60+30 {
		t.Errorf("window = %d-%d", s.Start, s.End)
	}

	if _, err := ParseSchedule("25:00-17:00"); err == nil {
		t.Error("out-of-range hour accepted")
	}
	if _, err := ParseSchedule("garbage"); err == nil {
		t.Error("malformed window accepted")
	}

	s, err = ParseSchedule("")
	if err != nil {
		t.Fatalf("ParseSchedule(empty): %v", err)
	}
	if !s.ActiveAt(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)) {
		t.Error("empty schedule not always active")
	}
}

func TestScheduleActiveAt(t *testing.T) {
	day, _ := ParseSchedule("08:00-17:00")
	night, _ := ParseSchedule("22:00-06:00")

	at := func(h, m int) time.Time {
		return time.Date(2026, 1, 1, h, m, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		s    Schedule
		t    time.Time
		want bool
	}{
		{"day inside", day, at(12, 0), true},
		{"day before", day, at(7, 59), false},
		{"day at start", day, at(8, 0), true},
		{"day at end", day, at(17, 0), false},
		{"wrap late evening", night, at(23, 0), true},
		{"wrap early morning", night, at(5, 59), true},
		{"wrap midday", night, at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.ActiveAt(tt.t); got != tt.want {
				t.Errorf("ActiveAt = %v, want %v", got, tt.want)
			}
		})
	}
}

// ===========================================================================
// Shaping
// ===========================================================================

func TestShapeSingle_InvalidMode(t *testing.T) {
	res := resource.New(onem2m.TypeContainer, "cnt-001", "cb-001", "c")
	typed, _ := resource.FromResource(res)
	if _, err := shapeSingle(typed, onem2m.ResultContentChildRefs); err == nil {
		t.Error("discovery mode accepted by single-resource shaping")
	}
}
