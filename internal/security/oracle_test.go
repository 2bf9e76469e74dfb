package security

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// mockPolicyLoader serves ACP resources from a map.
type mockPolicyLoader struct {
	policies map[string]*resource.Resource
	err      error
}

func (m *mockPolicyLoader) Get(_ context.Context, ri string) (*resource.Resource, error) {
	if m.err != nil {
		return nil, m.err
	}
	res, ok := m.policies[ri]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", ri, onem2m.ErrNotFound)
	}
	return res, nil
}

// acpWith builds an ACP resource with the given pv rules.
func acpWith(ri string, privileges map[string]any) *resource.Resource {
	res := resource.New(onem2m.TypeACP, ri, "cb-001", ri)
	res.Set(resource.AttrPrivileges, privileges)
	return res
}

// rule builds one acr entry.
func rule(acop int, originators ...string) map[string]any {
	acor := make([]any, len(originators))
	for i, o := range originators {
		acor[i] = o
	}
	return map[string]any{"acor": acor, "acop": float64(acop)}
}

func privileges(rules ...map[string]any) map[string]any {
	acr := make([]any, len(rules))
	for i, r := range rules {
		acr[i] = r
	}
	return map[string]any{"acr": acr}
}

func testEvaluator(policies ...*resource.Resource) *Evaluator {
	loader := &mockPolicyLoader{policies: make(map[string]*resource.Resource)}
	for _, p := range policies {
		loader.policies[p.RI()] = p
	}
	return NewEvaluator(loader, "CAdmin", "cse-01")
}

func protectedResource(acpi ...string) *resource.Resource {
	res := resource.New(onem2m.TypeContainer, "cnt-001", "cb-001", "c")
	if len(acpi) > 0 {
		refs := make([]any, len(acpi))
		for i, a := range acpi {
			refs[i] = a
		}
		res.Set(onem2m.AttrACPIDs, refs)
	}
	return res
}

// ===========================================================================
// Short-circuit identities
// ===========================================================================

func TestHasAccess_AdminAlwaysGranted(t *testing.T) {
	e := testEvaluator()
	granted, err := e.HasAccess(context.Background(), "CAdmin", protectedResource("acp-missing"), onem2m.PermissionDelete)
	if err != nil || !granted {
		t.Errorf("admin denied: granted=%v err=%v", granted, err)
	}
}

func TestHasAccess_OwnCSEIdentityGranted(t *testing.T) {
	e := testEvaluator()
	for _, originator := range []string{"cse-01", "/cse-01"} {
		granted, err := e.HasAccess(context.Background(), originator, protectedResource("acp-missing"), onem2m.PermissionUpdate)
		if err != nil || !granted {
			t.Errorf("originator %q denied: granted=%v err=%v", originator, granted, err)
		}
	}
}

// ===========================================================================
// Policy evaluation
// ===========================================================================

func TestHasAccess_NoPoliciesMeansOpen(t *testing.T) {
	e := testEvaluator()
	granted, err := e.HasAccess(context.Background(), "Cstranger", protectedResource(), onem2m.PermissionRetrieve)
	if err != nil || !granted {
		t.Errorf("unprotected resource denied: granted=%v err=%v", granted, err)
	}
}

func TestHasAccess_PolicyGrants(t *testing.T) {
	acp := acpWith("acp-001", privileges(rule(int(onem2m.PermissionRetrieve|onem2m.PermissionNotify), "Cdevice1")))
	e := testEvaluator(acp)
	res := protectedResource("acp-001")

	granted, err := e.HasAccess(context.Background(), "Cdevice1", res, onem2m.PermissionRetrieve)
	if err != nil || !granted {
		t.Errorf("permitted originator denied: granted=%v err=%v", granted, err)
	}

	granted, err = e.HasAccess(context.Background(), "Cdevice1", res, onem2m.PermissionDelete)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if granted {
		t.Error("delete granted though acop only carries retrieve and notify")
	}

	granted, err = e.HasAccess(context.Background(), "Cother", res, onem2m.PermissionRetrieve)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if granted {
		t.Error("unlisted originator granted")
	}
}

func TestHasAccess_AnyMatchingPolicySuffices(t *testing.T) {
	deny := acpWith("acp-deny", privileges(rule(int(onem2m.PermissionNotify), "Cnobody")))
	allow := acpWith("acp-allow", privileges(rule(int(onem2m.PermissionAll), "Cdevice1")))
	e := testEvaluator(deny, allow)

	granted, err := e.HasAccess(context.Background(), "Cdevice1", protectedResource("acp-deny", "acp-allow"), onem2m.PermissionUpdate)
	if err != nil || !granted {
		t.Errorf("second policy not consulted: granted=%v err=%v", granted, err)
	}
}

func TestHasAccess_DanglingReferenceSkipped(t *testing.T) {
	allow := acpWith("acp-allow", privileges(rule(int(onem2m.PermissionAll), "Cdevice1")))
	e := testEvaluator(allow)

	granted, err := e.HasAccess(context.Background(), "Cdevice1", protectedResource("acp-gone", "acp-allow"), onem2m.PermissionRetrieve)
	if err != nil || !granted {
		t.Errorf("dangling reference broke evaluation: granted=%v err=%v", granted, err)
	}
}

func TestHasAccess_AllReferencesDanglingDenies(t *testing.T) {
	e := testEvaluator()
	granted, err := e.HasAccess(context.Background(), "Cdevice1", protectedResource("acp-gone"), onem2m.PermissionRetrieve)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if granted {
		t.Error("resource with only dangling references granted")
	}
}

func TestHasAccess_LoaderErrorSurfaces(t *testing.T) {
	loader := &mockPolicyLoader{err: errors.New("database locked")}
	e := NewEvaluator(loader, "CAdmin", "cse-01")

	granted, err := e.HasAccess(context.Background(), "Cdevice1", protectedResource("acp-001"), onem2m.PermissionRetrieve)
	if err == nil {
		t.Error("loader error swallowed")
	}
	if granted {
		t.Error("granted despite evaluation error")
	}
}

func TestHasAccess_Wildcards(t *testing.T) {
	tests := []struct {
		name       string
		pattern    string
		originator string
		want       bool
	}{
		{"all keyword", "all", "Canyone", true},
		{"star keyword", "*", "Canyone", true},
		{"prefix wildcard match", "Cfleet*", "Cfleet-007", true},
		{"prefix wildcard miss", "Cfleet*", "Cother", false},
		{"exact", "Cdevice1", "Cdevice1", true},
		{"exact miss", "Cdevice1", "Cdevice2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acp := acpWith("acp-001", privileges(rule(int(onem2m.PermissionRetrieve), tt.pattern)))
			e := testEvaluator(acp)
			granted, err := e.HasAccess(context.Background(), tt.originator, protectedResource("acp-001"), onem2m.PermissionRetrieve)
			if err != nil {
				t.Fatalf("HasAccess: %v", err)
			}
			if granted != tt.want {
				t.Errorf("granted = %v, want %v", granted, tt.want)
			}
		})
	}
}

// ===========================================================================
// ACP self-governance
// ===========================================================================

func TestHasAccess_ACPGovernedBySelfPrivileges(t *testing.T) {
	acp := acpWith("acp-001", privileges(rule(int(onem2m.PermissionAll), "Cdevice1")))
	acp.Set(resource.AttrSelfPrivileges, privileges(rule(int(onem2m.PermissionUpdate), "Cowner")))
	e := testEvaluator(acp)

	// pv does not grant access to the policy itself.
	granted, err := e.HasAccess(context.Background(), "Cdevice1", acp, onem2m.PermissionUpdate)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if granted {
		t.Error("pv granted access to the ACP resource itself")
	}

	granted, err = e.HasAccess(context.Background(), "Cowner", acp, onem2m.PermissionUpdate)
	if err != nil || !granted {
		t.Errorf("pvs holder denied: granted=%v err=%v", granted, err)
	}
}

func TestCanUpdateACPI(t *testing.T) {
	acp := acpWith("acp-001", privileges(rule(int(onem2m.PermissionAll), "Cdevice1")))
	acp.Set(resource.AttrSelfPrivileges, privileges(rule(int(onem2m.PermissionUpdate), "Cowner")))
	e := testEvaluator(acp)
	res := protectedResource("acp-001")

	// Ordinary pv privileges do not authorise acpi changes.
	granted, err := e.CanUpdateACPI(context.Background(), "Cdevice1", res)
	if err != nil {
		t.Fatalf("CanUpdateACPI: %v", err)
	}
	if granted {
		t.Error("pv holder allowed to rewrite acpi")
	}

	granted, err = e.CanUpdateACPI(context.Background(), "Cowner", res)
	if err != nil || !granted {
		t.Errorf("pvs holder denied acpi update: granted=%v err=%v", granted, err)
	}

	granted, err = e.CanUpdateACPI(context.Background(), "CAdmin", res)
	if err != nil || !granted {
		t.Errorf("admin denied acpi update: granted=%v err=%v", granted, err)
	}
}
