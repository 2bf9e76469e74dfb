package dispatch

import (
	"fmt"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// Keys used in shaped aggregate payloads.
const (
	keyChildResources = "ch"
	keyURIList        = "m2m:uril"
	keyURI            = "m2m:uri"
	keyChildRefList   = "m2m:chl"
	keyResourceList   = "m2m:rrl"
)

// address renders a resource reference in the caller's requested
// identifier style.
func address(res *resource.Resource, drt onem2m.DesiredIdentifierResultType) string {
	if drt == onem2m.DRTUnstructured {
		return res.RI()
	}
	if res.SRN != "" {
		return res.SRN
	}
	return res.RI()
}

// childRef is the reference-list entry for one discovered resource.
func childRef(res *resource.Resource, drt onem2m.DesiredIdentifierResultType) map[string]any {
	return map[string]any{
		"nm":  res.Name(),
		"typ": int(res.Type()),
		"val": address(res, drt),
	}
}

// representations renders full resource representations for a result set.
func representations(results []*resource.Resource) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		t, err := typedOf(res)
		if err != nil {
			return nil, err
		}
		out = append(out, resource.Representation(t))
	}
	return out, nil
}

// shapeSingle shapes an addressed-resource result (no tree walk).
func shapeSingle(t resource.Typed, rcn onem2m.ResultContent) (map[string]any, error) {
	switch rcn {
	case onem2m.ResultContentNothing:
		return nil, nil
	case onem2m.ResultContentAttributes, onem2m.ResultContentOriginalResource:
		return resource.Representation(t), nil
	case onem2m.ResultContentHierarchicalAddress:
		return map[string]any{keyURI: t.Resource().SRN}, nil
	case onem2m.ResultContentHierAddressAndAttrs:
		return map[string]any{
			keyURI:        t.Resource().SRN,
			t.ShortName(): t.Resource().Attributes,
		}, nil
	default:
		return nil, fmt.Errorf("result content %d is not valid here: %w", rcn, onem2m.ErrBadRequest)
	}
}

// shapeDiscovery shapes a walked result set around the addressed root.
func shapeDiscovery(root resource.Typed, results []*resource.Resource, rcn onem2m.ResultContent, drt onem2m.DesiredIdentifierResultType) (map[string]any, error) {
	switch rcn {
	case onem2m.ResultContentAttrsAndChildResources:
		reps, err := representations(results)
		if err != nil {
			return nil, err
		}
		attrs := withChildren(root, reps)
		return map[string]any{root.ShortName(): attrs}, nil

	case onem2m.ResultContentAttrsAndChildRefs:
		refs := make([]map[string]any, 0, len(results))
		for _, res := range results {
			refs = append(refs, childRef(res, drt))
		}
		attrs := withChildren(root, refs)
		return map[string]any{root.ShortName(): attrs}, nil

	case onem2m.ResultContentChildRefs:
		refs := make([]map[string]any, 0, len(results))
		for _, res := range results {
			refs = append(refs, childRef(res, drt))
		}
		return map[string]any{keyChildRefList: refs}, nil

	case onem2m.ResultContentChildResources:
		reps, err := representations(results)
		if err != nil {
			return nil, err
		}
		return map[string]any{keyResourceList: reps}, nil

	case onem2m.ResultContentDiscoveryResultRefs:
		uris := make([]string, 0, len(results))
		for _, res := range results {
			uris = append(uris, address(res, drt))
		}
		return map[string]any{keyURIList: uris}, nil

	default:
		return nil, fmt.Errorf("result content %d is not a discovery mode: %w", rcn, onem2m.ErrBadRequest)
	}
}

// withChildren copies the root's attributes and attaches the child list.
// The copy keeps the shaped payload from aliasing the loaded resource.
func withChildren[T any](root resource.Typed, children []T) map[string]any {
	attrs := root.Resource().DeepCopy().Attributes
	attrs[keyChildResources] = children
	return attrs
}

// shapeCreate shapes a CREATE result. The modified-attributes mode returns
// only what the CSE assigned beyond the caller's payload.
func shapeCreate(t resource.Typed, payload map[string]any, rcn onem2m.ResultContent) (map[string]any, error) {
	switch rcn {
	case onem2m.ResultContentNothing:
		return nil, nil
	case onem2m.ResultContentAttributes:
		return resource.Representation(t), nil
	case onem2m.ResultContentHierarchicalAddress:
		return map[string]any{keyURI: t.Resource().SRN}, nil
	case onem2m.ResultContentHierAddressAndAttrs:
		return map[string]any{
			keyURI:        t.Resource().SRN,
			t.ShortName(): t.Resource().Attributes,
		}, nil
	case onem2m.ResultContentModifiedAttributes:
		assigned := make(map[string]any)
		for name, value := range t.Resource().Attributes {
			if _, fromCaller := payload[name]; !fromCaller {
				assigned[name] = value
			}
		}
		return map[string]any{t.ShortName(): assigned}, nil
	default:
		return nil, fmt.Errorf("result content %d is not valid for create: %w", rcn, onem2m.ErrBadRequest)
	}
}

// shapeUpdate shapes an UPDATE result from the merged resource and the
// modified-attribute diff.
func shapeUpdate(t resource.Typed, diff map[string]any, rcn onem2m.ResultContent) (map[string]any, error) {
	switch rcn {
	case onem2m.ResultContentNothing:
		return nil, nil
	case onem2m.ResultContentAttributes:
		return resource.Representation(t), nil
	case onem2m.ResultContentModifiedAttributes:
		return map[string]any{t.ShortName(): diff}, nil
	default:
		return nil, fmt.Errorf("result content %d is not valid for update: %w", rcn, onem2m.ErrBadRequest)
	}
}
