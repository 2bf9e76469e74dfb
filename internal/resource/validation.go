package resource

import (
	"fmt"

	"github.com/wrenware/lattice/internal/onem2m"
)

// validateCommon checks the attributes every type shares. Called from each
// type's Validate before its own rules.
func validateCommon(r *Resource, create bool) error {
	if create {
		if !ValidName(r.Name()) {
			return fmt.Errorf("invalid resource name %q: %w", r.Name(), onem2m.ErrBadRequest)
		}
		if r.RI() == "" {
			return fmt.Errorf("missing resource-ID: %w", onem2m.ErrInternal)
		}
	}
	if et := r.ExpirationTime(); et != "" {
		t, err := onem2m.ParseTimestamp(et)
		if err != nil {
			return err
		}
		if t.Before(nowFunc()) {
			return fmt.Errorf("expiration time %q is in the past: %w", et, onem2m.ErrBadRequest)
		}
	}
	if raw, ok := r.Attributes[onem2m.AttrLabels]; ok {
		if _, isList := raw.([]any); !isList {
			if _, isStrings := raw.([]string); !isStrings {
				return fmt.Errorf("labels must be a list of strings: %w", onem2m.ErrBadRequest)
			}
		}
	}
	return nil
}

// requireString checks that a mandatory string attribute is present and
// non-empty.
func requireString(r *Resource, name string) error {
	if r.String(name) == "" {
		return fmt.Errorf("missing mandatory attribute %q: %w", name, onem2m.ErrBadRequest)
	}
	return nil
}
