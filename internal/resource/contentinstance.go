package resource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wrenware/lattice/internal/onem2m"
)

// Content-instance-specific short attribute names.
const (
	AttrContentInfo = "cnf"
	AttrContent     = "con"
)

// defaultContentInfo is applied when a content instance omits cnf.
const defaultContentInfo = "text/plain:0"

// ContentInstance is an immutable content holder under a container. It has
// no children and refuses updates outright.
type ContentInstance struct {
	Base
}

func newContentInstance(res *Resource) *ContentInstance {
	return &ContentInstance{Base: NewBase(res, "m2m:cin")}
}

// Validate requires content, defaults the content info, and computes the
// content size used by the container's byte accounting.
func (c *ContentInstance) Validate(create bool) error {
	r := c.Resource()
	if err := validateCommon(r, create); err != nil {
		return err
	}
	raw, ok := r.Attributes[AttrContent]
	if !ok {
		return fmt.Errorf("missing mandatory attribute %q: %w", AttrContent, onem2m.ErrBadRequest)
	}
	if r.String(AttrContentInfo) == "" {
		r.Set(AttrContentInfo, defaultContentInfo)
	}
	r.SetInt(AttrContentSize, contentSize(raw))
	return nil
}

// WillUpdate always refuses: content instances are immutable. The dispatch
// core rejects by type before it gets here; this guards direct hook use.
func (c *ContentInstance) WillUpdate(context.Context, Env, map[string]any) error {
	return fmt.Errorf("content instances are immutable: %w", onem2m.ErrOperationNotAllowed)
}

// contentSize measures the content in bytes: string content by length,
// anything structured by its JSON encoding.
func contentSize(raw any) int {
	if s, ok := raw.(string); ok {
		return len(s)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return 0
	}
	return len(encoded)
}
