package onem2m

import "fmt"

// FilterCriteria is the structured query object for discovery and
// conditional retrieval. A zero-value FilterCriteria matches everything.
//
// Condition families (type, labels, time windows, state tag, size, content
// type, attribute match, advanced query, geo query) are combined with
// FilterOperation: under AND a resource matches when every active family
// matches; under OR when at least one does. Multiple values within one
// family always form their own OR set.
type FilterCriteria struct {
	// Condition families.
	CreatedBefore    string            `json:"crb,omitempty"`
	CreatedAfter     string            `json:"cra,omitempty"`
	ModifiedSince    string            `json:"ms,omitempty"`
	UnmodifiedSince  string            `json:"us,omitempty"`
	ExpireBefore     string            `json:"exb,omitempty"`
	ExpireAfter      string            `json:"exa,omitempty"`
	StateTagSmaller  *int              `json:"sts,omitempty"`
	StateTagBigger   *int              `json:"stb,omitempty"`
	ResourceTypes    []ResourceType    `json:"ty,omitempty"`
	Labels           []string          `json:"lbl,omitempty"`
	SizeAbove        *int              `json:"sza,omitempty"`
	SizeBelow        *int              `json:"szb,omitempty"`
	ContentTypes     []string          `json:"cty,omitempty"`
	Attributes       map[string]string `json:"atr,omitempty"`
	AdvancedQuery    string            `json:"aq,omitempty"`
	GeometryType     string            `json:"gmty,omitempty"`
	Geometry         string            `json:"geom,omitempty"`
	SpatialOperator  string            `json:"gsp,omitempty"`

	// Walk shaping.
	FilterUsage     FilterUsage     `json:"fu,omitempty"`
	FilterOperation FilterOperation `json:"fo,omitempty"`
	Level           *int            `json:"lvl,omitempty"`
	Offset          *int            `json:"ofst,omitempty"`
	Limit           *int            `json:"lim,omitempty"`

	// ApplyRelativePath appends a fixed sub-path to every discovered
	// resource and re-resolves it, dropping results that fail.
	ApplyRelativePath string `json:"arp,omitempty"`
}

// Operation returns the effective filter operation, defaulting to AND.
func (fc *FilterCriteria) Operation() FilterOperation {
	if fc != nil && fc.FilterOperation == FilterOperationOR {
		return FilterOperationOR
	}
	return FilterOperationAND
}

// Request is the canonical in-flight request primitive. Protocol front ends
// construct exactly this shape; the dispatch core consumes it. The JSON
// tags carry the protocol short names so bindings that receive a whole
// serialized primitive (MQTT, WebSocket) can unmarshal it directly.
type Request struct {
	Operation  Operation `json:"op"`
	Target     string    `json:"to"` // raw target address, any grammar level
	Originator string    `json:"fr"`
	RequestID  string    `json:"rqi"`

	// ResourceType is the announced type of the resource to create; only
	// meaningful for OperationCreate.
	ResourceType ResourceType `json:"ty,omitempty"`

	// Content is the decoded primitive content: for CREATE/UPDATE the
	// resource representation keyed by its short type name, for NOTIFY the
	// notification envelope.
	Content map[string]any `json:"pc,omitempty"`

	FilterCriteria *FilterCriteria             `json:"fc,omitempty"`
	ResultContent  ResultContent               `json:"rcn,omitempty"`
	DesiredIDType  DesiredIdentifierResultType `json:"drt,omitempty"`

	// Timing, all oneM2M basic-format timestamps; empty means unset.
	RequestExpiration  string `json:"rqet,omitempty"`
	ResultExpiration   string `json:"rset,omitempty"`
	OperationExecution string `json:"oet,omitempty"` // do not process before this instant
}

// Discovery reports whether the request is a discovery (filter usage set to
// discovery, or a child-listing result-content mode).
func (r *Request) Discovery() bool {
	if r.FilterCriteria != nil && r.FilterCriteria.FilterUsage == FilterUsageDiscovery {
		return true
	}
	return r.ResultContent.IsDiscovery()
}

// Result is the canonical outcome envelope returned by the dispatch core.
type Result struct {
	Status    ResponseStatus
	RequestID string

	// Content is the shaped payload: a resource representation, an
	// aggregate of representations, or a reference list, depending on the
	// request's result-content mode. Nil for ResultContentNothing and for
	// most failures.
	Content map[string]any

	// Debug carries the human-readable failure description. Bindings relay
	// it verbatim; it never contains protocol-specific codes.
	Debug string
}

// OK reports whether the result carries a success status.
func (r *Result) OK() bool {
	return r.Status.IsSuccess()
}

// NewErrorResult classifies err and builds a failure Result.
func NewErrorResult(requestID string, err error) *Result {
	return &Result{
		Status:    StatusOf(err),
		RequestID: requestID,
		Debug:     err.Error(),
	}
}

// NewResult builds a success Result for the given operation.
func NewResult(op Operation, requestID string, content map[string]any) *Result {
	return &Result{
		Status:    SuccessFor(op),
		RequestID: requestID,
		Content:   content,
	}
}

// Validate checks the request for fields every operation requires. Front
// ends call this before dispatch so malformed primitives never reach the
// core.
func (r *Request) Validate() error {
	switch r.Operation {
	case OperationCreate, OperationRetrieve, OperationUpdate, OperationDelete, OperationNotify:
	default:
		return fmt.Errorf("unknown operation %d: %w", r.Operation, ErrBadRequest)
	}
	if r.Target == "" {
		return fmt.Errorf("missing target: %w", ErrBadRequest)
	}
	if r.Originator == "" && r.Operation != OperationCreate {
		// CREATE may carry an empty originator for AE registration; the
		// registration rules assign one.
		return fmt.Errorf("missing originator: %w", ErrBadRequest)
	}
	if r.Operation == OperationCreate && r.ResourceType == 0 {
		return fmt.Errorf("missing resource type: %w", ErrBadRequest)
	}
	if (r.Operation == OperationCreate || r.Operation == OperationUpdate || r.Operation == OperationNotify) && len(r.Content) == 0 {
		return fmt.Errorf("missing content: %w", ErrBadRequest)
	}
	return nil
}
