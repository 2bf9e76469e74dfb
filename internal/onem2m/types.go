package onem2m

// Operation identifies the requested primitive operation.
type Operation int

// Request operations. Discovery is a Retrieve with FilterUsageDiscovery set
// in the filter criteria; it is not a distinct operation on the wire.
const (
	OperationCreate   Operation = 1
	OperationRetrieve Operation = 2
	OperationUpdate   Operation = 3
	OperationDelete   Operation = 4
	OperationNotify   Operation = 5
)

// String returns the short operation name used in logs and stats.
func (op Operation) String() string {
	switch op {
	case OperationCreate:
		return "create"
	case OperationRetrieve:
		return "retrieve"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	case OperationNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// ResourceType is the numeric type tag (ty) stored with every resource.
type ResourceType int

// Persisted resource types.
const (
	TypeMixed           ResourceType = 0 // group member type "any"
	TypeACP             ResourceType = 1
	TypeAE              ResourceType = 2
	TypeContainer       ResourceType = 3
	TypeContentInstance ResourceType = 4
	TypeCSEBase         ResourceType = 5
	TypeGroup           ResourceType = 9
	TypePollingChannel  ResourceType = 15
	TypeRemoteCSE       ResourceType = 16
	TypeSubscription    ResourceType = 23
)

// Virtual resource types. These are synthesized on demand and never stored;
// the negative tags keep them out of the persisted type space.
const (
	TypeLatest             ResourceType = -1
	TypeOldest             ResourceType = -2
	TypeFanOutPoint        ResourceType = -3
	TypePollingChannelURI  ResourceType = -4
)

// IsVirtual reports whether the type tag names a virtual resource.
func (ty ResourceType) IsVirtual() bool {
	return ty < 0
}

// IsInstance reports whether the type is an instance type (immutable,
// size-accounted content holder).
func (ty ResourceType) IsInstance() bool {
	return ty == TypeContentInstance
}

// ResultContent selects the shape of a successful response payload.
type ResultContent int

// Result-content modes.
const (
	ResultContentNothing                 ResultContent = 0
	ResultContentAttributes              ResultContent = 1
	ResultContentHierarchicalAddress     ResultContent = 2
	ResultContentHierAddressAndAttrs     ResultContent = 3
	ResultContentAttrsAndChildResources  ResultContent = 4
	ResultContentAttrsAndChildRefs       ResultContent = 5
	ResultContentChildRefs               ResultContent = 6
	ResultContentOriginalResource        ResultContent = 7
	ResultContentChildResources          ResultContent = 8
	ResultContentModifiedAttributes      ResultContent = 9
	ResultContentDiscoveryResultRefs     ResultContent = 11
	ResultContentPermissions             ResultContent = 12
)

// IsDiscovery reports whether the mode requires a tree walk below the
// addressed resource rather than (only) the resource itself.
func (rc ResultContent) IsDiscovery() bool {
	switch rc {
	case ResultContentAttrsAndChildResources,
		ResultContentAttrsAndChildRefs,
		ResultContentChildRefs,
		ResultContentChildResources,
		ResultContentDiscoveryResultRefs:
		return true
	default:
		return false
	}
}

// DesiredIdentifierResultType selects how discovered resources are
// referenced in the result (drt).
type DesiredIdentifierResultType int

// Identifier result types.
const (
	DRTStructured   DesiredIdentifierResultType = 1
	DRTUnstructured DesiredIdentifierResultType = 2
)

// FilterUsage distinguishes conditional retrieval from discovery (fu).
type FilterUsage int

// Filter usages.
const (
	FilterUsageConditional FilterUsage = 0
	FilterUsageDiscovery   FilterUsage = 1
	FilterUsageIPE         FilterUsage = 3
)

// FilterOperation combines the active condition families (fo).
type FilterOperation int

// Filter operations.
const (
	FilterOperationAND FilterOperation = 1
	FilterOperationOR  FilterOperation = 2
)

// Permission is the access-control operation bitmask used by ACP resources
// and the access oracle.
type Permission int

// Permission bits, matching the accessControlOperations encoding.
const (
	PermissionCreate   Permission = 1
	PermissionRetrieve Permission = 2
	PermissionUpdate   Permission = 4
	PermissionDelete   Permission = 8
	PermissionNotify   Permission = 16
	PermissionDiscover Permission = 32
	PermissionAll      Permission = 63
)

// PermissionFor maps an operation to the permission bit checked for it.
func PermissionFor(op Operation) Permission {
	switch op {
	case OperationCreate:
		return PermissionCreate
	case OperationRetrieve:
		return PermissionRetrieve
	case OperationUpdate:
		return PermissionUpdate
	case OperationDelete:
		return PermissionDelete
	case OperationNotify:
		return PermissionNotify
	default:
		return 0
	}
}

// Short attribute names shared by every resource type. Type-specific
// attributes live with their resource implementations.
const (
	AttrResourceID     = "ri"
	AttrParentID       = "pi"
	AttrResourceType   = "ty"
	AttrResourceName   = "rn"
	AttrCreationTime   = "ct"
	AttrLastModified   = "lt"
	AttrExpirationTime = "et"
	AttrLabels         = "lbl"
	AttrACPIDs         = "acpi"
	AttrStateTag       = "st"
)

// Virtual-resource name suffixes recognised by the identifier resolver.
const (
	SuffixLatest            = "la"
	SuffixOldest            = "ol"
	SuffixFanOutPoint       = "fopt"
	SuffixPollingChannelURI = "pcu"
)

// VirtualSuffixType maps a trailing path segment to the virtual resource
// type it names, or (0, false) when the segment is not a virtual suffix.
func VirtualSuffixType(segment string) (ResourceType, bool) {
	switch segment {
	case SuffixLatest:
		return TypeLatest, true
	case SuffixOldest:
		return TypeOldest, true
	case SuffixFanOutPoint:
		return TypeFanOutPoint, true
	case SuffixPollingChannelURI:
		return TypePollingChannelURI, true
	default:
		return 0, false
	}
}
