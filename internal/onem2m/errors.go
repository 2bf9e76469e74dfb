package onem2m

import "errors"

// Sentinel errors for the failure taxonomy. Every layer wraps one of these
// (fmt.Errorf("...: %w", onem2m.ErrNotFound)) so that callers can classify
// with errors.Is and StatusOf without string matching.
var (
	// ErrBadRequest covers malformed addresses and unparsable or invalid
	// request content. Always client fault, never retried.
	ErrBadRequest = errors.New("onem2m: bad request")

	// ErrNotFound is returned for a missing resource, missing parent, or a
	// dangling identifier mapping.
	ErrNotFound = errors.New("onem2m: resource not found")

	// ErrForbidden is returned when the access oracle denies the operation.
	ErrForbidden = errors.New("onem2m: originator has no privilege")

	// ErrSecurityAssociation is returned when a resource type requires a
	// prior registration or handshake that the originator does not have.
	ErrSecurityAssociation = errors.New("onem2m: security association required")

	// ErrInvalidChildType is returned when a parent's allowed-child-type set
	// excludes the requested type.
	ErrInvalidChildType = errors.New("onem2m: invalid child resource type")

	// ErrOperationNotAllowed covers structural refusals: updating an
	// immutable instance, deleting the CSE root, cardinality violations.
	ErrOperationNotAllowed = errors.New("onem2m: operation not allowed")

	// ErrContentsUnacceptable is returned when request content violates a
	// resource constraint, such as a container byte-size limit.
	ErrContentsUnacceptable = errors.New("onem2m: contents unacceptable")

	// ErrConflict is returned on a duplicate resource-ID or structured path.
	ErrConflict = errors.New("onem2m: conflict")

	// ErrTimeout is returned when request or result expiration has elapsed,
	// or a federated call exceeded its deadline.
	ErrTimeout = errors.New("onem2m: request timeout")

	// ErrNotReachable is returned when a federation peer cannot be reached.
	ErrNotReachable = errors.New("onem2m: target not reachable")

	// ErrNotImplemented marks operations the CSE does not support.
	ErrNotImplemented = errors.New("onem2m: not implemented")

	// ErrInternal marks collaborator contract violations, such as a store
	// returning two documents for a unique key.
	ErrInternal = errors.New("onem2m: internal error")
)
