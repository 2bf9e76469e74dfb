package onem2m

import "errors"

// ResponseStatus is the protocol-neutral response status code carried in
// every Result. Values follow the oneM2M response status code numbering so
// that bindings can translate without a table of their own.
type ResponseStatus int

// Response status codes.
const (
	StatusOK      ResponseStatus = 2000
	StatusCreated ResponseStatus = 2001
	StatusDeleted ResponseStatus = 2002
	StatusUpdated ResponseStatus = 2004

	StatusBadRequest               ResponseStatus = 4000
	StatusNotFound                 ResponseStatus = 4004
	StatusOperationNotAllowed      ResponseStatus = 4005
	StatusRequestTimeout           ResponseStatus = 4008
	StatusContentsUnacceptable     ResponseStatus = 4102
	StatusOriginatorNoPrivilege    ResponseStatus = 4103
	StatusConflict                 ResponseStatus = 4105
	StatusSecurityAssocRequired    ResponseStatus = 4107
	StatusInvalidChildResourceType ResponseStatus = 4108

	StatusInternalError      ResponseStatus = 5000
	StatusNotImplemented     ResponseStatus = 5001
	StatusTargetNotReachable ResponseStatus = 5103
)

// IsSuccess reports whether the status is in the 2xxx range.
func (rs ResponseStatus) IsSuccess() bool {
	return rs >= 2000 && rs < 3000
}

// SuccessFor returns the success status appropriate for an operation.
func SuccessFor(op Operation) ResponseStatus {
	switch op {
	case OperationCreate:
		return StatusCreated
	case OperationUpdate:
		return StatusUpdated
	case OperationDelete:
		return StatusDeleted
	default:
		return StatusOK
	}
}

// StatusOf classifies an error into a response status using the sentinel
// error taxonomy. Unrecognised errors are treated as internal faults: a
// collaborator broke its contract if it returned something unclassified.
func StatusOf(err error) ResponseStatus {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrBadRequest):
		return StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrForbidden):
		return StatusOriginatorNoPrivilege
	case errors.Is(err, ErrSecurityAssociation):
		return StatusSecurityAssocRequired
	case errors.Is(err, ErrInvalidChildType):
		return StatusInvalidChildResourceType
	case errors.Is(err, ErrOperationNotAllowed):
		return StatusOperationNotAllowed
	case errors.Is(err, ErrContentsUnacceptable):
		return StatusContentsUnacceptable
	case errors.Is(err, ErrConflict):
		return StatusConflict
	case errors.Is(err, ErrTimeout):
		return StatusRequestTimeout
	case errors.Is(err, ErrNotReachable):
		return StatusTargetNotReachable
	case errors.Is(err, ErrNotImplemented):
		return StatusNotImplemented
	default:
		return StatusInternalError
	}
}
