package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wrenware/lattice/internal/addressing"
	"github.com/wrenware/lattice/internal/discovery"
	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
	"github.com/wrenware/lattice/internal/security"
	"github.com/wrenware/lattice/internal/store"
	"github.com/wrenware/lattice/internal/transit"
)

// Logger is the logging interface used across the dispatch core.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats records per-operation outcomes; the stats package implements it.
type Stats interface {
	Record(op onem2m.Operation, status onem2m.ResponseStatus, elapsed time.Duration)
}

// Deps holds the collaborators the dispatcher is constructed with. There
// is deliberately no global instance: the service object is built once at
// startup and passed by reference.
type Deps struct {
	Store     store.Store
	Oracle    security.Oracle
	Discovery *discovery.Engine
	Forwarder transit.Forwarder
	Local     addressing.Local
	Schedule  Schedule
	Logger    Logger
	Stats     Stats
	Notifier  URINotifier
}

// Dispatcher turns canonical requests into tree operations.
type Dispatcher struct {
	store     store.Store
	oracle    security.Oracle
	discovery *discovery.Engine
	forwarder transit.Forwarder
	local     addressing.Local
	schedule  Schedule
	logger    Logger
	stats     Stats
	notifier  URINotifier
	polling   *pollingManager
}

// New creates a dispatcher from its dependencies.
func New(deps Deps) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("access oracle is required")
	}
	if deps.Discovery == nil {
		return nil, fmt.Errorf("discovery engine is required")
	}
	d := &Dispatcher{
		store:     deps.Store,
		oracle:    deps.Oracle,
		discovery: deps.Discovery,
		forwarder: deps.Forwarder,
		local:     deps.Local,
		schedule:  deps.Schedule,
		logger:    deps.Logger,
		stats:     deps.Stats,
		notifier:  deps.Notifier,
		polling:   newPollingManager(),
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.notifier == nil {
		d.notifier = noopNotifier{}
	}
	return d, nil
}

// Handle processes one canonical request end to end and always returns a
// fully formed result; it never panics on malformed input.
func (d *Dispatcher) Handle(ctx context.Context, req *onem2m.Request) *onem2m.Result {
	start := time.Now()
	result := d.handle(ctx, req)
	if d.stats != nil {
		d.stats.Record(req.Operation, result.Status, time.Since(start))
	}
	if !result.OK() {
		d.logger.Debug("request failed",
			"op", req.Operation.String(),
			"target", req.Target,
			"originator", req.Originator,
			"status", int(result.Status),
			"debug", result.Debug,
		)
	}
	return result
}

func (d *Dispatcher) handle(ctx context.Context, req *onem2m.Request) *onem2m.Result {
	if err := req.Validate(); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	// Locality first: a request for another federation member is handed
	// to transit untouched, before any local policy applies.
	resolved, err := addressing.Resolve(req.Target, d.local)
	if err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}
	if resolved.Remote() {
		if d.forwarder == nil {
			return onem2m.NewErrorResult(req.RequestID,
				fmt.Errorf("no transit forwarder configured for CSE %q: %w",
					resolved.RemoteCSEID, onem2m.ErrNotReachable))
		}
		return d.forwarder.Forward(ctx, req, resolved.RemoteCSEID)
	}

	if err := d.preamble(ctx, req); err != nil {
		return onem2m.NewErrorResult(req.RequestID, err)
	}

	if resolved.Virtual() {
		return d.handleVirtual(ctx, req, resolved)
	}

	switch req.Operation {
	case onem2m.OperationRetrieve:
		return d.handleRetrieve(ctx, req, resolved)
	case onem2m.OperationCreate:
		return d.handleCreate(ctx, req, resolved)
	case onem2m.OperationUpdate:
		return d.handleUpdate(ctx, req, resolved)
	case onem2m.OperationDelete:
		return d.handleDelete(ctx, req, resolved)
	case onem2m.OperationNotify:
		return d.handleNotify(ctx, req, resolved)
	default:
		return onem2m.NewErrorResult(req.RequestID,
			fmt.Errorf("operation %d: %w", req.Operation, onem2m.ErrBadRequest))
	}
}

// preamble runs the shared pre-operation checks for local requests.
func (d *Dispatcher) preamble(ctx context.Context, req *onem2m.Request) error {
	// Scheduled execution: cooperative wait, responsive to cancellation.
	if req.OperationExecution != "" {
		execAt, err := onem2m.ParseTimestamp(req.OperationExecution)
		if err != nil {
			return err
		}
		if wait := time.Until(execAt); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return fmt.Errorf("cancelled while waiting for execution time: %w", onem2m.ErrTimeout)
			}
		}
	}

	if !d.schedule.ActiveAt(time.Now()) {
		return fmt.Errorf("CSE is outside its active schedule window: %w", onem2m.ErrOperationNotAllowed)
	}

	now := time.Now()
	if onem2m.TimestampElapsed(req.RequestExpiration, now) {
		return fmt.Errorf("request expiration %q has elapsed: %w", req.RequestExpiration, onem2m.ErrTimeout)
	}
	if onem2m.TimestampElapsed(req.ResultExpiration, now) {
		return fmt.Errorf("result expiration %q has elapsed: %w", req.ResultExpiration, onem2m.ErrTimeout)
	}
	return nil
}

// fetch loads the resource a resolved local address names. Expired
// resources are reported as missing.
func (d *Dispatcher) fetch(ctx context.Context, resolved addressing.Resolved) (*resource.Resource, error) {
	var res *resource.Resource
	var err error
	if resolved.SRN != "" {
		res, err = d.store.GetByPath(ctx, resolved.SRN)
	} else {
		res, err = d.store.Get(ctx, resolved.RI)
	}
	if err != nil {
		return nil, err
	}
	if res.Expired() {
		d.logger.Debug("addressed resource has expired", "ri", res.RI())
		return nil, fmt.Errorf("resource %q has expired: %w", res.RI(), onem2m.ErrNotFound)
	}
	return res, nil
}

// typedOf wraps a loaded resource; a stored document with an unknown type
// tag is a store contract violation.
func typedOf(res *resource.Resource) (resource.Typed, error) {
	t, err := resource.FromResource(res)
	if err != nil {
		if errors.Is(err, resource.ErrUnknownType) {
			return nil, fmt.Errorf("stored resource %q has unknown type %d: %w",
				res.RI(), res.Type(), onem2m.ErrInternal)
		}
		return nil, err
	}
	return t, nil
}

// checkAccess consults the oracle and normalises denial into the forbidden
// sentinel.
func (d *Dispatcher) checkAccess(ctx context.Context, originator string, res *resource.Resource, perm onem2m.Permission) error {
	granted, err := d.oracle.HasAccess(ctx, originator, res, perm)
	if err != nil {
		return fmt.Errorf("access evaluation failed: %v: %w", err, onem2m.ErrInternal)
	}
	if !granted {
		return fmt.Errorf("originator %q lacks permission on %q: %w", originator, res.RI(), onem2m.ErrForbidden)
	}
	return nil
}
