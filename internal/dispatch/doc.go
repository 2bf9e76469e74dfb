// Package dispatch orchestrates every request against the resource tree.
//
// The dispatcher is the single entry point behind all protocol front ends.
// Each operation runs the shared preamble - locality decision, scheduled
// execution wait, active-schedule window, request-expiration check, virtual
// address redirection - and then its own state machine: RETRIEVE/DISCOVER,
// CREATE, UPDATE, DELETE, NOTIFY.
//
// The dispatcher holds no per-request state between calls and is safe to
// invoke concurrently from many workers; per-resource write ordering is a
// contract on the store, not something implemented here.
//
// Every failure leaves as a typed Result with a status code and debug text.
// Collaborator failures are mapped one-to-one or wrapped with context;
// partial CREATE failures trigger a compensating delete of the resource
// already persisted.
package dispatch
