// Package discovery implements the filtered descendant walk.
//
// The engine starts at the addressed resource's direct children, applies
// offset/limit pagination to that top level, then walks depth-first with a
// finite level budget. Every visited resource is evaluated against the
// filter criteria's condition families and the access oracle; matches are
// collected in tree-walk order. Sorting, when requested, is a separate
// pass over the flat result.
//
// Discovery reads are not linearizable with concurrent writes: each child
// fetch observes the latest committed state at call time, and a child that
// vanished mid-walk is simply skipped.
package discovery
