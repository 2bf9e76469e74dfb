// Package resource implements the typed resource model of the tree.
//
// A stored document is an attribute map; this package turns it into a typed
// in-memory resource selected by the stored type tag, and back. Each type
// implements the Typed interface, whose lifecycle hooks the dispatch core
// drives: validation before persistence, activation after, structural checks
// when children arrive or leave, and deactivation guards before deletion.
//
// Updates use value semantics: Merge builds a new merged attribute map and a
// modified-attribute diff without touching the stored original, so no two
// stages of an operation ever alias one in-memory resource.
package resource
