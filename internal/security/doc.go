// Package security answers permission questions for the dispatch core.
//
// The Oracle interface is a boolean permission check; the default
// implementation evaluates the access control policy resources referenced
// by the target's acpi attribute. Policies grant operations to originators
// through access control rules (acr): each rule pairs a set of originators
// (exact identifiers, "all", or trailing-* wildcards) with an operation
// bitmask.
//
// Access to a policy resource itself is governed by its self-privileges
// (pvs), never by pv or by other policies.
package security
