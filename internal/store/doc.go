// Package store persists the resource tree.
//
// The Store interface is the fixed CRUD/search facade the dispatch core
// consumes; SQLite backs the default implementation. Three tables move in
// lockstep: the resource documents, the identifier map (ri <-> structured
// path, unique both ways), and the per-parent child index that spares the
// tree from full scans on child enumeration. Every create and delete
// mutates all three inside one transaction, so the mapping bijection holds
// at every commit point.
//
// Per-resource-ID serialization of create/update/delete is a contract the
// dispatch core relies on; the single-writer SQLite connection provides it.
//
// Structured-path lookups go through a TTL cache in front of the identifier
// map, invalidated on create and delete.
package store
