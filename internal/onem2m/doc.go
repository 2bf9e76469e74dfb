// Package onem2m defines the canonical, protocol-neutral request and result
// model shared by every component of Lattice.
//
// Protocol front ends (HTTP, WebSocket, MQTT) decode wire bytes into a
// Request, hand it to the dispatch core, and encode the returned Result back
// to the wire. Nothing below the front ends ever sees transport detail; the
// types in this package are the sole boundary contract.
//
// The package also defines the response status taxonomy, the sentinel errors
// every layer uses to classify failures, and the short-name attribute and
// resource-type constants used throughout the resource tree.
package onem2m
