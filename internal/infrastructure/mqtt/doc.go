// Package mqtt maintains the broker connection the CSE serves requests
// over. Field entities that cannot hold an open server port publish
// oneM2M request primitives to the broker and read responses back from
// their response topic; this package carries those bytes and nothing
// else. Primitive encoding and decoding live in the bindings layer.
//
// The client replays its subscriptions after every reconnect and keeps a
// retained presence message on lattice/status/{client_id}, with a broker
// last-will announcing unexpected disconnects. Topic construction for the
// oneM2M request and response trees is in Topics.
package mqtt
