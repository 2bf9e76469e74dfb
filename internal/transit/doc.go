// Package transit forwards requests whose target resolves to a different
// federation member.
//
// The forwarder looks up the peer's point of access from its remote CSE
// registration (or the static registrar configuration), re-encodes the
// canonical request onto the peer's HTTP binding, and relays the peer's
// result verbatim. The request's expiration timestamp bounds the outbound
// call as its deadline.
package transit
