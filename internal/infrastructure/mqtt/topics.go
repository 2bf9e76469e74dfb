package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the request/response exchange over MQTT.
//
// Requests arrive on /oneM2M/req/{originator}/{receiver}/{format} and the
// matching response is published on /oneM2M/resp/{originator}/{receiver}/{format}.
// Originator and receiver identifiers have their slashes folded to ":" so
// they fit in a single topic level.
const (
	// TopicPrefixRequest is the base for inbound request topics.
	TopicPrefixRequest = "/oneM2M/req"

	// TopicPrefixResponse is the base for outbound response topics.
	TopicPrefixResponse = "/oneM2M/resp"

	// TopicPrefixRegistration is the base for registration requests from
	// entities that do not yet hold a credential.
	TopicPrefixRegistration = "/oneM2M/reg_req"
)

// Topics provides builders for the MQTT binding's topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	sub := topics.RequestFilter("cse-01")
//	// Returns: "/oneM2M/req/+/cse-01/#"
type Topics struct{}

// entityLevel folds an entity identifier into a single topic level.
//
// Example: "/cse-01" becomes ":cse-01"
func entityLevel(id string) string {
	return strings.ReplaceAll(id, "/", ":")
}

// entityID reverses entityLevel.
func entityID(level string) string {
	return strings.ReplaceAll(level, ":", "/")
}

// Request returns the topic a specific originator uses to reach receiver.
//
// Example: /oneM2M/req/Cclient1/cse-01/json
func (Topics) Request(originator, receiver, format string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixRequest, entityLevel(originator), entityLevel(receiver), format)
}

// Response returns the topic a response to originator is published on.
//
// Example: /oneM2M/resp/Cclient1/cse-01/json
func (Topics) Response(originator, receiver, format string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixResponse, entityLevel(originator), entityLevel(receiver), format)
}

// RequestFilter returns the wildcard subscription covering every request
// addressed to receiver, in any serialization.
//
// Example: /oneM2M/req/+/cse-01/#
func (Topics) RequestFilter(receiver string) string {
	return fmt.Sprintf("%s/+/%s/#", TopicPrefixRequest, entityLevel(receiver))
}

// RegistrationFilter returns the wildcard subscription covering
// registration requests addressed to receiver.
//
// Example: /oneM2M/reg_req/+/cse-01/#
func (Topics) RegistrationFilter(receiver string) string {
	return fmt.Sprintf("%s/+/%s/#", TopicPrefixRegistration, entityLevel(receiver))
}

// ServiceStatus returns the retained topic carrying a client's
// online/offline status. The broker publishes the will message here when
// a client vanishes without a graceful disconnect.
//
// Example: lattice/status/lattice-cse
func (Topics) ServiceStatus(clientID string) string {
	return "lattice/status/" + clientID
}

// ParseRequestTopic extracts the originator, receiver, and serialization
// format from an inbound request topic.
//
// Returns an error when the topic does not follow the request scheme.
func (Topics) ParseRequestTopic(topic string) (originator, receiver, format string, err error) {
	trimmed, ok := strings.CutPrefix(topic, TopicPrefixRequest+"/")
	if !ok {
		trimmed, ok = strings.CutPrefix(topic, TopicPrefixRegistration+"/")
		if !ok {
			return "", "", "", fmt.Errorf("topic %q is not a request topic", topic)
		}
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("topic %q is missing levels", topic)
	}
	return entityID(parts[0]), entityID(parts[1]), parts[2], nil
}
