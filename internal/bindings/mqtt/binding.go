// Package mqtt binds the MQTT request/response exchange onto the dispatch
// core.
//
// Requests arrive on /oneM2M/req/{originator}/{cse-id}/{format} (and the
// reg_req variant for not-yet-registered entities), carrying one serialized
// request primitive per message. The matching response primitive is
// published on the mirror /oneM2M/resp topic. JSON and CBOR serializations
// are selected by the topic's format level.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	transport "github.com/wrenware/lattice/internal/infrastructure/mqtt"
	"github.com/wrenware/lattice/internal/onem2m"
)

// requestQoS is the QoS level used for the request/response exchange.
// At-least-once: a duplicate CREATE is answered with a conflict rather
// than a second resource, so redelivery is safe.
const requestQoS = 1

// defaultHandleTimeout bounds one request's processing when the primitive
// carries no request expiration.
const defaultHandleTimeout = 30 * time.Second

// Dispatcher is the request-handling core the binding feeds into.
type Dispatcher interface {
	Handle(ctx context.Context, req *onem2m.Request) *onem2m.Result
}

// Transport is the broker connection the binding runs over; the
// infrastructure mqtt client implements it.
type Transport interface {
	Subscribe(topic string, qos byte, handler transport.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the logging interface used by the binding.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deps holds the dependencies required by the MQTT binding.
type Deps struct {
	Client     Transport
	Dispatcher Dispatcher
	Logger     Logger

	// CSEID is the receiver identifier requests are addressed to.
	CSEID string
}

// Binding subscribes to the CSE's request topics and serves each message
// through the dispatcher.
type Binding struct {
	client     Transport
	dispatcher Dispatcher
	logger     Logger
	cseID      string
	topics     transport.Topics
}

// New creates the binding. It does not subscribe until Start is called.
func New(deps Deps) (*Binding, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.CSEID == "" {
		return nil, fmt.Errorf("cse id is required")
	}
	return &Binding{
		client:     deps.Client,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		cseID:      deps.CSEID,
	}, nil
}

// Start subscribes to the request and registration topics. Subscriptions
// survive broker reconnects; the transport client restores them.
func (b *Binding) Start() error {
	filters := []string{
		b.topics.RequestFilter(b.cseID),
		b.topics.RegistrationFilter(b.cseID),
	}
	for _, filter := range filters {
		if err := b.client.Subscribe(filter, requestQoS, b.handleMessage); err != nil {
			return fmt.Errorf("subscribing to %q: %w", filter, err)
		}
		b.logger.Info("mqtt binding listening", "filter", filter)
	}
	return nil
}

// Close removes the binding's subscriptions. The transport client itself
// is owned by the caller.
func (b *Binding) Close() error {
	filters := []string{
		b.topics.RequestFilter(b.cseID),
		b.topics.RegistrationFilter(b.cseID),
	}
	for _, filter := range filters {
		if err := b.client.Unsubscribe(filter); err != nil {
			return fmt.Errorf("unsubscribing from %q: %w", filter, err)
		}
	}
	return nil
}

// handleMessage serves one inbound request message. Malformed payloads are
// answered with a bad-request response when the originator can be derived
// from the topic, and dropped otherwise.
func (b *Binding) handleMessage(topic string, payload []byte) error {
	originator, _, format, err := b.topics.ParseRequestTopic(topic)
	if err != nil {
		b.logger.Warn("ignoring message on unparseable topic", "topic", topic, "error", err)
		return nil
	}

	req, err := decodeRequest(format, payload)
	if err != nil {
		b.logger.Warn("unparseable request primitive", "topic", topic, "error", err)
		b.respond(originator, format, &onem2m.Result{
			Status: onem2m.StatusBadRequest,
			Debug:  err.Error(),
		})
		return nil
	}
	if req.Originator == "" {
		// The topic names the sender; trust it when the primitive is silent.
		req.Originator = originator
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout(req))
	defer cancel()

	result := b.dispatcher.Handle(ctx, req)
	b.respond(originator, format, result)
	return nil
}

// handleTimeout derives the processing bound from the request expiration.
func handleTimeout(req *onem2m.Request) time.Duration {
	if req.RequestExpiration != "" {
		if at, err := onem2m.ParseTimestamp(req.RequestExpiration); err == nil {
			if wait := time.Until(at); wait > 0 {
				return wait
			}
		}
	}
	return defaultHandleTimeout
}

// respond publishes the response primitive back to the originator.
func (b *Binding) respond(originator, format string, result *onem2m.Result) {
	payload, err := encodeResult(format, result)
	if err != nil {
		b.logger.Error("encoding response primitive", "error", err)
		return
	}

	topic := b.topics.Response(originator, b.cseID, format)
	if err := b.client.Publish(topic, payload, requestQoS, false); err != nil {
		b.logger.Error("publishing response", "topic", topic, "error", err)
	}
}

// requestEnvelope is the optional "m2m:rqp" wrapper some senders put
// around the primitive.
type requestEnvelope struct {
	Primitive *onem2m.Request `json:"m2m:rqp"`
}

// responseEnvelope is the serialized response primitive.
type responseEnvelope struct {
	Status    int            `json:"rsc"`
	RequestID string         `json:"rqi"`
	Content   map[string]any `json:"pc,omitempty"`
}

// cborDec decodes CBOR maps into string-keyed maps at every nesting
// level, matching the shape the JSON path produces. The default mode
// would hand the dispatch core map[interface{}]interface{} content.
var cborDec = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// decodeRequest unmarshals one request primitive, accepting both the bare
// primitive and the enveloped form.
func decodeRequest(format string, payload []byte) (*onem2m.Request, error) {
	unmarshal := json.Unmarshal
	if format == "cbor" {
		unmarshal = cborDec.Unmarshal
	}

	var envelope requestEnvelope
	if err := unmarshal(payload, &envelope); err == nil && envelope.Primitive != nil {
		return envelope.Primitive, nil
	}

	var req onem2m.Request
	if err := unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("unparseable %s primitive: %v: %w", format, err, onem2m.ErrBadRequest)
	}
	return &req, nil
}

// encodeResult marshals the response primitive in the request's format.
func encodeResult(format string, result *onem2m.Result) ([]byte, error) {
	envelope := responseEnvelope{
		Status:    int(result.Status),
		RequestID: result.RequestID,
		Content:   result.Content,
	}
	if !result.OK() && result.Debug != "" {
		envelope.Content = map[string]any{"m2m:dbg": result.Debug}
	}

	wrapped := map[string]any{"m2m:rsp": envelope}
	if format == "cbor" {
		return cbor.Marshal(wrapped)
	}
	return json.Marshal(wrapped)
}
