package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	transport "github.com/wrenware/lattice/internal/infrastructure/mqtt"
	"github.com/wrenware/lattice/internal/onem2m"
)

type publishedMessage struct {
	topic   string
	payload []byte
}

// mockTransport records subscriptions and published messages.
type mockTransport struct {
	mu            sync.Mutex
	subscriptions map[string]transport.MessageHandler
	published     []publishedMessage
}

func newMockTransport() *mockTransport {
	return &mockTransport{subscriptions: make(map[string]transport.MessageHandler)}
}

func (m *mockTransport) Subscribe(topic string, _ byte, handler transport.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[topic] = handler
	return nil
}

func (m *mockTransport) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, topic)
	return nil
}

func (m *mockTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic, payload})
	return nil
}

func (m *mockTransport) lastPublished() *publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return nil
	}
	return &m.published[len(m.published)-1]
}

// mockDispatcher records the last request and returns a canned result.
type mockDispatcher struct {
	mu     sync.Mutex
	last   *onem2m.Request
	result *onem2m.Result
}

func (d *mockDispatcher) Handle(_ context.Context, req *onem2m.Request) *onem2m.Result {
	d.mu.Lock()
	d.last = req
	result := d.result
	d.mu.Unlock()

	if result != nil {
		out := *result
		out.RequestID = req.RequestID
		return &out
	}
	return &onem2m.Result{
		Status:    onem2m.StatusOK,
		RequestID: req.RequestID,
		Content:   map[string]any{"m2m:cnt": map[string]any{"rn": "app"}},
	}
}

func (d *mockDispatcher) lastRequest() *onem2m.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func testBinding(t *testing.T) (*Binding, *mockTransport, *mockDispatcher) {
	t.Helper()
	tr := newMockTransport()
	disp := &mockDispatcher{}
	b, err := New(Deps{
		Client:     tr,
		Dispatcher: disp,
		Logger:     nopLogger{},
		CSEID:      "cse-01",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return b, tr, disp
}

// ===========================================================================
// Lifecycle
// ===========================================================================

func TestNew_Validation(t *testing.T) {
	tr := newMockTransport()
	disp := &mockDispatcher{}

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing client", Deps{Dispatcher: disp, Logger: nopLogger{}, CSEID: "cse-01"}},
		{"missing dispatcher", Deps{Client: tr, Logger: nopLogger{}, CSEID: "cse-01"}},
		{"missing logger", Deps{Client: tr, Dispatcher: disp, CSEID: "cse-01"}},
		{"missing cse id", Deps{Client: tr, Dispatcher: disp, Logger: nopLogger{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() accepted incomplete dependencies")
			}
		})
	}
}

func TestStartSubscribesToRequestTopics(t *testing.T) {
	b, tr, _ := testBinding(t)

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.subscriptions["/oneM2M/req/+/cse-01/#"]; !ok {
		t.Error("request filter not subscribed")
	}
	if _, ok := tr.subscriptions["/oneM2M/reg_req/+/cse-01/#"]; !ok {
		t.Error("registration filter not subscribed")
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	b, tr, _ := testBinding(t)
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.subscriptions) != 0 {
		t.Errorf("subscriptions remain after Close: %v", tr.subscriptions)
	}
}

// ===========================================================================
// Request handling
// ===========================================================================

func TestHandleMessage_DispatchesAndResponds(t *testing.T) {
	b, tr, disp := testBinding(t)

	primitive := `{"op":2,"to":"cse-base/app","fr":"Cclient1","rqi":"m-001","rcn":1}`
	if err := b.handleMessage("/oneM2M/req/Cclient1/cse-01/json", []byte(primitive)); err != nil {
		t.Fatalf("handleMessage error: %v", err)
	}

	sent := disp.lastRequest()
	if sent == nil {
		t.Fatal("dispatcher was not invoked")
	}
	if sent.Operation != onem2m.OperationRetrieve {
		t.Errorf("Operation = %v, want retrieve", sent.Operation)
	}
	if sent.Target != "cse-base/app" {
		t.Errorf("Target = %q, want cse-base/app", sent.Target)
	}
	if sent.Originator != "Cclient1" {
		t.Errorf("Originator = %q, want Cclient1", sent.Originator)
	}

	pub := tr.lastPublished()
	if pub == nil {
		t.Fatal("no response published")
	}
	if pub.topic != "/oneM2M/resp/Cclient1/cse-01/json" {
		t.Errorf("response topic = %q", pub.topic)
	}

	var envelope map[string]any
	if err := json.Unmarshal(pub.payload, &envelope); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	rsp, ok := envelope["m2m:rsp"].(map[string]any)
	if !ok {
		t.Fatalf("response missing m2m:rsp: %v", envelope)
	}
	if rsp["rsc"] != float64(2000) {
		t.Errorf("rsc = %v, want 2000", rsp["rsc"])
	}
	if rsp["rqi"] != "m-001" {
		t.Errorf("rqi = %v, want m-001", rsp["rqi"])
	}
}

func TestHandleMessage_EnvelopedPrimitive(t *testing.T) {
	b, _, disp := testBinding(t)

	primitive := `{"m2m:rqp":{"op":4,"to":"cse-base/app","fr":"Cclient1","rqi":"m-002"}}`
	if err := b.handleMessage("/oneM2M/req/Cclient1/cse-01/json", []byte(primitive)); err != nil {
		t.Fatalf("handleMessage error: %v", err)
	}

	sent := disp.lastRequest()
	if sent == nil {
		t.Fatal("dispatcher was not invoked")
	}
	if sent.Operation != onem2m.OperationDelete {
		t.Errorf("Operation = %v, want delete", sent.Operation)
	}
}

func TestHandleMessage_OriginatorFallsBackToTopic(t *testing.T) {
	b, _, disp := testBinding(t)

	primitive := `{"op":2,"to":"cse-base"}`
	if err := b.handleMessage("/oneM2M/req/:cse-02/cse-01/json", []byte(primitive)); err != nil {
		t.Fatalf("handleMessage error: %v", err)
	}

	sent := disp.lastRequest()
	if sent == nil {
		t.Fatal("dispatcher was not invoked")
	}
	if sent.Originator != "/cse-02" {
		t.Errorf("Originator = %q, want /cse-02 (unfolded topic level)", sent.Originator)
	}
	if sent.RequestID == "" {
		t.Error("RequestID was not generated")
	}
}

func TestHandleMessage_MalformedPayloadAnsweredWithBadRequest(t *testing.T) {
	b, tr, disp := testBinding(t)

	if err := b.handleMessage("/oneM2M/req/Cclient1/cse-01/json", []byte("not json")); err != nil {
		t.Fatalf("handleMessage error: %v", err)
	}

	if disp.lastRequest() != nil {
		t.Error("malformed payload reached the dispatcher")
	}

	pub := tr.lastPublished()
	if pub == nil {
		t.Fatal("no error response published")
	}
	if !strings.Contains(string(pub.payload), `"rsc":4000`) {
		t.Errorf("expected rsc 4000 in response, got %s", pub.payload)
	}
	if !strings.Contains(string(pub.payload), "m2m:dbg") {
		t.Errorf("expected m2m:dbg in response, got %s", pub.payload)
	}
}

func TestHandleMessage_UnrelatedTopicIgnored(t *testing.T) {
	b, tr, disp := testBinding(t)

	if err := b.handleMessage("/oneM2M/resp/Cclient1/cse-01/json", []byte("{}")); err != nil {
		t.Fatalf("handleMessage error: %v", err)
	}
	if disp.lastRequest() != nil {
		t.Error("message on a response topic reached the dispatcher")
	}
	if tr.lastPublished() != nil {
		t.Error("message on a response topic was answered")
	}
}

func TestHandleMessage_ErrorResult(t *testing.T) {
	b, tr, disp := testBinding(t)
	disp.result = &onem2m.Result{Status: onem2m.StatusNotFound, Debug: "no such resource"}

	primitive := `{"op":2,"to":"cse-base/missing","fr":"Cclient1","rqi":"m-003"}`
	if err := b.handleMessage("/oneM2M/req/Cclient1/cse-01/json", []byte(primitive)); err != nil {
		t.Fatalf("handleMessage error: %v", err)
	}

	pub := tr.lastPublished()
	if pub == nil {
		t.Fatal("no response published")
	}
	var envelope map[string]any
	if err := json.Unmarshal(pub.payload, &envelope); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	rsp := envelope["m2m:rsp"].(map[string]any)
	if rsp["rsc"] != float64(4004) {
		t.Errorf("rsc = %v, want 4004", rsp["rsc"])
	}
	pc := rsp["pc"].(map[string]any)
	if pc["m2m:dbg"] != "no such resource" {
		t.Errorf("m2m:dbg = %v, want debug text", pc["m2m:dbg"])
	}
}

// ===========================================================================
// Timeouts
// ===========================================================================

func TestHandleTimeout(t *testing.T) {
	if got := handleTimeout(&onem2m.Request{}); got != defaultHandleTimeout {
		t.Errorf("timeout without expiration = %v, want %v", got, defaultHandleTimeout)
	}

	future := onem2m.FormatTimestamp(time.Now().Add(5 * time.Second))
	got := handleTimeout(&onem2m.Request{RequestExpiration: future})
	if got <= 0 || got > 5*time.Second {
		t.Errorf("timeout with future expiration = %v, want (0s, 5s]", got)
	}

	past := onem2m.FormatTimestamp(time.Now().Add(-time.Minute))
	if got := handleTimeout(&onem2m.Request{RequestExpiration: past}); got != defaultHandleTimeout {
		t.Errorf("timeout with elapsed expiration = %v, want default", got)
	}
}

func TestDecodeRequest_CBORNestedContent(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{
		"op": 1, "to": "cse-base/app", "fr": "CAdmin", "rqi": "r-1", "ty": 3,
		"pc": map[string]any{"m2m:cnt": map[string]any{"rn": "readings"}},
	})
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}

	req, err := decodeRequest("cbor", payload)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	rep, ok := req.Content["m2m:cnt"].(map[string]any)
	if !ok {
		t.Fatalf("nested representation decoded as %T, want map[string]any", req.Content["m2m:cnt"])
	}
	if rep["rn"] != "readings" {
		t.Errorf("rn = %v", rep["rn"])
	}
}
