package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wrenware/lattice/internal/infrastructure/config"
	"github.com/wrenware/lattice/internal/onem2m"
)

// wsSendBufferSize is the per-client outbound frame buffer size.
const wsSendBufferSize = 256

// wsRequest is the request primitive as it appears on a WebSocket frame,
// using the protocol short names.
type wsRequest struct {
	Operation     int             `json:"op"`
	Target        string          `json:"to"`
	Originator    string          `json:"fr"`
	RequestID     string          `json:"rqi"`
	ResourceType  int             `json:"ty,omitempty"`
	Content       map[string]any  `json:"pc,omitempty"`
	ResultContent *int            `json:"rcn,omitempty"`
	DesiredIDType *int            `json:"drt,omitempty"`
	Expiration    string          `json:"rqet,omitempty"`
	Filter        json.RawMessage `json:"fc,omitempty"`
}

// wsResponse is the response primitive as it appears on a frame.
type wsResponse struct {
	Status    int            `json:"rsc"`
	RequestID string         `json:"rqi"`
	Content   map[string]any `json:"pc,omitempty"`
}

// Hub tracks connected WebSocket clients so shutdown can close them.
type Hub struct {
	logger  hubLogger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

type hubLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	dispatcher Dispatcher
	originator string // identity bound at upgrade time, from X-M2M-Origin
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(logger hubLogger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection and runs the frame loop. Each
// inbound frame is a request primitive; the matching response primitive
// is written back on the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	originator := r.Header.Get(headerOriginator)
	if originator == "" {
		originator = r.URL.Query().Get("fr")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:        s.hub,
		conn:       conn,
		send:       make(chan []byte, wsSendBufferSize),
		dispatcher: s.dispatcher,
		originator: originator,
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads frames from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client frame resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		go c.handleFrame(message)
	}
}

// writePump writes frames to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame decodes one request primitive, dispatches it, and queues
// the response. Runs on its own goroutine so a slow operation does not
// stall the read loop.
func (c *WSClient) handleFrame(data []byte) {
	var frame wsRequest
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendResult(&onem2m.Result{
			Status: onem2m.StatusBadRequest,
			Debug:  "unparseable request frame: " + err.Error(),
		})
		return
	}

	req := frame.toRequest(c.originator)
	c.sendResult(c.dispatcher.Handle(context.Background(), req))
}

// toRequest converts a frame into the canonical primitive. The fallback
// originator applies when the frame omits fr.
func (f *wsRequest) toRequest(fallbackOriginator string) *onem2m.Request {
	req := &onem2m.Request{
		Operation:         onem2m.Operation(f.Operation),
		Target:            f.Target,
		Originator:        f.Originator,
		RequestID:         f.RequestID,
		ResourceType:      onem2m.ResourceType(f.ResourceType),
		Content:           f.Content,
		RequestExpiration: f.Expiration,
	}
	if req.Originator == "" {
		req.Originator = fallbackOriginator
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if f.ResultContent != nil {
		req.ResultContent = onem2m.ResultContent(*f.ResultContent)
	}
	if f.DesiredIDType != nil {
		req.DesiredIDType = onem2m.DesiredIdentifierResultType(*f.DesiredIDType)
	}
	if len(f.Filter) > 0 {
		// FilterCriteria carries the short-name JSON tags directly.
		var fc onem2m.FilterCriteria
		if err := json.Unmarshal(f.Filter, &fc); err == nil {
			req.FilterCriteria = &fc
		}
	}
	return req
}

// sendResult queues a response frame for the write pump.
// It silently handles closed channels (client disconnected mid-request)
// and full buffers (slow client).
func (c *WSClient) sendResult(result *onem2m.Result) {
	frame := wsResponse{
		Status:    int(result.Status),
		RequestID: result.RequestID,
		Content:   result.Content,
	}
	if !result.OK() && result.Debug != "" {
		frame.Content = map[string]any{"m2m:dbg": result.Debug}
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}
