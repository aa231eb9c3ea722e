package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"deskpilot/pkg/api"
	"deskpilot/pkg/config"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

// IncomingMessage is what a client sends. Plain non-JSON frames are taken
// as the instruction text.
type IncomingMessage struct {
	Text string `json:"text"`
}

// OutgoingMessage is every frame the server sends:
//
//	{"type":"session","value":"<id>"}   once, after connecting
//	{"type":"text","text":"..."}        a reply
//	{"type":"signal","value":"thinking"}
type OutgoingMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Value string `json:"value,omitempty"`
}

type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteJSONMessage(msg OutgoingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

// WebChannel serves a websocket API. Every connection is its own
// conversation; closing it ends the conversation.
type WebChannel struct {
	config   config.WebConfig
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger

	connections map[string]*SafeConn // Map ChatID -> WS Connection
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

func NewWebChannel(cfg config.WebConfig, logger *zap.Logger) *WebChannel {
	return &WebChannel{
		config:      cfg,
		connections: make(map[string]*SafeConn),
		logger:      logger.Named("web"),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

// Start binds the port before returning so a taken port fails the start.
func (c *WebChannel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	mux.HandleFunc("/healthz", c.handleHealth)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("web channel listen: %w", err)
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	c.logger.Info("Web API listening", zap.String("addr", ln.Addr().String()))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Web API server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr is the bound address, valid after Start.
func (c *WebChannel) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

func (c *WebChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := c.server.Shutdown(ctx)

	// Hijacked websocket connections are not closed by Shutdown.
	c.mu.Lock()
	for _, conn := range c.connections {
		_ = conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	return err
}

func (c *WebChannel) conn(session api.SessionContext) (*SafeConn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[session.ChatID]
	if !ok {
		return nil, fmt.Errorf("web session %s not connected", session.ChatID)
	}
	return conn, nil
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.WriteJSONMessage(OutgoingMessage{Type: "text", Text: message})
}

// SendSignal implements the gateway.SignalingChannel interface
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.WriteJSONMessage(OutgoingMessage{Type: "signal", Value: signal})
}

func (c *WebChannel) handleHealth(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	n := len(c.connections)
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "connections": n})
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error("WS Upgrade failed", zap.Error(err))
		return
	}

	// Wrap connection
	conn := &SafeConn{Conn: rawConn}

	username := r.URL.Query().Get("name")
	if username == "" {
		username = "WebUser"
	}
	id := uuid.NewString()
	session := api.SessionContext{
		ChannelID: c.ID(),
		UserID:    id,
		ChatID:    id,
		Username:  username,
	}
	logger := c.logger.With(zap.String("session", id), zap.String("remote", r.RemoteAddr))

	c.mu.Lock()
	c.connections[id] = conn
	c.mu.Unlock()
	logger.Info("Client connected")

	defer func() {
		c.mu.Lock()
		delete(c.connections, id)
		c.mu.Unlock()
		conn.Close()
		logger.Info("Client disconnected")
		ctx.OnSessionClosed(session)
	}()

	if err := conn.WriteJSONMessage(OutgoingMessage{Type: "session", Value: id}); err != nil {
		logger.Warn("Failed to send session id", zap.Error(err))
		return
	}

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Read failed", zap.Error(err))
			}
			return
		}

		var incoming IncomingMessage
		content := string(msgBytes)
		if err := json.Unmarshal(msgBytes, &incoming); err == nil {
			content = incoming.Text
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
		})
	}
}

var _ api.SignalingChannel = (*WebChannel)(nil)
