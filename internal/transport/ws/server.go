package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tronrun/tron/internal/ids"
	"github.com/tronrun/tron/internal/rpc"
	"github.com/tronrun/tron/internal/runtimeerr"
)

const (
	// DefaultQueueSize bounds each connection's outbound queue.
	DefaultQueueSize = 64
	// DefaultHeartbeatInterval is how often a ping is sent.
	DefaultHeartbeatInterval = 15 * time.Second
	// DefaultHeartbeatTimeout is how long a connection may go without a
	// liveness signal before it is considered dead.
	DefaultHeartbeatTimeout = 45 * time.Second
	// DefaultWriteWait bounds one outbound frame write.
	DefaultWriteWait = 10 * time.Second
	// DefaultReadLimit bounds one inbound frame.
	DefaultReadLimit = 1 << 20
)

// Server upgrades incoming HTTP requests to WebSocket connections, runs
// each connection's outbound queue, heartbeat, and inbound JSON-RPC
// dispatch loop, and registers every connection with a BroadcastManager
// so the orchestrator's events can be routed to it by bound session id.
// Grounded on internal/gateway/ws_control_plane.go's wsControlPlane/
// wsSession split, generalized from its single-purpose switch-on-method
// dispatch onto the method-registrable rpc.Registry, and supplemented
// with the missed-pong counting its startTicking doesn't do.
type Server struct {
	Registry          *rpc.Registry
	Broadcast         *BroadcastManager
	Logger            *slog.Logger
	QueueSize         int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteWait         time.Duration
	ReadLimit         int64

	upgrader websocket.Upgrader
}

// NewServer builds a Server with defaults applied for every zero-valued
// tunable field.
func NewServer(registry *rpc.Registry, broadcast *BroadcastManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Registry:  registry,
		Broadcast: broadcast,
		Logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) queueSize() int {
	if s.QueueSize > 0 {
		return s.QueueSize
	}
	return DefaultQueueSize
}

func (s *Server) heartbeatInterval() time.Duration {
	if s.HeartbeatInterval > 0 {
		return s.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

func (s *Server) heartbeatTimeout() time.Duration {
	if s.HeartbeatTimeout > 0 {
		return s.HeartbeatTimeout
	}
	return DefaultHeartbeatTimeout
}

func (s *Server) writeWait() time.Duration {
	if s.WriteWait > 0 {
		return s.WriteWait
	}
	return DefaultWriteWait
}

func (s *Server) readLimit() int64 {
	if s.ReadLimit > 0 {
		return s.ReadLimit
	}
	return DefaultReadLimit
}

// ServeHTTP upgrades the request and drives the connection until it
// closes, either from a read error, an explicit close, or a heartbeat
// timeout.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	client := NewClientConnection(ids.NewClientID(), s.queueSize(), cancel)

	s.Broadcast.Register(client)
	defer s.Broadcast.Unregister(client.ID)
	defer cancel()
	defer conn.Close()

	established, _ := json.Marshal(map[string]any{
		"event":   "connection.established",
		"payload": map[string]any{"clientId": client.ID},
	})
	client.Enqueue(established)

	go s.writeLoop(ctx, conn, client)
	go s.heartbeatLoop(ctx, conn, client)

	s.readLoop(ctx, conn, client)
}

// writeLoop is the connection's sole writer: it drains the bounded
// outbound queue and writes each frame, or returns once ctx is done.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, client *ClientConnection) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.Send():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait()))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				return
			}
		}
	}
}

// heartbeatLoop runs RunHeartbeat, pinging over a control frame — safe to
// write concurrently with writeLoop's data frames per gorilla/websocket's
// own concurrency contract for WriteControl.
func (s *Server) heartbeatLoop(ctx context.Context, conn *websocket.Conn, client *ClientConnection) {
	ping := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait()))
	}
	RunHeartbeat(ctx.Done(), client, ping, s.heartbeatInterval(), s.heartbeatTimeout())
}

// readLoop parses each inbound text frame as an RPC request, dispatches
// it through the registry, and enqueues the response. Any inbound frame —
// not just a pong — counts as liveness, since a chatty client that never
// sends protocol-level pongs but is still actively issuing requests is
// not dead.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *ClientConnection) {
	conn.SetReadLimit(s.readLimit())
	_ = conn.SetReadDeadline(time.Now().Add(s.heartbeatTimeout()))
	conn.SetPongHandler(func(string) error {
		client.MarkAlive()
		return conn.SetReadDeadline(time.Now().Add(s.heartbeatTimeout()))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		client.MarkAlive()
		_ = conn.SetReadDeadline(time.Now().Add(s.heartbeatTimeout()))

		var req rpc.Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.enqueueParseError(client, err)
			continue
		}

		resp := s.Registry.Dispatch(ctx, req)
		s.bindSessionIfRequested(req, resp, client)

		encoded, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		client.Enqueue(encoded)
	}
}

func (s *Server) enqueueParseError(client *ClientConnection, cause error) {
	resp := rpc.Response{
		Success: false,
		Error:   rpc.NewError(runtimeerr.CodeInvalidParams, "malformed request: "+cause.Error()),
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}
	client.Enqueue(encoded)
}

// sessionResult is the shape session.create and session.resume results
// are expected to carry, for the purpose of remembering which session a
// connection is now bound to.
type sessionResult struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) bindSessionIfRequested(req rpc.Request, resp rpc.Response, client *ClientConnection) {
	if !resp.Success {
		return
	}
	if req.Method != "session.create" && req.Method != "session.resume" {
		return
	}
	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		return
	}
	var result sessionResult
	if err := json.Unmarshal(encoded, &result); err != nil || result.SessionID == "" {
		return
	}
	client.BindSession(ids.SessionID(result.SessionID))
}
