package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/pairpad/server/auth"
	"github.com/pairpad/server/execute"
	"github.com/pairpad/server/logger"
	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/rpc"
	"github.com/pairpad/server/session"
)

// RPCHandler handles JSON-RPC 2.0 over WebSocket.
type RPCHandler struct {
	version  string
	devMode  bool
	verifier *auth.Verifier
	registry *session.Registry
	backend  execute.Backend
}

func NewRPCHandler(version string, devMode bool, verifier *auth.Verifier, registry *session.Registry, backend execute.Backend) *RPCHandler {
	return &RPCHandler{
		version:  version,
		devMode:  devMode,
		verifier: verifier,
		registry: registry,
		backend:  backend,
	}
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	h.handleConnection(r.Context(), conn)
}

func (h *RPCHandler) handleConnection(ctx context.Context, wsConn *websocket.Conn) {
	stream := newWebSocketStream(wsConn)
	connID := uuid.Must(uuid.NewV7()).String()
	h.HandleStream(ctx, stream, connID)
}

func (h *RPCHandler) HandleStream(ctx context.Context, stream jsonrpc2.ObjectStream, connID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc connection crashed", "connId", connID)
		}
	}()

	log := slog.With("connId", connID)
	log.Info("new rpc connection")

	handler := &rpcMethodHandler{
		RPCHandler: h,
		connID:     connID,
		log:        log,
	}

	rpcConn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(handler))
	<-rpcConn.DisconnectNotify()

	log.Info("rpc connection closed")
}

type rpcMethodHandler struct {
	*RPCHandler
	connID string
	log    *slog.Logger

	authMu   sync.Mutex
	identity *auth.Identity
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc handler panic", "method", req.Method, "connId", h.connID)
		}
	}()

	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	// Auth must be the first request
	if !h.isAuthenticated() {
		if req.Method != "auth" {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	switch req.Method {
	case "session.create":
		h.handleSessionCreate(ctx, conn, req)
	case "session.get":
		h.handleSessionGet(ctx, conn, req)
	case "session.run":
		h.handleSessionRun(ctx, conn, req)
	default:
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) isAuthenticated() bool {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	return h.identity != nil
}

func (h *rpcMethodHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	id, err := h.verifier.Verify(params.Credential)
	if err != nil {
		h.log.Warn("rpc auth failed", "error", err)
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "invalid credential")
		conn.Close()
		return
	}

	h.authMu.Lock()
	h.identity = &id
	h.authMu.Unlock()

	h.log.Info("authenticated", "user", id.Name())

	result := rpc.AuthResult{
		Version:  h.version,
		UserID:   id.UserID,
		Username: id.Username,
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send auth response", "error", err)
	}
}

func (h *rpcMethodHandler) handleSessionCreate(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionCreateParams
	if req.Params != nil {
		if err := unmarshalParams(req, &params); err != nil {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
			return
		}
	}

	var token string
	var err error
	if params.InitialCode != nil {
		token, err = h.registry.CreateNew(*params.InitialCode, params.Language)
	} else {
		token, err = h.registry.CreateDefault(params.Language)
	}
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownLanguage) {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "unknown language")
			return
		}
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to create session")
		return
	}

	h.log.Info("session created", "session", token)

	if err := conn.Reply(ctx, req.ID, rpc.SessionCreateResult{Token: token}); err != nil {
		h.log.Error("failed to send session create response", "error", err)
	}
}

func (h *rpcMethodHandler) handleSessionGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionGetParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	st, err := h.registry.Snapshot(ctx, params.Token)
	if err != nil {
		h.replySessionError(ctx, conn, req.ID, err)
		return
	}

	info := rpc.NewSessionInfo(st, h.registry.Members(params.Token))
	if err := conn.Reply(ctx, req.ID, info); err != nil {
		h.log.Error("failed to send session get response", "error", err)
	}
}

func (h *rpcMethodHandler) handleSessionRun(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionRunParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	result, err := execute.RunSession(ctx, h.backend, h.registry, params.Token, params.Stdin)
	if err != nil {
		h.replySessionError(ctx, conn, req.ID, err)
		return
	}

	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send session run response", "error", err)
	}
}

func (h *rpcMethodHandler) replySessionError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		h.replyError(ctx, conn, id, jsonrpc2.CodeInvalidParams, "session not found")
	case errors.Is(err, execute.ErrBackend):
		h.log.Warn("execution backend failed", "error", err)
		h.replyError(ctx, conn, id, jsonrpc2.CodeInternalError, "execution backend unavailable")
	default:
		h.log.Error("session request failed", "error", err)
		h.replyError(ctx, conn, id, jsonrpc2.CodeInternalError, "internal error")
	}
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return errors.New("params required")
	}
	return json.Unmarshal(*req.Params, v)
}

// webSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

// NewClientStream wraps a dialed websocket for use with jsonrpc2.NewConn.
func NewClientStream(conn *websocket.Conn) jsonrpc2.ObjectStream {
	return newWebSocketStream(conn)
}

func (s *webSocketStream) ReadObject(v interface{}) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		// Treat normal close frames as EOF so jsonrpc2 shuts down gracefully
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return io.EOF
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// Ensure webSocketStream implements ObjectStream
var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
