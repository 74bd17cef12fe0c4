package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pairpad/server/auth"
	"github.com/pairpad/server/logger"
	"github.com/pairpad/server/session"
)

const editorPathPrefix = "/ws/editor"

type Options struct {
	DevMode        bool
	OriginPatterns []string
	// SendQueue bounds frames waiting for a slow client.
	SendQueue int
	// ReadLimit is the largest frame accepted from a client.
	ReadLimit    int64
	WriteTimeout time.Duration
}

// Handler serves the editor websocket at /ws/editor/{token}.
type Handler struct {
	gate     *auth.Gate
	registry *session.Registry
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHandler(gate *auth.Gate, registry *session.Registry, opts Options) *Handler {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		gate:     gate,
		registry: registry,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Shutdown disconnects every open editor connection.
func (h *Handler) Shutdown() {
	h.cancel()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionToken := sessionTokenFromPath(r.URL.Path)
	credential := credentialFromRequest(r)

	// Accept before authenticating so browsers can see the close code.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.opts.DevMode,
		OriginPatterns:     h.opts.OriginPatterns,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	connID := uuid.Must(uuid.NewV7()).String()
	log := slog.With("connId", connID)

	adm, err := h.gate.Admit(sessionToken, credential)
	if err != nil {
		status := auth.CloseStatus(err)
		log.Warn("connection rejected", "error", err, "status", int(status))
		conn.Close(status, closeReason(err))
		return
	}

	log = log.With("session", adm.Token, "user", adm.Identity.Name())
	conn.SetReadLimit(h.opts.ReadLimit)
	c := newConnection(connID, adm.Identity.Name(), conn, h.opts.SendQueue, h.opts.WriteTimeout, log)
	h.serve(r.Context(), c, adm)
}

func (h *Handler) serve(ctx context.Context, c *connection, adm auth.Admission) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "editor connection crashed", "connId", c.id)
			c.close(websocket.StatusInternalError, "internal error")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, func() {
		c.close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()

	go c.writeLoop(ctx)

	actor, err := h.registry.Join(adm.Token, c)
	if err != nil {
		c.log.Error("failed to join session", "error", err)
		c.close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}
	defer h.registry.Leave(adm.Token, c.id)

	c.log.Info("connection joined", "minted", adm.Minted)
	c.readLoop(ctx, actor)
	c.close(websocket.StatusNormalClosure, "")
	c.log.Info("connection closed")
}

// sessionTokenFromPath extracts {token} from /ws/editor/{token}/. An empty
// result means the client asked for a new session.
func sessionTokenFromPath(p string) string {
	return strings.Trim(strings.TrimPrefix(p, editorPathPrefix), "/")
}

// credentialFromRequest reads ?token= (browsers cannot set headers on a
// websocket upgrade) and falls back to a Bearer header.
func credentialFromRequest(r *http.Request) string {
	if c := r.URL.Query().Get("token"); c != "" {
		return c
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func closeReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "missing credential"
	case errors.Is(err, auth.ErrInvalidCredential):
		return "invalid credential"
	case errors.Is(err, auth.ErrInvalidSessionToken):
		return "invalid session"
	default:
		return "session unavailable"
	}
}

var _ session.Participant = (*connection)(nil)

