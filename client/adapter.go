// Package client is the editor side of a session connection: it keeps a local
// copy of the document in step with the server and reconnects on transport
// loss.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pairpad/server/protocol"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
)

var (
	ErrUnauthenticated = errors.New("credential rejected")
	ErrInvalidSession  = errors.New("session token rejected")
	ErrNotJoined       = errors.New("not joined")
)

// Document is the local copy of a session.
type Document struct {
	Code     string
	Language protocol.Language
}

type Options struct {
	// ServerURL is the ws:// or wss:// base address of the server.
	ServerURL string
	// Token is the session to join. Empty asks the server for a new one.
	Token      string
	Credential string

	// OnDocument is called after a remote update replaced the local document.
	OnDocument func(Document)
	// OnCursor is called for other participants' cursor moves.
	OnCursor func(protocol.CursorUpdate)
	// OnState is called on every state transition.
	OnState func(State)

	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    *slog.Logger
}

// Adapter maintains one connection to a session. Local edits are sent as
// full-text updates; remote updates replace the local document wholesale.
type Adapter struct {
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	state State
	token string
	doc   Document
	conn  *websocket.Conn

	joinedOnce sync.Once
	joined     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Adapter {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = reconnectBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = reconnectMaxDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		opts:   opts,
		log:    opts.Logger,
		state:  StateConnecting,
		token:  opts.Token,
		joined: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run connects and keeps the adapter joined until ctx ends, Close is called,
// or the server rejects the credential or token.
func (a *Adapter) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	delay := a.opts.BaseDelay
	for {
		wasJoined, err := a.connect(ctx)
		if ctx.Err() != nil {
			a.setState(StateClosed)
			return nil
		}

		if status := websocket.CloseStatus(err); protocol.IsPermanent(status) {
			a.setState(StateClosed)
			if protocol.IsAuthFailure(status) {
				return fmt.Errorf("%w: close status %d", ErrUnauthenticated, status)
			}
			return fmt.Errorf("%w: %q", ErrInvalidSession, a.Token())
		}

		a.setState(StateDisconnected)
		if wasJoined {
			delay = a.opts.BaseDelay
		}
		a.log.Warn("session connection lost", "error", err, "retryIn", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			a.setState(StateClosed)
			return nil
		}
		delay = min(delay*2, a.opts.MaxDelay)
		a.setState(StateReconnecting)
	}
}

// connect runs one connection until it fails. It reports whether the
// connection got as far as receiving a FullState.
func (a *Adapter) connect(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, a.endpoint(), nil)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	joined := false
	defer a.detach(conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return joined, err
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			a.log.Debug("dropping frame", "error", err)
			continue
		}

		if fs, ok := ev.(protocol.FullState); ok {
			a.attach(conn, fs)
			joined = true
			continue
		}
		if !joined {
			continue
		}
		a.applyRemote(ev)
	}
}

func (a *Adapter) endpoint() string {
	base := strings.TrimRight(a.opts.ServerURL, "/")
	u := base + "/ws/editor/" + url.PathEscape(a.Token()) + "/"
	if a.opts.Credential != "" {
		u += "?token=" + url.QueryEscape(a.opts.Credential)
	}
	return u
}

// attach accepts a FullState unconditionally, discarding anything edited
// locally while disconnected.
func (a *Adapter) attach(conn *websocket.Conn, fs protocol.FullState) {
	a.mu.Lock()
	a.conn = conn
	a.doc = Document{Code: fs.Code, Language: fs.Language}
	if fs.Token != "" {
		a.token = fs.Token
	}
	doc := a.doc
	a.mu.Unlock()

	a.setState(StateJoined)
	a.joinedOnce.Do(func() { close(a.joined) })
	if a.opts.OnDocument != nil {
		a.opts.OnDocument(doc)
	}
}

func (a *Adapter) detach(conn *websocket.Conn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
}

func (a *Adapter) applyRemote(ev protocol.Event) {
	a.mu.Lock()
	switch e := ev.(type) {
	case protocol.CodeUpdate:
		a.doc.Code = e.Code
	case protocol.LanguageUpdate:
		a.doc.Language = e.Language
	case protocol.CursorUpdate:
		a.mu.Unlock()
		if a.opts.OnCursor != nil {
			a.opts.OnCursor(e)
		}
		return
	default:
		a.mu.Unlock()
		return
	}
	doc := a.doc
	a.mu.Unlock()

	if a.opts.OnDocument != nil {
		a.opts.OnDocument(doc)
	}
}

// Edit sends the full new text. Text equal to the current document is not
// sent, which keeps an editor that echoes remote updates back through Edit
// from looping. While not joined the edit is kept locally and discarded on
// the next join.
func (a *Adapter) Edit(ctx context.Context, code string) error {
	a.mu.Lock()
	if code == a.doc.Code {
		a.mu.Unlock()
		return nil
	}
	a.doc.Code = code
	conn := a.liveConnLocked()
	a.mu.Unlock()

	return a.send(ctx, conn, protocol.CodeUpdate{Code: code})
}

// SetLanguage changes the session language. The document text is kept.
func (a *Adapter) SetLanguage(ctx context.Context, language protocol.Language) error {
	if !language.IsValid() {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownLanguage, language)
	}

	a.mu.Lock()
	if language == a.doc.Language {
		a.mu.Unlock()
		return nil
	}
	a.doc.Language = language
	conn := a.liveConnLocked()
	a.mu.Unlock()

	return a.send(ctx, conn, protocol.LanguageUpdate{Language: language})
}

func (a *Adapter) MoveCursor(ctx context.Context, pos protocol.Position) error {
	a.mu.Lock()
	conn := a.liveConnLocked()
	a.mu.Unlock()
	return a.send(ctx, conn, protocol.CursorUpdate{Position: pos})
}

// RequestFullState asks the server to resend the authoritative document.
func (a *Adapter) RequestFullState(ctx context.Context) error {
	a.mu.Lock()
	conn := a.liveConnLocked()
	a.mu.Unlock()
	return a.send(ctx, conn, protocol.FullStateRequest{})
}

func (a *Adapter) liveConnLocked() *websocket.Conn {
	if !a.state.Live() {
		return nil
	}
	return a.conn
}

func (a *Adapter) send(ctx context.Context, conn *websocket.Conn, ev protocol.Event) error {
	if conn == nil {
		return ErrNotJoined
	}
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// WaitJoined blocks until the first FullState arrives.
func (a *Adapter) WaitJoined(ctx context.Context) error {
	select {
	case <-a.joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return ErrNotJoined
	}
}

// Token is the session token, including one minted by the server.
func (a *Adapter) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *Adapter) Document() Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Close ends Run. The adapter cannot be reused.
func (a *Adapter) Close() {
	a.cancel()
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	if a.state == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()

	a.log.Debug("session connection state", "state", s.String())
	if a.opts.OnState != nil {
		a.opts.OnState(s)
	}
}
