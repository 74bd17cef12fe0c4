package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pairpad/server/auth"
	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/session"
	"github.com/pairpad/server/ws"
)

var (
	testKey = auth.StaticKey("client-test-secret")
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// killSwitch ends every open connection on demand to simulate transport loss.
type killSwitch struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
}

func (k *killSwitch) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		k.mu.Lock()
		k.cancels = append(k.cancels, cancel)
		k.mu.Unlock()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (k *killSwitch) kill() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, cancel := range k.cancels {
		cancel()
	}
	k.cancels = nil
}

type testServer struct {
	t        *testing.T
	url      string
	registry *session.Registry
	kill     *killSwitch
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	registry := session.NewRegistry(session.Options{
		Retention:   time.Minute,
		DefaultCode: "start",
		Logger:      discard,
	})
	gate := auth.NewGate(auth.NewVerifier(testKey), registry)
	h := ws.NewHandler(gate, registry, ws.Options{})
	ks := &killSwitch{}

	mux := http.NewServeMux()
	mux.Handle("/ws/editor/", ks.wrap(h))
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		h.Shutdown()
		server.Close()
		registry.Shutdown()
	})

	return &testServer{
		t:        t,
		url:      "ws" + strings.TrimPrefix(server.URL, "http"),
		registry: registry,
		kill:     ks,
	}
}

func (s *testServer) credential(user string) string {
	s.t.Helper()
	c, err := auth.Mint(testKey, auth.Identity{UserID: user, Username: user}, time.Hour)
	if err != nil {
		s.t.Fatalf("failed to mint: %v", err)
	}
	return c
}

// start runs an adapter in the background and waits for it to join.
func (s *testServer) start(opts Options) (*Adapter, chan error) {
	s.t.Helper()
	if opts.ServerURL == "" {
		opts.ServerURL = s.url
	}
	if opts.Logger == nil {
		opts.Logger = discard
	}
	a := New(opts)
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	s.t.Cleanup(a.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.WaitJoined(ctx); err != nil {
		s.t.Fatalf("adapter did not join: %v", err)
	}
	return a, done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAdapter_EditsPropagate(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	a, _ := srv.start(Options{Token: "pair", Credential: srv.credential("alice")})
	b, _ := srv.start(Options{Token: "pair", Credential: srv.credential("bob")})

	if doc := a.Document(); doc.Code != "start" || doc.Language != protocol.LanguageCPP {
		t.Fatalf("initial document = %+v", doc)
	}
	if a.State() != StateJoined {
		t.Errorf("State() = %s, want joined", a.State())
	}

	if err := a.Edit(ctx, "x = 1"); err != nil {
		t.Fatalf("Edit() error: %v", err)
	}
	waitFor(t, "b to receive edit", func() bool { return b.Document().Code == "x = 1" })

	if err := b.SetLanguage(ctx, protocol.LanguagePython); err != nil {
		t.Fatalf("SetLanguage() error: %v", err)
	}
	waitFor(t, "a to receive language", func() bool { return a.Document().Language == protocol.LanguagePython })
	if a.Document().Code != "x = 1" {
		t.Errorf("language change altered code: %q", a.Document().Code)
	}
}

func TestAdapter_EchoedRemoteUpdateIsNotResent(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var aUpdates atomic.Int32
	a, _ := srv.start(Options{
		Token:      "echo",
		Credential: srv.credential("alice"),
		OnDocument: func(Document) { aUpdates.Add(1) },
	})

	// b behaves like an editor widget that reports every change, including
	// ones it was told about, back through Edit.
	var b *Adapter
	var bReady sync.WaitGroup
	bReady.Add(1)
	b, _ = srv.start(Options{
		Token:      "echo",
		Credential: srv.credential("bob"),
		OnDocument: func(doc Document) {
			go func() {
				bReady.Wait()
				b.Edit(ctx, doc.Code)
			}()
		},
	})
	bReady.Done()

	before := aUpdates.Load()
	a.Edit(ctx, "typed by alice")
	waitFor(t, "b to receive edit", func() bool { return b.Document().Code == "typed by alice" })
	time.Sleep(200 * time.Millisecond)

	if got := aUpdates.Load(); got != before {
		t.Errorf("alice received %d updates for her own edit", got-before)
	}
}

func TestAdapter_EditOfSameTextIsNoop(t *testing.T) {
	srv := newTestServer(t)
	a, _ := srv.start(Options{Token: "same", Credential: srv.credential("alice")})

	// "start" is the current document, so nothing is sent even though the
	// connection is live.
	if err := a.Edit(context.Background(), "start"); err != nil {
		t.Errorf("Edit() of unchanged text error: %v", err)
	}
}

func TestAdapter_MintedToken(t *testing.T) {
	srv := newTestServer(t)
	a, _ := srv.start(Options{Credential: srv.credential("alice")})

	token := a.Token()
	if !protocol.ValidToken(token) {
		t.Fatalf("Token() = %q", token)
	}
	if _, err := srv.registry.Snapshot(context.Background(), token); err != nil {
		t.Errorf("minted session not in registry: %v", err)
	}
}

func TestAdapter_RejectedCredential(t *testing.T) {
	srv := newTestServer(t)

	for _, cred := range []string{"", "bad.credential.value"} {
		a := New(Options{ServerURL: srv.url, Token: "locked", Credential: cred, Logger: discard})
		err := a.Run(context.Background())
		if !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("credential %q: Run() error = %v, want ErrUnauthenticated", cred, err)
		}
		if a.State() != StateClosed {
			t.Errorf("State() = %s, want closed", a.State())
		}
	}
}

func TestAdapter_InvalidSessionToken(t *testing.T) {
	srv := newTestServer(t)
	a := New(Options{ServerURL: srv.url, Token: "bad token!", Credential: srv.credential("alice"), Logger: discard})
	if err := a.Run(context.Background()); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Run() error = %v, want ErrInvalidSession", err)
	}
}

func TestAdapter_ReconnectReconciles(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var mu sync.Mutex
	var states []State
	a, _ := srv.start(Options{
		Token:      "flaky",
		Credential: srv.credential("alice"),
		BaseDelay:  300 * time.Millisecond,
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	a.Edit(ctx, "before drop")
	waitFor(t, "edit to reach server", func() bool {
		st, _ := srv.registry.Snapshot(ctx, "flaky")
		return st.Code == "before drop"
	})

	srv.kill.kill()
	waitFor(t, "disconnect", func() bool { return a.State() == StateDisconnected })

	if err := a.Edit(ctx, "offline edit"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("Edit() while disconnected error = %v, want ErrNotJoined", err)
	}

	// Someone else changes the session while a is away.
	other := &sink{id: "other"}
	actor, err := srv.registry.Join("flaky", other)
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	actor.Submit(ctx, "other", protocol.CodeUpdate{Code: "changed while away"})

	waitFor(t, "reconcile", func() bool {
		return a.State() == StateJoined && a.Document().Code == "changed while away"
	})

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateJoined, StateDisconnected, StateReconnecting, StateJoined}
	if len(states) < len(want) {
		t.Fatalf("states = %v", states)
	}
	for i, s := range want {
		if states[i] != s {
			t.Fatalf("states = %v, want prefix %v", states, want)
		}
	}
}

func TestAdapter_CloseStopsRun(t *testing.T) {
	srv := newTestServer(t)
	a, done := srv.start(Options{Token: "bye", Credential: srv.credential("alice")})

	a.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after Close")
	}
	if a.State() != StateClosed {
		t.Errorf("State() = %s, want closed", a.State())
	}
	waitFor(t, "leave", func() bool { return srv.registry.Members("bye") == 0 })
}

type sink struct {
	id string
}

func (s *sink) ID() string                { return s.id }
func (s *sink) User() string              { return s.id }
func (s *sink) Deliver(frame []byte) bool { return true }
