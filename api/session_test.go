package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pairpad/server/auth"
	"github.com/pairpad/server/execute"
	"github.com/pairpad/server/middleware"
	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/rpc"
	"github.com/pairpad/server/session"
)

type fakeBackend struct {
	got execute.Request
	err error
}

func (b *fakeBackend) Run(ctx context.Context, req execute.Request) (execute.Result, error) {
	b.got = req
	if b.err != nil {
		return execute.Result{}, b.err
	}
	return execute.Result{RunID: "r1", Language: req.Language, Stage: "run", Stdout: "42\n"}, nil
}

type participant string

func (p participant) ID() string          { return string(p) }
func (p participant) User() string        { return string(p) }
func (p participant) Deliver([]byte) bool { return true }

func newTestMux(t *testing.T, backend execute.Backend) (*http.ServeMux, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(session.Options{
		Retention:   time.Minute,
		DefaultCode: "/* Start coding here... */",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(registry.Shutdown)

	mux := http.NewServeMux()
	NewSessionHandler(registry, backend).Register(mux)
	return mux, registry
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSessionHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
		wantLang   protocol.Language
	}{
		{"legacy path defaults", http.MethodPost, "/api/sessions/create/", `{}`, http.StatusOK, defaultInitialCode, protocol.LanguageCPP},
		{"legacy path snake case", http.MethodPost, "/api/sessions/create/", `{"initial_code":"print(1)","language":"python"}`, http.StatusOK, "print(1)", protocol.LanguagePython},
		{"camel case key", http.MethodPost, "/api/sessions", `{"initialCode":"class A {}","language":"java"}`, http.StatusCreated, "class A {}", protocol.LanguageJava},
		{"empty body", http.MethodPost, "/api/sessions", ``, http.StatusCreated, defaultInitialCode, protocol.LanguageCPP},
		{"explicit empty document", http.MethodPost, "/api/sessions/create/", `{"initial_code":""}`, http.StatusOK, "", protocol.LanguageCPP},
		{"invalid json", http.MethodPost, "/api/sessions/create/", `{oops`, http.StatusBadRequest, "", ""},
		{"unknown language", http.MethodPost, "/api/sessions", `{"language":"rust"}`, http.StatusBadRequest, "", ""},
		{"wrong method", http.MethodGet, "/api/sessions/create/", ``, http.StatusMethodNotAllowed, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, registry := newTestMux(t, &fakeBackend{})
			rec := do(mux, tt.method, tt.path, tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body)
			}
			if tt.wantStatus >= http.StatusBadRequest {
				var resp map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp["error"] == "" {
					t.Errorf("expected JSON error body, got %s", rec.Body)
				}
				return
			}

			var resp createResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			st, err := registry.Snapshot(context.Background(), resp.Token)
			if err != nil {
				t.Fatalf("created session not found: %v", err)
			}
			if st.Code != tt.wantCode || st.Language != tt.wantLang {
				t.Errorf("session = %+v", st)
			}
		})
	}
}

func TestSessionHandler_Get(t *testing.T) {
	mux, registry := newTestMux(t, &fakeBackend{})
	token, _ := registry.CreateNew("int x;", protocol.LanguageCPP)

	rec := do(mux, http.MethodGet, "/api/sessions/"+token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var info rpc.SessionInfo
	json.NewDecoder(rec.Body).Decode(&info)
	if info.Token != token || info.Code != "int x;" || info.CreatedAt.IsZero() || len(info.Connections) != 0 {
		t.Errorf("info = %+v", info)
	}

	if _, err := registry.Join(token, participant("conn-1")); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	rec = do(mux, http.MethodGet, "/api/sessions/"+token, "")
	info = rpc.SessionInfo{}
	json.NewDecoder(rec.Body).Decode(&info)
	if info.Participants != 1 || len(info.Connections) != 1 || info.Connections[0] != "conn-1" {
		t.Errorf("joined info = %+v", info)
	}

	if rec := do(mux, http.MethodGet, "/api/sessions/unknown", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", rec.Code)
	}
}

func TestSessionHandler_Run(t *testing.T) {
	backend := &fakeBackend{}
	mux, registry := newTestMux(t, backend)
	token, _ := registry.CreateNew("print(input())", protocol.LanguagePython)

	rec := do(mux, http.MethodPost, "/api/sessions/"+token+"/run", `{"stdin":"42"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body)
	}
	var result execute.Result
	json.NewDecoder(rec.Body).Decode(&result)
	if result.Stdout != "42\n" {
		t.Errorf("result = %+v", result)
	}
	if backend.got.Source != "print(input())" || backend.got.Language != protocol.LanguagePython || backend.got.Stdin != "42" {
		t.Errorf("backend got %+v", backend.got)
	}

	if rec := do(mux, http.MethodPost, "/api/sessions/"+token+"/run", ""); rec.Code != http.StatusOK {
		t.Errorf("run without body: expected 200, got %d", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/api/sessions/nope/run", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", rec.Code)
	}
}

func TestSessionHandler_RunBackendDown(t *testing.T) {
	mux, registry := newTestMux(t, &fakeBackend{err: execute.ErrBackend})
	token, _ := registry.CreateNew("", "")

	if rec := do(mux, http.MethodPost, "/api/sessions/"+token+"/run", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	_, registry := newTestMux(t, &fakeBackend{})
	registry.CreateNew("", "")

	rec := httptest.NewRecorder()
	NewStatsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var resp StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Sessions != 1 || resp.Participants != 0 {
		t.Errorf("stats = %+v", resp)
	}
}

func TestCaller(t *testing.T) {
	key := auth.StaticKey("api-test-secret")
	credential, err := auth.Mint(key, auth.Identity{UserID: "7", Username: "carol"}, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint: %v", err)
	}

	var got string
	h := middleware.Auth(auth.NewVerifier(key))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = caller(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil)
	req.Header.Set("Authorization", "Bearer "+credential)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "carol" {
		t.Errorf("caller() = %q, want carol", got)
	}

	if got := caller(httptest.NewRequest(http.MethodGet, "/", nil)); got != "" {
		t.Errorf("caller() without identity = %q, want empty", got)
	}
}
