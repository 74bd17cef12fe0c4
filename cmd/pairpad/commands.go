package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/mdp/qrterminal/v3"
	"github.com/sourcegraph/jsonrpc2"
	"golang.org/x/term"

	"github.com/pairpad/server/auth"
	"github.com/pairpad/server/client"
	"github.com/pairpad/server/execute"
	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/rpc"
	"github.com/pairpad/server/ws"
)

func mintCredential(secret, user, username string, ttl time.Duration) (string, error) {
	if secret == "" || user == "" {
		return "", fmt.Errorf("secret and user are required")
	}
	return auth.Mint(auth.StaticKey(secret), auth.Identity{UserID: user, Username: username}, ttl)
}

func createSession(ctx context.Context, server, jwt, code, language string) (string, error) {
	body, err := json.Marshal(map[string]string{"initial_code": code, "language": language})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+jwt)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &out); err != nil || resp.StatusCode != http.StatusCreated {
		if out.Error != "" {
			return "", fmt.Errorf("create session: %s (status %d)", out.Error, resp.StatusCode)
		}
		return "", fmt.Errorf("create session: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return out.Token, nil
}

func joinURL(base, token string) string {
	return strings.TrimRight(base, "/") + "/editor/" + url.PathEscape(token)
}

func printJoinLink(w io.Writer, token, link string, qr bool) {
	fmt.Fprintf(w, "session: %s\n", token)
	fmt.Fprintf(w, "join:    %s\n", link)
	if qr {
		fmt.Fprintln(w)
		qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// websocketURL turns an http(s) base into the matching ws(s) base.
func websocketURL(server string) string {
	server = strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://")
	default:
		return server
	}
}

// watchSession prints the document every time it changes until ctx ends.
func watchSession(ctx context.Context, w io.Writer, server, jwt, token string) error {
	var mu sync.Mutex
	printDoc := func(doc client.Document) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "--- %s ---\n%s\n", doc.Language, doc.Code)
	}

	a := client.New(client.Options{
		ServerURL:  websocketURL(server),
		Token:      token,
		Credential: jwt,
		OnDocument: printDoc,
		OnCursor: func(c protocol.CursorUpdate) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(w, "[%s at %d:%d]\n", c.User, c.Position.Line, c.Position.Column)
		},
		OnState: func(s client.State) {
			slog.Debug("session state", "state", s.String())
		},
	})
	defer a.Close()

	go func() {
		if err := a.WaitJoined(ctx); err == nil {
			printDoc(a.Document())
		}
	}()

	return a.Run(ctx)
}

func runSession(ctx context.Context, server, jwt, token, stdin string) (execute.Result, error) {
	wsConn, _, err := websocket.Dial(ctx, websocketURL(server)+"/rpc", nil)
	if err != nil {
		return execute.Result{}, fmt.Errorf("connect: %w", err)
	}

	conn := jsonrpc2.NewConn(ctx, ws.NewClientStream(wsConn), jsonrpc2.HandlerWithError(
		func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
			return nil, nil
		}))
	defer conn.Close()

	var authResult rpc.AuthResult
	if err := conn.Call(ctx, "auth", rpc.AuthParams{Credential: jwt}, &authResult); err != nil {
		return execute.Result{}, fmt.Errorf("auth: %w", err)
	}

	var result execute.Result
	if err := conn.Call(ctx, "session.run", rpc.SessionRunParams{Token: token, Stdin: stdin}, &result); err != nil {
		return execute.Result{}, fmt.Errorf("session.run: %w", err)
	}
	return result, nil
}

func printResult(stdout, stderr io.Writer, r execute.Result) {
	io.WriteString(stdout, r.Stdout)
	io.WriteString(stderr, r.Stderr)
	if r.Signal != "" {
		fmt.Fprintf(stderr, "%s stage killed by %s\n", r.Stage, r.Signal)
	} else if r.ExitStatus != 0 {
		fmt.Fprintf(stderr, "%s stage exited with status %d\n", r.Stage, r.ExitStatus)
	}
}
