package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pairpad/server/protocol"
)

// PistonClient talks to a Piston compatible /execute endpoint.
type PistonClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewPistonClient(baseURL string, timeout time.Duration) *PistonClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PistonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type pistonFile struct {
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
	Stdin    string       `json:"stdin,omitempty"`
}

type pistonStage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Output string  `json:"output"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

type pistonResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      pistonStage  `json:"run"`
	Compile  *pistonStage `json:"compile,omitempty"`
	Message  string       `json:"message,omitempty"`
}

func (c *PistonClient) Run(ctx context.Context, req Request) (Result, error) {
	if !req.Language.IsValid() {
		return Result{}, fmt.Errorf("%w: %q", protocol.ErrUnknownLanguage, req.Language)
	}

	body, err := json.Marshal(pistonRequest{
		Language: string(req.Language),
		Version:  req.Language.Version(),
		Files:    []pistonFile{{Content: req.Source}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	runID := newRunID()
	log := slog.With("runId", runID, "language", req.Language)
	log.Debug("dispatching execution", "sourceBytes", len(req.Source))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: request failed: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %v", ErrBackend, err)
	}

	var pr pistonResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return Result{}, fmt.Errorf("%w: decode response (status %d): %v", ErrBackend, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := pr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, msg)
	}

	result := Result{
		RunID:    runID,
		Language: req.Language,
		Version:  pr.Version,
	}

	// A failed compile stage means the program never ran.
	if pr.Compile != nil && exitStatus(pr.Compile) != 0 {
		fillStage(&result, "compile", pr.Compile)
	} else {
		fillStage(&result, "run", &pr.Run)
	}

	log.Info("execution finished", "stage", result.Stage, "exitStatus", result.ExitStatus)
	return result, nil
}

func fillStage(r *Result, name string, st *pistonStage) {
	r.Stage = name
	r.Stdout = st.Stdout
	r.Stderr = st.Stderr
	r.Output = st.Output
	r.ExitStatus = exitStatus(st)
	if st.Signal != nil {
		r.Signal = *st.Signal
	}
}

// exitStatus treats a signal-terminated stage (null code) as a failure.
func exitStatus(st *pistonStage) int {
	if st.Code != nil {
		return *st.Code
	}
	if st.Signal != nil {
		return -1
	}
	return 0
}
