package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pairpad/server/codeforces"
)

type ProblemFetcher interface {
	Fetch(ctx context.Context, contestID, index string) (codeforces.Problem, error)
}

// ProblemHandler imports sample tests so a session can run against them.
type ProblemHandler struct {
	fetcher ProblemFetcher
}

func NewProblemHandler(fetcher ProblemFetcher) *ProblemHandler {
	return &ProblemHandler{fetcher: fetcher}
}

// problemRef accepts both "1800" and 1800.
type problemRef string

func (p *problemRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = problemRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = problemRef(n.String())
	return nil
}

type fetchProblemRequest struct {
	ContestID    problemRef `json:"contest_id"`
	ProblemIndex problemRef `json:"problem_index"`
}

func (h *ProblemHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req fetchProblemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ContestID == "" || req.ProblemIndex == "" {
		writeError(w, http.StatusBadRequest, "contest_id and problem_index required")
		return
	}

	problem, err := h.fetcher.Fetch(r.Context(), string(req.ContestID), string(req.ProblemIndex))
	switch {
	case errors.Is(err, codeforces.ErrInvalidProblem):
		writeError(w, http.StatusBadRequest, "Invalid contest_id or problem_index")
		return
	case err != nil:
		slog.Warn("problem import failed", "contest", req.ContestID, "index", req.ProblemIndex, "user", caller(r), "error", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch problem")
		return
	}
	writeJSON(w, http.StatusOK, problem)
}
