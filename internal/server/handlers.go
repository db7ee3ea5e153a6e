package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/agrisim/internal/abt"
	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/internal/scenario"
	"github.com/leapstack-labs/agrisim/pkg/core"
	"github.com/leapstack-labs/agrisim/pkg/model"
)

// maxBody caps scenario request bodies.
const maxBody = 1 << 20

// flushEvery is how many ABT rows are written between flushes.
const flushEvery = 256

type handlers struct {
	cfg    Config
	logger *slog.Logger
}

type errorBody struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Features []string `json:"features,omitempty"`
}

// badRequest marks malformed input that carries no domain kind.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error to its HTTP status and error kind.
func statusOf(err error) (int, string) {
	var br badRequest
	switch kind := core.KindOf(err); {
	case kind == core.KindConflictingAdjustment, kind == core.KindUnknownFeature, kind == core.KindInvalidAdjustment:
		return http.StatusBadRequest, string(kind)
	case kind == core.KindNotFound:
		return http.StatusNotFound, string(kind)
	case errors.As(err, &br):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrNoModel):
		return http.StatusServiceUnavailable, "no_model"
	case kind != "":
		return http.StatusUnprocessableEntity, string(kind)
	}
	return http.StatusInternalServerError, "internal"
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: kind, Message: err.Error(), Features: core.FeaturesOf(err)})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func intParam(q map[string][]string, name string) (int, error) {
	v := strings.TrimSpace(first(q[name]))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest{fmt.Errorf("%s must be an integer, got %q", name, v)}
	}
	return n, nil
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// abt streams matching rows as one JSON array.
func (h *handlers) abt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := abt.Filter{DistrictID: q.Get("district"), State: q.Get("state"), Crop: q.Get("crop")}
	var err error
	if f.YearFrom, err = intParam(q, "from"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.YearTo, err = intParam(q, "to"); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := f.Validate(); err != nil {
		h.fail(w, r, badRequest{err})
		return
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	n := 0
	for row, err := range h.cfg.ABT.Build(r.Context(), f) {
		if err != nil {
			if n == 0 {
				h.fail(w, r, err)
				return
			}
			// Headers are gone; an unterminated array tells the client.
			h.logger.Error("abt stream aborted", "rows", n, "error", err)
			return
		}
		if n == 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("["))
		} else {
			_, _ = w.Write([]byte(","))
		}
		if err := enc.Encode(row); err != nil {
			return
		}
		n++
		if flusher != nil && n%flushEvery == 0 {
			flusher.Flush()
		}
	}
	if n == 0 {
		writeJSON(w, http.StatusOK, []abt.Row{})
		return
	}
	_, _ = w.Write([]byte("]\n"))
}

func (h *handlers) features(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		h.fail(w, r, badRequest{fmt.Errorf("year must be an integer, got %q", chi.URLParam(r, "year"))})
		return
	}
	key := core.Key{DistrictID: chi.URLParam(r, "district"), Year: year, Crop: chi.URLParam(r, "crop")}
	v, err := h.cfg.Scenarios.Base(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) scenarios(w http.ResponseWriter, r *http.Request) {
	format := "json"
	if ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.Contains(ct, "yaml") {
		format = "yaml"
	}
	req, err := scenario.DecodeRequest(http.MaxBytesReader(w, r.Body, maxBody), format)
	if err != nil {
		h.fail(w, r, badRequest{err})
		return
	}
	resp, err := h.cfg.Scenarios.Run(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		h.fail(w, r, badRequest{errors.New("name is required")})
		return
	}
	if h.cfg.Explainer == nil {
		h.fail(w, r, fmt.Errorf("resolution is not enabled"))
		return
	}
	res, err := h.cfg.Explainer.Explain(r.Context(), name, resolve.Origin{
		Source: "http",
		State:  r.URL.Query().Get("state"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
