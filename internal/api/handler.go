package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inxource/inxight/internal/insight"
	"github.com/inxource/inxight/internal/report"
	"github.com/inxource/inxight/internal/storage"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Scheduler is the report lifecycle surface exposed over HTTP and MCP.
type Scheduler interface {
	MaybeGenerate(ctx context.Context, c insight.Cadence) report.Result
	Status(ctx context.Context, c insight.Cadence) (report.Status, error)
}

// RunLister lists recorded generation attempts.
type RunLister interface {
	ListRuns(ctx context.Context, typ string, limit int) ([]storage.Run, error)
}

type AppDeps struct {
	Reports   storage.Reports
	Scheduler Scheduler
	Runs      RunLister // optional; if nil, /insights/runs returns 404
	// Token, when non-empty, is required as a bearer token on /insights routes.
	Token string
}

// NewAppHandler returns the trigger and presentation API.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/insights", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		if deps.Runs != nil {
			r.Get("/runs", handleListRuns(deps))
		}
		r.Get("/{cadence}/latest", handleLatest(deps))
		r.Get("/{cadence}/history", handleHistory(deps))
		r.Get("/{cadence}/status", handleStatus(deps))
		r.Post("/{cadence}/generate", handleGenerate(deps))
	})

	return r
}

// BearerAuth rejects requests without the expected bearer token. An empty
// token disables the check.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ReportView is the presentation form of a stored report.
type ReportView struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Insight   json.RawMessage `json:"insight"`
}

func newReportView(r storage.Report) ReportView {
	body := json.RawMessage(r.Insight)
	if !json.Valid(body) {
		// Legacy rows may hold non-JSON text; expose it as a string.
		body, _ = json.Marshal(r.Insight)
	}
	return ReportView{ID: r.ID, Type: r.Type, CreatedAt: r.CreatedAt, Insight: body}
}

func cadenceParam(w http.ResponseWriter, r *http.Request) (insight.Cadence, bool) {
	c, err := insight.ParseCadence(chi.URLParam(r, "cadence"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return "", false
	}
	return c, true
}

func handleLatest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := cadenceParam(w, r)
		if !ok {
			return
		}
		rep, err := deps.Reports.LatestReport(r.Context(), string(c))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "no_report", "no %s report has been generated yet", c)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read latest report: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newReportView(rep))
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := cadenceParam(w, r)
		if !ok {
			return
		}
		limit := parseIntParam(r, "limit", defaultHistoryLimit, maxHistoryLimit)
		reports, err := deps.Reports.ListReports(r.Context(), string(c), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reports: %v", err)
			return
		}
		views := make([]ReportView, len(reports))
		for i, rep := range reports {
			views[i] = newReportView(rep)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := cadenceParam(w, r)
		if !ok {
			return
		}
		st, err := deps.Scheduler.Status(r.Context(), c)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read status: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleGenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := cadenceParam(w, r)
		if !ok {
			return
		}
		res := deps.Scheduler.MaybeGenerate(r.Context(), c)
		code := http.StatusOK
		if !res.Success {
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, res)
	}
}

// RunView is the presentation form of a generation attempt.
type RunView struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	StartedAt        string `json:"started_at"`
	DurationMs       int64  `json:"duration_ms"`
	Outcome          string `json:"outcome"`
	ReportID         string `json:"report_id,omitempty"`
	Tables           int    `json:"tables"`
	ExtractionFaults int    `json:"extraction_faults"`
	GenerationFaults int    `json:"generation_faults"`
	Message          string `json:"message,omitempty"`
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typ := r.URL.Query().Get("cadence")
		if typ != "" {
			if _, err := insight.ParseCadence(typ); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		runs, err := deps.Runs.ListRuns(r.Context(), typ, parseIntParam(r, "limit", defaultHistoryLimit, maxHistoryLimit))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		views := make([]RunView, len(runs))
		for i, run := range runs {
			views[i] = RunView{
				ID:               run.ID,
				Type:             run.Type,
				StartedAt:        storage.FormatTime(run.StartedAt),
				DurationMs:       run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
				Outcome:          run.Outcome,
				ReportID:         run.ReportID,
				Tables:           run.Tables,
				ExtractionFaults: run.ExtractionFaults,
				GenerationFaults: run.GenerationFaults,
				Message:          run.Message,
			}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
