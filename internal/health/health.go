// Package health serves liveness and readiness probes.
//
// /healthz answers 200 as long as the process serves HTTP. /readyz evaluates
// every [Checker] concurrently and answers 503 when a required check fails.
// Failing optional checks mark the report degraded but keep 200.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status summarizes a probe or a single check.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFail     Status = "fail"
)

// Checker is a named readiness check. Check must return once ctx is done.
type Checker struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// CheckReport is the outcome of one [Checker].
type CheckReport struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// Report is the /readyz response body.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckReport `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithTimeout bounds each check. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves the probe endpoints.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New returns a Handler for a fixed set of checkers.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...), timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Evaluate runs all checks concurrently and folds them into one report.
func (h *Handler) Evaluate(ctx context.Context) Report {
	reports := make([]CheckReport, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			r := CheckReport{Status: StatusOK, Elapsed: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				r.Status, r.Error = StatusFail, err.Error()
				if c.Optional {
					r.Status = StatusDegraded
				}
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK}
	if len(reports) > 0 {
		rep.Checks = make(map[string]CheckReport, len(reports))
	}
	for i, r := range reports {
		rep.Checks[h.checkers[i].Name] = r
		switch {
		case r.Status == StatusFail:
			rep.Status = StatusFail
		case r.Status == StatusDegraded && rep.Status == StatusOK:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, rep)
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
