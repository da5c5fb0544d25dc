package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hark/internal/health"
	"github.com/MrWong99/hark/internal/history"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/resilience"
	"github.com/MrWong99/hark/pkg/capture"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Handler returns the HTTP control surface:
//
//	GET  /status       pipeline counters, timings, recognizer states, last entry
//	POST /ptt/begin    open a push-to-talk epoch
//	POST /ptt/end      release the current epoch
//	GET  /history      recent entries; ?q= searches, ?limit= bounds
//	GET  /events       websocket stream of finished epochs
//	GET  /metrics      Prometheus scrape endpoint
//	GET  /healthz      liveness
//	GET  /readyz       readiness
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /ptt/begin", a.handleBegin)
	mux.HandleFunc("POST /ptt/end", a.handleEnd)
	mux.HandleFunc("GET /history", a.handleHistory)
	mux.HandleFunc("GET /events", a.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.checkers()).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) checkers() []health.Checker {
	cs := []health.Checker{{
		Name: "capture",
		Check: func(context.Context) error {
			return a.pipeline.Status().Producer.Err
		},
	}}
	if p, ok := a.history.(interface{ Ping(context.Context) error }); ok {
		cs = append(cs, health.Checker{Name: "history", Check: p.Ping})
	}
	if a.fallback != nil {
		cs = append(cs, health.Checker{
			Name:     "recognizers",
			Optional: true,
			Check: func(context.Context) error {
				var open []string
				for _, m := range a.fallback.Members() {
					if m.State == resilience.StateOpen {
						open = append(open, m.Name)
					}
				}
				if len(open) > 0 {
					return errors.New("circuit open: " + strings.Join(open, ", "))
				}
				return nil
			},
		})
	}
	return cs
}

type timingsView struct {
	DrainWindow  string `json:"drain_window"`
	MinUtterance string `json:"min_utterance"`
	MaxUtterance string `json:"max_utterance"`
	MaxBuffered  string `json:"max_buffered"`
	PollInterval string `json:"poll_interval"`
	IdleInterval string `json:"idle_interval"`
	BatchBytes   int    `json:"batch_bytes"`
}

type statusView struct {
	Gate struct {
		Open         bool   `json:"open"`
		Epoch        uint64 `json:"epoch"`
		EndRequested bool   `json:"end_requested"`
	} `json:"gate"`
	Ring struct {
		Capacity    int     `json:"capacity"`
		Used        int     `json:"used"`
		Utilization float64 `json:"utilization"`
		Writes      uint64  `json:"writes"`
		Drops       uint64  `json:"drops"`
		DropBytes   uint64  `json:"drop_bytes"`
	} `json:"ring"`
	Producer struct {
		Running    bool   `json:"running"`
		Generation uint32 `json:"generation"`
		Format     string `json:"format"`
		Device     string `json:"device"`
		Stale      uint64 `json:"stale"`
		Drifted    uint64 `json:"drifted"`
		Rebuilds   uint64 `json:"rebuilds"`
		Error      string `json:"error,omitempty"`
	} `json:"producer"`
	Assembler struct {
		Epochs             uint64 `json:"epochs"`
		StaleRecords       uint64 `json:"stale_records"`
		GenerationDiscards uint64 `json:"generation_discards"`
		TrimmedBytes       uint64 `json:"trimmed_bytes"`
		ConversionFailures uint64 `json:"conversion_failures"`
		LastUtterance      string `json:"last_utterance"`
	} `json:"assembler"`
	Timings     timingsView              `json:"timings"`
	Recognizers []resilience.MemberState `json:"recognizers,omitempty"`
	Last        *history.Entry           `json:"last,omitempty"`
}

func (a *App) status() statusView {
	st := a.pipeline.Status()
	var v statusView

	v.Gate.Open, v.Gate.Epoch, v.Gate.EndRequested = st.Gate.Open, st.Gate.Epoch, st.Gate.EndRequested

	v.Ring.Capacity = st.Ring.Capacity
	v.Ring.Used = st.Ring.Used
	v.Ring.Utilization = st.Ring.Utilization()
	v.Ring.Writes, v.Ring.Drops, v.Ring.DropBytes = st.Ring.Writes, st.Ring.Drops, st.Ring.DropBytes

	pr := st.Producer
	v.Producer.Running = pr.Running
	v.Producer.Generation = pr.Generation.ID
	v.Producer.Format = pr.Generation.Format.String()
	v.Producer.Device = pr.Generation.Device.String()
	v.Producer.Stale, v.Producer.Drifted, v.Producer.Rebuilds = pr.Stale, pr.Drifted, pr.Rebuilds
	if pr.Err != nil {
		v.Producer.Error = pr.Err.Error()
	}

	as := st.Assembler
	v.Assembler.Epochs = as.Epochs
	v.Assembler.StaleRecords = as.StaleRecords
	v.Assembler.GenerationDiscards = as.GenerationDiscards
	v.Assembler.TrimmedBytes = as.TrimmedBytes
	v.Assembler.ConversionFailures = as.ConversionFailures
	v.Assembler.LastUtterance = as.LastUtterance.String()

	v.Timings = viewTimings(st.Timings)
	if a.fallback != nil {
		v.Recognizers = a.fallback.Members()
	}
	v.Last = a.last.Load()
	return v
}

func viewTimings(t capture.Timings) timingsView {
	d := func(x time.Duration) string { return x.String() }
	return timingsView{
		DrainWindow:  d(t.DrainWindow),
		MinUtterance: d(t.MinUtterance),
		MaxUtterance: d(t.MaxUtterance),
		MaxBuffered:  d(t.MaxBuffered),
		PollInterval: d(t.PollInterval),
		IdleInterval: d(t.IdleInterval),
		BatchBytes:   t.BatchBytes,
	}
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, a.status())
}

type epochResponse struct {
	Epoch uint64 `json:"epoch"`
}

func (a *App) handleBegin(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, epochResponse{Epoch: a.pipeline.Begin()})
}

func (a *App) handleEnd(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, epochResponse{Epoch: a.pipeline.RequestEnd()})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			health.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var (
		entries []history.Entry
		err     error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		entries, err = a.history.Search(r.Context(), q, limit)
	} else {
		entries, err = a.history.Recent(r.Context(), limit)
	}
	if err != nil {
		observe.Logger(r.Context()).Error("history query failed", "err", err)
		health.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}
	health.WriteJSON(w, http.StatusOK, entries)
}
