// Package httpapi exposes the bridge over HTTP, together with /healthz,
// /metrics and optional pprof endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pushbridge/internal/bridge"
	"pushbridge/internal/schedule"
	"pushbridge/internal/scheduler"
	logx "pushbridge/pkg/logx"
)

const maxBodyBytes = 1 << 20

// API is the bridge surface served over HTTP.
type API interface {
	ScheduleWithTimer(ctx context.Context, owner string, data json.RawMessage, opts bridge.TimerOptions) (string, error)
	ScheduleWithCalendar(ctx context.Context, owner string, data json.RawMessage, opts bridge.CalendarOptions) (string, error)
	ScheduleAt(ctx context.Context, owner string, data json.RawMessage, at time.Time, opts bridge.TimerOptions) (string, error)
	Cancel(ctx context.Context, id string) (bool, error)
	CancelAll(ctx context.Context, owner string) (int, error)
	CancelByNotificationID(ctx context.Context, nid int32) ([]string, error)
	Get(ctx context.Context, id string) (schedule.Model, error)
	List(ctx context.Context, owner string) []schedule.Model
}

// Deps are the collaborators the router serves.
type Deps struct {
	API      API
	Health   func() scheduler.Snapshot
	Gatherer prometheus.Gatherer
	Metrics  *Metrics
	Log      logx.Logger
}

type timerRequest struct {
	Owner          string          `json:"owner"`
	Data           json.RawMessage `json:"data,omitempty"`
	IntervalMillis int64           `json:"interval_ms"`
	Repeat         bool            `json:"repeat"`
}

// atRequest fires first at At (RFC 3339).
type atRequest struct {
	Owner          string          `json:"owner"`
	Data           json.RawMessage `json:"data,omitempty"`
	At             time.Time       `json:"at"`
	IntervalMillis int64           `json:"interval_ms,omitempty"`
	Repeat         bool            `json:"repeat"`
}

type calendarRequest struct {
	Owner  string                 `json:"owner"`
	Data   json.RawMessage        `json:"data,omitempty"`
	Cron   string                 `json:"cron,omitempty"`
	Spec   *schedule.CalendarSpec `json:"spec,omitempty"`
	Repeat bool                   `json:"repeat"`
}

type handlers struct {
	api API
	log logx.Logger
}

// NewRouter builds the handler for one server config.
func NewRouter(d Deps, cfg Config) http.Handler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{api: d.API, log: log}

	r := mux.NewRouter()
	r.Use(recoverMiddleware(log))
	if d.Metrics != nil {
		r.Use(d.Metrics.middleware)
	}

	// Liveness stays reachable without a token.
	r.HandleFunc("/healthz", healthHandler(d.Health)).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(authMiddleware(cfg.Token))

	v1 := authed.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/schedules/timer", h.scheduleTimer).Methods(http.MethodPost)
	v1.HandleFunc("/schedules/calendar", h.scheduleCalendar).Methods(http.MethodPost)
	v1.HandleFunc("/schedules/at", h.scheduleAt).Methods(http.MethodPost)
	v1.HandleFunc("/schedules", h.list).Methods(http.MethodGet)
	v1.HandleFunc("/schedules/{id}", h.get).Methods(http.MethodGet)
	v1.HandleFunc("/schedules/{id}", h.cancel).Methods(http.MethodDelete)
	v1.HandleFunc("/owners/{owner}/schedules", h.cancelAll).Methods(http.MethodDelete)
	v1.HandleFunc("/notifications/{notification_id}", h.cancelNotification).Methods(http.MethodDelete)

	if d.Gatherer != nil {
		authed.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if cfg.Pprof.Enabled {
		mountPprof(authed, cfg.Pprof.Prefix)
	}
	return r
}

func (h *handlers) scheduleTimer(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := h.api.ScheduleWithTimer(r.Context(), req.Owner, req.Data, bridge.TimerOptions{
		IntervalMillis: req.IntervalMillis,
		Repeat:         req.Repeat,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) scheduleCalendar(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := h.api.ScheduleWithCalendar(r.Context(), req.Owner, req.Data, bridge.CalendarOptions{
		Cron:   req.Cron,
		Spec:   req.Spec,
		Repeat: req.Repeat,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) scheduleAt(w http.ResponseWriter, r *http.Request) {
	var req atRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := h.api.ScheduleAt(r.Context(), req.Owner, req.Data, req.At, bridge.TimerOptions{
		IntervalMillis: req.IntervalMillis,
		Repeat:         req.Repeat,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	items := h.api.List(r.Context(), r.URL.Query().Get("owner"))
	if items == nil {
		items = []schedule.Model{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": items})
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	md, err := h.api.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	removed, err := h.api.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *handlers) cancelAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.api.CancelAll(r.Context(), mux.Vars(r)["owner"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *handlers) cancelNotification(w http.ResponseWriter, r *http.Request) {
	nid, err := strconv.ParseInt(mux.Vars(r)["notification_id"], 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid notification id"})
		return
	}
	ids, err := h.api.CancelByNotificationID(r.Context(), int32(nid))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": len(ids), "ids": ids})
}

func healthHandler(health func() scheduler.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		snap := health()
		code := http.StatusOK
		if !snap.Running {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, snap)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schedule.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrSchedulingFailed), errors.Is(err, scheduler.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Warn("request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", code),
			logx.Err(err),
		)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func mountPprof(r *mux.Router, prefix string) {
	prefix = normalizePrefix(prefix)
	base := strings.TrimSuffix(prefix, "/")
	r.HandleFunc(base+"/cmdline", hpprof.Cmdline)
	r.HandleFunc(base+"/profile", hpprof.Profile)
	r.HandleFunc(base+"/symbol", hpprof.Symbol)
	r.HandleFunc(base+"/trace", hpprof.Trace)
	r.Handle(base, http.RedirectHandler(prefix, http.StatusPermanentRedirect))
	r.PathPrefix(prefix).HandlerFunc(pprofIndexAt(prefix))
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprofIndexAt serves pprof.Index (and named profiles) under a custom
// prefix; pprof.Index only understands paths below /debug/pprof/.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}
