package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentrygate/internal/access"
	"sentrygate/internal/audit"
	"sentrygate/internal/config"
	"sentrygate/internal/device"
	"sentrygate/internal/device/zk"
	"sentrygate/internal/emit"
	"sentrygate/internal/hours"
	"sentrygate/internal/metrics"
	"sentrygate/internal/store"
)

// DialerFactory builds a dialer for one terminal address. Tests swap the
// real TCP dialer for a fake.
type DialerFactory func(host string, port int, timeout time.Duration) device.Dialer

// API serves the HTTP surface: the two streaming engines, finding queries
// and operational endpoints.
type API struct {
	cfg       *config.Config
	store     *store.MemoryStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
	nc        *nats.Conn
	base      emit.Emitter
	newDialer DialerFactory

	gateMu sync.Mutex
	gates  map[string]*device.Gate
}

// NewAPI creates the HTTP API. base is the shared sink every engine emits
// into besides its own client stream; nc and metrics may be nil.
func NewAPI(cfg *config.Config, st *store.MemoryStore, m *metrics.Metrics, nc *nats.Conn, base emit.Emitter, logger *slog.Logger) *API {
	a := &API{
		cfg:     cfg,
		store:   st,
		metrics: m,
		logger:  logger,
		nc:      nc,
		base:    base,
		gates:   make(map[string]*device.Gate),
	}
	a.newDialer = func(host string, port int, timeout time.Duration) device.Dialer {
		return &zk.Dialer{Host: host, Port: port, Timeout: timeout, Logger: logger}
	}
	return a
}

// SetNewDialer replaces the terminal dialer factory. It also resets the
// per-terminal gates so old sessions cannot leak into new dialers.
func (a *API) SetNewDialer(f DialerFactory) {
	a.gateMu.Lock()
	defer a.gateMu.Unlock()
	a.newDialer = f
	a.gates = make(map[string]*device.Gate)
}

// gateFor returns the single-session gate of one terminal, creating it on
// first use. Both engines targeting the same terminal share a gate.
func (a *API) gateFor(host string, port int) *device.Gate {
	key := fmt.Sprintf("%s:%d", host, port)
	a.gateMu.Lock()
	defer a.gateMu.Unlock()
	if g, ok := a.gates[key]; ok {
		return g
	}
	g := device.NewGate(a.newDialer(host, port, a.cfg.DeviceTimeout))
	a.gates[key] = g
	return g
}

// SetupRoutes configures HTTP routes.
func (a *API) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/access-control/stream", a.handleAccessStream)
	mux.HandleFunc("/security-monitor/stream", a.handleSecurityStream)
	mux.HandleFunc("/findings", a.handleFindings)
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/readyz", a.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
}

// streamRequest is the JSON body of both streaming endpoints. Unset fields
// fall back to the service configuration.
type streamRequest struct {
	IP            string   `json:"ip"`
	Port          int      `json:"port"`
	Whitelist     []string `json:"whitelist"`
	Blacklist     []string `json:"blacklist"`
	AllowedHours  string   `json:"allowed_hours"`
	AdminCount    *int     `json:"admin_count"`
	CheckInterval *int     `json:"check_interval"`
}

func (a *API) decodeStreamRequest(w http.ResponseWriter, r *http.Request) (*streamRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return nil, false
	}

	if req.IP == "" {
		req.IP = a.cfg.DeviceHost
	}
	if req.Port == 0 {
		req.Port = a.cfg.DevicePort
	}
	if req.IP == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "terminal ip is required"})
		return nil, false
	}
	if req.Whitelist == nil {
		req.Whitelist = a.cfg.Whitelist
	}
	if req.Blacklist == nil {
		req.Blacklist = a.cfg.Blacklist
	}
	if req.AllowedHours == "" {
		req.AllowedHours = a.cfg.AllowedHours
	}
	return &req, true
}

// buildPolicy assembles the access policy of one stream session. A malformed
// hours pair does not reject the request: the session starts with an invalid
// time configuration and denies on it.
func (a *API) buildPolicy(req *streamRequest) access.Policy {
	start, end, err := config.SplitHours(req.AllowedHours)
	if err != nil {
		a.logger.Warn("malformed allowed hours, session will deny all timed access", "error", err)
		policy, _ := access.NewPolicy(req.Whitelist, req.Blacklist, "", "")
		policy.HoursInvalid = true
		return policy
	}

	policy, err := access.NewPolicy(req.Whitelist, req.Blacklist, start, end)
	if err != nil {
		a.logger.Warn("malformed allowed hours, session will deny all timed access", "error", err)
	}
	return policy
}

// buildWindow assembles the audit attendance window. The returned error is
// carried into the scanner so each cycle reports the bad configuration.
func buildWindow(allowedHours string) (*hours.Window, error) {
	start, end, err := config.SplitHours(allowedHours)
	if err != nil {
		return nil, err
	}
	w, err := hours.ParseWindow(start, end)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// handleAccessStream runs a live access-control session against one terminal
// and streams its events to the client as server-sent events.
func (a *API) handleAccessStream(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeStreamRequest(w, r)
	if !ok {
		return
	}

	policy := a.buildPolicy(req)
	gate := a.gateFor(req.IP, req.Port)
	stream := emit.NewStream(64)
	defer stream.Close()

	ctrl := access.NewController(gate, policy, emit.NewMulti(a.base, stream), a.metrics, a.logger, access.ControllerConfig{
		Throttle: a.cfg.StreamDelay,
	})

	a.logger.Info("starting access-control stream",
		"terminal", fmt.Sprintf("%s:%d", req.IP, req.Port),
		"whitelist_size", len(req.Whitelist),
		"blacklist_size", len(req.Blacklist))

	go ctrl.Run(r.Context())
	a.serveSSE(w, r, stream)
}

// handleSecurityStream runs a periodic security audit against one terminal
// and streams its findings to the client as server-sent events.
func (a *API) handleSecurityStream(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeStreamRequest(w, r)
	if !ok {
		return
	}

	adminCount := a.cfg.AdminCount
	if req.AdminCount != nil {
		adminCount = *req.AdminCount
	}
	interval := a.cfg.CheckInterval
	if req.CheckInterval != nil {
		interval = time.Duration(*req.CheckInterval) * time.Second
	}
	window, windowErr := buildWindow(req.AllowedHours)
	if windowErr != nil {
		a.logger.Warn("malformed allowed hours, audit will skip the range check", "error", windowErr)
	}

	gate := a.gateFor(req.IP, req.Port)
	stream := emit.NewStream(64)
	defer stream.Close()

	scanner := audit.NewScanner(gate, emit.NewMulti(a.base, stream), a.metrics, a.logger, audit.ScannerConfig{
		AdminCount: adminCount,
		Window:     window,
		WindowErr:  windowErr,
		Interval:   interval,
	})

	a.logger.Info("starting security-monitor stream",
		"terminal", fmt.Sprintf("%s:%d", req.IP, req.Port),
		"admin_count", adminCount,
		"check_interval", interval.String())

	go scanner.Run(r.Context())
	a.serveSSE(w, r, stream)
}

// serveSSE pumps the stream to the client until the client disconnects or
// the stream closes.
func (a *API) serveSSE(w http.ResponseWriter, r *http.Request, stream *emit.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.metrics.StreamClientConnected(1)
	defer a.metrics.StreamClientConnected(-1)

	for {
		select {
		case rec := <-stream.Records():
			data, err := json.Marshal(rec)
			if err != nil {
				a.logger.Error("marshaling stream record", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-stream.Done():
			return
		}
	}
}

// handleFindings queries the retained findings. DELETE clears them.
func (a *API) handleFindings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		a.store.Clear()
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared"})
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var findings interface{}
	var count int
	switch {
	case r.URL.Query().Get("kind") != "":
		fs := a.store.FindingsByKind(r.URL.Query().Get("kind"))
		findings, count = fs, len(fs)
	case r.URL.Query().Get("severity") != "":
		fs := a.store.FindingsBySeverity(r.URL.Query().Get("severity"))
		findings, count = fs, len(fs)
	default:
		fs := a.store.Findings()
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if limit, err := strconv.Atoi(raw); err == nil && limit >= 0 && limit < len(fs) {
				fs = fs[:limit]
			}
		}
		findings, count = fs, len(fs)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    count,
		"findings": findings,
	})
}

// handleHealth returns service health and finding store statistics.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "sentrygate",
		"store":   a.store.Stats(),
	})
}

// handleReady reports readiness. The event bus is optional, so a missing
// NATS connection degrades the report without failing it.
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":          true,
		"nats_connected": a.nc != nil && a.nc.IsConnected(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
