// Package web provides a web server and API for controlling IxNetwork RFC2544 runs
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnextgen"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/report"
)

// Version reported by /api/health
const Version = "1.0.0"

// Status constants for run state
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// ErrBusy is returned by live callbacks while the generator is busy with a
// trial step; handlers then serve the last snapshot instead
var ErrBusy = errors.New("traffic generator busy")

// Snapshot is the last known state of a run
type Snapshot struct {
	Status     string               `json:"status"`
	Message    string               `json:"message,omitempty"`
	Progress   float64              `json:"progress"`
	Elapsed    float64              `json:"elapsed_sec"`
	Duration   float64              `json:"duration_sec"`
	Statistics ixnextgen.Statistics `json:"statistics,omitempty"`
	Timestamp  int64                `json:"timestamp"`
}

// StartRequest is the optional body of POST /api/start
type StartRequest struct {
	Duration string `json:"duration,omitempty"` // e.g. "30s", overrides the profile
}

// ParsedDuration returns the requested duration, zero when unset
func (r StartRequest) ParsedDuration() (time.Duration, error) {
	if r.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.Duration)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// StateResponse is returned by GET /api/state
type StateResponse struct {
	Status  string `json:"status"`
	Traffic string `json:"traffic,omitempty"` // raw generator state
}

// Server represents the web server
type Server struct {
	addr string
	mux  *http.ServeMux
	log  *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
	conn     ixnextgen.ConnectionConfig

	// Callbacks
	OnStart   func(req StartRequest) error
	OnStop    func() error
	OnStats   func() (ixnextgen.Statistics, error)
	OnTraffic func() (string, error)
}

// Option for server configuration
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(lg *zap.Logger) Option {
	return func(s *Server) { s.log = lg }
}

// New creates a new web server
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		mux:      http.NewServeMux(),
		log:      zap.NewNop(),
		snapshot: Snapshot{Status: StatusIdle},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/config", s.handleConfig)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/start", s.handleStart)
	s.mux.HandleFunc("/api/stop", s.handleStop)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>IxNetwork RFC2544</title>
    <style>
        body { font-family: system-ui, sans-serif; background: #1a1a2e; color: #eee; margin: 40px; }
        h1 { color: #0f0; }
        h2 { color: #4da6ff; }
        .card { background: #16213e; padding: 20px; border-radius: 8px; margin: 10px 0; }
        pre { background: #0f0f23; padding: 10px; border-radius: 4px; overflow-x: auto; font-size: 13px; }
        a { color: #4da6ff; }
        li { margin: 5px 0; }
    </style>
</head>
<body>
    <h1>IxNetwork RFC2544</h1>
    <div class="card">
        <h2>API Endpoints</h2>
        <ul>
            <li><a href="/api/stats">GET /api/stats</a> - Port and latency statistics (?filter=glob)</li>
            <li><a href="/api/config">GET /api/config</a> - Connection configuration</li>
            <li><a href="/api/state">GET /api/state</a> - Run and traffic state</li>
            <li>POST /api/start - Start a trial</li>
            <li>POST /api/stop - Stop traffic</li>
            <li><a href="/api/health">GET /api/health</a> - Health check</li>
        </ul>
    </div>
    <div class="card">
        <h2>Start a 60 second trial</h2>
        <pre>curl -X POST http://localhost%s/api/start \
  -H "Content-Type: application/json" \
  -d '{"duration":"60s"}'</pre>
        <h2>Latency only</h2>
        <pre>curl 'http://localhost%s/api/stats?filter=Store-Forward_*'</pre>
    </div>
</body>
</html>`, s.addr, s.addr)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	stats := s.snapshot.Statistics
	s.mu.RUnlock()

	if s.OnStats != nil {
		live, err := s.OnStats()
		switch {
		case errors.Is(err, ErrBusy):
			s.log.Debug("generator busy, serving last statistics")
		case err != nil:
			http.Error(w, fmt.Sprintf("Statistics unavailable: %v", err), http.StatusServiceUnavailable)
			return
		default:
			stats = live
		}
	}

	filtered, err := report.Filter(stats, r.URL.Query().Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if filtered == nil {
		filtered = ixnextgen.Statistics{}
	}
	writeJSON(w, filtered)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	writeJSON(w, conn)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	resp := StateResponse{Status: s.snapshot.Status}
	s.mu.RUnlock()

	if s.OnTraffic != nil {
		state, err := s.OnTraffic()
		if err != nil {
			s.log.Debug("traffic state unavailable", zap.Error(err))
		} else {
			resp.Traffic = state
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
	}
	if _, err := req.ParsedDuration(); err != nil {
		http.Error(w, fmt.Sprintf("Invalid duration: %v", err), http.StatusBadRequest)
		return
	}

	if s.OnStart != nil {
		if err := s.OnStart(req); err != nil {
			http.Error(w, fmt.Sprintf("Start failed: %v", err), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.OnStop != nil {
		if err := s.OnStop(); err != nil {
			http.Error(w, fmt.Sprintf("Stop failed: %v", err), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "stopped"})
}

// SetConnection sets the connection config served on /api/config
func (s *Server) SetConnection(conn ixnextgen.ConnectionConfig) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// UpdateStats stores the latest statistics
func (s *Server) UpdateStats(stats ixnextgen.Statistics) {
	s.mu.Lock()
	s.snapshot.Statistics = stats
	s.snapshot.Timestamp = time.Now().Unix()
	s.mu.Unlock()
}

// UpdateStatus updates the run status and progress
func (s *Server) UpdateStatus(status, message string, elapsed, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Status = status
	s.snapshot.Message = message
	s.snapshot.Elapsed = elapsed.Seconds()
	s.snapshot.Duration = duration.Seconds()
	s.snapshot.Progress = 0
	if duration > 0 {
		s.snapshot.Progress = min(100, 100*elapsed.Seconds()/duration.Seconds())
	}
	s.snapshot.Timestamp = time.Now().Unix()
}

// Snapshot returns a copy of the current run state
func (s *Server) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Run serves until ctx is done and then shuts the server down
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting web server", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
