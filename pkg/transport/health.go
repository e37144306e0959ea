package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/concordkv/concord/pkg/metrics"
)

// LeaderChecker is the minimal view HealthServer needs of the replicated
// log, kept narrow to avoid an import cycle with pkg/consensus.
type LeaderChecker interface {
	IsLeader() bool
	LeaderAddr() string
}

// HealthServer exposes /health, /ready, and /metrics on a process-local
// HTTP listener, separate from the gRPC client and internal endpoints,
// so orchestrators (Kubernetes liveness/readiness probes, systemd) never
// need to speak the Envelope protocol to supervise the process.
type HealthServer struct {
	mgr LeaderChecker
	mux *http.ServeMux
}

// NewHealthServer creates a health check HTTP server reporting on mgr's
// leadership state. mgr may be nil for a node that has not finished
// bootstrapping the replicated log yet.
func NewHealthServer(mgr LeaderChecker) *HealthServer {
	hs := &HealthServer{mgr: mgr, mux: http.NewServeMux()}
	hs.mux.HandleFunc("/health", hs.healthHandler)
	hs.mux.HandleFunc("/ready", hs.readyHandler)
	hs.mux.Handle("/metrics", metrics.Handler())
	return hs
}

// Start serves the health endpoints on addr. It blocks until the
// listener fails or is closed.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler returns the HTTP handler, for embedding under another server's
// mux instead of calling Start.
func (hs *HealthServer) Handler() http.Handler {
	return hs.mux
}

// HealthResponse is a bare liveness response: the process is up and
// serving requests, independent of cluster state.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse reports whether the node is ready to take traffic: the
// replicated log has a known leader (this node or another).
type ReadyResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Raft      string    `json:"raft"`
	Message   string    `json:"message,omitempty"`
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var raftStatus, message string
	ready := true

	if hs.mgr == nil {
		raftStatus = "not initialized"
		ready = false
		message = "replicated log not initialized"
	} else if hs.mgr.IsLeader() {
		raftStatus = "leader"
	} else if addr := hs.mgr.LeaderAddr(); addr != "" {
		raftStatus = fmt.Sprintf("follower (leader: %s)", addr)
	} else {
		raftStatus = "no leader elected"
		ready = false
		message = "waiting for leader election"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ReadyResponse{Status: status, Timestamp: time.Now(), Raft: raftStatus, Message: message})
}
