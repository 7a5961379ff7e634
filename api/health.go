package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nautical-db/tablet/pkg/metrics"
	"github.com/nautical-db/tablet/pkg/tabletservice"
)

// HealthServer provides HTTP health/readiness/metrics endpoints
// alongside the gRPC Server. Readiness here reflects the components
// registered at startup via metrics.RegisterComponent, not Raft
// leadership - there is no leader concept at this layer.
type HealthServer struct {
	svc *tabletservice.Service
	mux *http.ServeMux
}

// NewHealthServer builds the HTTP mux for svc.
func NewHealthServer(svc *tabletservice.Service) *HealthServer {
	hs := &HealthServer{svc: svc, mux: http.NewServeMux()}
	hs.mux.Handle("/health", metrics.HealthHandler())
	hs.mux.Handle("/ready", metrics.ReadyHandler())
	hs.mux.Handle("/live", metrics.LivenessHandler())
	hs.mux.HandleFunc("/tablets", hs.tabletsHandler)
	hs.mux.Handle("/metrics", metrics.Handler())
	return hs
}

// Start serves the health mux until the process stops it or
// ListenAndServe errors.
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

// GetHandler returns the mux for embedding in another server.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

// tabletsHandler reports how many tablets this log stream's Service
// currently holds. Specific to tabletservice.Service, so it lives
// alongside the generic health surface rather than inside it.
func (hs *HealthServer) tabletsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	count := 0
	if hs.svc != nil {
		count = len(hs.svc.Keys())
	}
	writeJSON(w, http.StatusOK, map[string]int{"tablet_count": count})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
