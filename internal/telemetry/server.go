package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// NewServer returns the monitoring HTTP server exposing /health and
// /metrics. Long grid sweeps run it in the background when --metrics-addr
// is set; nothing in the core depends on it.
func NewServer(addr string) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Serve starts the monitor server in a goroutine and logs a closed listener
// instead of failing the run.
func Serve(addr string) *http.Server {
	srv := NewServer(addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Str("addr", addr).Msg("Monitor server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Monitor server listening")
	return srv
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
