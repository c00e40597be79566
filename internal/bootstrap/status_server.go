package bootstrap

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"media-grabber/internal/jobs"
	"media-grabber/internal/metrics"
)

// statusRouter serves Prometheus metrics and a read-only JSON view of
// downloads and jobs.
func (a *App) statusRouter() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/api/downloads", a.handleListDownloads).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs", a.handleListJobs).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{jobID}", a.handleGetJob).Methods(http.MethodGet)
	router.HandleFunc("/api/diagnostics", a.handleDiagnostics).Methods(http.MethodGet)
	return router
}

// startMetrics serves statusRouter on addr; an empty addr disables it.
func (a *App) startMetrics(addr string) error {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.statusRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.mu.Lock()
	a.metricsSrv = srv
	a.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("status server error", "addr", addr, "error", err)
		}
	}()
	a.Logger.Info("status server listening", "addr", addr)
	return nil
}

func (a *App) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.ActiveDownloads())
}

func (a *App) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"counts": a.Jobs.Counts(),
		"jobs":   a.Jobs.Jobs(),
	})
}

func (a *App) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, ok := a.Jobs.Job(jobID)
	if !ok {
		http.Error(w, jobs.ErrJobNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, job)
}

func (a *App) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.GetDiagnostics())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
