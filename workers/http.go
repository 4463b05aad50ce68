package workers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"swaprelayer/log"
	"swaprelayer/types"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	JobScan      = "scan"
	JobSend      = "send"
	JobSupervise = "supervise"
)

// Trigger runs one job on one chain and returns a short outcome for the caller.
type Trigger func(ctx context.Context, job string, chainID int) (string, error)

type triggerResponse struct {
	Job     string `json:"job"`
	ChainID int    `json:"chainId"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewRouter(trigger Trigger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Options("/*", CORSHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/trigger/{job}/{chainId}", triggerHandler(trigger, timeout))
	return r
}

func triggerHandler(trigger Trigger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := triggerResponse{Job: chi.URLParam(r, "job")}
		switch resp.Job {
		case JobScan, JobSend, JobSupervise:
		default:
			writeJSON(w, http.StatusNotFound, resp)
			return
		}
		chainID, err := strconv.Atoi(chi.URLParam(r, "chainId"))
		if err != nil {
			resp.Error = "bad chain id"
			writeJSON(w, http.StatusBadRequest, resp)
			return
		}
		resp.ChainID = chainID

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		resp.Outcome, err = trigger(ctx, resp.Job, chainID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, resp)
		case types.IsLockHeld(err):
			resp.Outcome = "skipped"
			writeJSON(w, http.StatusConflict, resp)
		case types.IsRetryable(err):
			// the next trigger may succeed
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
		default:
			resp.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Worker_HTTP serves the ops endpoints until ctx is done.
func Worker_HTTP(ctx context.Context, listen string, handler http.Handler) error {
	log.Worker("http", "starting HTTP service", "listen", listen)

	server := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	log.Worker("http", "HTTP service started")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Worker("http", "HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Worker("http", "HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, X-Requested-With")
}
