package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ulifeai/agentb/config"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/sse"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the coordinator behind an HTTP API with SSE run streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.HandleFunc("POST /threads", a.handleCreateThread)
			mux.HandleFunc("POST /threads/{threadID}/runs", a.handleStartRun)
			mux.HandleFunc("POST /runs/{runID}/resume", a.handleResumeRun)
			mux.HandleFunc("POST /runs/{runID}/cancel", a.handleCancelRun)
			mux.HandleFunc("GET /runs/{runID}", a.handleGetRun)
			if cfg.Telemetry.Metrics == "prometheus" {
				mux.Handle("GET /metrics", promhttp.Handler())
			}

			a.logger.Info(ctx, "agentbd: listening", "component", "cmd/agentbd", "addr", addr)
			return http.ListenAndServe(addr, mux)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	return cmd
}

func (a *app) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	thread, err := a.threads.Create(r.Context(), model.Thread{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

// handleStartRun starts a run and streams its events as the response body.
// The coordinator's EventStream is consumed exactly once by the request
// that created it, so starting a run and reading its events happen in the
// same HTTP round trip rather than across two separate endpoints.
func (a *app) handleStartRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, stream, err := a.coordinator.StartRun(r.Context(), threadID, model.Message{Content: model.NewTextContent(body.Message)})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := sse.Handler(w, r, stream); err != nil {
		a.logger.Warn(r.Context(), "agentbd: sse handler failed", "component", "cmd/agentbd", "err", err)
	}
}

func (a *app) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")

	var body struct {
		ToolOutputs []model.Message `json:"tool_outputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream, err := a.coordinator.ResumeRun(r.Context(), runID, body.ToolOutputs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := sse.Handler(w, r, stream); err != nil {
		a.logger.Warn(r.Context(), "agentbd: sse handler failed", "component", "cmd/agentbd", "err", err)
	}
}

func (a *app) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := a.coordinator.CancelRun(r.Context(), r.PathValue("runID")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *app) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.coordinator.GetRun(r.Context(), r.PathValue("runID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
