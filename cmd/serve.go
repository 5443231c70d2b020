package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/pipeline"
	"github.com/sells-group/digest-cli/internal/resilience"
	"github.com/sells-group/digest-cli/internal/store"
)

var servePort int

// maxBatchURLs bounds a single POST /v1/batch request.
const maxBatchURLs = 500

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the digest HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{
			pipeline: env.Pipeline,
			batch:    env.Batch,
			store:    env.Store,
			breakers: env.Orchestrator.Breakers(),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.routes(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// apiServer exposes the pipeline over HTTP.
type apiServer struct {
	pipeline *pipeline.Pipeline
	batch    *pipeline.Batch
	store    store.Store
	breakers *resilience.ServiceBreakers
}

type digestRequest struct {
	URL       string `json:"url"`
	FactCheck bool   `json:"fact_check"`
	Summarize *bool  `json:"summarize"`
}

type batchRequest struct {
	Name        string   `json:"name"`
	URLs        []string `json:"urls"`
	Concurrency int      `json:"concurrency"`
	FactCheck   bool     `json:"fact_check"`
	Summarize   *bool    `json:"summarize"`
}

func (a *apiServer) routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/digest", a.digest)
		r.Post("/batch", a.runBatch)
		r.Get("/batch/{id}", a.getBatch)
		r.Get("/batches", a.listBatches)
		r.Get("/history", a.listHistory)
		r.Get("/circuits", a.circuits)
	})
	return r
}

func (a *apiServer) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiServer) digest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	opts := pipelineOptions(a.pipeline, req.FactCheck, wantSummary(req.Summarize))
	result := a.pipeline.Process(r.Context(), req.URL, opts)
	respondJSON(w, http.StatusOK, result)
}

func (a *apiServer) runBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.URLs) == 0 {
		respondError(w, http.StatusBadRequest, "urls is required")
		return
	}
	if len(req.URLs) > maxBatchURLs {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per batch", maxBatchURLs))
		return
	}

	opts := pipelineOptions(a.pipeline, req.FactCheck, wantSummary(req.Summarize))
	run, err := a.batch.ProcessBatch(r.Context(), req.Name, req.URLs, req.Concurrency, opts)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (a *apiServer) getBatch(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (a *apiServer) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := a.store.ListBatches(r.Context(), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (a *apiServer) listHistory(w http.ResponseWriter, r *http.Request) {
	if u := r.URL.Query().Get("url"); u != "" {
		res, err := a.store.Get(r.Context(), u)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	results, err := a.store.List(r.Context(), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	total, err := a.store.Count(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"total": total, "results": results})
}

func (a *apiServer) circuits(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.breakers.Snapshot())
}

func wantSummary(v *bool) bool {
	return v == nil || *v
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("store query failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
