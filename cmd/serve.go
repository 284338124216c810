package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-resolver/internal/config"
	"github.com/sells-group/contact-resolver/internal/ingest"
	"github.com/sells-group/contact-resolver/internal/metrics"
	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/pipeline"
	"github.com/sells-group/contact-resolver/internal/resilience"
	"github.com/sells-group/contact-resolver/internal/scan"
)

var servePort int

// deduplicator runs one deduplication request.
type deduplicator interface {
	Deduplicate(ctx context.Context, records []model.Record) (*pipeline.Result, error)
}

// dedupeResponse is the body of a successful POST /v1/deduplicate.
type dedupeResponse struct {
	Output   []any                          `json:"output"`
	Stats    model.Stats                    `json:"stats"`
	Warnings []scan.Warning                 `json:"warnings,omitempty"`
	Skipped  []pipeline.MissingContactError `json:"skipped,omitempty"`
	Failures []resilience.FailedComparison  `json:"failures,omitempty"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve deduplication over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initOracle(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		p := pipeline.New(env.Adapter, pipelineOptions(cfg, env.Adapter.Rules()))

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      buildRouter(p, cfg),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// buildRouter wires the HTTP API around d.
func buildRouter(d deduplicator, c *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: c.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	alerter := newAlerter(c)
	maxBody := int64(c.Server.MaxBodyMB) << 20
	r.Post("/v1/deduplicate", func(w http.ResponseWriter, r *http.Request) {
		if maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		records, err := ingest.DecodeJSON(r.Context(), r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		result, err := d.Deduplicate(r.Context(), records)
		switch {
		case errors.Is(err, model.ErrMissingID), errors.Is(err, model.ErrDuplicateID):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		case err != nil:
			zap.L().Error("deduplicate request failed",
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "deduplication failed")
			return
		}

		alerter.Check(context.WithoutCancel(r.Context()), result.Stats)

		writeJSONResponse(w, http.StatusOK, dedupeResponse{
			Output:   result.Output(),
			Stats:    result.Stats,
			Warnings: result.Warnings,
			Skipped:  result.Skipped,
			Failures: result.Failures(),
		})
	})

	return r
}

// requestLogger emits one log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chiMiddleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}

		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("http_request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.Int("response_bytes", ww.BytesWritten()),
		)
	})
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
