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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/internal/store"
)

var servePort int

// runner executes one analysis.
type runner interface {
	Run(ctx context.Context, req model.AnalysisRequest) *model.Analysis
}

// server holds the HTTP handlers' collaborators.
type server struct {
	runner  runner
	store   store.Store // may be nil
	breaker *resilience.Breaker
	cfg     *config.Config
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP analysis API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Store != nil && cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		s := &server{runner: env.Pipeline, store: env.Store, breaker: env.Analyzer.Breaker(), cfg: cfg}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           s.routes(),
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

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/reports", s.handleListReports)
	r.Get("/reports/{id}", s.handleGetReport)
	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, monitoring.Handler())
	}
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.breaker != nil {
		body["model_breaker"] = s.breaker.State().String()
	}
	respondJSON(w, http.StatusOK, body)
}

type analyzeBody struct {
	URL         string `json:"url"`
	CompanyName string `json:"company_name"`
	Location    string `json:"location"`
	DynamicMain bool   `json:"dynamic_main"`
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := normalizeURL(body.URL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	body.URL = target

	ctx := r.Context()
	if secs := s.cfg.Server.RequestTimeoutSecs; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result := s.runner.Run(ctx, model.AnalysisRequest{
		URL:         body.URL,
		CompanyName: body.CompanyName,
		Location:    body.Location,
		DynamicMain: body.DynamicMain,
	})
	monitoring.ObserveRequest(requestOutcome(result), time.Since(start))

	if s.store != nil {
		if _, err := s.store.SaveReport(context.WithoutCancel(ctx), result); err != nil {
			zap.L().Warn("serve: failed to store report", zap.String("url", body.URL), zap.Error(err))
		}
	}
	if result.ID != "" {
		w.Header().Set("X-Report-ID", result.ID)
	}

	if r.URL.Query().Get("envelope") == "true" {
		respondJSON(w, http.StatusOK, result)
		return
	}
	respondJSON(w, http.StatusOK, result.Insights)
}

func (s *server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "report store disabled")
		return
	}
	reports, err := s.store.ListReports(r.Context(), store.ReportFilter{
		CompanyURL:   r.URL.Query().Get("url"),
		DegradedOnly: r.URL.Query().Get("degraded") == "true",
	})
	if err != nil {
		zap.L().Error("serve: list reports", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "report store disabled")
		return
	}
	rep, err := s.store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		zap.L().Error("serve: get report", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	respondJSON(w, http.StatusOK, rep.Analysis)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
