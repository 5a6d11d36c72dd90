package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/qms-portal/docpreview/internal/api"
	"github.com/qms-portal/docpreview/internal/config"
	"github.com/qms-portal/docpreview/internal/convert"
	"github.com/qms-portal/docpreview/internal/history"
	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/preview"
	"github.com/qms-portal/docpreview/internal/session"
	"github.com/qms-portal/docpreview/internal/storage"
	"github.com/qms-portal/docpreview/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the preview HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the XML config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	log := logger.New(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat)
	api.ShowErrorDetails = logger.ParseLevel(cfg.Advanced.LogLevel) == slog.LevelDebug

	store, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory, storage.Options{
		IndexPath:     cfg.Storage.IndexPath,
		BaseURL:       cfg.Server.PublicBaseURL,
		SigningSecret: cfg.Security.SigningSecret,
		SignedURLTTL:  cfg.SignedURLTTL(),
	})
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	catalog, err := preview.LoadCatalog(cfg.Viewers.CatalogPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := preview.NewPrometheusObserver("docpreview", reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	observers := preview.MultiObserver{metrics}

	var hist *history.Store
	if cfg.Viewers.EnableHistory {
		hist, err = history.Open(cfg.Storage.HistoryPath, log)
		if err != nil {
			return fmt.Errorf("opening attempt history: %w", err)
		}
		defer hist.Close()
		observers = append(observers, hist)
	}

	prober := preview.NewHTTPProber(nil, cfg.ProbeTimeout(), cfg.Viewers.ProbeRatePerSecond, cfg.Viewers.ProbeBurst)
	resolver := preview.NewResolver(catalog, prober, observers, log)
	viewers := session.NewManager(resolver, store, preview.NewHTTPLoader(&http.Client{}), log)
	defer viewers.Shutdown()

	converter := convert.NewLibreOfficeConverter(cfg.Advanced.LibreOfficePath, cfg.ConversionTimeout())
	conversions, err := convert.NewManager(cfg.Storage.ConvertedDirectory, store, converter, log)
	if err != nil {
		return err
	}
	defer conversions.Wait()

	deps := &api.Dependencies{
		Store:             store,
		Viewers:           viewers,
		Conversions:       conversions,
		Metrics:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Log:               log,
		Version:           Version,
		AllowFileDeletion: cfg.Security.AllowFileDeletion,
		RequireSignedURLs: cfg.Security.RequireSignedURLs,
		WSMaxMessageSize:  int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024,
	}
	if hist != nil {
		deps.Stats = hist
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, api.MiddlewareConfig{
		Log:               log,
		RequestLogging:    cfg.Advanced.EnableRequestLogging,
		BodyLimit:         cfg.Server.BodyLimit,
		EnableCORS:        cfg.Server.EnableCORS,
		AllowOrigins:      api.SplitOrigins(cfg.Server.AllowOrigins),
		RequestsPerSecond: float64(cfg.Server.RatePerSecond),
	})
	api.RegisterRoutes(e, api.NewHandlers(deps))

	embedded := web.HasEmbeddedFiles()
	if embedded {
		if err := web.RegisterStaticRoutes(e); err != nil {
			log.Warn("failed to register static routes", "error", err)
			embedded = false
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cmd, configPath, cfg, embedded)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "addr", s.Addr)
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return e.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				viewersRemoved := viewers.CleanupOldViewers(cfg.ViewerIdle())
				jobsRemoved := conversions.CleanupOldJobs(cfg.ConversionMaxAge())
				if viewersRemoved > 0 || jobsRemoved > 0 {
					log.Debug("cleanup", "viewers", viewersRemoved, "conversions", jobsRemoved)
				}
				if hist != nil {
					if err := hist.Flush(); err != nil {
						log.Warn("flushing attempt history", "error", err)
					}
				}
			}
		}
	})

	return g.Wait()
}

func printBanner(cmd *cobra.Command, configPath string, cfg *config.AppConfig, embedded bool) {
	mode := "API only"
	if embedded {
		mode = "API + review page"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(out, "║           Document Preview Service                        ║\n")
	fmt.Fprintf(out, "╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Fprintf(out, "║  Version:    %-45s║\n", Version)
	fmt.Fprintf(out, "║  Build Time: %-45s║\n", BuildTime)
	fmt.Fprintf(out, "║  Mode:       %-45s║\n", mode)
	fmt.Fprintf(out, "╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Fprintf(out, "║  Config:    %-46s║\n", configPath)
	fmt.Fprintf(out, "║  Listen:    http://%-39s║\n", cfg.GetServerAddr())
	fmt.Fprintf(out, "║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Fprintf(out, "╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Fprintf(out, "\n")
}
