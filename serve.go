package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/n0madic/go-aiforwarder/internal/config"
	"github.com/n0madic/go-aiforwarder/internal/logging"
	"github.com/n0madic/go-aiforwarder/internal/metrics"
	"github.com/n0madic/go-aiforwarder/internal/models"
	"github.com/n0madic/go-aiforwarder/internal/server"
	"github.com/n0madic/go-aiforwarder/internal/upstream"
)

const shutdownTimeout = 5 * time.Second

var serveFlags struct {
	host         string
	port         int
	verbose      bool
	debug        bool
	debugModel   string
	capabilities string
	logFormat    string
	logFile      string
	noMetrics    bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.host, "host", "", "bind host")
	f.IntVar(&serveFlags.port, "port", 0, "listen port")
	f.BoolVar(&serveFlags.verbose, "verbose", false, "enable verbose logging")
	f.BoolVar(&serveFlags.debug, "debug", false, "dump inbound and upstream traffic")
	f.StringVar(&serveFlags.debugModel, "debug-model", "", "force every request to this upstream model")
	f.StringVar(&serveFlags.capabilities, "capabilities", "", "YAML model catalog, reloaded on change")
	f.StringVar(&serveFlags.logFormat, "log-format", "", "log format (text|json)")
	f.StringVar(&serveFlags.logFile, "log-file", "", "write logs to a rotating file instead of stderr")
	f.BoolVar(&serveFlags.noMetrics, "no-metrics", false, "disable the /metrics endpoint")
	rootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cmd *cobra.Command, cfg *config.ServerConfig) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = serveFlags.host
	}
	if f.Changed("port") {
		cfg.Port = serveFlags.port
	}
	if f.Changed("verbose") {
		cfg.Verbose = serveFlags.verbose
	}
	if f.Changed("debug") {
		cfg.Debug = serveFlags.debug
	}
	if f.Changed("debug-model") {
		cfg.DebugModel = serveFlags.debugModel
	}
	if f.Changed("capabilities") {
		cfg.CapabilitiesFile = serveFlags.capabilities
	}
	if f.Changed("log-format") {
		cfg.LogFormat = serveFlags.logFormat
	}
	if f.Changed("log-file") {
		cfg.LogFile = serveFlags.logFile
	}
	if serveFlags.noMetrics {
		cfg.MetricsEnabled = false
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	_, closer := logging.Setup(cfg)
	defer closer.Close()

	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	var rec *metrics.Recorder
	if cfg.MetricsEnabled {
		rec = metrics.New(config.MetricsNamespace, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CapabilitiesFile != "" {
		w, err := models.NewWatcher(cfg.CapabilitiesFile, reg, models.DefaultDebounce, slog.Default())
		if err != nil {
			return err
		}
		w.OnReload = rec.CatalogReloaded
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("capability watcher stopped", "error", err)
			}
		}()
	}

	srv := server.New(cfg, upstream.NewClient(cfg), reg, rec)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
