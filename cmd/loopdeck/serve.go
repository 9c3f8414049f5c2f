package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loopdeck/loopdeck/pkg/artifacts"
	"github.com/loopdeck/loopdeck/pkg/budget"
	"github.com/loopdeck/loopdeck/pkg/config"
	"github.com/loopdeck/loopdeck/pkg/httpapi"
	"github.com/loopdeck/loopdeck/pkg/jobs"
	"github.com/loopdeck/loopdeck/pkg/log"
)

var (
	serveConfigPath string
	serveListen     string
	serveLogLevel   string
	serveLogFormat  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard orchestrator",
	Long: `Serve the operator dashboard API: build job start/stop, two-phase
generation jobs per work-stream key, and the live status event stream.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		if serveListen != "" {
			cfg.Listen = serveListen
		}
		if serveLogLevel != "" {
			cfg.Log.Level = serveLogLevel
		}
		if serveLogFormat != "" {
			cfg.Log.Format = serveLogFormat
		}

		if err := log.Init(log.Config{
			Level:  log.Level(cfg.Log.Level),
			Format: cfg.Log.Format,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer log.Sync()

		store := artifacts.NewStore(cfg.Artifacts.Root)
		gate := &budget.LedgerGate{
			Path:            cfg.Budget.LedgerPath,
			LimitUSD:        cfg.Budget.LimitUSD,
			PauseOnExceeded: cfg.Budget.PauseOnExceeded,
		}
		launcher := jobs.ExecLauncher{}

		buildMgr := jobs.NewBuildManager(jobs.BuildConfig{
			Binary:     cfg.Loop.Binary,
			WorkDir:    cfg.Loop.WorkDir,
			TermGrace:  cfg.TermGrace(),
			BufferSize: cfg.OutputBufferBytes(),
		}, gate, launcher)

		genMgr := jobs.NewGenerationManager(jobs.GenerationConfig{
			Binary:          cfg.Loop.Binary,
			WorkDir:         cfg.Loop.WorkDir,
			AwaitKeyTimeout: cfg.AwaitKeyTimeout(),
			ConfirmRetries:  cfg.Generation.ConfirmRetries,
			ConfirmBackoff:  cfg.ConfirmBackoff(),
			MaxConcurrent:   cfg.Generation.MaxConcurrent,
			ReapGrace:       cfg.ReapGrace(),
			TermGrace:       cfg.TermGrace(),
			BufferSize:      cfg.OutputBufferBytes(),
		}, store, launcher)

		api := httpapi.New(buildMgr, genMgr, store, httpapi.Config{
			Heartbeat: cfg.Heartbeat(),
			Version:   Version,
		})

		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: api.Router(),
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info("loopdeck serving", "addr", cfg.Listen, "loop_binary", cfg.Loop.Binary)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			log.Info("shutting down")
			return server.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to loopdeck.yaml")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "", "log format: console or json")
	rootCmd.AddCommand(serveCmd)
}
