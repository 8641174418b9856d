// IxNetwork RFC2544 - traffic generator control plane
//
// Drives an IxNetwork NextGen traffic generator through one trial:
// - assigns the chassis ports of a test context node
// - builds one flow group per port pair from a traffic profile
// - runs traffic for the trial duration
// - collects port and latency statistics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/config"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet/memstore"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnextgen"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/logger"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/profile"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/report"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/tui"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/web"
)

var (
	version     = "1.0.0"
	cfgFile     string
	profileFile string
	duration    time.Duration
	webAddr     string
	useTUI      bool
	simulate    bool
	verbose     int
	jsonLog     bool
	statsFilter string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ixnet-rfc2544",
		Short: "IxNetwork RFC2544 - traffic generator control plane",
		Long: `IxNetwork RFC2544 v1

Runs one RFC 2544 trial on an IxNetwork NextGen traffic generator:
  - Ports: assigned from the node descriptor in the config file
  - Traffic: one raw flow group per port pair, shaped by a traffic profile
  - Statistics: per-port counters and per-flow latency

Examples:
  # Run a trial against the in-memory generator
  ixnet-rfc2544 -c config.yaml -p profile.yaml --simulate

  # Run with TUI
  ixnet-rfc2544 -c config.yaml --simulate --tui

  # Run with Web UI
  ixnet-rfc2544 -c config.yaml --simulate --web :8080

  # Latency statistics only, for 10 seconds
  ixnet-rfc2544 -c config.yaml --simulate -d 10s --stats-filter 'Store-Forward_*'`,
		SilenceUsage: true,
		RunE:         runMain,
	}

	// Flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (YAML)")
	rootCmd.Flags().StringVarP(&profileFile, "profile", "p", "", "Traffic profile (YAML), overrides traffic_profile")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Trial duration (0 = config, then profile)")
	rootCmd.Flags().StringVar(&webAddr, "web", "", "Enable Web UI on address (e.g., :8080)")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Enable terminal UI")
	rootCmd.Flags().BoolVar(&simulate, "simulate", false, "Use the in-memory traffic generator")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "Verbose output (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "Log as JSON")
	rootCmd.Flags().StringVar(&statsFilter, "stats-filter", "", "Only report statistics matching this glob")
	rootCmd.MarkPersistentFlagRequired("config")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("IxNetwork RFC2544 v%s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "show-config",
		Short: "Print the connection settings derived from the node descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			conn, err := ixnextgen.GetConfig(cfg.Node)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(conn)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Override with CLI flags
	if profileFile != "" {
		cfg.TrafficProfile = profileFile
	}
	if webAddr != "" {
		cfg.WebUI.Enabled = true
		cfg.WebUI.Address = webAddr
	}
	cfg.Logging.Verbose += verbose
	cfg.Logging.JSON = cfg.Logging.JSON || jsonLog

	prof, err := profile.Load(cfg.TrafficProfile)
	if err != nil {
		return err
	}
	if _, err := report.Filter(nil, statsFilter); err != nil {
		return err
	}

	if !simulate {
		return errors.New("no IxNetwork API client is built in; run with --simulate")
	}
	sim, err := newSimulator(cfg.Simulator)
	if err != nil {
		return errors.Wrap(err, "simulator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Mode selection
	if useTUI {
		return runTUI(ctx, cfg, prof, sim)
	}

	lg, cleanup := logger.New(cfg.Logging)
	defer cleanup(context.Background())

	ctl, err := newController(cfg, prof, sim, lg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	if cfg.WebUI.Enabled {
		return runWebOnly(ctx, cfg, ctl, lg)
	}
	return runCLI(ctx, cfg, ctl, lg)
}

func newWebServer(ctx context.Context, cfg *config.Config, ctl *controller, lg *zap.Logger) *web.Server {
	srv := web.New(cfg.WebUI.Address, web.WithLogger(lg.Named("web")))
	if conn, err := ixnextgen.GetConfig(cfg.Node); err == nil {
		srv.SetConnection(conn)
	}

	srv.OnStart = func(req web.StartRequest) error {
		d, err := req.ParsedDuration()
		if err != nil {
			return err
		}
		lg.Info("starting trial from web", zap.Duration("duration", ctl.duration(d)))
		return ctl.Start(ctx, d)
	}
	srv.OnStop = func() error {
		lg.Info("stopping trial from web")
		return ctl.Stop()
	}
	srv.OnStats = ctl.Statistics
	srv.OnTraffic = ctl.TrafficState
	return srv
}

func runWebOnly(ctx context.Context, cfg *config.Config, ctl *controller, lg *zap.Logger) error {
	srv := newWebServer(ctx, cfg, ctl, lg)
	ctl.onStatus = srv.UpdateStatus
	ctl.onStats = srv.UpdateStats

	lg.Info("IxNetwork RFC2544", zap.String("version", version))
	lg.Info("web UI", zap.String("url", "http://localhost"+cfg.WebUI.Address))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")
		return ctl.Stop()
	})
	return g.Wait()
}

func runTUI(ctx context.Context, cfg *config.Config, prof *profile.Config, sim *memstore.Store) error {
	app := tui.New()

	// ANSI colors would show up raw in the log view
	logCfg := cfg.Logging
	logCfg.NoColor = true
	logCfg.JSON = false
	lg, cleanup := logger.NewWithSink(logCfg, zapcore.AddSync(app))
	defer cleanup(context.Background())

	ctl, err := newController(cfg, prof, sim, lg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	var srv *web.Server
	if cfg.WebUI.Enabled {
		srv = newWebServer(ctx, cfg, ctl, lg)
	}

	ctl.onProgress = app.UpdateProgress
	ctl.onStats = func(stats ixnextgen.Statistics) {
		app.UpdateStats(stats)
		if srv != nil {
			srv.UpdateStats(stats)
		}
	}
	ctl.onStatus = func(status, msg string, elapsed, total time.Duration) {
		switch status {
		case web.StatusRunning:
			app.SetStatus("[green]" + msg + "[white] | [red]F2[white] Stop | [blue]F10[white] Quit")
		default:
			app.SetStatus("")
		}
		if srv != nil {
			srv.UpdateStatus(status, msg, elapsed, total)
		}
	}

	// Set up callbacks
	app.OnStart = func() {
		if err := ctl.Start(ctx, duration); err != nil {
			app.LogWarn("%v", err)
		}
	}
	app.OnStop = func() {
		app.LogInfo("Stopping trial...")
		if err := ctl.Stop(); err != nil {
			app.LogError("%v", err)
		}
	}
	app.OnQuit = func() {
		app.LogInfo("Shutting down...")
	}

	// Start with welcome message
	go func() {
		time.Sleep(100 * time.Millisecond)
		app.LogInfo("IxNetwork RFC2544 v%s", version)
		if conn, err := ixnextgen.GetConfig(cfg.Node); err == nil {
			app.LogInfo("Chassis %s via %s:%s, %d ports", conn.Chassis, conn.Machine, conn.Port, len(conn.Ports))
		}
		app.LogInfo("Profile: %s, %d flows, %s", cfg.TrafficProfile, len(prof.Flows), ctl.duration(duration))
		if srv != nil {
			app.LogInfo("Web UI: http://localhost%s", cfg.WebUI.Address)
		}
		app.LogInfo("Press F1 to start, F10 to quit")
	}()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, quit := context.WithCancel(gctx)
	if srv != nil {
		g.Go(func() error { return srv.Run(runCtx) })
	}
	g.Go(func() error {
		<-runCtx.Done()
		app.Stop()
		return nil
	})
	g.Go(func() error {
		defer quit()
		if err := app.Run(); err != nil {
			return errors.Wrap(err, "tui")
		}
		return ctl.Stop()
	})
	return g.Wait()
}

func runCLI(ctx context.Context, cfg *config.Config, ctl *controller, lg *zap.Logger) error {
	lg.Info("IxNetwork RFC2544", zap.String("version", version), zap.String("profile", cfg.TrafficProfile))

	ctl.onProgress = func(elapsed, total time.Duration) {
		lg.Debug("progress", zap.Duration("elapsed", elapsed.Round(time.Second)), zap.Duration("duration", total))
	}

	stats, err := ctl.Run(ctx, duration)
	if errors.Is(err, context.Canceled) {
		lg.Warn("trial cancelled")
		return err
	}
	if err != nil {
		return err
	}

	filtered, err := report.Filter(stats, statsFilter)
	if err != nil {
		return err
	}
	if err := report.Write(os.Stdout, filtered, report.Format(cfg.OutputFormat), ""); err != nil {
		return err
	}
	ctl.save(stats)
	return nil
}
