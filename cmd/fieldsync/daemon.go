package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/afyawatch/fieldsync/internal/dashboard"
	"github.com/afyawatch/fieldsync/internal/engine"
	"github.com/afyawatch/fieldsync/internal/netmon"
	"github.com/afyawatch/fieldsync/internal/uploader"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon: watch connectivity, drain the queue whenever
the connection comes back, and serve the dashboard WebSocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := newLogger(cfg, "[fieldsync] ")
		logger.Printf("Starting daemon (data dir: %s)", cfg.DataDir)

		st, q := openQueue(cfg, logger)
		defer func() { _ = st.Close() }()

		// A crash mid-drain leaves items stuck syncing; make them
		// eligible again before the first drain.
		if _, err := q.RecoverStale(); err != nil {
			fmt.Fprintf(os.Stderr, "Error recovering stale items: %v\n", err)
			os.Exit(1)
		}

		up := uploader.NewRESTClient(cfg.RemoteURL, cfg.APIKey, logger)
		journal := engine.NewJournal(st, 50)

		engCfg := &engine.Config{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			Logger:      logger,
			Journal:     journal,
		}

		var srv *dashboard.Server
		eng := engine.New(q, up, engCfg)

		if cfg.DashboardAddr != "" {
			srv = dashboard.NewServer(&dashboard.Config{
				Addr:     cfg.DashboardAddr,
				Snapshot: eng.PendingCount,
				Logger:   logger,
			})
			handler := dashboard.NewHandler(srv, logger)
			eng.SetOnDrain(handler.OnDrainComplete)
			unsubscribe := eng.Subscribe(handler.OnPendingCount)
			defer unsubscribe()

			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer func() { _ = srv.Stop() }()
		}

		monitor := netmon.New(netmon.NewHTTPProber(cfg.ProbeURL), eng.OnOnline, &netmon.Config{
			StateFile:    cfg.StateFile,
			Debounce:     cfg.Debounce,
			PollInterval: cfg.PollInterval,
			Logger:       logger,
		})
		eng.SetMonitor(monitor)

		if err := eng.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting monitor: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = eng.Stop() }()

		pending, _ := eng.PendingCount()
		logger.Printf("Daemon running, %d items pending", pending)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Printf("Received %v, shutting down", sig)
	},
}
