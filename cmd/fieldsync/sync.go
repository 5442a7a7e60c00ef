package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/afyawatch/fieldsync/internal/engine"
	"github.com/afyawatch/fieldsync/internal/uploader"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the queue now",
	Long: `Drain every retry-eligible item immediately, without waiting for a
connectivity event. Items a running daemon has already marked syncing
are skipped; each delivery is idempotent either way.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := newLogger(cfg, "[sync] ")
		st, q := openQueue(cfg, logger)
		defer func() { _ = st.Close() }()

		up := uploader.NewRESTClient(cfg.RemoteURL, cfg.APIKey, logger)
		eng := engine.New(q, up, &engine.Config{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			Logger:      logger,
			Journal:     engine.NewJournal(st, 50),
		})

		result, err := eng.TriggerSync(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		pending, _ := eng.PendingCount()
		fmt.Printf("Synced %d, failed %d, %d still pending\n",
			result.Synced, result.Failed, pending)
	},
}
