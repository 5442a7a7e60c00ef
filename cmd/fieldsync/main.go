// fieldsync is the offline submission sync pipeline for field health
// reporting. It keeps user submissions in a durable local queue and
// drains them to the hosted backend whenever connectivity allows.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/afyawatch/fieldsync/internal/config"
	"github.com/afyawatch/fieldsync/internal/queue"
	"github.com/afyawatch/fieldsync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline submission sync for field health reporting",
	Long: `fieldsync queues field reports locally while offline and drains
them to the backend once connectivity is restored.

Reports are delivered with a client-chosen idempotency key, so retries
and impatient double-submits collapse to a single remote row.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: fieldsync.yaml, ~/.config/fieldsync/fieldsync.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig loads configuration or exits with a message.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openQueue opens the durable store and queue. The caller must close
// the returned store.
func openQueue(cfg *config.Config, logger *log.Logger) (*store.Store, *queue.Queue) {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening queue store: %v\n", err)
		os.Exit(1)
	}
	return st, queue.New(st, logger)
}

// newLogger builds the process logger. With a log file configured, the
// output rotates via lumberjack; otherwise it goes to stderr.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}
