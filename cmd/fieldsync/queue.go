package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the submission queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued items",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, q := openQueue(cfg, log.New(io.Discard, "", 0))
		defer func() { _ = st.Close() }()

		items, err := q.GetAll()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(items) == 0 {
			fmt.Println("Queue is empty")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tATTEMPTS\tCREATED\tERROR")
		for _, item := range items {
			errText := item.Error
			if len(errText) > 40 {
				errText = errText[:37] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				item.LocalID, item.Type, item.Status, item.Attempts,
				item.CreatedAt.Local().Format(time.RFC3339), errText)
		}
		_ = w.Flush()
	},
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the retry-eligible item count",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, q := openQueue(cfg, log.New(io.Discard, "", 0))
		defer func() { _ = st.Close() }()

		count, err := q.PendingCount(cfg.MaxAttempts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(count)
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset failed items so the next drain retries them",
	Long: `Reset items that exhausted their attempts back to pending with a
fresh attempt count. Use after fixing whatever made them fail.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := newLogger(cfg, "[queue] ")
		st, q := openQueue(cfg, logger)
		defer func() { _ = st.Close() }()

		n, err := q.RetryFailed()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Reset %d failed items\n", n)
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCountCmd)
	queueCmd.AddCommand(queueRetryCmd)
}
