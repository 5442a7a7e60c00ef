package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/afyawatch/fieldsync/internal/engine"
	"github.com/afyawatch/fieldsync/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and drain status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, q := openQueue(cfg, log.New(io.Discard, "", 0))
		defer func() { _ = st.Close() }()

		items, err := q.GetAll()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		byStatus := make(map[queue.Status]int)
		for _, item := range items {
			byStatus[item.Status]++
		}

		fmt.Printf("Database: %s\n", cfg.DBPath())
		fmt.Printf("Queue:    %d items (%d pending, %d syncing, %d failed)\n",
			len(items), byStatus[queue.StatusPending],
			byStatus[queue.StatusSyncing], byStatus[queue.StatusFailed])

		entries, err := engine.NewJournal(st, 50).Entries()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading drain history: %v\n", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			fmt.Println("Drains:   none recorded")
			return
		}

		last := entries[len(entries)-1]
		fmt.Printf("Drains:   %d recorded, last at %s (%s): %d synced, %d failed in %v\n",
			len(entries), last.StartedAt.Local().Format(time.RFC3339),
			last.Trigger, last.Synced, last.Failed, last.Duration.Round(time.Millisecond))
	},
}
