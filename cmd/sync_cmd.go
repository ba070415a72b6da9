package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trvdang/memex/internal/syncer"
	"github.com/trvdang/memex/internal/watch"
)

func syncCmd() *cobra.Command {
	var force bool
	var jsonOutput bool
	var watchMode bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Index all configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.close()

			eng.controller.SetProgress(func(done, total int, label string) {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "\r%s: %d/%d", label, done, total)
					if done == total {
						fmt.Fprintln(os.Stderr)
					}
				}
			})

			report, err := eng.controller.Sync(cmd.Context(), syncer.Options{Force: force})
			if err != nil {
				return err
			}
			printReport(report, jsonOutput)

			if watchMode || eng.cfg.Sync.Watch {
				return runWatch(cmd.Context(), eng)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "destructive full reindex")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&watchMode, "watch", false, "keep running and re-sync on changes")
	return cmd
}

// runWatch blocks, re-syncing after debounced filesystem changes until
// interrupted.
func runWatch(ctx context.Context, eng *engine) error {
	trigger := func() {
		report, err := eng.controller.Sync(context.Background(), syncer.Options{})
		if err != nil {
			slog.Error("watch sync failed", "error", err)
			return
		}
		slog.Info("watch sync", "indexed", report.Indexed, "deleted", report.Deleted)
	}

	w, err := watch.New(sourceRoots(eng.cfg), time.Duration(eng.cfg.Sync.DebounceMS)*time.Millisecond, trigger)
	if err != nil {
		return err
	}
	w.Start()
	defer w.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	return nil
}

func printReport(report syncer.Report, jsonOutput bool) {
	if jsonOutput {
		json.NewEncoder(os.Stdout).Encode(report)
		return
	}
	fmt.Printf("Sync (%s): %d indexed, %d unchanged, %d failed, %d removed\n",
		report.Mode, report.Indexed, report.Skipped, report.Failed, report.Deleted)
}
