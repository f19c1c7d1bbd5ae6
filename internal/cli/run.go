package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferryhq/ferry/internal/constants"
	"github.com/ferryhq/ferry/internal/engine"
	"github.com/ferryhq/ferry/internal/events"
	"github.com/ferryhq/ferry/internal/metrics"
	"github.com/ferryhq/ferry/internal/progress"
	"github.com/ferryhq/ferry/internal/queue"
	"github.com/ferryhq/ferry/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		destination   string
		maxConcurrent int
		throughputMB  int
		workerLabels  []string
		failSubstring string
	)

	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Queue the given paths and run a simulated upload",
		Long: `Queues the given paths, runs them through the simulated upload
engine, and renders live per-item progress with speed and ETA
estimates. Paths with an extension are treated as files, the rest
as folders with a synthesized file listing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if destination == "" {
				destination = cfg.Upload.Destination
			}
			if destination == "" {
				return errors.New("no destination: pass --destination or set upload.destination in the config")
			}
			if maxConcurrent == 0 {
				maxConcurrent = cfg.Upload.MaxConcurrent
			}
			if len(workerLabels) == 0 {
				workerLabels = cfg.Upload.WorkerLabels
			}

			bus := events.NewEventBus(constants.EventBusDefaultBuffer)
			defer bus.Close()

			q := queue.NewStore(bus)
			m := metrics.NewStore()

			eng := engine.NewSim(bus, logger, engine.SimConfig{
				MaxConcurrent: maxConcurrent,
				ChunkSize:     cfg.ChunkSize(),
				ThroughputBPS: int64(throughputMB) * 1024 * 1024,
				WorkerLabels:  workerLabels,
				FailSubstring: failSubstring,
			})

			sess := session.New(bus, q, m, eng, logger, cfg.TickInterval())

			added := sess.AddPaths(args)
			if len(added) == 0 {
				return errors.New("nothing to upload: all paths were empty or already queued")
			}
			logger.Info().Int("items", len(added)).Str("destination", destination).Msg("queue built")

			sess.Start()
			defer sess.Stop()

			if err := sess.StartUpload(cmd.Context(), destination); err != nil {
				return err
			}

			view := progress.NewQueueView(q, m)
			logger.SetOutput(view.Writer())

			var reporter *progress.Reporter
			if !view.IsTerminal() {
				reporter = progress.NewReporter()
				reporter.Start(totalBytes(q), "uploading")
			}

			refresh := time.NewTicker(cfg.TickInterval())
			defer refresh.Stop()

			for {
				select {
				case <-cmd.Context().Done():
					sess.CancelAll()
					if reporter != nil {
						reporter.Error(cmd.Context().Err())
					}
					return cmd.Context().Err()

				case <-refresh.C:
					view.Refresh()
					if reporter != nil {
						reporter.SetTotal(totalBytes(q))
						reporter.Update(sentBytes(q))
					}

				// The session signals completion only after it has applied
				// every final item status, so the closing Refresh leaves no
				// bar unfinished for Wait to block on.
				case summary := <-sess.Completed():
					view.Refresh()
					view.Wait()
					if reporter != nil {
						reporter.Finish()
					}
					printRunResult(q, summary)
					if summary.Failed > 0 {
						return fmt.Errorf("%d of %d item(s) failed", summary.Failed, summary.Total)
					}
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVarP(&destination, "destination", "d", "", "destination folder id")
	cmd.Flags().IntVar(&maxConcurrent, "workers", 0, "parallel upload workers (default from config)")
	cmd.Flags().IntVar(&throughputMB, "throughput-mb", 24, "simulated per-worker throughput in MiB/s (0 = unpaced)")
	cmd.Flags().StringSliceVar(&workerLabels, "labels", nil, "worker credential labels handed out round-robin")
	cmd.Flags().StringVar(&failSubstring, "fail-match", "", "simulate failure for items whose path contains this substring")

	return cmd
}

func totalBytes(q *queue.Store) int64 {
	var total int64
	for _, it := range q.Items() {
		total += it.TotalBytes
	}
	if total <= 0 {
		total = 1
	}
	return total
}

func sentBytes(q *queue.Store) int64 {
	var sent int64
	for _, it := range q.Items() {
		n := it.BytesSent
		if n > it.TotalBytes {
			n = it.TotalBytes
		}
		sent += n
	}
	return sent
}

func printRunResult(q *queue.Store, summary events.Summary) {
	fmt.Println()
	for _, it := range q.Items() {
		line := fmt.Sprintf("  %-9s %s", it.Status, it.SourcePath)
		if it.WorkerLabel != "" {
			line += fmt.Sprintf("  [%s]", it.WorkerLabel)
		}
		if it.Message != "" {
			line += fmt.Sprintf("  (%s)", it.Message)
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d item(s): %d succeeded, %d failed\n", summary.Total, summary.Succeeded, summary.Failed)
}
