package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ferryhq/ferry/internal/engine"
	"github.com/ferryhq/ferry/internal/events"
	"github.com/ferryhq/ferry/internal/queue"
)

func newClassifyCmd() *cobra.Command {
	var listFiles bool

	cmd := &cobra.Command{
		Use:   "classify [paths...]",
		Short: "Show how the engine classifies the given paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus := events.NewEventBus(0)
			defer bus.Close()
			eng := engine.NewSim(bus, logger, engine.SimConfig{})

			for _, c := range eng.Classify(args) {
				fmt.Printf("%-6s  %s\n", c.Kind, c.Path)
				if !listFiles || c.Kind != queue.KindFolder {
					continue
				}
				files, err := eng.ListFiles(c.Path, c.Kind)
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Printf("        %s  (%s)\n", f.FilePath, humanize.IBytes(uint64(f.TotalBytes)))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&listFiles, "list", "l", false, "also list the files of each folder")
	return cmd
}
