// Package cli provides the command-line interface for ferry.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ferryhq/ferry/internal/config"
	"github.com/ferryhq/ferry/internal/logging"
	"github.com/ferryhq/ferry/internal/version"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	debug   bool

	// Global logger
	logger *logging.Logger

	// Loaded configuration
	cfg config.Config

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "ferry",
	Short: "Queue and track bulk uploads",
	Long: `ferry queues file and folder uploads, mirrors the upload engine's
status events, and estimates per-item throughput and time remaining
from periodic byte samples.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case debug:
			logging.SetGlobalLevel(zerolog.DebugLevel)
		case verbose:
			logging.SetGlobalLevel(zerolog.InfoLevel)
		default:
			logging.SetGlobalLevel(zerolog.WarnLevel)
		}
		logger = logging.NewDefaultLogger()

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug output")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newClassifyCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() int {
	rootContext, cancelFunc = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelFunc()

	if err := rootCmd.ExecuteContext(rootContext); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ferry %s (built %s)\n", version.Version, version.BuildTime)
		},
	}
}
