package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Every call returns fresh commands with their own flag state.
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "blelink",
		Short: "Bluetooth Low Energy device session tool",
		Long: `Bluetooth Low Energy (BLE) command-line tool built around managed device sessions:

- Scan for nearby devices, optionally waiting for one specific device
- Connect and list discovered GATT services and characteristics
- Read and write characteristics, with binary payloads built from a compact text form
- Stream notifications, or send a request and wait for the notified reply

Settings can be loaded from a YAML config file; command-line flags take precedence.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", os.Getenv("BLELINK_CONFIG"), "Path to a YAML config file (env BLELINK_CONFIG)")
	flags.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	flags.Bool("verbose", false, "Enable debug logging")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(
		newScanCmd(a),
		newConnectCmd(a),
		newReadCmd(a),
		newWriteCmd(a),
		newNotifyCmd(a),
		newRequestCmd(a),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
