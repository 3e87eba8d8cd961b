package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/session"
)

// exampleDeviceAddress is the address used in command examples.
const exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"

// gattTarget is the characteristic a command operates on.
type gattTarget struct {
	address        string
	service        string
	characteristic string
}

// parseTarget validates the <device-address> <service> <characteristic> arguments. UUIDs are
// kept in their shortest form, so SIG base UUIDs become 16-bit ones.
func parseTarget(args []string) (gattTarget, error) {
	uuids, err := device.ValidateUUID(args[1], args[2])
	if err != nil {
		return gattTarget{}, fmt.Errorf("invalid UUID: %w", err)
	}
	return gattTarget{
		address:        args[0],
		service:        device.ShortUUID(uuids[0]),
		characteristic: device.ShortUUID(uuids[1]),
	}, nil
}

// formatValue renders a characteristic value as raw bytes or as a hex string.
func formatValue(data []byte, asHex bool) string {
	if asHex {
		return hex.EncodeToString(data)
	}
	return string(data)
}

type readFlags struct {
	hex     bool
	timeout time.Duration
}

func newReadCmd(a *app) *cobra.Command {
	f := &readFlags{}
	cmd := &cobra.Command{
		Use:   "read <device-address> <service-uuid> <char-uuid>",
		Short: "Read a characteristic value",
		Long: fmt.Sprintf(`Connects to a device, reads a characteristic and prints its value.

Examples:
  # Read Battery Level
  blelink read %s 180f 2a19 --hex`, exampleDeviceAddress),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRead(cmd, args, f)
		},
	}

	cmd.Flags().BoolVar(&f.hex, "hex", false, "Output as hex string; raw bytes by default")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Connection timeout (default from config, 15s)")
	return cmd
}

func (a *app) runRead(cmd *cobra.Command, args []string, f *readFlags) error {
	target, err := parseTarget(args)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return a.withDevice(cmd.Context(), target.address, f.timeout, nil, func(ctx context.Context, s *session.Session) error {
		data, err := s.Read(ctx, target.service, target.characteristic)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), data, f.hex)
	})
}

func printValue(w io.Writer, data []byte, asHex bool) error {
	_, err := fmt.Fprintln(w, formatValue(data, asHex))
	return err
}
