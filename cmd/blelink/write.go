package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blelink/command"
	"github.com/srg/blelink/session"
)

const payloadHelp = `Payloads are comma-separated kind:value items encoded in order:
  u8, i8                  1-byte integers
  u16le, i16le, u16be     2-byte integers
  u32le, i32le, u32be     4-byte integers
  f32le                   IEEE-754 single precision, little-endian
  hex                     raw bytes, e.g. hex:0a0b

  u8:1,u16le:256,hex:ff  ->  01 00 01 ff`

// parsePayload encodes the payload argument.
func parsePayload(text string) ([]byte, error) {
	data, err := command.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return data, nil
}

type writeFlags struct {
	withoutResponse bool
	timeout         time.Duration
}

func newWriteCmd(a *app) *cobra.Command {
	f := &writeFlags{}
	cmd := &cobra.Command{
		Use:   "write <device-address> <service-uuid> <char-uuid> <payload>",
		Short: "Write a characteristic value",
		Long: fmt.Sprintf(`Connects to a device and writes a payload to a characteristic.

%s

Examples:
  # Alert level "high"
  blelink write %s 1802 2a06 u8:2

  # Write without response (faster, no ACK)
  blelink write %s ffe0 ffe1 hex:a5010203 --without-response`, payloadHelp, exampleDeviceAddress, exampleDeviceAddress),
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWrite(cmd, args, f)
		},
	}

	cmd.Flags().BoolVar(&f.withoutResponse, "without-response", false, "Write without response (faster, no ACK)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Connection timeout (default from config, 15s)")
	return cmd
}

func (a *app) runWrite(cmd *cobra.Command, args []string, f *writeFlags) error {
	target, err := parseTarget(args[:3])
	if err != nil {
		return err
	}
	data, err := parsePayload(args[3])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return a.withDevice(cmd.Context(), target.address, f.timeout, nil, func(ctx context.Context, s *session.Session) error {
		write := s.Write
		if f.withoutResponse {
			write = s.WriteWithoutResponse
		}
		if err := write(ctx, target.service, target.characteristic, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), target.characteristic)
		return nil
	})
}

type requestFlags struct {
	withoutResponse bool
	hex             bool
	timeout         time.Duration
	replyTimeout    time.Duration
}

func newRequestCmd(a *app) *cobra.Command {
	f := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "request <device-address> <service-uuid> <char-uuid> <payload>",
		Short: "Write a payload and print the notified reply",
		Long: fmt.Sprintf(`Subscribes to a characteristic, writes a payload to it and prints the next notification
as the reply. Any notification arriving after the write counts as the reply.

%s

Examples:
  blelink request %s ffe0 ffe1 u8:1,u16le:300 --hex`, payloadHelp, exampleDeviceAddress),
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRequest(cmd, args, f)
		},
	}

	cmd.Flags().BoolVar(&f.withoutResponse, "without-response", false, "Write without response (faster, no ACK)")
	cmd.Flags().BoolVar(&f.hex, "hex", false, "Output as hex string; raw bytes by default")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Connection timeout (default from config, 15s)")
	cmd.Flags().DurationVar(&f.replyTimeout, "reply-timeout", 5*time.Second, "Time to wait for the reply")
	return cmd
}

func (a *app) runRequest(cmd *cobra.Command, args []string, f *requestFlags) error {
	target, err := parseTarget(args[:3])
	if err != nil {
		return err
	}
	data, err := parsePayload(args[3])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return a.withDevice(cmd.Context(), target.address, f.timeout, nil, func(ctx context.Context, s *session.Session) error {
		replyCtx, cancel := context.WithTimeout(ctx, f.replyTimeout)
		defer cancel()

		reply, err := s.WriteForData(replyCtx, target.service, target.characteristic, data, f.withoutResponse)
		if err != nil {
			return fmt.Errorf("request %s: %w", target.characteristic, err)
		}
		return printValue(cmd.OutOrStdout(), reply, f.hex)
	})
}
