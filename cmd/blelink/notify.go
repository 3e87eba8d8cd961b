package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blelink/session"
)

type notifyFlags struct {
	hex      bool
	count    int
	duration time.Duration
	timeout  time.Duration
}

func newNotifyCmd(a *app) *cobra.Command {
	f := &notifyFlags{}
	cmd := &cobra.Command{
		Use:     "notify <device-address> <service-uuid> <char-uuid>",
		Aliases: []string{"subscribe"},
		Short:   "Stream characteristic notifications",
		Long: fmt.Sprintf(`Subscribes to characteristic notifications (or indications) and prints every value
received, until --count values arrived, --duration elapsed, the link is lost or Ctrl+C
is pressed.

Examples:
  # Heart Rate Measurement
  blelink notify %s 180d 2a37 --hex

  # First 10 values only
  blelink notify %s 180d 2a37 --hex --count 10`, exampleDeviceAddress, exampleDeviceAddress),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runNotify(cmd, args, f)
		},
	}

	cmd.Flags().BoolVar(&f.hex, "hex", false, "Output as hex string; raw bytes by default")
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "Stop after this many notifications (0 for no limit)")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long (0 for no limit)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Connection timeout (default from config, 15s)")
	return cmd
}

func (a *app) runNotify(cmd *cobra.Command, args []string, f *notifyFlags) error {
	target, err := parseTarget(args)
	if err != nil {
		return err
	}
	if f.count < 0 {
		return fmt.Errorf("invalid count %d: must not be negative", f.count)
	}
	cmd.SilenceUsage = true

	return a.withDevice(cmd.Context(), target.address, f.timeout, nil, func(ctx context.Context, s *session.Session) error {
		if f.duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.duration)
			defer cancel()
		}

		stream, err := s.StartNotification(ctx, target.service, target.characteristic)
		if err != nil {
			return err
		}
		listener := stream.Listen()
		defer listener.Close()
		defer func() {
			if err := s.StopNotification(context.Background(), target.service, target.characteristic); err != nil {
				a.logger.WithError(err).Warn("Failed to stop notifications")
			}
		}()

		label := color.New(color.FgCyan).Sprintf("[%s]", target.characteristic)
		fmt.Fprintf(cmd.ErrOrStderr(), "Listening for notifications on %s, press Ctrl+C to stop\n", target.characteristic)

		received := 0
		for {
			select {
			case <-ctx.Done():
				return notifyEnd(ctx)
			case v, ok := <-listener.C():
				if !ok {
					if ctx.Err() != nil {
						return notifyEnd(ctx)
					}
					return ErrConnectionLost
				}
				received++
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", label, formatValue(v, f.hex))
				if f.count > 0 && received >= f.count {
					a.logger.WithFields(logrus.Fields{
						"characteristic": target.characteristic,
						"received":       received,
						"dropped":        listener.Dropped(),
					}).Debug("Notification count reached")
					return nil
				}
			}
		}
	})
}

// notifyEnd treats the end of --duration as success and passes cancellation through.
func notifyEnd(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil
	}
	return ctx.Err()
}
