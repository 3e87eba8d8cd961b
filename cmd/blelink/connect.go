package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blelink/internal/bledb"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/session"
)

type connectFlags struct {
	timeout time.Duration
	format  string
	stay    bool
}

func newConnectCmd(a *app) *cobra.Command {
	f := &connectFlags{}
	cmd := &cobra.Command{
		Use:   "connect <device-address>",
		Short: "Connect to a device and list its services",
		Long: `Connects to a device, waits for service discovery and lists the discovered services
and characteristics.

With --stay the connection is kept open and state changes are reported until the link is
lost or Ctrl+C is pressed.

Examples:
  blelink connect AA:BB:CC:DD:EE:FF
  blelink connect AA:BB:CC:DD:EE:FF --format json
  blelink connect AA:BB:CC:DD:EE:FF --stay`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConnect(cmd, args[0], f)
		},
	}

	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Connection timeout (default from config, 15s)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format (table, json; default from config)")
	cmd.Flags().BoolVar(&f.stay, "stay", false, "Stay connected and report state changes")
	return cmd
}

func (a *app) runConnect(cmd *cobra.Command, address string, f *connectFlags) error {
	format := f.format
	if format == "" {
		format = a.cfg.OutputFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	cmd.SilenceUsage = true

	stderr := &lockedWriter{w: cmd.ErrOrStderr()}
	progress := NewProgressPrinter(stderr, fmt.Sprintf("Connecting to %s", address), "connecting",
		session.StateDiscovered.String(), session.StateClosed.String())
	progress.Start()
	defer progress.Stop()

	watch := func(st session.State) { progress.Callback()(st.String()) }

	return a.withDevice(cmd.Context(), address, f.timeout, watch, func(ctx context.Context, s *session.Session) error {
		progress.Stop()
		if err := displayServices(cmd.OutOrStdout(), s.Services(), format); err != nil {
			return err
		}
		if !f.stay {
			return nil
		}
		return followDevice(ctx, stderr, s)
	})
}

// followDevice reports published state changes until the device closes or ctx ends.
func followDevice(ctx context.Context, w io.Writer, s *session.Session) error {
	closed := make(chan struct{})
	markClosed := sync.OnceFunc(func() { close(closed) })
	cancel := s.OnStateChange(func(change session.StateChange) {
		fmt.Fprintf(w, "%s %s -> %s\n", s.Address(), change.From, stateColor(change.To).Sprint(change.To))
		if change.To == session.StateClosed {
			markClosed()
		}
	})
	defer cancel()

	// Closed may have been published before the observer was registered.
	if s.State() == session.StateClosed {
		return ErrConnectionLost
	}

	fmt.Fprintf(w, "Connected to %s, press Ctrl+C to disconnect\n", s.Address())
	select {
	case <-ctx.Done():
		return nil
	case <-closed:
		return ErrConnectionLost
	}
}

func stateColor(st session.State) *color.Color {
	switch st {
	case session.StateDiscovered:
		return color.New(color.FgGreen)
	case session.StateConnecting, session.StateConnected:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

type characteristicJSON struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

type serviceJSON struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Characteristics []characteristicJSON `json:"characteristics"`
}

func displayServices(w io.Writer, services []device.Service, format string) error {
	if format == "json" {
		out := make([]serviceJSON, 0, len(services))
		for _, svc := range services {
			sj := serviceJSON{
				UUID:            device.ShortUUID(svc.UUID),
				Name:            bledb.LookupService(svc.UUID),
				Characteristics: make([]characteristicJSON, 0, len(svc.Characteristics)),
			}
			for _, c := range svc.Characteristics {
				sj.Characteristics = append(sj.Characteristics, characteristicJSON{
					UUID:       device.ShortUUID(c.UUID),
					Name:       bledb.LookupCharacteristic(c.UUID),
					Properties: c.Properties,
				})
			}
			out = append(out, sj)
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	if len(services) == 0 {
		fmt.Fprintln(w, "No services discovered")
		return nil
	}

	heading := color.New(color.Bold)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, svc := range services {
		fmt.Fprintf(tw, "%s\t%s\n", heading.Sprintf("Service %s", device.ShortUUID(svc.UUID)), bledb.LookupService(svc.UUID))
		for _, c := range svc.Characteristics {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", device.ShortUUID(c.UUID), bledb.LookupCharacteristic(c.UUID), strings.Join(c.Properties, ","))
		}
	}
	return tw.Flush()
}
