package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blelink/internal/bledb"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/scanner"
)

type scanFlags struct {
	duration time.Duration
	format   string
	services []string
	target   string
}

func newScanCmd(a *app) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Only one scan runs at a time. With --target the scan stops at the first device whose
address or name matches, and fails if none shows up before the scan times out.

Examples:
  # Scan for 5 seconds
  blelink scan -d 5s

  # Only devices advertising the Heart Rate service, as JSON
  blelink scan -s 180d -f json

  # Wait for a specific device
  blelink scan --target "Polar H10"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runScan(cmd, f)
		},
	}

	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format (table, json; default from config)")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Filter by advertised service UUIDs")
	cmd.Flags().StringVar(&f.target, "target", "", "Stop at the first device with this address or name")
	return cmd
}

func (a *app) runScan(cmd *cobra.Command, f *scanFlags) error {
	format := f.format
	if format == "" {
		format = a.cfg.OutputFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	duration := f.duration
	if duration <= 0 {
		duration = a.cfg.ScanTimeout
	}

	var services []string
	if len(f.services) > 0 {
		var err error
		if services, err = device.ValidateUUID(f.services...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	coordinator := scanner.NewCoordinator(a.getRadio(), a.logger)
	stderr := &lockedWriter{w: cmd.ErrOrStderr()}

	progress := NewCountdownProgressPrinter(stderr, "Scanning for BLE devices", "scanning", duration)
	progress.Start()
	defer progress.Stop()

	if f.target != "" {
		match := targetMatcher(f.target, services)
		res, err := coordinator.ScanSpecificTarget(ctx, match, duration)
		progress.Stop()
		if err != nil {
			return err
		}
		return displayScanResults(cmd.OutOrStdout(), []device.ScanResult{res}, format)
	}

	scan, err := coordinator.ScanWithTimeout(ctx, duration, services...)
	if err != nil {
		return err
	}
	<-scan.Done()
	progress.Stop()

	if err := ctx.Err(); err != nil {
		return err
	}
	return displayScanResults(cmd.OutOrStdout(), sortedResults(scan.Devices()), format)
}

// targetMatcher matches a device by address or by name, case-insensitively, that also
// advertises every one of services.
func targetMatcher(target string, services []string) func(device.ScanResult) bool {
	return func(res device.ScanResult) bool {
		if !strings.EqualFold(res.Address, target) && !strings.EqualFold(res.Name, target) {
			return false
		}
		for _, want := range services {
			found := false
			for _, have := range res.Services {
				if device.ShortUUID(want) == device.ShortUUID(have) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}

// sortedResults orders devices by signal strength, strongest first, then by address.
func sortedResults(devices map[string]device.ScanResult) []device.ScanResult {
	list := make([]device.ScanResult, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})
	return list
}

type scanResultJSON struct {
	Address       string   `json:"address"`
	Name          string   `json:"name,omitempty"`
	RSSI          int      `json:"rssi"`
	Connectable   bool     `json:"connectable"`
	Services      []string `json:"services,omitempty"`
	Advertisement string   `json:"advertisement,omitempty"`
}

func displayScanResults(w io.Writer, results []device.ScanResult, format string) error {
	if format == "json" {
		out := make([]scanResultJSON, 0, len(results))
		for _, r := range results {
			out = append(out, scanResultJSON{
				Address:       r.Address,
				Name:          r.Name,
				RSSI:          r.RSSI,
				Connectable:   r.Connectable,
				Services:      r.Services,
				Advertisement: hex.EncodeToString(r.Advertisement),
			})
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES")
	for _, r := range results {
		name := r.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := make([]string, 0, len(r.Services))
		for _, s := range r.Services {
			if known := bledb.LookupService(s); known != "" {
				s = known
			}
			services = append(services, s)
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, r.Address, rssiColor(r.RSSI).Sprintf("%d dBm", r.RSSI), strings.Join(services, ", "))
	}
	return tw.Flush()
}

// rssiColor grades the signal strength.
func rssiColor(rssi int) *color.Color {
	switch {
	case rssi >= -60:
		return color.New(color.FgGreen)
	case rssi >= -80:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
