//go:build test

package main

import (
	"testing"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ScanCommandSuite struct {
	CommandTestSuite
}

func (s *ScanCommandSuite) SetupTest() {
	s.WithRadio().
		WithAdvertisement(device.ScanResult{
			Address:       "11:22:33:44:55:66",
			Name:          "Thermo",
			RSSI:          -40,
			Services:      []string{"180f"},
			Connectable:   true,
			Advertisement: []byte{0x02, 0x01, 0x06},
		}).
		WithAdvertisement(device.ScanResult{
			Address: "AA:00:00:00:00:02",
			RSSI:    -85,
		})
	s.CommandTestSuite.SetupTest()
}

func (s *ScanCommandSuite) TestScanPrintsTableByRSSI() {
	// GOAL: Verify a timed scan lists every device, strongest signal first, with known service names
	//
	// TEST SCENARIO: Scan for the configured 100ms → table printed → scan stopped once

	stdout, _, err := s.ExecuteCommand("scan")
	s.Require().NoError(err)

	testutils.NewOutputAsserter(s.T()).AssertText(stdout, `
NAME       ADDRESS            RSSI     SERVICES
Thermo     11:22:33:44:55:66  -40 dBm  Battery Service
(unknown)  AA:00:00:00:00:02  -85 dBm
`)
	s.Equal(1, s.Radio.Calls("scan"))
	s.Equal(1, s.Radio.Calls("stopscan"), "scan MUST be stopped exactly once")
}

func (s *ScanCommandSuite) TestScanJSON() {
	// GOAL: Verify JSON output carries the advertisement payload as hex
	//
	// TEST SCENARIO: Scan with -f json → JSON array in RSSI order

	stdout, _, err := s.ExecuteCommand("scan", "-f", "json", "-d", "50ms")
	s.Require().NoError(err)

	testutils.NewOutputAsserter(s.T()).AssertJSON(stdout, `[
		{
			"address": "11:22:33:44:55:66",
			"name": "Thermo",
			"rssi": -40,
			"connectable": true,
			"services": ["180f"],
			"advertisement": "020106"
		},
		{
			"address": "AA:00:00:00:00:02",
			"rssi": -85,
			"connectable": false
		}
	]`)
}

func (s *ScanCommandSuite) TestScanServiceFilter() {
	// GOAL: Verify the service filter is passed to the radio in any accepted UUID form
	//
	// TEST SCENARIO: Scan for 0x180F → only the battery device listed

	stdout, _, err := s.ExecuteCommand("scan", "-s", "0x180F")
	s.Require().NoError(err)

	s.Contains(stdout, "Thermo")
	s.NotContains(stdout, "AA:00:00:00:00:02")
}

func (s *ScanCommandSuite) TestScanEmpty() {
	stdout, _, err := s.ExecuteCommand("scan", "-s", "180d")
	s.Require().NoError(err)
	s.Equal("No devices discovered\n", stdout)
}

func (s *ScanCommandSuite) TestScanTarget() {
	// GOAL: Verify --target stops at the first matching device
	//
	// TEST SCENARIO: Target by name, case-insensitively → single result printed

	stdout, _, err := s.ExecuteCommand("scan", "--target", "thermo", "-f", "json", "-d", "2s")
	s.Require().NoError(err)

	testutils.NewOutputAsserter(s.T()).AssertJSON(stdout, `[{"address": "11:22:33:44:55:66", "name": "Thermo"}]`)
}

func (s *ScanCommandSuite) TestScanTargetNotFound() {
	// GOAL: Verify a missing target fails with the scan timeout error
	//
	// TEST SCENARIO: Target an unknown address → scan times out → user message explains it

	_, _, err := s.ExecuteCommand("scan", "--target", "00:00:00:00:00:00")
	s.Require().ErrorIs(err, device.ErrScanTimeout)
	s.Contains(FormatUserError(err), "device not found")
}

func (s *ScanCommandSuite) TestScanRejectsInvalidArguments() {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown format", args: []string{"scan", "-f", "xml"}, wantErr: "invalid format 'xml'"},
		{name: "malformed service", args: []string{"scan", "-s", "zz"}, wantErr: "invalid service UUID"},
		{name: "positional arguments", args: []string{"scan", "extra"}, wantErr: "unknown command"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, _, err := s.ExecuteCommand(tt.args...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.wantErr)
		})
	}
	s.Equal(0, s.Radio.Calls("scan"), "invalid arguments MUST NOT start a scan")
}

func TestScanCommandSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandSuite))
}
