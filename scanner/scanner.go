// Package scanner coordinates BLE discovery scans on a single radio.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/ringchan"
)

const (
	// DefaultScanTimeout is used when a scan is started with a non-positive duration.
	DefaultScanTimeout = 10 * time.Second

	resultBuffer = 128
)

// Coordinator runs at most one scan at a time and always stops the radio scan when it ends.
type Coordinator struct {
	radio  device.Radio
	logger *logrus.Logger

	mu     sync.Mutex
	active *Scan
}

// Scan is one running discovery scan.
type Scan struct {
	coordinator *Coordinator
	results     *ringchan.RingChannel[device.ScanResult]
	devices     *hashmap.Map[string, device.ScanResult]
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewCoordinator creates a scan coordinator for radio.
func NewCoordinator(radio device.Radio, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{radio: radio, logger: logger}
}

// ScanWithTimeout starts a scan that ends after d, when ctx is cancelled, or when stopped.
// Only peripherals advertising one of services are reported when services are given.
// A second scan while one is running fails with device.ErrScanInProgress.
func (c *Coordinator) ScanWithTimeout(ctx context.Context, d time.Duration, services ...string) (*Scan, error) {
	if d <= 0 {
		d = DefaultScanTimeout
	}
	if len(services) > 0 {
		var err error
		if services, err = device.ValidateUUID(services...); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, device.ErrScanInProgress
	}

	scanCtx, cancel := context.WithTimeout(ctx, d)
	ch, err := c.radio.StartScan(scanCtx, services)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start scan: %w", device.ClassifyError(err))
	}
	if ch == nil {
		cancel()
		return nil, fmt.Errorf("start scan: radio returned no result stream")
	}

	s := &Scan{
		coordinator: c,
		results:     ringchan.New[device.ScanResult](resultBuffer),
		devices:     hashmap.New[string, device.ScanResult](),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	c.active = s

	c.logger.WithFields(logrus.Fields{
		"duration": d,
		"services": services,
	}).Info("Starting BLE scan...")

	groutine.Go(scanCtx, "scanner", c.logger, func(ctx context.Context) {
		s.pump(ctx, ch)
	})
	return s, nil
}

// ScanSpecificTarget scans until match accepts a result, and returns that result.
// It fails with device.ErrScanTimeout when nothing matched within timeout.
func (c *Coordinator) ScanSpecificTarget(ctx context.Context, match func(device.ScanResult) bool, timeout time.Duration) (device.ScanResult, error) {
	s, err := c.ScanWithTimeout(ctx, timeout)
	if err != nil {
		return device.ScanResult{}, err
	}
	defer s.Stop()

	for res := range s.Results() {
		if match(res) {
			c.logger.WithFields(logrus.Fields{
				"address": res.Address,
				"name":    res.Name,
			}).Debug("Scan target found")
			return res, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return device.ScanResult{}, err
	}
	return device.ScanResult{}, device.ErrScanTimeout
}

// StopScan stops the running scan, if any, and waits until the radio scan is stopped.
// Calling it without a running scan is a no-op.
func (c *Coordinator) StopScan(ctx context.Context) error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsScanning reports whether a scan is running.
func (c *Coordinator) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (s *Scan) pump(ctx context.Context, ch <-chan device.ScanResult) {
	defer s.finish()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-ch:
			if !ok {
				return
			}
			if _, seen := s.devices.Get(res.Address); !seen {
				s.coordinator.logger.WithFields(logrus.Fields{
					"device":  res.Name,
					"address": res.Address,
					"rssi":    res.RSSI,
				}).Info("Discovered new device")
			}
			s.devices.Set(res.Address, res)
			s.results.Send(res)
		}
	}
}

func (s *Scan) finish() {
	c := s.coordinator
	s.cancel()

	if err := c.radio.StopScan(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.WithError(err).Warn("Failed to stop radio scan")
	}

	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()

	c.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	s.results.Close()
	close(s.done)
}

// Results returns the scan results. The channel is closed when the scan ends; a consumer that
// falls behind loses the oldest results.
func (s *Scan) Results() <-chan device.ScanResult {
	return s.results.C()
}

// Done is closed once the scan has ended and the radio scan is stopped.
func (s *Scan) Done() <-chan struct{} {
	return s.done
}

// Stop ends the scan and waits for the radio scan to stop. It is safe to call more than once.
func (s *Scan) Stop() {
	s.cancel()
	<-s.done
}

// Devices returns the latest result seen for every address.
func (s *Scan) Devices() map[string]device.ScanResult {
	out := make(map[string]device.ScanResult, s.devices.Len())
	s.devices.Range(func(address string, res device.ScanResult) bool {
		out[address] = res
		return true
	})
	return out
}
