package goble

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
	"github.com/srg/blelink/command"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/ringchan"
)

// txPowerUnknown is the TX power go-ble reports when the packet carries none.
const txPowerUnknown = 127

// advertisement is the part of ble.Advertisement a scan result is built from.
type advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []ble.ServiceData
	Services() []ble.UUID
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() ble.Addr
}

type scanRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartScan reports advertisements until StopScan is called or ctx ends.
func (r *Radio) StartScan(ctx context.Context, services []string) (<-chan device.ScanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanning != nil {
		return nil, device.ErrScanInProgress
	}

	scanCtx, cancel := context.WithCancel(ctx)
	run := &scanRun{cancel: cancel, done: make(chan struct{})}
	r.scanning = run
	out := ringchan.New[device.ScanResult](DefaultChannelBuffer)

	groutine.Go(scanCtx, "goble-scan", r.logger, func(ctx context.Context) {
		defer func() {
			out.Close()
			r.mu.Lock()
			if r.scanning == run {
				r.scanning = nil
			}
			r.mu.Unlock()
			close(run.done)
		}()

		err := r.scan(ctx, func(adv advertisement) {
			res := scanResult(adv)
			if matchesServices(res, services) {
				out.Send(res)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			r.logger.WithField("error", NormalizeError(err)).Warn("BLE scan failed")
		}
	})
	return out.C(), nil
}

// StopScan stops the running scan and waits for the stack to release it. It is a no-op without one.
func (r *Radio) StopScan(ctx context.Context) error {
	r.mu.Lock()
	run := r.scanning
	r.mu.Unlock()
	if run == nil {
		return nil
	}

	run.cancel()
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scanResult converts an advertisement, rebuilding its raw payload from the parsed fields.
func scanResult(adv advertisement) device.ScanResult {
	res := device.ScanResult{
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		ManufacturerData: adv.ManufacturerData(),
		Connectable:      adv.Connectable(),
	}
	if addr := adv.Addr(); addr != nil {
		res.Address = addr.String()
	}
	for _, u := range adv.Services() {
		res.Services = append(res.Services, device.ShortUUID(u.String()))
	}

	payload := command.Advertisement{
		Name:             res.Name,
		Services:         res.Services,
		ManufacturerData: res.ManufacturerData,
		Connectable:      res.Connectable,
	}
	if sd := adv.ServiceData(); len(sd) > 0 {
		payload.ServiceData = make(map[string][]byte, len(sd))
		for _, d := range sd {
			payload.ServiceData[device.ShortUUID(d.UUID.String())] = d.Data
		}
	}
	if tx := adv.TxPowerLevel(); tx != txPowerUnknown {
		payload.TxPower = &tx
	}
	res.Advertisement = command.EncodeAdvertisement(payload)
	return res
}

func matchesServices(res device.ScanResult, services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, want := range services {
		for _, have := range res.Services {
			if device.ShortUUID(want) == have {
				return true
			}
		}
	}
	return false
}
