// Package goble implements device.Radio on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/ringchan"
)

const (
	// DefaultChannelBuffer is the default buffer size for notification and scan channels
	DefaultChannelBuffer = 128

	eventBuffer = 8
)

// gattClient is the part of ble.Client the radio drives.
type gattClient interface {
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ClearSubscriptions() error
	CancelConnection() error
}

// disconnectNotifier is implemented by clients that report link loss (CoreBluetooth does).
type disconnectNotifier interface {
	Disconnected() <-chan struct{}
}

type dialFunc func(ctx context.Context, address string) (gattClient, error)

type scanFunc func(ctx context.Context, handler func(advertisement)) error

// Radio is a device.Radio backed by the host BLE adapter.
type Radio struct {
	logger *logrus.Logger
	dial   dialFunc
	scan   scanFunc

	devOnce sync.Once
	dev     ble.Device
	devErr  error

	mu       sync.Mutex
	links    map[string]*link
	scanning *scanRun
}

// link is the radio-side state of one peripheral connection.
type link struct {
	address string
	client  gattClient
	profile *ble.Profile
	events  *ringchan.RingChannel[device.ConnectionEvent]
	subs    map[string]*subscription
	done    chan struct{}
}

type subscription struct {
	char     *ble.Characteristic
	indicate bool
	out      *ringchan.RingChannel[[]byte]
}

// NewRadio creates a radio that opens the host adapter through DeviceFactory on first use.
func NewRadio(logger *logrus.Logger) *Radio {
	r := newRadio(logger, nil, nil)
	r.dial = r.deviceDial
	r.scan = r.deviceScan
	return r
}

func newRadio(logger *logrus.Logger, dial dialFunc, scan scanFunc) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		logger: logger,
		dial:   dial,
		scan:   scan,
		links:  make(map[string]*link),
	}
}

func (r *Radio) device() (ble.Device, error) {
	r.devOnce.Do(func() {
		r.dev, r.devErr = DeviceFactory()
		if r.devErr != nil {
			r.logger.WithField("error", r.devErr).Error("Failed to create BLE device")
			r.devErr = fmt.Errorf("failed to create BLE device: %w", NormalizeError(r.devErr))
		}
	})
	return r.dev, r.devErr
}

func (r *Radio) deviceDial(ctx context.Context, address string) (gattClient, error) {
	dev, err := r.device()
	if err != nil {
		return nil, err
	}
	return dev.Dial(ctx, ble.NewAddr(address))
}

func (r *Radio) deviceScan(ctx context.Context, handler func(advertisement)) error {
	dev, err := r.device()
	if err != nil {
		return err
	}
	return dev.Scan(ctx, true, func(adv ble.Advertisement) { handler(adv) })
}

// Connect starts dialing address. The returned channel reports the outcome and, later, link loss.
// Links are keyed by device.AddressKey, so address case does not matter.
func (r *Radio) Connect(ctx context.Context, address string) (<-chan device.ConnectionEvent, error) {
	address = device.AddressKey(address)
	r.mu.Lock()
	if _, ok := r.links[address]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("connect %s: %w", address, device.ErrPreviouslyConnected)
	}
	l := &link{
		address: address,
		events:  ringchan.New[device.ConnectionEvent](eventBuffer),
		subs:    make(map[string]*subscription),
		done:    make(chan struct{}),
	}
	r.links[address] = l
	r.mu.Unlock()

	r.logger.WithField("address", address).Info("Connecting to BLE device...")
	groutine.Go(ctx, "goble-dial", r.logger, func(ctx context.Context) {
		r.dialLink(ctx, l)
	})
	return l.events.C(), nil
}

func (r *Radio) dialLink(ctx context.Context, l *link) {
	client, err := r.dial(ctx, l.address)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"address": l.address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		l.events.Send(device.ConnectionEvent{Err: NormalizeError(err)})
		r.release(l)
		return
	}

	r.mu.Lock()
	if r.links[l.address] != l {
		// Closed while dialing.
		r.mu.Unlock()
		_ = client.CancelConnection()
		return
	}
	l.client = client
	r.mu.Unlock()

	r.logger.WithField("address", l.address).Info("BLE device connected successfully")
	l.events.Send(device.ConnectionEvent{Name: client.Name(), Status: device.StatusConnected})

	dn, ok := client.(disconnectNotifier)
	if !ok {
		r.logger.Debug("Client does not support Disconnected() channel (non-Darwin platform?)")
		return
	}
	select {
	case <-dn.Disconnected():
		r.logger.WithField("address", l.address).Warn("BLE stack reported disconnection")
		l.events.Send(device.ConnectionEvent{Status: device.StatusDisconnected})
	case <-l.done:
	}
}

// Disconnect asks the stack to drop the link. The disconnection is reported on the Connect channel.
func (r *Radio) Disconnect(ctx context.Context, address string) error {
	l, client, err := r.client("disconnect", address)
	if err != nil {
		return err
	}

	if _, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, client.CancelConnection()
	}); err != nil {
		return fmt.Errorf("disconnect %s: %w", address, err)
	}

	if _, ok := client.(disconnectNotifier); !ok {
		l.events.Send(device.ConnectionEvent{Status: device.StatusDisconnected})
	}
	r.logger.WithField("address", address).Info("BLE device disconnected successfully")
	return nil
}

// Close releases everything held for address. Closing an unknown address is a no-op.
func (r *Radio) Close(ctx context.Context, address string) error {
	address = device.AddressKey(address)
	r.mu.Lock()
	l, ok := r.links[address]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	client := r.release(l)
	if client == nil {
		return nil
	}
	if _, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, client.ClearSubscriptions()
	}); err != nil && !device.IsDisconnected(err) {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Warn("Failed to clear subscriptions during close")
	}
	if err := NormalizeError(client.CancelConnection()); err != nil && !device.IsDisconnected(err) {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Debug("Cancel connection during close failed")
	}
	return nil
}

// release forgets l, ends its streams and returns its client, if any.
func (r *Radio) release(l *link) gattClient {
	r.mu.Lock()
	if r.links[l.address] != l {
		r.mu.Unlock()
		return nil
	}
	delete(r.links, l.address)
	client := l.client
	subs := l.subs
	l.subs = make(map[string]*subscription)
	r.mu.Unlock()

	close(l.done)
	for _, sub := range subs {
		sub.out.Close()
	}
	l.events.Close()
	return client
}

// client returns the connected client for address.
func (r *Radio) client(op, address string) (*link, gattClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[device.AddressKey(address)]
	if !ok || l.client == nil {
		return nil, nil, fmt.Errorf("%s %s: %w", op, address, device.ErrNotConnected)
	}
	return l, l.client, nil
}

// withContext runs a blocking go-ble call and stops waiting for it when ctx ends.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, err := fn()
		resultCh <- result{v: v, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.v, NormalizeError(res.err)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

var _ device.Radio = (*Radio)(nil)
