// Package registry tracks the live device sessions of one radio and makes sure there is at most
// one session, and at most one connection attempt, per address.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/broadcast"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/singleflight"
)

// Device is what the registry needs from a session. *session.Session satisfies it, and so
// does any caller type embedding *session.Session.
type Device interface {
	Address() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	WatchState(fn func(session.State)) (cancel func())
}

// Factory builds the device for an address that has no live session yet.
type Factory func(radio device.Radio, address, name string) Device

// DefaultFactory builds plain sessions.
func DefaultFactory(logger *logrus.Logger, opts *session.Options) Factory {
	return func(radio device.Radio, address, name string) Device {
		return session.New(radio, address, name, logger, opts)
	}
}

// Registry maps addresses to live devices. Addresses are keyed by device.AddressKey, so
// "AA:BB:..." and "aa:bb:..." share one device.
type Registry struct {
	radio  device.Radio
	logger *logrus.Logger

	mu      sync.Mutex
	devices *orderedmap.OrderedMap[string, Device]
	cancels map[string]func()

	pending  singleflight.Group
	watchers *broadcast.Broadcaster[[]Device]
}

// New creates an empty registry for radio.
func New(radio device.Radio, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		radio:   radio,
		logger:  logger,
		devices: orderedmap.New[string, Device](),
		cancels: make(map[string]func()),
		watchers: broadcast.NewReplay[[]Device]([]Device{}, func(r any) {
			logger.WithField("panic", r).Error("Device list observer panicked")
		}),
	}
}

// Connect returns the live device for address, connecting a new one built by factory when there
// is none. Concurrent calls for the same address share one attempt and get the same device.
// A nil factory uses DefaultFactory with default options.
func (r *Registry) Connect(ctx context.Context, address, name string, factory Factory) (Device, error) {
	if dev, ok := r.Device(address); ok {
		r.logger.WithField("address", address).Debug("Device already connected")
		return dev, nil
	}
	if factory == nil {
		factory = DefaultFactory(r.logger, nil)
	}
	return r.connect(ctx, address, func() Device {
		return factory(r.radio, address, name)
	})
}

// ConnectDevice connects dev and registers it under its address, unless another device is already
// live or connecting for that address, in which case that one is returned.
func (r *Registry) ConnectDevice(ctx context.Context, dev Device) (Device, error) {
	if live, ok := r.Device(dev.Address()); ok {
		return live, nil
	}
	return r.connect(ctx, dev.Address(), func() Device { return dev })
}

// connect runs build and Connect once per address at a time. Callers arriving while an attempt is
// in flight wait for its outcome; each stops waiting when its own ctx ends, but only the caller
// that started the attempt can cancel it.
func (r *Registry) connect(ctx context.Context, address string, build func() Device) (Device, error) {
	ch := r.pending.DoChan(device.AddressKey(address), func() (any, error) {
		// A previous attempt may have registered the device between our lookup and this call.
		if dev, ok := r.Device(address); ok {
			return dev, nil
		}

		dev := build()
		r.logger.WithField("address", address).Info("Connecting device")
		if err := dev.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect %s: %w", address, err)
		}
		r.register(address, dev)
		return dev, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.WithField("address", address).Debug("Joined pending connection attempt")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Device), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) register(address string, dev Device) {
	address = device.AddressKey(address)
	r.mu.Lock()
	r.devices.Set(address, dev)
	r.publishLocked()
	r.mu.Unlock()

	cancel := dev.WatchState(func(st session.State) {
		if st == session.StateClosed {
			r.deregister(address, dev)
		}
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.devices.Get(address); ok && cur == dev {
		r.cancels[address] = cancel
		return
	}
	// Already deregistered while the watcher was being installed.
	cancel()
}

// deregister removes dev if it is still the device registered for address.
func (r *Registry) deregister(address string, dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.devices.Get(address)
	if !ok || cur != dev {
		return
	}
	r.devices.Delete(address)
	if cancel, ok := r.cancels[address]; ok {
		delete(r.cancels, address)
		cancel()
	}
	r.publishLocked()
	r.logger.WithField("address", address).Info("Device removed from registry")
}

// Disconnect disconnects the device registered for address and removes it. Unknown addresses
// and devices that are already disconnected are not an error.
func (r *Registry) Disconnect(ctx context.Context, address string) error {
	dev, ok := r.Device(address)
	if !ok {
		return nil
	}

	if err := dev.Disconnect(ctx); err != nil {
		if !device.IsDisconnected(err) {
			return fmt.Errorf("disconnect %s: %w", address, err)
		}
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Warn("Device was already disconnected")
	}

	r.deregister(device.AddressKey(address), dev)
	return nil
}

// Device returns the live device registered for address.
func (r *Registry) Device(address string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Get(device.AddressKey(address))
}

// Devices returns the live devices in registration order.
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// WatchDevices registers fn for the device list: the current list first, then the new list after
// every registration and removal.
func (r *Registry) WatchDevices(fn func([]Device)) (cancel func()) {
	return r.watchers.Subscribe(fn)
}

func (r *Registry) snapshotLocked() []Device {
	out := make([]Device, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (r *Registry) publishLocked() {
	r.watchers.Publish(r.snapshotLocked())
}
