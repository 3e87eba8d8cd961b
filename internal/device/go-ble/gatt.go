package goble

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/ringchan"
)

// propertyNames lists the names of the property bits set in p, in bit order.
var propertyNames = []struct {
	bit  ble.Property
	name string
}{
	{ble.CharBroadcast, "broadcast"},
	{ble.CharRead, "read"},
	{ble.CharWriteNR, "write-without-response"},
	{ble.CharWrite, "write"},
	{ble.CharNotify, "notify"},
	{ble.CharIndicate, "indicate"},
	{ble.CharSignedWrite, "signed-write"},
	{ble.CharExtended, "extended"},
}

// Properties returns the names of the property flags set in p.
func Properties(p ble.Property) []string {
	var out []string
	for _, prop := range propertyNames {
		if p&prop.bit != 0 {
			out = append(out, prop.name)
		}
	}
	return out
}

// Discover runs full GATT discovery and keeps the profile for later lookups.
func (r *Radio) Discover(ctx context.Context, address string) ([]device.Service, error) {
	l, client, err := r.client("discover", address)
	if err != nil {
		return nil, err
	}

	r.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := withContext(ctx, func() (*ble.Profile, error) {
		return client.DiscoverProfile(true)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	r.mu.Lock()
	l.profile = profile
	r.mu.Unlock()

	services := servicesFromProfile(profile)
	r.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(services),
	}).Debug("Profile discovered successfully")
	return services, nil
}

// servicesFromProfile converts a go-ble profile, sorted by UUID for consistent ordering.
func servicesFromProfile(profile *ble.Profile) []device.Service {
	if profile == nil {
		return nil
	}
	services := make([]device.Service, 0, len(profile.Services))
	for _, s := range profile.Services {
		svc := device.Service{UUID: device.ShortUUID(s.UUID.String())}
		for _, c := range s.Characteristics {
			svc.Characteristics = append(svc.Characteristics, device.Characteristic{
				UUID:       device.ShortUUID(c.UUID.String()),
				Properties: Properties(c.Property),
			})
		}
		sort.Slice(svc.Characteristics, func(i, j int) bool {
			return svc.Characteristics[i].UUID < svc.Characteristics[j].UUID
		})
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].UUID < services[j].UUID
	})
	return services
}

// findCharacteristic looks up a characteristic in a discovered profile.
func findCharacteristic(profile *ble.Profile, service, characteristic string) (*ble.Characteristic, error) {
	wantSvc := device.ShortUUID(service)
	wantChar := device.ShortUUID(characteristic)
	if profile != nil {
		for _, s := range profile.Services {
			if device.ShortUUID(s.UUID.String()) != wantSvc {
				continue
			}
			for _, c := range s.Characteristics {
				if device.ShortUUID(c.UUID.String()) == wantChar {
					return c, nil
				}
			}
			return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

func (r *Radio) characteristic(op, address, service, characteristic string) (*link, gattClient, *ble.Characteristic, error) {
	l, client, err := r.client(op, address)
	if err != nil {
		return nil, nil, nil, err
	}
	r.mu.Lock()
	profile := l.profile
	r.mu.Unlock()

	char, err := findCharacteristic(profile, service, characteristic)
	if err != nil {
		return nil, nil, nil, err
	}
	return l, client, char, nil
}

// Read reads a characteristic value.
func (r *Radio) Read(ctx context.Context, address, service, characteristic string) ([]byte, error) {
	_, client, char, err := r.characteristic("read", address, service, characteristic)
	if err != nil {
		return nil, err
	}
	data, err := withContext(ctx, func() ([]byte, error) {
		return client.ReadCharacteristic(char)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", characteristic, err)
	}
	return data, nil
}

// Write writes a characteristic value, with or without a response from the peripheral.
func (r *Radio) Write(ctx context.Context, address, service, characteristic string, data []byte, withoutResponse bool) error {
	_, client, char, err := r.characteristic("write", address, service, characteristic)
	if err != nil {
		return err
	}
	if _, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, client.WriteCharacteristic(char, data, withoutResponse)
	}); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", characteristic, err)
	}
	return nil
}

// Subscribe enables notifications, or indications when the characteristic only indicates.
// Subscribing twice returns the existing stream.
func (r *Radio) Subscribe(ctx context.Context, address, service, characteristic string) (<-chan []byte, error) {
	l, client, char, err := r.characteristic("subscribe", address, service, characteristic)
	if err != nil {
		return nil, err
	}
	key := subscriptionKey(service, characteristic)

	r.mu.Lock()
	if sub, ok := l.subs[key]; ok {
		r.mu.Unlock()
		return sub.out.C(), nil
	}
	r.mu.Unlock()

	if char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return nil, fmt.Errorf("characteristic %s does not support notifications", characteristic)
	}
	sub := &subscription{
		char:     char,
		indicate: char.Property&ble.CharNotify == 0,
		out:      ringchan.New[[]byte](DefaultChannelBuffer),
	}

	if _, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, client.Subscribe(char, sub.indicate, func(data []byte) {
			sub.out.Send(bytes.Clone(data))
		})
	}); err != nil {
		sub.out.Close()
		return nil, fmt.Errorf("failed to subscribe to characteristic %s: %w", characteristic, err)
	}

	r.mu.Lock()
	if r.links[l.address] != l {
		r.mu.Unlock()
		sub.out.Close()
		return nil, fmt.Errorf("subscribe %s: %w", address, device.ErrNotConnected)
	}
	l.subs[key] = sub
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"serviceUUID": service,
		"charUUID":    characteristic,
	}).Info("Successfully subscribed to characteristic notifications")
	return sub.out.C(), nil
}

// Unsubscribe disables notifications and closes the stream returned by Subscribe.
func (r *Radio) Unsubscribe(ctx context.Context, address, service, characteristic string) error {
	l, client, err := r.client("unsubscribe", address)
	if err != nil {
		return err
	}
	key := subscriptionKey(service, characteristic)

	r.mu.Lock()
	sub, ok := l.subs[key]
	delete(l.subs, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	defer sub.out.Close()

	if _, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, client.Unsubscribe(sub.char, sub.indicate)
	}); err != nil {
		return fmt.Errorf("failed to unsubscribe from characteristic %s: %w", characteristic, err)
	}
	r.logger.WithFields(logrus.Fields{
		"serviceUUID": service,
		"charUUID":    characteristic,
	}).Debug("Unsubscribed from characteristic notifications")
	return nil
}

func subscriptionKey(service, characteristic string) string {
	return device.ShortUUID(characteristic) + "@" + device.ShortUUID(service)
}
