package device

import (
	"context"
	"slices"
)

// ConnectionStatus is the status reported by a Radio for a connection attempt.
// Radios may report values other than the two below; they are passed through untouched.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// ConnectionEvent is a single item on the stream returned by Radio.Connect.
// Err is set when the radio failed the attempt; Status is meaningful only when Err is nil.
type ConnectionEvent struct {
	Name   string
	Status ConnectionStatus
	Err    error
}

// Characteristic describes a discovered GATT characteristic
type Characteristic struct {
	UUID       string   `json:"uuid"`
	Properties []string `json:"properties,omitempty"`
}

// Service describes a discovered GATT service and its characteristics
type Service struct {
	UUID            string           `json:"uuid"`
	Characteristics []Characteristic `json:"characteristics,omitempty"`
}

// HasCharacteristic reports whether the service carries the characteristic, comparing canonically.
func (s Service) HasCharacteristic(uuid string) bool {
	want := CanonicalUUID(uuid)
	for _, c := range s.Characteristics {
		if CanonicalUUID(c.UUID) == want {
			return true
		}
	}
	return false
}

// CloneServices returns a deep copy so callers cannot mutate session-owned discovery results.
func CloneServices(services []Service) []Service {
	if services == nil {
		return nil
	}
	out := make([]Service, len(services))
	for i, s := range services {
		out[i] = Service{
			UUID:            s.UUID,
			Characteristics: slices.Clone(s.Characteristics),
		}
	}
	return out
}

// ScanResult is one advertisement observed while scanning.
// Name is empty when the peripheral did not advertise one.
type ScanResult struct {
	Address          string   `json:"address"`
	Name             string   `json:"name,omitempty"`
	RSSI             int      `json:"rssi"`
	Advertisement    []byte   `json:"advertisement,omitempty"`
	Services         []string `json:"services,omitempty"`
	ManufacturerData []byte   `json:"manufacturer_data,omitempty"`
	Connectable      bool     `json:"connectable"`
}

// Radio is the BLE stack access layer. Implementations own the physical radio; the core only
// calls into it and consumes the channels it returns.
//
// Channels returned by Connect, Subscribe and StartScan are closed by the radio when the
// underlying stream ends (ctx cancelled, Close/Unsubscribe/StopScan called, or the link dropped).
type Radio interface {
	// Connect starts a connection attempt. The returned channel keeps emitting status changes for
	// the address until the connection is closed. A radio that refuses the attempt because the
	// peripheral is still held from an earlier connection reports ErrPreviouslyConnected.
	Connect(ctx context.Context, address string) (<-chan ConnectionEvent, error)
	Disconnect(ctx context.Context, address string) error
	Close(ctx context.Context, address string) error

	Discover(ctx context.Context, address string) ([]Service, error)

	Read(ctx context.Context, address, service, characteristic string) ([]byte, error)
	Write(ctx context.Context, address, service, characteristic string, data []byte, withoutResponse bool) error
	Subscribe(ctx context.Context, address, service, characteristic string) (<-chan []byte, error)
	Unsubscribe(ctx context.Context, address, service, characteristic string) error

	// StartScan reports advertisements, optionally restricted to peripherals advertising one of
	// services, until StopScan is called or ctx is cancelled.
	StartScan(ctx context.Context, services []string) (<-chan ScanResult, error)
	StopScan(ctx context.Context) error
}
