package testutils

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/srg/blelink/internal/device"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []byte `json:"value,omitempty"`
	// Reply, when set, is notified on this characteristic after every write to it.
	Reply []byte `json:"reply,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ConnectMode selects how a fake peripheral answers a connection request.
type ConnectMode int

const (
	// ConnectAccept reports "connected" after the connect delay.
	ConnectAccept ConnectMode = iota
	// ConnectSilent accepts the request and never reports anything.
	ConnectSilent
	// ConnectRefuse fails Radio.Connect with the configured error.
	ConnectRefuse
	// ConnectEventError accepts the request and reports the configured error on the event stream.
	ConnectEventError
)

// PeripheralConfig is the complete behaviour of one fake peripheral.
type PeripheralConfig struct {
	Address  string          `json:"address"`
	Name     string          `json:"name,omitempty"`
	RSSI     int             `json:"rssi,omitempty"`
	Services []ServiceConfig `json:"services"`

	ConnectMode   ConnectMode   `json:"-"`
	ConnectErr    error         `json:"-"`
	ConnectDelay  time.Duration `json:"-"`
	DiscoverErr   error         `json:"-"`
	DiscoverDelay time.Duration `json:"-"`
	// CloseGate, when set, blocks Radio.Close until it is closed or the call context ends.
	CloseGate chan struct{} `json:"-"`
}

// PeripheralBuilder configures one fake peripheral of a RadioBuilder.
type PeripheralBuilder struct {
	parent *RadioBuilder
	config *PeripheralConfig
}

// WithService adds a service to the peripheral profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.config.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.config.Services) - 1
	b.config.Services[last].Characteristics = append(b.config.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithReply makes the last added characteristic notify reply after every write to it.
func (b *PeripheralBuilder) WithReply(reply []byte) *PeripheralBuilder {
	if len(b.config.Services) == 0 || len(b.config.Services[len(b.config.Services)-1].Characteristics) == 0 {
		panic("WithReply: no characteristic added yet, call WithCharacteristic first")
	}
	svc := &b.config.Services[len(b.config.Services)-1]
	svc.Characteristics[len(svc.Characteristics)-1].Reply = reply
	return b
}

// WithRSSI sets the signal strength advertised by the peripheral.
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.config.RSSI = rssi
	return b
}

// WithConnectMode sets how connection requests are answered.
func (b *PeripheralBuilder) WithConnectMode(mode ConnectMode, err error) *PeripheralBuilder {
	b.config.ConnectMode = mode
	b.config.ConnectErr = err
	return b
}

// WithConnectDelay delays the "connected" report.
func (b *PeripheralBuilder) WithConnectDelay(d time.Duration) *PeripheralBuilder {
	b.config.ConnectDelay = d
	return b
}

// WithDiscoverError makes service discovery fail with err.
func (b *PeripheralBuilder) WithDiscoverError(err error) *PeripheralBuilder {
	b.config.DiscoverErr = err
	return b
}

// WithDiscoverDelay delays the discovery result.
func (b *PeripheralBuilder) WithDiscoverDelay(d time.Duration) *PeripheralBuilder {
	b.config.DiscoverDelay = d
	return b
}

// WithCloseGate blocks Radio.Close on gate.
func (b *PeripheralBuilder) WithCloseGate(gate chan struct{}) *PeripheralBuilder {
	b.config.CloseGate = gate
	return b
}

// FromJSON fills the peripheral profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.Address != "" {
		b.config.Address = config.Address
	}
	if config.Name != "" {
		b.config.Name = config.Name
	}
	if config.RSSI != 0 {
		b.config.RSSI = config.RSSI
	}
	b.config.Services = config.Services
	return b
}

// And returns to the radio builder.
func (b *PeripheralBuilder) And() *RadioBuilder {
	return b.parent
}

// Build builds the whole fake radio.
func (b *PeripheralBuilder) Build() *FakeRadio {
	return b.parent.Build()
}

// RadioBuilder builds a FakeRadio with fake peripherals and scan advertisements.
type RadioBuilder struct {
	peripherals []*PeripheralConfig
	adverts     []device.ScanResult
	scanEvery   time.Duration
}

// NewRadioBuilder creates an empty radio builder.
func NewRadioBuilder() *RadioBuilder {
	return &RadioBuilder{}
}

// WithPeripheral adds a peripheral and returns its builder.
func (b *RadioBuilder) WithPeripheral(address, name string) *PeripheralBuilder {
	cfg := &PeripheralConfig{Address: address, Name: name, RSSI: -50}
	b.peripherals = append(b.peripherals, cfg)
	return &PeripheralBuilder{parent: b, config: cfg}
}

// WithAdvertisement adds a scan result reported while scanning.
func (b *RadioBuilder) WithAdvertisement(result device.ScanResult) *RadioBuilder {
	b.adverts = append(b.adverts, result)
	return b
}

// WithScanInterval spaces scan results by d instead of reporting them at once.
func (b *RadioBuilder) WithScanInterval(d time.Duration) *RadioBuilder {
	b.scanEvery = d
	return b
}

// Build creates the fake radio.
func (b *RadioBuilder) Build() *FakeRadio {
	r := newFakeRadio()
	for _, p := range b.peripherals {
		r.peripherals[p.Address] = newFakePeripheral(*p)
	}
	r.adverts = append(r.adverts, b.adverts...)
	r.scanEvery = b.scanEvery
	return r
}

// DiscoveredServices converts a profile to the discovery result the radio reports.
func (c PeripheralConfig) DiscoveredServices() []device.Service {
	out := make([]device.Service, 0, len(c.Services))
	for _, svc := range c.Services {
		s := device.Service{UUID: svc.UUID}
		for _, ch := range svc.Characteristics {
			var props []string
			if ch.Properties != "" {
				props = strings.Split(ch.Properties, ",")
			}
			s.Characteristics = append(s.Characteristics, device.Characteristic{UUID: ch.UUID, Properties: props})
		}
		out = append(out, s)
	}
	return out
}

// DefaultPeripheral returns a builder for a radio with one Battery Service (180F) peripheral
// whose Battery Level characteristic (2A19) reads 50%.
func DefaultPeripheral(address string) *PeripheralBuilder {
	return NewRadioBuilder().
		WithPeripheral(address, "Battery").
		FromJSON(`
		{
			"services": [
				{
					"uuid": "180F",
					"characteristics": [
						{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
					]
				}
			]
		}`)
}
