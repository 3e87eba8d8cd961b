package testutils

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/ringchan"
)

// FakeRadio is an in-memory device.Radio driven by PeripheralConfig profiles.
// Tests steer the link with EmitDisconnect, EmitEvent and Notify, and inspect traffic with
// Calls and Written.
type FakeRadio struct {
	mu          sync.Mutex
	peripherals map[string]*fakePeripheral
	adverts     []device.ScanResult
	scanEvery   time.Duration
	calls       map[string]int
	scanCancel  context.CancelFunc
}

type fakePeripheral struct {
	config  PeripheralConfig
	values  map[string][]byte
	replies map[string][]byte
	written map[string][][]byte
	link    *ringchan.RingChannel[device.ConnectionEvent]
	subs    map[string][]*ringchan.RingChannel[[]byte]
}

func newFakeRadio() *FakeRadio {
	return &FakeRadio{
		peripherals: make(map[string]*fakePeripheral),
		calls:       make(map[string]int),
	}
}

func newFakePeripheral(cfg PeripheralConfig) *fakePeripheral {
	p := &fakePeripheral{
		config:  cfg,
		values:  make(map[string][]byte),
		replies: make(map[string][]byte),
		written: make(map[string][][]byte),
		subs:    make(map[string][]*ringchan.RingChannel[[]byte]),
	}
	for _, svc := range cfg.Services {
		for _, ch := range svc.Characteristics {
			key := charKey(svc.UUID, ch.UUID)
			p.values[key] = slices.Clone(ch.Value)
			if ch.Reply != nil {
				p.replies[key] = slices.Clone(ch.Reply)
			}
		}
	}
	return p
}

func charKey(service, characteristic string) string {
	return device.CanonicalUUID(characteristic) + "@" + device.CanonicalUUID(service)
}

// Calls returns how many times op ("connect", "disconnect", "close", "discover", "read",
// "write", "subscribe", "unsubscribe", "scan", "stopscan") was invoked.
func (r *FakeRadio) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Written returns every payload written to the characteristic, oldest first.
func (r *FakeRadio) Written(address, service, characteristic string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peripherals[address]
	if !ok {
		return nil
	}
	return slices.Clone(p.written[charKey(service, characteristic)])
}

// Subscribers returns the number of open subscriptions on the characteristic.
func (r *FakeRadio) Subscribers(address, service, characteristic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peripherals[address]
	if !ok {
		return 0
	}
	return len(p.subs[charKey(service, characteristic)])
}

// EmitEvent pushes ev on the connection event stream of address.
func (r *FakeRadio) EmitEvent(address string, ev device.ConnectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peripherals[address]; ok && p.link != nil {
		p.link.Send(ev)
	}
}

// EmitDisconnect simulates the peripheral dropping the link.
func (r *FakeRadio) EmitDisconnect(address string) {
	r.EmitEvent(address, device.ConnectionEvent{Name: r.name(address), Status: device.StatusDisconnected})
}

// Notify sends data to every subscriber of the characteristic.
func (r *FakeRadio) Notify(address, service, characteristic string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peripherals[address]; ok {
		p.notifyLocked(charKey(service, characteristic), data)
	}
}

func (p *fakePeripheral) notifyLocked(key string, data []byte) {
	for _, sub := range p.subs[key] {
		sub.Send(slices.Clone(data))
	}
}

func (r *FakeRadio) name(address string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peripherals[address]; ok {
		return p.config.Name
	}
	return ""
}

func (r *FakeRadio) peripheral(op, address string) (*fakePeripheral, error) {
	r.calls[op]++
	p, ok := r.peripherals[address]
	if !ok {
		return nil, fmt.Errorf("peripheral %s: %w", address, device.ErrNotConnected)
	}
	return p, nil
}

func (r *FakeRadio) Connect(ctx context.Context, address string) (<-chan device.ConnectionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.peripheral("connect", address)
	if err != nil {
		return nil, err
	}
	cfg := p.config
	if cfg.ConnectMode == ConnectRefuse {
		return nil, cfg.ConnectErr
	}

	if p.link != nil {
		p.link.Close()
	}
	link := ringchan.New[device.ConnectionEvent](16)
	p.link = link

	switch cfg.ConnectMode {
	case ConnectAccept:
		time.AfterFunc(cfg.ConnectDelay, func() {
			link.Send(device.ConnectionEvent{Name: cfg.Name, Status: device.StatusConnected})
		})
	case ConnectEventError:
		link.Send(device.ConnectionEvent{Name: cfg.Name, Err: cfg.ConnectErr})
	}
	return link.C(), nil
}

func (r *FakeRadio) Disconnect(ctx context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.peripheral("disconnect", address)
	if err != nil {
		return err
	}
	if p.link == nil {
		return fmt.Errorf("peripheral %s: %w", address, device.ErrAlreadyDisconnected)
	}
	p.link.Send(device.ConnectionEvent{Name: p.config.Name, Status: device.StatusDisconnected})
	return nil
}

func (r *FakeRadio) Close(ctx context.Context, address string) error {
	r.mu.Lock()
	p, err := r.peripheral("close", address)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	gate := p.config.CloseGate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p.link != nil {
		p.link.Close()
		p.link = nil
	}
	for key, subs := range p.subs {
		for _, sub := range subs {
			sub.Close()
		}
		delete(p.subs, key)
	}
	return nil
}

func (r *FakeRadio) Discover(ctx context.Context, address string) ([]device.Service, error) {
	r.mu.Lock()
	p, err := r.peripheral("discover", address)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	cfg := p.config
	r.mu.Unlock()

	if cfg.DiscoverDelay > 0 {
		select {
		case <-time.After(cfg.DiscoverDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if cfg.DiscoverErr != nil {
		return nil, cfg.DiscoverErr
	}
	return cfg.DiscoveredServices(), nil
}

func (r *FakeRadio) Read(ctx context.Context, address, service, characteristic string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.peripheral("read", address)
	if err != nil {
		return nil, err
	}
	v, ok := p.values[charKey(service, characteristic)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return slices.Clone(v), nil
}

func (r *FakeRadio) Write(ctx context.Context, address, service, characteristic string, data []byte, withoutResponse bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.peripheral("write", address)
	if err != nil {
		return err
	}
	key := charKey(service, characteristic)
	if _, ok := p.values[key]; !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	p.values[key] = slices.Clone(data)
	p.written[key] = append(p.written[key], slices.Clone(data))
	if reply, ok := p.replies[key]; ok {
		p.notifyLocked(key, reply)
	}
	return nil
}

func (r *FakeRadio) Subscribe(ctx context.Context, address, service, characteristic string) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.peripheral("subscribe", address)
	if err != nil {
		return nil, err
	}
	key := charKey(service, characteristic)
	if _, ok := p.values[key]; !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	sub := ringchan.New[[]byte](64)
	p.subs[key] = append(p.subs[key], sub)
	return sub.C(), nil
}

func (r *FakeRadio) Unsubscribe(ctx context.Context, address, service, characteristic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.peripheral("unsubscribe", address)
	if err != nil {
		return err
	}
	key := charKey(service, characteristic)
	for _, sub := range p.subs[key] {
		sub.Close()
	}
	delete(p.subs, key)
	return nil
}

func (r *FakeRadio) StartScan(ctx context.Context, services []string) (<-chan device.ScanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls["scan"]++
	if r.scanCancel != nil {
		return nil, device.ErrScanInProgress
	}

	results := make([]device.ScanResult, 0, len(r.adverts))
	for _, adv := range r.adverts {
		if matchesServices(adv, services) {
			results = append(results, adv)
		}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	r.scanCancel = cancel
	out := make(chan device.ScanResult)
	every := r.scanEvery

	go func() {
		defer close(out)
		for _, res := range results {
			if every > 0 {
				select {
				case <-time.After(every):
				case <-scanCtx.Done():
					return
				}
			}
			select {
			case out <- res:
			case <-scanCtx.Done():
				return
			}
		}
		<-scanCtx.Done()
	}()
	return out, nil
}

func (r *FakeRadio) StopScan(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls["stopscan"]++
	if r.scanCancel != nil {
		r.scanCancel()
		r.scanCancel = nil
	}
	return nil
}

func matchesServices(adv device.ScanResult, services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, want := range services {
		for _, have := range adv.Services {
			if device.SameUUID(want, have) {
				return true
			}
		}
	}
	return false
}

var _ device.Radio = (*FakeRadio)(nil)
