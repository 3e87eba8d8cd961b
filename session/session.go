// Package session implements the per-device connection lifecycle: connect, service discovery,
// loss tracking, and the GATT operations available on a discovered device.
//
// A Session moves through None → Connecting → Connected → Discovered → Disconnected → Closed.
// Observers registered with OnStateChange see the published transitions (Discovered,
// Discovered → Disconnected, Closed) in the order they were applied; WatchState observers see
// every applied state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/broadcast"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

// Session is one remote peripheral and its connection lifecycle.
type Session struct {
	radio   device.Radio
	address string
	logger  *logrus.Logger
	opts    Options

	mu       sync.Mutex
	state    State
	linked   bool // reached Connected or Discovered at least once
	name     string
	services []device.Service
	streams  map[string]*Stream

	// gen identifies the current link; Connect and Closed advance it so that events,
	// timers and discovery results of an older link are dropped.
	gen        uint64
	attempt    *attempt
	linkCtx    context.Context
	linkCancel context.CancelFunc
	settle     *time.Timer

	// notifyMu serializes subscribe/unsubscribe round trips to the radio.
	notifyMu sync.Mutex

	changes *broadcast.Broadcaster[StateChange]
	states  *broadcast.Broadcaster[State]
}

// attempt is one pending Connect. It is settled exactly once, under Session.mu.
type attempt struct {
	done     chan struct{}
	err      error
	cause    error
	timedOut bool
	soft     *time.Timer
	hard     *time.Timer
}

func (a *attempt) finish(err error) {
	select {
	case <-a.done:
		return
	default:
	}
	a.soft.Stop()
	a.hard.Stop()
	a.err = err
	close(a.done)
}

// failure is the error reported when the attempt ends in Closed without reaching Discovered.
func (a *attempt) failure() error {
	switch {
	case a.cause != nil:
		return fmt.Errorf("%w: %w", device.ErrConnectionFailed, a.cause)
	case a.timedOut:
		return fmt.Errorf("%w: %w", device.ErrConnectionFailed, device.ErrConnectionTimeout)
	default:
		return device.ErrConnectionFailed
	}
}

// New creates a session in state None. Nothing is sent to the radio until Connect.
func New(radio device.Radio, address, name string, logger *logrus.Logger, opts *Options) *Session {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Session{
		radio:   radio,
		address: address,
		name:    name,
		logger:  logger,
		opts:    opts.withDefaults(),
		state:   StateNone,
		streams: make(map[string]*Stream),
	}

	onPanic := func(r any) {
		logger.WithFields(logrus.Fields{
			"address": address,
			"panic":   r,
		}).Error("State observer panicked")
	}
	s.changes = broadcast.New[StateChange](onPanic)
	s.states = broadcast.NewReplay[State](StateNone, onPanic)
	return s
}

// Address returns the device address.
func (s *Session) Address() string {
	return s.address
}

// Name returns the latest name reported for the device.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the link is currently up, with or without completed discovery.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected || s.state == StateDiscovered
}

// WasConnected reports whether the link has ever been up during the session's lifetime.
func (s *Session) WasConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linked
}

// Services returns a copy of the discovered services, or nil before discovery.
func (s *Session) Services() []device.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return device.CloneServices(s.services)
}

// HasService reports whether discovery found the service. UUIDs are compared case-insensitively
// with dash separators ignored. Always false before discovery.
func (s *Session) HasService(uuid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if device.SameUUID(svc.UUID, uuid) {
			return true
		}
	}
	return false
}

// HasCharacteristic reports whether discovery found the characteristic within the service.
func (s *Session) HasCharacteristic(service, characteristic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if device.SameUUID(svc.UUID, service) {
			return svc.HasCharacteristic(characteristic)
		}
	}
	return false
}

// OnStateChange registers fn for published transitions and returns a func that unregisters it.
// fn runs on a dispatcher goroutine and may call back into the session.
func (s *Session) OnStateChange(fn func(StateChange)) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// WatchState registers fn for every applied state, starting with the current one.
func (s *Session) WatchState(fn func(State)) (cancel func()) {
	return s.states.Subscribe(fn)
}

// Connect moves the session to Connecting, asks the radio to connect and waits until services
// are discovered.
//
// The attempt fails with device.ErrConnectionFailed when the link is lost or times out before
// discovery completes (device.ErrConnectionTimeout is joined in the timeout case), and with
// device.ErrConnectionTimeout when the teardown itself does not finish within the hard ceiling.
// A discovery failure is returned as is. Cancelling ctx aborts the attempt.
//
// A second call while an attempt is pending waits for that attempt instead of starting another.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if a := s.attempt; a != nil {
		s.mu.Unlock()
		return s.await(ctx, a, false)
	}

	s.gen++
	gen := s.gen
	if s.linkCancel != nil {
		s.linkCancel()
	}
	linkCtx, cancel := context.WithCancel(context.Background())
	s.linkCtx, s.linkCancel = linkCtx, cancel

	a := &attempt{done: make(chan struct{})}
	a.soft = time.AfterFunc(s.opts.ConnectTimeout, func() { s.onConnectTimeout(a) })
	a.hard = time.AfterFunc(s.opts.ConnectHardTimeout, func() { s.onHardTimeout(a) })
	s.attempt = a
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"timeout": s.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	events, err := s.radio.Connect(linkCtx, s.address)
	if err != nil {
		s.linkFailed(gen, device.ClassifyError(err))
	} else {
		groutine.Go(linkCtx, "session-link", s.logger, func(ctx context.Context) {
			s.pumpEvents(ctx, gen, events)
		})
	}

	if err := s.await(ctx, a, true); err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Error("Connection attempt failed")
		return err
	}

	s.logger.WithField("address", s.address).Info("Device connected and discovered")
	return nil
}

func (s *Session) await(ctx context.Context, a *attempt, owner bool) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		if owner {
			s.abort(a, ctx.Err())
		}
		return ctx.Err()
	}
}

// abort settles a with err and tears the link down if it is still coming up.
func (s *Session) abort(a *attempt, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != a {
		return
	}
	s.attempt = nil
	a.finish(err)
	if s.state == StateConnecting || s.state == StateConnected {
		s.setStateLocked(StateDisconnected)
	}
}

func (s *Session) onConnectTimeout(a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != a {
		return
	}
	if s.state == StateConnecting || s.state == StateConnected {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"state":   s.state,
			"timeout": s.opts.ConnectTimeout,
		}).Warn("Connection attempt timed out")
		a.timedOut = true
		s.setStateLocked(StateDisconnected)
	}
}

func (s *Session) onHardTimeout(a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != a {
		return
	}
	s.attempt = nil
	a.finish(device.ErrConnectionTimeout)
}

// linkFailed records why the link of generation gen went down and moves to Disconnected.
func (s *Session) linkFailed(gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"error":   cause,
	}).Warn("Radio reported a connection error")

	if a := s.attempt; a != nil && a.cause == nil {
		a.cause = cause
	}
	switch s.state {
	case StateConnecting, StateConnected, StateDiscovered:
		s.setStateLocked(StateDisconnected)
	}
}

func (s *Session) pumpEvents(ctx context.Context, gen uint64, events <-chan device.ConnectionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.logger.WithField("address", s.address).Debug("Connection event stream ended")
				return
			}
			s.handleEvent(gen, ev)
		}
	}
}

func (s *Session) handleEvent(gen uint64, ev device.ConnectionEvent) {
	if ev.Err != nil {
		s.linkFailed(gen, device.ClassifyError(ev.Err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"status":  ev.Status,
		}).Debug("Dropping event of a previous link")
		return
	}
	if ev.Name != "" {
		s.name = ev.Name
	}

	switch ev.Status {
	case device.StatusConnected:
		s.setStateLocked(StateConnected)
	case device.StatusDisconnected:
		s.setStateLocked(StateDisconnected)
	default:
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"status":  ev.Status,
		}).Warn("Radio returned unknown connection status")
	}
}

// scheduleDiscoveryLocked arms the settle timer for the current link. Must hold s.mu.
func (s *Session) scheduleDiscoveryLocked() {
	s.stopSettleLocked()
	gen := s.gen
	s.settle = time.AfterFunc(s.opts.DiscoverySettleDelay, func() {
		s.discover(gen)
	})
}

func (s *Session) stopSettleLocked() {
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
}

func (s *Session) discover(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	ctx := s.linkCtx
	s.mu.Unlock()

	s.logger.WithField("address", s.address).Debug("Discovering services...")
	services, err := s.radio.Discover(ctx, s.address)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateConnected {
		s.logger.WithField("address", s.address).Debug("Discarding stale discovery result")
		return
	}

	if err != nil {
		err = fmt.Errorf("discover services: %w", device.ClassifyError(err))
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Error("Service discovery failed")
		if a := s.attempt; a != nil {
			s.attempt = nil
			a.finish(err)
		}
		s.setStateLocked(StateDisconnected)
		return
	}

	s.services = device.CloneServices(services)
	s.logger.WithFields(logrus.Fields{
		"address":  s.address,
		"services": len(services),
	}).Info("Services discovered")
	s.setStateLocked(StateDiscovered)
}

// startAutoCloseLocked closes the link in the background after an unplanned disconnect.
func (s *Session) startAutoCloseLocked() {
	groutine.Go(context.Background(), "session-autoclose", s.logger, func(ctx context.Context) {
		if err := s.Close(ctx); err != nil {
			s.logger.WithFields(logrus.Fields{
				"address": s.address,
				"error":   err,
			}).Warn("Failed to close disconnected device")
		}
	})
}

// Disconnect asks the radio to drop the link and moves the session to Disconnected, which
// closes it.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	if err := s.radio.Disconnect(ctx, s.address); err != nil {
		return fmt.Errorf("disconnect %s: %w", s.address, device.ClassifyError(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.setStateLocked(StateDisconnected)
	}
	return nil
}

// Close releases the radio resources held for the device and moves the session to Closed.
// Closing a closed session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	s.mu.Unlock()

	if err := s.radio.Close(ctx, s.address); err != nil {
		err = device.ClassifyError(err)
		if !device.IsDisconnected(err) {
			return fmt.Errorf("close %s: %w", s.address, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.setStateLocked(StateClosed)
		s.logger.WithField("address", s.address).Info("Device closed")
	}
	return nil
}
