//go:build test

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const addr = testutils.DefaultAddress

// SessionSuite drives sessions against a fake radio with short timers.
type SessionSuite struct {
	testutils.MockRadioSuite
	opts *Options
}

func (s *SessionSuite) SetupTest() {
	s.opts = &Options{
		ConnectTimeout:       150 * time.Millisecond,
		ConnectHardTimeout:   300 * time.Millisecond,
		DiscoverySettleDelay: 5 * time.Millisecond,
		NotificationBuffer:   8,
	}
	s.Helper.Hook.Reset()
	s.MockRadioSuite.SetupTest()
}

func (s *SessionSuite) newSession() *Session {
	return New(s.Radio, addr, "adv-name", s.Logger, s.opts)
}

// recordChanges collects published transitions.
func (s *SessionSuite) recordChanges(sess *Session) func() []StateChange {
	var mu sync.Mutex
	var got []StateChange
	sess.OnStateChange(func(c StateChange) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c)
	})
	return func() []StateChange {
		mu.Lock()
		defer mu.Unlock()
		return append([]StateChange(nil), got...)
	}
}

func (s *SessionSuite) connected() *Session {
	sess := s.newSession()
	s.Require().NoError(sess.Connect(context.Background()))
	return sess
}

func (s *SessionSuite) TestConnectDiscoversServices() {
	// GOAL: Verify the complete connect flow from None to Discovered
	//
	// TEST SCENARIO: Connect to the battery peripheral → Connect resolves after discovery, services are
	// queryable, observers saw each applied state in order and the Discovered transition was published
	sess := s.newSession()
	changes := s.recordChanges(sess)

	var mu sync.Mutex
	var states []State
	sess.WatchState(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})

	err := sess.Connect(context.Background())

	s.Require().NoError(err)
	s.Equal(StateDiscovered, sess.State())
	s.Equal("Battery", sess.Name(), "name MUST follow the connection events")
	s.True(sess.HasService("180F"))
	s.True(sess.HasService("180f"))
	s.True(sess.HasCharacteristic("180f", "2a19"))
	s.False(sess.HasCharacteristic("180f", "2a37"))
	s.Len(sess.Services(), 1)
	s.Equal(1, s.Radio.Calls("connect"))
	s.Equal(1, s.Radio.Calls("discover"))

	s.WaitUntil(func() bool { return len(changes()) == 1 })
	s.Equal([]StateChange{{From: StateConnected, To: StateDiscovered}}, changes())

	s.WaitUntil(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	})
	mu.Lock()
	s.Equal([]State{StateNone, StateConnecting, StateConnected, StateDiscovered}, states)
	mu.Unlock()
}

func (s *SessionSuite) TestHasServiceCanonicalComparison() {
	s.WithPeripheral(addr, "Nordic").
		WithService("6E400001-B5A3-F393-E0A9-E50E24DCCA9E").
		WithCharacteristic("6E400003-B5A3-F393-E0A9-E50E24DCCA9E", "notify", nil).
		WithService("1800").
		WithCharacteristic("2A00", "read", []byte("n"))
	s.MockRadioSuite.SetupTest()

	sess := s.newSession()
	s.False(sess.HasService("1800"), "HasService MUST be false before discovery")

	s.Require().NoError(sess.Connect(context.Background()))

	s.True(sess.HasService("18-00"))
	s.True(sess.HasService("6e400001b5a3f393e0a9e50e24dcca9e"))
	s.True(sess.HasService("6E400001-b5a3-F393-e0a9-E50E24DCCA9E"))
	s.False(sess.HasService("1801"))
}

func (s *SessionSuite) TestConnectTimeoutFailsAttempt() {
	// GOAL: Verify a peripheral that never answers fails Connect with connection-failed
	//
	// TEST SCENARIO: Silent peripheral → soft timer tears the attempt down through Disconnected →
	// Connect fails with connection-failed (timeout joined) and the session ends Closed
	s.WithPeripheral(addr, "Mute").WithConnectMode(testutils.ConnectSilent, nil)
	s.MockRadioSuite.SetupTest()
	sess := s.newSession()
	changes := s.recordChanges(sess)

	start := time.Now()
	err := sess.Connect(context.Background())

	s.ErrorIs(err, device.ErrConnectionFailed)
	s.ErrorIs(err, device.ErrConnectionTimeout)
	s.GreaterOrEqual(time.Since(start), s.opts.ConnectTimeout)
	s.Less(time.Since(start), s.opts.ConnectHardTimeout)
	s.Equal(StateClosed, sess.State())
	s.Equal(1, s.Radio.Calls("close"))

	s.WaitUntil(func() bool { return len(changes()) == 1 })
	s.Equal([]StateChange{{From: StateDisconnected, To: StateClosed}}, changes(),
		"Connecting → Disconnected MUST stay silent")
}

func (s *SessionSuite) TestConnectHardCeiling() {
	// GOAL: Verify Connect never waits past the hard ceiling
	//
	// TEST SCENARIO: Silent peripheral whose close never completes → Connect fails with
	// connection-timeout at the hard ceiling while the session waits in Disconnected
	gate := make(chan struct{})
	s.T().Cleanup(func() { close(gate) })
	s.WithPeripheral(addr, "Stuck").
		WithConnectMode(testutils.ConnectSilent, nil).
		WithCloseGate(gate)
	s.MockRadioSuite.SetupTest()
	sess := s.newSession()

	start := time.Now()
	err := sess.Connect(context.Background())

	s.ErrorIs(err, device.ErrConnectionTimeout)
	s.NotErrorIs(err, device.ErrConnectionFailed)
	s.GreaterOrEqual(time.Since(start), s.opts.ConnectHardTimeout)
	s.Equal(StateDisconnected, sess.State())
}

func (s *SessionSuite) TestConnectRefusedAsPreviouslyConnected() {
	s.WithPeripheral(addr, "Stale").
		WithConnectMode(testutils.ConnectRefuse, errors.New("Device previously connected, reconnect or close for new device"))
	s.MockRadioSuite.SetupTest()
	sess := s.newSession()

	err := sess.Connect(context.Background())

	s.ErrorIs(err, device.ErrConnectionFailed)
	s.ErrorIs(err, device.ErrPreviouslyConnected)
	s.Equal(StateClosed, sess.State())
}

func (s *SessionSuite) TestConnectEventErrorFailsAttempt() {
	s.WithPeripheral(addr, "Flaky").
		WithConnectMode(testutils.ConnectEventError, errors.New("Device previously connected"))
	s.MockRadioSuite.SetupTest()
	sess := s.newSession()

	err := sess.Connect(context.Background())

	s.ErrorIs(err, device.ErrConnectionFailed)
	s.ErrorIs(err, device.ErrPreviouslyConnected)
	s.Equal(StateClosed, sess.State())
}

func (s *SessionSuite) TestDiscoveryFailureFailsConnect() {
	discoverErr := errors.New("gatt: attribute database unavailable")
	s.WithPeripheral(addr, "Broken").WithDiscoverError(discoverErr)
	s.MockRadioSuite.SetupTest()
	sess := s.newSession()
	changes := s.recordChanges(sess)

	err := sess.Connect(context.Background())

	s.ErrorIs(err, discoverErr)
	s.False(sess.HasService("180f"))
	s.WaitUntil(func() bool { return sess.State() == StateClosed })
	s.WaitUntil(func() bool { return len(changes()) == 1 })
	s.Equal([]StateChange{{From: StateDisconnected, To: StateClosed}}, changes())
}

func (s *SessionSuite) TestConnectCancelledByCaller() {
	s.WithPeripheral(addr, "Mute").WithConnectMode(testutils.ConnectSilent, nil)
	s.MockRadioSuite.SetupTest()
	sess := s.newSession()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sess.Connect(ctx)

	s.ErrorIs(err, context.DeadlineExceeded)
	s.WaitUntil(func() bool { return sess.State() == StateClosed }, "aborted attempt MUST be torn down")
}

func (s *SessionSuite) TestConcurrentConnectJoinsPendingAttempt() {
	s.WithPeripheral(addr, "Slow").
		WithConnectDelay(100 * time.Millisecond).
		WithService("180F").
		WithCharacteristic("2A19", "read", []byte{50})
	s.MockRadioSuite.SetupTest()
	sess := s.newSession()

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = sess.Connect(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	s.Equal(1, s.Radio.Calls("connect"))
}

func (s *SessionSuite) TestLinkLossPublishesDisconnectAndClose() {
	// GOAL: Verify an interrupted discovered link notifies observers and closes itself
	//
	// TEST SCENARIO: Connected session, peripheral drops the link → Discovered → Disconnected and
	// Disconnected → Closed are published in order, radio close is called once
	sess := s.connected()
	changes := s.recordChanges(sess)

	s.Radio.EmitDisconnect(addr)

	s.WaitUntil(func() bool { return len(changes()) == 2 })
	s.Equal([]StateChange{
		{From: StateDiscovered, To: StateDisconnected},
		{From: StateDisconnected, To: StateClosed},
	}, changes())
	s.Equal(StateClosed, sess.State())
	s.Equal(1, s.Radio.Calls("close"))
}

func (s *SessionSuite) TestDisconnectClosesWithoutAnomalies() {
	sess := s.connected()
	changes := s.recordChanges(sess)

	s.Require().NoError(sess.Disconnect(context.Background()))

	s.WaitUntil(func() bool { return sess.State() == StateClosed })
	s.WaitUntil(func() bool { return len(changes()) == 2 })
	s.False(s.Helper.HasLog(logrus.WarnLevel, "Unexpected state change"),
		"the radio echoing the disconnect MUST not be reported as an anomaly")

	s.Require().NoError(sess.Close(context.Background()), "closing a closed session MUST succeed")
	s.Equal(1, s.Radio.Calls("close"))
}

func (s *SessionSuite) TestReconnectAfterClose() {
	sess := s.connected()
	s.Require().NoError(sess.Disconnect(context.Background()))
	s.WaitUntil(func() bool { return sess.State() == StateClosed })

	s.Require().NoError(sess.Connect(context.Background()))

	s.Equal(StateDiscovered, sess.State())
	s.Equal(2, s.Radio.Calls("connect"))
}

func (s *SessionSuite) TestConnectionQueries() {
	// GOAL: Verify IsConnected follows the link and WasConnected remembers it
	//
	// TEST SCENARIO: new session → connected → link lost and closed
	sess := s.newSession()
	s.False(sess.IsConnected())
	s.False(sess.WasConnected())

	s.Require().NoError(sess.Connect(context.Background()))
	s.True(sess.IsConnected())
	s.True(sess.WasConnected())

	s.Radio.EmitDisconnect(addr)
	s.WaitUntil(func() bool { return sess.State() == StateClosed })
	s.False(sess.IsConnected())
	s.True(sess.WasConnected(), "a closed session MUST still report its earlier link")
}

func (s *SessionSuite) TestFailedConnectWasNeverConnected() {
	s.WithPeripheral(addr, "Mute").WithConnectMode(testutils.ConnectSilent, nil)
	s.MockRadioSuite.SetupTest()
	sess := s.newSession()

	s.Error(sess.Connect(context.Background()))

	s.False(sess.IsConnected())
	s.False(sess.WasConnected())
}

func (s *SessionSuite) TestReadAndWrite() {
	sess := s.connected()

	value, err := sess.Read(context.Background(), "180f", "2a19")
	s.Require().NoError(err)
	s.Equal([]byte{50}, value)

	s.Require().NoError(sess.Write(context.Background(), "180f", "2a19", []byte{42}))
	s.Require().NoError(sess.WriteWithoutResponse(context.Background(), "180f", "2a19", []byte{43}))
	s.Equal([][]byte{{42}, {43}}, s.Radio.Written(addr, "180f", "2a19"))

	_, err = sess.Read(context.Background(), "180f", "ffff")
	var notFound *device.NotFoundError
	s.ErrorAs(err, &notFound)
}

func (s *SessionSuite) TestNotificationDedupAndResubscribe() {
	// GOAL: Verify one radio subscription per characteristic while a stream is active
	//
	// TEST SCENARIO: Start twice → same stream, one subscription; stop → stream ends;
	// start again → fresh stream, second subscription
	sess := s.connected()
	ctx := context.Background()

	first, err := sess.StartNotification(ctx, "180F", "2A19")
	s.Require().NoError(err)
	second, err := sess.StartNotification(ctx, "180f", "2a-19")
	s.Require().NoError(err)

	s.Same(first, second)
	s.Equal(1, s.Radio.Calls("subscribe"))

	l1, l2 := first.Listen(), first.Listen()
	s.Radio.Notify(addr, "180f", "2a19", []byte{7})
	s.Equal([]byte{7}, <-l1.C())
	s.Equal([]byte{7}, <-l2.C())

	s.Require().NoError(sess.StopNotification(ctx, "180f", "2a19"))
	select {
	case <-first.Done():
	case <-time.After(s.TestTimeout):
		s.Fail("stream MUST end after StopNotification")
	}
	_, open := <-l1.C()
	s.False(open)

	third, err := sess.StartNotification(ctx, "180f", "2a19")
	s.Require().NoError(err)
	s.NotSame(first, third)
	s.Equal(2, s.Radio.Calls("subscribe"))
	s.Equal(1, s.Radio.Subscribers(addr, "180f", "2a19"))
}

func (s *SessionSuite) TestWriteForDataReturnsReply() {
	s.WithPeripheral(addr, "Echo").
		WithService("ffe0").
		WithCharacteristic("ffe1", "write,notify", []byte{}).
		WithReply([]byte{0xAA, 0x01})
	s.MockRadioSuite.SetupTest()
	sess := s.connected()

	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	reply, err := sess.WriteForData(ctx, "ffe0", "ffe1", []byte{0x01}, false)

	s.Require().NoError(err)
	s.Equal([]byte{0xAA, 0x01}, reply)
	s.Equal([][]byte{{0x01}}, s.Radio.Written(addr, "ffe0", "ffe1"))
}

func (s *SessionSuite) TestWriteForDataHonoursContext() {
	sess := s.connected()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sess.WriteForData(ctx, "180f", "2a19", []byte{1}, true)

	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *SessionSuite) TestCloseEndsNotificationStreams() {
	sess := s.connected()
	st, err := sess.StartNotification(context.Background(), "180f", "2a19")
	s.Require().NoError(err)

	s.Require().NoError(sess.Close(context.Background()))

	select {
	case <-st.Done():
	case <-time.After(s.TestTimeout):
		s.Fail("Closed MUST end notification streams")
	}
	s.Equal(StateClosed, sess.State())
}

func (s *SessionSuite) TestTransitionTable() {
	// GOAL: Verify which transitions are published and which are reported as anomalies
	//
	// TEST SCENARIO: Force each source state, apply the target → published/anomaly flags match the
	// lifecycle table, the target state is always applied
	gate := make(chan struct{})
	s.T().Cleanup(func() { close(gate) })
	s.WithPeripheral(addr, "Table").WithCloseGate(gate)
	s.MockRadioSuite.SetupTest()

	tests := []struct {
		from, to  State
		published bool
		anomaly   bool
	}{
		{StateNone, StateConnecting, false, false},
		{StateDiscovered, StateConnecting, false, false},
		{StateConnecting, StateConnected, false, false},
		{StateDiscovered, StateConnected, false, true},
		{StateConnected, StateDiscovered, true, false},
		{StateConnecting, StateDiscovered, true, false},
		{StateDisconnected, StateDiscovered, false, true},
		{StateConnecting, StateDisconnected, false, false},
		{StateConnected, StateDisconnected, false, false},
		{StateDiscovered, StateDisconnected, true, false},
		{StateNone, StateDisconnected, false, true},
		{StateDisconnected, StateClosed, true, false},
		{StateDiscovered, StateClosed, false, true},
		{StateConnecting, StateClosed, false, true},
	}

	for _, tt := range tests {
		s.Run(tt.from.String()+"→"+tt.to.String(), func() {
			opts := *s.opts
			opts.DiscoverySettleDelay = time.Hour
			sess := New(s.Radio, addr, "", s.Logger, &opts)
			published := make(chan StateChange, 4)
			sess.OnStateChange(func(c StateChange) { published <- c })
			s.Helper.Hook.Reset()

			sess.mu.Lock()
			sess.state = tt.from
			sess.setStateLocked(tt.to)
			sess.mu.Unlock()

			s.Equal(tt.to, sess.State(), "target state MUST always be applied")
			s.Equal(tt.anomaly, s.Helper.HasLog(logrus.WarnLevel, "Unexpected state change"))
			if tt.published {
				select {
				case c := <-published:
					s.Equal(StateChange{From: tt.from, To: tt.to}, c)
				case <-time.After(s.TestTimeout):
					s.Fail("transition MUST be published")
				}
			} else {
				select {
				case c := <-published:
					s.Failf("transition MUST stay silent", "got %v", c)
				case <-time.After(20 * time.Millisecond):
				}
			}
		})
	}
}

func (s *SessionSuite) TestSameStateIsNoop() {
	sess := s.newSession()
	changes := s.recordChanges(sess)

	sess.mu.Lock()
	sess.state = StateDisconnected
	sess.setStateLocked(StateDisconnected)
	sess.mu.Unlock()

	s.False(s.Helper.HasLog(logrus.WarnLevel, "Unexpected state change"))
	s.True(s.Helper.HasLog(logrus.DebugLevel, "State unchanged, ignoring"))
	time.Sleep(20 * time.Millisecond)
	s.Empty(changes())
	s.Zero(s.Radio.Calls("close"), "re-entering Disconnected MUST not close again")
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}
