package session

import (
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a device session.
type State int

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateDiscovered
	StateDisconnected
	StateClosed
)

var stateNames = map[State]string{
	StateNone:         "none",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateDiscovered:   "discovered",
	StateDisconnected: "disconnected",
	StateClosed:       "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// StateChange is a published transition. Only the transitions observers care about are
// published: reaching Discovered, losing a discovered device, and reaching Closed.
type StateChange struct {
	From State
	To   State
}

// setStateLocked applies the transition to "to" and starts its side effects.
// Transitions outside the lifecycle are logged and applied anyway. Must hold s.mu.
func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"state":   to,
		}).Debug("State unchanged, ignoring")
		return
	}

	publish := false
	switch to {
	case StateConnecting:
	case StateConnected:
		if from == StateConnecting {
			s.scheduleDiscoveryLocked()
		} else {
			s.logUnexpected(from, to)
		}
	case StateDiscovered:
		switch from {
		case StateConnected, StateConnecting:
			publish = true
		default:
			s.logUnexpected(from, to)
		}
	case StateDisconnected:
		switch from {
		case StateConnecting, StateConnected:
			s.startAutoCloseLocked()
		case StateDiscovered:
			publish = true
			s.startAutoCloseLocked()
		default:
			s.logUnexpected(from, to)
		}
	case StateClosed:
		if from == StateDisconnected {
			publish = true
		} else {
			s.logUnexpected(from, to)
		}
	default:
		s.logUnexpected(from, to)
	}

	s.state = to
	if to == StateConnected || to == StateDiscovered {
		s.linked = true
	}
	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"from":    from,
		"to":      to,
	}).Debug("Device state changed")

	if publish {
		s.changes.Publish(StateChange{From: from, To: to})
	}
	s.states.Publish(to)

	s.afterTransitionLocked(to)
}

// afterTransitionLocked settles the pending connect attempt and releases link resources.
func (s *Session) afterTransitionLocked(to State) {
	switch to {
	case StateDiscovered:
		if a := s.attempt; a != nil {
			s.attempt = nil
			a.finish(nil)
		}
	case StateDisconnected:
		s.stopSettleLocked()
	case StateClosed:
		s.stopSettleLocked()
		// Closed ends the link: late events from it must not be applied.
		s.gen++
		if s.linkCancel != nil {
			s.linkCancel()
			s.linkCancel = nil
		}
		if a := s.attempt; a != nil {
			s.attempt = nil
			a.finish(a.failure())
		}
		for key, st := range s.streams {
			st.close()
			delete(s.streams, key)
		}
	}
}

func (s *Session) logUnexpected(from, to State) {
	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"from":    from,
		"to":      to,
	}).Warn("Unexpected state change")
}
