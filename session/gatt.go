package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

func subscriptionKey(service, characteristic string) string {
	return device.CanonicalUUID(characteristic) + "@" + device.CanonicalUUID(service)
}

// Read returns the current value of the characteristic.
func (s *Session) Read(ctx context.Context, service, characteristic string) ([]byte, error) {
	data, err := s.radio.Read(ctx, s.address, service, characteristic)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", subscriptionKey(service, characteristic), device.ClassifyError(err))
	}
	return data, nil
}

// Write writes data and waits for the peripheral to acknowledge it.
func (s *Session) Write(ctx context.Context, service, characteristic string, data []byte) error {
	return s.write(ctx, service, characteristic, data, false)
}

// WriteWithoutResponse writes data without asking the peripheral for an acknowledgement.
func (s *Session) WriteWithoutResponse(ctx context.Context, service, characteristic string, data []byte) error {
	return s.write(ctx, service, characteristic, data, true)
}

func (s *Session) write(ctx context.Context, service, characteristic string, data []byte, withoutResponse bool) error {
	if err := s.radio.Write(ctx, s.address, service, characteristic, data, withoutResponse); err != nil {
		return fmt.Errorf("write %s: %w", subscriptionKey(service, characteristic), device.ClassifyError(err))
	}
	return nil
}

// StartNotification subscribes to the characteristic and returns its stream. While a stream is
// active, further calls for the same service and characteristic return it without subscribing
// again.
func (s *Session) StartNotification(ctx context.Context, service, characteristic string) (*Stream, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	key := subscriptionKey(service, characteristic)
	s.mu.Lock()
	st, ok := s.streams[key]
	s.mu.Unlock()
	if ok {
		return st, nil
	}

	src, err := s.radio.Subscribe(ctx, s.address, service, characteristic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, device.ClassifyError(err))
	}

	st = newStream(service, characteristic, s.opts.NotificationBuffer)
	s.mu.Lock()
	s.streams[key] = st
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address":      s.address,
		"subscription": key,
	}).Debug("Notification stream started")

	groutine.Go(context.Background(), "session-notify", s.logger, func(context.Context) {
		st.run(src)
		s.dropStream(key, st)
	})
	return st, nil
}

// StopNotification unsubscribes from the characteristic and ends its stream.
func (s *Session) StopNotification(ctx context.Context, service, characteristic string) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	key := subscriptionKey(service, characteristic)
	if err := s.radio.Unsubscribe(ctx, s.address, service, characteristic); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", key, device.ClassifyError(err))
	}

	s.mu.Lock()
	st, ok := s.streams[key]
	delete(s.streams, key)
	s.mu.Unlock()
	if ok {
		st.close()
	}

	s.logger.WithFields(logrus.Fields{
		"address":      s.address,
		"subscription": key,
	}).Debug("Notification stream stopped")
	return nil
}

func (s *Session) dropStream(key string, st *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams[key] == st {
		delete(s.streams, key)
	}
}

// WriteForData writes data and returns the next notification of the same characteristic.
// The listener is registered before the write so a fast reply is not missed. Any notification
// arriving after that point is taken as the reply, so callers must not run concurrent
// WriteForData calls on one characteristic.
func (s *Session) WriteForData(ctx context.Context, service, characteristic string, data []byte, withoutResponse bool) ([]byte, error) {
	st, err := s.StartNotification(ctx, service, characteristic)
	if err != nil {
		return nil, err
	}
	l := st.Listen()
	defer l.Close()

	if err := s.write(ctx, service, characteristic, data, withoutResponse); err != nil {
		return nil, err
	}

	select {
	case v, ok := <-l.C():
		if !ok {
			return nil, fmt.Errorf("%s: %w", subscriptionKey(service, characteristic), device.ErrStreamClosed)
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
