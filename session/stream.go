package session

import (
	"slices"
	"sync"

	"github.com/srg/blelink/internal/ringchan"
)

// Stream is the shared notification feed of one characteristic. Every Listener gets its own
// copy of each value; a slow listener loses its oldest values instead of stalling the others.
type Stream struct {
	service        string
	characteristic string
	buffer         int

	mu        sync.Mutex
	listeners map[*Listener]struct{}
	done      chan struct{}
	closed    bool
}

// Listener receives the values of a Stream from the moment it was created.
type Listener struct {
	stream *Stream
	ch     *ringchan.RingChannel[[]byte]
}

func newStream(service, characteristic string, buffer int) *Stream {
	return &Stream{
		service:        service,
		characteristic: characteristic,
		buffer:         buffer,
		listeners:      make(map[*Listener]struct{}),
		done:           make(chan struct{}),
	}
}

// Service returns the service UUID the stream was started with.
func (st *Stream) Service() string { return st.service }

// Characteristic returns the characteristic UUID the stream was started with.
func (st *Stream) Characteristic() string { return st.characteristic }

// Done is closed when the stream ends: notifications stopped, the radio ended the
// subscription, or the session closed.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

// Listen registers a new listener. Listening on an ended stream yields a closed channel.
func (st *Stream) Listen() *Listener {
	l := &Listener{stream: st, ch: ringchan.New[[]byte](st.buffer)}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		l.ch.Close()
		return l
	}
	st.listeners[l] = struct{}{}
	return l
}

// C returns the value channel. It is closed when the listener or the stream is closed.
func (l *Listener) C() <-chan []byte {
	return l.ch.C()
}

// Dropped reports how many values were discarded because the listener fell behind.
func (l *Listener) Dropped() int64 {
	return l.ch.Dropped()
}

// Close detaches the listener from its stream. Safe to call more than once.
func (l *Listener) Close() {
	l.stream.mu.Lock()
	delete(l.stream.listeners, l)
	l.stream.mu.Unlock()
	l.ch.Close()
}

// run forwards values from src until src is closed or the stream is closed.
func (st *Stream) run(src <-chan []byte) {
	for {
		select {
		case <-st.done:
			return
		case v, ok := <-src:
			if !ok {
				st.close()
				return
			}
			st.publish(v)
		}
	}
}

func (st *Stream) publish(v []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for l := range st.listeners {
		l.ch.Send(slices.Clone(v))
	}
}

func (st *Stream) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	close(st.done)
	for l := range st.listeners {
		l.ch.Close()
		delete(st.listeners, l)
	}
}
