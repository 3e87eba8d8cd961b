package session

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Options tunes the timing of a session.
type Options struct {
	// ConnectTimeout bounds the time from Connect to Discovered. When it elapses the
	// attempt is torn down through Disconnected and Connect fails with connection-failed.
	ConnectTimeout time.Duration `default:"15s"`
	// ConnectHardTimeout is the ceiling after which Connect gives up waiting, even if the
	// teardown started by ConnectTimeout has not completed.
	ConnectHardTimeout time.Duration `default:"16s"`
	// DiscoverySettleDelay is the pause between the link coming up and service discovery.
	DiscoverySettleDelay time.Duration `default:"1500ms"`
	// NotificationBuffer is the per-listener notification backlog; older values are dropped.
	NotificationBuffer int `default:"128"`
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// withDefaults fills zero fields of a copy of o.
func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	defaults.SetDefaults(&out)
	if out.NotificationBuffer < 1 {
		out.NotificationBuffer = 1
	}
	if out.ConnectHardTimeout < out.ConnectTimeout {
		out.ConnectHardTimeout = out.ConnectTimeout + time.Second
	}
	return out
}
