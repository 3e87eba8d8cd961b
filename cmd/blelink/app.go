package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
	"github.com/srg/blelink/pkg/config"
	"github.com/srg/blelink/registry"
	"github.com/srg/blelink/session"
)

// disconnectTimeout bounds the disconnect every device command ends with.
const disconnectTimeout = 5 * time.Second

// radioFactory creates the radio the commands talk to.
var radioFactory = func(logger *logrus.Logger) device.Radio {
	return goble.NewRadio(logger)
}

// app is the state shared by all commands of one invocation.
type app struct {
	configPath string
	noColor    bool

	cfg    *config.Config
	logger *logrus.Logger

	radioOnce sync.Once
	radio     device.Radio
}

// setup loads the configuration and builds the logger before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	if a.noColor {
		color.NoColor = true
	}

	a.cfg = cfg
	a.logger = logger
	a.logger.WithFields(logrus.Fields{
		"config":  a.configPath,
		"command": cmd.Name(),
	}).Debug("Configuration loaded")
	return nil
}

func (a *app) getRadio() device.Radio {
	a.radioOnce.Do(func() {
		a.radio = radioFactory(a.logger)
	})
	return a.radio
}

// sessionOptions returns the configured session timing, with the connect timeout overridden
// when timeout is positive.
func (a *app) sessionOptions(timeout time.Duration) *session.Options {
	opts := a.cfg.SessionOptions()
	if timeout > 0 {
		opts.ConnectTimeout = timeout
		if opts.ConnectHardTimeout < timeout {
			opts.ConnectHardTimeout = timeout + time.Second
		}
	}
	return opts
}

// withDevice connects to address through a registry, runs fn on the discovered session and
// disconnects afterwards. watch, when set, receives every state of the session from the start.
func (a *app) withDevice(ctx context.Context, address string, timeout time.Duration, watch func(session.State), fn func(ctx context.Context, s *session.Session) error) (err error) {
	opts := a.sessionOptions(timeout)
	reg := registry.New(a.getRadio(), a.logger)

	factory := func(radio device.Radio, address, name string) registry.Device {
		s := session.New(radio, address, name, a.logger, opts)
		if watch != nil {
			s.WatchState(watch)
		}
		return s
	}

	dev, err := reg.Connect(ctx, address, "", factory)
	if err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if derr := reg.Disconnect(dctx, address); derr != nil && err == nil {
			err = derr
		}
	}()

	return fn(ctx, dev.(*session.Session))
}

// lockedWriter serializes writes from observer goroutines and the command itself.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
