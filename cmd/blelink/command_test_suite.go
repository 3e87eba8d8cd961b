//go:build test

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
)

// testConfig keeps command tests fast: short scans and no discovery settle pause.
const testConfig = `
log_level: debug
scan_timeout: 100ms
connect_timeout: 1s
connect_hard_timeout: 2s
discovery_settle_delay: 1ms
`

// CommandTestSuite extends MockRadioSuite with command testing utilities.
// All cmd/blelink test suites should embed this instead of MockRadioSuite.
type CommandTestSuite struct {
	testutils.MockRadioSuite

	configPath    string
	originalRadio func(*logrus.Logger) device.Radio
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockRadioSuite.SetupSuite()

	s.configPath = filepath.Join(s.T().TempDir(), "blelink.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte(testConfig), 0o600))

	color.NoColor = true
	s.originalRadio = radioFactory
	radioFactory = func(*logrus.Logger) device.Radio { return s.Radio }
}

func (s *CommandTestSuite) TearDownSuite() {
	radioFactory = s.originalRadio
}

// syncBuffer is a bytes.Buffer safe for the observer goroutines commands write from.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ExecuteCommand runs the CLI with the suite config and args, and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.ExecuteCommandContext(ctx, args...)
}

// ExecuteCommandContext is ExecuteCommand with a caller-controlled context.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, string, error) {
	stdout, stderr, done := s.StartCommand(ctx, args...)
	err := <-done
	return stdout.String(), stderr.String(), err
}

// StartCommand runs the CLI in the background. done yields the command error once it returns.
func (s *CommandTestSuite) StartCommand(ctx context.Context, args ...string) (stdout, stderr *syncBuffer, done <-chan error) {
	stdout, stderr = &syncBuffer{}, &syncBuffer{}

	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", s.configPath, "--no-color"}, args...))

	errCh := make(chan error, 1)
	go func() {
		errCh <- cmd.ExecuteContext(ctx)
	}()
	return stdout, stderr, errCh
}

// AwaitCommand waits for a command started with StartCommand.
func (s *CommandTestSuite) AwaitCommand(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		s.FailNow("command did not return")
		return nil
	}
}
