package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected        ConnectionState = "not_connected"
	AlreadyConnected    ConnectionState = "already_connected"
	PreviouslyConnected ConnectionState = "previously_connected"
	ConnectionFailed    ConnectionState = "connection_failed"
	ConnectionTimeout   ConnectionState = "connection_timeout"
	AlreadyDisconnected ConnectionState = "already_disconnected"
	BluetoothOff        ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected        = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected    = &ConnectionError{State: AlreadyConnected}
	ErrPreviouslyConnected = &ConnectionError{State: PreviouslyConnected, Msg: "device previously connected"}
	ErrConnectionFailed    = &ConnectionError{State: ConnectionFailed, Msg: "failed to establish connection"}
	ErrConnectionTimeout   = &ConnectionError{State: ConnectionTimeout, Msg: "connection attempt timed out"}
	ErrAlreadyDisconnected = &ConnectionError{State: AlreadyDisconnected}
	ErrBluetoothOff        = &ConnectionError{State: BluetoothOff, Msg: "Bluetooth is turned off - please enable Bluetooth and retry"}
)

// Operation errors
var (
	ErrTimeout        = errors.New("timeout")
	ErrScanTimeout    = fmt.Errorf("scan: no matching device found: %w", ErrTimeout)
	ErrScanInProgress = errors.New("scan already in progress")
	ErrStreamClosed   = errors.New("notification stream closed")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// IsDisconnected reports whether err means the peripheral is not connected anymore,
// which is the outcome a disconnect request asks for.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrAlreadyDisconnected) || errors.Is(err, ErrNotConnected)
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// ClassifyError maps well-known radio error messages onto the typed errors above, keeping the
// original error in the chain. Unknown errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device previously connected"):
		return fmt.Errorf("%w: %v", ErrPreviouslyConnected, err)
	case containsIgnoreCase(msg, "already disconnected"):
		return fmt.Errorf("%w: %v", ErrAlreadyDisconnected, err)
	case containsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	default:
		return err
	}
}
