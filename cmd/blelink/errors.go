package main

import (
	"errors"
	"fmt"

	"github.com/srg/blelink/command"
	"github.com/srg/blelink/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")

	// ErrInvalidPayload wraps payload text that could not be encoded.
	ErrInvalidPayload = errors.New("invalid payload")
)

// FormatUserError turns an error into a message for the terminal, with a hint where one helps.
func FormatUserError(err error) string {
	var notFound *device.NotFoundError
	var encErr *command.EncodingError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable Bluetooth and retry"
	case errors.Is(err, device.ErrScanTimeout):
		return "device not found before the scan timed out; make sure it is advertising and in range"
	case errors.Is(err, device.ErrScanInProgress):
		return "another scan is already running"
	case errors.Is(err, device.ErrConnectionTimeout):
		return fmt.Sprintf("timed out connecting to the device; make sure it is powered on and in range (%v)", err)
	case errors.Is(err, device.ErrConnectionFailed):
		return fmt.Sprintf("could not connect to the device (%v)", err)
	case errors.Is(err, ErrConnectionLost):
		return "connection to the device was lost"
	case device.IsDisconnected(err):
		return "device is not connected"
	case errors.As(err, &notFound):
		return fmt.Sprintf("%v; run 'blelink connect <address>' to list the device services", notFound)
	case errors.As(err, &encErr), errors.Is(err, ErrInvalidPayload):
		return fmt.Sprintf("%v; payloads look like u8:1,u16le:256,hex:0a0b", err)
	default:
		return err.Error()
	}
}
