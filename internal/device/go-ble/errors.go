package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blelink/internal/device"
)

// darwinPoweredOff is what CoreBluetooth reports when the adapter is switched off.
const darwinPoweredOff = "central manager has invalid state: have=4 want=5: is Bluetooth turned on?"

// NormalizeError maps known go-ble error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if msg == darwinPoweredOff {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	}

	classified := device.ClassifyError(err)
	var cerr *device.ConnectionError
	if errors.As(classified, &cerr) {
		return classified
	}

	switch {
	case strings.Contains(strings.ToLower(msg), "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case strings.Contains(strings.ToLower(msg), "connection is not initialized"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	default:
		return err
	}
}
