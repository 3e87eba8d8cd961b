//go:build !darwin && !linux

package goble

import (
	"errors"
	"runtime"

	"github.com/go-ble/ble"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = func() (ble.Device, error) {
	return nil, errors.New("BLE is not supported on " + runtime.GOOS)
}
