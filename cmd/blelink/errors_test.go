package main

import (
	"fmt"
	"testing"

	"github.com/srg/blelink/command"
	"github.com/srg/blelink/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "bluetooth off", err: fmt.Errorf("connect: %w", device.ErrBluetoothOff), contains: "Bluetooth is turned off"},
		{name: "scan timeout", err: device.ErrScanTimeout, contains: "device not found before the scan timed out"},
		{name: "scan in progress", err: fmt.Errorf("start scan: %w", device.ErrScanInProgress), contains: "another scan"},
		{name: "connection timeout", err: fmt.Errorf("connect AA: %w", device.ErrConnectionTimeout), contains: "timed out connecting"},
		{name: "connection failed", err: fmt.Errorf("connect AA: %w", device.ErrConnectionFailed), contains: "could not connect"},
		{name: "connection lost", err: ErrConnectionLost, contains: "connection to the device was lost"},
		{name: "not connected", err: fmt.Errorf("read: %w", device.ErrNotConnected), contains: "device is not connected"},
		{name: "already disconnected", err: device.ErrAlreadyDisconnected, contains: "device is not connected"},
		{
			name:     "missing characteristic",
			err:      fmt.Errorf("read: %w", &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a99"}}),
			contains: `characteristic "2a99" not found in service "180f"; run 'blelink connect`,
		},
		{
			name:     "encoding error",
			err:      &command.EncodingError{Op: "append integer", Width: 3, Err: command.ErrUnsupportedWidth},
			contains: "payloads look like",
		},
		{name: "other errors pass through", err: fmt.Errorf("boom"), contains: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestParsePayload(t *testing.T) {
	data, err := parsePayload("u8:1,u16le:256,hex:0a0b")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x01, 0x0a, 0x0b}, data)

	_, err = parsePayload("f64:1")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
