package device

import "strings"

// AddressKey returns the form device addresses are compared and keyed by: trimmed and lowercase,
// as go-ble reports them in scan results. "AA:BB:CC:DD:EE:FF" and "aa:bb:cc:dd:ee:ff" name the
// same peripheral.
func AddressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
