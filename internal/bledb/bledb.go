// Package bledb resolves Bluetooth SIG assigned numbers to human-readable names.
package bledb

import "github.com/srg/blelink/internal/device"

// services maps 16-bit SIG service UUIDs to their assigned names.
var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1802": "Immediate Alert",
	"1803": "Link Loss",
	"1804": "Tx Power",
	"1805": "Current Time",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"1812": "Human Interface Device",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1819": "Location and Navigation",
	"181a": "Environmental Sensing",
	"181c": "User Data",
	"181d": "Weight Scale",
	"1826": "Fitness Machine",
	"fe59": "Nordic DFU",
}

// characteristics maps 16-bit SIG characteristic UUIDs to their assigned names.
var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a06": "Alert Level",
	"2a07": "Tx Power Level",
	"2a19": "Battery Level",
	"2a23": "System ID",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a5b": "CSC Measurement",
	"2a63": "Cycling Power Measurement",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"2ad9": "Fitness Machine Control Point",
}

// services128 maps well-known vendor 128-bit UUIDs, in canonical form, to names.
var services128 = map[string]string{
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics128 = map[string]string{
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

// LookupService returns the known name of a service UUID in any accepted form, or "".
func LookupService(uuid string) string {
	return lookup(uuid, services, services128)
}

// LookupCharacteristic returns the known name of a characteristic UUID in any accepted form, or "".
func LookupCharacteristic(uuid string) string {
	return lookup(uuid, characteristics, characteristics128)
}

func lookup(uuid string, short, long map[string]string) string {
	id := device.ShortUUID(uuid)
	if len(id) == 4 {
		return short[id]
	}
	return long[id]
}
