package command

import (
	"encoding/hex"
	"maps"
	"slices"
	"strings"
)

// AD structure types (Bluetooth Core Supplement, part A, section 1).
const (
	adFlags            = 0x01
	adComplete16       = 0x03
	adComplete128      = 0x07
	adCompleteName     = 0x09
	adTxPower          = 0x0A
	adServiceData16    = 0x16
	adManufacturerData = 0xFF

	// LE General Discoverable, BR/EDR not supported
	flagsGeneralDiscoverable = 0x06
)

// Advertisement holds the parsed fields of an advertising packet.
type Advertisement struct {
	Name             string
	Services         []string
	ManufacturerData []byte
	ServiceData      map[string][]byte
	TxPower          *int
	Connectable      bool
}

// EncodeAdvertisement rebuilds the raw AD payload (length, type, data triplets) for adv.
// Services are accepted in 16-bit or 128-bit form; anything else is skipped. Service data is
// encoded only for 16-bit service UUIDs, in UUID order.
func EncodeAdvertisement(adv Advertisement) []byte {
	b := NewBuilder()

	if adv.Connectable {
		appendAD(b, adFlags, []byte{flagsGeneralDiscoverable})
	}

	var short, long []byte
	for _, s := range adv.Services {
		raw, ok := uuidBytes(s)
		if !ok {
			continue
		}
		if len(raw) == 2 {
			short = append(short, raw...)
		} else {
			long = append(long, raw...)
		}
	}
	if len(short) > 0 {
		appendAD(b, adComplete16, short)
	}
	if len(long) > 0 {
		appendAD(b, adComplete128, long)
	}

	if adv.Name != "" {
		appendAD(b, adCompleteName, []byte(adv.Name))
	}
	if adv.TxPower != nil {
		appendAD(b, adTxPower, NewBuilder().AppendInt8(int64(*adv.TxPower)).Bytes())
	}
	for _, id := range slices.Sorted(maps.Keys(adv.ServiceData)) {
		raw, ok := uuidBytes(id)
		if !ok || len(raw) != 2 {
			continue
		}
		appendAD(b, adServiceData16, append(raw, adv.ServiceData[id]...))
	}
	if len(adv.ManufacturerData) > 0 {
		appendAD(b, adManufacturerData, adv.ManufacturerData)
	}
	return b.Bytes()
}

func appendAD(b *Builder, typ byte, data []byte) {
	// An AD length byte covers the type byte plus the data.
	if len(data) > 254 {
		data = data[:254]
	}
	b.AppendUint8(int64(len(data) + 1)).AppendUint8(int64(typ)).AppendBytes(data)
}

// uuidBytes returns the little-endian over-the-air form of a 16-bit or 128-bit UUID.
func uuidBytes(id string) ([]byte, bool) {
	c := strings.TrimPrefix(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", "")), "0x")
	if len(c) != 4 && len(c) != 32 {
		return nil, false
	}
	raw, err := hex.DecodeString(c)
	if err != nil {
		return nil, false
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return raw, true
}
