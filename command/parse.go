package command

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Parse builds a payload from its textual form: comma-separated "kind:value" items appended in
// order. Supported kinds are u8, i8, u16le, i16le, u32le, i32le, u16be, i16be, u32be, i32be,
// f32le and hex. Integer values accept any base strconv understands (0x1f, 0b101, 42).
//
//	command.Parse("u8:1,u16le:256,f32le:0.1,hex:0a0b")
func Parse(spec string) ([]byte, error) {
	b := NewBuilder()
	if strings.TrimSpace(spec) == "" {
		return b.Build()
	}

	for i, item := range strings.Split(spec, ",") {
		kind, value, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok {
			return nil, fmt.Errorf("item %d %q: expected kind:value", i, item)
		}
		kind = strings.ToLower(strings.TrimSpace(kind))
		value = strings.TrimSpace(value)

		switch kind {
		case "hex":
			data, err := hex.DecodeString(strings.NewReplacer(" ", "", "0x", "").Replace(value))
			if err != nil {
				return nil, fmt.Errorf("item %d %q: invalid hex data: %w", i, item, err)
			}
			b.AppendBytes(data)
		case "f32le":
			v, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return nil, fmt.Errorf("item %d %q: %w", i, item, err)
			}
			b.AppendFloat32LE(v)
		default:
			layout, known := integerKinds[kind]
			if !known {
				return nil, fmt.Errorf("item %d %q: unknown kind %q", i, item, kind)
			}
			v, err := strconv.ParseInt(value, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("item %d %q: %w", i, item, err)
			}
			b.AppendInteger(v, layout.width, layout.littleEndian, layout.signed)
		}
	}
	return b.Build()
}

type integerLayout struct {
	width        int
	littleEndian bool
	signed       bool
}

var integerKinds = map[string]integerLayout{
	"u8":    {1, true, false},
	"i8":    {1, true, true},
	"u16le": {2, true, false},
	"i16le": {2, true, true},
	"u32le": {4, true, false},
	"i32le": {4, true, true},
	"u16be": {2, false, false},
	"i16be": {2, false, true},
	"u32be": {4, false, false},
	"i32be": {4, false, true},
}
