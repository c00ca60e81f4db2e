package pressure

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/physic"
)

// Range is the full scale of a sensor variant. The raw 24-bit reading is
// divided by a per-range factor to get Pascals.
type Range int

const (
	Range2k5Pa Range = iota
	Range5kPa
	Range10kPa
	Range20kPa
	Range40kPa
	Range100kPa
	Range200kPa
	Range500kPa
	Range700kPa
	Range1000kPa
)

var ranges = []struct {
	name    string
	divisor int64
}{
	Range2k5Pa:   {"2.5kPa", 2048},
	Range5kPa:    {"5kPa", 1024},
	Range10kPa:   {"10kPa", 512},
	Range20kPa:   {"20kPa", 256},
	Range40kPa:   {"40kPa", 128},
	Range100kPa:  {"100kPa", 64},
	Range200kPa:  {"200kPa", 32},
	Range500kPa:  {"500kPa", 16},
	Range700kPa:  {"700kPa", 8},
	Range1000kPa: {"1000kPa", 8},
}

func (r Range) valid() bool {
	return r >= 0 && int(r) < len(ranges)
}

func (r Range) String() string {
	if !r.valid() {
		return fmt.Sprintf("Range(%d)", int(r))
	}
	return ranges[r].name
}

// Divisor is the number of raw counts per Pascal.
func (r Range) Divisor() int64 {
	if !r.valid() {
		return 1
	}
	return ranges[r].divisor
}

// ParseRange accepts range names such as "10kPa" (case insensitive).
func ParseRange(s string) (Range, error) {
	for i, r := range ranges {
		if strings.EqualFold(r.name, strings.TrimSpace(s)) {
			return Range(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pressure range %q", s)
}

// SignExtend24 interprets a 24-bit two's complement value.
func SignExtend24(raw uint32) int32 {
	v := int32(raw & 0xFFFFFF)
	if v >= 0x800000 {
		v -= 0x1000000
	}
	return v
}

// Convert turns a raw 24-bit reading into a pressure.
func (r Range) Convert(raw uint32) physic.Pressure {
	return physic.Pressure(SignExtend24(raw)) * physic.Pascal / physic.Pressure(r.Divisor())
}
