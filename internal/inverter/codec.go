package inverter

import (
	"math"
	"strings"
)

// ScaledValue converts a raw register to its physical value.
func ScaledValue(raw uint16, scale float64) float64 {
	return float64(raw) * scale
}

// RawValue is the inverse of ScaledValue, rounded to the nearest register value.
func RawValue(physical, scale float64) uint16 {
	if scale == 0 {
		scale = 1
	}
	v := math.Round(physical / scale)
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(v)
}

// DecodeText unpacks two characters per register, high byte first.
func DecodeText(values []uint16) string {
	var b strings.Builder
	b.Grow(len(values) * 2)
	for _, v := range values {
		b.WriteRune(rune(v >> 8))
		b.WriteRune(rune(v & 0xFF))
	}
	return b.String()
}

// EncodeText packs s into n registers, padding with spaces.
func EncodeText(s string, n int) []uint16 {
	buf := []byte(s)
	for len(buf) < n*2 {
		buf = append(buf, ' ')
	}

	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
	}
	return out
}
