package daq

import (
	"encoding/binary"
	"fmt"
	"math"

	derr "github.com/radiometric/daqstore/internal/errors"
)

// DType identifies the element type of a buffer. Complex integer types store
// the real and imaginary components as consecutive integers of half the
// element width.
type DType int

const (
	// Int8 is a signed 8-bit sample.
	Int8 DType = iota
	// CInt8 is a complex sample with int8 components (2 bytes).
	CInt8
	// CInt16 is a complex sample with int16 components (4 bytes).
	CInt16
	// Uint16 is an unsigned 16-bit integrated sample.
	Uint16
	// Uint32 is an unsigned 32-bit integrated sample.
	Uint32
	// Float64 is a double precision sample.
	Float64
	// Complex64 is a complex sample with float32 components (8 bytes).
	Complex64
)

// String returns the canonical dtype name.
func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case CInt8:
		return "cint8"
	case CInt16:
		return "cint16"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Float64:
		return "float64"
	case Complex64:
		return "complex64"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// ParseDType parses a canonical dtype name.
func ParseDType(s string) (DType, error) {
	switch s {
	case "int8":
		return Int8, nil
	case "cint8":
		return CInt8, nil
	case "cint16":
		return CInt16, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	case "float64":
		return Float64, nil
	case "complex64":
		return Complex64, nil
	default:
		return Int8, fmt.Errorf("%w: %q", derr.ErrInvalidDType, s)
	}
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Int8:
		return 1
	case CInt8:
		return 2
	case CInt16:
		return 4
	case Uint16:
		return 2
	case Uint32:
		return 4
	case Float64, Complex64:
		return 8
	default:
		return 0
	}
}

// CountClipped returns the number of elements in data whose value sits at
// the dtype's min or max. For complex integer types either component
// clipping counts the element as clipped. Floating types never clip.
func (d DType) CountClipped(data []byte) int {
	clipped := 0
	switch d {
	case Int8:
		for _, b := range data {
			v := int8(b)
			if v == math.MaxInt8 || v == math.MinInt8 {
				clipped++
			}
		}
	case CInt8:
		for i := 0; i+1 < len(data); i += 2 {
			re, im := int8(data[i]), int8(data[i+1])
			if re == math.MaxInt8 || re == math.MinInt8 || im == math.MaxInt8 || im == math.MinInt8 {
				clipped++
			}
		}
	case CInt16:
		for i := 0; i+3 < len(data); i += 4 {
			re := int16(binary.LittleEndian.Uint16(data[i:]))
			im := int16(binary.LittleEndian.Uint16(data[i+2:]))
			if re == math.MaxInt16 || re == math.MinInt16 || im == math.MaxInt16 || im == math.MinInt16 {
				clipped++
			}
		}
	case Uint16:
		for i := 0; i+1 < len(data); i += 2 {
			if binary.LittleEndian.Uint16(data[i:]) == math.MaxUint16 {
				clipped++
			}
		}
	case Uint32:
		for i := 0; i+3 < len(data); i += 4 {
			if binary.LittleEndian.Uint32(data[i:]) == math.MaxUint32 {
				clipped++
			}
		}
	}
	return clipped
}
