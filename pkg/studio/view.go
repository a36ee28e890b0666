package studio

import (
	"encoding/binary"
	gomath "math"

	"github.com/Faultbox/studiobones/pkg/encoding"
	"github.com/Faultbox/studiobones/pkg/math"
)

// view is a bounds-checked little-endian reader over a byte slice. Reads
// outside the slice return the zero value instead of panicking.
type view struct {
	b []byte
}

func (v view) ok(off, n int) bool {
	return off >= 0 && n >= 0 && off <= len(v.b)-n
}

func (v view) u8(off int) uint8 {
	if !v.ok(off, 1) {
		return 0
	}
	return v.b[off]
}

func (v view) u16(off int) uint16 {
	if !v.ok(off, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(v.b[off:])
}

func (v view) i16(off int) int16 {
	return int16(v.u16(off))
}

func (v view) u32(off int) uint32 {
	if !v.ok(off, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(v.b[off:])
}

func (v view) i32(off int) int32 {
	return int32(v.u32(off))
}

func (v view) int(off int) int {
	return int(v.i32(off))
}

func (v view) u64(off int) uint64 {
	if !v.ok(off, 8) {
		return 0
	}
	return binary.LittleEndian.Uint64(v.b[off:])
}

func (v view) f32(off int) float32 {
	return gomath.Float32frombits(v.u32(off))
}

func (v view) vec3(off int) math.Vec3 {
	return math.Vec3{X: v.f32(off), Y: v.f32(off + 4), Z: v.f32(off + 8)}
}

func (v view) quat(off int) math.Quat {
	if !v.ok(off, 16) {
		return math.QuatIdentity()
	}
	return math.Quat{X: v.f32(off), Y: v.f32(off + 4), Z: v.f32(off + 8), W: v.f32(off + 12)}
}

func (v view) mat3x4(off int) math.Mat3x4 {
	if !v.ok(off, 48) {
		return math.Identity3x4()
	}
	var m math.Mat3x4
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = v.f32(off + (i*4+j)*4)
		}
	}
	return m
}

// str reads a NUL-terminated string. Offset 0 relative to a record means
// "no string", so callers pass base+rel only when rel != 0.
func (v view) str(off int) string {
	if off <= 0 || off >= len(v.b) {
		return ""
	}
	return encoding.CString(v.b[off:])
}

// rel resolves a record-relative string offset.
func (v view) rel(base, rel int) string {
	if rel == 0 {
		return ""
	}
	return v.str(base + rel)
}

// fixed reads a NUL-padded string field of n bytes.
func (v view) fixed(off, n int) string {
	if !v.ok(off, n) {
		return ""
	}
	return encoding.FixedStringToUTF8(v.b[off : off+n])
}

// float16 decodes an IEEE 754 half precision value.
func float16(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)
	switch exp {
	case 0:
		if mant == 0 {
			return gomath.Float32frombits(sign)
		}
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return gomath.Float32frombits(sign | e<<23 | mant<<13)
	case 31:
		return gomath.Float32frombits(sign | 0xff<<23 | mant<<13)
	}
	return gomath.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}

// toFloat16 encodes f as half precision, truncating the mantissa and
// saturating to the largest finite half.
func toFloat16(f float32) uint16 {
	b := gomath.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int((b>>23)&0xff) - 127 + 15
	mant := b & 0x7fffff
	switch {
	case exp >= 31:
		return sign | 0x7bff
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		return sign | uint16(mant>>uint(14-exp))
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}
