package studio

import (
	"encoding/binary"
	gomath "math"

	"github.com/Faultbox/studiobones/pkg/encoding"
	"github.com/Faultbox/studiobones/pkg/math"
)

// wbuf is a growable little-endian writer. Strings are collected during
// encoding and pooled at the end of the file, where their record-relative
// offsets are patched in.
type wbuf struct {
	b    []byte
	strs []strRef
}

type strRef struct {
	at, base int
	s        string
}

// alloc reserves n zeroed bytes at the next 4-byte boundary.
func (w *wbuf) alloc(n int) int {
	off := (len(w.b) + 3) &^ 3
	w.b = append(w.b, make([]byte, off+n-len(w.b))...)
	return off
}

// put appends p at the next 2-byte boundary.
func (w *wbuf) put(p []byte) int {
	if len(w.b)%2 != 0 {
		w.b = append(w.b, 0)
	}
	off := len(w.b)
	w.b = append(w.b, p...)
	return off
}

func (w *wbuf) u8(off int, x uint8)    { w.b[off] = x }
func (w *wbuf) u16(off int, x uint16)  { binary.LittleEndian.PutUint16(w.b[off:], x) }
func (w *wbuf) i16(off int, x int16)   { w.u16(off, uint16(x)) }
func (w *wbuf) u32(off int, x uint32)  { binary.LittleEndian.PutUint32(w.b[off:], x) }
func (w *wbuf) i32(off int, x int32)   { w.u32(off, uint32(x)) }
func (w *wbuf) int(off int, x int)     { w.i32(off, int32(x)) }
func (w *wbuf) u64(off int, x uint64)  { binary.LittleEndian.PutUint64(w.b[off:], x) }
func (w *wbuf) f32(off int, x float32) { w.u32(off, gomath.Float32bits(x)) }

func (w *wbuf) vec3(off int, v math.Vec3) {
	w.f32(off, v.X)
	w.f32(off+4, v.Y)
	w.f32(off+8, v.Z)
}

func (w *wbuf) quat(off int, q math.Quat) {
	w.f32(off, q.X)
	w.f32(off+4, q.Y)
	w.f32(off+8, q.Z)
	w.f32(off+12, q.W)
}

func (w *wbuf) mat3x4(off int, m math.Mat3x4) {
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			w.f32(off+(r*4+c)*4, m[r][c])
		}
	}
}

func (w *wbuf) fixed(off, n int, s string) {
	copy(w.b[off:off+n], encoding.UTF8ToFixedString(s, n))
}

// str schedules s to be written to the pool with its offset, relative to
// base, stored at at. Empty strings are stored as offset 0.
func (w *wbuf) str(at, base int, s string) {
	if s != "" {
		w.strs = append(w.strs, strRef{at: at, base: base, s: s})
	}
}

// bytes writes the string pool and returns the finished buffer.
func (w *wbuf) bytes() []byte {
	pool := make(map[string]int, len(w.strs))
	for _, r := range w.strs {
		off, ok := pool[r.s]
		if !ok {
			off = len(w.b)
			w.b = append(w.b, encoding.UTF8ToCP1252(r.s)...)
			w.b = append(w.b, 0)
			pool[r.s] = off
		}
		w.int(r.at, off-r.base)
	}
	w.strs = nil
	w.alloc(0)
	return w.b
}
