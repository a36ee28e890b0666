package studio

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/studiobones/pkg/math"
)

// span is a count/offset pair; index is relative to the owning record.
type span struct {
	count, index int
}

// AnimDesc describes one raw animation clip.
type AnimDesc struct {
	Name          string
	FPS           float32
	Flags         int32
	NumFrames     int
	BBMin         math.Vec3
	BBMax         math.Vec3
	Block         int
	SectionFrames int

	Movements      []Movement
	IKRules        []IKRule
	LocalHierarchy []LocalHierarchy

	legacy       bool
	numBones     int
	src          view
	base         int
	animIndex    int
	movements    span
	ikRules      span
	hierarchy    span
	sectionIndex int
}

// Delta reports whether the clip is additive.
func (a *AnimDesc) Delta() bool { return a.Flags&SeqDelta != 0 }

// Looping reports whether the clip wraps.
func (a *AnimDesc) Looping() bool { return a.Flags&SeqLooping != 0 }

// AllZeros reports whether the clip is known to contribute nothing.
func (a *AnimDesc) AllZeros() bool { return a.Flags&SeqAllZeros != 0 }

// section resolves which data block, offset and local frame hold frame.
// Long sectioned clips store their final frame in a section of its own.
func (a *AnimDesc) section(frame int) (block, index, local int) {
	block, index, local = a.Block, a.animIndex, frame
	if a.legacy || a.SectionFrames <= 0 {
		return block, index, local
	}
	var s int
	if a.NumFrames > a.SectionFrames && frame == a.NumFrames-1 {
		s = a.NumFrames/a.SectionFrames + 1
		local = 0
	} else {
		s = frame / a.SectionFrames
		local = frame - s*a.SectionFrames
	}
	off := a.base + a.sectionIndex + s*sizeAnimSection
	return a.src.int(off), a.src.int(off + 4), local
}

// Cursor walks the per-bone tracks of one clip in ascending bone order.
type Cursor struct {
	v        view
	off      int
	legacy   bool
	delta    bool
	numBones int
	done     bool
}

// Seek returns the track for bone, if the clip animates it. Calls must use
// non-decreasing bone indices.
func (c *Cursor) Seek(bone int) (Track, bool) {
	if c.legacy {
		if bone < 0 || bone >= c.numBones {
			return Track{}, false
		}
		return Track{v: c.v, off: c.off + bone*sizeLegacyTrack, legacy: true, delta: c.delta}, true
	}
	for !c.done {
		if !c.v.ok(c.off, 4) {
			c.done = true
			break
		}
		b := int(c.v.u8(c.off))
		if b > bone {
			return Track{}, false
		}
		if b == bone {
			return Track{v: c.v, off: c.off, flags: c.v.u8(c.off + 1)}, true
		}
		next := int(c.v.i16(c.off + 2))
		if next <= 0 {
			c.done = true
			break
		}
		c.off += next
	}
	return Track{}, false
}

// Track is one bone's curve data inside a clip.
type Track struct {
	v      view
	off    int
	flags  uint8
	legacy bool
	delta  bool
}

// Flags returns the modern track flags; legacy tracks report 0.
func (t Track) Flags() uint8 { return t.flags }

// Delta reports whether decoded values are additive.
func (t Track) Delta() bool {
	if t.legacy {
		return t.delta
	}
	return t.flags&TrackDelta != 0
}

// Rotation decodes the bone's local rotation at frame, blended toward the
// next frame by s.
func (t Track) Rotation(frame int, s float32, b *Bone) math.Quat {
	if t.legacy {
		return t.legacyRotation(frame, s, b)
	}

	data := t.off + 4
	switch {
	case t.flags&TrackRawRot != 0:
		return quat48(t.v, data)
	case t.flags&TrackRawRot2 != 0:
		return quat64(t.v, data)
	case t.flags&TrackAnimRot == 0:
		if t.flags&TrackDelta != 0 {
			return math.QuatIdentity()
		}
		return b.Quat
	}

	offs := t.valuePtr(data)
	a1, a2 := extractVec(t.v, offs, frame, b.RotScale)
	if t.flags&TrackDelta == 0 {
		a1 = a1.Add(b.Rot)
		a2 = a2.Add(b.Rot)
	}
	q := eulerBlend(a1, a2, s)
	if t.flags&TrackDelta == 0 && b.Flags&BoneFixedAlignment != 0 {
		q = b.QAlignment.Align(q)
	}
	return q
}

func (t Track) legacyRotation(frame int, s float32, b *Bone) math.Quat {
	offs := t.legacyPtrs(3)
	if offs == [3]int{} && !t.delta {
		return b.Quat
	}
	a1, a2 := extractVec(t.v, offs, frame, b.RotScale)
	if !t.delta {
		// Constant channels decode as 0 and so take the bind value.
		a1 = a1.Add(b.Rot)
		a2 = a2.Add(b.Rot)
	}
	q := eulerBlend(a1, a2, s)
	if !t.delta && b.Flags&BoneFixedAlignment != 0 {
		q = b.QAlignment.Align(q)
	}
	return q
}

// Position decodes the bone's local position at frame, blended toward the
// next frame by s.
func (t Track) Position(frame int, s float32, b *Bone) math.Vec3 {
	if t.legacy {
		offs := t.legacyPtrs(0)
		p1, p2 := extractVec(t.v, offs, frame, b.PosScale)
		p := p1.Lerp(p2, s)
		if !t.delta {
			p = p.Add(b.Pos)
		}
		return p
	}

	data := t.posOffset()
	if t.flags&TrackRawPos != 0 {
		return vector48(t.v, data)
	}
	if t.flags&TrackAnimPos == 0 {
		if t.flags&TrackDelta != 0 {
			return math.Vec3{}
		}
		return b.Pos
	}
	p1, p2 := extractVec(t.v, t.valuePtr(data), frame, b.PosScale)
	p := math.Vec3{
		X: p1.X*(1-s) + p2.X*s,
		Y: p1.Y*(1-s) + p2.Y*s,
		Z: p1.Z*(1-s) + p2.Z*s,
	}
	if t.flags&TrackDelta == 0 {
		p = p.Add(b.Pos)
	}
	return p
}

// posOffset locates the position data, which follows the rotation data.
func (t Track) posOffset() int {
	data := t.off + 4
	switch {
	case t.flags&TrackRawRot != 0:
		data += 6
	case t.flags&TrackRawRot2 != 0:
		data += 8
	case t.flags&TrackAnimRot != 0:
		data += 6
	}
	return data
}

// valuePtr resolves three record-relative channel offsets; 0 means none.
func (t Track) valuePtr(ptr int) [3]int {
	var offs [3]int
	for i := range offs {
		if o := int(t.v.i16(ptr + i*2)); o > 0 {
			offs[i] = ptr + o
		}
	}
	return offs
}

func (t Track) legacyPtrs(first int) [3]int {
	var offs [3]int
	for i := range offs {
		if o := int(t.v.u16(t.off + (first+i)*2)); o != 0 {
			offs[i] = t.off + o
		}
	}
	return offs
}

// ExtractAnimValue decodes the run-length encoded channel in span at frame,
// returning the value at frame and at frame+1, both multiplied by scale.
func ExtractAnimValue(span []byte, frame int, scale float32) (v1, v2 float32) {
	if len(span) == 0 {
		return 0, 0
	}
	// Offset 0 means "no data" internally; shift by one byte.
	v := view{b: append([]byte{0}, span...)}
	return extractAnimValue(v, 1, frame, scale)
}

// extractAnimValue walks the span list starting at off. Each span is a
// (valid, total) byte pair followed by valid shorts; frames past valid
// repeat the last value. The frame+1 sample for a span's final frame comes
// from the first value of the next span.
func extractAnimValue(v view, off, frame int, scale float32) (v1, v2 float32) {
	if off <= 0 {
		return 0, 0
	}
	k := frame
	if k < 0 {
		k = 0
	}
	for {
		total := int(v.u8(off + 1))
		if total == 0 {
			return 0, 0
		}
		if total > k {
			break
		}
		k -= total
		off += (int(v.u8(off)) + 1) * 2
	}

	valid := int(v.u8(off))
	total := int(v.u8(off + 1))
	value := func(i int) float32 { return float32(v.i16(off+i*2)) * scale }

	if valid > k {
		v1 = value(k + 1)
		switch {
		case valid > k+1:
			v2 = value(k + 2)
		case total > k+1:
			v2 = v1
		default:
			v2 = value(valid + 2)
		}
		return v1, v2
	}
	v1 = value(valid)
	if total > k+1 {
		v2 = v1
	} else {
		v2 = value(valid + 2)
	}
	return v1, v2
}

func extractVec(v view, offs [3]int, frame int, scale math.Vec3) (a, b math.Vec3) {
	a.X, b.X = extractAnimValue(v, offs[0], frame, scale.X)
	a.Y, b.Y = extractAnimValue(v, offs[1], frame, scale.Y)
	a.Z, b.Z = extractAnimValue(v, offs[2], frame, scale.Z)
	return a, b
}

func eulerBlend(a1, a2 math.Vec3, s float32) math.Quat {
	if s > 0.001 && a1 != a2 {
		return math.AngleQuaternion(a1).Blend(math.AngleQuaternion(a2), s)
	}
	return math.AngleQuaternion(a1)
}

// quat48 decodes a 48-bit quaternion: 16-bit x and y, 15-bit z and the sign
// of w in the top bit. w is rebuilt from unit length.
func quat48(v view, off int) math.Quat {
	x := v.u16(off)
	y := v.u16(off + 2)
	zw := v.u16(off + 4)
	q := math.Quat{
		X: (float32(x) - 32768) * (1 / 32768.0),
		Y: (float32(y) - 32768) * (1 / 32768.0),
		Z: (float32(zw&0x7fff) - 16384) * (1 / 16384.0),
	}
	q.W = math32.Sqrt(math32.Max(0, 1-q.X*q.X-q.Y*q.Y-q.Z*q.Z))
	if zw>>15 != 0 {
		q.W = -q.W
	}
	return q
}

// quat64 decodes a 64-bit quaternion with 21-bit components.
func quat64(v view, off int) math.Quat {
	u := v.u64(off)
	q := math.Quat{
		X: (float32(u&0x1fffff) - 1048576) * (1 / 1048576.5),
		Y: (float32((u>>21)&0x1fffff) - 1048576) * (1 / 1048576.5),
		Z: (float32((u>>42)&0x1fffff) - 1048576) * (1 / 1048576.5),
	}
	q.W = math32.Sqrt(math32.Max(0, 1-q.X*q.X-q.Y*q.Y-q.Z*q.Z))
	if u>>63 != 0 {
		q.W = -q.W
	}
	return q
}

func vector48(v view, off int) math.Vec3 {
	return math.Vec3{
		X: float16(v.u16(off)),
		Y: float16(v.u16(off + 2)),
		Z: float16(v.u16(off + 4)),
	}
}

// IKRule is one IK target track extracted from a clip.
type IKRule struct {
	Index      int
	Type       IKType
	Chain      int
	Bone       int
	Slot       int
	Height     float32
	Radius     float32
	Floor      float32
	Pos        math.Vec3
	Q          math.Quat
	Start      float32
	Peak       float32
	Tail       float32
	End        float32
	Contact    float32
	Drop       float32
	Top        float32
	IStart     int
	Attachment string

	// Errors and CompressedError hold the per-frame target samples when a
	// model is built in memory for encoding. Parsed rules read them lazily.
	Errors          []IKError
	CompressedError *CompressedAnim

	src     view
	errOff  int
	compOff int
}

// HasError reports whether the rule carries per-frame target data.
func (r *IKRule) HasError() bool {
	return r.errOff != 0 || r.compOff != 0
}

// Error samples the rule's target at frame, blended toward frame+1 by fraq.
// ok is false when the rule has no target data.
func (r *IKRule) Error(frame int, fraq float32) (pos math.Vec3, q math.Quat, ok bool) {
	k := frame - r.IStart
	if r.errOff != 0 && k >= 0 {
		off := r.errOff + k*sizeIKError
		if r.src.ok(off, sizeIKError) {
			p0, q0 := r.src.vec3(off), r.src.quat(off+12)
			if fraq < 0.001 {
				return p0, q0, true
			}
			p1, q1 := r.src.vec3(off+sizeIKError), r.src.quat(off+sizeIKError+12)
			return p0.Lerp(p1, fraq), q0.Blend(q1, fraq), true
		}
	}
	if r.compOff != 0 {
		pos, q = decompress(r.src, r.compOff, k, fraq)
		return pos, q, true
	}
	return math.Vec3{}, math.QuatIdentity(), false
}

// LocalHierarchy temporarily reparents a bone inside an envelope.
type LocalHierarchy struct {
	Bone      int
	NewParent int
	Start     float32
	Peak      float32
	Tail      float32
	End       float32
	IStart    int

	// Anim is the in-memory form used for encoding.
	Anim *CompressedAnim

	src     view
	animOff int
}

// Sample returns the bone's transform relative to its new parent.
func (l *LocalHierarchy) Sample(frame int, fraq float32) (math.Vec3, math.Quat) {
	if l.animOff == 0 {
		return math.Vec3{}, math.QuatIdentity()
	}
	return decompress(l.src, l.animOff, frame-l.IStart, fraq)
}

// decompress samples a six channel compressed clip: scale[6] floats then
// six record-relative channel offsets.
func decompress(v view, off, frame int, fraq float32) (math.Vec3, math.Quat) {
	var offs [6]int
	for i := range offs {
		if o := int(v.i16(off + 24 + i*2)); o > 0 {
			offs[i] = off + o
		}
	}
	scale := func(i int) math.Vec3 {
		return math.Vec3{X: v.f32(off + i*4), Y: v.f32(off + (i+1)*4), Z: v.f32(off + (i+2)*4)}
	}
	posOffs := [3]int{offs[0], offs[1], offs[2]}
	rotOffs := [3]int{offs[3], offs[4], offs[5]}

	p1, p2 := extractVec(v, posOffs, frame, scale(0))
	a1, a2 := extractVec(v, rotOffs, frame, scale(3))
	if fraq > 0.0001 {
		return p1.Lerp(p2, fraq), eulerBlend(a1, a2, fraq)
	}
	return p1, math.AngleQuaternion(a1)
}

// decodeChannel expands a run-length channel into one raw value per frame.
func decodeChannel(v view, off, frames int) []int16 {
	if off == 0 || frames <= 0 {
		return nil
	}
	out := make([]int16, frames)
	for f := range out {
		x, _ := extractAnimValue(v, off, f, 1)
		out[f] = int16(x)
	}
	return out
}

func readCompressed(v view, off, frames int) *CompressedAnim {
	if off == 0 {
		return nil
	}
	c := &CompressedAnim{}
	for i := 0; i < 6; i++ {
		c.Scale[i] = v.f32(off + i*4)
		if o := int(v.i16(off + 24 + i*2)); o > 0 {
			c.Channels[i] = decodeChannel(v, off+o, frames)
		}
	}
	return c
}
