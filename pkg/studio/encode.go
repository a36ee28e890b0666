package studio

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chewxy/math32"

	"github.com/Faultbox/studiobones/pkg/math"
)

// ErrEncode is returned when a Model cannot be represented in the requested
// layout.
var ErrEncode = errors.New("model cannot be encoded")

// Model is the in-memory form of a model used for writing files. Describe
// builds one from a parsed Header.
type Model struct {
	Name          string
	Version       int32 // 0 selects the default version of the layout
	Checksum      int32
	EyePosition   math.Vec3
	IllumPosition math.Vec3
	HullMin       math.Vec3
	HullMax       math.Vec3
	ViewBBMin     math.Vec3
	ViewBBMax     math.Vec3
	Flags         int32
	Mass          float32
	Contents      int32
	SurfaceProp   string
	KeyValues     string

	Bones         []Bone
	Controllers   []BoneController
	HitboxSets    []HitboxSet
	Animations    []Animation
	Sequences     []SeqDesc
	Textures      []Texture
	Attachments   []Attachment
	FlexDescs     []string
	IKChains      []IKChain
	PoseParams    []PoseParam
	AutoplayLocks []IKLock
	Header2       *Header2
}

// Animation is a clip with its per-bone tracks.
type Animation struct {
	AnimDesc
	Tracks []BoneTrack
}

// RotEncoding selects how a track stores rotation.
type RotEncoding uint8

const (
	RotDefault RotEncoding = iota // bind rotation, or identity for delta tracks
	RotQuat48
	RotQuat64
	RotAnim
)

// PosEncoding selects how a track stores position.
type PosEncoding uint8

const (
	PosDefault PosEncoding = iota // bind position, or zero for delta tracks
	PosVector48
	PosAnim
)

// BoneTrack is one bone's curve data. Animated channels hold one raw value
// per frame; the bone's RotScale and PosScale convert them to radians and
// units. A nil channel is constant zero.
type BoneTrack struct {
	Bone      int
	Delta     bool
	Rot       RotEncoding
	Pos       PosEncoding
	Quat      math.Quat
	Vec       math.Vec3
	RotFrames [3][]int16
	PosFrames [3][]int16
}

// DefaultVersion returns the version written for a layout when a Model
// leaves Version unset.
func DefaultVersion(l Layout) int32 {
	if l == LayoutModern {
		return Version48
	}
	return VersionLegacy
}

// Encode writes m in the given layout.
func Encode(m *Model, kind Layout) ([]byte, error) {
	version := m.Version
	if version == 0 {
		version = DefaultVersion(kind)
	}
	if got, ok := LayoutForVersion(version); !ok || got != kind {
		return nil, fmt.Errorf("%w: version %d in %s layout", ErrUnsupportedVersion, version, kind)
	}
	if len(m.Bones) > MaxBones {
		return nil, fmt.Errorf("%w: %d bones", ErrEncode, len(m.Bones))
	}

	e := &encoder{m: m, l: layoutFor(kind), w: &wbuf{}}
	e.header(version)
	e.bones()
	e.controllers()
	e.hitboxSets()
	e.anims()
	e.seqs()
	e.textures()
	e.attachments()
	e.flexDescs()
	e.ikChains()
	e.poseParams()
	e.setField(fNumAutoplayLocks, len(m.AutoplayLocks))
	e.setField(fAutoplayLockIndex, e.ikLocks(m.AutoplayLocks))
	e.seqGroups()
	e.header2(version)
	if e.err != nil {
		return nil, e.err
	}

	if m.KeyValues != "" {
		off := e.w.put(append([]byte(m.KeyValues), 0))
		e.setField(fKeyValueIndex, off)
		e.setField(fKeyValueSize, len(m.KeyValues)+1)
	}
	out := e.w.bytes()
	e.w.int(hdrLength, len(out))
	return out, nil
}

type encoder struct {
	m   *Model
	l   layout
	w   *wbuf
	err error
}

func (e *encoder) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: "+format, append([]any{ErrEncode}, args...)...)
	}
}

func (e *encoder) setField(f field, x int) {
	if off := e.l.offset(f); off >= 0 {
		e.w.int(off, x)
	}
}

func (e *encoder) header(version int32) {
	m, w := e.m, e.w
	w.alloc(e.l.headerSize())
	copy(w.b[hdrID:], ID)
	w.i32(hdrVersion, version)
	w.i32(hdrChecksum, m.Checksum)
	w.fixed(hdrName, hdrNameLen, m.Name)
	w.vec3(hdrEyePosition, m.EyePosition)
	w.vec3(hdrIllumPosition, m.IllumPosition)
	w.vec3(hdrHullMin, m.HullMin)
	w.vec3(hdrHullMax, m.HullMax)
	w.vec3(hdrViewBBMin, m.ViewBBMin)
	w.vec3(hdrViewBBMax, m.ViewBBMax)
	w.i32(hdrFlags, m.Flags)
	if off := e.l.offset(fMass); off >= 0 {
		w.f32(off, m.Mass)
	}
	e.setField(fContents, int(m.Contents))
	if off := e.l.offset(fSurfaceProp); off >= 0 {
		w.str(off, 0, m.SurfaceProp)
	}
}

func (e *encoder) bones() {
	bones := e.m.Bones
	if len(bones) == 0 {
		return
	}
	size := e.l.boneSize()
	base := e.w.alloc(len(bones) * size)
	e.w.int(hdrNumBones, len(bones))
	e.w.int(hdrBoneIndex, base)
	for i := range bones {
		off := base + i*size
		e.l.encodeBone(e.w, off, &bones[i])
		if p := bones[i].Proc; p != nil {
			if !e.l.supportsProc(p.ProcType()) {
				e.fail("bone %q: %s not supported by %s layout", bones[i].Name, p.ProcType(), e.l.Kind())
				continue
			}
			e.w.i32(off+e.l.boneProcOffset(), int32(p.ProcType()))
			e.w.int(off+e.l.boneProcOffset()+4, e.procedural(p)-off)
		}
	}
}

func (e *encoder) procedural(p Procedural) int {
	w := e.w
	switch p := p.(type) {
	case *AxisInterp:
		off := w.alloc(sizeAxisInterp)
		w.int(off, p.Control)
		w.int(off+4, p.Axis)
		for i := 0; i < 6; i++ {
			w.vec3(off+8+i*12, p.Pos[i])
			w.quat(off+80+i*16, p.Quat[i])
		}
		return off
	case *QuatInterp:
		off := w.alloc(sizeQuatInterp)
		w.int(off, p.Control)
		w.int(off+4, len(p.Triggers))
		if len(p.Triggers) > 0 {
			t := w.alloc(len(p.Triggers) * sizeQuatTrigger)
			w.int(off+8, t-off)
			for i, tr := range p.Triggers {
				r := t + i*sizeQuatTrigger
				w.f32(r, tr.InvTolerance)
				w.quat(r+4, tr.Trigger)
				w.vec3(r+20, tr.Pos)
				w.quat(r+32, tr.Quat)
			}
		}
		return off
	case *AimAt:
		off := w.alloc(sizeAimAt)
		w.int(off, p.Parent)
		w.int(off+4, p.Aim)
		w.vec3(off+8, p.AimVector)
		w.vec3(off+20, p.UpVector)
		w.vec3(off+32, p.BasePos)
		return off
	case *Jiggle:
		off := w.alloc(sizeJiggle)
		w.i32(off, p.Flags)
		fields := []float32{
			p.Length, p.TipMass,
			p.YawStiffness, p.YawDamping, p.PitchStiff, p.PitchDamping, p.AlongStiff, p.AlongDamping,
			p.AngleLimit,
			p.MinYaw, p.MaxYaw, p.YawFriction, p.YawBounce,
			p.MinPitch, p.MaxPitch, p.PitchFriction, p.PitchBounce,
			p.BaseMass, p.BaseStiffness, p.BaseDamping,
			p.BaseMinLeft, p.BaseMaxLeft, p.BaseLeftFric,
			p.BaseMinUp, p.BaseMaxUp, p.BaseUpFric,
			p.BaseMinFwd, p.BaseMaxFwd, p.BaseFwdFric,
		}
		for i, f := range fields {
			w.f32(off+4+i*4, f)
		}
		return off
	}
	return 0
}

func (e *encoder) controllers() {
	cs := e.m.Controllers
	if len(cs) == 0 {
		return
	}
	base := e.w.alloc(len(cs) * sizeBoneController)
	e.w.int(hdrNumBoneControllers, len(cs))
	e.w.int(hdrBoneControllerIndex, base)
	for i, c := range cs {
		r := base + i*sizeBoneController
		e.w.int(r, c.Bone)
		e.w.i32(r+4, c.Type)
		e.w.f32(r+8, c.Start)
		e.w.f32(r+12, c.End)
		e.w.int(r+16, c.Rest)
		e.w.int(r+20, c.InputField)
	}
}

func (e *encoder) hitboxSets() {
	sets := e.m.HitboxSets
	if len(sets) == 0 {
		return
	}
	w := e.w
	base := w.alloc(len(sets) * sizeHitboxSet)
	w.int(hdrNumHitboxSets, len(sets))
	w.int(hdrHitboxSetIndex, base)
	for i, s := range sets {
		r := base + i*sizeHitboxSet
		w.str(r, r, s.Name)
		w.int(r+4, len(s.Hitboxes))
		if len(s.Hitboxes) == 0 {
			continue
		}
		hb := w.alloc(len(s.Hitboxes) * sizeHitbox)
		w.int(r+8, hb-r)
		for j, b := range s.Hitboxes {
			k := hb + j*sizeHitbox
			w.int(k, b.Bone)
			w.int(k+4, b.Group)
			w.vec3(k+8, b.BBMin)
			w.vec3(k+20, b.BBMax)
			w.str(k+32, k, b.Name)
		}
	}
}

func (e *encoder) anims() {
	anims := e.m.Animations
	if len(anims) == 0 {
		return
	}
	size := e.l.animDescSize()
	base := e.w.alloc(len(anims) * size)
	e.w.int(hdrNumLocalAnim, len(anims))
	e.w.int(hdrLocalAnimIndex, base)
	for i := range anims {
		e.anim(base+i*size, &anims[i])
	}
}

func (e *encoder) anim(r int, anim *Animation) {
	w := e.w
	a := anim.AnimDesc
	a.Block, a.SectionFrames, a.sectionIndex = 0, 0, 0
	a.movements, a.ikRules, a.hierarchy = span{}, span{}, span{}

	if e.l.Kind() == LayoutLegacy {
		a.animIndex = e.legacyTracks(anim) - r
	} else {
		a.animIndex = e.modernTracks(anim) - r
	}

	if len(a.Movements) > 0 {
		off := w.alloc(len(a.Movements) * sizeMovement)
		a.movements = span{len(a.Movements), off - r}
		for j, m := range a.Movements {
			k := off + j*sizeMovement
			w.int(k, m.EndFrame)
			w.i32(k+4, m.MotionFlags)
			w.f32(k+8, m.V0)
			w.f32(k+12, m.V1)
			w.f32(k+16, m.Angle)
			w.vec3(k+20, m.Vector)
			w.vec3(k+32, m.Position)
		}
	}

	if len(a.IKRules) > 0 {
		size := e.l.ikRuleSize()
		off := w.alloc(len(a.IKRules) * size)
		a.ikRules = span{len(a.IKRules), off - r}
		for j := range a.IKRules {
			rule := a.IKRules[j]
			k := off + j*size
			rule.errOff, rule.compOff = 0, 0
			if len(rule.Errors) > 0 {
				rule.errOff = w.alloc(len(rule.Errors) * sizeIKError)
				for n, ie := range rule.Errors {
					w.vec3(rule.errOff+n*sizeIKError, ie.Pos)
					w.quat(rule.errOff+n*sizeIKError+12, ie.Q)
				}
			}
			if rule.CompressedError != nil {
				if e.l.Kind() == LayoutLegacy {
					e.fail("animation %q: compressed ik error in legacy layout", a.Name)
				} else {
					rule.compOff = e.compressed(rule.CompressedError)
				}
			}
			e.l.encodeIKRule(w, k, &rule)
		}
	}

	if len(a.LocalHierarchy) > 0 {
		if e.l.Kind() == LayoutLegacy {
			e.fail("animation %q: local hierarchy in legacy layout", a.Name)
		} else {
			off := w.alloc(len(a.LocalHierarchy) * sizeLocalHierarchy)
			a.hierarchy = span{len(a.LocalHierarchy), off - r}
			for j, lh := range a.LocalHierarchy {
				k := off + j*sizeLocalHierarchy
				w.int(k, lh.Bone)
				w.int(k+4, lh.NewParent)
				w.f32(k+8, lh.Start)
				w.f32(k+12, lh.Peak)
				w.f32(k+16, lh.Tail)
				w.f32(k+20, lh.End)
				w.int(k+24, lh.IStart)
				if lh.Anim != nil {
					w.int(k+28, e.compressed(lh.Anim)-k)
				}
			}
		}
	}

	e.l.encodeAnimDesc(w, r, &a)
}

// compressed writes a six channel clip and returns its offset.
func (e *encoder) compressed(c *CompressedAnim) int {
	w := e.w
	off := w.alloc(sizeCompressed)
	for i := 0; i < 6; i++ {
		w.f32(off+i*4, c.Scale[i])
		if len(c.Channels[i]) == 0 {
			continue
		}
		at := w.put(EncodeAnimValues(c.Channels[i]))
		if at-off > maxInt16 {
			e.fail("compressed channel offset %d out of range", at-off)
			continue
		}
		w.i16(off+24+i*2, int16(at-off))
	}
	return off
}

const maxInt16 = 1<<15 - 1

// legacyTracks writes one 12-byte record per bone followed by the value
// spans and returns the offset of the first record.
func (e *encoder) legacyTracks(anim *Animation) int {
	w := e.w
	n := len(e.m.Bones)
	base := w.alloc(n * sizeLegacyTrack)
	for _, t := range anim.Tracks {
		if t.Bone < 0 || t.Bone >= n {
			e.fail("animation %q: track for bone %d", anim.Name, t.Bone)
			continue
		}
		if t.Rot == RotQuat48 || t.Rot == RotQuat64 || t.Pos == PosVector48 {
			e.fail("animation %q bone %d: quantized tracks need the modern layout", anim.Name, t.Bone)
			continue
		}
		rec := base + t.Bone*sizeLegacyTrack
		for i := 0; i < 3; i++ {
			if t.Pos == PosAnim {
				e.legacyChannel(rec, i, t.PosFrames[i])
			}
			if t.Rot == RotAnim {
				e.legacyChannel(rec, 3+i, t.RotFrames[i])
			}
		}
	}
	return base
}

func (e *encoder) legacyChannel(rec, slot int, frames []int16) {
	if len(frames) == 0 {
		return
	}
	at := e.w.put(EncodeAnimValues(frames))
	if at-rec > 0xffff {
		e.fail("legacy track offset %d out of range", at-rec)
		return
	}
	e.w.u16(rec+slot*2, uint16(at-rec))
}

// modernTracks writes the linked track list in ascending bone order and
// returns the offset of its head.
func (e *encoder) modernTracks(anim *Animation) int {
	w := e.w
	tracks := append([]BoneTrack(nil), anim.Tracks...)
	sort.SliceStable(tracks, func(i, j int) bool { return tracks[i].Bone < tracks[j].Bone })

	if len(tracks) == 0 {
		// A lone terminator for a bone no model has.
		head := w.alloc(4)
		w.u8(head, 0xff)
		return head
	}

	head, prev, last := -1, -1, -1
	for _, t := range tracks {
		if t.Bone < 0 || t.Bone >= len(e.m.Bones) || t.Bone == last {
			e.fail("animation %q: track for bone %d", anim.Name, t.Bone)
			continue
		}
		last = t.Bone
		rec := e.modernTrack(t)
		if head < 0 {
			head = rec
		}
		if prev >= 0 {
			if rec-prev > maxInt16 {
				e.fail("animation %q: track too large", anim.Name)
			}
			w.i16(prev+2, int16(rec-prev))
		}
		prev = rec
	}
	if head < 0 {
		head = w.alloc(4)
		w.u8(head, 0xff)
	}
	return head
}

func (e *encoder) modernTrack(t BoneTrack) int {
	w := e.w
	size := 4
	var flags uint8
	switch t.Rot {
	case RotQuat48:
		flags |= TrackRawRot
		size += 6
	case RotQuat64:
		flags |= TrackRawRot2
		size += 8
	case RotAnim:
		flags |= TrackAnimRot
		size += 6
	}
	switch t.Pos {
	case PosVector48:
		flags |= TrackRawPos
		size += 6
	case PosAnim:
		flags |= TrackAnimPos
		size += 6
	}
	if t.Delta {
		flags |= TrackDelta
	}

	rec := w.alloc(size)
	w.u8(rec, uint8(t.Bone))
	w.u8(rec+1, flags)
	data := rec + 4
	switch t.Rot {
	case RotQuat48:
		putQuat48(w, data, t.Quat)
		data += 6
	case RotQuat64:
		w.u64(data, packQuat64(t.Quat))
		data += 8
	case RotAnim:
		e.valuePtr(data, t.RotFrames)
		data += 6
	}
	switch t.Pos {
	case PosVector48:
		w.u16(data, toFloat16(t.Vec.X))
		w.u16(data+2, toFloat16(t.Vec.Y))
		w.u16(data+4, toFloat16(t.Vec.Z))
	case PosAnim:
		e.valuePtr(data, t.PosFrames)
	}
	return rec
}

func (e *encoder) valuePtr(ptr int, channels [3][]int16) {
	for i, frames := range channels {
		if len(frames) == 0 {
			continue
		}
		at := e.w.put(EncodeAnimValues(frames))
		if at-ptr > maxInt16 {
			e.fail("track value offset %d out of range", at-ptr)
			continue
		}
		e.w.i16(ptr+i*2, int16(at-ptr))
	}
}

func putQuat48(w *wbuf, off int, q math.Quat) {
	x := quantize(q.X*32768+32768, 0xffff)
	y := quantize(q.Y*32768+32768, 0xffff)
	z := quantize(q.Z*16384+16384, 0x7fff)
	if q.W < 0 {
		z |= 0x8000
	}
	w.u16(off, uint16(x))
	w.u16(off+2, uint16(y))
	w.u16(off+4, uint16(z))
}

func packQuat64(q math.Quat) uint64 {
	x := uint64(quantize(q.X*1048576.5+1048576, 0x1fffff))
	y := uint64(quantize(q.Y*1048576.5+1048576, 0x1fffff))
	z := uint64(quantize(q.Z*1048576.5+1048576, 0x1fffff))
	u := x | y<<21 | z<<42
	if q.W < 0 {
		u |= 1 << 63
	}
	return u
}

func quantize(f float32, limit uint32) uint32 {
	f = math32.Floor(f + 0.5)
	switch {
	case f < 0:
		return 0
	case f > float32(limit):
		return limit
	}
	return uint32(f)
}

// EncodeAnimValues run-length encodes one channel of raw per-frame values.
// Each span holds up to 255 frames; a span's trailing repeats are stored
// once.
func EncodeAnimValues(frames []int16) []byte {
	var out []byte
	for i := 0; i < len(frames); {
		end := i + 255
		if end > len(frames) {
			end = len(frames)
		}
		k := end - 1
		for k > i && frames[k-1] == frames[end-1] {
			k--
		}
		valid := k - i + 1
		out = append(out, uint8(valid), uint8(end-i))
		for _, x := range frames[i : i+valid] {
			out = append(out, uint8(x), uint8(uint16(x)>>8))
		}
		i = end
	}
	return out
}

func (e *encoder) seqs() {
	seqs := e.m.Sequences
	if len(seqs) == 0 {
		return
	}
	size := e.l.seqDescSize()
	base := e.w.alloc(len(seqs) * size)
	e.setField(fNumLocalSeq, len(seqs))
	e.setField(fLocalSeqIndex, base)
	for i := range seqs {
		e.seq(base+i*size, &seqs[i])
	}
}

func (e *encoder) seq(rec int, s *SeqDesc) {
	w := e.w
	at := func(modern int) int { return rec + modern - 4 + e.l.seqShift() }
	if e.l.seqShift() != 0 {
		w.int(rec, -rec)
	}
	w.str(at(4), rec, s.Label)
	w.str(at(8), rec, s.Activity)
	w.i32(at(12), s.Flags)
	w.int(at(16), s.ActivityID)
	w.int(at(20), s.ActWeight)
	w.vec3(at(32), s.BBMin)
	w.vec3(at(44), s.BBMax)
	w.int(at(56), len(s.AnimIndices))
	w.int(at(68), s.GroupSize[0])
	w.int(at(72), s.GroupSize[1])
	w.int(at(76), s.Param[0])
	w.int(at(80), s.Param[1])
	w.f32(at(84), s.ParamStart[0])
	w.f32(at(88), s.ParamStart[1])
	w.f32(at(92), s.ParamEnd[0])
	w.f32(at(96), s.ParamEnd[1])
	w.int(at(100), s.ParamParent)
	w.f32(at(104), s.FadeIn)
	w.f32(at(108), s.FadeOut)
	w.int(at(112), s.EntryNode)
	w.int(at(116), s.ExitNode)
	w.i32(at(120), s.NodeFlags)
	w.f32(at(124), s.EntryPhase)
	w.f32(at(128), s.ExitPhase)
	w.f32(at(132), s.LastFrame)
	w.int(at(136), s.NextSeq)
	w.int(at(140), s.Pose)
	w.int(at(144), s.NumIKRules)
	w.int(at(180), s.CyclePose)

	if g := s.GroupSize[0] * s.GroupSize[1]; g > 0 {
		if len(s.AnimIndices) != g {
			e.fail("sequence %q: %d blends for a %dx%d grid", s.Label, len(s.AnimIndices), s.GroupSize[0], s.GroupSize[1])
			return
		}
		off := w.alloc(g * 2)
		w.int(at(60), off-rec)
		for j, a := range s.AnimIndices {
			w.i16(off+j*2, int16(a))
		}
	}
	if len(s.PoseKeys) > 0 {
		off := w.alloc(len(s.PoseKeys) * 4)
		w.int(at(160), off-rec)
		for j, k := range s.PoseKeys {
			w.f32(off+j*4, k)
		}
	}
	if s.Weights != nil {
		off := w.alloc(len(e.m.Bones) * 4)
		w.int(at(156), off-rec)
		for j := range e.m.Bones {
			var wt float32
			if j < len(s.Weights) {
				wt = s.Weights[j]
			}
			w.f32(off+j*4, wt)
		}
	}
	if len(s.AutoLayers) > 0 {
		off := w.alloc(len(s.AutoLayers) * sizeAutoLayer)
		w.int(at(148), len(s.AutoLayers))
		w.int(at(152), off-rec)
		for j, l := range s.AutoLayers {
			r := off + j*sizeAutoLayer
			w.i16(r, int16(l.Sequence))
			w.i16(r+2, int16(l.Pose))
			w.i32(r+4, l.Flags)
			w.f32(r+8, l.Start)
			w.f32(r+12, l.Peak)
			w.f32(r+16, l.Tail)
			w.f32(r+20, l.End)
		}
	}
	if len(s.IKLocks) > 0 {
		w.int(at(164), len(s.IKLocks))
		w.int(at(168), e.ikLocks(s.IKLocks)-rec)
	}
	if s.KeyValues != "" {
		off := w.put(append([]byte(s.KeyValues), 0))
		w.int(at(172), off-rec)
		w.int(at(176), len(s.KeyValues)+1)
	}
	if len(s.Events) > 0 && e.l.Kind() == LayoutModern {
		off := w.alloc(len(s.Events) * sizeSeqEvent)
		w.int(at(24), len(s.Events))
		w.int(at(28), off-rec)
		for j, ev := range s.Events {
			r := off + j*sizeSeqEvent
			w.f32(r, ev.Cycle)
			w.int(r+4, ev.Event)
			w.i32(r+8, ev.Type)
			w.fixed(r+12, 64, ev.Options)
			w.str(r+76, r, ev.Name)
		}
	}
}

func (e *encoder) ikLocks(locks []IKLock) int {
	if len(locks) == 0 {
		return 0
	}
	off := e.w.alloc(len(locks) * sizeIKLock)
	for i, l := range locks {
		r := off + i*sizeIKLock
		e.w.int(r, l.Chain)
		e.w.f32(r+4, l.PosWeight)
		e.w.f32(r+8, l.LocalQWeight)
		e.w.i32(r+12, l.Flags)
	}
	return off
}

func (e *encoder) textures() {
	ts := e.m.Textures
	if len(ts) == 0 {
		return
	}
	size := e.l.textureSize()
	base := e.w.alloc(len(ts) * size)
	e.setField(fNumTextures, len(ts))
	e.setField(fTextureIndex, base)
	for i, t := range ts {
		r := base + i*size
		e.w.str(r, r, t.Name)
		e.w.i32(r+4, t.Flags)
	}
}

func (e *encoder) attachments() {
	as := e.m.Attachments
	if len(as) == 0 {
		return
	}
	base := e.w.alloc(len(as) * sizeAttachment)
	e.setField(fNumAttachments, len(as))
	e.setField(fAttachmentIndex, base)
	for i, a := range as {
		r := base + i*sizeAttachment
		e.w.str(r, r, a.Name)
		e.w.i32(r+4, a.Flags)
		e.w.int(r+8, a.Bone)
		e.w.mat3x4(r+12, a.Local)
	}
}

func (e *encoder) flexDescs() {
	fs := e.m.FlexDescs
	if len(fs) == 0 {
		return
	}
	base := e.w.alloc(len(fs) * sizeFlexDesc)
	e.setField(fNumFlexDesc, len(fs))
	e.setField(fFlexDescIndex, base)
	for i, name := range fs {
		r := base + i*sizeFlexDesc
		e.w.str(r, r, name)
	}
}

func (e *encoder) ikChains() {
	cs := e.m.IKChains
	if len(cs) == 0 {
		return
	}
	w := e.w
	base := w.alloc(len(cs) * sizeIKChain)
	e.setField(fNumIKChains, len(cs))
	e.setField(fIKChainIndex, base)
	for i, c := range cs {
		r := base + i*sizeIKChain
		w.str(r, r, c.Name)
		w.i32(r+4, c.LinkType)
		w.int(r+8, len(c.Links))
		if len(c.Links) == 0 {
			continue
		}
		off := w.alloc(len(c.Links) * sizeIKLink)
		w.int(r+12, off-r)
		for j, l := range c.Links {
			w.int(off+j*sizeIKLink, l.Bone)
			w.vec3(off+j*sizeIKLink+4, l.KneeDir)
		}
	}
}

func (e *encoder) poseParams() {
	ps := e.m.PoseParams
	if len(ps) == 0 {
		return
	}
	base := e.w.alloc(len(ps) * sizePoseParam)
	e.setField(fNumPoseParams, len(ps))
	e.setField(fPoseParamIndex, base)
	for i, p := range ps {
		r := base + i*sizePoseParam
		e.w.str(r, r, p.Name)
		e.w.i32(r+4, p.Flags)
		e.w.f32(r+8, p.Start)
		e.w.f32(r+12, p.End)
		e.w.f32(r+16, p.Loop)
	}
}

// seqGroups writes the implicit self group that legacy readers expect.
func (e *encoder) seqGroups() {
	if e.l.Kind() != LayoutLegacy {
		return
	}
	r := e.w.alloc(sizeSeqGroup)
	e.setField(fNumSeqGroups, 1)
	e.setField(fSeqGroupIndex, r)
	e.w.str(r, r, "default")
}

func (e *encoder) header2(version int32) {
	if e.l.Kind() != LayoutModern || version < versionHeader2 {
		return
	}
	off := e.w.alloc(sizeHeader2)
	e.setField(fHeader2Index, off)
	if h2 := e.m.Header2; h2 != nil {
		e.w.int(off+8, h2.IllumPosAttachment)
		e.w.f32(off+12, h2.MaxEyeDeflection)
	}
}
