package studio

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const sizeSeqEvent = 80

// decoder fills a Header's tables. Every count/offset pair is checked
// against the buffer; failures accumulate so one Parse reports them all.
type decoder struct {
	h    *Header
	v    view
	errs error
}

func (d *decoder) fail(format string, args ...any) {
	d.errs = multierr.Append(d.errs, fmt.Errorf(format+": %w", append(args, ErrTableOutOfRange)...))
}

// table reports whether count records of stride bytes fit at off.
// An empty table is not an error.
func (d *decoder) table(name string, count, off, stride int) bool {
	if count == 0 {
		return false
	}
	if count < 0 || count > maxTableCount || off <= 0 || !d.v.ok(off, count*stride) {
		d.fail("%s: count %d at offset %d", name, count, off)
		return false
	}
	return true
}

func (d *decoder) decode() {
	h, v, l := d.h, d.v, d.h.layout

	if off, n := h.field(fKeyValueIndex), h.field(fKeyValueSize); n > 0 && d.table("keyvalues", n, off, 1) {
		h.KeyValues = strings.TrimRight(string(h.data[off:off+n]), "\x00")
	}

	numBones, boneOff := v.int(hdrNumBones), v.int(hdrBoneIndex)
	if numBones > MaxBones {
		d.fail("bones: count %d exceeds %d", numBones, MaxBones)
	} else if d.table("bones", numBones, boneOff, l.boneSize()) {
		h.bones = make([]Bone, numBones)
		for i := range h.bones {
			off := boneOff + i*l.boneSize()
			h.bones[i] = l.decodeBone(v, off)
			h.bones[i].Proc = d.procedural(i, off)
		}
	}

	if n, off := v.int(hdrNumBoneControllers), v.int(hdrBoneControllerIndex); d.table("bone controllers", n, off, sizeBoneController) {
		h.controllers = make([]BoneController, n)
		for i := range h.controllers {
			r := off + i*sizeBoneController
			h.controllers[i] = BoneController{
				Bone:       v.int(r),
				Type:       v.i32(r + 4),
				Start:      v.f32(r + 8),
				End:        v.f32(r + 12),
				Rest:       v.int(r + 16),
				InputField: v.int(r + 20),
			}
		}
	}

	d.hitboxSets()
	d.anims()
	d.seqs()

	if n, off := h.field(fNumTextures), h.field(fTextureIndex); d.table("textures", n, off, l.textureSize()) {
		h.textures = make([]Texture, n)
		for i := range h.textures {
			r := off + i*l.textureSize()
			h.textures[i] = Texture{Name: v.rel(r, v.int(r)), Flags: v.i32(r + 4)}
		}
	}

	if n, off := h.field(fNumAttachments), h.field(fAttachmentIndex); d.table("attachments", n, off, sizeAttachment) {
		h.attachments = make([]Attachment, n)
		for i := range h.attachments {
			r := off + i*sizeAttachment
			h.attachments[i] = Attachment{
				Name:  v.rel(r, v.int(r)),
				Flags: v.i32(r + 4),
				Bone:  v.int(r + 8),
				Local: v.mat3x4(r + 12),
			}
		}
	}

	if n, off := h.field(fNumFlexDesc), h.field(fFlexDescIndex); d.table("flex descriptors", n, off, sizeFlexDesc) {
		h.flexDescs = make([]string, n)
		for i := range h.flexDescs {
			r := off + i*sizeFlexDesc
			h.flexDescs[i] = v.rel(r, v.int(r))
		}
	}

	d.ikChains()

	if n, off := h.field(fNumPoseParams), h.field(fPoseParamIndex); d.table("pose parameters", n, off, sizePoseParam) {
		h.poseParams = make([]PoseParam, n)
		for i := range h.poseParams {
			r := off + i*sizePoseParam
			h.poseParams[i] = PoseParam{
				Name:  v.rel(r, v.int(r)),
				Flags: v.i32(r + 4),
				Start: v.f32(r + 8),
				End:   v.f32(r + 12),
				Loop:  v.f32(r + 16),
			}
		}
	}

	h.autoplayLocks = d.ikLocks("autoplay locks", h.field(fNumAutoplayLocks), h.field(fAutoplayLockIndex))

	if n, off := h.field(fNumSeqGroups), h.field(fSeqGroupIndex); d.table("sequence groups", n, off, sizeSeqGroup) {
		h.seqGroups = make([]SeqGroup, n)
		for i := range h.seqGroups {
			r := off + i*sizeSeqGroup
			h.seqGroups[i] = SeqGroup{Label: v.rel(r, v.int(r)), Name: v.rel(r, v.int(r+4))}
		}
	}

	if n, off := h.field(fNumAnimGroup), h.field(fAnimGroupIndex); d.table("animation groups", n, off, sizeAnimGroup) {
		h.animGroups = make([]animGroup, n)
		for i := range h.animGroups {
			r := off + i*sizeAnimGroup
			g := animGroup{group: v.int(r), index: v.int(r + 4)}
			if g.group < 0 || (g.group > 0 && g.group >= len(h.seqGroups)) {
				d.fail("animation group %d: group %d of %d", i, g.group, len(h.seqGroups))
				continue
			}
			h.animGroups[i] = g
		}
	}

	if n, off := h.field(fNumAnimBlocks), h.field(fAnimBlockIndex); d.table("animation blocks", n, off, sizeAnimBlock) {
		h.animBlocks = make([]animBlock, n)
		for i := range h.animBlocks {
			r := off + i*sizeAnimBlock
			h.animBlocks[i] = animBlock{start: v.int(r), end: v.int(r + 4)}
		}
	}

	if h.Version >= versionHeader2 {
		if off := h.field(fHeader2Index); off != 0 && d.table("header2", 1, off, sizeHeader2) {
			h2 := &Header2{
				NumSrcBoneTransforms: v.int(off),
				IllumPosAttachment:   v.int(off + 8),
				MaxEyeDeflection:     v.f32(off + 12),
				LinearBoneIndex:      v.int(off + 16),
			}
			if h2.NumSrcBoneTransforms > 0 {
				h2.srcBoneTransformOffset = off + v.int(off+4)
				if !d.table("source bone transforms", h2.NumSrcBoneTransforms, h2.srcBoneTransformOffset, 100) {
					h2.NumSrcBoneTransforms = 0
				}
			}
			h.header2 = h2
		}
	}
}

// procedural decodes the optional payload of the bone record at off.
func (d *decoder) procedural(bone, off int) Procedural {
	v, l := d.v, d.h.layout
	typ := ProcType(v.i32(off + l.boneProcOffset()))
	rel := v.int(off + l.boneProcOffset() + 4)
	if typ == ProcNone || rel == 0 {
		return nil
	}
	if !l.supportsProc(typ) {
		d.h.log.Warn("procedural bone type not supported by layout, ignoring",
			zap.Int("bone", bone), zap.Stringer("type", typ), zap.Stringer("layout", l.Kind()))
		return nil
	}
	p := off + rel
	switch typ {
	case ProcAxisInterp:
		if !d.table("axis interp bone", 1, p, sizeAxisInterp) {
			return nil
		}
		a := &AxisInterp{Control: v.int(p), Axis: v.int(p + 4)}
		for i := 0; i < 6; i++ {
			a.Pos[i] = v.vec3(p + 8 + i*12)
			a.Quat[i] = v.quat(p + 80 + i*16)
		}
		return a
	case ProcQuatInterp:
		if !d.table("quat interp bone", 1, p, sizeQuatInterp) {
			return nil
		}
		q := &QuatInterp{Control: v.int(p)}
		n, tOff := v.int(p+4), p+v.int(p+8)
		if d.table("quat interp triggers", n, tOff, sizeQuatTrigger) {
			q.Triggers = make([]QuatTrigger, n)
			for i := range q.Triggers {
				r := tOff + i*sizeQuatTrigger
				q.Triggers[i] = QuatTrigger{
					InvTolerance: v.f32(r),
					Trigger:      v.quat(r + 4),
					Pos:          v.vec3(r + 20),
					Quat:         v.quat(r + 32),
				}
			}
		}
		return q
	case ProcAimAtBone, ProcAimAtAttach:
		if !d.table("aim-at bone", 1, p, sizeAimAt) {
			return nil
		}
		return &AimAt{
			Parent:     v.int(p),
			Aim:        v.int(p + 4),
			Attachment: typ == ProcAimAtAttach,
			AimVector:  v.vec3(p + 8),
			UpVector:   v.vec3(p + 20),
			BasePos:    v.vec3(p + 32),
		}
	case ProcJiggle:
		if !d.table("jiggle bone", 1, p, sizeJiggle) {
			return nil
		}
		j := &Jiggle{Flags: v.i32(p)}
		fields := []*float32{
			&j.Length, &j.TipMass,
			&j.YawStiffness, &j.YawDamping, &j.PitchStiff, &j.PitchDamping, &j.AlongStiff, &j.AlongDamping,
			&j.AngleLimit,
			&j.MinYaw, &j.MaxYaw, &j.YawFriction, &j.YawBounce,
			&j.MinPitch, &j.MaxPitch, &j.PitchFriction, &j.PitchBounce,
			&j.BaseMass, &j.BaseStiffness, &j.BaseDamping,
			&j.BaseMinLeft, &j.BaseMaxLeft, &j.BaseLeftFric,
			&j.BaseMinUp, &j.BaseMaxUp, &j.BaseUpFric,
			&j.BaseMinFwd, &j.BaseMaxFwd, &j.BaseFwdFric,
		}
		for i, f := range fields {
			*f = v.f32(p + 4 + i*4)
		}
		return j
	}
	return nil
}

func (d *decoder) hitboxSets() {
	v := d.v
	n, off := v.int(hdrNumHitboxSets), v.int(hdrHitboxSetIndex)
	if !d.table("hitbox sets", n, off, sizeHitboxSet) {
		return
	}
	d.h.hitboxSets = make([]HitboxSet, n)
	for i := range d.h.hitboxSets {
		r := off + i*sizeHitboxSet
		set := HitboxSet{Name: v.rel(r, v.int(r))}
		bn, bOff := v.int(r+4), r+v.int(r+8)
		if d.table(fmt.Sprintf("hitbox set %d", i), bn, bOff, sizeHitbox) {
			set.Hitboxes = make([]Hitbox, bn)
			for j := range set.Hitboxes {
				b := bOff + j*sizeHitbox
				set.Hitboxes[j] = Hitbox{
					Bone:  v.int(b),
					Group: v.int(b + 4),
					BBMin: v.vec3(b + 8),
					BBMax: v.vec3(b + 20),
					Name:  v.rel(b, v.int(b+32)),
				}
			}
		}
		d.h.hitboxSets[i] = set
	}
}

func (d *decoder) ikChains() {
	h, v := d.h, d.v
	n, off := h.field(fNumIKChains), h.field(fIKChainIndex)
	if !d.table("ik chains", n, off, sizeIKChain) {
		return
	}
	h.ikChains = make([]IKChain, n)
	for i := range h.ikChains {
		r := off + i*sizeIKChain
		c := IKChain{Name: v.rel(r, v.int(r)), LinkType: v.i32(r + 4)}
		ln, lOff := v.int(r+8), r+v.int(r+12)
		if d.table(fmt.Sprintf("ik chain %q links", c.Name), ln, lOff, sizeIKLink) {
			c.Links = make([]IKLink, ln)
			for j := range c.Links {
				k := lOff + j*sizeIKLink
				c.Links[j] = IKLink{Bone: v.int(k), KneeDir: v.vec3(k + 4)}
			}
		}
		h.ikChains[i] = c
	}
}

func (d *decoder) ikLocks(name string, n, off int) []IKLock {
	if !d.table(name, n, off, sizeIKLock) {
		return nil
	}
	v := d.v
	locks := make([]IKLock, n)
	for i := range locks {
		r := off + i*sizeIKLock
		locks[i] = IKLock{
			Chain:        v.int(r),
			PosWeight:    v.f32(r + 4),
			LocalQWeight: v.f32(r + 8),
			Flags:        v.i32(r + 12),
		}
	}
	return locks
}

func (d *decoder) anims() {
	h, v, l := d.h, d.v, d.h.layout
	n, off := v.int(hdrNumLocalAnim), v.int(hdrLocalAnimIndex)
	if !d.table("animations", n, off, l.animDescSize()) {
		return
	}
	h.anims = make([]AnimDesc, n)
	for i := range h.anims {
		r := off + i*l.animDescSize()
		a := l.decodeAnimDesc(v, r)
		a.numBones = len(h.bones)
		if a.NumFrames < 0 || a.NumFrames > maxAnimFrames {
			d.fail("animation %q: %d frames", a.Name, a.NumFrames)
			a.NumFrames = 0
		}

		if s := a.movements; d.table(fmt.Sprintf("animation %q movements", a.Name), s.count, r+s.index, sizeMovement) {
			a.Movements = make([]Movement, s.count)
			for j := range a.Movements {
				m := r + s.index + j*sizeMovement
				a.Movements[j] = Movement{
					EndFrame:    v.int(m),
					MotionFlags: v.i32(m + 4),
					V0:          v.f32(m + 8),
					V1:          v.f32(m + 12),
					Angle:       v.f32(m + 16),
					Vector:      v.vec3(m + 20),
					Position:    v.vec3(m + 32),
				}
			}
		}

		// Rules whose data lives in an animation block carry a zero index.
		if s := a.ikRules; s.index != 0 && d.table(fmt.Sprintf("animation %q ik rules", a.Name), s.count, r+s.index, l.ikRuleSize()) {
			a.IKRules = make([]IKRule, s.count)
			for j := range a.IKRules {
				a.IKRules[j] = l.decodeIKRule(v, r+s.index+j*l.ikRuleSize())
			}
		}

		if s := a.hierarchy; s.index != 0 && d.table(fmt.Sprintf("animation %q local hierarchy", a.Name), s.count, r+s.index, sizeLocalHierarchy) {
			a.LocalHierarchy = make([]LocalHierarchy, s.count)
			for j := range a.LocalHierarchy {
				k := r + s.index + j*sizeLocalHierarchy
				lh := LocalHierarchy{
					Bone:      v.int(k),
					NewParent: v.int(k + 4),
					Start:     v.f32(k + 8),
					Peak:      v.f32(k + 12),
					Tail:      v.f32(k + 16),
					End:       v.f32(k + 20),
					IStart:    v.int(k + 24),
					src:       v,
				}
				if rel := v.int(k + 28); rel != 0 {
					lh.animOff = k + rel
				}
				a.LocalHierarchy[j] = lh
			}
		}
		h.anims[i] = a
	}
}

func (d *decoder) seqs() {
	h, l := d.h, d.h.layout
	n, off := h.field(fNumLocalSeq), h.field(fLocalSeqIndex)
	if !d.table("sequences", n, off, l.seqDescSize()) {
		return
	}
	h.seqs = make([]SeqDesc, n)
	for i := range h.seqs {
		h.seqs[i] = d.seq(off + i*l.seqDescSize())
		if h.seqs[i].Flags&SeqAutoplay != 0 {
			h.autoplaySeqs = append(h.autoplaySeqs, i)
		}
	}
}

// seq decodes one sequence record starting at rec. Field positions are
// those of the modern record; legacy records lack the leading self
// pointer, so every field sits four bytes earlier.
func (d *decoder) seq(rec int) SeqDesc {
	v := d.v
	at := func(modern int) int { return rec + modern - 4 + d.h.layout.seqShift() }
	s := SeqDesc{
		Label:       v.rel(rec, v.int(at(4))),
		Activity:    v.rel(rec, v.int(at(8))),
		Flags:       v.i32(at(12)),
		ActivityID:  v.int(at(16)),
		ActWeight:   v.int(at(20)),
		BBMin:       v.vec3(at(32)),
		BBMax:       v.vec3(at(44)),
		GroupSize:   [2]int{v.int(at(68)), v.int(at(72))},
		Param:       [2]int{v.int(at(76)), v.int(at(80))},
		ParamStart:  [2]float32{v.f32(at(84)), v.f32(at(88))},
		ParamEnd:    [2]float32{v.f32(at(92)), v.f32(at(96))},
		ParamParent: v.int(at(100)),
		FadeIn:      v.f32(at(104)),
		FadeOut:     v.f32(at(108)),
		EntryNode:   v.int(at(112)),
		ExitNode:    v.int(at(116)),
		NodeFlags:   v.i32(at(120)),
		EntryPhase:  v.f32(at(124)),
		ExitPhase:   v.f32(at(128)),
		LastFrame:   v.f32(at(132)),
		NextSeq:     v.int(at(136)),
		Pose:        v.int(at(140)),
		NumIKRules:  v.int(at(144)),
		CyclePose:   v.int(at(180)),
		numBones:    len(d.h.bones),
	}
	if kv, n := v.int(at(172)), v.int(at(176)); kv != 0 && d.table(fmt.Sprintf("sequence %q keyvalues", s.Label), n, rec+kv, 1) {
		s.KeyValues = strings.TrimRight(string(d.h.data[rec+kv:rec+kv+n]), "\x00")
	}

	g0, g1 := s.GroupSize[0], s.GroupSize[1]
	if g0 > 0 && g1 > 0 && g0*g1 <= maxTableCount {
		cells := g0 * g1
		if idx := v.int(at(60)); d.table(fmt.Sprintf("sequence %q blends", s.Label), cells, rec+idx, 2) {
			s.AnimIndices = make([]int, cells)
			for j := range s.AnimIndices {
				s.AnimIndices[j] = int(v.i16(rec + idx + j*2))
			}
		}
		if pk := v.int(at(160)); pk != 0 && d.table(fmt.Sprintf("sequence %q pose keys", s.Label), g0+g1, rec+pk, 4) {
			s.PoseKeys = make([]float32, g0+g1)
			for j := range s.PoseKeys {
				s.PoseKeys[j] = v.f32(rec + pk + j*4)
			}
		}
	} else if g0 != 0 || g1 != 0 {
		d.fail("sequence %q: blend grid %dx%d", s.Label, g0, g1)
	}

	if wl := v.int(at(156)); wl != 0 && d.table(fmt.Sprintf("sequence %q weights", s.Label), len(d.h.bones), rec+wl, 4) {
		s.Weights = make([]float32, len(d.h.bones))
		for j := range s.Weights {
			s.Weights[j] = v.f32(rec + wl + j*4)
		}
	}

	if n, al := v.int(at(148)), v.int(at(152)); d.table(fmt.Sprintf("sequence %q layers", s.Label), n, rec+al, sizeAutoLayer) {
		s.AutoLayers = make([]AutoLayer, n)
		for j := range s.AutoLayers {
			r := rec + al + j*sizeAutoLayer
			s.AutoLayers[j] = AutoLayer{
				Sequence: int(v.i16(r)),
				Pose:     int(v.i16(r + 2)),
				Flags:    v.i32(r + 4),
				Start:    v.f32(r + 8),
				Peak:     v.f32(r + 12),
				Tail:     v.f32(r + 16),
				End:      v.f32(r + 20),
			}
		}
	}

	if n := v.int(at(164)); n != 0 {
		s.IKLocks = d.ikLocks(fmt.Sprintf("sequence %q ik locks", s.Label), n, rec+v.int(at(168)))
	}

	// Event records only carry a stable shape in the modern layout.
	if d.h.layout.Kind() == LayoutModern {
		if n, ev := v.int(at(24)), v.int(at(28)); d.table(fmt.Sprintf("sequence %q events", s.Label), n, rec+ev, sizeSeqEvent) {
			s.Events = make([]SeqEvent, n)
			for j := range s.Events {
				r := rec + ev + j*sizeSeqEvent
				s.Events[j] = SeqEvent{
					Cycle:   v.f32(r),
					Event:   v.int(r + 4),
					Type:    v.i32(r + 8),
					Options: v.fixed(r+12, 64),
					Name:    v.rel(r, v.int(r+76)),
				}
			}
		}
	}
	return s
}
