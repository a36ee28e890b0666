package studio

import "github.com/Faultbox/studiobones/pkg/math"

// field names a header slot whose position differs between layouts.
type field int

const (
	fNumAnimGroup field = iota
	fAnimGroupIndex
	fNumSeqGroups
	fSeqGroupIndex
	fNumLocalSeq
	fLocalSeqIndex
	fNumTextures
	fTextureIndex
	fNumAttachments
	fAttachmentIndex
	fNumFlexDesc
	fFlexDescIndex
	fNumIKChains
	fIKChainIndex
	fNumPoseParams
	fPoseParamIndex
	fSurfaceProp
	fKeyValueIndex
	fKeyValueSize
	fNumAutoplayLocks
	fAutoplayLockIndex
	fMass
	fContents
	fAnimBlockName
	fNumAnimBlocks
	fAnimBlockIndex
	fHeader2Index
	numFields
)

// Offsets shared by both layouts.
const (
	hdrID                  = 0
	hdrVersion             = 4
	hdrChecksum            = 8
	hdrName                = 12
	hdrNameLen             = 64
	hdrLength              = 76
	hdrEyePosition         = 80
	hdrIllumPosition       = 92
	hdrHullMin             = 104
	hdrHullMax             = 116
	hdrViewBBMin           = 128
	hdrViewBBMax           = 140
	hdrFlags               = 152
	hdrNumBones            = 156
	hdrBoneIndex           = 160
	hdrNumBoneControllers  = 164
	hdrBoneControllerIndex = 168
	hdrNumHitboxSets       = 172
	hdrHitboxSetIndex      = 176
	hdrNumLocalAnim        = 180
	hdrLocalAnimIndex      = 184
)

// Record sizes shared by both layouts.
const (
	sizeBoneController = 56
	sizeHitboxSet      = 12
	sizeHitbox         = 68
	sizeAttachment     = 92
	sizePoseParam      = 20
	sizeIKChain        = 16
	sizeIKLink         = 28
	sizeFlexDesc       = 4
	sizeIKLock         = 32
	sizeAutoLayer      = 24
	sizeMovement       = 44
	sizeIKError        = 28
	sizeCompressed     = 36
	sizeLocalHierarchy = 48
	sizeAnimSection    = 8
	sizeAnimBlock      = 8
	sizeAnimGroup      = 8
	sizeSeqGroup       = 16
	sizeLegacyTrack    = 12
	sizeAxisInterp     = 176
	sizeQuatInterp     = 12
	sizeQuatTrigger    = 48
	sizeAimAt          = 44
	sizeJiggle         = 120
	sizeHeader2        = 84
)

// layout is implemented once per wire shape. Records whose bytes differ
// between shapes are decoded and encoded here; everything else is shared.
type layout interface {
	Kind() Layout
	headerSize() int
	offset(f field) int

	boneSize() int
	// boneProcOffset locates the procedural type/index pair in a bone.
	boneProcOffset() int
	decodeBone(v view, off int) Bone
	encodeBone(w *wbuf, off int, b *Bone)

	animDescSize() int
	decodeAnimDesc(v view, off int) AnimDesc
	encodeAnimDesc(w *wbuf, off int, a *AnimDesc)

	ikRuleSize() int
	decodeIKRule(v view, off int) IKRule
	encodeIKRule(w *wbuf, off int, r *IKRule)

	seqDescSize() int
	// seqShift is the size of the leading self pointer on sequence
	// records. Field positions below are given for the modern record.
	seqShift() int

	textureSize() int

	supportsProc(p ProcType) bool
}

func layoutFor(l Layout) layout {
	if l == LayoutModern {
		return modernLayout{}
	}
	return legacyLayout{}
}

type legacyLayout struct{}

var legacyFields = [numFields]int{
	fNumAnimGroup:      188,
	fAnimGroupIndex:    192,
	fNumSeqGroups:      196,
	fSeqGroupIndex:     200,
	fNumLocalSeq:       204,
	fLocalSeqIndex:     208,
	fNumTextures:       216,
	fTextureIndex:      220,
	fNumAttachments:    252,
	fAttachmentIndex:   256,
	fNumFlexDesc:       268,
	fFlexDescIndex:     272,
	fNumIKChains:       292,
	fIKChainIndex:      296,
	fNumPoseParams:     308,
	fPoseParamIndex:    312,
	fSurfaceProp:       316,
	fKeyValueIndex:     320,
	fKeyValueSize:      324,
	fNumAutoplayLocks:  328,
	fAutoplayLockIndex: 332,
	fMass:              336,
	fContents:          340,
	fAnimBlockName:     -1,
	fNumAnimBlocks:     -1,
	fAnimBlockIndex:    -1,
	fHeader2Index:      -1,
}

func (legacyLayout) Kind() Layout        { return LayoutLegacy }
func (legacyLayout) headerSize() int     { return 380 }
func (legacyLayout) offset(f field) int  { return legacyFields[f] }
func (legacyLayout) boneSize() int       { return 184 }
func (legacyLayout) boneProcOffset() int { return 148 }
func (legacyLayout) animDescSize() int   { return 80 }
func (legacyLayout) ikRuleSize() int     { return 112 }
func (legacyLayout) seqDescSize() int    { return 208 }
func (legacyLayout) seqShift() int       { return 0 }
func (legacyLayout) textureSize() int    { return 24 }

func (legacyLayout) supportsProc(p ProcType) bool {
	return p == ProcAxisInterp || p == ProcQuatInterp
}

func (legacyLayout) decodeBone(v view, off int) Bone {
	b := Bone{
		Name:   v.rel(off, v.int(off)),
		Parent: v.int(off + 4),
	}
	for i := range b.Controllers {
		b.Controllers[i] = v.int(off + 8 + i*4)
	}
	b.Pos = v.vec3(off + 32)
	b.Rot = v.vec3(off + 44)
	b.PosScale = v.vec3(off + 56)
	b.RotScale = v.vec3(off + 68)
	b.Quat = math.AngleQuaternion(b.Rot)
	b.PoseToBone = v.mat3x4(off + 80)
	b.QAlignment = v.quat(off + 128)
	b.Flags = v.i32(off + 144)
	b.PhysicsBone = v.int(off + 156)
	b.SurfaceProp = v.rel(off, v.int(off+160))
	b.Contents = v.i32(off + 164)
	return b
}

func (legacyLayout) encodeBone(w *wbuf, off int, b *Bone) {
	w.str(off, off, b.Name)
	w.int(off+4, b.Parent)
	for i, c := range b.Controllers {
		w.int(off+8+i*4, c)
	}
	w.vec3(off+32, b.Pos)
	w.vec3(off+44, b.Rot)
	w.vec3(off+56, b.PosScale)
	w.vec3(off+68, b.RotScale)
	w.mat3x4(off+80, b.PoseToBone)
	w.quat(off+128, b.QAlignment)
	w.i32(off+144, b.Flags)
	w.int(off+156, b.PhysicsBone)
	w.str(off+160, off, b.SurfaceProp)
	w.i32(off+164, b.Contents)
}

func (legacyLayout) decodeAnimDesc(v view, off int) AnimDesc {
	return AnimDesc{
		Name:      v.rel(off, v.int(off)),
		FPS:       v.f32(off + 4),
		Flags:     v.i32(off + 8),
		NumFrames: v.int(off + 12),
		legacy:    true,
		src:       v,
		base:      off,
		animIndex: v.int(off + 28),
		movements: span{v.int(off + 16), v.int(off + 20)},
		ikRules:   span{v.int(off + 32), v.int(off + 36)},
		BBMin:     v.vec3(off + 40),
		BBMax:     v.vec3(off + 52),
	}
}

func (legacyLayout) encodeAnimDesc(w *wbuf, off int, a *AnimDesc) {
	w.str(off, off, a.Name)
	w.f32(off+4, a.FPS)
	w.i32(off+8, a.Flags)
	w.int(off+12, a.NumFrames)
	w.int(off+16, a.movements.count)
	w.int(off+20, a.movements.index)
	w.int(off+28, a.animIndex)
	w.int(off+32, a.ikRules.count)
	w.int(off+36, a.ikRules.index)
	w.vec3(off+40, a.BBMin)
	w.vec3(off+52, a.BBMax)
}

func (legacyLayout) decodeIKRule(v view, off int) IKRule {
	r := decodeIKRuleHead(v, off)
	if e := v.int(off + 60); e != 0 {
		r.errOff = off + e
	}
	r.IStart = v.int(off + 64)
	r.Start = v.f32(off + 68)
	r.Peak = v.f32(off + 72)
	r.Tail = v.f32(off + 76)
	r.End = v.f32(off + 80)
	r.Contact = v.f32(off + 84)
	r.Drop = v.f32(off + 88)
	r.Top = v.f32(off + 92)
	r.Attachment = v.rel(off, v.int(off+96))
	return r
}

func (legacyLayout) encodeIKRule(w *wbuf, off int, r *IKRule) {
	encodeIKRuleHead(w, off, r)
	if r.errOff != 0 {
		w.int(off+60, r.errOff-off)
	}
	w.int(off+64, r.IStart)
	w.f32(off+68, r.Start)
	w.f32(off+72, r.Peak)
	w.f32(off+76, r.Tail)
	w.f32(off+80, r.End)
	w.f32(off+84, r.Contact)
	w.f32(off+88, r.Drop)
	w.f32(off+92, r.Top)
	w.str(off+96, off, r.Attachment)
}

type modernLayout struct{}

var modernFields = [numFields]int{
	fNumAnimGroup:      -1,
	fAnimGroupIndex:    -1,
	fNumSeqGroups:      -1,
	fSeqGroupIndex:     -1,
	fNumLocalSeq:       188,
	fLocalSeqIndex:     192,
	fNumTextures:       204,
	fTextureIndex:      208,
	fNumAttachments:    240,
	fAttachmentIndex:   244,
	fNumFlexDesc:       260,
	fFlexDescIndex:     264,
	fNumIKChains:       284,
	fIKChainIndex:      288,
	fNumPoseParams:     300,
	fPoseParamIndex:    304,
	fSurfaceProp:       308,
	fKeyValueIndex:     312,
	fKeyValueSize:      316,
	fNumAutoplayLocks:  320,
	fAutoplayLockIndex: 324,
	fMass:              328,
	fContents:          332,
	fAnimBlockName:     348,
	fNumAnimBlocks:     352,
	fAnimBlockIndex:    356,
	fHeader2Index:      400,
}

func (modernLayout) Kind() Layout        { return LayoutModern }
func (modernLayout) headerSize() int     { return 408 }
func (modernLayout) offset(f field) int  { return modernFields[f] }
func (modernLayout) boneSize() int       { return 216 }
func (modernLayout) boneProcOffset() int { return 164 }
func (modernLayout) animDescSize() int   { return 100 }
func (modernLayout) ikRuleSize() int     { return 152 }
func (modernLayout) seqDescSize() int    { return 212 }
func (modernLayout) seqShift() int       { return 4 }
func (modernLayout) textureSize() int    { return 64 }

func (modernLayout) supportsProc(p ProcType) bool {
	return p >= ProcAxisInterp && p <= ProcJiggle
}

func (modernLayout) decodeBone(v view, off int) Bone {
	b := Bone{
		Name:   v.rel(off, v.int(off)),
		Parent: v.int(off + 4),
	}
	for i := range b.Controllers {
		b.Controllers[i] = v.int(off + 8 + i*4)
	}
	b.Pos = v.vec3(off + 32)
	b.Quat = v.quat(off + 44)
	b.Rot = v.vec3(off + 60)
	b.PosScale = v.vec3(off + 72)
	b.RotScale = v.vec3(off + 84)
	b.PoseToBone = v.mat3x4(off + 96)
	b.QAlignment = v.quat(off + 144)
	b.Flags = v.i32(off + 160)
	b.PhysicsBone = v.int(off + 172)
	b.SurfaceProp = v.rel(off, v.int(off+176))
	b.Contents = v.i32(off + 180)
	return b
}

func (modernLayout) encodeBone(w *wbuf, off int, b *Bone) {
	w.str(off, off, b.Name)
	w.int(off+4, b.Parent)
	for i, c := range b.Controllers {
		w.int(off+8+i*4, c)
	}
	w.vec3(off+32, b.Pos)
	w.quat(off+44, b.Quat)
	w.vec3(off+60, b.Rot)
	w.vec3(off+72, b.PosScale)
	w.vec3(off+84, b.RotScale)
	w.mat3x4(off+96, b.PoseToBone)
	w.quat(off+144, b.QAlignment)
	w.i32(off+160, b.Flags)
	w.int(off+172, b.PhysicsBone)
	w.str(off+176, off, b.SurfaceProp)
	w.i32(off+180, b.Contents)
}

func (modernLayout) decodeAnimDesc(v view, off int) AnimDesc {
	return AnimDesc{
		Name:          v.rel(off, v.int(off+4)),
		FPS:           v.f32(off + 8),
		Flags:         v.i32(off + 12),
		NumFrames:     v.int(off + 16),
		movements:     span{v.int(off + 20), v.int(off + 24)},
		Block:         v.int(off + 52),
		animIndex:     v.int(off + 56),
		ikRules:       span{v.int(off + 60), v.int(off + 64)},
		hierarchy:     span{v.int(off + 72), v.int(off + 76)},
		sectionIndex:  v.int(off + 80),
		SectionFrames: v.int(off + 84),
		src:           v,
		base:          off,
	}
}

func (modernLayout) encodeAnimDesc(w *wbuf, off int, a *AnimDesc) {
	w.int(off, -off)
	w.str(off+4, off, a.Name)
	w.f32(off+8, a.FPS)
	w.i32(off+12, a.Flags)
	w.int(off+16, a.NumFrames)
	w.int(off+20, a.movements.count)
	w.int(off+24, a.movements.index)
	w.int(off+52, a.Block)
	w.int(off+56, a.animIndex)
	w.int(off+60, a.ikRules.count)
	w.int(off+64, a.ikRules.index)
	w.int(off+72, a.hierarchy.count)
	w.int(off+76, a.hierarchy.index)
	w.int(off+80, a.sectionIndex)
	w.int(off+84, a.SectionFrames)
}

func (modernLayout) decodeIKRule(v view, off int) IKRule {
	r := decodeIKRuleHead(v, off)
	if c := v.int(off + 60); c != 0 {
		r.compOff = off + c
	}
	r.IStart = v.int(off + 68)
	if e := v.int(off + 72); e != 0 {
		r.errOff = off + e
	}
	r.Start = v.f32(off + 76)
	r.Peak = v.f32(off + 80)
	r.Tail = v.f32(off + 84)
	r.End = v.f32(off + 88)
	r.Contact = v.f32(off + 96)
	r.Drop = v.f32(off + 100)
	r.Top = v.f32(off + 104)
	r.Attachment = v.rel(off, v.int(off+120))
	return r
}

func (modernLayout) encodeIKRule(w *wbuf, off int, r *IKRule) {
	encodeIKRuleHead(w, off, r)
	if r.compOff != 0 {
		w.int(off+60, r.compOff-off)
	}
	w.int(off+68, r.IStart)
	if r.errOff != 0 {
		w.int(off+72, r.errOff-off)
	}
	w.f32(off+76, r.Start)
	w.f32(off+80, r.Peak)
	w.f32(off+84, r.Tail)
	w.f32(off+88, r.End)
	w.f32(off+96, r.Contact)
	w.f32(off+100, r.Drop)
	w.f32(off+104, r.Top)
	w.str(off+120, off, r.Attachment)
}

// The first 60 bytes of an IK rule are identical in both layouts.
func decodeIKRuleHead(v view, off int) IKRule {
	return IKRule{
		Index:  v.int(off),
		Type:   IKType(v.i32(off + 4)),
		Chain:  v.int(off + 8),
		Bone:   v.int(off + 12),
		Slot:   v.int(off + 16),
		Height: v.f32(off + 20),
		Radius: v.f32(off + 24),
		Floor:  v.f32(off + 28),
		Pos:    v.vec3(off + 32),
		Q:      v.quat(off + 44),
		src:    v,
	}
}

func encodeIKRuleHead(w *wbuf, off int, r *IKRule) {
	w.int(off, r.Index)
	w.i32(off+4, int32(r.Type))
	w.int(off+8, r.Chain)
	w.int(off+12, r.Bone)
	w.int(off+16, r.Slot)
	w.f32(off+20, r.Height)
	w.f32(off+24, r.Radius)
	w.f32(off+28, r.Floor)
	w.vec3(off+32, r.Pos)
	w.quat(off+44, r.Q)
}
