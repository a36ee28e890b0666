package studio

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/pkg/math"
)

// Header is a parsed, immutable model. It is safe for concurrent use.
type Header struct {
	Name          string
	Version       int32
	Checksum      int32
	Length        int
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
	AnimBlockName string

	data      []byte
	layout    layout
	log       *zap.Logger
	loader    Loader
	maxShared int

	bones         []Bone
	order         []int
	controllers   []BoneController
	hitboxSets    []HitboxSet
	anims         []AnimDesc
	animGroups    []animGroup
	seqGroups     []SeqGroup
	seqs          []SeqDesc
	autoplaySeqs  []int
	textures      []Texture
	attachments   []Attachment
	poseParams    []PoseParam
	ikChains      []IKChain
	flexDescs     []string
	autoplayLocks []IKLock
	animBlocks    []animBlock
	header2       *Header2

	mu          sync.Mutex
	shared      map[int]*Header
	blockData   []byte
	blockLoaded bool
}

type animGroup struct {
	group, index int
}

type animBlock struct {
	start, end int
}

// Option configures Parse.
type Option func(*Header)

// WithLogger sets the logger used for load-time and evaluation warnings.
func WithLogger(log *zap.Logger) Option {
	return func(h *Header) {
		if log != nil {
			h.log = log
		}
	}
}

// WithLoader sets the file service used for shared animation groups and
// animation block files.
func WithLoader(l Loader) Option {
	return func(h *Header) { h.loader = l }
}

// WithMaxSharedSize caps the size of files read through the loader.
func WithMaxSharedSize(n int) Option {
	return func(h *Header) {
		if n > 0 {
			h.maxShared = n
		}
	}
}

// ParseFile reads and parses a model file from disk.
func ParseFile(path string, opts ...Option) (*Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	return Parse(data, opts...)
}

// Parse validates data and decodes its tables. Either the whole model is
// usable or an error is returned; a Header is never partially loaded.
func Parse(data []byte, opts ...Option) (*Header, error) {
	h := &Header{log: zap.NewNop(), maxShared: defaultMaxShare}
	for _, opt := range opts {
		opt(h)
	}

	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if string(data[:4]) != ID {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMagic, data[:4])
	}

	v := view{b: data}
	h.Version = v.i32(hdrVersion)
	kind, known := LayoutForVersion(h.Version)
	if !known {
		h.log.Warn("unknown model version, reading as legacy", zap.Int32("version", h.Version))
	}
	h.layout = layoutFor(kind)

	if len(data) < h.layout.headerSize() {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(data), h.layout.headerSize())
	}
	h.Length = v.int(hdrLength)
	if h.Length < h.layout.headerSize() || h.Length > len(data) {
		return nil, fmt.Errorf("%w: length %d, data %d", ErrSizeMismatch, h.Length, len(data))
	}
	h.data = data[:h.Length]
	v = view{b: h.data}

	h.Checksum = v.i32(hdrChecksum)
	h.Name = v.fixed(hdrName, hdrNameLen)
	h.EyePosition = v.vec3(hdrEyePosition)
	h.IllumPosition = v.vec3(hdrIllumPosition)
	h.HullMin = v.vec3(hdrHullMin)
	h.HullMax = v.vec3(hdrHullMax)
	h.ViewBBMin = v.vec3(hdrViewBBMin)
	h.ViewBBMax = v.vec3(hdrViewBBMax)
	h.Flags = v.i32(hdrFlags)
	h.Mass = v.f32(h.layout.offset(fMass))
	h.Contents = v.i32(h.layout.offset(fContents))
	h.SurfaceProp = v.str(h.field(fSurfaceProp))
	if off := h.field(fAnimBlockName); off > 0 {
		h.AnimBlockName = v.str(off)
	}

	d := decoder{h: h, v: v}
	d.decode()
	if d.errs != nil {
		return nil, d.errs
	}
	h.fixHierarchy()
	return h, nil
}

// field reads a layout-dependent header int; absent fields read as 0.
func (h *Header) field(f field) int {
	off := h.layout.offset(f)
	if off < 0 {
		return 0
	}
	return view{b: h.data}.int(off)
}

// fixHierarchy enforces the bone forest: invalid parents and cycles are
// broken by turning the offending bone into a root. It also records a
// parent-before-child traversal order.
func (h *Header) fixHierarchy() {
	n := len(h.bones)
	for i := range h.bones {
		p := h.bones[i].Parent
		if p < -1 || p >= n || p == i {
			h.log.Warn("bone has invalid parent, treating as root",
				zap.String("bone", h.bones[i].Name), zap.Int("parent", p))
			h.bones[i].Parent = -1
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]uint8, n)
	h.order = make([]int, 0, n)
	chain := make([]int, 0, 16)
	for i := 0; i < n; i++ {
		chain = chain[:0]
		j := i
		for j != -1 && state[j] == unvisited {
			state[j] = visiting
			chain = append(chain, j)
			j = h.bones[j].Parent
		}
		if j != -1 && state[j] == visiting {
			last := chain[len(chain)-1]
			h.log.Warn("bone hierarchy has a cycle, treating bone as root",
				zap.String("bone", h.bones[last].Name))
			h.bones[last].Parent = -1
		}
		for k := len(chain) - 1; k >= 0; k-- {
			state[chain[k]] = done
			h.order = append(h.order, chain[k])
		}
	}
}

// Layout returns the wire layout the model was read with.
func (h *Header) Layout() Layout { return h.layout.Kind() }

// Logger returns the logger the model was parsed with.
func (h *Header) Logger() *zap.Logger { return h.log }

// NumBones returns the bone count.
func (h *Header) NumBones() int { return len(h.bones) }

// Bones returns the bone table. Callers must not modify it.
func (h *Header) Bones() []Bone { return h.bones }

// BoneOrder returns bone indices in parent-before-child order.
func (h *Header) BoneOrder() []int { return h.order }

// Bone returns bone i, or a zero bone with Parent -1 when out of range.
func (h *Header) Bone(i int) Bone {
	if i < 0 || i >= len(h.bones) {
		return Bone{Parent: -1, Quat: math.QuatIdentity(), PoseToBone: math.Identity3x4(), PhysicsBone: -1}
	}
	return h.bones[i]
}

// BoneParent returns the parent of bone i, or -1.
func (h *Header) BoneParent(i int) int {
	if i < 0 || i >= len(h.bones) {
		return -1
	}
	return h.bones[i].Parent
}

// BoneFlags returns the flags of bone i, or 0.
func (h *Header) BoneFlags(i int) int32 {
	if i < 0 || i >= len(h.bones) {
		return 0
	}
	return h.bones[i].Flags
}

// BoneName returns the name of bone i, or "".
func (h *Header) BoneName(i int) string {
	if i < 0 || i >= len(h.bones) {
		return ""
	}
	return h.bones[i].Name
}

// BoneContents returns the contents flags of bone i, or 0.
func (h *Header) BoneContents(i int) int32 {
	if i < 0 || i >= len(h.bones) {
		return 0
	}
	return h.bones[i].Contents
}

// BonePoseToBone returns the inverse bind transform of bone i, or identity.
func (h *Header) BonePoseToBone(i int) math.Mat3x4 {
	if i < 0 || i >= len(h.bones) {
		return math.Identity3x4()
	}
	return h.bones[i].PoseToBone
}

// BoneProcType returns the procedural type of bone i, or ProcNone.
func (h *Header) BoneProcType(i int) ProcType {
	if i < 0 || i >= len(h.bones) {
		return ProcNone
	}
	return h.bones[i].ProcType()
}

// BonePhysicsBone returns the physics bone of bone i, or -1.
func (h *Header) BonePhysicsBone(i int) int {
	if i < 0 || i >= len(h.bones) {
		return -1
	}
	return h.bones[i].PhysicsBone
}

// LookupBone returns the index of the named bone, or -1.
func (h *Header) LookupBone(name string) int {
	for i := range h.bones {
		if h.bones[i].Name == name {
			return i
		}
	}
	return -1
}

// NumBoneControllers returns the bone controller count.
func (h *Header) NumBoneControllers() int { return len(h.controllers) }

// BoneController returns controller i, or a zero controller with Bone -1.
func (h *Header) BoneController(i int) BoneController {
	if i < 0 || i >= len(h.controllers) {
		return BoneController{Bone: -1}
	}
	return h.controllers[i]
}

// NumHitboxSets returns the hitbox set count.
func (h *Header) NumHitboxSets() int { return len(h.hitboxSets) }

// HitboxSet returns set i, or an empty set.
func (h *Header) HitboxSet(i int) HitboxSet {
	if i < 0 || i >= len(h.hitboxSets) {
		return HitboxSet{}
	}
	return h.hitboxSets[i]
}

// NumSequences returns the sequence count.
func (h *Header) NumSequences() int { return len(h.seqs) }

// Sequence returns sequence i. Out of range indices yield an empty
// sequence that references no animations. The descriptor is shared by
// every user of the header; callers must not modify it.
func (h *Header) Sequence(i int) *SeqDesc {
	if i < 0 || i >= len(h.seqs) {
		return &SeqDesc{}
	}
	return &h.seqs[i]
}

// AutoplaySequences returns the indices of sequences flagged SeqAutoplay,
// which play on every pose regardless of the requested sequence.
func (h *Header) AutoplaySequences() []int { return h.autoplaySeqs }

// LookupSequence returns the index of the sequence with the given label,
// or -1.
func (h *Header) LookupSequence(label string) int {
	for i := range h.seqs {
		if h.seqs[i].Label == label {
			return i
		}
	}
	return -1
}

// SequenceWeight returns the blend weight of bone in sequence seq, or 0.
func (h *Header) SequenceWeight(seq, bone int) float32 {
	if seq < 0 || seq >= len(h.seqs) {
		return 0
	}
	return h.seqs[seq].Weight(bone)
}

// NumAnims returns the number of local animation descriptors.
func (h *Header) NumAnims() int { return len(h.anims) }

// Anim returns animation i, following legacy shared groups. It returns
// nil when the index is out of range or the animation's data is missing.
func (h *Header) Anim(i int) *AnimDesc {
	if i < 0 || i >= len(h.anims) {
		return nil
	}
	if i < len(h.animGroups) && h.animGroups[i].group != 0 {
		g := h.animGroups[i]
		shared := h.sharedGroup(g.group)
		if shared == nil || g.index < 0 || g.index >= len(shared.anims) {
			return nil
		}
		return &shared.anims[g.index]
	}
	return &h.anims[i]
}

// NumPoseParameters returns the pose parameter count.
func (h *Header) NumPoseParameters() int { return len(h.poseParams) }

// PoseParameter returns pose parameter i, or a zero parameter.
func (h *Header) PoseParameter(i int) PoseParam {
	if i < 0 || i >= len(h.poseParams) {
		return PoseParam{}
	}
	return h.poseParams[i]
}

// LookupPoseParameter returns the index of the named pose parameter, or -1.
func (h *Header) LookupPoseParameter(name string) int {
	for i := range h.poseParams {
		if h.poseParams[i].Name == name {
			return i
		}
	}
	return -1
}

// NumIKChains returns the IK chain count.
func (h *Header) NumIKChains() int { return len(h.ikChains) }

// IKChain returns chain i, or an empty chain.
func (h *Header) IKChain(i int) IKChain {
	if i < 0 || i >= len(h.ikChains) {
		return IKChain{}
	}
	return h.ikChains[i]
}

// NumFlexDescs returns the flex descriptor count.
func (h *Header) NumFlexDescs() int { return len(h.flexDescs) }

// FlexDescriptor returns the FACS name of flex descriptor i, or "".
func (h *Header) FlexDescriptor(i int) string {
	if i < 0 || i >= len(h.flexDescs) {
		return ""
	}
	return h.flexDescs[i]
}

// NumTextures returns the texture count.
func (h *Header) NumTextures() int { return len(h.textures) }

// Texture returns texture i, or a zero texture.
func (h *Header) Texture(i int) Texture {
	if i < 0 || i >= len(h.textures) {
		return Texture{}
	}
	return h.textures[i]
}

// NumAttachments returns the attachment count.
func (h *Header) NumAttachments() int { return len(h.attachments) }

// Attachment returns attachment i, or an identity attachment on bone -1.
func (h *Header) Attachment(i int) Attachment {
	if i < 0 || i >= len(h.attachments) {
		return Attachment{Bone: -1, Local: math.Identity3x4()}
	}
	return h.attachments[i]
}

// AutoplayLocks returns the model-level IK locks applied to every pose.
func (h *Header) AutoplayLocks() []IKLock { return h.autoplayLocks }

// SeqGroups returns the legacy sequence group table.
func (h *Header) SeqGroups() []SeqGroup { return h.seqGroups }

// Header2 returns the modern extension block, if present.
func (h *Header) Header2() (Header2, bool) {
	if h.header2 == nil {
		return Header2{}, false
	}
	return *h.header2, true
}

// SrcBoneTransform returns the name and pre/post transforms of entry i
// of the header2 source bone transform table.
func (h *Header) SrcBoneTransform(i int) (name string, pre, post math.Mat3x4) {
	if h.header2 == nil || i < 0 || i >= h.header2.NumSrcBoneTransforms {
		return "", math.Identity3x4(), math.Identity3x4()
	}
	v := view{b: h.data}
	off := h.header2.srcBoneTransformOffset + i*100
	return v.rel(off, v.int(off)), v.mat3x4(off + 4), v.mat3x4(off + 52)
}
