// Package studio parses compiled studio model (MDL) files.
//
// Two on-disk shapes exist: the legacy layout used by version 37 files and
// the modern layout used by versions 44 through 49. Parse picks the layout
// from the version field and every accessor on Header hides the difference.
// Accessors never fail: out-of-range indices yield a neutral value (zero,
// -1, "" or identity) so a slightly broken asset still poses.
package studio

import (
	"errors"
	"fmt"
)

// Version boundaries.
const (
	VersionLegacy    = 37
	VersionModernMin = 44
	VersionModernMax = 49
	Version48        = 48

	versionHeader2 = 47
)

// ID is the four byte magic at the start of every model file.
const ID = "IDST"

// MaxBones bounds the bone table; masks and scratch buffers are sized by it.
const MaxBones = 256

// Sanity limits for table counts.
const (
	maxTableCount   = 1 << 16
	maxAnimFrames   = 1 << 20
	defaultMaxShare = 16 << 20
)

// Errors returned by Parse and the encoder.
var (
	ErrInvalidMagic       = errors.New("invalid model magic")
	ErrTruncated          = errors.New("model data truncated")
	ErrSizeMismatch       = errors.New("model length field does not match data")
	ErrTableOutOfRange    = errors.New("model table out of range")
	ErrUnsupportedVersion = errors.New("unsupported model version")
	ErrNoLoader           = errors.New("no loader configured")
	ErrSharedTooLarge     = errors.New("shared model exceeds size limit")
)

// Layout identifies the on-disk record shape.
type Layout int

const (
	LayoutLegacy Layout = iota
	LayoutModern
)

func (l Layout) String() string {
	switch l {
	case LayoutLegacy:
		return "legacy"
	case LayoutModern:
		return "modern"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// LayoutForVersion maps a version number to its layout. ok is false for
// versions outside both known ranges; those are read as legacy.
func LayoutForVersion(version int32) (l Layout, ok bool) {
	switch {
	case version >= VersionModernMin && version <= VersionModernMax:
		return LayoutModern, true
	case version >= 35 && version < VersionModernMin:
		return LayoutLegacy, true
	default:
		return LayoutLegacy, false
	}
}

// Bone flags.
const (
	BonePhysicallySimulated = 0x00000001
	BonePhysicsProcedural   = 0x00000002
	BoneAlwaysProcedural    = 0x00000004
	BoneScreenAlignSphere   = 0x00000008
	BoneScreenAlignCylinder = 0x00000010

	BoneUsedByAnything   = 0x0007FF00
	BoneUsedByHitbox     = 0x00000100
	BoneUsedByAttachment = 0x00000200
	BoneUsedByVertexMask = 0x0003FC00
	BoneUsedByVertexLOD0 = 0x00000400
	BoneUsedByBoneMerge  = 0x00040000

	BoneFixedAlignment = 0x00100000
	BoneHasSaveFrame   = 0x00200000
)

// Sequence and animation flags. Animation descriptors reuse the same bits.
const (
	SeqLooping   = 0x0001
	SeqSnap      = 0x0002
	SeqDelta     = 0x0004
	SeqAutoplay  = 0x0008
	SeqPost      = 0x0010
	SeqAllZeros  = 0x0020
	SeqCyclePose = 0x0080
	SeqRealtime  = 0x0100
	SeqLocal     = 0x0200
	SeqHidden    = 0x0400
	SeqOverride  = 0x0800
	SeqActivity  = 0x1000
	SeqEventFlag = 0x2000
	SeqWorld     = 0x4000
)

// Auto-layer flags.
const (
	LayerPost    = 0x0010
	LayerSpline  = 0x0040
	LayerXFade   = 0x0080
	LayerNoBlend = 0x0200
	LayerLocal   = 0x1000
	LayerPose    = 0x4000
)

// Bone controller types.
const (
	ControlX     = 0x0001
	ControlY     = 0x0002
	ControlZ     = 0x0004
	ControlXR    = 0x0008
	ControlYR    = 0x0010
	ControlZR    = 0x0020
	ControlTypes = 0x7FFF
	ControlRLoop = 0x8000
)

// Modern animation track flags.
const (
	TrackRawPos  = 0x01
	TrackRawRot  = 0x02
	TrackAnimPos = 0x04
	TrackAnimRot = 0x08
	TrackDelta   = 0x10
	TrackRawRot2 = 0x20
)

// IKType is the target type of an IK rule.
type IKType int32

const (
	IKSelf       IKType = 1
	IKWorld      IKType = 2
	IKGround     IKType = 3
	IKRelease    IKType = 4
	IKAttachment IKType = 5
	IKUnlatch    IKType = 6
)

func (t IKType) String() string {
	switch t {
	case IKSelf:
		return "self"
	case IKWorld:
		return "world"
	case IKGround:
		return "ground"
	case IKRelease:
		return "release"
	case IKAttachment:
		return "attachment"
	case IKUnlatch:
		return "unlatch"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(t))
	}
}

// ProcType tags a procedural bone payload.
type ProcType int32

const (
	ProcNone        ProcType = 0
	ProcAxisInterp  ProcType = 1
	ProcQuatInterp  ProcType = 2
	ProcAimAtBone   ProcType = 3
	ProcAimAtAttach ProcType = 4
	ProcJiggle      ProcType = 5
)

func (p ProcType) String() string {
	switch p {
	case ProcNone:
		return "none"
	case ProcAxisInterp:
		return "axisinterp"
	case ProcQuatInterp:
		return "quatinterp"
	case ProcAimAtBone:
		return "aimatbone"
	case ProcAimAtAttach:
		return "aimatattach"
	case ProcJiggle:
		return "jiggle"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(p))
	}
}

// Jiggle bone flags.
const (
	JiggleFlexible         = 0x01
	JiggleRigid            = 0x02
	JiggleYawConstraint    = 0x04
	JigglePitchConstraint  = 0x08
	JiggleAngleConstraint  = 0x10
	JiggleLengthConstraint = 0x20
	JiggleBaseSpring       = 0x40
)
