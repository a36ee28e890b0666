package studio

import "github.com/Faultbox/studiobones/pkg/math"

// Bone is one skeletal joint. Legacy files store six value/scale scalars;
// they are unpacked into Pos/Rot and PosScale/RotScale, and Quat is derived
// from Rot.
type Bone struct {
	Name        string
	Parent      int
	Controllers [6]int
	Pos         math.Vec3
	Quat        math.Quat
	Rot         math.Vec3 // radian Euler: X=roll, Y=pitch, Z=yaw
	PosScale    math.Vec3
	RotScale    math.Vec3
	PoseToBone  math.Mat3x4
	QAlignment  math.Quat
	Flags       int32
	Proc        Procedural
	PhysicsBone int
	SurfaceProp string
	Contents    int32
}

// ProcType returns the tag of the bone's procedural payload.
func (b *Bone) ProcType() ProcType {
	if b.Proc == nil {
		return ProcNone
	}
	return b.Proc.ProcType()
}

// Procedural is the closed set of procedural bone payloads: *AxisInterp,
// *QuatInterp, *AimAt and *Jiggle.
type Procedural interface {
	ProcType() ProcType
	procedural()
}

// AxisInterp blends six presets by the direction of a control bone's axis.
type AxisInterp struct {
	Control int
	Axis    int
	Pos     [6]math.Vec3
	Quat    [6]math.Quat
}

// QuatInterp blends presets by angular distance to trigger orientations.
type QuatInterp struct {
	Control  int
	Triggers []QuatTrigger
}

// QuatTrigger is one QuatInterp preset.
type QuatTrigger struct {
	InvTolerance float32
	Trigger      math.Quat
	Pos          math.Vec3
	Quat         math.Quat
}

// AimAt orients a bone toward another bone or an attachment.
type AimAt struct {
	Parent     int
	Aim        int
	Attachment bool
	AimVector  math.Vec3
	UpVector   math.Vec3
	BasePos    math.Vec3
}

// Jiggle holds spring parameters for a jiggle bone.
type Jiggle struct {
	Flags         int32
	Length        float32
	TipMass       float32
	YawStiffness  float32
	YawDamping    float32
	PitchStiff    float32
	PitchDamping  float32
	AlongStiff    float32
	AlongDamping  float32
	AngleLimit    float32
	MinYaw        float32
	MaxYaw        float32
	YawFriction   float32
	YawBounce     float32
	MinPitch      float32
	MaxPitch      float32
	PitchFriction float32
	PitchBounce   float32
	BaseMass      float32
	BaseStiffness float32
	BaseDamping   float32
	BaseMinLeft   float32
	BaseMaxLeft   float32
	BaseLeftFric  float32
	BaseMinUp     float32
	BaseMaxUp     float32
	BaseUpFric    float32
	BaseMinFwd    float32
	BaseMaxFwd    float32
	BaseFwdFric   float32
}

func (*AxisInterp) ProcType() ProcType { return ProcAxisInterp }
func (*QuatInterp) ProcType() ProcType { return ProcQuatInterp }
func (*Jiggle) ProcType() ProcType     { return ProcJiggle }

func (a *AimAt) ProcType() ProcType {
	if a.Attachment {
		return ProcAimAtAttach
	}
	return ProcAimAtBone
}

func (*AxisInterp) procedural() {}
func (*QuatInterp) procedural() {}
func (*AimAt) procedural()      {}
func (*Jiggle) procedural()     {}

// BoneController maps a normalized input onto one bone channel.
type BoneController struct {
	Bone       int
	Type       int32
	Start      float32
	End        float32
	Rest       int
	InputField int
}

// HitboxSet is a named group of hitboxes.
type HitboxSet struct {
	Name     string
	Hitboxes []Hitbox
}

// Hitbox is an oriented box in a bone's local space.
type Hitbox struct {
	Bone  int
	Group int
	BBMin math.Vec3
	BBMax math.Vec3
	Name  string
}

// Attachment is a named transform local to a bone.
type Attachment struct {
	Name  string
	Flags int32
	Bone  int
	Local math.Mat3x4
}

// Texture is a material reference.
type Texture struct {
	Name  string
	Flags int32
}

// PoseParam is a named blend control axis.
type PoseParam struct {
	Name  string
	Flags int32
	Start float32
	End   float32
	Loop  float32
}

// IKChain names a bone chain ending at a foot, hand or similar end effector.
// Links run from the anchor (thigh) to the end effector (foot).
type IKChain struct {
	Name     string
	LinkType int32
	Links    []IKLink
}

// IKLink is one bone of an IK chain.
type IKLink struct {
	Bone    int
	KneeDir math.Vec3
}

// IKLock pins a chain's end effector at its current position.
type IKLock struct {
	Chain        int
	PosWeight    float32
	LocalQWeight float32
	Flags        int32
}

// AutoLayer is a sub-sequence layered on top of its owning sequence.
type AutoLayer struct {
	Sequence int
	Pose     int
	Flags    int32
	Start    float32
	Peak     float32
	Tail     float32
	End      float32
}

// SeqGroup is a legacy shared animation file reference.
type SeqGroup struct {
	Label string
	Name  string
}

// Header2 carries the modern extension block.
type Header2 struct {
	NumSrcBoneTransforms   int
	IllumPosAttachment     int
	MaxEyeDeflection       float32
	LinearBoneIndex        int
	srcBoneTransformOffset int
}

// Movement is one piecewise-linear root motion segment.
type Movement struct {
	EndFrame    int
	MotionFlags int32
	V0          float32
	V1          float32
	Angle       float32
	Vector      math.Vec3
	Position    math.Vec3
}

// IKError is an IK target sample for one frame.
type IKError struct {
	Pos math.Vec3
	Q   math.Quat
}

// CompressedAnim is a six channel (pos xyz, rot xyz) run-length encoded
// clip. Values are raw shorts; Scale converts them to units or radians.
type CompressedAnim struct {
	Scale    [6]float32
	Channels [6][]int16
}
