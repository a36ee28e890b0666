// Package bone evaluates skeletal poses from parsed studio models.
//
// Evaluation runs in model-local space: a Pose holds one local position and
// rotation per bone, sequences and their layers are accumulated into it,
// bone controllers and IK adjust it, and BuildMatrices turns it into
// bone-to-world transforms, running procedural bones along the way.
package bone

import (
	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

const (
	// DefaultMaxLayerDepth caps sequence layer recursion.
	DefaultMaxLayerDepth = 8
	// DefaultLatchLifetime is how long, in seconds, a latched ground target
	// stays valid without being refreshed.
	DefaultLatchLifetime = 0.1

	// weightEpsilon is the smallest blend weight that still contributes.
	weightEpsilon = 0.001
)

// Pose holds the local transform of every bone, indexed by bone.
type Pose struct {
	Pos []math.Vec3
	Q   []math.Quat
}

// NewPose allocates a pose for n bones, initialised to identity.
func NewPose(n int) *Pose {
	p := &Pose{Pos: make([]math.Vec3, n), Q: make([]math.Quat, n)}
	for i := range p.Q {
		p.Q[i] = math.QuatIdentity()
	}
	return p
}

// Len returns the number of bones in the pose.
func (p *Pose) Len() int { return len(p.Q) }

// CopyFrom copies every bone of src into p.
func (p *Pose) CopyFrom(src *Pose) {
	copy(p.Pos, src.Pos)
	copy(p.Q, src.Q)
}

// Evaluator computes poses for one model instance. It owns scratch buffers
// and is not safe for concurrent use; create one per goroutine.
type Evaluator struct {
	hdr        *studio.Header
	log        *zap.Logger
	mask       int32
	poseParams []float32
	maxDepth   int

	depth   int
	scratch []*Pose
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger for evaluation warnings.
func WithLogger(log *zap.Logger) Option {
	return func(e *Evaluator) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMaxLayerDepth caps how deep sequence layers may nest.
func WithMaxLayerDepth(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithMask sets the initial bone mask.
func WithMask(mask int32) Option {
	return func(e *Evaluator) { e.mask = mask }
}

// New creates an evaluator for h. Every bone is evaluated until SetMask is
// called.
func New(h *studio.Header, opts ...Option) *Evaluator {
	e := &Evaluator{
		hdr:        h,
		log:        zap.NewNop(),
		mask:       studio.BoneUsedByAnything,
		poseParams: make([]float32, h.NumPoseParameters()),
		maxDepth:   DefaultMaxLayerDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(zap.String("model", h.Name))
	return e
}

// Header returns the model being evaluated.
func (e *Evaluator) Header() *studio.Header { return e.hdr }

// Mask returns the current bone mask.
func (e *Evaluator) Mask() int32 { return e.mask }

// SetMask selects which bones are evaluated. A bone is evaluated when its
// flags share a bit with mask.
func (e *Evaluator) SetMask(mask int32) { e.mask = mask }

// PoseParameters returns the current pose parameter values, in the
// parameter's own units.
func (e *Evaluator) PoseParameters() []float32 { return e.poseParams }

// SetPoseParameter sets parameter i. Out of range indices are ignored.
func (e *Evaluator) SetPoseParameter(i int, v float32) {
	if i >= 0 && i < len(e.poseParams) {
		e.poseParams[i] = v
	}
}

// SetPoseParameters copies values into the parameter set.
func (e *Evaluator) SetPoseParameters(values []float32) {
	copy(e.poseParams, values)
}

// NewPose allocates a pose sized for the model.
func (e *Evaluator) NewPose() *Pose { return NewPose(e.hdr.NumBones()) }

func (e *Evaluator) used(bone int) bool {
	return e.hdr.BoneFlags(bone)&e.mask != 0
}

// acquire returns a scratch pose; release hands it back.
func (e *Evaluator) acquire() *Pose {
	if n := len(e.scratch); n > 0 {
		p := e.scratch[n-1]
		e.scratch = e.scratch[:n-1]
		return p
	}
	return e.NewPose()
}

func (e *Evaluator) release(p *Pose) {
	e.scratch = append(e.scratch, p)
}

// InitPose sets every masked bone to its bind pose.
func (e *Evaluator) InitPose(p *Pose) {
	bones := e.hdr.Bones()
	for i := range bones {
		if bones[i].Flags&e.mask == 0 {
			continue
		}
		p.Pos[i] = bones[i].Pos
		p.Q[i] = bones[i].Quat
	}
}

// Request describes one complete bone setup.
type Request struct {
	Sequence    int
	Cycle       float32
	Time        float32
	World       math.Mat3x4
	Controllers []float32
}

// Setup runs the full pipeline for req: bind pose, the sequence with its
// layers, autoplay sequences, bone controllers, IK and matrix building. ik and jiggle may be nil.
func (e *Evaluator) Setup(req Request, out []math.Mat3x4, ik *IKContext, jiggle *JiggleState) *Pose {
	p := e.NewPose()
	e.InitPose(p)
	if ik != nil {
		ik.Init(req.World, req.Time, e.mask)
	}
	e.AccumulatePose(p, req.Sequence, req.Cycle, 1, req.Time, ik)
	e.CalcAutoplaySequences(p, req.Time, ik)
	CalcBoneAdj(e.hdr, p, req.Controllers, e.mask)
	if ik != nil {
		scratch := make([]math.Mat3x4, e.hdr.NumBones())
		ik.SolveDependencies(p, scratch)
	}
	e.BuildMatrices(p, req.World, out, jiggle)
	return p
}
