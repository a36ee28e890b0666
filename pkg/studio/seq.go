package studio

import "github.com/Faultbox/studiobones/pkg/math"

// SeqDesc is a sequence: a one or two dimensional grid of animations
// addressed by pose parameters, plus layering and IK metadata.
type SeqDesc struct {
	Label       string
	Activity    string
	Flags       int32
	ActivityID  int
	ActWeight   int
	BBMin       math.Vec3
	BBMax       math.Vec3
	GroupSize   [2]int
	Param       [2]int
	ParamStart  [2]float32
	ParamEnd    [2]float32
	ParamParent int
	FadeIn      float32
	FadeOut     float32
	EntryNode   int
	ExitNode    int
	NodeFlags   int32
	EntryPhase  float32
	ExitPhase   float32
	LastFrame   float32
	NextSeq     int
	Pose        int
	NumIKRules  int
	CyclePose   int
	KeyValues   string

	// AnimIndices is the blend grid in row-major order: entry x + y*GroupSize[0].
	AnimIndices []int
	// Weights holds a per-bone blend weight. A nil slice weights every bone 1.
	Weights    []float32
	PoseKeys   []float32
	AutoLayers []AutoLayer
	IKLocks    []IKLock
	Events     []SeqEvent

	numBones int
}

// SeqEvent is an animation event fired at a cycle.
type SeqEvent struct {
	Cycle   float32
	Event   int
	Type    int32
	Options string
	Name    string
}

// Looping reports whether the sequence wraps.
func (s *SeqDesc) Looping() bool { return s.Flags&SeqLooping != 0 }

// Delta reports whether the sequence is additive.
func (s *SeqDesc) Delta() bool { return s.Flags&SeqDelta != 0 }

// Anim returns the animation index at grid cell (x, y), clamping both
// coordinates into the grid. It returns -1 for an empty grid.
func (s *SeqDesc) Anim(x, y int) int {
	if len(s.AnimIndices) == 0 || s.GroupSize[0] <= 0 {
		return -1
	}
	x = clampInt(x, 0, s.GroupSize[0]-1)
	y = clampInt(y, 0, s.GroupSize[1]-1)
	i := y*s.GroupSize[0] + x
	if i >= len(s.AnimIndices) {
		return -1
	}
	return s.AnimIndices[i]
}

// Weight returns the blend weight of bone, or 0 when bone is out of range.
func (s *SeqDesc) Weight(bone int) float32 {
	if bone < 0 || bone >= s.numBones {
		return 0
	}
	if s.Weights == nil {
		return 1
	}
	if bone >= len(s.Weights) {
		return 0
	}
	return math.UnitWeight(s.Weights[bone])
}

// PoseKey returns the pose key of grid column or row i along axis.
func (s *SeqDesc) PoseKey(axis, i int) float32 {
	if axis < 0 || axis > 1 || i < 0 || i >= s.GroupSize[axis] {
		return 0
	}
	k := i
	if axis == 1 {
		k += s.GroupSize[0]
	}
	if k >= len(s.PoseKeys) {
		return 0
	}
	return s.PoseKeys[k]
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
