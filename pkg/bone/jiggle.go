package bone

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

const (
	jiggleMaxStep  = 0.1
	jiggleStaleGap = 0.5
)

// JiggleState carries spring simulation state for one model instance
// across frames. Set Time to the current time in seconds before each
// BuildMatrices call.
type JiggleState struct {
	Time  float32
	bones map[int]*jiggleData
}

type jiggleData struct {
	lastUpdate float32

	basePos     math.Vec3
	baseLastPos math.Vec3
	baseVel     math.Vec3
	baseAccel   math.Vec3

	tipPos   math.Vec3
	tipVel   math.Vec3
	tipAccel math.Vec3
}

// NewJiggleState returns empty simulation state.
func NewJiggleState() *JiggleState {
	return &JiggleState{bones: make(map[int]*jiggleData)}
}

// Reset drops all simulation state; bones restart from their goal pose.
func (s *JiggleState) Reset() {
	clear(s.bones)
}

func (s *JiggleState) data(bone int, base, tip math.Vec3) *jiggleData {
	if s.bones == nil {
		s.bones = make(map[int]*jiggleData)
	}
	d, ok := s.bones[bone]
	if !ok || s.Time-d.lastUpdate > jiggleStaleGap || s.Time < d.lastUpdate {
		d = &jiggleData{
			lastUpdate:  s.Time,
			basePos:     base,
			baseLastPos: base,
			tipPos:      tip,
		}
		s.bones[bone] = d
	}
	return d
}

// update simulates one jiggle bone toward its animated transform goal and
// returns the resulting bone-to-world transform.
func (s *JiggleState) update(bone int, j *studio.Jiggle, goal math.Mat3x4) math.Mat3x4 {
	base := goal.Origin()
	left, up, forward := goal.Column(0), goal.Column(1), goal.Column(2)
	goalTip := base.MA(j.Length, forward)

	d := s.data(bone, base, goalTip)
	dt := math.Clamp(s.Time-d.lastUpdate, 0, jiggleMaxStep)
	d.lastUpdate = s.Time

	out := goal
	flex := j.Flags&(studio.JiggleFlexible|studio.JiggleRigid) != 0
	if flex {
		d.tipAccel.Z -= j.TipMass
		if j.Flags&studio.JiggleFlexible != 0 {
			err := goalTip.Sub(d.tipPos)
			yaw := j.YawStiffness*left.Dot(err) - j.YawDamping*left.Dot(d.tipVel)
			pitch := j.PitchStiff*up.Dot(err) - j.PitchDamping*up.Dot(d.tipVel)
			d.tipAccel = d.tipAccel.MA(yaw, left).MA(pitch, up)
			if j.Flags&studio.JiggleLengthConstraint == 0 {
				along := j.AlongStiff*forward.Dot(err) - j.AlongDamping*forward.Dot(d.tipVel)
				d.tipAccel = d.tipAccel.MA(along, forward)
			}
		}
		if dt > 0 {
			d.tipVel = d.tipVel.MA(dt, d.tipAccel)
			d.tipPos = d.tipPos.MA(dt, d.tipVel)
		}
		d.tipAccel = math.Vec3{}

		if j.Flags&studio.JiggleYawConstraint != 0 {
			d.limit(j, goal, base, yawLimit)
		}
		if j.Flags&studio.JigglePitchConstraint != 0 {
			d.limit(j, goal, base, pitchLimit)
		}

		dir := d.tipPos.Sub(base).Normalize()
		if j.Flags&studio.JiggleAngleConstraint != 0 {
			dot := math.Clamp(dir.Dot(forward), -1, 1)
			between := math32.Acos(dot)
			if dot < 0 {
				between = 2*math32.Pi - between
			}
			if between > j.AngleLimit {
				maxBetween := j.Length * math32.Sin(j.AngleLimit)
				delta := goalTip.Sub(d.tipPos).Normalize()
				d.tipPos = goalTip.MA(-maxBetween, delta)
				dir = d.tipPos.Sub(base).Normalize()
			}
		}
		if j.Flags&(studio.JiggleLengthConstraint|studio.JiggleRigid) != 0 {
			d.tipPos = base.MA(j.Length, dir)
			d.tipVel = d.tipVel.MA(-d.tipVel.Dot(dir), dir)
		}

		if dir == (math.Vec3{}) {
			dir = forward
		}
		l := up.Cross(dir).Normalize()
		u := dir.Cross(l)
		out.SetColumn(0, l)
		out.SetColumn(1, u)
		out.SetColumn(2, dir)
		out.SetOrigin(base)
	}

	if j.Flags&studio.JiggleBaseSpring != 0 {
		d.baseAccel.Z -= j.BaseMass
		err := base.Sub(d.basePos)
		d.baseAccel = d.baseAccel.MA(j.BaseStiffness, err).MA(-j.BaseDamping, d.baseVel)
		if dt > 0 {
			d.baseVel = d.baseVel.MA(dt, d.baseAccel)
			d.basePos = d.basePos.MA(dt, d.baseVel)
		}
		d.baseAccel = math.Vec3{}

		off := d.basePos.Sub(base)
		vel := math.Vec3{X: left.Dot(d.baseVel), Y: up.Dot(d.baseVel), Z: forward.Dot(d.baseVel)}
		lx, fx := clampAxis(left.Dot(off), j.BaseMinLeft, j.BaseMaxLeft)
		if fx {
			d.baseAccel = d.baseAccel.Sub(up.Scale(vel.Y).Add(forward.Scale(vel.Z)).Scale(j.BaseLeftFric))
		}
		ly, fy := clampAxis(up.Dot(off), j.BaseMinUp, j.BaseMaxUp)
		if fy {
			d.baseAccel = d.baseAccel.Sub(left.Scale(vel.X).Add(forward.Scale(vel.Z)).Scale(j.BaseUpFric))
		}
		lz, fz := clampAxis(forward.Dot(off), j.BaseMinFwd, j.BaseMaxFwd)
		if fz {
			d.baseAccel = d.baseAccel.Sub(left.Scale(vel.X).Add(up.Scale(vel.Y)).Scale(j.BaseFwdFric))
		}
		d.basePos = base.MA(lx, left).MA(ly, up).MA(lz, forward)
		if dt > 0 {
			d.baseVel = d.basePos.Sub(d.baseLastPos).Scale(1 / dt)
		}
		d.baseLastPos = d.basePos
		out.SetOrigin(d.basePos)
	}
	return out
}

func clampAxis(v, lo, hi float32) (float32, bool) {
	switch {
	case v < lo:
		return lo, true
	case v > hi:
		return hi, true
	}
	return v, false
}

type limitAxis int

const (
	yawLimit limitAxis = iota
	pitchLimit
)

// limit clips the tip onto the yaw or pitch limit plane when it strays
// outside the allowed range, applying friction and bounce.
func (d *jiggleData) limit(j *studio.Jiggle, goal math.Mat3x4, base math.Vec3, axis limitAxis) {
	along := d.tipPos.Sub(base)
	left, up, forward := goal.Column(0), goal.Column(1), goal.Column(2)

	var angle, lo, hi float32
	if axis == yawLimit {
		angle, lo, hi = math32.Atan2(left.Dot(along), forward.Dot(along)), j.MinYaw, j.MaxYaw
	} else {
		angle, lo, hi = math32.Atan2(up.Dot(along), forward.Dot(along)), j.MinPitch, j.MaxPitch
	}
	limit, hit := clampAxis(angle, lo, hi)
	if !hit {
		return
	}

	sn, cs := math32.Sincos(limit)
	var rot math.Mat3x4
	if axis == yawLimit {
		rot = math.Mat3x4{{cs, 0, sn, 0}, {0, 1, 0, 0}, {-sn, 0, cs, 0}}
	} else {
		rot = math.Mat3x4{{1, 0, 0, 0}, {0, cs, sn, 0}, {0, -sn, cs, 0}}
	}
	lm := goal.Concat(rot)
	lLeft, lUp, lFwd := lm.Column(0), lm.Column(1), lm.Column(2)
	vel := math.Vec3{X: lLeft.Dot(d.tipVel), Y: lUp.Dot(d.tipVel), Z: lFwd.Dot(d.tipVel)}

	if axis == yawLimit {
		d.tipPos = base.MA(lUp.Dot(along), lUp).MA(lFwd.Dot(along), lFwd)
		d.tipAccel = d.tipAccel.Sub(lUp.Scale(vel.Y).Add(lFwd.Scale(vel.Z)).Scale(j.YawFriction))
		d.tipVel = lLeft.Scale(-j.YawBounce * vel.X).MA(vel.Y, lUp).MA(vel.Z, lFwd)
	} else {
		d.tipPos = base.MA(lLeft.Dot(along), lLeft).MA(lFwd.Dot(along), lFwd)
		d.tipAccel = d.tipAccel.Sub(lLeft.Scale(vel.X).Add(lFwd.Scale(vel.Z)).Scale(j.PitchFriction))
		d.tipVel = lLeft.Scale(vel.X).MA(-j.PitchBounce*vel.Y, lUp).MA(vel.Z, lFwd)
	}
}
