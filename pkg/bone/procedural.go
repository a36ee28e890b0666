package bone

import (
	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

const parallelEpsilon = 1.1920929e-07

// procedural overrides out[i] with the result of bone i's procedural
// payload. parent is the transform the bone is attached to.
func (e *Evaluator) procedural(i int, parent math.Mat3x4, out []math.Mat3x4, jiggle *JiggleState) {
	bones := e.hdr.Bones()
	switch proc := bones[i].Proc.(type) {
	case *studio.AxisInterp:
		if e.validBone(proc.Control) {
			out[i] = parent.Concat(axisInterp(e.hdr, proc, out))
		}
	case *studio.QuatInterp:
		if e.validBone(proc.Control) && len(proc.Triggers) > 0 {
			out[i] = parent.Concat(quatInterp(e.hdr, proc, out))
		}
	case *studio.AimAt:
		e.aimAt(i, proc, out)
	case *studio.Jiggle:
		if jiggle != nil {
			out[i] = jiggle.update(i, proc, out[i])
		}
	default:
		e.log.Warn("unsupported procedural bone", zap.Int("bone", i))
	}
}

func (e *Evaluator) validBone(i int) bool {
	return i >= 0 && i < e.hdr.NumBones()
}

// controlLocal returns the control bone's transform in its parent's space.
func controlLocal(h *studio.Header, control int, out []math.Mat3x4) math.Mat3x4 {
	if pi := h.BoneParent(control); pi >= 0 {
		return out[pi].Invert().Concat(out[control])
	}
	return out[control]
}

// axisInterp picks one preset per axis by the sign of the control bone's
// axis and blends them by the axis components.
func axisInterp(h *studio.Header, proc *studio.AxisInterp, out []math.Mat3x4) math.Mat3x4 {
	axis := proc.Axis
	if axis < 0 || axis > 2 {
		axis = 0
	}
	control := out[proc.Control].Column(axis)
	if pi := h.BoneParent(proc.Control); pi >= 0 {
		control = out[pi].IRotate(control)
	}

	pick := func(c float32, neg int) (float32, math.Vec3, math.Quat) {
		if c < 0 {
			return -c, proc.Pos[neg], proc.Quat[neg]
		}
		return c, proc.Pos[neg+1], proc.Quat[neg+1]
	}
	a1, p1, q1 := pick(control.X, 0)
	a2, p2, q2 := pick(control.Y, 2)
	a3, p3, q3 := pick(control.Z, 4)

	if a1+a2 <= 0 {
		return math.QuaternionMatrix(q3, p3)
	}
	pos := p1.Scale(a1).Add(p2.Scale(a2)).Add(p3.Scale(a3))
	q := q2.Slerp(q1, a1/(a1+a2))
	q = q.Slerp(q3, a3)
	return math.QuaternionMatrix(q, pos)
}

// quatInterp weights each trigger by the angle between the control bone's
// local rotation and the trigger orientation.
func quatInterp(h *studio.Header, proc *studio.QuatInterp, out []math.Mat3x4) math.Mat3x4 {
	src := controlLocal(h, proc.Control, out).Quat()

	weights := make([]float32, len(proc.Triggers))
	var total float32
	for i, t := range proc.Triggers {
		dot := math32.Abs(t.Trigger.Dot(src))
		dot = math.Clamp(dot, -1, 1)
		w := 1 - 2*math32.Acos(dot)*t.InvTolerance
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= weightEpsilon {
		t := proc.Triggers[0]
		return math.QuaternionMatrix(t.Quat, t.Pos)
	}

	scale := 1 / total
	var q math.Quat
	var pos math.Vec3
	for i, t := range proc.Triggers {
		if weights[i] == 0 {
			continue
		}
		s := weights[i] * scale
		q = q.Add4(q.Align(t.Quat).Scale4(s))
		pos = pos.MA(s, t.Pos)
	}
	return math.QuaternionMatrix(q.Normalize(), pos)
}

// aimAt points the bone's aim vector at the target bone or attachment and
// rolls it so its up vector follows the parent's.
func (e *Evaluator) aimAt(i int, proc *studio.AimAt, out []math.Mat3x4) {
	if !e.validBone(proc.Parent) {
		return
	}
	var target math.Vec3
	if proc.Attachment {
		if proc.Aim < 0 || proc.Aim >= e.hdr.NumAttachments() {
			return
		}
		target = Attachment(e.hdr, proc.Aim, out).Origin()
	} else {
		if !e.validBone(proc.Aim) {
			return
		}
		target = out[proc.Aim].Origin()
	}

	parent := out[proc.Parent]
	origin := parent.Transform(proc.BasePos)
	local := parent.Concat(math.QuaternionMatrix(e.hdr.Bone(i).Quat, proc.BasePos))

	dir := target.Sub(origin).Normalize()
	aim := rotationBetween(proc.AimVector, dir)

	if 1-math32.Abs(proc.UpVector.Dot(proc.AimVector)) <= parallelEpsilon {
		out[i] = math.QuaternionMatrix(aim, origin)
		return
	}

	up := flatten(math.QuaternionMatrix(aim, math.Vec3{}).Rotate(proc.UpVector), dir)
	parentUp := flatten(local.Rotate(proc.UpVector), dir)

	var roll math.Quat
	if 1-math32.Abs(up.Dot(parentUp)) > parallelEpsilon {
		angle := math32.Acos(math.Clamp(up.Dot(parentUp), -1, 1))
		roll = math.QuatFromAxisAngle(up.Cross(parentUp).Normalize(), angle)
	} else {
		roll = math.QuatIdentity()
	}
	out[i] = math.QuaternionMatrix(roll.Mul(aim).Normalize(), origin)
}

// flatten removes the component of v along the unit vector dir.
func flatten(v, dir math.Vec3) math.Vec3 {
	return v.Sub(dir.Scale(dir.Dot(v))).Normalize()
}

// rotationBetween returns the shortest rotation taking unit vector a onto
// unit vector b.
func rotationBetween(a, b math.Vec3) math.Quat {
	d := math.Clamp(a.Dot(b), -1, 1)
	if d >= 1-parallelEpsilon {
		return math.QuatIdentity()
	}
	if d <= -1+parallelEpsilon {
		axis := a.Cross(math.Vec3{X: 1})
		if axis.Length() < 1e-3 {
			axis = a.Cross(math.Vec3{Y: 1})
		}
		return math.QuatFromAxisAngle(axis.Normalize(), math32.Pi)
	}
	return math.QuatFromAxisAngle(a.Cross(b).Normalize(), math32.Acos(d))
}
