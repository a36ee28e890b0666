package bone

import (
	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// AnimPosition returns the accumulated root motion of a at cycle: the
// offset from the clip start and the yaw in degrees. Cycles outside [0,1)
// add whole loops of the clip's total motion.
func AnimPosition(a *studio.AnimDesc, cycle float32) (pos math.Vec3, yaw float32, ok bool) {
	if a == nil || len(a.Movements) == 0 {
		return math.Vec3{}, 0, false
	}
	var loops int
	switch {
	case cycle > 1:
		loops = int(cycle)
	case cycle < 0:
		loops = int(cycle) - 1
	}
	cycle -= float32(loops)
	frame := cycle * float32(a.NumFrames-1)

	var prev float32
	for _, m := range a.Movements {
		end := float32(m.EndFrame)
		if end < frame {
			prev = end
			pos = m.Position
			yaw = m.Angle
			continue
		}
		var f float32
		if end != prev {
			f = (frame - prev) / (end - prev)
		}
		d := m.V0*f + 0.5*(m.V1-m.V0)*f*f
		pos = pos.MA(d, m.Vector)
		yaw = yaw*(1-f) + m.Angle*f
		if loops != 0 {
			last := a.Movements[len(a.Movements)-1]
			pos = pos.MA(float32(loops), last.Position)
			yaw += float32(loops) * last.Angle
		}
		return pos, yaw, true
	}
	return pos, yaw, false
}

// AnimMovement returns the root motion of a between two cycles, expressed
// in the clip's frame at from, and the change in yaw in degrees.
func AnimMovement(a *studio.AnimDesc, from, to float32) (delta math.Vec3, yaw float32, ok bool) {
	if a == nil || len(a.Movements) == 0 || from == to {
		return math.Vec3{}, 0, false
	}
	p0, y0, _ := AnimPosition(a, from)
	p1, y1, _ := AnimPosition(a, to)
	return yawRotate(p1.Sub(p0), -y0), y1 - y0, true
}

// AnimVelocity returns the root velocity of a at cycle in units per second.
func AnimVelocity(a *studio.AnimDesc, cycle float32) (math.Vec3, bool) {
	if a == nil || len(a.Movements) == 0 || a.NumFrames < 2 {
		return math.Vec3{}, false
	}
	frame := cycle * float32(a.NumFrames-1)
	var prev float32
	for _, m := range a.Movements {
		end := float32(m.EndFrame)
		if end < frame {
			prev = end
			continue
		}
		if end == prev {
			return math.Vec3{}, true
		}
		f := (frame - prev) / (end - prev)
		v := m.V0*(1-f) + m.V1*f
		v *= a.FPS / (end - prev)
		return m.Vector.Scale(v), true
	}
	return math.Vec3{}, false
}

// SeqMovement blends the root motion of seq's animations between two
// cycles. ok is true when any constituent moves, or when a non-delta clip
// without movement data anchors the root.
func SeqMovement(h *studio.Header, seq int, from, to float32, params []float32) (delta math.Vec3, yaw float32, ok bool) {
	sd := h.Sequence(seq)
	anims, weights := SeqAnims(h, seq, params)
	for i := range anims {
		if weights[i] == 0 {
			continue
		}
		a := h.Anim(anims[i])
		if a == nil {
			continue
		}
		if d, y, moved := AnimMovement(a, from, to); moved {
			ok = true
			delta = delta.MA(weights[i], d)
			yaw += y * weights[i]
		} else if !a.Delta() && len(a.Movements) == 0 && sd.Weight(0) > 0 {
			ok = true
		}
	}
	return delta, yaw, ok
}

// SeqVelocity blends the root velocity of seq's animations at cycle.
func SeqVelocity(h *studio.Header, seq int, cycle float32, params []float32) (math.Vec3, bool) {
	anims, weights := SeqAnims(h, seq, params)
	var vel math.Vec3
	var ok bool
	for i := range anims {
		if weights[i] == 0 {
			continue
		}
		if v, moved := AnimVelocity(h.Anim(anims[i]), cycle); moved {
			vel = vel.MA(weights[i], v)
			ok = true
		}
	}
	return vel, ok
}

// yawRotate rotates v about Z by yaw degrees.
func yawRotate(v math.Vec3, yaw float32) math.Vec3 {
	q := math.QuatFromAxisAngle(math.Vec3{Z: 1}, math.Deg2Rad(yaw))
	return math.QuaternionMatrix(q, math.Vec3{}).Rotate(v)
}
