package bone

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// LocalPoseParameter maps the pose parameter driving axis of seq onto the
// sequence's blend grid. It returns the lower grid index along the axis and
// the fraction s in [0,1] toward the next column.
func (e *Evaluator) LocalPoseParameter(seq, axis int) (index int, s float32) {
	return localPoseParameter(e.hdr, e.hdr.Sequence(seq), axis, e.poseParams)
}

func localPoseParameter(h *studio.Header, sd *studio.SeqDesc, axis int, params []float32) (int, float32) {
	if axis < 0 || axis > 1 {
		return 0, 0
	}
	ip := sd.Param[axis]
	if ip < 0 || ip >= h.NumPoseParameters() {
		return 0, 0
	}
	pp := h.PoseParameter(ip)
	var value float32
	if ip < len(params) {
		value = params[ip]
	}
	if !math.IsFinite(value) {
		return 0, 0
	}
	if pp.Loop != 0 {
		wrap := (pp.Start+pp.End)/2 + pp.Loop/2
		shift := pp.Loop - wrap
		value -= pp.Loop * math32.Floor((value+shift)/pp.Loop)
	}

	groups := sd.GroupSize[axis]
	if len(sd.PoseKeys) == 0 {
		span := sd.ParamEnd[axis] - sd.ParamStart[axis]
		var s float32
		if span != 0 {
			s = (value - sd.ParamStart[axis]) / span
		}
		s = math.UnitWeight(s)
		if groups <= 1 {
			return 0, s
		}
		index := int(s * float32(groups-1))
		if index >= groups-1 {
			index = groups - 2
		}
		return index, s*float32(groups-1) - float32(index)
	}

	var index int
	var s float32
	for {
		k0, k1 := sd.PoseKey(axis, index), sd.PoseKey(axis, index+1)
		if k1 != k0 {
			s = (value - k0) / (k1 - k0)
		} else {
			s = 0
		}
		if index < groups-2 && s > 1 {
			index++
			continue
		}
		break
	}
	return index, math.UnitWeight(s)
}

// SeqAnims returns the up to four animations blended by seq at the current
// pose parameters, with their bilinear weights. Unused cells carry weight 0.
func SeqAnims(h *studio.Header, seq int, params []float32) (anims [4]int, weights [4]float32) {
	sd := h.Sequence(seq)
	i0, s0 := localPoseParameter(h, sd, 0, params)
	i1, s1 := localPoseParameter(h, sd, 1, params)

	anims[0], weights[0] = sd.Anim(i0, i1), (1-s0)*(1-s1)
	anims[1], weights[1] = sd.Anim(i0+1, i1), s0*(1-s1)
	anims[2], weights[2] = sd.Anim(i0, i1+1), (1-s0)*s1
	anims[3], weights[3] = sd.Anim(i0+1, i1+1), s0*s1
	return anims, weights
}

// CPS returns the playback rate of seq in cycles per second.
func CPS(h *studio.Header, seq int, params []float32) float32 {
	anims, weights := SeqAnims(h, seq, params)
	var t float32
	for i := range anims {
		a := h.Anim(anims[i])
		if a != nil && weights[i] > 0 && a.NumFrames > 1 {
			t += a.FPS / float32(a.NumFrames-1) * weights[i]
		}
	}
	return t
}

// Duration returns the length of one cycle of seq in seconds, or 0 for a
// sequence that does not advance.
func Duration(h *studio.Header, seq int, params []float32) float32 {
	cps := CPS(h, seq, params)
	if cps == 0 {
		return 0
	}
	return 1 / cps
}
