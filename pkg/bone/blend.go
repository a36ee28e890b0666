package bone

import (
	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// SlerpBones mixes src into dst by s, scaled per bone by the sequence
// weight list. Delta sequences are applied additively instead: before the
// existing rotation, or after it for post-delta sequences.
func SlerpBones(h *studio.Header, dst *Pose, seq *studio.SeqDesc, src *Pose, s float32, mask int32) {
	s = math.UnitWeight(s)
	if s <= 0 {
		return
	}
	bones := h.Bones()

	if seq.Delta() {
		post := seq.Flags&studio.SeqPost != 0
		for i := range bones {
			if bones[i].Flags&mask == 0 {
				continue
			}
			s2 := s * seq.Weight(i)
			if s2 <= 0 {
				continue
			}
			if post {
				dst.Q[i] = math.QuaternionMA(dst.Q[i], s2, src.Q[i])
			} else {
				dst.Q[i] = math.QuaternionSM(s2, src.Q[i], dst.Q[i])
			}
			dst.Pos[i] = dst.Pos[i].MA(s2, src.Pos[i])
		}
		return
	}

	for i := range bones {
		if bones[i].Flags&mask == 0 {
			continue
		}
		s2 := s * seq.Weight(i)
		if s2 <= 0 {
			continue
		}
		s1 := 1 - s2
		if bones[i].Flags&studio.BoneFixedAlignment != 0 {
			dst.Q[i] = src.Q[i].SlerpNoAlign(dst.Q[i], s1)
		} else {
			dst.Q[i] = src.Q[i].Slerp(dst.Q[i], s1)
		}
		dst.Pos[i] = dst.Pos[i].Scale(s1).Add(src.Pos[i].Scale(s2))
	}
}

// BlendBones linearly mixes src into dst by s. A weight of 0 leaves dst
// untouched and a weight of 1 copies src exactly.
func BlendBones(h *studio.Header, dst, src *Pose, s float32, mask int32) {
	s = math.UnitWeight(s)
	if s <= 0 {
		return
	}
	bones := h.Bones()
	if s >= 1 {
		for i := range bones {
			if bones[i].Flags&mask != 0 {
				dst.Q[i] = src.Q[i]
				dst.Pos[i] = src.Pos[i]
			}
		}
		return
	}

	s1 := 1 - s
	for i := range bones {
		if bones[i].Flags&mask == 0 {
			continue
		}
		if bones[i].Flags&studio.BoneFixedAlignment != 0 {
			dst.Q[i] = src.Q[i].BlendNoAlign(dst.Q[i], s1)
		} else {
			dst.Q[i] = src.Q[i].Blend(dst.Q[i], s1)
		}
		dst.Pos[i] = dst.Pos[i].Scale(s1).Add(src.Pos[i].Scale(s))
	}
}

// ScaleBones scales every masked bone of a delta pose toward identity by s,
// weighted by the sequence weight list.
func ScaleBones(h *studio.Header, p *Pose, seq *studio.SeqDesc, s float32, mask int32) {
	s = math.UnitWeight(s)
	bones := h.Bones()
	for i := range bones {
		if bones[i].Flags&mask == 0 {
			continue
		}
		s2 := s * seq.Weight(i)
		p.Q[i] = p.Q[i].ScaleAngle(s2)
		p.Pos[i] = p.Pos[i].Scale(s2)
	}
}
