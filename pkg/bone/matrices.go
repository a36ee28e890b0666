package bone

import (
	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// BuildBoneChain computes the bone-to-world transforms of bone and all of
// its ancestors into out, without consulting other entries of out.
func BuildBoneChain(h *studio.Header, world math.Mat3x4, p *Pose, bone int, out []math.Mat3x4) {
	n := h.NumBones()
	if bone < 0 || bone >= n {
		return
	}
	var chain [studio.MaxBones]int
	depth := 0
	for i := bone; i >= 0 && depth < len(chain); i = h.BoneParent(i) {
		chain[depth] = i
		depth++
	}
	for j := depth - 1; j >= 0; j-- {
		i := chain[j]
		local := math.QuaternionMatrix(p.Q[i], p.Pos[i])
		if pi := h.BoneParent(i); pi >= 0 {
			out[i] = out[pi].Concat(local)
		} else {
			out[i] = world.Concat(local)
		}
	}
}

// BuildMatrices converts p into bone-to-world transforms. Bones are visited
// parents first; bones with a procedural payload replace their animated
// transform with the procedural result. jiggle may be nil, in which case
// jiggle bones keep their animated transform.
func (e *Evaluator) BuildMatrices(p *Pose, world math.Mat3x4, out []math.Mat3x4, jiggle *JiggleState) {
	bones := e.hdr.Bones()
	for _, i := range e.hdr.BoneOrder() {
		b := &bones[i]
		if b.Flags&e.mask == 0 {
			continue
		}
		parent := world
		if b.Parent >= 0 {
			parent = out[b.Parent]
		}
		out[i] = parent.Concat(math.QuaternionMatrix(p.Q[i], p.Pos[i]))
		if b.Proc != nil {
			e.procedural(i, parent, out, jiggle)
		}
	}
}

// Attachment returns the world transform of attachment i given built bone
// matrices.
func Attachment(h *studio.Header, i int, bones []math.Mat3x4) math.Mat3x4 {
	att := h.Attachment(i)
	if att.Bone < 0 || att.Bone >= len(bones) {
		return att.Local
	}
	return bones[att.Bone].Concat(att.Local)
}
