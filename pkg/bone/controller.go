package bone

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// CalcBoneAdj applies bone controllers to p. controllers holds the
// normalized inputs indexed by each controller's input field; missing
// inputs read as 0. Inputs are clamped to [0,1] except on looping
// rotational controllers, where they wrap.
func CalcBoneAdj(h *studio.Header, p *Pose, controllers []float32, mask int32) {
	for j := 0; j < h.NumBoneControllers(); j++ {
		bc := h.BoneController(j)
		i := bc.Bone
		if i < 0 || i >= h.NumBones() || h.BoneFlags(i)&mask == 0 {
			continue
		}

		var in float32
		if bc.InputField >= 0 && bc.InputField < len(controllers) {
			in = controllers[bc.InputField]
		}
		if !math.IsFinite(in) {
			in = 0
		}
		if bc.Type&studio.ControlRLoop != 0 {
			in -= math32.Floor(in)
		} else {
			in = math.Clamp(in, 0, 1)
		}
		value := (1-in)*bc.Start + in*bc.End

		switch bc.Type & studio.ControlTypes {
		case studio.ControlXR:
			p.Q[i] = adjust(math.Vec3{X: math.Deg2Rad(value)}, p.Q[i])
		case studio.ControlYR:
			p.Q[i] = adjust(math.Vec3{Y: math.Deg2Rad(value)}, p.Q[i])
		case studio.ControlZR:
			p.Q[i] = adjust(math.Vec3{Z: math.Deg2Rad(value)}, p.Q[i])
		case studio.ControlX:
			p.Pos[i].X += value
		case studio.ControlY:
			p.Pos[i].Y += value
		case studio.ControlZ:
			p.Pos[i].Z += value
		}
	}
}

func adjust(angles math.Vec3, q math.Quat) math.Quat {
	return math.QuaternionSM(1, math.AngleQuaternion(angles), q)
}
