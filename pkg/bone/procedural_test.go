package bone

import (
	"testing"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

func makeAimModel() *studio.Model {
	aimer := makeBone("aimer", 0, math.Vec3{}, math.Vec3{})
	aimer.Proc = &studio.AimAt{
		Parent:    0,
		Aim:       1,
		AimVector: math.Vec3{X: 1},
		UpVector:  math.Vec3{Z: 1},
	}
	return &studio.Model{
		Name: "test/aim.mdl",
		Bones: []studio.Bone{
			makeBone("root", -1, math.Vec3{}, math.Vec3{}),
			makeBone("target", 0, math.Vec3{Y: 10}, math.Vec3{}),
			aimer,
		},
		Animations: []studio.Animation{
			{AnimDesc: studio.AnimDesc{Name: "@idle", FPS: 30, NumFrames: 1}},
		},
		Sequences: []studio.SeqDesc{makeSeq("idle", 0)},
	}
}

func TestAimAt(t *testing.T) {
	h := load(t, makeAimModel(), studio.LayoutModern)
	e := New(h)
	p := e.NewPose()
	e.InitPose(p)
	out := make([]math.Mat3x4, h.NumBones())

	tests := []struct {
		target math.Vec3
		want   math.Vec3
	}{
		{math.Vec3{Y: 10}, math.Vec3{Y: 1}},
		{math.Vec3{X: 10, Y: 10}, math.Vec3{X: 1, Y: 1}.Normalize()},
		{math.Vec3{X: -3}, math.Vec3{X: -1}},
	}
	for _, tt := range tests {
		p.Pos[1] = tt.target
		e.BuildMatrices(p, math.Identity3x4(), out, nil)
		if got := out[2].Column(0); !vecNear(got, tt.want, 1e-4) {
			t.Errorf("target %v: aim axis = %v, want %v", tt.target, got, tt.want)
		}
		if up := out[2].Column(2); tt.target.Z == 0 && !vecNear(up, math.Vec3{Z: 1}, 1e-4) {
			t.Errorf("target %v: up axis = %v, want +Z", tt.target, up)
		}
	}
}

func TestRotationBetween(t *testing.T) {
	tests := []struct{ a, b math.Vec3 }{
		{math.Vec3{X: 1}, math.Vec3{X: 1}},
		{math.Vec3{X: 1}, math.Vec3{Y: 1}},
		{math.Vec3{X: 1}, math.Vec3{X: -1}},
		{math.Vec3{Z: 1}, math.Vec3{X: 0.6, Z: -0.8}},
	}
	for _, tt := range tests {
		q := rotationBetween(tt.a, tt.b)
		got := math.QuaternionMatrix(q, math.Vec3{}).Rotate(tt.a)
		if !vecNear(got, tt.b, 1e-5) {
			t.Errorf("rotationBetween(%v, %v) maps a to %v", tt.a, tt.b, got)
		}
	}
}

func TestAxisInterp(t *testing.T) {
	proc := &studio.AxisInterp{Control: 0, Axis: 0}
	for i := range proc.Quat {
		proc.Quat[i] = math.QuatIdentity()
	}
	proc.Pos[1], proc.Quat[1] = math.Vec3{X: 1}, math.AngleQuaternion(math.Vec3{X: 0.2})
	proc.Pos[3], proc.Quat[3] = math.Vec3{Y: 2}, math.AngleQuaternion(math.Vec3{Y: 0.4})
	proc.Pos[5], proc.Quat[5] = math.Vec3{Z: 3}, math.AngleQuaternion(math.Vec3{Z: 0.6})

	driven := makeBone("driven", -1, math.Vec3{}, math.Vec3{})
	driven.Proc = proc
	m := makeAimModel()
	m.Bones = []studio.Bone{makeBone("control", -1, math.Vec3{}, math.Vec3{}), driven}
	h := load(t, m, studio.LayoutModern)
	e := New(h)

	tests := []struct {
		name    string
		control math.Quat
		pos     math.Vec3
		q       math.Quat
	}{
		{"along x", math.QuatIdentity(), proc.Pos[1], proc.Quat[1]},
		{"along y", math.QuatFromAxisAngle(math.Vec3{Z: 1}, math.Deg2Rad(90)), proc.Pos[3], proc.Quat[3]},
		{"along z", math.QuatFromAxisAngle(math.Vec3{Y: 1}, math.Deg2Rad(-90)), proc.Pos[5], proc.Quat[5]},
		{"between x and y", math.QuatFromAxisAngle(math.Vec3{Z: 1}, math.Deg2Rad(45)),
			proc.Pos[1].Add(proc.Pos[3]).Scale(0.70710677), proc.Quat[3].Slerp(proc.Quat[1], 0.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := e.NewPose()
			e.InitPose(p)
			p.Q[0] = tt.control
			out := make([]math.Mat3x4, h.NumBones())
			e.BuildMatrices(p, math.Identity3x4(), out, nil)

			q, pos := out[1].Decompose()
			if !vecNear(pos, tt.pos, 1e-4) {
				t.Errorf("position = %v, want %v", pos, tt.pos)
			}
			if !sameRotation(q, tt.q, 1e-5) {
				t.Errorf("rotation = %v, want %v", q, tt.q)
			}
		})
	}
}

func TestQuatInterpSingleTrigger(t *testing.T) {
	want := math.AngleQuaternion(math.Vec3{Y: 0.3})
	proc := &studio.QuatInterp{
		Control: 0,
		Triggers: []studio.QuatTrigger{{
			InvTolerance: 1,
			Trigger:      math.QuatIdentity(),
			Pos:          math.Vec3{X: 2},
			Quat:         want,
		}},
	}
	m := makeAimModel()
	m.Bones = m.Bones[:1]
	m.Bones[0].Name = "control"
	h := load(t, m, studio.LayoutModern)
	out := []math.Mat3x4{math.Identity3x4()}

	got := quatInterp(h, proc, out)
	q, pos := got.Decompose()
	if !sameRotation(q, want, 1e-5) || !vecNear(pos, math.Vec3{X: 2}, 1e-5) {
		t.Errorf("quatInterp = (%v, %v), want (%v, (2, 0, 0))", q, pos, want)
	}
}

func makeJiggle() *studio.Jiggle {
	return &studio.Jiggle{
		Flags:        studio.JiggleFlexible | studio.JiggleLengthConstraint,
		Length:       10,
		YawStiffness: 100,
		YawDamping:   10,
		PitchStiff:   100,
		PitchDamping: 10,
	}
}

func TestJiggleStartsAtGoal(t *testing.T) {
	s := NewJiggleState()
	goal := math.QuaternionMatrix(math.AngleQuaternion(math.Vec3{X: 0.2, Z: 1}), math.Vec3{X: 3, Y: 4})

	got := s.update(0, makeJiggle(), goal)
	for c := 0; c < 3; c++ {
		if !vecNear(got.Column(c), goal.Column(c), 1e-5) {
			t.Errorf("column %d = %v, want %v", c, got.Column(c), goal.Column(c))
		}
	}
	if !vecNear(got.Origin(), goal.Origin(), 1e-6) {
		t.Errorf("origin = %v, want %v", got.Origin(), goal.Origin())
	}
}

func TestJiggleSettles(t *testing.T) {
	s := NewJiggleState()
	j := makeJiggle()
	s.update(0, j, math.Identity3x4())

	goal := math.QuaternionMatrix(math.QuatFromAxisAngle(math.Vec3{Y: 1}, math.Deg2Rad(30)), math.Vec3{})
	s.Time = 0.01
	first := s.update(0, j, goal)
	if vecNear(first.Column(2), goal.Column(2), 1e-3) {
		t.Fatal("tip snapped to the new goal without lagging")
	}
	for i := 2; i <= 300; i++ {
		s.Time = float32(i) * 0.01
		s.update(0, j, goal)
	}
	got := s.update(0, j, goal)
	if !vecNear(got.Column(2), goal.Column(2), 1e-2) {
		t.Errorf("settled forward = %v, want %v", got.Column(2), goal.Column(2))
	}
	if tip := s.bones[0].tipPos; !math32Near(tip.Length(), j.Length, 1e-3) {
		t.Errorf("tip distance = %v, want %v", tip.Length(), j.Length)
	}
}

func TestJiggleResetsAfterGap(t *testing.T) {
	s := NewJiggleState()
	j := makeJiggle()
	s.update(0, j, math.Identity3x4())

	goal := math.QuaternionMatrix(math.QuatFromAxisAngle(math.Vec3{X: 1}, math.Deg2Rad(45)), math.Vec3{})
	s.Time = 2
	got := s.update(0, j, goal)
	if !vecNear(got.Column(2), goal.Column(2), 1e-5) {
		t.Errorf("forward after gap = %v, want goal %v", got.Column(2), goal.Column(2))
	}

	s.Reset()
	if len(s.bones) != 0 {
		t.Errorf("Reset left %d bones", len(s.bones))
	}
}
