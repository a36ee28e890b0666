package bone

import (
	"testing"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

func TestSolveTwoLink(t *testing.T) {
	hint := math.Vec3{Y: 1}

	t.Run("full extension", func(t *testing.T) {
		knee, _, ok := SolveTwoLink(10, 10, math.Vec3{X: 20}, hint)
		if ok {
			t.Fatal("ok = true at full extension")
		}
		if !vecNear(knee, math.Vec3{X: 10}, 1e-4) {
			t.Errorf("knee = %v, want on the line at (10, 0, 0)", knee)
		}
	})

	t.Run("half reach", func(t *testing.T) {
		target := math.Vec3{X: 9.998}
		knee, foot, ok := SolveTwoLink(10, 10, target, hint)
		if !ok {
			t.Fatal("ok = false")
		}
		if !vecNear(foot, target, 1e-5) {
			t.Errorf("foot = %v, want %v", foot, target)
		}
		if l := knee.Length(); !math32Near(l, 10, 1e-3) {
			t.Errorf("|knee| = %v, want 10", l)
		}
		if l := foot.Sub(knee).Length(); !math32Near(l, 10, 1e-3) {
			t.Errorf("|foot-knee| = %v, want 10", l)
		}
		if knee.Y <= 0 {
			t.Errorf("knee = %v, want bend toward +Y", knee)
		}
	})

	t.Run("too close", func(t *testing.T) {
		_, foot, ok := SolveTwoLink(10, 10, math.Vec3{X: 0.5}, hint)
		if !ok {
			t.Fatal("ok = false")
		}
		if !vecNear(foot, math.Vec3{X: 1.5}, 1e-5) {
			t.Errorf("foot = %v, want pushed out to (1.5, 0, 0)", foot)
		}
	})
}

func math32Near(a, b, eps float32) bool {
	d := a - b
	return d <= eps && d >= -eps
}

func TestSolveChainAtCurrentFoot(t *testing.T) {
	for _, l := range layouts() {
		t.Run(l.String(), func(t *testing.T) {
			h := load(t, makeLeg(), l)
			e := New(h)
			p := e.NewPose()
			e.InitPose(p)

			before := make([]math.Mat3x4, h.NumBones())
			BuildBoneChain(h, math.Identity3x4(), p, 2, before)
			q, pos := before[2].Decompose()

			c := NewIKContext(h)
			c.Init(math.Identity3x4(), 0, e.Mask())
			out := make([]math.Mat3x4, h.NumBones())
			if !c.SolveChain(0, pos, q, p, out) {
				t.Fatal("SolveChain = false")
			}

			after := make([]math.Mat3x4, h.NumBones())
			BuildBoneChain(h, math.Identity3x4(), p, 2, after)
			for i := range after {
				if !vecNear(after[i].Origin(), before[i].Origin(), 1e-3) {
					t.Errorf("bone %d at %v, want %v", i, after[i].Origin(), before[i].Origin())
				}
				if !sameRotation(after[i].Quat(), before[i].Quat(), 1e-4) {
					t.Errorf("bone %d rotation %v, want %v", i, after[i].Quat(), before[i].Quat())
				}
			}
		})
	}
}

func TestSolveChainUnreachable(t *testing.T) {
	h := load(t, makeLeg(), studio.LayoutModern)
	e := New(h)
	p := e.NewPose()
	e.InitPose(p)
	want := NewPose(p.Len())
	want.CopyFrom(p)

	c := NewIKContext(h)
	out := make([]math.Mat3x4, h.NumBones())
	if c.SolveChain(0, math.Vec3{X: 50}, math.QuatIdentity(), p, out) {
		t.Fatal("SolveChain = true for a target past full extension")
	}
	for i := range p.Q {
		if p.Q[i] != want.Q[i] || p.Pos[i] != want.Pos[i] {
			t.Errorf("bone %d changed on failure", i)
		}
	}
	if c.SolveChain(3, math.Vec3{}, math.QuatIdentity(), p, out) {
		t.Error("SolveChain = true for a missing chain")
	}
}

func TestGroundLatch(t *testing.T) {
	h := load(t, makeLeg(), studio.LayoutModern)
	c := NewIKContext(h)
	r := &ikRule{
		typ:     studio.IKGround,
		bone:    -1,
		pos:     math.Vec3{X: 1},
		q:       math.QuatIdentity(),
		latched: true,
	}

	steps := []struct {
		time float32
		pos  math.Vec3
		want math.Vec3
	}{
		{0, math.Vec3{X: 1}, math.Vec3{X: 1}},
		{0.05, math.Vec3{X: 5}, math.Vec3{X: 1}}, // held
		{0.12, math.Vec3{X: 5}, math.Vec3{X: 1}}, // still within lifetime of last use
		{0.5, math.Vec3{X: 5}, math.Vec3{X: 5}},  // expired
		{0.4, math.Vec3{X: 7}, math.Vec3{X: 7}},  // time went backward
	}
	for _, s := range steps {
		c.Init(math.Identity3x4(), s.time, studio.BoneUsedByAnything)
		r.pos = s.pos
		m, ok := c.target(r, nil, nil)
		if !ok {
			t.Fatalf("t=%v: target not resolved", s.time)
		}
		if !vecNear(m.Origin(), s.want, 1e-5) {
			t.Errorf("t=%v: target = %v, want %v", s.time, m.Origin(), s.want)
		}
	}

	c.Unlatch()
	c.Init(math.Identity3x4(), 0.41, studio.BoneUsedByAnything)
	r.pos = math.Vec3{X: 9}
	if m, _ := c.target(r, nil, nil); !vecNear(m.Origin(), r.pos, 1e-5) {
		t.Errorf("after Unlatch target = %v, want %v", m.Origin(), r.pos)
	}
}

func TestSetupWithIK(t *testing.T) {
	h := load(t, makeLeg(), studio.LayoutModern)
	e := New(h)
	c := NewIKContext(h)
	out := make([]math.Mat3x4, h.NumBones())
	world := math.Identity3x4()
	world.SetOrigin(math.Vec3{Z: 5})

	e.Setup(Request{Sequence: 0, World: world}, out, c, NewJiggleState())

	want := math.Vec3{X: 2 * 10 * 0.87758255, Z: 5}
	if !vecNear(out[2].Origin(), want, 1e-3) {
		t.Errorf("foot at %v, want %v", out[2].Origin(), want)
	}
}
