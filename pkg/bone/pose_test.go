package bone

import (
	"testing"

	"github.com/chewxy/math32"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// makeSwing returns a two frame clip that turns the thigh by about 30
// degrees about Z, sweeping the foot sideways.
func makeSwing() studio.Animation {
	return studio.Animation{
		AnimDesc: studio.AnimDesc{Name: "@swing", FPS: 30, NumFrames: 2, Flags: studio.SeqLooping},
		Tracks: []studio.BoneTrack{{
			Bone:      0,
			Rot:       studio.RotAnim,
			RotFrames: [3][]int16{nil, nil, {2145, 2145}},
		}},
	}
}

// bindChain returns the world transforms of the leg in its bind pose.
func bindChain(h *studio.Header, world math.Mat3x4) []math.Mat3x4 {
	e := New(h)
	p := e.NewPose()
	e.InitPose(p)
	out := make([]math.Mat3x4, h.NumBones())
	BuildBoneChain(h, world, p, h.NumBones()-1, out)
	return out
}

func footAt(h *studio.Header, p *Pose) math.Vec3 {
	out := make([]math.Mat3x4, h.NumBones())
	BuildBoneChain(h, math.Identity3x4(), p, 2, out)
	return out[2].Origin()
}

func TestDeltaSequences(t *testing.T) {
	m := makeLeg()
	m.Animations = append(m.Animations, studio.Animation{
		AnimDesc: studio.AnimDesc{Name: "@nod", FPS: 30, NumFrames: 2, Flags: studio.SeqDelta | studio.SeqLooping},
		Tracks: []studio.BoneTrack{{
			Bone:      1,
			Delta:     true,
			Rot:       studio.RotAnim,
			RotFrames: [3][]int16{{quarterTurn, quarterTurn}, nil, nil},
		}},
	})
	nod := makeSeq("nod", 2)
	nod.Flags |= studio.SeqDelta
	post := makeSeq("nod post", 2)
	post.Flags |= studio.SeqDelta | studio.SeqPost
	m.Sequences = append(m.Sequences, nod, post)

	angle := float32(quarterTurn) / 4096
	bind := makeLeg().Bones[1].Quat

	tests := []struct {
		name   string
		seq    int
		weight float32
		want   math.Quat
	}{
		{"pre", 3, 1, math.AngleQuaternion(math.Vec3{X: angle}).Mul(bind)},
		{"post", 4, 1, bind.Mul(math.AngleQuaternion(math.Vec3{X: angle}))},
		{"half weight", 3, 0.5, math.AngleQuaternion(math.Vec3{X: angle / 2}).Mul(bind)},
	}
	for _, l := range layouts() {
		h := load(t, m, l)
		for _, tt := range tests {
			t.Run(l.String()+"/"+tt.name, func(t *testing.T) {
				e := New(h)
				p := e.NewPose()
				e.InitPose(p)
				e.AccumulatePose(p, 0, 0.5, 1, 0, nil)
				e.AccumulatePose(p, tt.seq, 0.5, tt.weight, 0, nil)

				if !sameRotation(p.Q[1], tt.want, 1e-5) {
					t.Errorf("knee = %v, want %v", p.Q[1], tt.want)
				}
				if !vecNear(p.Pos[1], math.Vec3{X: 10}, 1e-5) {
					t.Errorf("knee position = %v, want unchanged", p.Pos[1])
				}
				for _, i := range []int{0, 2} {
					if !sameRotation(p.Q[i], h.Bone(i).Quat, 1e-6) {
						t.Errorf("bone %d = %v, want bind", i, p.Q[i])
					}
				}
			})
		}
	}
}

func TestRealtimeCycle(t *testing.T) {
	m := makeLeg()
	rt := makeSeq("bend realtime", 1)
	rt.Flags |= studio.SeqRealtime
	m.Sequences = append(m.Sequences, rt)
	h := load(t, m, studio.LayoutModern)
	e := New(h)

	want := e.NewPose()
	e.InitPose(want)
	e.CalcPoseSingle(want, 1, 0.5, 0)

	// One cycle of the ten frame clip lasts 0.3s.
	for _, time := range []float32{0.15, 0.45, -0.15} {
		p := e.NewPose()
		e.InitPose(p)
		e.CalcPoseSingle(p, 3, 0.9, time)
		if !sameRotation(p.Q[2], want.Q[2], 1e-4) {
			t.Errorf("time %v: foot = %v, want %v", time, p.Q[2], want.Q[2])
		}
	}
}

func TestLocalHierarchy(t *testing.T) {
	m := makeLeg()
	m.Animations[0].LocalHierarchy = []studio.LocalHierarchy{{
		Bone: 2, NewParent: 0,
		Start: 0.2, Peak: 0.4, Tail: 0.6, End: 0.8,
	}}
	h := load(t, m, studio.LayoutModern)
	bind := bindChain(h, math.Identity3x4())[2].Origin()

	tests := []struct {
		name  string
		cycle float32
		want  math.Vec3
	}{
		{"before window", 0.1, bind},
		{"ramp in", 0.3, bind.Scale(0.5)},
		{"plateau", 0.5, math.Vec3{}},
		{"after window", 0.9, bind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(h)
			p := e.NewPose()
			e.InitPose(p)
			if !e.CalcPoseSingle(p, 0, tt.cycle, 0) {
				t.Fatal("CalcPoseSingle reported no contribution")
			}
			if got := footAt(h, p); !vecNear(got, tt.want, 1e-3) {
				t.Errorf("foot at %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSequenceLocks(t *testing.T) {
	m := makeLeg()
	m.Animations = append(m.Animations, makeSwing())
	locked := makeSeq("swing locked", 2)
	locked.IKLocks = []studio.IKLock{{Chain: 0, PosWeight: 1, LocalQWeight: 1}}
	m.Sequences = append(m.Sequences, makeSeq("swing", 2), locked)

	for _, l := range layouts() {
		t.Run(l.String(), func(t *testing.T) {
			h := load(t, m, l)
			bind := bindChain(h, math.Identity3x4())[2].Origin()
			e := New(h)

			free := e.NewPose()
			e.InitPose(free)
			e.AccumulatePose(free, 3, 0, 1, 0, nil)
			if got := footAt(h, free); got.Distance(bind) < 1 {
				t.Fatalf("unlocked swing left the foot at %v", got)
			}

			p := e.NewPose()
			e.InitPose(p)
			e.AccumulatePose(p, 4, 0, 1, 0, nil)
			if got := footAt(h, p); !vecNear(got, bind, 1e-2) {
				t.Errorf("locked foot at %v, want %v", got, bind)
			}
		})
	}
}

func TestAutoplaySequences(t *testing.T) {
	m := makeLeg()
	m.Animations = append(m.Animations, makeSwing())
	sway := makeSeq("sway", 2)
	sway.Flags |= studio.SeqAutoplay
	m.Sequences = append(m.Sequences, sway)

	world := math.Identity3x4()
	world.SetOrigin(math.Vec3{Z: 5})
	req := Request{Sequence: 0, World: world}

	t.Run("unlocked", func(t *testing.T) {
		h := load(t, m, studio.LayoutModern)
		bind := bindChain(h, world)[2].Origin()
		out := make([]math.Mat3x4, h.NumBones())
		New(h).Setup(req, out, NewIKContext(h), nil)
		if out[2].Origin().Distance(bind) < 1 {
			t.Errorf("foot at %v, want swung away from %v", out[2].Origin(), bind)
		}
	})

	t.Run("locked", func(t *testing.T) {
		m.AutoplayLocks = []studio.IKLock{{Chain: 0, PosWeight: 1, LocalQWeight: 1}}
		defer func() { m.AutoplayLocks = nil }()
		h := load(t, m, studio.LayoutModern)
		bind := bindChain(h, world)[2].Origin()

		out := make([]math.Mat3x4, h.NumBones())
		New(h).Setup(req, out, NewIKContext(h), nil)
		if !vecNear(out[2].Origin(), bind, 1e-2) {
			t.Errorf("foot at %v, want pinned at %v", out[2].Origin(), bind)
		}

		// Without an IK context the autoplay sequence still plays.
		New(h).Setup(req, out, nil, nil)
		if out[2].Origin().Distance(bind) < 1 {
			t.Errorf("foot without IK at %v, want swung", out[2].Origin())
		}
	})
}

func TestNonFiniteWeights(t *testing.T) {
	nan := math32.NaN()
	m := makeLeg()
	m.Sequences[1].Weights = []float32{1, 1, nan}
	h := load(t, m, studio.LayoutModern)
	mask := int32(studio.BoneUsedByAnything)

	assertFinite := func(t *testing.T, p *Pose) {
		t.Helper()
		for i := range p.Q {
			if !p.Q[i].IsFinite() || !p.Pos[i].IsFinite() {
				t.Errorf("bone %d = (%v, %v), want finite", i, p.Q[i], p.Pos[i])
			}
		}
	}

	t.Run("blend", func(t *testing.T) {
		a, b := randomPose(3, 1), randomPose(3, 7)
		got := NewPose(3)
		for _, s := range []float32{nan, math32.Inf(1), math32.Inf(-1)} {
			got.CopyFrom(a)
			BlendBones(h, got, b, s, mask)
			SlerpBones(h, got, h.Sequence(0), b, s, mask)
			for i := 0; i < 3; i++ {
				if got.Q[i] != a.Q[i] || got.Pos[i] != a.Pos[i] {
					t.Errorf("weight %v: bone %d changed", s, i)
				}
			}
			ScaleBones(h, got, h.Sequence(0), s, mask)
			assertFinite(t, got)
		}
	})

	t.Run("bone weight", func(t *testing.T) {
		if got := h.SequenceWeight(1, 2); got != 0 {
			t.Errorf("SequenceWeight(1, 2) = %v, want 0", got)
		}
		e := New(h)
		p := e.NewPose()
		e.InitPose(p)
		e.AccumulatePose(p, 1, 0.5, 1, 0, nil)
		assertFinite(t, p)
		if !sameRotation(p.Q[2], h.Bone(2).Quat, 1e-6) {
			t.Errorf("foot = %v, want bind", p.Q[2])
		}
	})

	t.Run("sequence weight", func(t *testing.T) {
		e := New(h)
		p := e.NewPose()
		e.InitPose(p)
		e.AccumulatePose(p, 2, 0.5, nan, 0, NewIKContext(h))
		assertFinite(t, p)
		for i, b := range h.Bones() {
			if p.Q[i] != b.Quat || p.Pos[i] != b.Pos {
				t.Errorf("bone %d changed under a NaN weight", i)
			}
		}
	})

	t.Run("cycle", func(t *testing.T) {
		e := New(h)
		p := e.NewPose()
		e.InitPose(p)
		e.AccumulatePose(p, 1, nan, 1, 0, nil)
		e.CalcAutoplaySequences(p, nan, nil)
		assertFinite(t, p)
	})
}
