package studio

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"go.uber.org/multierr"

	"github.com/Faultbox/studiobones/pkg/math"
)

func sameRotation(a, b math.Quat, eps float32) bool {
	return math32.Abs(a.Dot(b)) > 1-eps
}

func vecNear(a, b math.Vec3, eps float32) bool {
	return a.Sub(b).Length() <= eps
}

func makeBone(name string, parent int, pos, rot math.Vec3) Bone {
	return Bone{
		Name:        name,
		Parent:      parent,
		Controllers: [6]int{-1, -1, -1, -1, -1, -1},
		Pos:         pos,
		Rot:         rot,
		Quat:        math.AngleQuaternion(rot),
		PosScale:    math.Vec3{X: 1.0 / 32, Y: 1.0 / 32, Z: 1.0 / 32},
		RotScale:    math.Vec3{X: 1.0 / 4096, Y: 1.0 / 4096, Z: 1.0 / 4096},
		PoseToBone:  math.Identity3x4(),
		QAlignment:  math.QuatIdentity(),
		PhysicsBone: -1,
	}
}

// makeModel builds a three bone chain with one four frame clip that turns
// and slides the middle bone.
func makeModel() *Model {
	return &Model{
		Name: "test/chain.mdl",
		Bones: []Bone{
			makeBone("root", -1, math.Vec3{}, math.Vec3{}),
			makeBone("spine", 0, math.Vec3{Z: 10}, math.Vec3{Z: 0.25}),
			makeBone("head", 1, math.Vec3{Z: 8}, math.Vec3{}),
		},
		Animations: []Animation{{
			AnimDesc: AnimDesc{Name: "@idle", FPS: 30, NumFrames: 4, Flags: SeqLooping},
			Tracks: []BoneTrack{{
				Bone:      1,
				Rot:       RotAnim,
				Pos:       PosAnim,
				RotFrames: [3][]int16{nil, nil, {0, 100, 200, 300}},
				PosFrames: [3][]int16{{0, 32, 64, 96}, nil, nil},
			}},
		}},
		Sequences: []SeqDesc{{
			Label:       "idle",
			Flags:       SeqLooping,
			GroupSize:   [2]int{1, 1},
			Param:       [2]int{-1, -1},
			AnimIndices: []int{0},
		}},
		PoseParams: []PoseParam{{Name: "move_yaw", Start: -180, End: 180, Loop: 360}},
		Attachments: []Attachment{{
			Name:  "eyes",
			Bone:  2,
			Local: math.QuaternionMatrix(math.QuatIdentity(), math.Vec3{X: 2}),
		}},
		HitboxSets: []HitboxSet{{
			Name:     "default",
			Hitboxes: []Hitbox{{Bone: 2, BBMin: math.Vec3{X: -1, Y: -1, Z: -1}, BBMax: math.Vec3{X: 1, Y: 1, Z: 1}}},
		}},
		IKChains: []IKChain{{
			Name:  "leg",
			Links: []IKLink{{Bone: 0}, {Bone: 1}, {Bone: 2}},
		}},
		Textures: []Texture{{Name: "skin"}},
	}
}

func encode(t *testing.T, m *Model, l Layout) []byte {
	t.Helper()
	data, err := Encode(m, l)
	if err != nil {
		t.Fatalf("Encode(%s) error: %v", l, err)
	}
	return data
}

func parse(t *testing.T, data []byte, opts ...Option) *Header {
	t.Helper()
	h, err := Parse(data, opts...)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return h
}

// sample decodes every bone of anim at frame, falling back to the bind
// pose for bones without a track.
func sample(t *testing.T, h *Header, anim, frame int, s float32) ([]math.Quat, []math.Vec3) {
	t.Helper()
	a := h.Anim(anim)
	if a == nil {
		t.Fatalf("Anim(%d) = nil", anim)
	}
	c, local, ok := h.OpenAnim(a, frame)
	if !ok {
		t.Fatalf("OpenAnim(%d) failed", frame)
	}
	bones := h.Bones()
	q := make([]math.Quat, len(bones))
	p := make([]math.Vec3, len(bones))
	for i := range bones {
		tr, ok := c.Seek(i)
		if !ok {
			q[i], p[i] = bones[i].Quat, bones[i].Pos
			continue
		}
		q[i] = tr.Rotation(local, s, &bones[i])
		p[i] = tr.Position(local, s, &bones[i])
	}
	return q, p
}

func TestParseTables(t *testing.T) {
	for _, l := range []Layout{LayoutLegacy, LayoutModern} {
		t.Run(l.String(), func(t *testing.T) {
			h := parse(t, encode(t, makeModel(), l))

			if h.Layout() != l {
				t.Errorf("Layout() = %s, want %s", h.Layout(), l)
			}
			if h.Name != "test/chain.mdl" {
				t.Errorf("Name = %q", h.Name)
			}
			if h.NumBones() != 3 || h.BoneName(2) != "head" || h.BoneParent(2) != 1 {
				t.Errorf("bones = %d, name(2) %q, parent(2) %d", h.NumBones(), h.BoneName(2), h.BoneParent(2))
			}
			if got := h.LookupSequence("idle"); got != 0 {
				t.Errorf("LookupSequence(idle) = %d", got)
			}
			if got := h.Sequence(0).Anim(0, 0); got != 0 {
				t.Errorf("Sequence(0).Anim(0, 0) = %d", got)
			}
			if got := h.PoseParameter(0); got.Name != "move_yaw" || got.Loop != 360 {
				t.Errorf("PoseParameter(0) = %+v", got)
			}
			if got := h.Attachment(0); got.Name != "eyes" || got.Bone != 2 || got.Local.Origin().X != 2 {
				t.Errorf("Attachment(0) = %+v", got)
			}
			if got := h.HitboxSet(0); len(got.Hitboxes) != 1 || got.Hitboxes[0].Bone != 2 {
				t.Errorf("HitboxSet(0) = %+v", got)
			}
			if got := h.IKChain(0); got.Name != "leg" || len(got.Links) != 3 {
				t.Errorf("IKChain(0) = %+v", got)
			}
			if got := h.Texture(0).Name; got != "skin" {
				t.Errorf("Texture(0) = %q", got)
			}
			if a := h.Anim(0); a == nil || a.Name != "@idle" || a.NumFrames != 4 || !a.Looping() {
				t.Errorf("Anim(0) = %+v", a)
			}
		})
	}
}

func TestTrackDecode(t *testing.T) {
	for _, l := range []Layout{LayoutLegacy, LayoutModern} {
		t.Run(l.String(), func(t *testing.T) {
			h := parse(t, encode(t, makeModel(), l))
			spine := h.Bone(1)
			for f := 0; f < 4; f++ {
				q, p := sample(t, h, 0, f, 0)
				wantRot := spine.Rot.Add(math.Vec3{Z: float32(f*100) / 4096})
				if !sameRotation(q[1], math.AngleQuaternion(wantRot), 1e-6) {
					t.Errorf("frame %d rotation = %v, want %v", f, q[1], math.AngleQuaternion(wantRot))
				}
				wantPos := spine.Pos.Add(math.Vec3{X: float32(f)})
				if !vecNear(p[1], wantPos, 1e-5) {
					t.Errorf("frame %d position = %v, want %v", f, p[1], wantPos)
				}
				if !sameRotation(q[2], h.Bone(2).Quat, 1e-6) || p[2] != h.Bone(2).Pos {
					t.Errorf("frame %d: unanimated bone moved", f)
				}
			}
		})
	}
}

func TestLayoutParity(t *testing.T) {
	m := makeModel()
	legacy := parse(t, encode(t, m, LayoutLegacy))
	modern := parse(t, encode(t, m, LayoutModern))
	for f := 0; f < 4; f++ {
		for _, s := range []float32{0, 0.5} {
			if s > 0 && f == 3 {
				// The last frame has no successor to blend toward.
				continue
			}
			lq, lp := sample(t, legacy, 0, f, s)
			mq, mp := sample(t, modern, 0, f, s)
			for b := range lq {
				if !sameRotation(lq[b], mq[b], 1e-6) || !vecNear(lp[b], mp[b], 1e-5) {
					t.Errorf("frame %d s %.1f bone %d: legacy (%v, %v) modern (%v, %v)", f, s, b, lq[b], lp[b], mq[b], mp[b])
				}
			}
		}
	}
}

func TestQuantizedTracks(t *testing.T) {
	m := makeModel()
	rot := math.Quat{X: 0.1, Y: -0.2, Z: 0.3, W: -0.9}.Normalize()
	pos := math.Vec3{X: 1.5, Y: -2.25, Z: 100}

	tests := []struct {
		name string
		rot  RotEncoding
		eps  float32
	}{
		{"quat48", RotQuat48, 1e-4},
		{"quat64", RotQuat64, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.Animations[0].Tracks = []BoneTrack{{Bone: 2, Rot: tt.rot, Quat: rot, Pos: PosVector48, Vec: pos}}
			h := parse(t, encode(t, m, LayoutModern))
			q, p := sample(t, h, 0, 1, 0)
			if !sameRotation(q[2], rot, tt.eps) {
				t.Errorf("rotation = %v, want %v", q[2], rot)
			}
			if p[2] != pos {
				t.Errorf("position = %v, want %v", p[2], pos)
			}
		})
	}

	if _, err := Encode(m, LayoutLegacy); !errors.Is(err, ErrEncode) {
		t.Errorf("legacy Encode of quantized track: err = %v, want ErrEncode", err)
	}
}

func TestEncodeAnimValues(t *testing.T) {
	got := EncodeAnimValues([]int16{10, 20, 20, 20})
	want := []byte{2, 4, 10, 0, 20, 0}
	if string(got) != string(want) {
		t.Errorf("EncodeAnimValues = %v, want %v", got, want)
	}

	tests := []struct {
		frame  int
		v1, v2 float32
	}{
		{0, 10, 20},
		{1, 20, 20},
		{2, 20, 20},
	}
	for _, tt := range tests {
		v1, v2 := ExtractAnimValue(got, tt.frame, 1)
		if v1 != tt.v1 || v2 != tt.v2 {
			t.Errorf("ExtractAnimValue(frame %d) = %v, %v, want %v, %v", tt.frame, v1, v2, tt.v1, tt.v2)
		}
	}
}

func TestAnimValuesContinuity(t *testing.T) {
	frames := make([]int16, 600)
	for i := range frames {
		switch {
		case i < 100:
			frames[i] = int16(i * 3)
		case i < 400:
			frames[i] = 7
		default:
			frames[i] = int16(-i)
		}
	}
	span := EncodeAnimValues(frames)
	for f := range frames {
		v1, v2 := ExtractAnimValue(span, f, 0.5)
		if v1 != float32(frames[f])*0.5 {
			t.Fatalf("frame %d: v1 = %v, want %v", f, v1, float32(frames[f])*0.5)
		}
		if f+1 < len(frames) && v2 != float32(frames[f+1])*0.5 {
			t.Fatalf("frame %d: v2 = %v, want %v", f, v2, float32(frames[f+1])*0.5)
		}
	}
}

func TestParseErrors(t *testing.T) {
	good := encode(t, makeModel(), LayoutModern)

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "IDSQ")

	badLength := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(badLength[hdrLength:], uint32(len(good)+1))

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"magic", badMagic, ErrInvalidMagic},
		{"short header", good[:200], ErrTruncated},
		{"length", badLength, ErrSizeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseReportsEveryBadTable(t *testing.T) {
	data := encode(t, makeModel(), LayoutLegacy)
	binary.LittleEndian.PutUint32(data[hdrBoneIndex:], 0x7fffff00)
	binary.LittleEndian.PutUint32(data[hdrHitboxSetIndex:], 0x7fffff00)

	_, err := Parse(data)
	if !errors.Is(err, ErrTableOutOfRange) {
		t.Fatalf("Parse error = %v, want ErrTableOutOfRange", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("got %d errors, want 2: %v", n, err)
	}
}

func TestHierarchyRepair(t *testing.T) {
	tests := []struct {
		name    string
		parents map[int]int32
		wantNil []int
		want    map[int]int
	}{
		{"self parent", map[int]int32{1: 1}, []int{0, 1}, nil},
		{"out of range", map[int]int32{2: 7}, []int{0, 2}, nil},
		{"cycle", map[int]int32{0: 2}, []int{1}, nil},
		{"forward parent", map[int]int32{1: 2, 2: 0}, []int{0}, map[int]int{1: 2, 2: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encode(t, makeModel(), LayoutLegacy)
			boneOff := int(binary.LittleEndian.Uint32(data[hdrBoneIndex:]))
			for bone, parent := range tt.parents {
				binary.LittleEndian.PutUint32(data[boneOff+bone*184+4:], uint32(parent))
			}

			h := parse(t, data)
			for _, b := range tt.wantNil {
				if h.BoneParent(b) != -1 {
					t.Errorf("BoneParent(%d) = %d, want -1", b, h.BoneParent(b))
				}
			}
			for b, p := range tt.want {
				if got := h.BoneParent(b); got != p {
					t.Errorf("BoneParent(%d) = %d, want %d", b, got, p)
				}
			}
			seen := make(map[int]bool)
			for _, b := range h.BoneOrder() {
				if p := h.BoneParent(b); p >= 0 && !seen[p] {
					t.Errorf("bone %d visited before parent %d", b, p)
				}
				seen[b] = true
			}
			if len(seen) != h.NumBones() {
				t.Errorf("BoneOrder covers %d of %d bones", len(seen), h.NumBones())
			}
		})
	}
}

func TestOutOfRangeAccessors(t *testing.T) {
	h := parse(t, encode(t, makeModel(), LayoutModern))

	if got := h.BoneParent(99); got != -1 {
		t.Errorf("BoneParent(99) = %d", got)
	}
	if got := h.BoneName(-1); got != "" {
		t.Errorf("BoneName(-1) = %q", got)
	}
	if got := h.BoneFlags(99); got != 0 {
		t.Errorf("BoneFlags(99) = %d", got)
	}
	if got := h.BonePoseToBone(99); got != math.Identity3x4() {
		t.Errorf("BonePoseToBone(99) = %v", got)
	}
	if got := h.BoneProcType(99); got != ProcNone {
		t.Errorf("BoneProcType(99) = %v", got)
	}
	if got := h.Sequence(42).Anim(0, 0); got != -1 {
		t.Errorf("Sequence(42).Anim = %d", got)
	}
	if got := h.SequenceWeight(0, 99); got != 0 {
		t.Errorf("SequenceWeight(0, 99) = %v", got)
	}
	if got := h.SequenceWeight(0, 1); got != 1 {
		t.Errorf("SequenceWeight(0, 1) = %v", got)
	}
	if got := h.Anim(99); got != nil {
		t.Errorf("Anim(99) = %+v", got)
	}
	if got := h.Attachment(5); got.Bone != -1 {
		t.Errorf("Attachment(5).Bone = %d", got.Bone)
	}
	if got := h.FlexDescriptor(3); got != "" {
		t.Errorf("FlexDescriptor(3) = %q", got)
	}
	if got := h.PoseParameter(9); got != (PoseParam{}) {
		t.Errorf("PoseParameter(9) = %+v", got)
	}
}

func TestSequenceAnimClamps(t *testing.T) {
	s := SeqDesc{GroupSize: [2]int{3, 2}, AnimIndices: []int{0, 1, 2, 3, 4, 5}}
	tests := []struct{ x, y, want int }{
		{0, 0, 0},
		{2, 1, 5},
		{-4, 0, 0},
		{9, 9, 5},
		{1, -1, 1},
	}
	for _, tt := range tests {
		if got := s.Anim(tt.x, tt.y); got != tt.want {
			t.Errorf("Anim(%d, %d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestSequenceWeights(t *testing.T) {
	s := SeqDesc{
		Weights:  []float32{1, 0.25, math32.NaN(), 2, -1, math32.Inf(1)},
		numBones: 6,
	}
	want := []float32{1, 0.25, 0, 1, 0, 0}
	for i, w := range want {
		if got := s.Weight(i); got != w {
			t.Errorf("Weight(%d) = %v, want %v", i, got, w)
		}
	}
	if got := s.Weight(6); got != 0 {
		t.Errorf("Weight(6) = %v, want 0", got)
	}

	s.Weights = nil
	if got := s.Weight(3); got != 1 {
		t.Errorf("Weight(3) without a weight list = %v, want 1", got)
	}
}

func TestAutoplaySequences(t *testing.T) {
	m := makeModel()
	gesture := m.Sequences[0]
	gesture.Label = "gesture"
	gesture.Flags = SeqAutoplay | SeqEventFlag
	breathe := m.Sequences[0]
	breathe.Label = "breathe"
	breathe.Flags = SeqAutoplay | SeqLooping
	m.Sequences = append(m.Sequences, gesture, breathe)

	for _, l := range []Layout{LayoutLegacy, LayoutModern} {
		t.Run(l.String(), func(t *testing.T) {
			h := parse(t, encode(t, m, l))
			got := h.AutoplaySequences()
			if len(got) != 2 || got[0] != 1 || got[1] != 2 {
				t.Errorf("AutoplaySequences() = %v, want [1 2]", got)
			}
			if h.Sequence(1).Flags&SeqEventFlag == 0 {
				t.Errorf("Sequence(1).Flags = %#x, want the event bit kept", h.Sequence(1).Flags)
			}
		})
	}

	if got := parse(t, encode(t, makeModel(), LayoutModern)).AutoplaySequences(); len(got) != 0 {
		t.Errorf("AutoplaySequences() without autoplay flags = %v", got)
	}
}

func TestDescribeReencode(t *testing.T) {
	m := makeModel()
	m.Animations[0].IKRules = []IKRule{{
		Type:   IKWorld,
		Chain:  0,
		Bone:   2,
		Start:  0,
		Peak:   0.25,
		Tail:   0.75,
		End:    1,
		Errors: []IKError{{Q: math.QuatIdentity()}, {Q: math.QuatIdentity()}, {Q: math.QuatIdentity()}, {Pos: math.Vec3{X: 4}, Q: math.QuatIdentity()}},
	}}
	for _, from := range []Layout{LayoutLegacy, LayoutModern} {
		for _, to := range []Layout{LayoutLegacy, LayoutModern} {
			t.Run(from.String()+"_to_"+to.String(), func(t *testing.T) {
				src := parse(t, encode(t, m, from))
				d := Describe(src)
				d.Version = 0
				dst := parse(t, encode(t, d, to))

				for f := 0; f < 4; f++ {
					sq, sp := sample(t, src, 0, f, 0)
					dq, dp := sample(t, dst, 0, f, 0)
					for b := range sq {
						if !sameRotation(sq[b], dq[b], 1e-6) || !vecNear(sp[b], dp[b], 1e-5) {
							t.Errorf("frame %d bone %d differs after re-encode", f, b)
						}
					}
				}
				rule := dst.Anim(0).IKRules
				if len(rule) != 1 || !rule[0].HasError() {
					t.Fatalf("ik rules = %+v", rule)
				}
				if pos, _, _ := rule[0].Error(3, 0); pos.X != 4 {
					t.Errorf("ik error frame 3 = %v", pos)
				}
			})
		}
	}
}

func TestLoadSharedModel(t *testing.T) {
	shared := encode(t, makeModel(), LayoutLegacy)
	loader := LoaderFunc(func(name string) ([]byte, error) {
		if name != "shared.mdl" {
			return nil, errors.New("not found")
		}
		return shared, nil
	})

	h := parse(t, encode(t, makeModel(), LayoutLegacy), WithLoader(loader))
	got, err := h.LoadSharedModel("shared.mdl")
	if err != nil || got.NumBones() != 3 {
		t.Fatalf("LoadSharedModel = %v, %v", got, err)
	}

	small := parse(t, encode(t, makeModel(), LayoutLegacy), WithLoader(loader), WithMaxSharedSize(16))
	if _, err := small.LoadSharedModel("shared.mdl"); !errors.Is(err, ErrSharedTooLarge) {
		t.Errorf("size cap: err = %v", err)
	}

	bare := parse(t, encode(t, makeModel(), LayoutLegacy))
	if _, err := bare.LoadSharedModel("shared.mdl"); !errors.Is(err, ErrNoLoader) {
		t.Errorf("no loader: err = %v", err)
	}
}

func TestProceduralRoundTrip(t *testing.T) {
	m := makeModel()
	m.Bones[2].Proc = &QuatInterp{Control: 1, Triggers: []QuatTrigger{
		{InvTolerance: 2, Trigger: math.QuatIdentity(), Quat: math.QuatIdentity()},
	}}
	m.Bones[1].Proc = &Jiggle{Flags: JiggleFlexible, Length: 12, TipMass: 1, YawStiffness: 100}

	h := parse(t, encode(t, m, LayoutModern))
	if got := h.BoneProcType(2); got != ProcQuatInterp {
		t.Errorf("BoneProcType(2) = %v", got)
	}
	j, ok := h.Bone(1).Proc.(*Jiggle)
	if !ok || j.Length != 12 || j.YawStiffness != 100 {
		t.Errorf("jiggle = %+v", h.Bone(1).Proc)
	}

	if _, err := Encode(m, LayoutLegacy); !errors.Is(err, ErrEncode) {
		t.Errorf("legacy jiggle: err = %v, want ErrEncode", err)
	}
}
