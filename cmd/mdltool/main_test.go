package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/internal/assets"
	"github.com/Faultbox/studiobones/internal/config"
	"github.com/Faultbox/studiobones/pkg/bone"
	"github.com/Faultbox/studiobones/pkg/bonecache"
	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

func makeBone(name string, parent int, pos math.Vec3) studio.Bone {
	return studio.Bone{
		Name:        name,
		Parent:      parent,
		Controllers: [6]int{-1, -1, -1, -1, -1, -1},
		Pos:         pos,
		Quat:        math.QuatIdentity(),
		PosScale:    math.Vec3{X: 1.0 / 32, Y: 1.0 / 32, Z: 1.0 / 32},
		RotScale:    math.Vec3{X: 1.0 / 4096, Y: 1.0 / 4096, Z: 1.0 / 4096},
		PoseToBone:  math.Identity3x4(),
		QAlignment:  math.QuatIdentity(),
		Flags:       studio.BoneUsedByAnything,
		PhysicsBone: -1,
	}
}

// writeModel writes a two bone model with one hitbox per bone and returns
// its path.
func writeModel(t *testing.T) string {
	t.Helper()
	m := &studio.Model{
		Name: "test/box.mdl",
		Bones: []studio.Bone{
			makeBone("pelvis", -1, math.Vec3{Z: 40}),
			makeBone("head", 0, math.Vec3{Z: 20}),
		},
		HitboxSets: []studio.HitboxSet{{
			Name: "default",
			Hitboxes: []studio.Hitbox{
				{Bone: 0, Group: 3, BBMin: math.Vec3{X: -5, Y: -5, Z: -5}, BBMax: math.Vec3{X: 5, Y: 5, Z: 5}, Name: "body"},
				{Bone: 1, Group: 1, BBMin: math.Vec3{X: -4, Y: -4, Z: -4}, BBMax: math.Vec3{X: 4, Y: 4, Z: 4}, Name: "skull"},
			},
		}},
		Animations: []studio.Animation{
			{AnimDesc: studio.AnimDesc{Name: "@idle", FPS: 30, NumFrames: 31, Flags: studio.SeqLooping}},
		},
		Sequences: []studio.SeqDesc{{
			Label:       "idle",
			Activity:    "ACT_IDLE",
			Flags:       studio.SeqLooping,
			GroupSize:   [2]int{1, 1},
			Param:       [2]int{-1, -1},
			AnimIndices: []int{0},
		}},
		PoseParams: []studio.PoseParam{{Name: "aim_yaw", Start: -45, End: 45}},
	}
	data, err := studio.Encode(m, studio.LayoutModern)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	p := filepath.Join(t.TempDir(), "box.mdl")
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func makeEnv() (*env, *bytes.Buffer) {
	var out bytes.Buffer
	return &env{
		cfg:    config.Default(),
		assets: assets.NewManager(),
		cache:  bonecache.New(),
		log:    zap.NewNop(),
		out:    &out,
	}, &out
}

func TestCommands(t *testing.T) {
	model := writeModel(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		cmd  command
		args []string
		want []string
	}{
		{"info", cmdInfo, []string{model}, []string{"test/box.mdl", "modern", "Bones        2", "aim_yaw"}},
		{"bones", cmdBones, []string{model}, []string{"pelvis", "head", "(0.000 0.000 20.000)"}},
		{"seqs", cmdSeqs, []string{model}, []string{"idle", "ACT_IDLE", "1.00s", "loop"}},
		{"pose", cmdPose, []string{"-seq", "idle", "-cycle", "0.5", model}, []string{"Sequence 0 (idle)", "(0.000 0.000 60.000)"}},
		{"pose local", cmdPose, []string{"-local", model}, []string{"pos (0.000 0.000 20.000)"}},
		{"pose origin", cmdPose, []string{"-origin", "10,0,0", model}, []string{"(10.000 0.000 40.000)"}},
		{"trace", cmdTrace, []string{"-ray", "-20,0,40:20,0,40", "-ray", "0,-20,60:0,20,60", "-ray", "0,0,100:0,0,90", model},
			[]string{"Ray 0: hitbox 0 (body) group 3", "Fraction: 0.3750", "Ray 1: hitbox 1 (skull)", "Ray 2: no hit"}},
		{"export", cmdExport, []string{"-bind", model, filepath.Join(dir, "box.glb")}, []string{"Exported:", "3 nodes"}},
		{"convert", cmdConvert, []string{"-layout", "legacy", model, filepath.Join(dir, "legacy.mdl")}, []string{"legacy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, out := makeEnv()
			if err := tt.cmd(e, tt.args); err != nil {
				t.Fatalf("error: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
		})
	}

	h, err := studio.ParseFile(filepath.Join(dir, "legacy.mdl"))
	if err != nil {
		t.Fatalf("converted model: %v", err)
	}
	if h.Layout() != studio.LayoutLegacy || h.NumBones() != 2 || h.NumHitboxSets() != 1 {
		t.Errorf("converted model: layout %s, %d bones, %d hitbox sets", h.Layout(), h.NumBones(), h.NumHitboxSets())
	}
}

func TestTraceUsesCache(t *testing.T) {
	model := writeModel(t)
	e, _ := makeEnv()
	args := []string{"-ray", "-20,0,40:20,0,40", "-ray", "-20,0,41:20,0,41", "-ray", "-20,0,42:20,0,42", model}
	if err := cmdTrace(e, args); err != nil {
		t.Fatalf("error: %v", err)
	}
	st := e.cache.Stats()
	if st.Misses != 1 || st.Hits != 2 {
		t.Errorf("cache stats = %+v, want 1 miss and 2 hits", st)
	}
}

func TestCommandErrors(t *testing.T) {
	model := writeModel(t)

	tests := []struct {
		name  string
		cmd   command
		args  []string
		usage bool
	}{
		{"missing model arg", cmdInfo, nil, true},
		{"bad flag", cmdPose, []string{"-bogus", model}, true},
		{"no rays", cmdTrace, []string{model}, true},
		{"bad ray", cmdTrace, []string{"-ray", "1,2,3", model}, true},
		{"missing model", cmdInfo, []string{"nope.mdl"}, false},
		{"unknown sequence", cmdPose, []string{"-seq", "run", model}, false},
		{"unknown param", cmdPose, []string{"-param", "move_x=1", model}, false},
		{"bad origin", cmdPose, []string{"-origin", "1,2", model}, false},
		{"hitbox set range", cmdTrace, []string{"-set", "2", "-ray", "0,0,0:1,1,1", model}, false},
		{"bad layout", cmdConvert, []string{"-layout", "new", model, "out.mdl"}, false},
		{"vpk no args", cmdVPK, nil, true},
		{"vpk unknown", cmdVPK, []string{"pack"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := makeEnv()
			err := tt.cmd(e, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, errUsage); got != tt.usage {
				t.Errorf("usage error = %v, want %v (%v)", got, tt.usage, err)
			}
		})
	}
}

func TestLoadModelFromAssets(t *testing.T) {
	model := writeModel(t)
	e, _ := makeEnv()
	if err := e.assets.AddSearchPath(filepath.Dir(model)); err != nil {
		t.Fatal(err)
	}
	h, err := loadModel(e, "box.mdl")
	if err != nil {
		t.Fatalf("loadModel error: %v", err)
	}
	if h.NumBones() != 2 {
		t.Errorf("NumBones = %d, want 2", h.NumBones())
	}
}

func TestSetPoseParams(t *testing.T) {
	h, err := studio.ParseFile(writeModel(t))
	if err != nil {
		t.Fatal(err)
	}
	ev := bone.New(h)
	if err := setPoseParams(h, ev, " aim_yaw = 30 "); err != nil {
		t.Fatalf("error: %v", err)
	}
	if got := ev.PoseParameters()[0]; got != 30 {
		t.Errorf("aim_yaw = %v, want 30", got)
	}
	if err := setPoseParams(h, ev, "aim_yaw"); err == nil {
		t.Error("missing value accepted")
	}
	if err := setPoseParams(h, ev, "aim_yaw=x"); err == nil {
		t.Error("bad value accepted")
	}
}

func TestParseVec3(t *testing.T) {
	tests := []struct {
		in      string
		want    math.Vec3
		wantErr bool
	}{
		{"1,2,3", math.Vec3{X: 1, Y: 2, Z: 3}, false},
		{" -1.5, 0 ,2e1", math.Vec3{X: -1.5, Z: 20}, false},
		{"1,2", math.Vec3{}, true},
		{"1,2,3,4", math.Vec3{}, true},
		{"a,b,c", math.Vec3{}, true},
		{"", math.Vec3{}, true},
	}

	for _, tt := range tests {
		got, err := parseVec3(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVec3(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseVec3(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMatchName(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"*.mdl", "models/player/leg.mdl", true},
		{"*.mdl", "models/player/leg.ani", false},
		{"player", "models/player/leg.mdl", true},
		{"leg.*", "models/player/leg.ani", true},
		{"arm", "models/player/leg.mdl", false},
	}
	for _, tt := range tests {
		if got := matchName(tt.pattern, tt.name); got != tt.want {
			t.Errorf("matchName(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}
