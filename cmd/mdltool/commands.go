package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/internal/export"
	"github.com/Faultbox/studiobones/pkg/bone"
	"github.com/Faultbox/studiobones/pkg/bonecache"
	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/picking"
	"github.com/Faultbox/studiobones/pkg/studio"
)

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mdltool %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func parseArgs(fs *flag.FlagSet, args []string, minArgs int) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < minArgs {
		fs.Usage()
		return errUsage
	}
	return nil
}

// loadModel opens name from disk when it exists there, otherwise through
// the asset search paths and archives. Either way shared animation files
// resolve through the asset manager.
func loadModel(e *env, name string) (*studio.Header, error) {
	if _, err := os.Stat(name); err == nil {
		return studio.ParseFile(name,
			studio.WithLogger(e.log.With(zap.String("model", name))),
			studio.WithLoader(e.assets),
			studio.WithMaxSharedSize(e.cfg.Assets.MaxSharedModelMB<<20),
		)
	}
	return e.assets.LoadModel(name)
}

func cmdInfo(e *env, args []string) error {
	fs := newFlagSet("info", "<model>")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	h, err := loadModel(e, fs.Arg(0))
	if err != nil {
		return err
	}

	w := e.out
	fmt.Fprintf(w, "Name:        %s\n", h.Name)
	fmt.Fprintf(w, "Version:     %d (%s)\n", h.Version, h.Layout())
	fmt.Fprintf(w, "Checksum:    0x%08x\n", uint32(h.Checksum))
	fmt.Fprintf(w, "Length:      %d bytes\n", h.Length)
	fmt.Fprintf(w, "Flags:       0x%08x\n", uint32(h.Flags))
	fmt.Fprintf(w, "Eye:         %s\n", fmtVec(h.EyePosition))
	fmt.Fprintf(w, "Hull:        %s .. %s\n", fmtVec(h.HullMin), fmtVec(h.HullMax))
	if h.SurfaceProp != "" {
		fmt.Fprintf(w, "Surface:     %s\n", h.SurfaceProp)
	}
	if h.AnimBlockName != "" {
		fmt.Fprintf(w, "Anim blocks: %s\n", h.AnimBlockName)
	}
	fmt.Fprintln(w)

	counts := []struct {
		name string
		n    int
	}{
		{"Bones", h.NumBones()},
		{"Controllers", h.NumBoneControllers()},
		{"Hitbox sets", h.NumHitboxSets()},
		{"Animations", h.NumAnims()},
		{"Sequences", h.NumSequences()},
		{"Pose params", h.NumPoseParameters()},
		{"IK chains", h.NumIKChains()},
		{"Attachments", h.NumAttachments()},
		{"Textures", h.NumTextures()},
		{"Flex descs", h.NumFlexDescs()},
		{"IK autoplay", len(h.AutoplayLocks())},
		{"Seq groups", len(h.SeqGroups())},
	}
	for _, c := range counts {
		fmt.Fprintf(w, "  %-12s %d\n", c.name, c.n)
	}

	if h2, ok := h.Header2(); ok {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Source bone transforms: %d\n", h2.NumSrcBoneTransforms)
		fmt.Fprintf(w, "Illum attachment:       %d\n", h2.IllumPosAttachment)
		fmt.Fprintf(w, "Max eye deflection:     %g\n", h2.MaxEyeDeflection)
	}
	for i := 0; i < h.NumPoseParameters(); i++ {
		pp := h.PoseParameter(i)
		fmt.Fprintf(w, "Pose param %d: %s [%g, %g] loop %g\n", i, pp.Name, pp.Start, pp.End, pp.Loop)
	}
	return nil
}

func cmdBones(e *env, args []string) error {
	fs := newFlagSet("bones", "<model>")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	h, err := loadModel(e, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "%4s  %-32s %6s  %-10s %-12s %s\n", "#", "Name", "Parent", "Flags", "Procedural", "Position")
	for i := 0; i < h.NumBones(); i++ {
		fmt.Fprintf(e.out, "%4d  %-32s %6d  0x%08x %-12s %s\n",
			i, h.BoneName(i), h.BoneParent(i), uint32(h.BoneFlags(i)), h.BoneProcType(i), fmtVec(h.Bone(i).Pos))
	}
	return nil
}

func cmdSeqs(e *env, args []string) error {
	fs := newFlagSet("seqs", "<model>")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	h, err := loadModel(e, fs.Arg(0))
	if err != nil {
		return err
	}

	params := make([]float32, h.NumPoseParameters())
	fmt.Fprintf(e.out, "%4s  %-32s %-24s %5s %8s %6s  %s\n", "#", "Label", "Activity", "Grid", "Duration", "Layers", "Flags")
	for i := 0; i < h.NumSequences(); i++ {
		sd := h.Sequence(i)
		var flags []string
		if sd.Looping() {
			flags = append(flags, "loop")
		}
		if sd.Delta() {
			flags = append(flags, "delta")
		}
		if len(sd.IKLocks) > 0 {
			flags = append(flags, "iklock")
		}
		fmt.Fprintf(e.out, "%4d  %-32s %-24s %2dx%-2d %7.2fs %6d  %s\n",
			i, sd.Label, sd.Activity, sd.GroupSize[0], sd.GroupSize[1],
			bone.Duration(h, i, params), len(sd.AutoLayers), strings.Join(flags, ","))
	}
	return nil
}

// poseFlags are the options shared by commands that evaluate a pose.
type poseFlags struct {
	seq         *string
	cycle       *float64
	time        *float64
	params      *string
	controllers *string
	origin      *string
	angles      *string
	ik          *bool
	jiggle      *bool
}

func addPoseFlags(fs *flag.FlagSet) *poseFlags {
	return &poseFlags{
		seq:         fs.String("seq", "0", "Sequence label or index"),
		cycle:       fs.Float64("cycle", 0, "Cycle in [0,1)"),
		time:        fs.Float64("time", 0, "Evaluation time in seconds"),
		params:      fs.String("param", "", "Pose parameters as name=value,..."),
		controllers: fs.String("ctrl", "", "Normalized controller inputs as v0,v1,..."),
		origin:      fs.String("origin", "0,0,0", "Model origin x,y,z"),
		angles:      fs.String("angles", "0,0,0", "Model angles pitch,yaw,roll in degrees"),
		ik:          fs.Bool("ik", true, "Run IK rules and locks"),
		jiggle:      fs.Bool("jiggle", false, "Simulate jiggle bones from rest"),
	}
}

// evaluated is one posed model.
type evaluated struct {
	eval   *bone.Evaluator
	req    bone.Request
	pose   *bone.Pose
	bones  []math.Mat3x4
	cached bool
}

// evaluate poses h. withPose also returns the local pose, which bypasses
// the cache lookup.
func (pf *poseFlags) evaluate(e *env, h *studio.Header, withPose bool) (*evaluated, error) {
	seq, err := resolveSequence(h, *pf.seq)
	if err != nil {
		return nil, err
	}
	origin, err := parseVec3(*pf.origin)
	if err != nil {
		return nil, fmt.Errorf("-origin: %w", err)
	}
	angles, err := parseVec3(*pf.angles)
	if err != nil {
		return nil, fmt.Errorf("-angles: %w", err)
	}
	controllers, err := parseFloats(*pf.controllers)
	if err != nil {
		return nil, fmt.Errorf("-ctrl: %w", err)
	}

	ev := bone.New(h, bone.WithLogger(e.log), bone.WithMaxLayerDepth(e.cfg.IK.MaxLayerDepth))
	if err := setPoseParams(h, ev, *pf.params); err != nil {
		return nil, err
	}

	var ik *bone.IKContext
	if *pf.ik {
		ik = bone.NewIKContext(h, bone.WithIKLogger(e.log), bone.WithLatchLifetime(e.cfg.IK.LatchLifetime))
	}
	var jiggle *bone.JiggleState
	if *pf.jiggle {
		jiggle = bone.NewJiggleState()
		jiggle.Time = float32(*pf.time)
	}

	r := &evaluated{
		eval: ev,
		req: bone.Request{
			Sequence:    seq,
			Cycle:       float32(*pf.cycle),
			Time:        float32(*pf.time),
			World:       math.AngleMatrix(angles, origin),
			Controllers: controllers,
		},
		bones: make([]math.Mat3x4, h.NumBones()),
	}

	if withPose {
		r.pose = ev.Setup(r.req, r.bones, ik, jiggle)
		e.cache.Store(bonecache.KeyFor(h, r.req), ev.Mask(), r.bones)
	} else {
		r.cached = e.cache.Setup(ev, r.req, r.bones, ik, jiggle)
	}
	e.log.Debug("pose evaluated",
		zap.Int("sequence", seq),
		zap.Float64("cycle", *pf.cycle),
		zap.Bool("cached", r.cached),
	)
	return r, nil
}

func resolveSequence(h *studio.Header, s string) (int, error) {
	if i := h.LookupSequence(s); i >= 0 {
		return i, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 || i >= h.NumSequences() {
		return 0, fmt.Errorf("unknown sequence %q", s)
	}
	return i, nil
}

func setPoseParams(h *studio.Header, ev *bone.Evaluator, s string) error {
	for _, kv := range splitList(s) {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("pose parameter %q: want name=value", kv)
		}
		i := h.LookupPoseParameter(strings.TrimSpace(name))
		if i < 0 {
			return fmt.Errorf("unknown pose parameter %q", name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
		if err != nil {
			return fmt.Errorf("pose parameter %q: %w", name, err)
		}
		ev.SetPoseParameter(i, float32(v))
	}
	return nil
}

func cmdPose(e *env, args []string) error {
	fs := newFlagSet("pose", "[options] <model>")
	pf := addPoseFlags(fs)
	local := fs.Bool("local", false, "Print parent-relative transforms instead of world origins")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	h, err := loadModel(e, fs.Arg(0))
	if err != nil {
		return err
	}
	r, err := pf.evaluate(e, h, *local)
	if err != nil {
		return err
	}

	sd := h.Sequence(r.req.Sequence)
	fmt.Fprintf(e.out, "Sequence %d (%s) cycle %.3f\n", r.req.Sequence, sd.Label, r.req.Cycle)
	for i := 0; i < h.NumBones(); i++ {
		if *local {
			fmt.Fprintf(e.out, "%4d  %-32s pos %s  rot %s\n",
				i, h.BoneName(i), fmtVec(r.pose.Pos[i]), fmtQuat(r.pose.Q[i]))
			continue
		}
		fmt.Fprintf(e.out, "%4d  %-32s %s\n", i, h.BoneName(i), fmtVec(r.bones[i].Origin()))
	}

	params := r.eval.PoseParameters()
	if delta, yaw, ok := bone.SeqMovement(h, r.req.Sequence, 0, r.req.Cycle, params); ok {
		fmt.Fprintf(e.out, "Movement: %s yaw %.2f\n", fmtVec(delta), yaw)
	}
	if vel, ok := bone.SeqVelocity(h, r.req.Sequence, r.req.Cycle, params); ok {
		fmt.Fprintf(e.out, "Velocity: %s\n", fmtVec(vel))
	}
	return nil
}

func cmdTrace(e *env, args []string) error {
	fs := newFlagSet("trace", "-ray x,y,z:x,y,z [-ray ...] [options] <model>")
	pf := addPoseFlags(fs)
	var rays []picking.Ray
	fs.Func("ray", "Ray start:end as x,y,z:x,y,z (repeatable)", func(s string) error {
		from, to, ok := strings.Cut(s, ":")
		if !ok {
			return errors.New("want start:end")
		}
		a, err := parseVec3(from)
		if err != nil {
			return err
		}
		b, err := parseVec3(to)
		if err != nil {
			return err
		}
		rays = append(rays, picking.NewRay(a, b))
		return nil
	})
	set := fs.Int("set", 0, "Hitbox set")
	contents := fs.String("contents", "-1", "Bone contents mask")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	if len(rays) == 0 {
		fs.Usage()
		return errUsage
	}
	mask, err := strconv.ParseInt(*contents, 0, 64)
	if err != nil {
		return fmt.Errorf("-contents: %w", err)
	}

	h, err := loadModel(e, fs.Arg(0))
	if err != nil {
		return err
	}
	if *set < 0 || *set >= h.NumHitboxSets() {
		return fmt.Errorf("hitbox set %d out of range (model has %d)", *set, h.NumHitboxSets())
	}

	// Every ray sets up the same pose; all but the first are cache hits.
	for i, ray := range rays {
		r, err := pf.evaluate(e, h, false)
		if err != nil {
			return err
		}
		tr, hit := picking.TraceHitboxSet(ray, h, *set, r.bones, int32(mask))
		printTrace(e, h, i, *set, tr, hit)
	}
	st := e.cache.Stats()
	e.log.Debug("bone cache", zap.Int("hits", st.Hits), zap.Int("misses", st.Misses))
	return nil
}

func printTrace(e *env, h *studio.Header, ray, set int, tr picking.Trace, hit bool) {
	if !hit {
		fmt.Fprintf(e.out, "Ray %d: no hit (end %s)\n", ray, fmtVec(tr.EndPos))
		return
	}
	hb := h.HitboxSet(set).Hitboxes[tr.Hitbox]
	fmt.Fprintf(e.out, "Ray %d: hitbox %d (%s) group %d\n", ray, tr.Hitbox, hb.Name, tr.Group)
	fmt.Fprintf(e.out, "  Bone:     %d (%s)\n", tr.Bone, h.BoneName(tr.Bone))
	fmt.Fprintf(e.out, "  Fraction: %.4f\n", tr.Fraction)
	fmt.Fprintf(e.out, "  End:      %s\n", fmtVec(tr.EndPos))
	fmt.Fprintf(e.out, "  Normal:   %s\n", fmtVec(tr.Plane.Normal))
	if tr.StartSolid {
		fmt.Fprintln(e.out, "  Start solid")
	}
	if tr.SurfaceProp != "" {
		fmt.Fprintf(e.out, "  Surface:  %s\n", tr.SurfaceProp)
	}
}

func cmdExport(e *env, args []string) error {
	fs := newFlagSet("export", "[options] <model> <out.glb|out.gltf>")
	pf := addPoseFlags(fs)
	bind := fs.Bool("bind", false, "Export the bind pose instead of evaluating a sequence")
	scale := fs.Float64("scale", 1, "Translation scale (0.0254 converts inches to metres)")
	zUp := fs.Bool("z-up", false, "Keep the Z-up axis instead of converting to Y-up")
	attachments := fs.Bool("attachments", true, "Export attachments as child nodes")
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}
	h, err := loadModel(e, fs.Arg(0))
	if err != nil {
		return err
	}

	var pose *bone.Pose
	if !*bind {
		r, err := pf.evaluate(e, h, true)
		if err != nil {
			return err
		}
		pose = r.pose
	}

	doc := export.Skeleton(h, pose,
		export.WithScale(float32(*scale)),
		export.WithYUp(!*zUp),
		export.WithAttachments(*attachments),
	)
	out := fs.Arg(1)
	if err := export.WriteFile(out, doc); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Exported: %s (%d nodes)\n", out, len(doc.Nodes))
	return nil
}

func cmdConvert(e *env, args []string) error {
	fs := newFlagSet("convert", "[-layout legacy|modern] <model> <out.mdl>")
	layout := fs.String("layout", "modern", "Target layout: legacy or modern")
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}
	var kind studio.Layout
	switch strings.ToLower(*layout) {
	case "legacy":
		kind = studio.LayoutLegacy
	case "modern":
		kind = studio.LayoutModern
	default:
		return fmt.Errorf("unknown layout %q", *layout)
	}

	h, err := loadModel(e, fs.Arg(0))
	if err != nil {
		return err
	}
	m := studio.Describe(h)
	m.Version = 0
	data, err := studio.Encode(m, kind)
	if err != nil {
		return fmt.Errorf("encoding %s layout: %w", kind, err)
	}

	out := fs.Arg(1)
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Converted: %s -> %s (%s, %d bytes)\n", fs.Arg(0), out, kind, len(data))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloats(s string) ([]float32, error) {
	parts := splitList(s)
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}

var errVec3 = errors.New("want x,y,z")

func parseVec3(s string) (math.Vec3, error) {
	f, err := parseFloats(s)
	if err != nil {
		return math.Vec3{}, err
	}
	if len(f) != 3 {
		return math.Vec3{}, errVec3
	}
	return math.Vec3{X: f[0], Y: f[1], Z: f[2]}, nil
}

func fmtVec(v math.Vec3) string {
	return fmt.Sprintf("(%.3f %.3f %.3f)", v.X, v.Y, v.Z)
}

func fmtQuat(q math.Quat) string {
	return fmt.Sprintf("(%.4f %.4f %.4f %.4f)", q.X, q.Y, q.Z, q.W)
}
