package bone

import (
	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// normalizeCycle folds cycle into [0,1): looping sequences wrap, others
// clamp. Realtime sequences derive their cycle from time.
func (e *Evaluator) normalizeCycle(seq int, sd *studio.SeqDesc, cycle, time float32) float32 {
	if sd.Flags&studio.SeqRealtime != 0 {
		cycle = time * CPS(e.hdr, seq, e.poseParams)
		if !math.IsFinite(cycle) {
			return 0
		}
		return cycle - math32.Floor(cycle)
	}
	if !math.IsFinite(cycle) {
		return 0
	}
	if cycle >= 0 && cycle < 1 {
		return cycle
	}
	if sd.Looping() {
		cycle -= float32(int(cycle))
		if cycle < 0 {
			cycle++
		}
		return cycle
	}
	return math.Clamp(cycle, 0, 1)
}

// CalcPoseSingle evaluates seq at cycle into p, blending the one, two or
// four grid animations selected by the pose parameters. It reports false
// when the sequence contributes nothing.
func (e *Evaluator) CalcPoseSingle(p *Pose, seq int, cycle, time float32) bool {
	if seq < 0 || seq >= e.hdr.NumSequences() {
		e.log.Warn("sequence out of range", zap.Int("sequence", seq))
		return false
	}
	sd := e.hdr.Sequence(seq)
	cycle = e.normalizeCycle(seq, sd, cycle, time)

	i0, s0 := localPoseParameter(e.hdr, sd, 0, e.poseParams)
	i1, s1 := localPoseParameter(e.hdr, sd, 1, e.poseParams)

	switch {
	case s0 < weightEpsilon && s1 < weightEpsilon:
		if e.allZeros(sd, i0, i1) {
			return false
		}
		e.calcAnimation(p, sd, sd.Anim(i0, i1), cycle)
	case s0 < weightEpsilon && s1 > 1-weightEpsilon:
		e.calcAnimation(p, sd, sd.Anim(i0, i1+1), cycle)
	case s0 < weightEpsilon:
		e.calcPair(p, sd, sd.Anim(i0, i1), sd.Anim(i0, i1+1), s1, cycle)
	case s0 > 1-weightEpsilon && s1 < weightEpsilon:
		e.calcAnimation(p, sd, sd.Anim(i0+1, i1), cycle)
	case s0 > 1-weightEpsilon && s1 > 1-weightEpsilon:
		e.calcAnimation(p, sd, sd.Anim(i0+1, i1+1), cycle)
	case s0 > 1-weightEpsilon:
		e.calcPair(p, sd, sd.Anim(i0+1, i1), sd.Anim(i0+1, i1+1), s1, cycle)
	case s1 < weightEpsilon:
		e.calcPair(p, sd, sd.Anim(i0, i1), sd.Anim(i0+1, i1), s0, cycle)
	case s1 > 1-weightEpsilon:
		e.calcPair(p, sd, sd.Anim(i0, i1+1), sd.Anim(i0+1, i1+1), s0, cycle)
	default:
		e.calcPair(p, sd, sd.Anim(i0, i1), sd.Anim(i0+1, i1), s0, cycle)
		upper := e.acquire()
		e.calcPair(upper, sd, sd.Anim(i0, i1+1), sd.Anim(i0+1, i1+1), s0, cycle)
		BlendBones(e.hdr, p, upper, s1, e.mask)
		e.release(upper)
	}
	return true
}

func (e *Evaluator) allZeros(sd *studio.SeqDesc, i0, i1 int) bool {
	a := e.hdr.Anim(sd.Anim(i0, i1))
	return a == nil || a.AllZeros()
}

// calcPair evaluates two animations and blends the second into the first.
func (e *Evaluator) calcPair(p *Pose, sd *studio.SeqDesc, a, b int, s, cycle float32) {
	e.calcAnimation(p, sd, a, cycle)
	tmp := e.acquire()
	e.calcAnimation(tmp, sd, b, cycle)
	BlendBones(e.hdr, p, tmp, s, e.mask)
	e.release(tmp)
}

// calcAnimation decodes one animation at cycle. Bones the clip does not
// animate take the bind pose, or identity for delta clips.
func (e *Evaluator) calcAnimation(p *Pose, sd *studio.SeqDesc, index int, cycle float32) {
	bones := e.hdr.Bones()
	a := e.hdr.Anim(index)
	if a == nil {
		e.log.Debug("missing animation", zap.Int("anim", index))
		e.zeroFrame(p, sd, a)
		return
	}

	frame := cycle * float32(a.NumFrames-1)
	if frame < 0 {
		frame = 0
	}
	iframe := int(frame)
	s := frame - float32(iframe)

	c, local, ok := e.hdr.OpenAnim(a, iframe)
	if !ok {
		e.log.Debug("animation data unavailable", zap.String("anim", a.Name), zap.Int("frame", iframe))
		e.zeroFrame(p, sd, a)
		return
	}

	delta := a.Delta()
	for i := range bones {
		b := &bones[i]
		t, animated := c.Seek(i)
		if sd.Weight(i) <= 0 || b.Flags&e.mask == 0 {
			continue
		}
		switch {
		case animated:
			p.Q[i] = t.Rotation(local, s, b)
			p.Pos[i] = t.Position(local, s, b)
		case delta:
			p.Q[i] = math.QuatIdentity()
			p.Pos[i] = math.Vec3{}
		default:
			p.Q[i] = b.Quat
			p.Pos[i] = b.Pos
		}
	}

	for k := range a.LocalHierarchy {
		e.calcLocalHierarchy(p, &a.LocalHierarchy[k], cycle, iframe, s)
	}
}

func (e *Evaluator) zeroFrame(p *Pose, sd *studio.SeqDesc, a *studio.AnimDesc) {
	delta := sd.Delta() || (a != nil && a.Delta())
	bones := e.hdr.Bones()
	for i := range bones {
		if sd.Weight(i) <= 0 || bones[i].Flags&e.mask == 0 {
			continue
		}
		if delta {
			p.Q[i] = math.QuatIdentity()
			p.Pos[i] = math.Vec3{}
		} else {
			p.Q[i] = bones[i].Quat
			p.Pos[i] = bones[i].Pos
		}
	}
}

// calcLocalHierarchy moves a bone toward a transform expressed relative to
// a different parent, weighted by the entry's envelope.
func (e *Evaluator) calcLocalHierarchy(p *Pose, lh *studio.LocalHierarchy, cycle float32, frame int, fraq float32) {
	n := e.hdr.NumBones()
	if lh.Bone < 0 || lh.Bone >= n || lh.NewParent < 0 || lh.NewParent >= n {
		return
	}
	if !e.used(lh.Bone) {
		return
	}
	if cycle < lh.Start || cycle > lh.End {
		return
	}
	weight := float32(1)
	switch {
	case cycle < lh.Peak && lh.Start != lh.Peak:
		weight = (cycle - lh.Start) / (lh.Peak - lh.Start)
	case cycle > lh.Tail && lh.End != lh.Tail:
		weight = (lh.End - cycle) / (lh.End - lh.Tail)
	}
	weight = math.SimpleSpline(weight)

	world := make([]math.Mat3x4, n)
	root := math.Identity3x4()
	BuildBoneChain(e.hdr, root, p, lh.Bone, world)
	BuildBoneChain(e.hdr, root, p, lh.NewParent, world)

	lpos, lq := lh.Sample(frame, fraq)
	target := world[lh.NewParent].Concat(math.QuaternionMatrix(lq, lpos))

	bq, bpos := world[lh.Bone].Decompose()
	tq, tpos := target.Decompose()
	out := math.QuaternionMatrix(bq.Slerp(tq, weight), bpos.Lerp(tpos, weight))

	parent := root
	if pi := e.hdr.BoneParent(lh.Bone); pi >= 0 {
		parent = world[pi]
	}
	p.Q[lh.Bone], p.Pos[lh.Bone] = parent.Invert().Concat(out).Decompose()
}

// AccumulatePose blends seq at cycle into p with weight, including the
// sequence's layers, IK locks and, when ik is non-nil, its IK rules.
func (e *Evaluator) AccumulatePose(p *Pose, seq int, cycle, weight, time float32, ik *IKContext) {
	if seq < 0 || seq >= e.hdr.NumSequences() {
		e.log.Warn("sequence out of range", zap.Int("sequence", seq))
		return
	}
	weight = math.UnitWeight(weight)
	if weight < weightEpsilon {
		return
	}
	if !math.IsFinite(cycle) {
		cycle = 0
	}
	if e.depth >= e.maxDepth {
		e.log.Warn("layer depth exceeded", zap.Int("sequence", seq), zap.Int("depth", e.depth))
		return
	}
	e.depth++
	defer func() { e.depth-- }()

	sd := e.hdr.Sequence(seq)

	var locks *IKContext
	if len(sd.IKLocks) > 0 {
		locks = NewIKContext(e.hdr, WithIKLogger(e.log))
		locks.Init(math.Identity3x4(), time, e.mask)
		locks.AddSequenceLocks(sd, p)
	}

	tmp := e.acquire()
	if sd.Flags&studio.SeqLocal != 0 {
		e.InitPose(tmp)
	}
	if e.CalcPoseSingle(tmp, seq, cycle, time) {
		e.addLocalLayers(tmp, seq, sd, cycle, time, ik)
		SlerpBones(e.hdr, p, sd, tmp, weight, e.mask)
	}
	e.release(tmp)

	if ik != nil {
		ik.AddDependencies(sd, seq, cycle, e.poseParams, weight)
	}
	e.addSequenceLayers(p, sd, cycle, weight, time, ik)

	if locks != nil {
		locks.SolveSequenceLocks(sd, p)
	}
}

// CalcAutoplaySequences accumulates every autoplay sequence into p at full
// weight, each at the cycle time reaches at its own rate. When ik is non-nil
// the model's autoplay locks hold their end effectors across the blend.
func (e *Evaluator) CalcAutoplaySequences(p *Pose, time float32, ik *IKContext) {
	if ik != nil {
		ik.AddAutoplayLocks(p)
	}
	for _, seq := range e.hdr.AutoplaySequences() {
		cycle := time * CPS(e.hdr, seq, e.poseParams)
		if !math.IsFinite(cycle) {
			cycle = 0
		}
		e.AccumulatePose(p, seq, cycle-math32.Floor(cycle), 1, time, nil)
	}
	if ik != nil {
		ik.SolveAutoplayLocks(p)
	}
}

// layerWeight computes the influence of layer l at cycle, and the cycle at
// which the layered sequence is sampled. ok is false outside the window.
func (e *Evaluator) layerWeight(l *studio.AutoLayer, cycle, weight float32) (w, layerCycle float32, ok bool) {
	if l.Start == l.End {
		return weight, cycle, true
	}
	index := cycle
	if l.Flags&studio.LayerPose != 0 {
		index = 0
		if l.Pose >= 0 && l.Pose < len(e.poseParams) {
			index = e.poseParams[l.Pose]
		}
	}
	if index < l.Start || index >= l.End {
		return 0, 0, false
	}

	s := float32(1)
	switch {
	case index < l.Peak && l.Start != l.Peak:
		s = (index - l.Start) / (l.Peak - l.Start)
	case index > l.Tail && l.End != l.Tail:
		s = (l.End - index) / (l.End - l.Tail)
	}

	switch {
	case l.Flags&studio.LayerNoBlend != 0:
		w = weight
	case l.Flags&studio.LayerXFade != 0 && index > l.Tail:
		s = math.SimpleSpline(s)
		w = s * weight / (1 - weight + s*weight)
	default:
		w = weight * math.SimpleSpline(s)
	}

	layerCycle = cycle
	if l.Flags&studio.LayerPose == 0 {
		layerCycle = (cycle - l.Start) / (l.End - l.Start)
	}
	return w, layerCycle, true
}

func (e *Evaluator) addSequenceLayers(p *Pose, sd *studio.SeqDesc, cycle, weight, time float32, ik *IKContext) {
	for i := range sd.AutoLayers {
		l := &sd.AutoLayers[i]
		if l.Flags&studio.LayerLocal != 0 {
			continue
		}
		w, lc, ok := e.layerWeight(l, cycle, weight)
		if !ok {
			continue
		}
		e.AccumulatePose(p, l.Sequence, lc, w, time, ik)
	}
}

// addLocalLayers applies layers that blend in the parent sequence's own
// space, before the parent is mixed into the running pose.
func (e *Evaluator) addLocalLayers(p *Pose, seq int, sd *studio.SeqDesc, cycle, time float32, ik *IKContext) {
	if sd.Flags&studio.SeqLocal == 0 {
		return
	}
	for i := range sd.AutoLayers {
		l := &sd.AutoLayers[i]
		if l.Flags&studio.LayerLocal == 0 {
			continue
		}
		w, lc, ok := e.layerWeight(l, cycle, 1)
		if !ok || l.Sequence == seq {
			continue
		}
		e.AccumulatePose(p, l.Sequence, lc, w, time, ik)
	}
}
