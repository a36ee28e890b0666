package bone

import (
	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

const (
	// kneeMax is the fraction of full extension past which a chain is
	// treated as straight; 0.9998 is about one degree of knee bend.
	kneeMax = 0.9998
)

// SolveTwoLink solves a two-link chain anchored at the origin with link
// lengths l1 and l2 reaching for target. The knee bends toward hint. It
// returns the knee position and the reachable foot position, both relative
// to the anchor.
//
// Targets closer than the minimum bend distance are pushed outward along
// the target direction. When the target is at or beyond full extension the
// solve fails: ok is false and the knee lies on the anchor-to-target line.
func SolveTwoLink(l1, l2 float32, target, hint math.Vec3) (knee, foot math.Vec3, ok bool) {
	r := target.Length()
	dir := target.Normalize()
	if r >= (l1+l2)*kneeMax {
		return dir.Scale(l1), target, false
	}

	minDist := math32.Max(math32.Abs(l1-l2)*1.15, math32.Min(l1, l2)*0.15)
	if r < minDist {
		if dir == (math.Vec3{}) {
			dir = math.Vec3{X: 1}
		}
		target = dir.Scale(minDist)
		r = minDist
	}
	if r == 0 {
		return math.Vec3{}, target, false
	}

	// Build a frame whose X axis is the target direction and whose Y axis
	// points toward the hint.
	x := dir
	y := hint.Sub(x.Scale(hint.Dot(x))).Normalize()
	if y == (math.Vec3{}) {
		y = anyPerpendicular(x)
	}

	d := (r + (l1*l1-l2*l2)/r) / 2
	e := l1*l1 - d*d
	if e < 0 {
		e = 0
	}
	e = math32.Sqrt(e)
	knee = x.Scale(d).Add(y.Scale(e))
	return knee, target, d > r-l2 && d < l1
}

func anyPerpendicular(v math.Vec3) math.Vec3 {
	p := v.Cross(math.Vec3{Z: 1})
	if p.Length() < 1e-3 {
		p = v.Cross(math.Vec3{Y: 1})
	}
	return p.Normalize()
}

// alignIKMatrix points column 0 of m along dir, keeping column 2 as the
// reference for the remaining axes.
func alignIKMatrix(m *math.Mat3x4, dir math.Vec3) {
	x := dir.Normalize()
	m.SetColumn(0, x)
	y := m.Column(2).Cross(x).Normalize()
	m.SetColumn(1, y)
	m.SetColumn(2, x.Cross(y))
}

// IKContext resolves IK rules, locks and latched ground targets for one
// model instance. Latch state persists across Init calls.
type IKContext struct {
	hdr           *studio.Header
	log           *zap.Logger
	root          math.Mat3x4
	time          float32
	mask          int32
	latchLifetime float32

	rules   [][]ikRule
	locks   []ikLock
	latches []latch
}

type ikRule struct {
	typ        studio.IKType
	chain      int
	bone       int
	slot       int
	attachment string
	pos        math.Vec3
	q          math.Quat

	start, peak, tail, end float32

	weight     float32
	ruleWeight float32
	latched    bool
}

type ikLock struct {
	chain   int
	pos     math.Vec3
	q       math.Quat
	kneeDir math.Vec3
	kneePos math.Vec3
}

type latch struct {
	valid  bool
	target math.Mat3x4
	time   float32
}

// IKOption configures an IKContext.
type IKOption func(*IKContext)

// WithIKLogger sets the logger for solver diagnostics.
func WithIKLogger(log *zap.Logger) IKOption {
	return func(c *IKContext) {
		if log != nil {
			c.log = log
		}
	}
}

// WithLatchLifetime sets how long, in seconds, a latched ground target may
// go unrefreshed before it is recomputed.
func WithLatchLifetime(seconds float32) IKOption {
	return func(c *IKContext) {
		if seconds > 0 {
			c.latchLifetime = seconds
		}
	}
}

// NewIKContext creates an IK context for h.
func NewIKContext(h *studio.Header, opts ...IKOption) *IKContext {
	c := &IKContext{
		hdr:           h,
		log:           zap.NewNop(),
		root:          math.Identity3x4(),
		mask:          studio.BoneUsedByAnything,
		latchLifetime: DefaultLatchLifetime,
		rules:         make([][]ikRule, h.NumIKChains()),
		latches:       make([]latch, h.NumIKChains()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init starts a new frame at time with the entity's world transform root.
// Rules and locks from the previous frame are discarded.
func (c *IKContext) Init(root math.Mat3x4, time float32, mask int32) {
	c.root = root
	c.time = time
	c.mask = mask
	for i := range c.rules {
		c.rules[i] = c.rules[i][:0]
	}
	c.locks = c.locks[:0]
}

// Unlatch drops every latched ground target.
func (c *IKContext) Unlatch() {
	for i := range c.latches {
		c.latches[i] = latch{}
	}
}

// links returns the thigh, knee and foot bones of chain.
func (c *IKContext) links(chain int) (thigh, knee, foot int, ok bool) {
	if chain < 0 || chain >= c.hdr.NumIKChains() {
		return 0, 0, 0, false
	}
	l := c.hdr.IKChain(chain).Links
	if len(l) < 3 {
		return 0, 0, 0, false
	}
	n := c.hdr.NumBones()
	for _, b := range []int{l[0].Bone, l[1].Bone, l[2].Bone} {
		if b < 0 || b >= n {
			return 0, 0, 0, false
		}
	}
	return l[0].Bone, l[1].Bone, l[2].Bone, true
}

func (c *IKContext) used(bone int) bool {
	return c.hdr.BoneFlags(bone)&c.mask != 0
}

// AddDependencies collects the IK rules of seq at cycle, blended across the
// sequence's animations and scaled by weight.
func (c *IKContext) AddDependencies(sd *studio.SeqDesc, seq int, cycle float32, params []float32, weight float32) {
	if c.hdr.NumIKChains() == 0 || sd.NumIKRules == 0 {
		return
	}
	weight = math.UnitWeight(weight)

	switch {
	case sd.Flags&studio.SeqRealtime != 0:
		cycle = c.time * CPS(c.hdr, seq, params)
		cycle -= float32(int(cycle))
	case cycle < 0 || cycle >= 1:
		if sd.Looping() {
			cycle -= float32(int(cycle))
			if cycle < 0 {
				cycle++
			}
		} else {
			cycle = math.Clamp(cycle, 0, 0.9999)
		}
	}

	anims, weights := SeqAnims(c.hdr, seq, params)
	for i := 0; i < sd.NumIKRules; i++ {
		r, ok := c.sequenceError(anims, weights, cycle, i)
		if !ok {
			continue
		}
		_, _, foot, ok := c.links(r.chain)
		if !ok || !c.used(foot) {
			continue
		}
		if r.bone >= 0 && (r.bone >= c.hdr.NumBones() || !c.used(r.bone)) {
			continue
		}
		r.ruleWeight = weight
		if r.ruleWeight*r.weight > 1-weightEpsilon && r.typ != studio.IKUnlatch {
			c.rules[r.chain] = c.rules[r.chain][:0]
			if r.typ == studio.IKRelease {
				continue
			}
		}
		c.rules[r.chain] = append(c.rules[r.chain], r)
	}
}

// ruleWeight is the smoothstep envelope of r at cycle.
func ruleWeight(r *ikRule, cycle float32) float32 {
	if r.end > 1 && cycle < r.start {
		cycle++
	}
	var v float32
	switch {
	case cycle < r.start:
		return 0
	case cycle < r.peak:
		v = (cycle - r.start) / (r.peak - r.start)
	case cycle < r.tail:
		return 1
	case cycle < r.end:
		v = 1 - (cycle-r.tail)/(r.end-r.tail)
	}
	return math.SimpleSpline(v)
}

// shouldLatch reports whether cycle lies between the peak and the end of
// the rule's envelope.
func shouldLatch(r *ikRule, cycle float32) bool {
	if r.end > 1 && cycle < r.start {
		cycle++
	}
	return cycle >= r.peak && cycle < r.end
}

// sequenceError blends rule index across the weighted animations.
func (c *IKContext) sequenceError(anims [4]int, weights [4]float32, cycle float32, index int) (ikRule, bool) {
	var r ikRule
	var prev *studio.IKRule
	var first *studio.AnimDesc
	for i := range anims {
		if weights[i] == 0 {
			continue
		}
		a := c.hdr.Anim(anims[i])
		if a == nil || index >= len(a.IKRules) {
			return r, false
		}
		if first == nil {
			first = a
		}
		ar := &a.IKRules[index]
		var dt float32
		if prev != nil {
			switch {
			case ar.Start-prev.Start > 0.5:
				dt = -1
			case ar.Start-prev.Start < -0.5:
				dt = 1
			}
		} else {
			prev = ar
		}
		r.start += (ar.Start + dt) * weights[i]
		r.peak += (ar.Peak + dt) * weights[i]
		r.tail += (ar.Tail + dt) * weights[i]
		r.end += (ar.End + dt) * weights[i]
	}
	if first == nil {
		return r, false
	}
	switch {
	case r.start > 1:
		r.start, r.peak, r.tail, r.end = r.start-1, r.peak-1, r.tail-1, r.end-1
	case r.start < 0:
		r.start, r.peak, r.tail, r.end = r.start+1, r.peak+1, r.tail+1, r.end+1
	}

	r.weight = ruleWeight(&r, cycle)
	if r.weight <= weightEpsilon {
		fr := &first.IKRules[index]
		if first.Looping() && fr.Type == studio.IKGround && r.end-r.start > 0.75 {
			r.weight = weightEpsilon
			cycle = r.end - weightEpsilon
		} else {
			return r, false
		}
	}
	r.latched = shouldLatch(&r, cycle)

	var q math.Quat
	for i := range anims {
		if weights[i] == 0 {
			continue
		}
		a := c.hdr.Anim(anims[i])
		ar := &a.IKRules[index]
		r.typ, r.chain, r.bone, r.slot, r.attachment = ar.Type, ar.Chain, ar.Bone, ar.Slot, ar.Attachment

		frame := cycle * float32(a.NumFrames-1)
		iframe := int(frame)
		pos, eq, ok := ar.Error(iframe, frame-float32(iframe))
		if !ok {
			pos, eq = ar.Pos, ar.Q
		}
		r.pos = r.pos.MA(weights[i], pos)
		q = q.Add4(q.Align(eq).Scale4(weights[i]))
	}
	r.q = q.Normalize()
	return r, true
}

type chainResult struct {
	weight float32
	pos    math.Vec3
	q      math.Quat
}

// SolveDependencies blends the collected rules into per-chain targets and
// solves each chain, updating p. out is scratch space for bone-to-world
// transforms, sized for the model.
func (c *IKContext) SolveDependencies(p *Pose, out []math.Mat3x4) {
	results := make([]chainResult, c.hdr.NumIKChains())
	for i := range results {
		_, _, foot, ok := c.links(i)
		if !ok || !c.used(foot) {
			continue
		}
		BuildBoneChain(c.hdr, c.root, p, foot, out)
		results[i].q, results[i].pos = out[foot].Decompose()
	}

	for chain := range c.rules {
		res := &results[chain]
		for k := range c.rules[chain] {
			r := &c.rules[chain][k]
			w := r.weight * r.ruleWeight
			switch r.typ {
			case studio.IKRelease:
				_, _, foot, _ := c.links(chain)
				BuildBoneChain(c.hdr, c.root, p, foot, out)
				q2, p2 := out[foot].Decompose()
				res.pos = res.pos.Lerp(p2, w)
				res.q = res.q.Slerp(q2, w)
			case studio.IKUnlatch:
				c.latches[chain] = latch{}
			default:
				target, ok := c.target(r, p, out)
				if !ok {
					continue
				}
				res.weight = res.weight*(1-w) + w
				q2, p2 := target.Decompose()
				res.pos = res.pos.Lerp(p2, w)
				res.q = res.q.Slerp(q2, w)
			}
		}
	}

	for chain := range results {
		if results[chain].weight <= 0 {
			continue
		}
		if !c.SolveChain(chain, results[chain].pos, results[chain].q, p, out) {
			// A latched target that cannot be reached is not kept.
			c.log.Debug("ik chain unsolved", zap.Int("chain", chain))
			c.latches[chain] = latch{}
		}
	}
}

// target resolves the world transform a rule pulls its chain toward.
func (c *IKContext) target(r *ikRule, p *Pose, out []math.Mat3x4) (math.Mat3x4, bool) {
	local := math.QuaternionMatrix(r.q, r.pos)
	switch r.typ {
	case studio.IKSelf:
		if r.bone >= 0 {
			BuildBoneChain(c.hdr, c.root, p, r.bone, out)
			return out[r.bone].Concat(local), true
		}
		return c.root.Concat(local), true
	case studio.IKWorld:
		return c.root.Concat(local), true
	case studio.IKAttachment:
		for i := 0; i < c.hdr.NumAttachments(); i++ {
			att := c.hdr.Attachment(i)
			if att.Name != r.attachment || att.Bone < 0 {
				continue
			}
			BuildBoneChain(c.hdr, c.root, p, att.Bone, out)
			return out[att.Bone].Concat(att.Local).Concat(local), true
		}
		c.log.Debug("ik attachment not found", zap.String("attachment", r.attachment))
		return math.Mat3x4{}, false
	case studio.IKGround:
		t := c.root.Concat(local)
		l := &c.latches[r.chain]
		if !r.latched {
			*l = latch{}
			return t, true
		}
		if l.valid && c.time >= l.time && c.time-l.time <= c.latchLifetime {
			t = l.target
		} else {
			l.target = t
			l.valid = true
		}
		l.time = c.time
		return t, true
	}
	return math.Mat3x4{}, false
}

// SolveChain moves chain's end effector to the world position target with
// orientation q and rebuilds the local transforms of its three links in p.
// out must hold the current world transforms of the chain's ancestors; it
// is refreshed for the chain. It reports false, leaving p untouched, when
// the target cannot be reached.
func (c *IKContext) SolveChain(chain int, target math.Vec3, q math.Quat, p *Pose, out []math.Mat3x4) bool {
	thigh, knee, foot, ok := c.links(chain)
	if !ok {
		return false
	}
	BuildBoneChain(c.hdr, c.root, p, foot, out)
	if !c.solveIK(chain, target, out) {
		return false
	}
	out[foot] = math.QuaternionMatrix(q, out[foot].Origin())
	c.solveBone(foot, p, out)
	c.solveBone(knee, p, out)
	c.solveBone(thigh, p, out)
	return true
}

// solveIK positions the chain's links in out. The knee bends along the
// chain's knee direction when it has one, else along its current bend.
func (c *IKContext) solveIK(chain int, target math.Vec3, out []math.Mat3x4) bool {
	thigh, knee, foot, _ := c.links(chain)
	if kd := c.hdr.IKChain(chain).Links[0].KneeDir; kd != (math.Vec3{}) {
		return solveKnee(thigh, knee, foot, target, out[knee].Origin(), out[thigh].Rotate(kd), out)
	}

	wThigh, wKnee, wFoot := out[thigh].Origin(), out[knee].Origin(), out[foot].Origin()
	l1 := wKnee.Distance(wThigh)
	l2 := wFoot.Distance(wKnee)
	l3 := wFoot.Distance(wThigh)
	if l3 == 0 || l3 > (l1+l2)*kneeMax {
		return false
	}
	half := wFoot.Sub(wThigh).Scale(l1 / l3)
	dir := wKnee.Sub(wThigh).Sub(half).Normalize()
	return solveKnee(thigh, knee, foot, target, wKnee, dir, out)
}

func solveKnee(thigh, knee, foot int, target, kneePos, kneeDir math.Vec3, out []math.Mat3x4) bool {
	wThigh, wKnee, wFoot := out[thigh].Origin(), out[knee].Origin(), out[foot].Origin()
	ikFoot := target.Sub(wThigh)
	ikKnee := kneePos.Sub(wThigh)
	l1 := wKnee.Distance(wThigh)
	l2 := wFoot.Distance(wKnee)

	d := math32.Max(l1+l2, target.Distance(wThigh)-math32.Min(l1, l2)) * 100
	hint := ikKnee.MA(d, kneeDir)

	minDist := math32.Max(math32.Abs(l1-l2)*1.15, math32.Min(l1, l2)*0.15)
	if ikFoot.Length() < minDist {
		ikFoot = wFoot.Sub(wThigh).Normalize().Scale(minDist)
	}

	kneeOut, footOut, ok := SolveTwoLink(l1, l2, ikFoot, hint)
	if !ok {
		return false
	}
	alignIKMatrix(&out[thigh], kneeOut)
	alignIKMatrix(&out[knee], footOut.Sub(kneeOut))
	out[knee].SetOrigin(kneeOut.Add(wThigh))
	out[foot].SetOrigin(footOut.Add(wThigh))
	return true
}

// solveBone recovers bone's local transform in p from its world transform.
func (c *IKContext) solveBone(bone int, p *Pose, out []math.Mat3x4) {
	parent := c.root
	if pi := c.hdr.BoneParent(bone); pi >= 0 {
		parent = out[pi]
	}
	p.Q[bone], p.Pos[bone] = parent.Invert().Concat(out[bone]).Decompose()
}

// AddSequenceLocks records the current end effector transforms of the
// chains locked by sd.
func (c *IKContext) AddSequenceLocks(sd *studio.SeqDesc, p *Pose) {
	c.addLocks(sd.IKLocks, p)
}

// SolveSequenceLocks pulls the chains locked by sd back toward the
// transforms recorded by AddSequenceLocks.
func (c *IKContext) SolveSequenceLocks(sd *studio.SeqDesc, p *Pose) {
	c.solveLocks(sd.IKLocks, p)
}

// AddAutoplayLocks records end effector transforms for the model's
// autoplay locks.
func (c *IKContext) AddAutoplayLocks(p *Pose) {
	c.addLocks(c.hdr.AutoplayLocks(), p)
}

// SolveAutoplayLocks solves the model's autoplay locks.
func (c *IKContext) SolveAutoplayLocks(p *Pose) {
	c.solveLocks(c.hdr.AutoplayLocks(), p)
}

func (c *IKContext) addLocks(locks []studio.IKLock, p *Pose) {
	c.locks = c.locks[:0]
	if c.hdr.NumIKChains() == 0 || len(locks) == 0 {
		return
	}
	out := make([]math.Mat3x4, c.hdr.NumBones())
	for _, l := range locks {
		lock := ikLock{chain: l.Chain}
		if thigh, knee, foot, ok := c.links(l.Chain); ok {
			BuildBoneChain(c.hdr, c.root, p, foot, out)
			lock.q, lock.pos = out[foot].Decompose()
			if kd := c.hdr.IKChain(l.Chain).Links[0].KneeDir; kd != (math.Vec3{}) {
				lock.kneeDir = out[thigh].Rotate(kd)
				lock.kneePos = out[knee].Origin()
			}
		}
		c.locks = append(c.locks, lock)
	}
}

func (c *IKContext) solveLocks(locks []studio.IKLock, p *Pose) {
	if len(c.locks) == 0 {
		return
	}
	out := make([]math.Mat3x4, c.hdr.NumBones())
	for i, l := range locks {
		if i >= len(c.locks) {
			break
		}
		c.solveLock(l, &c.locks[i], p, out)
	}
}

func (c *IKContext) solveLock(l studio.IKLock, lock *ikLock, p *Pose, out []math.Mat3x4) {
	thigh, knee, foot, ok := c.links(lock.chain)
	if !ok || !c.used(foot) {
		return
	}
	BuildBoneChain(c.hdr, c.root, p, foot, out)
	target := out[foot].Origin().Lerp(lock.pos, l.PosWeight)

	if lock.kneeDir != (math.Vec3{}) {
		solveKnee(thigh, knee, foot, target, lock.kneePos, lock.kneeDir, out)
	} else {
		c.solveIK(lock.chain, target, out)
	}

	out[foot] = math.QuaternionMatrix(lock.q, out[foot].Origin())
	q2 := p.Q[foot]
	c.solveBone(foot, p, out)
	p.Q[foot] = p.Q[foot].Slerp(q2, l.LocalQWeight)
	c.solveBone(knee, p, out)
	c.solveBone(thigh, p, out)
}
