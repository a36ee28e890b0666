// Package picking traces line segments against model hitboxes.
package picking

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// parallelEpsilon is the direction component below which a segment is
// treated as parallel to a slab.
const parallelEpsilon = 1e-8

// Ray is the segment from Start to Start+Delta.
type Ray struct {
	Start math.Vec3
	Delta math.Vec3
}

// NewRay creates the segment from start to end.
func NewRay(start, end math.Vec3) Ray {
	return Ray{Start: start, Delta: end.Sub(start)}
}

// At returns the point at fraction f along the segment.
func (r Ray) At(f float32) math.Vec3 {
	return r.Start.MA(f, r.Delta)
}

// AABB represents an axis-aligned bounding box.
type AABB struct {
	Min math.Vec3
	Max math.Vec3
}

// NewAABB creates an AABB from two corners, swapping components so that
// Min <= Max on every axis.
func NewAABB(a, b math.Vec3) AABB {
	return AABB{
		Min: math.Vec3{X: math32.Min(a.X, b.X), Y: math32.Min(a.Y, b.Y), Z: math32.Min(a.Z, b.Z)},
		Max: math.Vec3{X: math32.Max(a.X, b.X), Y: math32.Max(a.Y, b.Y), Z: math32.Max(a.Z, b.Z)},
	}
}

// Contains reports whether p lies inside or on the box.
func (b AABB) Contains(p math.Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// BoxHit describes where a segment meets a box.
type BoxHit struct {
	Fraction   float32
	Normal     math.Vec3 // outward normal of the entered face; zero when starting inside
	StartSolid bool
	AllSolid   bool
}

// IntersectAABB clips r against box with one slab per axis and returns
// the entry point. A segment starting inside the box reports StartSolid
// with a zero fraction, and AllSolid when it also ends inside.
func (r Ray) IntersectAABB(box AABB) (BoxHit, bool) {
	enter, exit := float32(-1), float32(1)
	axis, sign := -1, float32(0)

	for i := 0; i < 3; i++ {
		s, d := r.Start.Idx(i), r.Delta.Idx(i)
		lo, hi := box.Min.Idx(i), box.Max.Idx(i)
		if math32.Abs(d) < parallelEpsilon {
			if s < lo || s > hi {
				return BoxHit{}, false
			}
			continue
		}
		t1 := (lo - s) / d
		t2 := (hi - s) / d
		face := float32(-1)
		if t1 > t2 {
			t1, t2 = t2, t1
			face = 1
		}
		if t1 > enter {
			enter, axis, sign = t1, i, face
		}
		if t2 < exit {
			exit = t2
		}
		if enter > exit {
			return BoxHit{}, false
		}
	}

	if exit < 0 || enter > 1 {
		return BoxHit{}, false
	}
	if enter < 0 || axis < 0 {
		return BoxHit{StartSolid: true, AllSolid: exit >= 1}, true
	}

	var n math.Vec3
	switch axis {
	case 0:
		n.X = sign
	case 1:
		n.Y = sign
	case 2:
		n.Z = sign
	}
	return BoxHit{Fraction: enter, Normal: n}, true
}

// Plane is a world-space plane through the hit point.
type Plane struct {
	Normal math.Vec3
	Dist   float32
}

// Trace is the result of TraceHitboxSet.
type Trace struct {
	Fraction   float32
	EndPos     math.Vec3
	Plane      Plane
	StartSolid bool
	AllSolid   bool

	Hitbox      int
	Group       int
	Bone        int
	PhysicsBone int
	Contents    int32
	SurfaceProp string
}

// TraceHitboxSet finds the nearest hitbox of set that r crosses. bones
// holds the bone-to-world transforms of the model. Boxes whose bone
// contents share no bit with contents are skipped. A segment starting
// inside a box reports StartSolid and wins over every other hit.
func TraceHitboxSet(r Ray, h *studio.Header, set int, bones []math.Mat3x4, contents int32) (Trace, bool) {
	best := Trace{Fraction: 1, Hitbox: -1, Bone: -1, PhysicsBone: -1}
	found := false

	for i, hb := range h.HitboxSet(set).Hitboxes {
		if hb.Bone < 0 || hb.Bone >= len(bones) {
			continue
		}
		bc := h.BoneContents(hb.Bone)
		if bc&contents == 0 {
			continue
		}

		m := bones[hb.Bone]
		local := Ray{Start: m.ITransform(r.Start), Delta: m.IRotate(r.Delta)}
		hit, ok := local.IntersectAABB(NewAABB(hb.BBMin, hb.BBMax))
		if !ok {
			continue
		}
		if found && !closer(hit, best) {
			continue
		}

		b := h.Bone(hb.Bone)
		best = Trace{
			Fraction:    hit.Fraction,
			StartSolid:  hit.StartSolid,
			AllSolid:    hit.AllSolid,
			Hitbox:      i,
			Group:       hb.Group,
			Bone:        hb.Bone,
			PhysicsBone: b.PhysicsBone,
			Contents:    bc,
			SurfaceProp: b.SurfaceProp,
		}
		best.EndPos = r.At(hit.Fraction)
		if !hit.StartSolid {
			n := m.Rotate(hit.Normal)
			best.Plane = Plane{Normal: n, Dist: n.Dot(best.EndPos)}
		}
		found = true
	}
	if !found {
		best.EndPos = r.At(1)
	}
	return best, found
}

func closer(hit BoxHit, best Trace) bool {
	if best.StartSolid {
		return false
	}
	return hit.StartSolid || hit.Fraction < best.Fraction
}
