package math

import "github.com/chewxy/math32"

// Quat represents a quaternion for 3D rotations.
// Components are stored as X, Y, Z, W where W is the scalar part.
type Quat struct {
	X, Y, Z, W float32
}

// QuatIdentity returns an identity quaternion (no rotation).
func QuatIdentity() Quat {
	return Quat{W: 1}
}

// QuatFromAxisAngle creates a quaternion from axis-angle rotation.
// axis should be normalized, angle is in radians.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	s, c := math32.Sincos(angle / 2)
	return Quat{X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s, W: c}
}

// AngleQuaternion converts radian Euler angles (X=roll, Y=pitch, Z=yaw)
// to a quaternion.
func AngleQuaternion(angles Vec3) Quat {
	sy, cy := math32.Sincos(angles.Z * 0.5)
	sp, cp := math32.Sincos(angles.Y * 0.5)
	sr, cr := math32.Sincos(angles.X * 0.5)

	srXcp, crXsp := sr*cp, cr*sp
	crXcp, srXsp := cr*cp, sr*sp
	return Quat{
		X: srXcp*cy - crXsp*sy,
		Y: crXsp*cy + srXcp*sy,
		Z: crXcp*sy - srXsp*cy,
		W: crXcp*cy + srXsp*sy,
	}
}

// AngleQuaternionDegrees converts pitch/yaw/roll degrees (X=pitch, Y=yaw,
// Z=roll) to a quaternion.
func AngleQuaternionDegrees(angles Vec3) Quat {
	return AngleQuaternion(Vec3{Deg2Rad(angles.Z), Deg2Rad(angles.X), Deg2Rad(angles.Y)})
}

// Angles converts the quaternion back to radian Euler angles
// (X=roll, Y=pitch, Z=yaw).
func (q Quat) Angles() Vec3 {
	m := QuaternionMatrix(q, Vec3{})
	return m.RadianEuler()
}

// Neg returns -q, which encodes the same rotation.
func (q Quat) Neg() Quat {
	return Quat{-q.X, -q.Y, -q.Z, -q.W}
}

// Scale4 multiplies all four components by s.
func (q Quat) Scale4(s float32) Quat {
	return Quat{q.X * s, q.Y * s, q.Z * s, q.W * s}
}

// Add4 adds component-wise.
func (q Quat) Add4(o Quat) Quat {
	return Quat{q.X + o.X, q.Y + o.Y, q.Z + o.Z, q.W + o.W}
}

// Normalize returns a normalized quaternion.
func (q Quat) Normalize() Quat {
	length := math32.Sqrt(q.Dot(q))
	if length < 1e-6 {
		return QuatIdentity()
	}
	return q.Scale4(1 / length)
}

// Dot returns the dot product of two quaternions.
func (q Quat) Dot(other Quat) float32 {
	return q.X*other.X + q.Y*other.Y + q.Z*other.Z + q.W*other.W
}

// IsFinite reports whether every component is finite.
func (q Quat) IsFinite() bool {
	return IsFinite(q.X) && IsFinite(q.Y) && IsFinite(q.Z) && IsFinite(q.W)
}

// Align returns other or -other, whichever is closer to q.
func (q Quat) Align(other Quat) Quat {
	var a, b float32
	a += (q.X - other.X) * (q.X - other.X)
	a += (q.Y - other.Y) * (q.Y - other.Y)
	a += (q.Z - other.Z) * (q.Z - other.Z)
	a += (q.W - other.W) * (q.W - other.W)
	b += (q.X + other.X) * (q.X + other.X)
	b += (q.Y + other.Y) * (q.Y + other.Y)
	b += (q.Z + other.Z) * (q.Z + other.Z)
	b += (q.W + other.W) * (q.W + other.W)
	if a > b {
		return other.Neg()
	}
	return other
}

// Slerp performs spherical linear interpolation along the shorter arc.
func (q Quat) Slerp(other Quat, t float32) Quat {
	return q.SlerpNoAlign(q.Align(other), t)
}

// SlerpNoAlign interpolates without flipping other onto q's hemisphere.
func (q Quat) SlerpNoAlign(other Quat, t float32) Quat {
	cosom := q.Dot(other)
	if 1+cosom > 1e-6 {
		var sclp, sclq float32
		if 1-cosom > 1e-6 {
			omega := math32.Acos(cosom)
			sinom := math32.Sin(omega)
			sclp = math32.Sin((1-t)*omega) / sinom
			sclq = math32.Sin(t*omega) / sinom
		} else {
			sclp = 1 - t
			sclq = t
		}
		return q.Scale4(sclp).Add4(other.Scale4(sclq))
	}

	// Opposite quaternions: rotate through a perpendicular.
	qt := Quat{X: -other.Y, Y: other.X, Z: -other.W, W: other.Z}
	sclp := math32.Sin((1 - t) * 0.5 * math32.Pi)
	sclq := math32.Sin(t * 0.5 * math32.Pi)
	qt.X = sclp*q.X + sclq*qt.X
	qt.Y = sclp*q.Y + sclq*qt.Y
	qt.Z = sclp*q.Z + sclq*qt.Z
	return qt
}

// Blend linearly mixes q toward other and renormalizes.
func (q Quat) Blend(other Quat, t float32) Quat {
	return q.BlendNoAlign(q.Align(other), t)
}

// BlendNoAlign is Blend without hemisphere alignment.
func (q Quat) BlendNoAlign(other Quat, t float32) Quat {
	return q.Scale4(1 - t).Add4(other.Scale4(t)).Normalize()
}

// IdentityBlend moves q toward the identity rotation by t.
func (q Quat) IdentityBlend(t float32) Quat {
	sclp := 1 - t
	qt := Quat{X: q.X * sclp, Y: q.Y * sclp, Z: q.Z * sclp}
	if q.W < 0 {
		qt.W = q.W*sclp - t
	} else {
		qt.W = q.W*sclp + t
	}
	return qt.Normalize()
}

// ScaleAngle scales the rotation angle of q by t, keeping its axis.
func (q Quat) ScaleAngle(t float32) Quat {
	sinom := math32.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	sinom = math32.Min(sinom, 1)
	sinsom := math32.Sin(math32.Asin(sinom) * t)
	t = sinsom / (sinom + 1.1920929e-07)

	out := Quat{X: q.X * t, Y: q.Y * t, Z: q.Z * t}
	r := 1 - sinsom*sinsom
	if r < 0 {
		r = 0
	}
	r = math32.Sqrt(r)
	if q.W < 0 {
		out.W = -r
	} else {
		out.W = r
	}
	return out
}

// Lerp performs linear interpolation between two quaternions.
// Use Slerp for rotation interpolation; this is for simple blending.
func (q Quat) Lerp(other Quat, t float32) Quat {
	return q.Scale4(1 - t).Add4(other.Scale4(t)).Normalize()
}

// Mul multiplies two quaternions (combines rotations).
func (q Quat) Mul(other Quat) Quat {
	return Quat{
		X: q.W*other.X + q.X*other.W + q.Y*other.Z - q.Z*other.Y,
		Y: q.W*other.Y - q.X*other.Z + q.Y*other.W + q.Z*other.X,
		Z: q.W*other.Z + q.X*other.Y - q.Y*other.X + q.Z*other.W,
		W: q.W*other.W - q.X*other.X - q.Y*other.Y - q.Z*other.Z,
	}
}

// MulAligned multiplies q by other after aligning other to q.
func (q Quat) MulAligned(other Quat) Quat {
	return q.Mul(q.Align(other))
}

// QuaternionSM returns (p scaled by s) * q, normalized. Used to apply an
// additive rotation before an existing one.
func QuaternionSM(s float32, p, q Quat) Quat {
	return p.ScaleAngle(s).MulAligned(q).Normalize()
}

// QuaternionMA returns q * (p scaled by s), normalized. Used to apply an
// additive rotation after an existing one.
func QuaternionMA(q Quat, s float32, p Quat) Quat {
	return q.MulAligned(p.ScaleAngle(s)).Normalize()
}
