package math

import "github.com/chewxy/math32"

// Mat3x4 is a row-major 3x4 affine transform: a 3x3 rotation in columns
// 0..2 and a translation in column 3. The implied fourth row is (0 0 0 1).
type Mat3x4 [3][4]float32

// Identity3x4 returns the identity transform.
func Identity3x4() Mat3x4 {
	return Mat3x4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
}

// QuaternionMatrix builds a transform from a rotation and a translation.
func QuaternionMatrix(q Quat, pos Vec3) Mat3x4 {
	var m Mat3x4
	m[0][0] = 1 - 2*q.Y*q.Y - 2*q.Z*q.Z
	m[1][0] = 2*q.X*q.Y + 2*q.W*q.Z
	m[2][0] = 2*q.X*q.Z - 2*q.W*q.Y

	m[0][1] = 2*q.X*q.Y - 2*q.W*q.Z
	m[1][1] = 1 - 2*q.X*q.X - 2*q.Z*q.Z
	m[2][1] = 2*q.Y*q.Z + 2*q.W*q.X

	m[0][2] = 2*q.X*q.Z + 2*q.W*q.Y
	m[1][2] = 2*q.Y*q.Z - 2*q.W*q.X
	m[2][2] = 1 - 2*q.X*q.X - 2*q.Y*q.Y

	m[0][3], m[1][3], m[2][3] = pos.X, pos.Y, pos.Z
	return m
}

// AngleMatrix builds a transform from pitch/yaw/roll degrees and an origin.
func AngleMatrix(angles, origin Vec3) Mat3x4 {
	return QuaternionMatrix(AngleQuaternionDegrees(angles), origin)
}

// Origin returns the translation column.
func (m Mat3x4) Origin() Vec3 {
	return Vec3{m[0][3], m[1][3], m[2][3]}
}

// SetOrigin replaces the translation column.
func (m *Mat3x4) SetOrigin(v Vec3) {
	m[0][3], m[1][3], m[2][3] = v.X, v.Y, v.Z
}

// Column returns column i.
func (m Mat3x4) Column(i int) Vec3 {
	return Vec3{m[0][i], m[1][i], m[2][i]}
}

// SetColumn replaces column i.
func (m *Mat3x4) SetColumn(i int, v Vec3) {
	m[0][i], m[1][i], m[2][i] = v.X, v.Y, v.Z
}

// Concat returns m * n, i.e. n expressed in m's space.
func (m Mat3x4) Concat(n Mat3x4) Mat3x4 {
	var out Mat3x4
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
		out[i][3] += m[i][3]
	}
	return out
}

// Invert returns the inverse of an orthonormal transform.
func (m Mat3x4) Invert() Mat3x4 {
	var out Mat3x4
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	t := m.Origin()
	out[0][3] = -(m[0][0]*t.X + m[1][0]*t.Y + m[2][0]*t.Z)
	out[1][3] = -(m[0][1]*t.X + m[1][1]*t.Y + m[2][1]*t.Z)
	out[2][3] = -(m[0][2]*t.X + m[1][2]*t.Y + m[2][2]*t.Z)
	return out
}

// Transform applies the full transform to a point.
func (m Mat3x4) Transform(v Vec3) Vec3 {
	return m.Rotate(v).Add(m.Origin())
}

// ITransform applies the inverse transform to a point, assuming m is
// orthonormal.
func (m Mat3x4) ITransform(v Vec3) Vec3 {
	return m.IRotate(v.Sub(m.Origin()))
}

// Rotate applies only the rotation part.
func (m Mat3x4) Rotate(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// IRotate applies the transposed rotation part.
func (m Mat3x4) IRotate(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v.X + m[1][0]*v.Y + m[2][0]*v.Z,
		m[0][1]*v.X + m[1][1]*v.Y + m[2][1]*v.Z,
		m[0][2]*v.X + m[1][2]*v.Y + m[2][2]*v.Z,
	}
}

// Quat extracts the rotation as a quaternion.
func (m Mat3x4) Quat() Quat {
	var q Quat
	trace := m[0][0] + m[1][1] + m[2][2] + 1
	switch {
	case trace > 1e-6:
		s := 2 * math32.Sqrt(trace)
		q.X = (m[2][1] - m[1][2]) / s
		q.Y = (m[0][2] - m[2][0]) / s
		q.Z = (m[1][0] - m[0][1]) / s
		q.W = 0.25 * s
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := 2 * math32.Sqrt(1+m[0][0]-m[1][1]-m[2][2])
		q.X = 0.25 * s
		q.Y = (m[1][0] + m[0][1]) / s
		q.Z = (m[0][2] + m[2][0]) / s
		q.W = (m[2][1] - m[1][2]) / s
	case m[1][1] > m[2][2]:
		s := 2 * math32.Sqrt(1+m[1][1]-m[0][0]-m[2][2])
		q.X = (m[1][0] + m[0][1]) / s
		q.Y = 0.25 * s
		q.Z = (m[2][1] + m[1][2]) / s
		q.W = (m[0][2] - m[2][0]) / s
	default:
		s := 2 * math32.Sqrt(1+m[2][2]-m[0][0]-m[1][1])
		q.X = (m[0][2] + m[2][0]) / s
		q.Y = (m[2][1] + m[1][2]) / s
		q.Z = 0.25 * s
		q.W = (m[1][0] - m[0][1]) / s
	}
	return q.Normalize()
}

// Decompose returns the rotation and translation of m.
func (m Mat3x4) Decompose() (Quat, Vec3) {
	return m.Quat(), m.Origin()
}

// RadianEuler extracts radian Euler angles (X=roll, Y=pitch, Z=yaw).
func (m Mat3x4) RadianEuler() Vec3 {
	forward := m.Column(0)
	left := m.Column(1)
	xyDist := math32.Sqrt(forward.X*forward.X + forward.Y*forward.Y)

	var out Vec3
	out.Y = math32.Atan2(-forward.Z, xyDist)
	if xyDist > 0.001 {
		out.Z = math32.Atan2(forward.Y, forward.X)
		out.X = math32.Atan2(left.Z, m[2][2])
	} else {
		out.Z = math32.Atan2(-left.X, left.Y)
	}
	return out
}

// Mat4 converts to a column-major 4x4 matrix.
func (m Mat3x4) Mat4() Mat4 {
	return Mat4{
		m[0][0], m[1][0], m[2][0], 0,
		m[0][1], m[1][1], m[2][1], 0,
		m[0][2], m[1][2], m[2][2], 0,
		m[0][3], m[1][3], m[2][3], 1,
	}
}

// Scale3 scales the rotation columns by s, leaving the origin alone.
func (m Mat3x4) Scale3(s float32) Mat3x4 {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] *= s
		}
	}
	return m
}
