package math

import "testing"

func TestIdentity(t *testing.T) {
	m := Identity()
	if m[0] != 1 || m[5] != 1 || m[10] != 1 || m[15] != 1 {
		t.Error("Identity diagonal should be 1")
	}
	if m[1] != 0 || m[4] != 0 {
		t.Error("Identity off-diagonal should be 0")
	}
}

func TestMulIdentity(t *testing.T) {
	m := Translate(1, 2, 3)
	result := m.Mul(Identity())
	for i := 0; i < 16; i++ {
		if result[i] != m[i] {
			t.Errorf("M * I should equal M, element %d: got %f, want %f", i, result[i], m[i])
		}
	}
}

func TestTranslate(t *testing.T) {
	m := Translate(5, 10, 15)
	got := m.TransformVec3(Vec3{1, 2, 3})
	want := Vec3{6, 12, 18}
	if got != want {
		t.Errorf("TransformVec3: got %v, want %v", got, want)
	}
}

func TestMat3x4ToMat4(t *testing.T) {
	q := AngleQuaternionDegrees(Vec3{0, 90, 0})
	m := QuaternionMatrix(q, Vec3{1, 2, 3})

	p := Vec3{1, 0, 0}
	a := m.Transform(p)
	b := m.Mat4().TransformVec3(p)
	if !vecNear(a, b, 1e-5) {
		t.Errorf("Mat4 transform = %v, Mat3x4 transform = %v", b, a)
	}

	f := m.Mat4().Float64()
	if f[15] != 1 || f[12] != 1 || f[13] != 2 || f[14] != 3 {
		t.Errorf("Float64 translation row = %v", f[12:])
	}
}
