// Package export writes posed skeletons as glTF node hierarchies.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/studiobones/pkg/bone"
	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// zUpToYUp rotates -90 degrees about X, taking studio Z-up into glTF Y-up.
var zUpToYUp = math.Quat{X: -0.70710677, W: 0.70710677}

type options struct {
	scale       float32
	yUp         bool
	inverseBind bool
	attachments bool
}

// Option configures Skeleton.
type Option func(*options)

// WithScale multiplies every translation by s. Studio units are inches;
// 0.0254 yields metres.
func WithScale(s float32) Option {
	return func(o *options) { o.scale = s }
}

// WithYUp controls the Z-up to Y-up rotation on the root node.
func WithYUp(enabled bool) Option {
	return func(o *options) { o.yUp = enabled }
}

// WithInverseBind controls whether the skin carries inverse bind matrices
// computed from the exported pose.
func WithInverseBind(enabled bool) Option {
	return func(o *options) { o.inverseBind = enabled }
}

// WithAttachments adds one child node per attachment under its bone.
func WithAttachments(enabled bool) Option {
	return func(o *options) { o.attachments = enabled }
}

// Skeleton builds a glTF document with a root node named after the model
// and one node per bone carrying p's local transform. A nil p exports the
// bind pose. The skin lists every bone node as a joint, in bone order.
func Skeleton(h *studio.Header, p *bone.Pose, opts ...Option) *gltf.Document {
	o := options{scale: 1, yUp: true, inverseBind: true}
	for _, opt := range opts {
		opt(&o)
	}

	n := h.NumBones()
	pose := scaledPose(h, p, o.scale)

	doc := gltf.NewDocument()
	root := &gltf.Node{
		Name:     rootName(h),
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	}
	world := math.Identity3x4()
	if o.yUp {
		root.Rotation = quat32(zUpToYUp)
		world = math.QuaternionMatrix(zUpToYUp, math.Vec3{})
	}
	doc.Nodes = append(doc.Nodes, root)
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	const first = 1
	joints := make([]uint32, n)
	for i := 0; i < n; i++ {
		joints[i] = uint32(first + i)
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:        h.BoneName(i),
			Translation: vec32(pose.Pos[i]),
			Rotation:    quat32(pose.Q[i]),
			Scale:       [3]float32{1, 1, 1},
		})
	}
	for i := 0; i < n; i++ {
		parent := root
		if pi := h.BoneParent(i); pi >= 0 {
			parent = doc.Nodes[first+pi]
		}
		parent.Children = append(parent.Children, joints[i])
	}

	if o.attachments {
		for i := 0; i < h.NumAttachments(); i++ {
			att := h.Attachment(i)
			parent := root
			if att.Bone >= 0 && att.Bone < n {
				parent = doc.Nodes[first+att.Bone]
			}
			q, pos := att.Local.Decompose()
			parent.Children = append(parent.Children, uint32(len(doc.Nodes)))
			doc.Nodes = append(doc.Nodes, &gltf.Node{
				Name:        att.Name,
				Translation: vec32(pos.Scale(o.scale)),
				Rotation:    quat32(q),
				Scale:       [3]float32{1, 1, 1},
			})
		}
	}

	if n == 0 {
		return doc
	}
	skin := &gltf.Skin{
		Name:     rootName(h),
		Skeleton: gltf.Index(0),
		Joints:   joints,
	}
	if o.inverseBind {
		skin.InverseBindMatrices = gltf.Index(addMatrices(doc, inverseBindMatrices(h, pose, world)))
	}
	doc.Skins = append(doc.Skins, skin)
	return doc
}

func rootName(h *studio.Header) string {
	name := strings.TrimSuffix(filepath.Base(strings.ReplaceAll(h.Name, "\\", "/")), ".mdl")
	if name == "" || name == "." {
		return "model"
	}
	return name
}

// scaledPose returns a copy of p, or of the bind pose when p is nil, with
// translations multiplied by s.
func scaledPose(h *studio.Header, p *bone.Pose, s float32) *bone.Pose {
	n := h.NumBones()
	out := bone.NewPose(n)
	for i := 0; i < n; i++ {
		if p != nil && i < p.Len() {
			out.Pos[i], out.Q[i] = p.Pos[i], p.Q[i]
		} else {
			b := h.Bone(i)
			out.Pos[i], out.Q[i] = b.Pos, b.Quat
		}
		out.Pos[i] = out.Pos[i].Scale(s)
	}
	return out
}

// inverseBindMatrices inverts each bone's world transform under world, in
// glTF's column-major layout.
func inverseBindMatrices(h *studio.Header, p *bone.Pose, world math.Mat3x4) [][4][4]float32 {
	n := h.NumBones()
	bones := make([]math.Mat3x4, n)
	for _, i := range h.BoneOrder() {
		local := math.QuaternionMatrix(p.Q[i], p.Pos[i])
		if pi := h.BoneParent(i); pi >= 0 {
			bones[i] = bones[pi].Concat(local)
		} else {
			bones[i] = world.Concat(local)
		}
	}
	out := make([][4][4]float32, n)
	for i, m := range bones {
		inv := m.Invert().Mat4()
		for c := 0; c < 4; c++ {
			copy(out[i][c][:], inv[c*4:c*4+4])
		}
	}
	return out
}

// addMatrices writes mats into the document's buffer and returns the
// accessor index.
func addMatrices(doc *gltf.Document, mats [][4][4]float32) uint32 {
	acc := modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, mats)
	if view := doc.Accessors[acc].BufferView; view != nil {
		doc.BufferViews[*view].Target = 0
	}
	return acc
}

func vec32(v math.Vec3) [3]float32 {
	return [3]float32{v.X, v.Y, v.Z}
}

func quat32(q math.Quat) [4]float32 {
	q = q.Normalize()
	return [4]float32{q.X, q.Y, q.Z, q.W}
}

// Encode writes doc to w, as GLB when binary is set.
func Encode(w io.Writer, doc *gltf.Document, binary bool) error {
	if !binary {
		for _, b := range doc.Buffers {
			if b.URI == "" && len(b.Data) > 0 {
				b.EmbeddedResource()
			}
		}
	}
	e := gltf.NewEncoder(w)
	e.AsBinary = binary
	if err := e.Encode(doc); err != nil {
		return fmt.Errorf("encode gltf: %w", err)
	}
	return nil
}

// WriteFile writes doc to path. A .glb extension selects the binary
// container; anything else writes JSON with embedded buffers.
func WriteFile(path string, doc *gltf.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	binary := strings.EqualFold(filepath.Ext(path), ".glb")
	if err := Encode(f, doc, binary); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
