package studio

import "go.uber.org/zap"

// Describe converts a parsed model into its in-memory form. Sectioned and
// block-stored clips are flattened, legacy shared groups are inlined and
// every curve is decoded to raw per-frame values, so Encode can write the
// result in either layout.
func Describe(h *Header) *Model {
	m := &Model{
		Name:          h.Name,
		Version:       h.Version,
		Checksum:      h.Checksum,
		EyePosition:   h.EyePosition,
		IllumPosition: h.IllumPosition,
		HullMin:       h.HullMin,
		HullMax:       h.HullMax,
		ViewBBMin:     h.ViewBBMin,
		ViewBBMax:     h.ViewBBMax,
		Flags:         h.Flags,
		Mass:          h.Mass,
		Contents:      h.Contents,
		SurfaceProp:   h.SurfaceProp,
		KeyValues:     h.KeyValues,

		Bones:         append([]Bone(nil), h.bones...),
		Controllers:   append([]BoneController(nil), h.controllers...),
		HitboxSets:    append([]HitboxSet(nil), h.hitboxSets...),
		Sequences:     append([]SeqDesc(nil), h.seqs...),
		Textures:      append([]Texture(nil), h.textures...),
		Attachments:   append([]Attachment(nil), h.attachments...),
		FlexDescs:     append([]string(nil), h.flexDescs...),
		IKChains:      append([]IKChain(nil), h.ikChains...),
		PoseParams:    append([]PoseParam(nil), h.poseParams...),
		AutoplayLocks: append([]IKLock(nil), h.autoplayLocks...),
	}
	if h.header2 != nil {
		h2 := *h.header2
		m.Header2 = &h2
	}

	m.Animations = make([]Animation, len(h.anims))
	for i := range h.anims {
		a := h.Anim(i)
		if a == nil {
			h.log.Warn("animation data unavailable, describing without tracks",
				zap.Int("anim", i), zap.String("name", h.anims[i].Name))
			a = &h.anims[i]
		}
		m.Animations[i] = describeAnim(h, a)
	}
	return m
}

func describeAnim(h *Header, a *AnimDesc) Animation {
	out := Animation{AnimDesc: AnimDesc{
		Name:      a.Name,
		FPS:       a.FPS,
		Flags:     a.Flags,
		NumFrames: a.NumFrames,
		BBMin:     a.BBMin,
		BBMax:     a.BBMax,
		Movements: append([]Movement(nil), a.Movements...),
	}}

	for _, r := range a.IKRules {
		n := a.NumFrames - r.IStart
		if r.errOff != 0 {
			for k := 0; k < n && r.src.ok(r.errOff+k*sizeIKError, sizeIKError); k++ {
				off := r.errOff + k*sizeIKError
				r.Errors = append(r.Errors, IKError{Pos: r.src.vec3(off), Q: r.src.quat(off + 12)})
			}
		}
		if r.compOff != 0 {
			r.CompressedError = readCompressed(r.src, r.compOff, n)
		}
		r.src, r.errOff, r.compOff = view{}, 0, 0
		out.IKRules = append(out.IKRules, r)
	}
	for _, l := range a.LocalHierarchy {
		if l.animOff != 0 {
			l.Anim = readCompressed(l.src, l.animOff, a.NumFrames-l.IStart)
		}
		l.src, l.animOff = view{}, 0
		out.LocalHierarchy = append(out.LocalHierarchy, l)
	}

	index := make(map[int]int)
	for f := 0; f < a.NumFrames; f++ {
		c, local, ok := h.OpenAnim(a, f)
		if !ok {
			continue
		}
		for b := 0; b < a.numBones; b++ {
			t, ok := c.Seek(b)
			if !ok {
				continue
			}
			i, seen := index[b]
			if !seen {
				i = len(out.Tracks)
				index[b] = i
				out.Tracks = append(out.Tracks, t.describe(b, a.NumFrames))
			}
			t.sample(&out.Tracks[i], f, local)
		}
	}
	return out
}

// describe picks encodings for a track and captures its constant data.
func (t Track) describe(bone, frames int) BoneTrack {
	bt := BoneTrack{Bone: bone, Delta: t.Delta()}
	var rot, pos [3]int
	if t.legacy {
		rot, pos = t.legacyPtrs(3), t.legacyPtrs(0)
		if rot != [3]int{} {
			bt.Rot = RotAnim
		}
		if pos != [3]int{} {
			bt.Pos = PosAnim
		}
	} else {
		switch {
		case t.flags&TrackRawRot != 0:
			bt.Rot, bt.Quat = RotQuat48, quat48(t.v, t.off+4)
		case t.flags&TrackRawRot2 != 0:
			bt.Rot, bt.Quat = RotQuat64, quat64(t.v, t.off+4)
		case t.flags&TrackAnimRot != 0:
			bt.Rot = RotAnim
			rot = t.valuePtr(t.off + 4)
		}
		switch {
		case t.flags&TrackRawPos != 0:
			bt.Pos, bt.Vec = PosVector48, vector48(t.v, t.posOffset())
		case t.flags&TrackAnimPos != 0:
			bt.Pos = PosAnim
			pos = t.valuePtr(t.posOffset())
		}
	}
	for i := 0; i < 3; i++ {
		if bt.Rot == RotAnim && rot[i] != 0 {
			bt.RotFrames[i] = make([]int16, frames)
		}
		if bt.Pos == PosAnim && pos[i] != 0 {
			bt.PosFrames[i] = make([]int16, frames)
		}
	}
	return bt
}

// sample stores the raw channel values of frame, found at local within
// the open section.
func (t Track) sample(bt *BoneTrack, frame, local int) {
	var rot, pos [3]int
	switch {
	case t.legacy:
		rot, pos = t.legacyPtrs(3), t.legacyPtrs(0)
	default:
		if t.flags&TrackAnimRot != 0 {
			rot = t.valuePtr(t.off + 4)
		}
		if t.flags&TrackAnimPos != 0 {
			pos = t.valuePtr(t.posOffset())
		}
	}
	for i := 0; i < 3; i++ {
		if ch := bt.RotFrames[i]; ch != nil && rot[i] != 0 {
			x, _ := extractAnimValue(t.v, rot[i], local, 1)
			ch[frame] = int16(x)
		}
		if ch := bt.PosFrames[i]; ch != nil && pos[i] != 0 {
			x, _ := extractAnimValue(t.v, pos[i], local, 1)
			ch[frame] = int16(x)
		}
	}
}
