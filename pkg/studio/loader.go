package studio

import (
	"fmt"

	"go.uber.org/zap"
)

// Loader reads files referenced by a model: legacy shared animation
// groups and modern animation block files.
type Loader interface {
	ReadFile(name string) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(name string) ([]byte, error)

func (f LoaderFunc) ReadFile(name string) ([]byte, error) { return f(name) }

// LoadSharedModel reads and parses another model through the header's
// loader, inheriting its options.
func (h *Header) LoadSharedModel(name string) (*Header, error) {
	data, err := h.readFile(name)
	if err != nil {
		return nil, err
	}
	return Parse(data, WithLogger(h.log), WithLoader(h.loader), WithMaxSharedSize(h.maxShared))
}

func (h *Header) readFile(name string) ([]byte, error) {
	if h.loader == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNoLoader)
	}
	data, err := h.loader.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(data) > h.maxShared {
		return nil, fmt.Errorf("%s is %d bytes: %w", name, len(data), ErrSharedTooLarge)
	}
	return data, nil
}

// sharedGroup returns the parsed model of a legacy sequence group. Load
// failures are logged once and remembered.
func (h *Header) sharedGroup(group int) *Header {
	if group <= 0 || group >= len(h.seqGroups) {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if shared, ok := h.shared[group]; ok {
		return shared
	}
	if h.shared == nil {
		h.shared = make(map[int]*Header)
	}
	shared, err := h.LoadSharedModel(h.seqGroups[group].Name)
	if err != nil {
		h.log.Warn("shared animation group unavailable",
			zap.Int("group", group), zap.String("file", h.seqGroups[group].Name), zap.Error(err))
		shared = nil
	}
	h.shared[group] = shared
	return shared
}

// animBlock returns the bytes of block i of the animation block file.
func (h *Header) animBlock(i int) []byte {
	if i <= 0 || i >= len(h.animBlocks) {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.blockLoaded {
		h.blockLoaded = true
		data, err := h.readFile(h.AnimBlockName)
		if err != nil {
			h.log.Warn("animation block file unavailable",
				zap.String("file", h.AnimBlockName), zap.Error(err))
		}
		h.blockData = data
	}
	b := h.animBlocks[i]
	if b.start < 0 || b.start > b.end || b.end > len(h.blockData) {
		return nil
	}
	return h.blockData[b.start:b.end]
}

// OpenAnim positions a cursor on the track list holding frame of a. The
// returned frame is relative to the section that was opened. ok is false
// when the data is not available.
func (h *Header) OpenAnim(a *AnimDesc, frame int) (c Cursor, local int, ok bool) {
	if a == nil || a.NumFrames <= 0 {
		return Cursor{}, 0, false
	}
	if a.legacy {
		c = Cursor{v: a.src, off: a.base + a.animIndex, legacy: true, delta: a.Delta(), numBones: a.numBones}
		return c, frame, a.animIndex != 0
	}
	block, index, local := a.section(frame)
	switch {
	case block < 0:
		return Cursor{}, 0, false
	case block == 0:
		return Cursor{v: a.src, off: a.base + index}, local, true
	}
	data := h.animBlock(block)
	if data == nil {
		return Cursor{}, 0, false
	}
	return Cursor{v: view{b: data}, off: index}, local, true
}
