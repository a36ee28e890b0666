// Package vpk provides reading functionality for Valve pak (VPK) archives.
//
// A VPK is a directory file ("name_dir.vpk") holding the file tree and
// optionally file data, plus numbered data archives ("name_000.vpk", ...)
// next to it. Versions 1 and 2 are supported.
package vpk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	signature = 0x55aa1234

	headerSizeV1 = 12
	headerSizeV2 = 28

	// dirArchive marks entries whose data follows the tree in the
	// directory file itself.
	dirArchive = 0x7fff

	entryTerminator = 0xffff
)

var (
	ErrInvalidSignature   = errors.New("invalid VPK signature")
	ErrUnsupportedVersion = errors.New("unsupported VPK version")
	ErrTruncated          = errors.New("VPK tree truncated")
	ErrFileNotFound       = errors.New("file not found")
	ErrChecksum           = errors.New("VPK entry checksum mismatch")
)

// Archive represents an opened VPK archive.
type Archive struct {
	file      *os.File
	base      string
	header    Header
	dataStart int64
	fileList  map[string]*Entry

	mu    sync.Mutex
	parts map[uint16]*os.File
}

// Header contains VPK header information. The section sizes are zero for
// version 1 archives.
type Header struct {
	Signature      uint32
	Version        uint32
	TreeSize       uint32
	FileDataSize   uint32
	ArchiveMD5Size uint32
	OtherMD5Size   uint32
	SignatureSize  uint32
}

// Entry represents a file entry in the archive.
type Entry struct {
	Name         string
	CRC          uint32
	Preload      []byte
	ArchiveIndex uint16
	Offset       uint32
	Length       uint32
}

// Size returns the total file size.
func (e *Entry) Size() int { return len(e.Preload) + int(e.Length) }

// Open opens a VPK directory file for reading.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	archive := &Archive{
		file:     file,
		base:     strings.TrimSuffix(path, "_dir.vpk"),
		fileList: make(map[string]*Entry),
		parts:    make(map[uint16]*os.File),
	}

	if err := archive.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading header: %w", err)
	}

	if err := archive.readTree(); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading tree: %w", err)
	}

	return archive, nil
}

// Close closes the directory file and every opened data archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var first error
	for idx, f := range a.parts {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(a.parts, idx)
	}
	if a.file != nil {
		if err := a.file.Close(); err != nil && first == nil {
			first = err
		}
		a.file = nil
	}
	return first
}

// Header returns the archive header.
func (a *Archive) Header() Header { return a.header }

func (a *Archive) readHeader() error {
	var buf [headerSizeV2]byte
	n, err := a.file.ReadAt(buf[:], 0)
	if n < headerSizeV1 {
		if err == nil || err == io.EOF {
			err = ErrTruncated
		}
		return err
	}

	le := binary.LittleEndian
	a.header.Signature = le.Uint32(buf[0:])
	a.header.Version = le.Uint32(buf[4:])
	a.header.TreeSize = le.Uint32(buf[8:])
	if a.header.Signature != signature {
		return ErrInvalidSignature
	}

	switch a.header.Version {
	case 1:
		a.dataStart = headerSizeV1
	case 2:
		if n < headerSizeV2 {
			return ErrTruncated
		}
		a.header.FileDataSize = le.Uint32(buf[12:])
		a.header.ArchiveMD5Size = le.Uint32(buf[16:])
		a.header.OtherMD5Size = le.Uint32(buf[20:])
		a.header.SignatureSize = le.Uint32(buf[24:])
		a.dataStart = headerSizeV2
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, a.header.Version)
	}
	return nil
}

func (a *Archive) readTree() error {
	tree := make([]byte, a.header.TreeSize)
	if _, err := a.file.ReadAt(tree, a.dataStart); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	entries, err := parseTree(tree)
	if err != nil {
		return err
	}
	for _, e := range entries {
		a.fileList[e.Name] = e
	}
	a.dataStart += int64(a.header.TreeSize)
	return nil
}

// treeReader walks the null-terminated strings and fixed records of a
// directory tree.
type treeReader struct {
	data []byte
	pos  int
}

func (r *treeReader) str() (string, error) {
	end := bytes.IndexByte(r.data[r.pos:], 0)
	if end < 0 {
		return "", ErrTruncated
	}
	s := string(r.data[r.pos : r.pos+end])
	r.pos += end + 1
	return s, nil
}

func (r *treeReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// parseTree decodes the extension/path/name hierarchy of a directory
// tree. A single space stands for an empty path or extension.
func parseTree(tree []byte) ([]*Entry, error) {
	r := &treeReader{data: tree}
	var entries []*Entry
	for {
		ext, err := r.str()
		if err != nil {
			return nil, err
		}
		if ext == "" {
			return entries, nil
		}
		for {
			dir, err := r.str()
			if err != nil {
				return nil, err
			}
			if dir == "" {
				break
			}
			for {
				name, err := r.str()
				if err != nil {
					return nil, err
				}
				if name == "" {
					break
				}
				e, err := r.entry(joinName(dir, name, ext))
				if err != nil {
					return nil, fmt.Errorf("entry %s: %w", name, err)
				}
				entries = append(entries, e)
			}
		}
	}
}

func (r *treeReader) entry(name string) (*Entry, error) {
	rec, err := r.take(18)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	e := &Entry{
		Name:         name,
		CRC:          le.Uint32(rec[0:]),
		ArchiveIndex: le.Uint16(rec[6:]),
		Offset:       le.Uint32(rec[8:]),
		Length:       le.Uint32(rec[12:]),
	}
	if term := le.Uint16(rec[16:]); term != entryTerminator {
		return nil, fmt.Errorf("bad entry terminator 0x%04x", term)
	}
	if n := int(le.Uint16(rec[4:])); n > 0 {
		pre, err := r.take(n)
		if err != nil {
			return nil, err
		}
		e.Preload = append([]byte(nil), pre...)
	}
	return e, nil
}

func joinName(dir, name, ext string) string {
	full := name
	if ext != " " {
		full += "." + ext
	}
	if dir != " " {
		full = dir + "/" + full
	}
	return normalizePath(full)
}

// List returns all file paths in the archive, sorted.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.fileList))
	for path := range a.fileList {
		result = append(result, path)
	}
	sort.Strings(result)
	return result
}

// Contains checks if a file exists.
func (a *Archive) Contains(path string) bool {
	_, ok := a.fileList[normalizePath(path)]
	return ok
}

// Entry returns the directory entry of path.
func (a *Archive) Entry(path string) (*Entry, bool) {
	e, ok := a.fileList[normalizePath(path)]
	return e, ok
}

// Read reads a file from the archive and verifies its CRC32.
func (a *Archive) Read(path string) ([]byte, error) {
	entry, ok := a.fileList[normalizePath(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	data := make([]byte, entry.Size())
	copy(data, entry.Preload)
	if entry.Length > 0 {
		src, off, err := a.source(entry)
		if err != nil {
			return nil, err
		}
		if _, err := src.ReadAt(data[len(entry.Preload):], off); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if crc32.ChecksumIEEE(data) != entry.CRC {
		return nil, fmt.Errorf("%w: %s", ErrChecksum, path)
	}
	return data, nil
}

// source returns the file holding entry's data and the data's offset in it.
func (a *Archive) source(entry *Entry) (io.ReaderAt, int64, error) {
	if entry.ArchiveIndex == dirArchive {
		return a.file, a.dataStart + int64(entry.Offset), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.parts[entry.ArchiveIndex]; ok {
		return f, int64(entry.Offset), nil
	}
	name := fmt.Sprintf("%s_%03d.vpk", a.base, entry.ArchiveIndex)
	f, err := os.Open(name)
	if err != nil {
		return nil, 0, fmt.Errorf("opening data archive %s: %w", filepath.Base(name), err)
	}
	a.parts[entry.ArchiveIndex] = f
	return f, int64(entry.Offset), nil
}

func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "/")
	return strings.ToLower(path)
}
