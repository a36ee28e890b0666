// Package encoding provides text encoding utilities for studio model and
// pak file names, which are stored as Windows-1252 byte strings.
package encoding

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// CP1252ToUTF8 converts Windows-1252 encoded bytes to a UTF-8 string.
// Pure ASCII input is returned without going through the decoder.
func CP1252ToUTF8(data []byte) string {
	if isASCII(data) {
		return string(data)
	}
	result, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// UTF8ToCP1252 converts a UTF-8 string to Windows-1252 bytes.
// Runes with no Windows-1252 mapping are replaced with '?'.
func UTF8ToCP1252(s string) []byte {
	if isASCII([]byte(s)) {
		return []byte(s)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

// CString decodes a NUL-terminated Windows-1252 string starting at data[0].
// A missing terminator takes the whole slice.
func CString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return CP1252ToUTF8(data)
}

// FixedStringToUTF8 converts a fixed-size, NUL-padded field.
func FixedStringToUTF8(data []byte) string {
	return CString(data)
}

// UTF8ToFixedString encodes s into a NUL-padded field of the given size,
// truncating so that at least one terminator remains.
func UTF8ToFixedString(s string, size int) []byte {
	result := make([]byte, size)
	encoded := UTF8ToCP1252(s)
	if len(encoded) >= size {
		encoded = encoded[:size-1]
	}
	copy(result, encoded)
	return result
}

// NormalizePath normalizes an asset path for case-insensitive lookup.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	return strings.ToLower(path)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
