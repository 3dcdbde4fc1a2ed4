package pgfe

import (
	"bytes"
	"encoding/hex"
)

// Format tags the wire representation of a Data value.
type Format int

const (
	// FormatText marks a NUL-terminated textual representation.
	FormatText Format = iota
	// FormatBinary marks an arbitrary-octet binary representation.
	FormatBinary
)

func (f Format) String() string {
	if f == FormatBinary {
		return "binary"
	}
	return "text"
}

// Data is an opaque byte container tagged with its wire format. It never
// silently promotes a borrowed view into an owned copy; callers that need
// to prolong a borrowed Data's lifetime must call Clone explicitly.
//
// A nil Data value (as returned from accessors) represents SQL NULL.
type Data interface {
	// Bytes returns the raw octets. For FormatText data the trailing NUL
	// is not included. The returned slice must not be mutated.
	Bytes() []byte
	// Size returns len(Bytes()).
	Size() int
	// Format reports whether the value is text or binary.
	Format() Format
	// Owned reports whether this Data owns its backing buffer (true) or
	// merely borrows a view into a frame owned by someone else (false).
	Owned() bool
	// Clone returns an owned, independent copy of the value.
	Clone() Data
}

type ownedData struct {
	b []byte
	f Format
}

type borrowedData struct {
	b []byte
	f Format
}

// NewTextData constructs an owned, text-format Data from a string.
func NewTextData(s string) Data {
	b := make([]byte, len(s))
	copy(b, s)
	return &ownedData{b: b, f: FormatText}
}

// NewBinaryData constructs an owned, binary-format Data from raw bytes.
func NewBinaryData(b []byte) Data {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &ownedData{b: cp, f: FormatBinary}
}

// borrowData wraps a slice owned by a protocol read buffer without copying.
// The caller must guarantee the backing array outlives the returned Data,
// or call Clone to detach it.
func borrowData(b []byte, f Format) Data {
	return &borrowedData{b: b, f: f}
}

func (d *ownedData) Bytes() []byte  { return d.b }
func (d *ownedData) Size() int      { return len(d.b) }
func (d *ownedData) Format() Format { return d.f }
func (d *ownedData) Owned() bool    { return true }
func (d *ownedData) Clone() Data {
	cp := make([]byte, len(d.b))
	copy(cp, d.b)
	return &ownedData{b: cp, f: d.f}
}

func (d *borrowedData) Bytes() []byte  { return d.b }
func (d *borrowedData) Size() int      { return len(d.b) }
func (d *borrowedData) Format() Format { return d.f }
func (d *borrowedData) Owned() bool    { return false }
func (d *borrowedData) Clone() Data {
	cp := make([]byte, len(d.b))
	copy(cp, d.b)
	return &ownedData{b: cp, f: d.f}
}

// DataEqual compares two Data values (including NULL, represented as nil)
// by format and content.
func DataEqual(a, b Data) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Format() == b.Format() && bytes.Equal(a.Bytes(), b.Bytes())
}

// ToHex renders a binary Data value (conventionally of PostgreSQL type
// bytea) as a "\x"-prefixed hex string, the textual bytea representation.
func ToHex(d Data) string {
	if d == nil {
		return ""
	}
	return "\\x" + hex.EncodeToString(d.Bytes())
}

// FromHex parses a "\x"-prefixed (or bare) hex string into an owned binary
// Data value, the inverse of ToHex.
func FromHex(s string) (Data, error) {
	s = bytesTrimHexPrefix(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, wrapClientError(ErrInvalidArgument, "invalid hex string", err)
	}
	return &ownedData{b: b, f: FormatBinary}, nil
}

func bytesTrimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '\\' && s[1] == 'x' {
		return s[2:]
	}
	return s
}
