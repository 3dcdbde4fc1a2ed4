// Package wire implements PostgreSQL wire protocol v3 framing and the
// client-side authentication handshakes (cleartext, MD5, SCRAM-SHA-256).
package wire

import "encoding/binary"

// PutUint32/Uint32 are the sole entry points for big-endian conversions
// used throughout the codec, matching the protocol's requirement that all
// multi-byte lengths, OIDs, type sizes, and modifiers are big-endian on the
// wire.
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func Uint32(b []byte) uint32       { return binary.BigEndian.Uint32(b) }

func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func Uint16(b []byte) uint16       { return binary.BigEndian.Uint16(b) }

func PutInt32(b []byte, v int32) { binary.BigEndian.PutUint32(b, uint32(v)) }
func Int32(b []byte) int32       { return int32(binary.BigEndian.Uint32(b)) }

func PutInt16(b []byte, v int16) { binary.BigEndian.PutUint16(b, uint16(v)) }
func Int16(b []byte) int16       { return int16(binary.BigEndian.Uint16(b)) }

// ProtocolVersion3 is the wire value 0x00030000 (major 3, minor 0) sent as
// the first 4 bytes of a StartupMessage.
const ProtocolVersion3 uint32 = 3 << 16
