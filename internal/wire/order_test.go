package wire

import "testing"

func TestBigEndianRoundTrips(t *testing.T) {
	var b32 [4]byte
	PutUint32(b32[:], 0xdeadbeef)
	if Uint32(b32[:]) != 0xdeadbeef {
		t.Errorf("Uint32 round trip failed")
	}
	if b32[0] != 0xde || b32[3] != 0xef {
		t.Errorf("PutUint32 is not big-endian: %v", b32)
	}

	var b16 [2]byte
	PutUint16(b16[:], 0xbeef)
	if Uint16(b16[:]) != 0xbeef {
		t.Errorf("Uint16 round trip failed")
	}

	var i32 [4]byte
	PutInt32(i32[:], -1)
	if Int32(i32[:]) != -1 {
		t.Errorf("Int32 round trip failed")
	}

	var i16 [2]byte
	PutInt16(i16[:], -1)
	if Int16(i16[:]) != -1 {
		t.Errorf("Int16 round trip failed")
	}
}

func TestProtocolVersion3(t *testing.T) {
	if ProtocolVersion3 != 0x00030000 {
		t.Errorf("ProtocolVersion3 = %#x, want 0x00030000", ProtocolVersion3)
	}
}
