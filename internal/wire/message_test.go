package wire

import (
	"bytes"
	"testing"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, 'Q', []byte("SELECT 1")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Type != 'Q' {
		t.Errorf("Type = %q, want 'Q'", msg.Type)
	}
	if string(msg.Payload) != "SELECT 1" {
		t.Errorf("Payload = %q", msg.Payload)
	}
}

func TestReadMessageRejectsShortLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte('Q')
	var lenBuf [4]byte
	PutUint32(lenBuf[:], 2) // less than the minimum 4 (the length field itself)
	buf.Write(lenBuf[:])
	if _, err := ReadMessage(&buf); err == nil {
		t.Errorf("expected error for a length field smaller than itself")
	}
}

func TestWriteUntaggedMessageAndStartupMessage(t *testing.T) {
	params := map[string]string{"user": "app", "database": "appdb"}
	payload := StartupMessage(params)

	var buf bytes.Buffer
	if err := WriteUntaggedMessage(&buf, payload); err != nil {
		t.Fatalf("WriteUntaggedMessage: %v", err)
	}

	lenField := Uint32(buf.Bytes()[:4])
	if int(lenField) != buf.Len() {
		t.Errorf("length field %d does not match total message length %d", lenField, buf.Len())
	}

	body := buf.Bytes()[4:]
	version := Uint32(body[:4])
	if version != ProtocolVersion3 {
		t.Errorf("version = %#x, want %#x", version, ProtocolVersion3)
	}
	pairs := ParseNullTerminatedPairs(body[4 : len(body)-1])
	for k, v := range params {
		if pairs[k] != v {
			t.Errorf("pairs[%q] = %q, want %q", k, pairs[k], v)
		}
	}
	if body[len(body)-1] != 0 {
		t.Errorf("startup message must be terminated by an extra NUL")
	}
}

func TestParseFields(t *testing.T) {
	payload := append([]byte{}, 'S')
	payload = append(payload, "ERROR"...)
	payload = append(payload, 0)
	payload = append(payload, 'C')
	payload = append(payload, "42601"...)
	payload = append(payload, 0)
	payload = append(payload, 'M')
	payload = append(payload, "syntax error"...)
	payload = append(payload, 0)
	payload = append(payload, 0) // terminator

	fields := ParseFields(payload)
	if fields['S'] != "ERROR" || fields['C'] != "42601" || fields['M'] != "syntax error" {
		t.Errorf("fields = %v", fields)
	}
}

func TestCancelRequestPayload(t *testing.T) {
	payload := CancelRequestPayload(1234, 5678)
	if len(payload) != 12 {
		t.Fatalf("len(payload) = %d, want 12", len(payload))
	}
	if Uint32(payload[0:4]) != CancelRequestCode {
		t.Errorf("magic code mismatch")
	}
	if Uint32(payload[4:8]) != 1234 {
		t.Errorf("pid = %d, want 1234", Uint32(payload[4:8]))
	}
	if Uint32(payload[8:12]) != 5678 {
		t.Errorf("secret key = %d, want 5678", Uint32(payload[8:12]))
	}
}
