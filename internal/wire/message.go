package wire

import (
	"fmt"
	"io"
)

// Backend message type tags (1-byte, per the wire protocol).
const (
	BackendAuthentication       = 'R'
	BackendParameterStatus      = 'S'
	BackendBackendKeyData       = 'K'
	BackendReadyForQuery        = 'Z'
	BackendParseComplete        = '1'
	BackendBindComplete         = '2'
	BackendCloseComplete        = '3'
	BackendNoData               = 'n'
	BackendRowDescription       = 'T'
	BackendDataRow              = 'D'
	BackendCommandComplete      = 'C'
	BackendEmptyQueryResponse   = 'I'
	BackendErrorResponse        = 'E'
	BackendNoticeResponse       = 'N'
	BackendNotificationResponse = 'A'
	BackendPortalSuspended      = 's'
	BackendParameterDescription = 't'
	BackendCopyData             = 'd'
	BackendCopyDone             = 'c'
	BackendCopyInResponse       = 'G'
	BackendCopyOutResponse      = 'H'
	BackendFunctionCallResponse = 'V'
)

// Frontend message type tags. Startup/SSLRequest/CancelRequest carry no
// leading type byte; all others do.
const (
	FrontendParse           = 'P'
	FrontendBind            = 'B'
	FrontendDescribe        = 'D'
	FrontendExecute         = 'E'
	FrontendSync            = 'S'
	FrontendQuery           = 'Q'
	FrontendClose           = 'C'
	FrontendTerminate       = 'X'
	FrontendPasswordMessage = 'p'
	FrontendCopyData        = 'd'
	FrontendCopyDone        = 'c'
	FrontendCopyFail        = 'f'
	FrontendFunctionCall    = 'F'
	FrontendFlush           = 'H'
)

// Message is a decoded backend message: its type tag and payload (the bytes
// following the 4-byte length field).
type Message struct {
	Type    byte
	Payload []byte
}

// ReadMessage reads one length-prefixed backend message: 1-byte type tag,
// 4-byte big-endian length (inclusive of itself), then length-4 payload
// bytes.
func ReadMessage(r io.Reader) (Message, error) {
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Message{}, fmt.Errorf("reading message header: %w", err)
	}
	length := Uint32(head[1:5])
	if length < 4 {
		return Message{}, fmt.Errorf("invalid message length %d", length)
	}
	payload := make([]byte, length-4)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("reading message payload: %w", err)
		}
	}
	return Message{Type: head[0], Payload: payload}, nil
}

// WriteMessage writes a length-prefixed frontend message with the given
// type tag and payload.
func WriteMessage(w io.Writer, typ byte, payload []byte) error {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = typ
	PutUint32(buf[1:5], uint32(len(payload)+4))
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// WriteUntaggedMessage writes a message with no leading type byte (used for
// StartupMessage, SSLRequest, CancelRequest): 4-byte length then payload.
func WriteUntaggedMessage(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	PutUint32(buf[:4], uint32(len(payload)+4))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// StartupMessage builds the StartupMessage payload (following the 4-byte
// length it is wrapped in by WriteUntaggedMessage): protocol version,
// null-terminated key/value pairs, terminated by an extra NUL.
func StartupMessage(params map[string]string) []byte {
	var buf []byte
	var verBuf [4]byte
	PutUint32(verBuf[:], ProtocolVersion3)
	buf = append(buf, verBuf[:]...)
	for k, v := range params {
		buf = append(buf, k...)
		buf = append(buf, 0)
		buf = append(buf, v...)
		buf = append(buf, 0)
	}
	buf = append(buf, 0)
	return buf
}

// SSLRequestMagic is the magic code PostgreSQL expects as the entire
// payload of an SSLRequest message (wrapped via WriteUntaggedMessage).
const SSLRequestMagic uint32 = 80877103

// CancelRequestCode is the magic code for a CancelRequest message.
const CancelRequestCode uint32 = 80877102

// CancelRequestPayload builds the CancelRequest payload: magic code,
// backend PID, backend secret key.
func CancelRequestPayload(pid, secretKey uint32) []byte {
	buf := make([]byte, 12)
	PutUint32(buf[0:4], CancelRequestCode)
	PutUint32(buf[4:8], pid)
	PutUint32(buf[8:12], secretKey)
	return buf
}

// ParseNullTerminatedPairs parses a sequence of NUL-terminated key/value
// string pairs (as used by ParameterStatus) until the buffer is exhausted.
func ParseNullTerminatedPairs(data []byte) map[string]string {
	out := map[string]string{}
	for len(data) > 0 {
		k, rest, ok := readCString(data)
		if !ok {
			break
		}
		v, rest2, ok := readCString(rest)
		if !ok {
			break
		}
		out[k] = v
		data = rest2
	}
	return out
}

func readCString(data []byte) (s string, rest []byte, ok bool) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), data[i+1:], true
		}
	}
	return "", data, false
}

// ParseFields parses the repeated (byte code, NUL-terminated string) fields
// of an ErrorResponse/NoticeResponse payload, terminated by a final NUL
// byte.
func ParseFields(payload []byte) map[byte]string {
	out := map[byte]string{}
	i := 0
	for i < len(payload) {
		code := payload[i]
		if code == 0 {
			break
		}
		i++
		s, rest, ok := readCString(payload[i:])
		if !ok {
			break
		}
		out[code] = s
		i = len(payload) - len(rest)
	}
	return out
}
