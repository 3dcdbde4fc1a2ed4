package pgfe

import (
	"fmt"

	"github.com/pgfe-go/pgfe/internal/wire"
)

// Large object open-mode bits, as defined by libpq's fe-lobj.h.
const (
	LOModeRead  = 0x40000
	LOModeWrite = 0x20000
)

// Large object seek origins, matching fseek/lseek conventions.
const (
	LOSeekSet = 0
	LOSeekCur = 1
	LOSeekEnd = 2
)

var loFunctionNames = []string{
	"lo_creat", "lo_open", "lo_close", "loread", "lowrite",
	"lo_lseek", "lo_lseek64", "lo_tell", "lo_tell64", "lo_truncate", "lo_truncate64",
}

// LargeObject is a handle to an open PostgreSQL large object, addressed via
// the fastpath function-call interface (FunctionCall/FunctionCallResponse).
// Every operation requires an open transaction block on the owning
// Connection, matching PostgreSQL's own requirement that large-object
// descriptors live only for the lifetime of the transaction that opened
// them.
type LargeObject struct {
	conn *Connection
	fd   int32
}

// resolveLoFuncOIDs discovers the backend's pg_proc OIDs for the large
// object fastpath functions, once per Connection, the same way libpq's
// lo_initialize does.
func (c *Connection) resolveLoFuncOIDs() error {
	if c.loFuncOIDs != nil {
		return nil
	}
	oids := map[string]uint32{}
	sql := "SELECT proname, oid FROM pg_catalog.pg_proc WHERE proname = ANY(" + loFunctionNameArray() + ")"
	_, err := c.Perform(sql, func(r *Row) error {
		name, ok := r.DataByName("proname")
		if !ok || name == nil {
			return nil
		}
		oidData, ok := r.DataByName("oid")
		if !ok || oidData == nil {
			return nil
		}
		oid, err := parseUintText(string(oidData.Bytes()))
		if err != nil {
			return err
		}
		oids[string(name.Bytes())] = oid
		return nil
	})
	if err != nil {
		return err
	}
	c.loFuncOIDs = oids
	return nil
}

func loFunctionNameArray() string {
	s := "ARRAY["
	for i, n := range loFunctionNames {
		if i > 0 {
			s += ","
		}
		s += "'" + n + "'"
	}
	return s + "]"
}

func parseUintText(s string) (uint32, error) {
	var v uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, newClientError(ErrProtocolViolation, "non-numeric OID in pg_proc result")
		}
		v = v*10 + uint32(c-'0')
	}
	return v, nil
}

func (c *Connection) loFuncOID(name string) (uint32, error) {
	if err := c.resolveLoFuncOIDs(); err != nil {
		return 0, err
	}
	oid, ok := c.loFuncOIDs[name]
	if !ok {
		return 0, newClientError(ErrGeneric, "server does not expose large-object function "+name)
	}
	return oid, nil
}

func (c *Connection) requireOpenTransaction() error {
	if c.txStatus != TxInTx {
		return newClientError(ErrNotReadyForRequest, "large object operations require an open transaction block")
	}
	return nil
}

// LOCreate creates a new, empty large object and returns its OID.
func (c *Connection) LOCreate(mode int32) (uint32, error) {
	if err := c.requireOpenTransaction(); err != nil {
		return 0, err
	}
	oid, err := c.loFuncOID("lo_creat")
	if err != nil {
		return 0, err
	}
	result, err := c.callFastpath(oid, [][]byte{int32Bytes(mode)})
	if err != nil {
		return 0, err
	}
	return uint32(bytesToInt32(result)), nil
}

// LOOpen opens the large object identified by oid in the given mode
// (LOModeRead/LOModeWrite, OR'd together) and returns a handle for
// Read/Write/Seek/Tell/Truncate/Close.
func (c *Connection) LOOpen(oid uint32, mode int32) (*LargeObject, error) {
	if err := c.requireOpenTransaction(); err != nil {
		return nil, err
	}
	funcOID, err := c.loFuncOID("lo_open")
	if err != nil {
		return nil, err
	}
	result, err := c.callFastpath(funcOID, [][]byte{uint32Bytes(oid), int32Bytes(mode)})
	if err != nil {
		return nil, err
	}
	return &LargeObject{conn: c, fd: bytesToInt32(result)}, nil
}

// Read reads up to len(buf) bytes from the current position.
func (lo *LargeObject) Read(buf []byte) (int, error) {
	if err := lo.conn.requireOpenTransaction(); err != nil {
		return 0, err
	}
	oid, err := lo.conn.loFuncOID("loread")
	if err != nil {
		return 0, err
	}
	result, err := lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd), int32Bytes(int32(len(buf)))})
	if err != nil {
		return 0, err
	}
	n := copy(buf, result)
	return n, nil
}

// Write writes buf at the current position.
func (lo *LargeObject) Write(buf []byte) (int, error) {
	if err := lo.conn.requireOpenTransaction(); err != nil {
		return 0, err
	}
	oid, err := lo.conn.loFuncOID("lowrite")
	if err != nil {
		return 0, err
	}
	result, err := lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd), buf})
	if err != nil {
		return 0, err
	}
	return int(bytesToInt32(result)), nil
}

// Seek repositions the large object's cursor and returns the new position.
func (lo *LargeObject) Seek(offset int64, whence int32) (int64, error) {
	if err := lo.conn.requireOpenTransaction(); err != nil {
		return 0, err
	}
	oid, err := lo.conn.loFuncOID("lo_lseek64")
	if err != nil {
		// Fall back to the 32-bit variant for servers predating lo_lseek64.
		oid, err = lo.conn.loFuncOID("lo_lseek")
		if err != nil {
			return 0, err
		}
		result, err := lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd), int32Bytes(int32(offset)), int32Bytes(whence)})
		if err != nil {
			return 0, err
		}
		return int64(bytesToInt32(result)), nil
	}
	result, err := lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd), int64Bytes(offset), int32Bytes(whence)})
	if err != nil {
		return 0, err
	}
	return bytesToInt64(result), nil
}

// Tell returns the large object's current cursor position.
func (lo *LargeObject) Tell() (int64, error) {
	if err := lo.conn.requireOpenTransaction(); err != nil {
		return 0, err
	}
	oid, err := lo.conn.loFuncOID("lo_tell64")
	if err != nil {
		oid, err = lo.conn.loFuncOID("lo_tell")
		if err != nil {
			return 0, err
		}
		result, err := lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd)})
		if err != nil {
			return 0, err
		}
		return int64(bytesToInt32(result)), nil
	}
	result, err := lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd)})
	if err != nil {
		return 0, err
	}
	return bytesToInt64(result), nil
}

// Truncate sets the large object's length.
func (lo *LargeObject) Truncate(length int64) error {
	if err := lo.conn.requireOpenTransaction(); err != nil {
		return err
	}
	oid, err := lo.conn.loFuncOID("lo_truncate64")
	if err != nil {
		oid, err = lo.conn.loFuncOID("lo_truncate")
		if err != nil {
			return err
		}
		_, err = lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd), int32Bytes(int32(length))})
		return err
	}
	_, err = lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd), int64Bytes(length)})
	return err
}

// Close closes the large object descriptor.
func (lo *LargeObject) Close() error {
	oid, err := lo.conn.loFuncOID("lo_close")
	if err != nil {
		return err
	}
	_, err = lo.conn.callFastpath(oid, [][]byte{int32Bytes(lo.fd)})
	return err
}

func int32Bytes(v int32) []byte {
	b := make([]byte, 4)
	wire.PutInt32(b, v)
	return b
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	wire.PutUint32(b, v)
	return b
}

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	wire.PutUint32(b[0:4], uint32(v>>32))
	wire.PutUint32(b[4:8], uint32(v))
	return b
}

func bytesToInt32(b []byte) int32 {
	if len(b) < 4 {
		return 0
	}
	return wire.Int32(b)
}

func bytesToInt64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	hi := wire.Uint32(b[0:4])
	lo := wire.Uint32(b[4:8])
	return int64(hi)<<32 | int64(lo)
}

// callFastpath sends a FunctionCall message for funcOID with args (each
// passed as a binary-format argument) and waits for the matching
// FunctionCallResponse. An ErrorResponse is returned as a ClientError
// (ErrGeneric) wrapping the ServerError.
func (c *Connection) callFastpath(funcOID uint32, args [][]byte) ([]byte, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	c.requestQueue = append(c.requestQueue, pendingRequest{kind: ReqSimpleQuery})
	c.state = stateBusy
	defer func() { c.state = stateIdle }()

	payload := buildFunctionCall(funcOID, args)
	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendFunctionCall, payload); err != nil {
		return nil, wrapClientError(ErrConnectionLost, "sending FunctionCall", err)
	}

	var result []byte
	var serverErr *ServerError
	for {
		msg, err := wire.ReadMessage(c.desc)
		if err != nil {
			return nil, wrapClientError(ErrConnectionLost, "reading FunctionCallResponse", err)
		}
		switch msg.Type {
		case wire.BackendFunctionCallResponse:
			if len(msg.Payload) < 4 {
				return nil, newClientError(ErrProtocolViolation, "short FunctionCallResponse")
			}
			length := wire.Int32(msg.Payload[:4])
			if length >= 0 {
				result = append([]byte(nil), msg.Payload[4:4+length]...)
			}
		case wire.BackendErrorResponse:
			serverErr = serverErrorFromFields(wire.ParseFields(msg.Payload))
		case wire.BackendNoticeResponse:
			c.handleNotice(msg.Payload)
		case wire.BackendReadyForQuery:
			if len(msg.Payload) >= 1 {
				c.txStatus = TransactionStatus(msg.Payload[0])
			}
			if len(c.requestQueue) > 0 {
				c.requestQueue = c.requestQueue[1:]
			}
			if serverErr != nil {
				return nil, wrapClientError(ErrGeneric, serverErr.Message, serverErr)
			}
			return result, nil
		default:
			return nil, newClientError(ErrProtocolViolation, fmt.Sprintf("unexpected message %q in fastpath call", msg.Type))
		}
	}
}

func buildFunctionCall(funcOID uint32, args [][]byte) []byte {
	buf := uint32Bytes(funcOID)

	var npf [2]byte
	wire.PutUint16(npf[:], 1)
	buf = append(buf, npf[:]...)
	var fmtCode [2]byte
	wire.PutUint16(fmtCode[:], 1) // every argument is sent binary
	buf = append(buf, fmtCode[:]...)

	var na [2]byte
	wire.PutUint16(na[:], uint16(len(args)))
	buf = append(buf, na[:]...)
	for _, a := range args {
		var l [4]byte
		wire.PutInt32(l[:], int32(len(a)))
		buf = append(buf, l[:]...)
		buf = append(buf, a...)
	}

	var rf [2]byte
	wire.PutUint16(rf[:], 1)
	buf = append(buf, rf[:]...)
	return buf
}
