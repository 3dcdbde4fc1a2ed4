package pgfe

import (
	"fmt"
	"time"

	"github.com/pgfe-go/pgfe/internal/transport"
	"github.com/pgfe-go/pgfe/internal/wire"
)

// cycleResult accumulates what one extended-query or simple-query message
// cycle produced, from the first message sent after a Sync/Query up to the
// terminating ReadyForQuery.
type cycleResult struct {
	completions []Completion
	rowInfo     *RowInfo
	serverErr   *ServerError
	paramOIDs   []uint32
	parseOK     bool
	bindOK      bool
	closeOK     bool
}

// runCycle reads backend messages until ReadyForQuery, invoking rowCB for
// every DataRow using whatever RowInfo was most recently announced by a
// RowDescription in this cycle. seed supplies the row shape for cycles
// that will not see a RowDescription of their own: a Bind+Execute exchange
// never re-describes the portal, so Execute passes the statement's cached
// RowInfo. runCycle is the single engine behind Perform, Prepare,
// Describe, Execute, and Unprepare: those operations differ only in which
// messages they send beforehand and which parts of cycleResult they care
// about.
func (c *Connection) runCycle(seed *RowInfo, rowCB func(*Row) error) (*cycleResult, error) {
	res := &cycleResult{rowInfo: seed}
	for {
		msg, err := wire.ReadMessage(c.desc)
		if err != nil {
			c.state = stateLost
			return res, wrapClientError(ErrConnectionLost, "reading response", err)
		}
		switch msg.Type {
		case wire.BackendParseComplete:
			res.parseOK = true
		case wire.BackendBindComplete:
			res.bindOK = true
		case wire.BackendCloseComplete:
			res.closeOK = true
		case wire.BackendParameterDescription:
			oids, err := parseParameterDescription(msg.Payload)
			if err != nil {
				return res, err
			}
			res.paramOIDs = oids
		case wire.BackendNoData:
			res.rowInfo = nil
		case wire.BackendRowDescription:
			fields, err := parseRowDescription(msg.Payload)
			if err != nil {
				return res, err
			}
			res.rowInfo = NewRowInfo(fields)
		case wire.BackendDataRow:
			if res.rowInfo == nil {
				return res, newClientError(ErrProtocolViolation, "DataRow with no prior RowDescription")
			}
			values, err := parseDataRow(msg.Payload, res.rowInfo)
			if err != nil {
				return res, err
			}
			row := NewRow(values, res.rowInfo)
			if rowCB != nil {
				if err := rowCB(row); err != nil {
					return res, err
				}
			}
		case wire.BackendCommandComplete:
			res.completions = append(res.completions, Completion{Tag: parseCommandTag(msg.Payload)})
		case wire.BackendEmptyQueryResponse:
			res.completions = append(res.completions, Completion{})
		case wire.BackendPortalSuspended:
			// A capped Execute stopped before exhausting the portal; callers
			// that need more rows issue another Execute, not implemented here.
		case wire.BackendErrorResponse:
			res.serverErr = serverErrorFromFields(wire.ParseFields(msg.Payload))
		case wire.BackendNoticeResponse:
			c.handleNotice(msg.Payload)
		case wire.BackendNotificationResponse:
			c.handleNotification(msg.Payload)
		case wire.BackendReadyForQuery:
			if len(msg.Payload) < 1 {
				return res, newClientError(ErrProtocolViolation, "short ReadyForQuery")
			}
			c.txStatus = TransactionStatus(msg.Payload[0])
			if len(c.requestQueue) > 0 {
				c.requestQueue = c.requestQueue[1:]
			}
			return res, nil
		default:
			return res, newClientError(ErrProtocolViolation, fmt.Sprintf("unexpected message %q", msg.Type))
		}
	}
}

func parseParameterDescription(payload []byte) ([]uint32, error) {
	if len(payload) < 2 {
		return nil, newClientError(ErrProtocolViolation, "short ParameterDescription")
	}
	n := int(wire.Uint16(payload[:2]))
	payload = payload[2:]
	if len(payload) < n*4 {
		return nil, newClientError(ErrProtocolViolation, "truncated ParameterDescription")
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = wire.Uint32(payload[i*4:])
	}
	return out, nil
}

func parseRowDescription(payload []byte) ([]FieldInfo, error) {
	if len(payload) < 2 {
		return nil, newClientError(ErrProtocolViolation, "short RowDescription")
	}
	n := int(wire.Uint16(payload[:2]))
	rest := payload[2:]
	fields := make([]FieldInfo, 0, n)
	for i := 0; i < n; i++ {
		name, tail, ok := splitCString(rest)
		if !ok || len(tail) < 18 {
			return nil, newClientError(ErrProtocolViolation, "truncated RowDescription field")
		}
		f := FieldInfo{
			Name:              name,
			TableOID:          wire.Uint32(tail[0:4]),
			TableColumnNumber: wire.Int16(tail[4:6]),
			TypeOID:           wire.Uint32(tail[6:10]),
			TypeSize:          wire.Int16(tail[10:12]),
			TypeModifier:      wire.Int32(tail[12:16]),
		}
		if wire.Int16(tail[16:18]) == 1 {
			f.Format = FormatBinary
		} else {
			f.Format = FormatText
		}
		fields = append(fields, f)
		rest = tail[18:]
	}
	return fields, nil
}

func parseDataRow(payload []byte, ri *RowInfo) (*Composite, error) {
	if len(payload) < 2 {
		return nil, newClientError(ErrProtocolViolation, "short DataRow")
	}
	n := int(wire.Uint16(payload[:2]))
	rest := payload[2:]
	values := NewComposite()
	for i := 0; i < n; i++ {
		if len(rest) < 4 {
			return nil, newClientError(ErrProtocolViolation, "truncated DataRow")
		}
		length := wire.Int32(rest[:4])
		rest = rest[4:]
		name := ""
		format := FormatText
		if i < ri.Size() {
			name = ri.Field(i).Name
			format = ri.Field(i).Format
		}
		if length < 0 {
			values.Append(name, nil)
			continue
		}
		if int(length) > len(rest) {
			return nil, newClientError(ErrProtocolViolation, "DataRow field length exceeds payload")
		}
		values.Append(name, borrowData(rest[:length], format))
		rest = rest[length:]
	}
	return values, nil
}

func parseCommandTag(payload []byte) string {
	s, _, _ := splitCString(payload)
	return s
}

func cString(s string) []byte { return append([]byte(s), 0) }

func buildParse(name, query string, paramOIDs []uint32) []byte {
	buf := cString(name)
	buf = append(buf, cString(query)...)
	var n [2]byte
	wire.PutUint16(n[:], uint16(len(paramOIDs)))
	buf = append(buf, n[:]...)
	for _, oid := range paramOIDs {
		var o [4]byte
		wire.PutUint32(o[:], oid)
		buf = append(buf, o[:]...)
	}
	return buf
}

func buildBind(portal, stmt string, params []Data, resultFormat Format) []byte {
	buf := cString(portal)
	buf = append(buf, cString(stmt)...)

	var npf [2]byte
	wire.PutUint16(npf[:], uint16(len(params)))
	buf = append(buf, npf[:]...)
	for _, p := range params {
		var f [2]byte
		code := uint16(0)
		if p != nil && p.Format() == FormatBinary {
			code = 1
		}
		wire.PutUint16(f[:], code)
		buf = append(buf, f[:]...)
	}

	var np [2]byte
	wire.PutUint16(np[:], uint16(len(params)))
	buf = append(buf, np[:]...)
	for _, p := range params {
		if p == nil {
			var neg [4]byte
			wire.PutInt32(neg[:], -1)
			buf = append(buf, neg[:]...)
			continue
		}
		var l [4]byte
		wire.PutInt32(l[:], int32(p.Size()))
		buf = append(buf, l[:]...)
		buf = append(buf, p.Bytes()...)
	}

	var nrf [2]byte
	wire.PutUint16(nrf[:], 1)
	buf = append(buf, nrf[:]...)
	var rf [2]byte
	rfCode := uint16(0)
	if resultFormat == FormatBinary {
		rfCode = 1
	}
	wire.PutUint16(rf[:], rfCode)
	buf = append(buf, rf[:]...)
	return buf
}

func buildDescribe(kind byte, name string) []byte {
	return append([]byte{kind}, cString(name)...)
}

func buildExecute(portal string, maxRows int32) []byte {
	buf := cString(portal)
	var n [4]byte
	wire.PutInt32(n[:], maxRows)
	return append(buf, n[:]...)
}

func buildClose(kind byte, name string) []byte {
	return append([]byte{kind}, cString(name)...)
}

// Perform runs sql as a simple-query cycle (Query message), which may
// itself contain several ';'-separated statements; each produces one
// Completion, collected in order. rowCB, if non-nil, is invoked for every
// row of every statement in the batch, in wire order.
func (c *Connection) Perform(sql string, rowCB func(*Row) error) ([]Completion, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	start := time.Now()
	c.requestQueue = append(c.requestQueue, pendingRequest{kind: ReqSimpleQuery})
	c.state = stateBusy
	defer c.endRequest()

	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendQuery, cString(sql)); err != nil {
		return nil, wrapClientError(ErrConnectionLost, "sending Query", err)
	}
	res, err := c.runCycle(nil, rowCB)
	if c.metrics != nil {
		c.metrics.QueryDuration(c.poolLabel, time.Since(start))
	}
	if err != nil {
		return res.completions, err
	}
	if res.serverErr != nil {
		return res.completions, wrapClientError(ErrGeneric, res.serverErr.Message, res.serverErr)
	}
	return res.completions, nil
}

// PrepareAsync sends Parse+Sync for a new server-side statement without
// waiting for the response; pair with WaitResponse/ProcessResponses to
// reap it (the ParseComplete surfaces as a PreparedStatementRef response),
// or just call Prepare for the blocking convenience form.
func (c *Connection) PrepareAsync(name string, sql *SqlString) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	c.requestQueue = append(c.requestQueue, pendingRequest{kind: ReqParse, name: name, sql: sql})
	c.state = stateBusy
	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendParse, buildParse(name, sql.ToQueryString(), nil)); err != nil {
		return wrapClientError(ErrConnectionLost, "sending Parse", err)
	}
	return wire.WriteMessage(c.desc2writer(), wire.FrontendSync, nil)
}

// Prepare is the blocking form of PrepareAsync: it sends Parse+Sync and
// waits for the ParseComplete/ErrorResponse and trailing ReadyForQuery.
func (c *Connection) Prepare(name string, sql *SqlString) (*PreparedStatement, error) {
	if err := c.PrepareAsync(name, sql); err != nil {
		return nil, err
	}
	defer c.endRequest()
	res, err := c.runCycle(nil, nil)
	if err != nil {
		return nil, err
	}
	if res.serverErr != nil {
		return nil, wrapClientError(ErrGeneric, res.serverErr.Message, res.serverErr)
	}
	if !res.parseOK {
		return nil, newClientError(ErrProtocolViolation, "Parse did not complete")
	}
	ps := &PreparedStatement{
		conn:         c,
		name:         name,
		sql:          sql,
		sessionEpoch: c.sessionStartTime,
		resultFormat: c.resultFormat,
	}
	c.statements[name] = ps
	return ps, nil
}

// DescribeAsync sends Describe('S', name)+Sync for ps without waiting;
// the ParameterDescription/RowDescription responses populate ps as they
// are demultiplexed by WaitResponse/ProcessResponses.
func (c *Connection) DescribeAsync(ps *PreparedStatement) error {
	if err := ps.checkSessionEpoch(); err != nil {
		return err
	}
	if err := c.requireReady(); err != nil {
		return err
	}
	c.requestQueue = append(c.requestQueue, pendingRequest{kind: ReqDescribe, name: ps.name})
	c.state = stateBusy
	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendDescribe, buildDescribe('S', ps.name)); err != nil {
		return wrapClientError(ErrConnectionLost, "sending Describe", err)
	}
	return wire.WriteMessage(c.desc2writer(), wire.FrontendSync, nil)
}

// Describe is the blocking form of DescribeAsync: it waits for
// ParameterDescription and RowDescription/NoData, populating ps's
// parameter OIDs and RowInfo.
func (c *Connection) Describe(ps *PreparedStatement) error {
	if err := c.DescribeAsync(ps); err != nil {
		return err
	}
	defer c.endRequest()
	res, err := c.runCycle(nil, nil)
	if err != nil {
		return err
	}
	if res.serverErr != nil {
		return wrapClientError(ErrGeneric, res.serverErr.Message, res.serverErr)
	}
	ps.paramOIDs = res.paramOIDs
	ps.rowInfo = res.rowInfo
	ps.described = true
	return nil
}

// ExecuteAsync binds params to ps's unnamed portal and sends
// Bind+Execute+Sync without waiting; rows then surface one at a time
// through WaitResponse/ProcessResponses. It requires the Connection to be
// ready for a non-blocking request (IsReadyForNioRequest), which admits an
// idle transaction status or an open transaction block.
func (c *Connection) ExecuteAsync(ps *PreparedStatement, params []Data) error {
	if err := ps.checkSessionEpoch(); err != nil {
		return err
	}
	if ps.described && len(params) != len(ps.paramOIDs) {
		return newClientError(ErrInvalidArgument,
			"parameter count does not match described statement")
	}
	if !c.IsReadyForNioRequest() {
		return newClientError(ErrNotReadyForRequest, "connection is not ready for a non-blocking request")
	}
	c.requestQueue = append(c.requestQueue, pendingRequest{kind: ReqBindExecute, name: ps.name})
	c.state = stateBusy
	if ps.described {
		// The Bind+Execute cycle carries no RowDescription of its own; the
		// demultiplexer shapes incoming DataRows with the described RowInfo.
		c.lastRowInfo = ps.rowInfo
	}
	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendBind, buildBind("", ps.name, params, ps.resultFormat)); err != nil {
		return wrapClientError(ErrConnectionLost, "sending Bind", err)
	}
	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendExecute, buildExecute("", 0)); err != nil {
		return wrapClientError(ErrConnectionLost, "sending Execute", err)
	}
	return wire.WriteMessage(c.desc2writer(), wire.FrontendSync, nil)
}

// Execute binds params to ps's unnamed portal, executes it to completion,
// and invokes rowCB for each resulting row. Binding more parameters than
// ps requires is accepted only before Describe has run; once described,
// the bound parameter count must equal what Describe reported.
func (c *Connection) Execute(ps *PreparedStatement, params []Data, rowCB func(*Row) error) (Completion, error) {
	if err := ps.checkSessionEpoch(); err != nil {
		return Completion{}, err
	}
	if ps.described && len(params) != len(ps.paramOIDs) {
		return Completion{}, newClientError(ErrInvalidArgument,
			"parameter count does not match described statement")
	}
	if err := c.requireReady(); err != nil {
		return Completion{}, err
	}
	start := time.Now()
	c.requestQueue = append(c.requestQueue, pendingRequest{kind: ReqBindExecute, name: ps.name})
	c.state = stateBusy
	defer c.endRequest()

	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendBind, buildBind("", ps.name, params, ps.resultFormat)); err != nil {
		return Completion{}, wrapClientError(ErrConnectionLost, "sending Bind", err)
	}
	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendExecute, buildExecute("", 0)); err != nil {
		return Completion{}, wrapClientError(ErrConnectionLost, "sending Execute", err)
	}
	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendSync, nil); err != nil {
		return Completion{}, wrapClientError(ErrConnectionLost, "sending Sync", err)
	}

	res, err := c.runCycle(ps.rowInfo, rowCB)
	if c.metrics != nil {
		c.metrics.QueryDuration(c.poolLabel, time.Since(start))
	}
	if err != nil {
		return Completion{}, err
	}
	if res.serverErr != nil {
		return Completion{}, wrapClientError(ErrGeneric, res.serverErr.Message, res.serverErr)
	}
	if !res.bindOK {
		return Completion{}, newClientError(ErrProtocolViolation, "Bind did not complete")
	}
	if len(res.completions) == 0 {
		return Completion{}, newClientError(ErrProtocolViolation, "Execute produced no CommandComplete")
	}
	return res.completions[len(res.completions)-1], nil
}

// UnprepareAsync sends Close('S', name)+Sync without waiting; the
// statement is removed from the registry when the CloseComplete is
// observed by WaitResponse/ProcessResponses.
func (c *Connection) UnprepareAsync(ps *PreparedStatement) error {
	if err := ps.checkSessionEpoch(); err != nil {
		return err
	}
	if err := c.requireReady(); err != nil {
		return err
	}
	c.requestQueue = append(c.requestQueue, pendingRequest{kind: ReqClose, name: ps.name})
	c.state = stateBusy
	if err := wire.WriteMessage(c.desc2writer(), wire.FrontendClose, buildClose('S', ps.name)); err != nil {
		return wrapClientError(ErrConnectionLost, "sending Close", err)
	}
	return wire.WriteMessage(c.desc2writer(), wire.FrontendSync, nil)
}

// Unprepare closes ps's server-side statement (Close+Sync) and removes it
// from the Connection's registry.
func (c *Connection) Unprepare(ps *PreparedStatement) error {
	if err := c.UnprepareAsync(ps); err != nil {
		return err
	}
	defer c.endRequest()
	res, err := c.runCycle(nil, nil)
	if err != nil {
		return err
	}
	if res.serverErr != nil {
		return wrapClientError(ErrGeneric, res.serverErr.Message, res.serverErr)
	}
	delete(c.statements, ps.name)
	return nil
}

// WaitResponse blocks (up to timeout, or indefinitely for timeout < 0)
// until at least one byte of the next backend message is available, then
// reads and classifies it as a single Response. A timeout of 0 selects the
// Options' wait_response_timeout, or blocks indefinitely when that is not
// set. It is the low-level primitive ProcessResponses and the blocking
// wrappers above build on; most callers should prefer
// Perform/Prepare/Describe/Execute/Unprepare.
func (c *Connection) WaitResponse(timeout time.Duration) (Response, error) {
	if timeout == 0 {
		timeout = -1
		if c.options.WaitResponseTimeout != nil {
			timeout = *c.options.WaitResponseTimeout
		}
	}
	ready, err := c.desc.Poll(transport.WantRead, timeout)
	if err != nil {
		return Response{}, wrapClientError(ErrConnectionLost, "polling for response", err)
	}
	if ready == 0 {
		return Response{}, newClientError(ErrTimedOut, "no response within timeout")
	}
	msg, err := wire.ReadMessage(c.desc)
	if err != nil {
		c.state = stateLost
		return Response{}, wrapClientError(ErrConnectionLost, "reading response", err)
	}
	return c.classifyMessage(msg)
}

// headRequest returns the request at the front of the FIFO queue, or nil.
func (c *Connection) headRequest() *pendingRequest {
	if len(c.requestQueue) == 0 {
		return nil
	}
	return &c.requestQueue[0]
}

func (c *Connection) classifyMessage(msg wire.Message) (Response, error) {
	switch msg.Type {
	case wire.BackendParseComplete:
		if head := c.headRequest(); head != nil && head.kind == ReqParse {
			ps := &PreparedStatement{
				conn:         c,
				name:         head.name,
				sql:          head.sql,
				sessionEpoch: c.sessionStartTime,
				resultFormat: c.resultFormat,
			}
			c.statements[head.name] = ps
			return Response{Kind: RespPreparedStatementRef, Statement: ps}, nil
		}
		return c.WaitResponse(-1)
	case wire.BackendCloseComplete:
		if head := c.headRequest(); head != nil && head.kind == ReqClose {
			delete(c.statements, head.name)
		}
		return c.WaitResponse(-1)
	case wire.BackendParameterDescription:
		if head := c.headRequest(); head != nil && head.kind == ReqDescribe {
			if ps := c.statements[head.name]; ps != nil {
				oids, err := parseParameterDescription(msg.Payload)
				if err != nil {
					return Response{}, err
				}
				ps.paramOIDs = oids
			}
		}
		return c.WaitResponse(-1)
	case wire.BackendNoData:
		if head := c.headRequest(); head != nil && head.kind == ReqDescribe {
			if ps := c.statements[head.name]; ps != nil {
				ps.rowInfo = nil
				ps.described = true
			}
		}
		return c.WaitResponse(-1)
	case wire.BackendRowDescription:
		fields, err := parseRowDescription(msg.Payload)
		if err != nil {
			return Response{}, err
		}
		c.lastRowInfo = NewRowInfo(fields)
		if head := c.headRequest(); head != nil && head.kind == ReqDescribe {
			if ps := c.statements[head.name]; ps != nil {
				ps.rowInfo = c.lastRowInfo
				ps.described = true
			}
		}
		return c.WaitResponse(-1)
	case wire.BackendDataRow:
		if c.lastRowInfo == nil {
			return Response{}, newClientError(ErrProtocolViolation, "DataRow with no prior RowDescription")
		}
		values, err := parseDataRow(msg.Payload, c.lastRowInfo)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: RespRow, Row: NewRow(values, c.lastRowInfo)}, nil
	case wire.BackendCommandComplete:
		return Response{Kind: RespCompletion, Completion: Completion{Tag: parseCommandTag(msg.Payload)}}, nil
	case wire.BackendErrorResponse:
		return Response{Kind: RespError, Err: serverErrorFromFields(wire.ParseFields(msg.Payload))}, nil
	case wire.BackendNoticeResponse:
		c.handleNotice(msg.Payload)
		return c.WaitResponse(-1)
	case wire.BackendNotificationResponse:
		c.handleNotification(msg.Payload)
		return c.WaitResponse(-1)
	case wire.BackendReadyForQuery:
		if len(msg.Payload) >= 1 {
			c.txStatus = TransactionStatus(msg.Payload[0])
		}
		if len(c.requestQueue) > 0 {
			c.requestQueue = c.requestQueue[1:]
		}
		c.endRequest()
		return Response{Kind: RespReady}, nil
	default:
		return c.WaitResponse(-1)
	}
}

// ProcessResponses drains backend messages via WaitResponse until a
// ReadyForQuery is observed, invoking cb for every surfaced Response. Each
// wait is bounded by the Options' wait_response_timeout, except the final
// ReadyForQuery wait after a server error, which uses
// wait_last_response_timeout when set.
func (c *Connection) ProcessResponses(cb func(Response) error) error {
	timeout := time.Duration(0)
	for {
		resp, err := c.WaitResponse(timeout)
		if err != nil {
			return err
		}
		if cb != nil {
			if err := cb(resp); err != nil {
				return err
			}
		}
		if resp.Kind == RespReady {
			return nil
		}
		if resp.Kind == RespError {
			timeout = -1
			if c.options.WaitLastResponseTimeout != nil {
				timeout = *c.options.WaitLastResponseTimeout
			}
		}
	}
}
