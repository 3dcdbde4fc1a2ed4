package pgfe

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pgfe-go/pgfe/internal/metrics"
	"github.com/pgfe-go/pgfe/internal/transport"
	"github.com/pgfe-go/pgfe/internal/wire"
)

// TransactionStatus mirrors the single-byte status PostgreSQL reports in
// every ReadyForQuery message.
type TransactionStatus byte

const (
	TxUnknown    TransactionStatus = 0
	TxIdle       TransactionStatus = 'I'
	TxInTx       TransactionStatus = 'T'
	TxInFailedTx TransactionStatus = 'E'
)

// connState names the states of the Connection state machine:
// Disconnected, Authenticating, Idle, Busy, Lost.
type connState int

const (
	stateDisconnected connState = iota
	stateAuthenticating
	stateIdle
	stateBusy
	stateLost
)

// RequestKind names the FIFO request queue's element kinds.
type RequestKind int

const (
	ReqSimpleQuery RequestKind = iota
	ReqParse
	ReqDescribe
	ReqBindExecute
	ReqClose
	ReqFlush
)

type pendingRequest struct {
	kind RequestKind
	name string     // statement/portal name, when applicable
	sql  *SqlString // originating query, kept so an async Parse can register its statement
}

// ResponseKind tags the variant returned by WaitResponse.
type ResponseKind int

const (
	RespRow ResponseKind = iota
	RespCompletion
	RespError
	RespPreparedStatementRef
	RespReady
)

// Response is the tagged result of WaitResponse: exactly one of its
// payload fields is meaningful, selected by Kind.
type Response struct {
	Kind       ResponseKind
	Row        *Row
	Completion Completion
	Err        *ServerError
	Statement  *PreparedStatement
}

// Connection drives a single PostgreSQL session: establishment, request
// submission, response demultiplexing, signal delivery, the
// prepared-statement registry, and large-object I/O. It is NOT safe for
// concurrent use: multiplexing many concurrent queries means owning many
// Connections, typically via a Pool.
type Connection struct {
	options *Options
	logger  *slog.Logger

	desc *transport.PeekReader

	state            connState
	sessionStartTime time.Time
	txStatus         TransactionStatus
	backendPID       uint32
	backendSecretKey uint32
	paramStatus      map[string]string

	requestQueue []pendingRequest

	noticeQueue       []*ServerError
	notificationQueue []*Notification
	OnNotice          func(*ServerError)
	OnNotification    func(*Notification)

	resultFormat Format
	statements   map[string]*PreparedStatement
	lastRowInfo  *RowInfo

	loFuncOIDs map[string]uint32

	metrics   *metrics.Collector
	poolLabel string
}

// Notification is an asynchronous LISTEN/NOTIFY payload.
type Notification struct {
	BackendPID uint32
	Channel    string
	Payload    string
}

// NewConnection constructs a Connection from Options. It does not dial;
// call Connect to establish the session.
func NewConnection(opts *Options) *Connection {
	return &Connection{
		options:      opts,
		logger:       slog.Default(),
		state:        stateDisconnected,
		resultFormat: opts.ResultFormat,
		statements:   map[string]*PreparedStatement{},
		paramStatus:  map[string]string{},
	}
}

// SetLogger overrides the slog.Logger used for connection-lifecycle
// diagnostics (defaults to slog.Default()).
func (c *Connection) SetLogger(l *slog.Logger) { c.logger = l }

// SetMetrics attaches a Prometheus collector; poolLabel distinguishes this
// connection's metrics when an application runs several pools.
func (c *Connection) SetMetrics(m *metrics.Collector, poolLabel string) {
	c.metrics = m
	c.poolLabel = poolLabel
}

// SessionStartTime returns the timestamp of the most recent successful
// Connect, used as the session epoch stamped onto PreparedStatements.
func (c *Connection) SessionStartTime() time.Time { return c.sessionStartTime }

// Connect resolves the endpoint, opens the transport, optionally negotiates
// TLS, runs authentication, and reads ParameterStatus/BackendKeyData frames
// until the first ReadyForQuery. On success it sets SessionStartTime to
// now() and transitions to Idle.
func (c *Connection) Connect() error {
	if err := c.options.Validate(); err != nil {
		return err
	}
	c.state = stateAuthenticating

	connectTimeout := 30 * time.Second
	if c.options.ConnectTimeout != nil {
		connectTimeout = *c.options.ConnectTimeout
	}

	var d transport.Descriptor
	var err error
	ep := c.options.Endpoint()
	switch ep.Kind {
	case EndpointUDS:
		d, err = transport.DialUDS(ep.Directory, ep.UDSPort, connectTimeout)
	default:
		d, err = transport.DialTCP(ep.Host, ep.Address, ep.Port, connectTimeout,
			c.options.TCPKeepalivesEnabled, c.options.TCPKeepalivesIdle)
	}
	if err != nil {
		c.state = stateDisconnected
		return wrapClientError(ErrConnectionLost, "dialing endpoint", err)
	}

	if c.options.SSLEnabled {
		tlsConfig, err := c.buildTLSConfig()
		if err != nil {
			d.Close()
			c.state = stateDisconnected
			return err
		}
		upgraded, accepted, err := transport.NegotiateSSL(d, tlsConfig)
		if err != nil {
			d.Close()
			c.state = stateDisconnected
			return wrapClientError(ErrConnectionLost, "negotiating TLS", err)
		}
		if !accepted {
			d.Close()
			c.state = stateDisconnected
			return newClientError(ErrTLSRejectedByServer, "server rejected SSLRequest")
		}
		d = upgraded
	}

	c.desc = transport.NewPeekReader(d)

	startupParams := map[string]string{
		"user":     c.options.Username,
		"database": c.options.Database,
	}
	if err := wire.WriteUntaggedMessage(c.desc2writer(), wire.StartupMessage(startupParams)); err != nil {
		d.Close()
		c.state = stateDisconnected
		return wrapClientError(ErrConnectionLost, "sending startup message", err)
	}

	if err := c.runAuthentication(); err != nil {
		d.Close()
		c.state = stateDisconnected
		return err
	}

	if err := c.readUntilReadyForQuery(); err != nil {
		d.Close()
		c.state = stateDisconnected
		return err
	}

	c.sessionStartTime = time.Now()
	c.state = stateIdle
	c.logger.Info("pgfe: connected", "endpoint", ep.String())
	if c.metrics != nil {
		c.metrics.Reconnected(c.poolLabel)
	}
	return nil
}

// buildTLSConfig assembles the client-side TLS settings from the Options'
// ssl_* fields: server hostname verification, an optional CA bundle, and an
// optional client certificate/key pair.
func (c *Connection) buildTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         c.options.NetHostname,
		InsecureSkipVerify: !c.options.SSLServerHostnameVerificationEnabled,
	}
	if caFile := c.options.SSLCertificateAuthorityFile; caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, wrapClientError(ErrInvalidArgument, "reading ssl_certificate_authority_file", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, newClientError(ErrInvalidArgument, "ssl_certificate_authority_file contains no usable certificates")
		}
		cfg.RootCAs = pool
	}
	if c.options.SSLCertificateFile != "" || c.options.SSLPrivateKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.options.SSLCertificateFile, c.options.SSLPrivateKeyFile)
		if err != nil {
			return nil, wrapClientError(ErrInvalidArgument, "loading ssl client certificate", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// desc2writer adapts the Descriptor's Write method to io.Writer for wire
// helpers that accept io.Writer.
func (c *Connection) desc2writer() writerAdapter { return writerAdapter{c.desc} }

type writerAdapter struct {
	d interface{ Write([]byte) (int, error) }
}

func (w writerAdapter) Write(p []byte) (int, error) { return w.d.Write(p) }

func (c *Connection) runAuthentication() error {
	for {
		msg, err := wire.ReadMessage(c.desc)
		if err != nil {
			return wrapClientError(ErrConnectionLost, "reading authentication message", err)
		}
		switch msg.Type {
		case wire.BackendErrorResponse:
			return serverErrorAsClientAuthFailure(msg.Payload)
		case wire.BackendAuthentication:
			if len(msg.Payload) < 4 {
				return newClientError(ErrProtocolViolation, "short Authentication message")
			}
			authType := wire.Uint32(msg.Payload[:4])
			switch authType {
			case wire.AuthOK:
				return nil
			case wire.AuthCleartextPassword:
				if err := wire.SendPasswordMessage(c.desc2writer(), c.options.Password); err != nil {
					return wrapClientError(ErrConnectionLost, "sending cleartext password", err)
				}
			case wire.AuthMD5Password:
				if len(msg.Payload) < 8 {
					return newClientError(ErrProtocolViolation, "short MD5 salt")
				}
				var salt [4]byte
				copy(salt[:], msg.Payload[4:8])
				hashed := wire.ComputeMD5Password(c.options.Username, c.options.Password, salt)
				if err := wire.SendPasswordMessage(c.desc2writer(), hashed); err != nil {
					return wrapClientError(ErrConnectionLost, "sending MD5 password", err)
				}
			case wire.AuthSASL:
				if err := wire.ScramSHA256Client(c.desc, c.options.Username, c.options.Password, msg.Payload[4:]); err != nil {
					return wrapClientError(ErrAuthenticationFailed, "SCRAM-SHA-256 exchange", err)
				}
			default:
				return newClientError(ErrAuthenticationFailed, fmt.Sprintf("unsupported authentication method %d", authType))
			}
		default:
			return newClientError(ErrProtocolViolation, fmt.Sprintf("unexpected message %q during authentication", msg.Type))
		}
	}
}

func serverErrorAsClientAuthFailure(payload []byte) error {
	se := serverErrorFromFields(wire.ParseFields(payload))
	return wrapClientError(ErrAuthenticationFailed, se.Message, se)
}

// readUntilReadyForQuery consumes ParameterStatus/BackendKeyData frames
// (storing them) until the first ReadyForQuery, as required at the end of
// authentication.
func (c *Connection) readUntilReadyForQuery() error {
	for {
		msg, err := wire.ReadMessage(c.desc)
		if err != nil {
			return wrapClientError(ErrConnectionLost, "reading startup response", err)
		}
		switch msg.Type {
		case wire.BackendParameterStatus:
			pairs := wire.ParseNullTerminatedPairs(msg.Payload)
			for k, v := range pairs {
				c.paramStatus[k] = v
			}
		case wire.BackendBackendKeyData:
			if len(msg.Payload) < 8 {
				return newClientError(ErrProtocolViolation, "short BackendKeyData")
			}
			c.backendPID = wire.Uint32(msg.Payload[0:4])
			c.backendSecretKey = wire.Uint32(msg.Payload[4:8])
		case wire.BackendReadyForQuery:
			if len(msg.Payload) < 1 {
				return newClientError(ErrProtocolViolation, "short ReadyForQuery")
			}
			c.txStatus = TransactionStatus(msg.Payload[0])
			return nil
		case wire.BackendNoticeResponse:
			c.handleNotice(msg.Payload)
		case wire.BackendErrorResponse:
			se := serverErrorFromFields(wire.ParseFields(msg.Payload))
			return wrapClientError(ErrAuthenticationFailed, se.Message, se)
		default:
			return newClientError(ErrProtocolViolation, fmt.Sprintf("unexpected message %q before ReadyForQuery", msg.Type))
		}
	}
}

func (c *Connection) handleNotice(payload []byte) {
	se := serverErrorFromFields(wire.ParseFields(payload))
	if c.metrics != nil {
		c.metrics.NoticeReceived(c.poolLabel)
	}
	if c.OnNotice != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn("pgfe: on_notice callback panicked", "recover", r)
				}
			}()
			c.OnNotice(se)
		}()
		return
	}
	c.noticeQueue = append(c.noticeQueue, se)
}

func (c *Connection) handleNotification(payload []byte) {
	if len(payload) < 4 {
		return
	}
	pid := wire.Uint32(payload[0:4])
	rest := payload[4:]
	channel, rest2, _ := splitCString(rest)
	payloadStr, _, _ := splitCString(rest2)
	n := &Notification{BackendPID: pid, Channel: channel, Payload: payloadStr}
	if c.metrics != nil {
		c.metrics.NotificationReceived(c.poolLabel)
	}
	if c.OnNotification != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn("pgfe: on_notification callback panicked", "recover", r)
				}
			}()
			c.OnNotification(n)
		}()
		return
	}
	c.notificationQueue = append(c.notificationQueue, n)
}

// TakeNotices drains and returns the buffered notices that arrived while
// no OnNotice callback was installed. The queue is bounded only by memory;
// callers are free to ignore it.
func (c *Connection) TakeNotices() []*ServerError {
	out := c.noticeQueue
	c.noticeQueue = nil
	return out
}

// TakeNotifications drains and returns the buffered LISTEN/NOTIFY payloads
// that arrived while no OnNotification callback was installed.
func (c *Connection) TakeNotifications() []*Notification {
	out := c.notificationQueue
	c.notificationQueue = nil
	return out
}

func splitCString(b []byte) (string, []byte, bool) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], true
		}
	}
	return string(b), nil, false
}

// Disconnect attempts a graceful Terminate, then closes the transport
// unconditionally and clears the request queue. Every PreparedStatement
// created before this call is invalidated: the next successful Connect
// bumps SessionStartTime, and PreparedStatement.checkSessionEpoch compares
// against the epoch it was created under.
func (c *Connection) Disconnect() error {
	if c.desc != nil {
		_ = wire.WriteMessage(c.desc2writer(), wire.FrontendTerminate, nil)
		_ = c.closeDescriptor()
	}
	c.requestQueue = nil
	c.statements = map[string]*PreparedStatement{}
	c.state = stateDisconnected
	return nil
}

func (c *Connection) closeDescriptor() error {
	if c.desc == nil {
		return nil
	}
	return c.desc.Close()
}

// IsReadyForRequest reports whether the request queue is empty, the
// Connection is idle, and it is not in a failed transaction block; an open
// transaction block is accepted.
func (c *Connection) IsReadyForRequest() bool {
	return len(c.requestQueue) == 0 && c.state == stateIdle && c.txStatus != TxInFailedTx
}

// IsReadyForNioRequest reports whether the request queue is empty and the
// transaction status is idle or in-transaction (i.e. ready to accept a
// non-blocking request even mid-transaction).
func (c *Connection) IsReadyForNioRequest() bool {
	return len(c.requestQueue) == 0 && c.state == stateIdle &&
		(c.txStatus == TxIdle || c.txStatus == TxInTx)
}

func (c *Connection) requireReady() error {
	if !c.IsReadyForRequest() {
		return newClientError(ErrNotReadyForRequest, "connection is not ready for a new request")
	}
	return nil
}

// endRequest returns the state machine to Idle after a message cycle,
// unless the transport broke mid-cycle and left the Connection in Lost,
// which must stick so later requests fail with connection_lost instead of
// writing into a dead socket.
func (c *Connection) endRequest() {
	if c.state == stateBusy {
		c.state = stateIdle
	}
}

// Cancel asks the server to cancel whatever this Connection is currently
// executing. PostgreSQL requires the cancellation to arrive on a brand new
// connection to the same backend rather than on the one being cancelled,
// so Cancel dials its own short-lived connection, sends the CancelRequest,
// and closes it immediately; there is no response to wait for.
func (c *Connection) Cancel() error {
	if c.backendPID == 0 {
		return newClientError(ErrGeneric, "connection has no backend key data yet")
	}
	connectTimeout := 10 * time.Second
	if c.options.ConnectTimeout != nil {
		connectTimeout = *c.options.ConnectTimeout
	}
	ep := c.options.Endpoint()
	var d transport.Descriptor
	var err error
	if ep.Kind == EndpointUDS {
		d, err = transport.DialUDS(ep.Directory, ep.UDSPort, connectTimeout)
	} else {
		d, err = transport.DialTCP(ep.Host, ep.Address, ep.Port, connectTimeout, false, 0)
	}
	if err != nil {
		return wrapClientError(ErrConnectionLost, "dialing for cancel request", err)
	}
	defer d.Close()
	if err := wire.WriteUntaggedMessage(writerFunc(d.Write), wire.CancelRequestPayload(c.backendPID, c.backendSecretKey)); err != nil {
		return wrapClientError(ErrConnectionLost, "sending cancel request", err)
	}
	return nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
