// Package transport provides the byte-stream abstraction Connection dials
// through: plain TCP, Unix-domain sockets, and the PostgreSQL SSLRequest/TLS
// upgrade handshake, plus a deadline-based readiness probe.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pgfe-go/pgfe/internal/wire"
)

// Descriptor is the capability every transport exposes to the Connection
// state machine: a blocking byte stream with bounded read/write sizes and
// an explicit close.
type Descriptor interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	MaxReadSize() int
	MaxWriteSize() int
}

// connDescriptor adapts a net.Conn (or tls.Conn, which implements net.Conn)
// to Descriptor.
type connDescriptor struct {
	net.Conn
}

func (c connDescriptor) MaxReadSize() int  { return 1 << 20 }
func (c connDescriptor) MaxWriteSize() int { return 1 << 20 }

// DialTCP opens a plain TCP connection with the given keepalive settings.
// Of the "tcp_keepalives_*" Options fields only the enabled flag and the
// idle time are applied; the interval and count are not.
func DialTCP(host, address string, port int, connectTimeout time.Duration, keepaliveEnabled bool, keepaliveIdle time.Duration) (Descriptor, error) {
	addr := host
	if addr == "" {
		addr = address
	}
	dialer := net.Dialer{Timeout: connectTimeout}
	if keepaliveEnabled {
		dialer.KeepAlive = keepaliveIdle
	} else {
		dialer.KeepAlive = -1
	}
	conn, err := dialer.Dial("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, err
	}
	return connDescriptor{conn}, nil
}

// DialUDS opens a connection to a PostgreSQL Unix-domain socket at the
// conventional ".s.PGSQL.<port>" path inside directory.
func DialUDS(directory string, port int, connectTimeout time.Duration) (Descriptor, error) {
	path := fmt.Sprintf("%s/.s.PGSQL.%d", directory, port)
	d := net.Dialer{Timeout: connectTimeout}
	conn, err := d.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return connDescriptor{conn}, nil
}

// NegotiateSSL performs the PostgreSQL SSLRequest handshake: sends the
// SSLRequest magic code, reads the single-byte reply ('S' accept, 'N'
// reject), and if accepted, wraps the descriptor in a TLS client
// connection. Returns (descriptor, accepted, error).
func NegotiateSSL(d Descriptor, tlsConfig *tls.Config) (Descriptor, bool, error) {
	var magic [4]byte
	wire.PutUint32(magic[:], wire.SSLRequestMagic)
	if err := wire.WriteUntaggedMessage(writerFunc(d.Write), magic[:]); err != nil {
		return d, false, err
	}
	reply := make([]byte, 1)
	if _, err := readFull(d, reply); err != nil {
		return d, false, err
	}
	switch reply[0] {
	case 'S':
		nc, ok := d.(connDescriptor)
		if !ok {
			return d, false, fmt.Errorf("transport does not support TLS upgrade")
		}
		tlsConn := tls.Client(nc.Conn, tlsConfig)
		return connDescriptor{tlsConn}, true, nil
	case 'N':
		return d, false, nil
	default:
		return d, false, fmt.Errorf("unexpected SSLRequest reply byte %q", reply[0])
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func readFull(d Descriptor, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := d.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
