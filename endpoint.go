package pgfe

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// EndpointKind tags which transport variant an Endpoint describes.
type EndpointKind int

const (
	EndpointNet EndpointKind = iota
	EndpointUDS
	EndpointNamedPipe
)

// Endpoint is a tagged union of transport addresses. Exactly one of the
// per-kind field groups is meaningful, selected by Kind.
type Endpoint struct {
	Kind EndpointKind

	// Net fields.
	Host    string // RFC 1123 hostname, mutually exclusive with Address
	Address string // dotted-quad IPv4 or textual IPv6
	Port    int

	// Uds fields.
	Directory string // absolute path to the directory holding the socket file
	UDSPort   int    // PostgreSQL encodes the port into the socket filename

	// NamedPipe fields (Windows only).
	Server string
	Pipe   string
}

var hostnameLabelRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)

// Validate checks the Endpoint's invariants: for Net, at least one of
// Host/Address is set and Port is in [1,65535]; for Uds, Directory is an
// absolute path; NamedPipe is rejected on platforms that do not support it
// (this build targets Unix-like platforms, so NamedPipe is always invalid
// here, matching "NamedPipe exists only on platforms that support it").
func (e Endpoint) Validate() error {
	switch e.Kind {
	case EndpointNet:
		if e.Host == "" && e.Address == "" {
			return newClientError(ErrInvalidArgument, "net endpoint requires host or address")
		}
		if e.Host != "" {
			if err := validateHostname(e.Host); err != nil {
				return err
			}
		}
		if e.Address != "" {
			if net.ParseIP(e.Address) == nil {
				return newClientError(ErrInvalidArgument, fmt.Sprintf("invalid network address %q", e.Address))
			}
		}
		if e.Port < 1 || e.Port > 65535 {
			return newClientError(ErrInvalidArgument, fmt.Sprintf("port %d out of range [1,65535]", e.Port))
		}
		return nil
	case EndpointUDS:
		if !strings.HasPrefix(e.Directory, "/") {
			return newClientError(ErrInvalidArgument, "uds endpoint directory must be an absolute path")
		}
		return nil
	case EndpointNamedPipe:
		return newClientError(ErrInvalidArgument, "named pipe endpoints are not supported on this platform")
	default:
		return newClientError(ErrInvalidArgument, "unknown endpoint kind")
	}
}

// validateHostname checks RFC 1123: each label 1-63 characters from
// [A-Za-z0-9_-], total length <= 253.
func validateHostname(h string) error {
	if len(h) == 0 || len(h) > 253 {
		return newClientError(ErrInvalidArgument, fmt.Sprintf("hostname %q has invalid length", h))
	}
	for _, label := range strings.Split(h, ".") {
		if !hostnameLabelRe.MatchString(label) {
			return newClientError(ErrInvalidArgument, fmt.Sprintf("hostname %q has invalid label %q", h, label))
		}
	}
	return nil
}

// NetEndpoint returns a Net-kind Endpoint addressed by host (or address) and
// port. Pass one of host/address empty.
func NetEndpoint(host, address string, port int) Endpoint {
	return Endpoint{Kind: EndpointNet, Host: host, Address: address, Port: port}
}

// UDSEndpoint returns a Uds-kind Endpoint rooted at directory, with the
// conventional PostgreSQL socket file ".s.PGSQL.<port>" inside it.
func UDSEndpoint(directory string, port int) Endpoint {
	return Endpoint{Kind: EndpointUDS, Directory: directory, UDSPort: port}
}

// SocketPath returns the concrete Unix-domain socket filename for a Uds
// endpoint, following PostgreSQL's ".s.PGSQL.<port>" naming convention.
func (e Endpoint) SocketPath() string {
	return fmt.Sprintf("%s/.s.PGSQL.%d", strings.TrimRight(e.Directory, "/"), e.UDSPort)
}

// String renders a human-readable endpoint description, in the
// "host:port"/"address:port"/"socket path (uds)" forms used in logs and
// error messages.
func (e Endpoint) String() string {
	switch e.Kind {
	case EndpointNet:
		h := e.Host
		if h == "" {
			h = e.Address
		}
		return fmt.Sprintf("%s:%d", h, e.Port)
	case EndpointUDS:
		return fmt.Sprintf("%s (uds)", e.SocketPath())
	case EndpointNamedPipe:
		return fmt.Sprintf(`\\%s\pipe\%s`, e.Server, e.Pipe)
	default:
		return "invalid endpoint"
	}
}
