package pgfe

import "time"

// CommunicationMode selects which Endpoint kind Options.Endpoint carries.
type CommunicationMode int

const (
	CommNet CommunicationMode = iota
	CommUDS
)

// Options is an immutable-by-convention configuration record consumed by
// reference at Connection construction. Every field below except
// ResultFormat corresponds to
// one of the recognized configuration keys named in the external-interface
// contract: communication_mode, connect_timeout, wait_response_timeout,
// wait_last_response_timeout, uds_directory,
// uds_require_server_process_username, tcp_keepalives_enabled,
// tcp_keepalives_idle, tcp_keepalives_interval, tcp_keepalives_count,
// net_address, net_hostname, port, username, database, password,
// kerberos_service_name, ssl_enabled, ssl_compression_enabled,
// ssl_certificate_file, ssl_private_key_file,
// ssl_certificate_authority_file, ssl_certificate_revocation_list_file,
// ssl_server_hostname_verification_enabled.
//
// Setters validate eagerly and return an error rather than panicking, so
// callers can build an Options value incrementally and bail out at the
// first invalid field. All fields are consumed only at connect() time;
// mutating an Options after a Connection has already connected takes effect
// only on the next connect().
type Options struct {
	CommunicationMode CommunicationMode

	ConnectTimeout          *time.Duration
	WaitResponseTimeout     *time.Duration
	WaitLastResponseTimeout *time.Duration

	UDSDirectory                    string
	UDSRequireServerProcessUsername string

	TCPKeepalivesEnabled  bool
	TCPKeepalivesIdle     time.Duration
	TCPKeepalivesInterval time.Duration
	TCPKeepalivesCount    int

	NetAddress  string
	NetHostname string
	Port        int

	Username            string
	Database            string
	Password            string
	KerberosServiceName string

	SSLEnabled                           bool
	SSLCompressionEnabled                bool
	SSLCertificateFile                   string
	SSLPrivateKeyFile                    string
	SSLCertificateAuthorityFile          string
	SSLCertificateRevocationListFile     string
	SSLServerHostnameVerificationEnabled bool

	ResultFormat Format
}

// NewOptions returns an Options with the library's defaults: net
// communication, port 5432, no TLS, TCP keepalives on, text result format.
func NewOptions() *Options {
	return &Options{
		CommunicationMode:     CommNet,
		Port:                  5432,
		TCPKeepalivesEnabled:  true,
		TCPKeepalivesIdle:     2 * time.Minute,
		TCPKeepalivesInterval: 30 * time.Second,
		TCPKeepalivesCount:    3,
		ResultFormat:          FormatText,
	}
}

func (o *Options) WithNetHostname(host string) (*Options, error) {
	if err := validateHostname(host); err != nil {
		return nil, err
	}
	o.NetHostname = host
	o.NetAddress = ""
	o.CommunicationMode = CommNet
	return o, nil
}

func (o *Options) WithNetAddress(addr string) (*Options, error) {
	if err := (Endpoint{Kind: EndpointNet, Address: addr, Port: 1}).Validate(); err != nil {
		return nil, err
	}
	o.NetAddress = addr
	o.NetHostname = ""
	o.CommunicationMode = CommNet
	return o, nil
}

func (o *Options) WithPort(port int) (*Options, error) {
	if port < 1 || port > 65535 {
		return nil, newClientError(ErrInvalidArgument, "port out of range [1,65535]")
	}
	o.Port = port
	return o, nil
}

func (o *Options) WithUDSDirectory(dir string) (*Options, error) {
	if len(dir) == 0 || dir[0] != '/' {
		return nil, newClientError(ErrInvalidArgument, "uds directory must be an absolute path")
	}
	o.UDSDirectory = dir
	o.CommunicationMode = CommUDS
	return o, nil
}

func (o *Options) WithUsername(u string) (*Options, error) {
	if u == "" {
		return nil, newClientError(ErrInvalidArgument, "username must not be empty")
	}
	o.Username = u
	return o, nil
}

func (o *Options) WithDatabase(db string) (*Options, error) {
	if db == "" {
		return nil, newClientError(ErrInvalidArgument, "database must not be empty")
	}
	o.Database = db
	return o, nil
}

func (o *Options) WithPassword(p string) (*Options, error) {
	o.Password = p
	return o, nil
}

func (o *Options) WithConnectTimeout(d time.Duration) (*Options, error) {
	if d <= 0 {
		return nil, newClientError(ErrInvalidArgument, "connect timeout must be positive")
	}
	o.ConnectTimeout = &d
	return o, nil
}

func (o *Options) WithWaitResponseTimeout(d time.Duration) (*Options, error) {
	if d <= 0 {
		return nil, newClientError(ErrInvalidArgument, "wait_response timeout must be positive")
	}
	o.WaitResponseTimeout = &d
	return o, nil
}

func (o *Options) WithWaitLastResponseTimeout(d time.Duration) (*Options, error) {
	if d <= 0 {
		return nil, newClientError(ErrInvalidArgument, "wait_last_response timeout must be positive")
	}
	o.WaitLastResponseTimeout = &d
	return o, nil
}

// WithSSL enables TLS and validates that TLS-only fields are consistent:
// a CRL or client certificate file requires SSLEnabled to be set first.
func (o *Options) WithSSL(enabled bool) (*Options, error) {
	o.SSLEnabled = enabled
	if !enabled {
		if o.SSLCertificateFile != "" || o.SSLPrivateKeyFile != "" || o.SSLCertificateRevocationListFile != "" {
			return nil, newClientError(ErrInvalidArgument, "TLS material set while ssl_enabled is false")
		}
	}
	return o, nil
}

func (o *Options) WithSSLCertificateFile(path string) (*Options, error) {
	if !o.SSLEnabled {
		return nil, newClientError(ErrInvalidArgument, "ssl_certificate_file requires ssl_enabled")
	}
	o.SSLCertificateFile = path
	return o, nil
}

func (o *Options) WithSSLPrivateKeyFile(path string) (*Options, error) {
	if !o.SSLEnabled {
		return nil, newClientError(ErrInvalidArgument, "ssl_private_key_file requires ssl_enabled")
	}
	o.SSLPrivateKeyFile = path
	return o, nil
}

// Endpoint derives the concrete Endpoint this Options would connect to.
func (o *Options) Endpoint() Endpoint {
	if o.CommunicationMode == CommUDS {
		return UDSEndpoint(o.UDSDirectory, o.Port)
	}
	return NetEndpoint(o.NetHostname, o.NetAddress, o.Port)
}

// Validate runs the final consistency check performed before Connection
// construction: re-validates the derived Endpoint and required
// authentication fields.
func (o *Options) Validate() error {
	if err := o.Endpoint().Validate(); err != nil {
		return err
	}
	if o.Username == "" {
		return newClientError(ErrInvalidArgument, "username is required")
	}
	if o.Database == "" {
		return newClientError(ErrInvalidArgument, "database is required")
	}
	if o.ConnectTimeout != nil && *o.ConnectTimeout <= 0 {
		return newClientError(ErrInvalidArgument, "connect timeout must be positive")
	}
	return nil
}

// Clone returns an independent copy, so a Pool can hand out derived Options
// per-slot without callers of one Connection mutating another's view.
func (o *Options) Clone() *Options {
	cp := *o
	if o.ConnectTimeout != nil {
		d := *o.ConnectTimeout
		cp.ConnectTimeout = &d
	}
	if o.WaitResponseTimeout != nil {
		d := *o.WaitResponseTimeout
		cp.WaitResponseTimeout = &d
	}
	if o.WaitLastResponseTimeout != nil {
		d := *o.WaitLastResponseTimeout
		cp.WaitLastResponseTimeout = &d
	}
	return &cp
}
