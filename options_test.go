package pgfe

import (
	"testing"
	"time"
)

func newValidOptions(t *testing.T) *Options {
	t.Helper()
	o := NewOptions()
	if _, err := o.WithNetHostname("db.example.com"); err != nil {
		t.Fatalf("WithNetHostname: %v", err)
	}
	if _, err := o.WithUsername("app"); err != nil {
		t.Fatalf("WithUsername: %v", err)
	}
	if _, err := o.WithDatabase("appdb"); err != nil {
		t.Fatalf("WithDatabase: %v", err)
	}
	return o
}

func TestOptionsDefaults(t *testing.T) {
	o := NewOptions()
	if o.Port != 5432 {
		t.Errorf("default Port = %d, want 5432", o.Port)
	}
	if o.ResultFormat != FormatText {
		t.Errorf("default ResultFormat = %v, want text", o.ResultFormat)
	}
	if !o.TCPKeepalivesEnabled {
		t.Errorf("default TCPKeepalivesEnabled should be true")
	}
}

func TestOptionsValidateRequiresUsernameAndDatabase(t *testing.T) {
	o := NewOptions()
	if _, err := o.WithNetHostname("db.example.com"); err != nil {
		t.Fatalf("WithNetHostname: %v", err)
	}
	if err := o.Validate(); err == nil {
		t.Errorf("expected Validate() to fail without username/database")
	}
}

func TestOptionsValidateSucceeds(t *testing.T) {
	o := newValidOptions(t)
	if err := o.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestOptionsRejectsNegativeTimeouts(t *testing.T) {
	o := NewOptions()
	if _, err := o.WithConnectTimeout(-1 * time.Second); err == nil {
		t.Errorf("expected error for negative connect timeout")
	}
	if _, err := o.WithWaitResponseTimeout(0); err == nil {
		t.Errorf("expected error for zero wait_response timeout")
	}
}

func TestOptionsRejectsEmptyUsernameDatabase(t *testing.T) {
	o := NewOptions()
	if _, err := o.WithUsername(""); err == nil {
		t.Errorf("expected error for empty username")
	}
	if _, err := o.WithDatabase(""); err == nil {
		t.Errorf("expected error for empty database")
	}
}

func TestOptionsSSLOnlyFieldsRequireSSLEnabled(t *testing.T) {
	o := NewOptions()
	if _, err := o.WithSSLCertificateFile("/etc/pg/cert.pem"); err == nil {
		t.Errorf("expected error setting cert file before enabling SSL")
	}
	if _, err := o.WithSSL(true); err != nil {
		t.Fatalf("WithSSL(true): %v", err)
	}
	if _, err := o.WithSSLCertificateFile("/etc/pg/cert.pem"); err != nil {
		t.Errorf("WithSSLCertificateFile after enabling SSL: %v", err)
	}
}

func TestOptionsDisablingSSLWithMaterialSetFails(t *testing.T) {
	o := NewOptions()
	o.SSLEnabled = true
	if _, err := o.WithSSLCertificateFile("/etc/pg/cert.pem"); err != nil {
		t.Fatalf("WithSSLCertificateFile: %v", err)
	}
	if _, err := o.WithSSL(false); err == nil {
		t.Errorf("expected error disabling SSL while cert file is still set")
	}
}

func TestOptionsCloneIsIndependent(t *testing.T) {
	o := newValidOptions(t)
	d := 5 * time.Second
	if _, err := o.WithConnectTimeout(d); err != nil {
		t.Fatalf("WithConnectTimeout: %v", err)
	}
	cp := o.Clone()
	*cp.ConnectTimeout = 10 * time.Second
	if *o.ConnectTimeout != d {
		t.Errorf("mutating clone's ConnectTimeout leaked into original: %v", *o.ConnectTimeout)
	}
}

func TestOptionsEndpointDerivation(t *testing.T) {
	o := newValidOptions(t)
	ep := o.Endpoint()
	if ep.Kind != EndpointNet || ep.Host != "db.example.com" {
		t.Errorf("Endpoint() = %+v", ep)
	}

	o2 := NewOptions()
	if _, err := o2.WithUDSDirectory("/var/run/postgresql"); err != nil {
		t.Fatalf("WithUDSDirectory: %v", err)
	}
	ep2 := o2.Endpoint()
	if ep2.Kind != EndpointUDS {
		t.Errorf("Endpoint() = %+v, want UDS kind", ep2)
	}
}
