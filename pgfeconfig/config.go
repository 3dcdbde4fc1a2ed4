// Package pgfeconfig loads pgfe.Options from a YAML file, with
// "${VAR}"-style environment variable substitution and optional
// fsnotify-based hot-reload.
package pgfeconfig

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/pgfe-go/pgfe"
)

// fileOptions is the YAML shape loaded from disk; it is translated into a
// *pgfe.Options via toOptions after validation.
type fileOptions struct {
	Host                 string        `yaml:"net_hostname"`
	Address              string        `yaml:"net_address"`
	Port                 int           `yaml:"port"`
	UDSDirectory         string        `yaml:"uds_directory"`
	Username             string        `yaml:"username"`
	Database             string        `yaml:"database"`
	Password             string        `yaml:"password"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	WaitResponseTimeout  time.Duration `yaml:"wait_response_timeout"`
	SSLEnabled           bool          `yaml:"ssl_enabled"`
	SSLCertificateFile   string        `yaml:"ssl_certificate_file"`
	SSLPrivateKeyFile    string        `yaml:"ssl_private_key_file"`
	TCPKeepalivesEnabled bool          `yaml:"tcp_keepalives_enabled"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment
// variable values, leaving unknown variables untouched.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML options file with environment variable
// substitution, rejecting unknown keys, and returns a validated
// *pgfe.Options.
func Load(path string) (*pgfe.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading options file: %w", err)
	}
	data = substituteEnvVars(data)

	var fo fileOptions
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fo); err != nil {
		return nil, fmt.Errorf("parsing options file: %w", err)
	}

	opts, err := toOptions(fo)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validating options: %w", err)
	}
	return opts, nil
}

func toOptions(fo fileOptions) (*pgfe.Options, error) {
	o := pgfe.NewOptions()
	var err error
	if fo.UDSDirectory != "" {
		if o, err = o.WithUDSDirectory(fo.UDSDirectory); err != nil {
			return nil, err
		}
	} else if fo.Host != "" {
		if o, err = o.WithNetHostname(fo.Host); err != nil {
			return nil, err
		}
	} else if fo.Address != "" {
		if o, err = o.WithNetAddress(fo.Address); err != nil {
			return nil, err
		}
	}
	if fo.Port != 0 {
		if o, err = o.WithPort(fo.Port); err != nil {
			return nil, err
		}
	}
	if o, err = o.WithUsername(fo.Username); err != nil {
		return nil, err
	}
	if o, err = o.WithDatabase(fo.Database); err != nil {
		return nil, err
	}
	if o, err = o.WithPassword(fo.Password); err != nil {
		return nil, err
	}
	if fo.ConnectTimeout > 0 {
		if o, err = o.WithConnectTimeout(fo.ConnectTimeout); err != nil {
			return nil, err
		}
	}
	if fo.WaitResponseTimeout > 0 {
		if o, err = o.WithWaitResponseTimeout(fo.WaitResponseTimeout); err != nil {
			return nil, err
		}
	}
	o.TCPKeepalivesEnabled = fo.TCPKeepalivesEnabled
	if fo.SSLEnabled {
		if o, err = o.WithSSL(true); err != nil {
			return nil, err
		}
		if fo.SSLCertificateFile != "" {
			if o, err = o.WithSSLCertificateFile(fo.SSLCertificateFile); err != nil {
				return nil, err
			}
		}
		if fo.SSLPrivateKeyFile != "" {
			if o, err = o.WithSSLPrivateKeyFile(fo.SSLPrivateKeyFile); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

// Watcher watches an options file for changes and calls the callback with
// the newly loaded Options after a 500ms debounce window, so editors that
// write a file in several bursts trigger a single reload.
type Watcher struct {
	path     string
	callback func(*pgfe.Options)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new options file watcher and starts its background
// goroutine.
func NewWatcher(path string, callback func(*pgfe.Options)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching options file: %w", err)
	}
	cw := &Watcher{path: path, callback: callback, watcher: w, stopCh: make(chan struct{})}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("pgfeconfig: watcher error", "error", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	opts, err := Load(cw.path)
	if err != nil {
		slog.Warn("pgfeconfig: hot-reload failed", "path", cw.path, "error", err)
		return
	}
	slog.Info("pgfeconfig: options reloaded", "path", cw.path)
	cw.callback(opts)
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
