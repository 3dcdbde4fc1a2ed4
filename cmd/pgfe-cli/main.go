// Command pgfe-cli is a small query runner built on the pgfe client
// library, useful for exercising a server or an options file by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pgfe-go/pgfe"
	"github.com/pgfe-go/pgfe/internal/metrics"
	"github.com/pgfe-go/pgfe/pgfeconfig"
	"github.com/pgfe-go/pgfe/pgfehttp"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a pgfeconfig YAML options file")
		host        = flag.String("host", "localhost", "server hostname (ignored if -config is set)")
		port        = flag.Int("port", 5432, "server port (ignored if -config is set)")
		user        = flag.String("user", "postgres", "username (ignored if -config is set)")
		database    = flag.String("dbname", "postgres", "database name (ignored if -config is set)")
		password    = flag.String("password", "", "password (ignored if -config is set)")
		query       = flag.String("query", "SELECT version()", "SQL to run")
		timeout     = flag.Duration("connect-timeout", 10*time.Second, "connection timeout")
		poolSize    = flag.Int("pool", 0, "run the query through a connection pool of this size (0 = single connection)")
		metricsAddr = flag.String("metrics-addr", "", "serve /healthz, /pool/stats and /metrics on this address (requires -pool)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	opts, err := resolveOptions(*configPath, *host, *port, *user, *database, *password, *timeout)
	if err != nil {
		logger.Error("pgfe-cli: invalid options", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *poolSize > 0 {
		runPooled(ctx, logger, opts, *poolSize, *metricsAddr, *query)
		return
	}
	runDirect(ctx, logger, opts, *query)
}

func runDirect(ctx context.Context, logger *slog.Logger, opts *pgfe.Options, query string) {
	conn := pgfe.NewConnection(opts)
	go func() {
		<-ctx.Done()
		logger.Info("pgfe-cli: shutting down")
		conn.Disconnect()
		os.Exit(0)
	}()

	if err := conn.Connect(); err != nil {
		logger.Error("pgfe-cli: connect failed", "error", err)
		os.Exit(1)
	}
	defer conn.Disconnect()

	runQuery(logger, conn, query)
}

func runPooled(ctx context.Context, logger *slog.Logger, opts *pgfe.Options, size int, metricsAddr, query string) {
	pool := pgfe.NewPool(size, opts)
	defer pool.Close()

	if metricsAddr != "" {
		collector := metrics.New()
		pool.SetMetrics(collector, "pgfe-cli")
		srv := pgfehttp.New(metricsAddr, pool, collector)
		defer srv.Close()
		go func() {
			logger.Info("pgfe-cli: serving introspection", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil {
				logger.Warn("pgfe-cli: introspection server stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("pgfe-cli: shutting down")
		pool.Close()
		os.Exit(0)
	}()

	if err := pool.Connect(); err != nil {
		logger.Error("pgfe-cli: pool connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Disconnect()

	h, err := pool.BorrowWait(30 * time.Second)
	if err != nil {
		logger.Error("pgfe-cli: borrow failed", "error", err)
		os.Exit(1)
	}
	defer h.Release()

	runQuery(logger, h.Conn(), query)
}

func runQuery(logger *slog.Logger, conn *pgfe.Connection, query string) {
	completions, err := conn.Perform(query, printRow)
	if err != nil {
		logger.Error("pgfe-cli: query failed", "error", err)
		os.Exit(1)
	}
	for _, c := range completions {
		fmt.Fprintf(os.Stdout, "-- %s\n", c.Tag)
	}
}

func printRow(r *pgfe.Row) error {
	for i := 0; i < r.Size(); i++ {
		if i > 0 {
			fmt.Fprint(os.Stdout, "\t")
		}
		d := r.Data(i)
		if d == nil {
			fmt.Fprint(os.Stdout, "NULL")
			continue
		}
		fmt.Fprint(os.Stdout, string(d.Bytes()))
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

func resolveOptions(configPath, host string, port int, user, database, password string, connectTimeout time.Duration) (*pgfe.Options, error) {
	if configPath != "" {
		return pgfeconfig.Load(configPath)
	}
	o := pgfe.NewOptions()
	var err error
	if o, err = o.WithNetHostname(host); err != nil {
		return nil, err
	}
	if o, err = o.WithPort(port); err != nil {
		return nil, err
	}
	if o, err = o.WithUsername(user); err != nil {
		return nil, err
	}
	if o, err = o.WithDatabase(database); err != nil {
		return nil, err
	}
	if o, err = o.WithPassword(password); err != nil {
		return nil, err
	}
	if o, err = o.WithConnectTimeout(connectTimeout); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}
