// feed-consumer connects to a market-data provider, establishes a session
// and consumes market-price items until its run time expires.
//
// Usage:
//
//	feed-consumer [-h <SrvrHostname>] [-p <SrvrPortNo>] [-i <InterfaceName>] [-r <runTime>] [-s <ServiceName>] [options]
//
// Options beyond the classic five:
//
//	-c, --config     YAML or TOML config file, overridden by flags
//	--dict-dir       directory holding RDMFieldDictionary and enumtype.def
//	--items          market-price items to request (comma separated)
//	--tls            encrypt the connection
//	--tls-ca         PEM bundle used to verify the provider
//	--tls-insecure   skip provider certificate verification
//	--discover       resolve host and port from an mDNS provider instance
//	--metrics-addr   serve Prometheus metrics on this address
//	--log-level      error, warn, info, debug or trace
//
// Example:
//
//	feed-consumer -h provider.local -p 14002 -s DIRECT_FEED -r 60 --items TRI.N,IBM.N
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/backkem/feedconsumer/pkg/consumer"
	"github.com/backkem/feedconsumer/pkg/discovery"
	"github.com/backkem/feedconsumer/pkg/metrics"
)

const usageText = "feed-consumer [-h <SrvrHostname>] [-p <SrvrPortNo>] [-i <InterfaceName>] " +
	"[-r <runTime>] [-s <ServiceName>] [options]"

func init() {
	// -h is the host flag.
	cli.HelpFlag = &cli.BoolFlag{Name: "help", Usage: "show help"}
}

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stdout, os.Stderr, nil))
}

// run executes the CLI and returns the process exit code. A nil resolver
// means discovery uses the system mDNS stack.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, resolver discovery.MDNSResolver) int {
	a := &application{stdout: stdout, stderr: stderr, mdns: resolver}
	err := a.cli().RunContext(ctx, args)
	if err == nil {
		return 0
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		if msg := exitCoder.Error(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		return exitCoder.ExitCode()
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

type application struct {
	stdout io.Writer
	stderr io.Writer
	mdns   discovery.MDNSResolver
}

func (a *application) cli() *cli.App {
	return &cli.App{
		Name:            "feed-consumer",
		Usage:           "Market-data feed consumer",
		UsageText:       usageText,
		HideHelpCommand: true,
		Writer:          a.stdout,
		ErrWriter:       a.stderr,
		Flags:           flags(),
		Action:          a.action,
		OnUsageError: func(c *cli.Context, err error, _ bool) error {
			fmt.Fprintf(a.stderr, "%v\n\n", err)
			c.App.Writer = a.stderr
			_ = cli.ShowAppHelp(c)
			return cli.Exit("", 1)
		},
		// Exit codes are returned from run instead of calling os.Exit here.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Aliases: []string{"h"}, Usage: "provider host name", Value: consumer.DefaultHost},
		&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "provider port", Value: consumer.DefaultPort},
		&cli.StringFlag{Name: "interface", Aliases: []string{"i"}, Usage: "local interface to bind"},
		&cli.IntFlag{Name: "runtime", Aliases: []string{"r"}, Usage: "run time in seconds",
			Value: int(consumer.DefaultRunTime / time.Second)},
		&cli.StringFlag{Name: "service", Aliases: []string{"s"}, Usage: "service name", Value: consumer.DefaultServiceName},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or TOML config file"},
		&cli.StringFlag{Name: "dict-dir", Usage: "directory holding local dictionary files"},
		&cli.StringSliceFlag{Name: "items", Usage: "market-price items to request"},
		&cli.BoolFlag{Name: "tls", Usage: "encrypt the connection"},
		&cli.StringFlag{Name: "tls-ca", Usage: "PEM bundle used to verify the provider"},
		&cli.BoolFlag{Name: "tls-insecure", Usage: "skip provider certificate verification"},
		&cli.StringFlag{Name: "discover", Usage: "mDNS provider instance to connect to"},
		&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
		&cli.StringFlag{Name: "log-level", Usage: "error, warn, info, debug or trace", Value: "info"},
	}
}

func (a *application) action(c *cli.Context) error {
	if c.NArg() > 0 {
		fmt.Fprintf(a.stderr, "unexpected argument %q\n\n", c.Args().First())
		c.App.Writer = a.stderr
		_ = cli.ShowAppHelp(c)
		return cli.Exit("", 1)
	}

	factory, err := newLoggerFactory(c.String("log-level"), a.stderr)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	cfg, err := buildConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("feed-consumer: %v", err), 1)
	}
	cfg.LoggerFactory = factory

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if instance := c.String("discover"); instance != "" {
		if err := a.discover(ctx, c, &cfg, instance, factory); err != nil {
			return cli.Exit(fmt.Sprintf("feed-consumer: discover %q: %v", instance, err), 1)
		}
	}

	var collector *metrics.Collector
	if c.IsSet("metrics-addr") {
		collector = metrics.New()
		cfg.Metrics = collector
	}

	session, err := consumer.NewSession(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("feed-consumer: %v", err), 1)
	}

	err = a.serve(ctx, session, c.String("metrics-addr"), collector)
	switch {
	case err == nil:
		fmt.Fprintln(a.stdout, "Consumer run-time expired")
		fmt.Fprintln(a.stdout, session.Summary())
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(a.stdout, "Consumer interrupted")
		fmt.Fprintln(a.stdout, session.Summary())
		return nil
	default:
		return cli.Exit(fmt.Sprintf("feed-consumer: %v", err), 1)
	}
}

// serve runs the session and, if addr is set, the metrics endpoint next to
// it. The endpoint is shut down once the session returns.
func (a *application) serve(ctx context.Context, session *consumer.Session, addr string, collector *metrics.Collector) error {
	if addr == "" {
		return session.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		return session.Run(gctx)
	})
	return g.Wait()
}

// buildConfig loads the config file, if any, and overlays explicitly set
// flags on top of it.
func buildConfig(c *cli.Context) (consumer.Config, error) {
	cfg := consumer.DefaultConfig()
	if path := c.String("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return consumer.Config{}, err
		}
	}

	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.String("port")
	}
	if c.IsSet("interface") {
		cfg.Interface = c.String("interface")
	}
	if c.IsSet("runtime") {
		cfg.RunTime = time.Duration(c.Int("runtime")) * time.Second
	}
	if c.IsSet("service") {
		cfg.ServiceName = c.String("service")
	}
	if c.IsSet("dict-dir") {
		cfg.DictionaryDir = c.String("dict-dir")
	}
	if c.IsSet("items") {
		cfg.Items = c.StringSlice("items")
	}
	if c.IsSet("tls") {
		cfg.TLS.Enabled = c.Bool("tls")
	}
	if c.IsSet("tls-ca") {
		cfg.TLS.CAFile = c.String("tls-ca")
		cfg.TLS.Enabled = true
	}
	if c.IsSet("tls-insecure") {
		cfg.TLS.Insecure = c.Bool("tls-insecure")
	}
	return cfg, cfg.Validate()
}

// discover resolves instance over mDNS and points cfg at it.
func (a *application) discover(ctx context.Context, c *cli.Context, cfg *consumer.Config, instance string, factory logging.LoggerFactory) error {
	resolver, err := discovery.NewResolver(discovery.ResolverConfig{
		MDNSResolver:  a.mdns,
		LoggerFactory: factory,
	})
	if err != nil {
		return err
	}
	p, err := resolver.LookupProvider(ctx, instance)
	if err != nil {
		return err
	}

	cfg.Host = p.Host()
	cfg.Port = p.PortString()
	if p.TXT.TLS && !c.IsSet("tls") {
		cfg.TLS.Enabled = true
	}
	if !p.TXT.Offers(cfg.ServiceName) {
		fmt.Fprintf(a.stderr, "warning: %s does not advertise service %s\n", instance, cfg.ServiceName)
	}
	return nil
}

func newLoggerFactory(level string, w io.Writer) (*logging.DefaultLoggerFactory, error) {
	levels := map[string]logging.LogLevel{
		"disabled": logging.LogLevelDisabled,
		"error":    logging.LogLevelError,
		"warn":     logging.LogLevelWarn,
		"info":     logging.LogLevelInfo,
		"debug":    logging.LogLevelDebug,
		"trace":    logging.LogLevelTrace,
	}
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = lvl
	factory.Writer = w
	return factory, nil
}
