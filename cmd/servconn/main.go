// Command servconn keeps a Threema server connection alive.
//
// It logs in to the chat server directly, or through the mediator when
// multi-device is configured, and reconnects with backoff until stopped.
//
// Usage:
//
//	servconn -config <file> [flags]
//
// Flags:
//
//	-config string         Configuration file path (required)
//	-log-level string      Log level: debug, info, warn, error
//	-protocol-log string   Write protocol events to a CBOR file
//	-metrics string        Serve Prometheus metrics on this address
//	-discover              Look up the chat server via mDNS
//	-interactive           Start the interactive console
//
// Examples:
//
//	# Connect and capture the protocol
//	servconn -config servconn.yaml -protocol-log /tmp/servconn.log
//
//	# Interactive session with metrics
//	servconn -config servconn.yaml -interactive -metrics :9100
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threema-ch/servconn/cmd/servconn/interactive"
	"github.com/threema-ch/servconn/pkg/config"
	"github.com/threema-ch/servconn/pkg/connection"
	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/discovery"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/metrics"
)

// Options are the command line flags. Non-empty values override the file.
type Options struct {
	ConfigFile  string
	LogLevel    string
	ProtocolLog string
	MetricsAddr string
	Discover    bool
	Interactive bool
}

var opts Options

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (required)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.ProtocolLog, "protocol-log", "", "Write protocol events to a CBOR file")
	flag.StringVar(&opts.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&opts.Discover, "discover", false, "Look up the chat server via mDNS")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Start the interactive console")
}

func main() {
	flag.Parse()

	if opts.ConfigFile == "" {
		fmt.Fprintln(os.Stderr, "servconn: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "servconn: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out io.Writer = os.Stderr
	var console *interactive.Console
	if opts.Interactive {
		console, err = interactive.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "servconn: %v\n", err)
			os.Exit(1)
		}
		out = console.Stdout()
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "servconn: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(ctx, cancel, cfg, logger, console); err != nil {
		logger.Error("servconn failed", "error", err)
		os.Exit(1)
	}
}

func applyOverrides(cfg *config.Config) {
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.ProtocolLog != "" {
		cfg.ProtocolLog = opts.ProtocolLog
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if opts.Discover {
		cfg.Discovery.Enabled = true
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", s)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *slog.Logger, console *interactive.Console) error {
	protocolLogger, closeLog, err := protocolLog(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	deps, err := newDependencies(cfg, reg, protocolLogger, logger)
	if err != nil {
		return err
	}
	defer deps.stop()

	conn, err := connection.NewConvertibleServerConnection(connection.ConvertibleConfig{
		NewCsp:      deps.newCsp,
		NewD2m:      deps.newD2m,
		MultiDevice: cfg.IsMultiDevice(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	conn.AddConnectionStateListener(stateLogger{logger: logger})

	if reg != nil {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting", "multi_device", cfg.IsMultiDevice(), "identity", cfg.Identity.ID)
	if err := conn.Start(); err != nil {
		return err
	}
	defer conn.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if console != nil {
		go console.Run(ctx, cancel, conn)
	}

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	return nil
}

// protocolLog opens the protocol capture. At debug level the events are also
// written to the slog logger.
func protocolLog(cfg *config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	var capture, console log.Logger
	closeFn := func() {}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(log.FileLoggerConfig{
			Path:       cfg.ProtocolLog,
			Identity:   cfg.Identity.ID,
			ClientInfo: cfg.ClientInfo,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		capture = fl
		closeFn = func() {
			if err := fl.Close(); err != nil {
				logger.Warn("closing protocol log failed", "error", err, "events", fl.Written())
			}
		}
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		console = log.NewSlogAdapter(logger.With("component", "protocol"))
	}
	return log.Join(capture, console), closeFn, nil
}

// dependencies are shared by the CSP and the D2M connection so that a
// conversion keeps the cookie, the lock and the metrics.
type dependencies struct {
	cfg            *config.Config
	identity       csp.IdentityStore
	addresses      csp.ServerAddressProvider
	cookies        csp.DeviceCookieManager
	locks          *connection.TimedLockProvider
	cspMetrics     *metrics.Recorder
	d2mMetrics     *metrics.Recorder
	protocolLogger log.Logger
	logger         *slog.Logger
	stop           func()
}

func newDependencies(cfg *config.Config, reg *prometheus.Registry, protocolLogger log.Logger, logger *slog.Logger) (*dependencies, error) {
	identity, err := cfg.IdentityStore()
	if err != nil {
		return nil, err
	}
	static, err := cfg.AddressProvider()
	if err != nil {
		return nil, err
	}

	d := &dependencies{
		cfg:            cfg,
		identity:       identity,
		addresses:      static,
		cookies:        csp.NewFileDeviceCookieManager(cfg.DeviceCookiePath),
		locks:          connection.NewTimedLockProvider(logger),
		protocolLogger: protocolLogger,
		logger:         logger,
		stop:           func() {},
	}

	if cfg.Discovery.Enabled {
		browser := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig(), logger)
		provider, err := discovery.NewAddressProvider(discovery.AddressProviderConfig{
			Browser:  browser,
			Fallback: static,
			Timeout:  cfg.Discovery.Timeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		d.addresses = provider
		d.stop = browser.Stop
	}

	if reg != nil {
		if d.cspMetrics, err = metrics.NewRecorder(reg, "csp", connection.StateNames()); err != nil {
			return nil, err
		}
		if d.d2mMetrics, err = metrics.NewRecorder(reg, "d2m", connection.StateNames()); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *dependencies) newCsp() (connection.ServerConnection, error) {
	return connection.NewCspConnection(connection.CspConnectionConfig{
		IdentityStore:         d.identity,
		ServerAddressProvider: d.addresses,
		DeviceCookieManager:   d.cookies,
		ClientInfo:            d.cfg.ClientInfo,
		LockProvider:          d.locks,
		LockTimeout:           d.cfg.Timing.LockTimeout,
		Backoff:               d.cfg.Backoff(),
		Monitoring:            d.cfg.Monitoring(),
		ConnectTimeout:        d.cfg.Timing.ConnectTimeout,
		Metrics:               d.cspMetrics,
		ProtocolLogger:        d.protocolLogger,
		Logger:                d.logger,
	})
}

func (d *dependencies) newD2m() (connection.ServerConnection, error) {
	props, err := d.cfg.MultiDeviceProperties()
	if err != nil {
		return nil, err
	}
	return connection.NewD2mConnection(connection.D2mConnectionConfig{
		IdentityStore:         d.identity,
		ServerAddressProvider: d.addresses,
		DeviceCookieManager:   d.cookies,
		ClientInfo:            d.cfg.ClientInfo,
		MultiDevice:           props,
		LockProvider:          d.locks,
		LockTimeout:           d.cfg.Timing.LockTimeout,
		Backoff:               d.cfg.Backoff(),
		Monitoring:            d.cfg.Monitoring(),
		ConnectTimeout:        d.cfg.Timing.ConnectTimeout,
		Metrics:               d.d2mMetrics,
		ProtocolLogger:        d.protocolLogger,
		Logger:                d.logger,
	})
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

type stateLogger struct {
	logger *slog.Logger
}

func (l stateLogger) UpdateConnectionState(state connection.State) {
	l.logger.Info("connection state", "state", state)
}
