// Command fluxsink reads JSON events from stdin and writes them to
// time-bucketed files.
//
// Usage:
//
//	fluxsink init-config > sink.yaml
//	tail -F app.jsonl | fluxsink --config sink.yaml --metrics-addr :9102
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxorio/fluxsink/pkg/config"
	"github.com/fluxorio/fluxsink/pkg/core"
	"github.com/fluxorio/fluxsink/pkg/fileout"
	"github.com/fluxorio/fluxsink/pkg/observability/otel"
	prom "github.com/fluxorio/fluxsink/pkg/observability/prometheus"
)

var version = "0.1.0"

const (
	maxLineBytes    = 4 << 20
	shutdownTimeout = 30 * time.Second
)

type options struct {
	configPath    string
	path          string
	metricsAddr   string
	trace         string
	traceEndpoint string
	logLevel      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "fluxsink",
		Short:         "Write JSON events from stdin to time-bucketed files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := run(cmd.Context(), opts, stdin, stdout, stderr)
			if err != nil {
				fmt.Fprintln(stderr, "fluxsink:", err)
			}
			return err
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML or JSON sink configuration")
	f.StringVar(&opts.path, "path", "", "output path template, overrides the config file")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&opts.trace, "trace", otel.ExporterNone, "trace exporter: stdout, zipkin or none")
	f.StringVar(&opts.traceEndpoint, "trace-endpoint", "", "zipkin collector URL")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	cmd.AddCommand(newInitConfigCmd(stdout))
	return cmd
}

func newInitConfigCmd(stdout io.Writer) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Print a configuration with every default filled in",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return config.SaveYAML(stdout, fileout.DefaultConfig(path))
		},
	}
	cmd.Flags().StringVar(&path, "path", "/var/log/fluxsink/out", "output path template")
	return cmd
}

func loadConfig(opts options) (fileout.Config, error) {
	cfg := fileout.DefaultConfig("")
	if err := config.LoadWithEnv(opts.configPath, config.DefaultEnvPrefix, &cfg); err != nil {
		return cfg, err
	}
	if opts.path != "" {
		cfg.Path = opts.path
	}
	return cfg, nil
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout, stderr io.Writer) error {
	if err := core.ParseLevel(opts.logLevel); err != nil {
		return err
	}
	logger := core.NewJSONLogger(stderr)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if opts.trace != "" && opts.trace != otel.ExporterNone {
		err := otel.Initialize(ctx, otel.Config{
			ServiceName:    "fluxsink",
			ServiceVersion: version,
			Exporter:       opts.trace,
			Endpoint:       opts.traceEndpoint,
			Writer:         stderr,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otel.Shutdown(sctx)
		}()
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if opts.metricsAddr != "" {
		go func() {
			if err := prom.Serve(metricsCtx, opts.metricsAddr, nil); err != nil {
				logger.Error("metrics server failed", "addr", opts.metricsAddr, "error", err)
			}
		}()
	}

	written := newPathSet()
	out, err := fileout.New(cfg,
		fileout.WithLogger(logger),
		fileout.WithMetrics(prom.GetMetrics()),
		fileout.WithTracer(otel.Tracer()),
		fileout.WithFlushCallback(func(_, path string) { written.add(path) }),
	)
	if err != nil {
		return err
	}
	if err := out.Start(ctx); err != nil {
		return err
	}

	gate := &inputGate{}
	readErr := make(chan error, 1)
	go func() { readErr <- consume(stdin, out, logger, gate) }()

	select {
	case err = <-readErr:
	case <-ctx.Done():
		logger.Info("signal received, flushing")
	}
	// No emit is in flight once the gate is closed.
	gate.close()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := out.Stop(stopCtx); serr != nil {
		err = errors.Join(err, serr)
	}

	for _, p := range written.sorted() {
		fmt.Fprintln(stdout, p)
	}
	return err
}

// inputGate keeps the reader from emitting once shutdown begins. A read
// blocked on stdin cannot be interrupted, so the gate is closed instead and
// the reader is abandoned.
type inputGate struct {
	mu     sync.Mutex
	closed bool
}

// do runs fn unless the gate is closed.
func (g *inputGate) do(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	fn()
	return true
}

func (g *inputGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// consume emits every line of r until r ends or gate closes. Malformed
// lines are logged and skipped.
func consume(r io.Reader, out *fileout.Output, logger core.Logger, gate *inputGate) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		rec, err := parseEvent(b, time.Now)
		if err != nil {
			prom.GetMetrics().RecordDrop("parse")
			logger.Warn("event dropped", "line", line, "error", err)
			continue
		}
		open := gate.do(func() {
			if err := out.Emit(rec); err != nil {
				logger.Warn("event dropped", "line", line, "error", err)
			}
		})
		if !open {
			prom.GetMetrics().RecordDrop("shutdown")
			logger.Info("input closed, remaining lines ignored", "line", line)
			return nil
		}
	}
	return sc.Err()
}

type pathSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newPathSet() *pathSet { return &pathSet{paths: make(map[string]struct{})} }

func (s *pathSet) add(p string) {
	s.mu.Lock()
	s.paths[p] = struct{}{}
	s.mu.Unlock()
}

func (s *pathSet) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
