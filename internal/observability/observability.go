// Package observability installs the process-wide logger.
//
// Logs always go to stderr as text or JSON. Optionally they are also exported through
// an OpenTelemetry log pipeline (stdout, OTLP/gRPC or OTLP/HTTP), configured through
// the standard OTEL_EXPORTER_OTLP_* environment variables.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records emitted through the OpenTelemetry bridge.
const instrumentationName = "github.com/florianilch/mcpcreds"

// Exporter selects where OpenTelemetry log records are sent.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	ExporterOTLPHTTP Exporter = "otlp-http"
)

// Options configures Instrument.
type Options struct {
	Level    slog.Level
	Format   string // "text" or "json"
	Exporter Exporter
	// Writer receives console output. Defaults to os.Stderr.
	Writer io.Writer
}

// ShutdownFunc flushes and stops the log pipeline.
type ShutdownFunc func(context.Context) error

// Instrument builds the logger described by opts and installs it as slog's default.
// The returned ShutdownFunc must be called before exit to flush exported records.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	logger, shutdown, err := NewLogger(ctx, opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return shutdown, nil
}

// NewLogger builds the logger described by opts without installing it.
func NewLogger(ctx context.Context, opts Options) (*slog.Logger, ShutdownFunc, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var console slog.Handler
	switch opts.Format {
	case "", "text":
		console = slog.NewTextHandler(w, handlerOpts)
	case "json":
		console = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s", opts.Format)
	}
	console = withTraceIDs(console)

	exporter, err := newExporter(ctx, opts.Exporter, w)
	if err != nil {
		return nil, nil, err
	}
	if exporter == nil {
		return slog.New(console), func(context.Context) error { return nil }, nil
	}

	var processor sdklog.Processor
	if opts.Exporter == ExporterStdout {
		processor = sdklog.NewSimpleProcessor(exporter)
	} else {
		processor = sdklog.NewBatchProcessor(exporter)
	}
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(opts.Level))),
	)

	global.SetLoggerProvider(provider)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		// Report to the console only; the pipeline that failed cannot carry its own errors
		slog.New(console).Warn("opentelemetry error", "error", err)
	}))

	bridge := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))

	shutdown := func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}
	return slog.New(fanout{console, bridge}), shutdown, nil
}

// newExporter returns the configured exporter, or nil for ExporterNone.
func newExporter(ctx context.Context, kind Exporter, w io.Writer) (sdklog.Exporter, error) {
	switch kind {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	case ExporterOTLPHTTP:
		return otlploghttp.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", kind)
	}
}
