package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mcpcreds/internal/app"
	"github.com/florianilch/mcpcreds/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

// runner carries the app options every command session is built with.
type runner struct {
	appOpts []app.Option
}

func newRootCommand(opts ...app.Option) *cli.Command {
	r := &runner{appOpts: opts}

	return &cli.Command{
		Name:  "mcpcreds",
		Usage: "Manage MCP server OAuth credentials and folder trust",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "OpenTelemetry log exporter (none|stdout|otlp-grpc|otlp-http)",
				Value: string(app.DefaultConfigLogExporter),
			},
			&cli.StringFlag{
				Name:  "storage--service",
				Usage: "keyring service name credentials are stored under",
				Value: app.DefaultConfigStorageService,
			},
			&cli.StringFlag{
				Name:  "storage--file",
				Usage: "encrypted fallback file (default: <user config dir>/mcpcreds/" + app.DefaultConfigStorageFileName + ")",
			},
			&cli.BoolFlag{
				Name:  "storage--force-file",
				Usage: "skip the OS keyring and always use the encrypted file",
			},
			&cli.BoolFlag{
				Name:  "storage--json-refresh",
				Usage: "send token refresh requests JSON-encoded",
			},
			&cli.BoolFlag{
				Name:  "trust--enabled",
				Usage: "enforce folder trust",
			},
			&cli.StringFlag{
				Name:  "trust--file",
				Usage: "trusted folders file (default: <user config dir>/mcpcreds/trustedFolders.json)",
			},
			&cli.StringFlag{
				Name:  "trust--inheritance",
				Usage: "how DO_NOT_TRUST interacts with ancestor trust (explicit|ancestor)",
				Value: string(app.DefaultConfigTrustInheritance),
			},
		},
		Commands: []*cli.Command{
			r.credentialsCommand(),
			r.storageCommand(),
			r.trustCommand(),
			r.companionCommand(),
		},
	}
}

// session is the configured application for a single command invocation.
type session struct {
	cfg      *app.Config
	app      *app.App
	out      io.Writer
	shutdown observability.ShutdownFunc
	closed   sync.Once
}

// Close flushes the log pipeline. Only the first call has an effect.
func (s *session) Close(ctx context.Context) {
	s.closed.Do(func() {
		if err := s.shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
		}
	})
}

// newSession loads the configuration, installs logging and builds the app.
func (r *runner) newSession(ctx context.Context, cmd *cli.Command) (*session, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: cfg.LogExporter,
		Writer:   errWriter(cmd),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg, r.appOpts...)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to create app: %w", err)
	}

	return &session{
		cfg:      cfg,
		app:      application,
		out:      writer(cmd),
		shutdown: shutdown,
	}, nil
}

// withSession runs fn with a session that is closed afterwards.
func (r *runner) withSession(fn func(ctx context.Context, cmd *cli.Command, s *session) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := r.newSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Close(context.WithoutCancel(ctx))
		return fn(ctx, cmd, s)
	}
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func reader(cmd *cli.Command) io.Reader {
	if r := cmd.Root().Reader; r != nil {
		return r
	}
	return os.Stdin
}
