package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mcpcreds/internal/app"
)

func (r *runner) companionCommand() *cli.Command {
	return &cli.Command{
		Name:  "companion",
		Usage: "Local endpoint for IDE integrations",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve IDE workspace trust updates, storage status and metrics",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "companion--host",
						Usage: "host to listen on",
						Value: app.DefaultConfigCompanionHost,
					},
					&cli.IntFlag{
						Name:  "companion--port",
						Usage: "port to listen on",
						Value: int(app.DefaultConfigCompanionPort),
					},
					&cli.DurationFlag{
						Name:  "shutdown--timeout",
						Usage: "graceful shutdown timeout",
						Value: app.DefaultConfigShutdownTimeout,
					},
				},
				Action: r.withSession(func(ctx context.Context, _ *cli.Command, s *session) error {
					return s.app.Serve(ctx)
				}),
			},
		},
	}
}
