package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mcpcreds/internal/tokenstore"
)

func (r *runner) storageCommand() *cli.Command {
	return &cli.Command{
		Name:   "storage",
		Usage:  "Show which credential storage backend is in use",
		Action: r.withSession(storageAction),
	}
}

func storageAction(_ context.Context, _ *cli.Command, s *session) error {
	kind := s.app.StorageKind()

	fmt.Fprintf(s.out, "Backend: %s\n", kind)
	switch kind {
	case tokenstore.KindKeyring:
		fmt.Fprintf(s.out, "Service: %s\n", s.cfg.Storage.Service)
	case tokenstore.KindEncryptedFile:
		fmt.Fprintf(s.out, "File:    %s\n", s.cfg.Storage.File)
	}
	return nil
}
