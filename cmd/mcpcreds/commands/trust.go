package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mcpcreds/internal/trust"
)

const trustDisabledMessage = "Folder trust is disabled. You can enable it in the settings."

func (r *runner) trustCommand() *cli.Command {
	return &cli.Command{
		Name:  "trust",
		Usage: "Inspect and change folder trust",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show the trust state of a folder (default: current directory)",
				ArgsUsage: "[FOLDER]",
				Action:    r.withSession(trustShowAction),
			},
			{
				Name:      "set",
				Usage:     "Set the trust level of a folder (default: current directory)",
				ArgsUsage: "LEVEL [FOLDER]",
				Description: "LEVEL is one of trust-folder, trust-parent or do-not-trust.\n" +
					"When the effective trust of the folder changes, mcpcreds relaunches itself.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-relaunch",
						Usage: "only report that a restart is required",
					},
					&cli.DurationFlag{
						Name:  "trust--relaunch-delay",
						Usage: "delay before relaunching",
						Value: trust.DefaultRelaunchDelay,
					},
				},
				Action: r.withSession(trustSetAction),
			},
		},
	}
}

func folderArg(cmd *cli.Command, index int) (string, error) {
	if folder := cmd.Args().Get(index); folder != "" {
		return folder, nil
	}
	return os.Getwd()
}

func trustShowAction(ctx context.Context, cmd *cli.Command, s *session) error {
	folder, err := folderArg(cmd, 0)
	if err != nil {
		return err
	}

	st, err := s.app.Trust().Inspect(ctx, folder)
	if errors.Is(err, trust.ErrDisabled) {
		fmt.Fprintln(s.out, trustDisabledMessage)
		return nil
	}
	if err != nil {
		return err
	}

	explicit := string(st.Explicit)
	if explicit == "" {
		explicit = "none"
	}
	fmt.Fprintf(s.out, "Folder:    %s\n", st.Folder)
	fmt.Fprintf(s.out, "Explicit:  %s\n", explicit)
	fmt.Fprintf(s.out, "Effective: %s\n", st.Effective)
	if st.Inherited {
		fmt.Fprintln(s.out, "Trust is inherited from a parent folder or the IDE, changing this folder's level may have no effect.")
	}
	return nil
}

func trustSetAction(ctx context.Context, cmd *cli.Command, s *session) error {
	if cmd.Args().First() == "" {
		return fmt.Errorf("missing LEVEL argument")
	}
	level, err := trust.ParseLevel(cmd.Args().First())
	if err != nil {
		return err
	}
	folder, err := folderArg(cmd, 1)
	if err != nil {
		return err
	}

	if cmd.Bool("no-relaunch") {
		restartRequired, err := s.app.Trust().Update(ctx, folder, level)
		if errors.Is(err, trust.ErrDisabled) {
			fmt.Fprintln(s.out, trustDisabledMessage)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Trust level of %s set to %s.\n", folder, level)
		if restartRequired {
			fmt.Fprintln(s.out, "Effective trust changed. Restart running sessions to apply it.")
		}
		return nil
	}

	relaunch, err := s.app.UpdateTrust(ctx, folder, level)
	if errors.Is(err, trust.ErrDisabled) {
		fmt.Fprintln(s.out, trustDisabledMessage)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Trust level of %s set to %s.\n", folder, level)
	if relaunch == nil {
		return nil
	}

	fmt.Fprintln(s.out, "Effective trust changed, relaunching.")
	// Flush logs before the process image may be replaced
	s.Close(context.WithoutCancel(ctx))
	if err := <-relaunch; err != nil {
		return fmt.Errorf("relaunch failed: %w", err)
	}
	return nil
}
