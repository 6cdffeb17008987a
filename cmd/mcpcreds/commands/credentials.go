package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mcpcreds/internal/credential"
	"github.com/florianilch/mcpcreds/internal/tokenstore"
)

func (r *runner) credentialsCommand() *cli.Command {
	return &cli.Command{
		Name:    "credentials",
		Aliases: []string{"creds"},
		Usage:   "Manage stored MCP server credentials",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List servers with stored credentials",
				Action: r.withSession(credentialsListAction),
			},
			{
				Name:      "get",
				Usage:     "Show the stored credentials of a server",
				ArgsUsage: "SERVER",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "show-secrets",
						Usage: "print access and refresh tokens instead of redacting them",
					},
				},
				Action: r.withSession(credentialsGetAction),
			},
			{
				Name:      "set",
				Usage:     "Store credentials for a server",
				ArgsUsage: "SERVER",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "access-token", Usage: "access token (prompted for if omitted)"},
					&cli.StringFlag{Name: "refresh-token", Usage: "refresh token"},
					&cli.StringFlag{Name: "token-type", Usage: "token type", Value: "Bearer"},
					&cli.StringFlag{Name: "scope", Usage: "space separated scopes"},
					&cli.DurationFlag{Name: "expires-in", Usage: "access token lifetime (0 means it never expires)"},
					&cli.StringFlag{Name: "client-id", Usage: "OAuth client ID used for refreshing"},
					&cli.StringFlag{Name: "token-url", Usage: "OAuth token endpoint used for refreshing"},
					&cli.StringFlag{Name: "mcp-server-url", Usage: "URL of the MCP server"},
				},
				Action: r.withSession(credentialsSetAction),
			},
			{
				Name:      "delete",
				Usage:     "Delete the stored credentials of a server",
				ArgsUsage: "SERVER",
				Action:    r.withSession(credentialsDeleteAction),
			},
			{
				Name:   "clear",
				Usage:  "Delete all stored credentials",
				Action: r.withSession(credentialsClearAction),
			},
			{
				Name:      "token",
				Usage:     "Print a valid access token, refreshing and storing it if needed",
				ArgsUsage: "SERVER",
				Action:    r.withSession(credentialsTokenAction),
			},
		},
	}
}

func serverArg(cmd *cli.Command) (string, error) {
	name := strings.TrimSpace(cmd.Args().First())
	if name == "" {
		return "", fmt.Errorf("missing SERVER argument")
	}
	return name, nil
}

func credentialsListAction(ctx context.Context, _ *cli.Command, s *session) error {
	store := s.app.Credentials()

	servers, err := store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	valid, err := store.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}

	if len(servers) == 0 {
		fmt.Fprintln(s.out, "No stored credentials.")
		return nil
	}

	// Keyring accounts are sanitized names; match them against the records' real names
	byKey := make(map[string]*credential.Credentials, len(valid))
	for name, c := range valid {
		byKey[credential.SanitizeKey(name)] = c
	}

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tSTATUS\tEXPIRES")
	for _, key := range slices.Sorted(slices.Values(servers)) {
		c, ok := byKey[credential.SanitizeKey(key)]
		if !ok {
			fmt.Fprintf(tw, "%s\t%s\t-\n", key, "expired or unreadable")
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ServerName, "valid", formatExpiry(c))
	}
	return tw.Flush()
}

func credentialsGetAction(ctx context.Context, cmd *cli.Command, s *session) error {
	name, err := serverArg(cmd)
	if err != nil {
		return err
	}

	c, err := s.app.Credentials().Get(ctx, name)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("no valid credentials stored for %s", name)
	}

	if !cmd.Bool("show-secrets") {
		c.Token.AccessToken = redact(c.Token.AccessToken)
		c.Token.RefreshToken = redact(c.Token.RefreshToken)
	}

	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func credentialsSetAction(ctx context.Context, cmd *cli.Command, s *session) error {
	name, err := serverArg(cmd)
	if err != nil {
		return err
	}

	accessToken := cmd.String("access-token")
	if accessToken == "" {
		accessToken, err = promptSecret(cmd, "Access token for "+name+": ")
		if err != nil {
			return err
		}
	}

	c := &credential.Credentials{
		ServerName: name,
		Token: credential.Token{
			AccessToken:  accessToken,
			RefreshToken: cmd.String("refresh-token"),
			TokenType:    cmd.String("token-type"),
			Scope:        cmd.String("scope"),
		},
		ClientID:     cmd.String("client-id"),
		TokenURL:     cmd.String("token-url"),
		MCPServerURL: cmd.String("mcp-server-url"),
	}
	if expiresIn := cmd.Duration("expires-in"); expiresIn > 0 {
		c.Token.ExpiresAt = time.Now().Add(expiresIn).UnixMilli()
	}

	if err := s.app.Credentials().Set(ctx, c); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Stored credentials for %s (%s).\n", name, s.app.StorageKind())
	return nil
}

func credentialsDeleteAction(ctx context.Context, cmd *cli.Command, s *session) error {
	name, err := serverArg(cmd)
	if err != nil {
		return err
	}
	if err := s.app.Credentials().Delete(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted credentials for %s.\n", name)
	return nil
}

func credentialsClearAction(ctx context.Context, _ *cli.Command, s *session) error {
	err := s.app.Credentials().ClearAll(ctx)

	var clearErr *tokenstore.ClearError
	if errors.As(err, &clearErr) {
		for _, o := range clearErr.Outcomes {
			if o.Err != nil {
				fmt.Fprintf(s.out, "%s: %v\n", o.ServerName, o.Err)
				continue
			}
			fmt.Fprintf(s.out, "%s: deleted\n", o.ServerName)
		}
		return fmt.Errorf("%d of %d deletions failed", len(clearErr.Unwrap()), len(clearErr.Outcomes))
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Cleared all stored credentials.")
	return nil
}

func credentialsTokenAction(_ context.Context, cmd *cli.Command, s *session) error {
	name, err := serverArg(cmd)
	if err != nil {
		return err
	}

	ts, err := s.app.TokenSource(name)
	if err != nil {
		return err
	}
	tok, err := ts.Token()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, tok.AccessToken)
	return nil
}

func formatExpiry(c *credential.Credentials) string {
	expiry := c.Expiry()
	if expiry.IsZero() {
		return "never"
	}
	return expiry.Local().Format(time.RFC3339)
}

// redact keeps a short prefix so tokens can still be told apart.
func redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
