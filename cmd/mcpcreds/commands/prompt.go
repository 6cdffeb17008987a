package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// promptSecret asks for a secret. Input is masked when stdin is a terminal and
// read as a single line otherwise, so tokens can be piped in.
func promptSecret(cmd *cli.Command, prompt string) (string, error) {
	in := reader(cmd)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(errWriter(cmd), prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errWriter(cmd))
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return nonEmpty(string(secret))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return nonEmpty(line)
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty input")
	}
	return s, nil
}
