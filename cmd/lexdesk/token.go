package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lexdesk/lexdesk/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var tokenFromStdin bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Create API tokens and their API_TOKEN_HASH values",
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the argon2id hash of a token read from the terminal or stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken(cmd.InOrStdin(), cmd.ErrOrStderr(), tokenFromStdin)
		if err != nil {
			return err
		}
		hash, err := auth.HashToken(token)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random API token and print it with its hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		hash, err := auth.HashToken(token)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "token: %s\n", token)
		fmt.Fprintf(out, "API_TOKEN_HASH=%s\n", hash)
		return nil
	},
}

func init() {
	tokenHashCmd.Flags().BoolVar(&tokenFromStdin, "stdin", false, "read the token from the first line of stdin")
	tokenCmd.AddCommand(tokenHashCmd, tokenGenerateCmd)
}

// readToken prompts without echo when stdin is a terminal. Piped input needs --stdin so a
// token is never read from a pipe by accident.
func readToken(in io.Reader, prompt io.Writer, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", &exitError{code: exitInvalid, err: errors.New("stdin is not a terminal; pass --stdin to read the token from a pipe")}
	}
	fmt.Fprint(prompt, "API token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
