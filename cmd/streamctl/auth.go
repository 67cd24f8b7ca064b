package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/benaskins/streamctl/internal/oauth"
	"github.com/benaskins/streamctl/internal/platform"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// authResult mirrors the daemon's reply to a completed authorization.
type authResult struct {
	Platform string `json:"platform"`
	Status   string `json:"status"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (r authResult) print() error {
	switch r.Status {
	case oauth.StatusConnected:
		fmt.Printf("%s: connected as %s\n", r.Platform, r.Username)
	case oauth.StatusAbandoned:
		fmt.Printf("%s: authorization abandoned\n", r.Platform)
	default:
		return fmt.Errorf("%s: %s", r.Platform, r.Error)
	}
	return nil
}

var connectCmd = &cobra.Command{
	Use:   "connect <platform>",
	Short: "Authorize a streaming platform account",
	Long:  "Open the platform's authorization page. The token is captured by the daemon's redirect listener.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		wait, _ := cmd.Flags().GetBool("wait")

		if !wait {
			var session struct {
				Session string `json:"session"`
				URL     string `json:"url"`
			}
			if err := apiPost("/v1/oauth/"+name+"/begin", nil, &session); err != nil {
				return err
			}
			fmt.Printf("Authorize %s in your browser:\n%s\n", name, session.URL)
			return nil
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		client := apiClient()
		client.Timeout = timeout

		fmt.Printf("Waiting for %s authorization in your browser...\n", name)
		var res authResult
		if err := apiDo(client, http.MethodPost, "/v1/oauth/"+name+"/begin?wait=true", nil, &res); err != nil {
			return err
		}
		return res.print()
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <platform>",
	Short: "Forget the stored credential for a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiDo(apiClient(), http.MethodDelete, "/v1/oauth/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("%s: disconnected\n", args[0])
		return nil
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Inspect and manage platform credentials",
}

var authStatusCmd = &cobra.Command{
	Use:   "status [platform]",
	Short: "Show connection status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names := platform.Names
		if len(args) == 1 {
			names = args
		}

		var conns []authStatus
		for _, name := range names {
			var st authStatus
			if err := apiGet("/v1/oauth/"+name+"/status", &st); err != nil {
				return err
			}
			conns = append(conns, st)
		}

		if jsonOutput(cmd) {
			return printJSON(conns)
		}
		for _, c := range conns {
			line := fmt.Sprintf("%s: %s", c.Platform, c.Status)
			if c.Username != "" {
				line += " as " + c.Username
			}
			if c.Pending != nil {
				line += fmt.Sprintf("\n  pending authorization: %s", c.Pending.URL)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var authImportCmd = &cobra.Command{
	Use:   "import <platform> [token]",
	Short: "Store an access token obtained elsewhere",
	Long:  "Store an access token. If token is omitted, reads from stdin (useful for piping).",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 2 {
			token = args[1]
		} else {
			var err error
			if token, err = readSecret("Access token: "); err != nil {
				return err
			}
		}
		if token == "" {
			return fmt.Errorf("empty token")
		}

		var res authResult
		err := apiPost("/v1/oauth/"+args[0]+"/token", map[string]string{"access_token": token}, &res)
		if err != nil {
			return err
		}
		return res.print()
	},
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials <platform>",
	Short: "Print the stored credential for a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cred oauth.Credential
		if err := apiGet("/v1/credentials/"+args[0], &cred); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(cred)
		}
		fmt.Println(cred.AccessToken)
		captured := time.UnixMilli(cred.Timestamp).Format(time.RFC3339)
		fmt.Fprintf(os.Stderr, "captured %s\n", captured)
		return nil
	},
}

// readSecret prompts on a terminal without echo, or reads all of stdin when
// it is not a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func init() {
	connectCmd.Flags().Bool("wait", false, "block until the authorization completes")
	connectCmd.Flags().Duration("timeout", 5*time.Minute, "how long to wait with --wait")

	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authImportCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(credentialsCmd)
}
