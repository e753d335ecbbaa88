package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/clawd/pkg/clawd/config"
)

// newTokenCmd creates the `clawd token` command group for managing the
// gateway auth token in the OS keyring.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the gateway auth token",
		Long: `Store, inspect, or remove the gateway auth token in the OS keyring.
The keyring takes priority over CLAWD_GATEWAY_TOKEN and the config file.`,
	}
	cmd.AddCommand(newTokenSetCmd(), newTokenShowCmd(), newTokenClearCmd())
	return cmd
}

func newTokenSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store the gateway token in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available; use CLAWD_GATEWAY_TOKEN instead")
			}

			fmt.Print("Gateway token: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			token := strings.TrimSpace(string(raw))
			if token == "" {
				return fmt.Errorf("empty token")
			}

			if err := config.StoreGatewayToken(token); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}
			fmt.Println("Token stored in OS keyring.")
			return nil
		},
	}
}

func newTokenShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show whether a gateway token is configured",
		RunE: func(_ *cobra.Command, _ []string) error {
			if token := config.GetGatewayToken(); token != "" {
				fmt.Printf("Token set in OS keyring (%d chars, ends in %q).\n",
					len(token), lastChars(token, 4))
				return nil
			}
			if os.Getenv("CLAWD_GATEWAY_TOKEN") != "" {
				fmt.Println("Token set via CLAWD_GATEWAY_TOKEN environment variable.")
				return nil
			}
			fmt.Println("No gateway token configured; gateway runs unauthenticated.")
			return nil
		},
	}
}

func newTokenClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the gateway token from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.DeleteGatewayToken(); err != nil {
				return fmt.Errorf("removing token: %w", err)
			}
			fmt.Println("Token removed from OS keyring.")
			return nil
		},
	}
}

func lastChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
