package commands

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `clawd health` command. Used by Docker
// HEALTHCHECK and monitoring.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the health of a running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + cfg.Gateway.Address + "/health")
			if err != nil {
				return fmt.Errorf("gateway unreachable at %s: %w", cfg.Gateway.Address, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading health response: %w", err)
			}
			fmt.Print(string(body))

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway unhealthy: status %d", resp.StatusCode)
			}
			return nil
		},
	}
}
