package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"crm_dialog_relay/internal/wazzup"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"

	"github.com/spf13/cobra"
)

const webhookPath = "/webhook/wazzup"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "wazzup-subscribe",
		Short: "Register this service's chat webhook with Wazzup",
		Long:  "Points the Wazzup account at <base-url>/webhook/wazzup and subscribes it to messages and statuses.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := webhookURI(baseURL)
			if err != nil {
				return err
			}

			cfg := config.LoadUnchecked()
			if cfg.GetWazzupAPIKey() == "" {
				return fmt.Errorf("WAZZUP_API_KEY is required")
			}
			client := wazzup.NewClient(cfg, logger.New(cfg.Env))

			if err := client.Subscribe(cmd.Context(), uri); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook registered: %s\n", uri)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "public base URL of the api (e.g. https://relay.example.com)")
	_ = cmd.MarkFlagRequired("base-url")
	return cmd
}

func webhookURI(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid --base-url %q", baseURL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("--base-url must be http(s), got %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/") + webhookPath, nil
}
