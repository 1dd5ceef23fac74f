package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"crm_dialog_relay/internal/wazzup"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"

	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:   "wazzup-channels",
		Short: "List the messenger channels connected to the Wazzup account",
		Long:  "Prints every channel with its id so WAZZUP_CHANNEL_ID can be filled in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadUnchecked()
			if cfg.GetWazzupAPIKey() == "" {
				return fmt.Errorf("WAZZUP_API_KEY is required")
			}
			client := wazzup.NewClient(cfg, logger.New(cfg.Env))

			channels, err := client.ListChannels(cmd.Context())
			if err != nil {
				return fmt.Errorf("list channels: %w", err)
			}
			if len(channels) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no channels connected")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL ID\tTRANSPORT\tNAME\tSTATE")
			for _, ch := range channels {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ch.Identifier(), ch.Transport, ch.Name, ch.State)
			}
			return w.Flush()
		},
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
