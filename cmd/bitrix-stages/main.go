package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"crm_dialog_relay/internal/bitrix"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"

	"github.com/spf13/cobra"
)

func main() {
	var funnelID int64

	cmd := &cobra.Command{
		Use:   "bitrix-stages",
		Short: "List the stages of a Bitrix24 deal funnel",
		Long:  "Prints stage ids and names of a deal category. Defaults to TARGET_FUNNEL_ID.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadUnchecked()
			if cfg.GetBitrixWebhookURL() == "" {
				return fmt.Errorf("BITRIX_WEBHOOK_URL is required")
			}
			if funnelID == 0 && cfg.GetTargetFunnelID() != "" {
				id, err := strconv.ParseInt(cfg.GetTargetFunnelID(), 10, 64)
				if err != nil {
					return fmt.Errorf("invalid TARGET_FUNNEL_ID: %w", err)
				}
				funnelID = id
			}

			client := bitrix.NewClient(cfg, logger.New(cfg.Env))
			stages, err := client.ListStages(cmd.Context(), funnelID)
			if err != nil {
				return fmt.Errorf("list stages: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Funnel %d\n", funnelID)
			fmt.Fprintln(w, "STAGE ID\tNAME\tSORT")
			for _, st := range stages {
				fmt.Fprintf(w, "%s\t%s\t%s\n", st.StatusID, st.Name, st.Sort.String())
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&funnelID, "funnel", 0, "deal category id (defaults to TARGET_FUNNEL_ID)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
