package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:         "keys",
	Short:       "Manage the credential encryption keys",
	Annotations: structuredLog,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-seal every stored credential with CREDENTIALS_KEY_ID",
	Long: "Re-seal every stored credential with the active key. Keep the old key in " +
		"CREDENTIALS_PREVIOUS_KEYS until this reports no failures.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			report, err := a.svc.RotateCredentials(ctx)
			if err != nil {
				return err
			}
			slog.Info("credential rotation finished", "scanned", report.Scanned, "rotated", report.Rotated, "failed", len(report.Failed))
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return silentExit(1)
			}
			return nil
		})
	},
}

func init() {
	keysCmd.AddCommand(keysRotateCmd)
}
