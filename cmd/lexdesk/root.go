package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:               "lexdesk",
	Short:             "lexdesk connects the firm's CRM to vendor APIs and keeps their credentials sealed.",
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: bootstrapCommand,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, providersCmd, integrationsCmd, keysCmd, tokenCmd)
}
