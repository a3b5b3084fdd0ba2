package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/lexdesk/lexdesk/internal/config"
	"github.com/lexdesk/lexdesk/internal/integrations/registry"
	"github.com/spf13/cobra"
)

var providersJSON bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect the built-in provider adapters",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with their features and capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}
		stats := reg.Stats()
		if providersJSON {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tNAME\tVERSION\tFEATURES\tCAPABILITIES")
		for _, p := range stats.Providers {
			d := stats.Descriptors[p]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p, d.Name, d.Version,
				joinValues(stats.Features[p]), joinValues(stats.Capabilities[p]))
		}
		return tw.Flush()
	},
}

var providersValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Self-check every adapter descriptor; exits 2 when one is invalid",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}
		v := reg.ValidateAdapters()
		if err := writeJSON(cmd.OutOrStdout(), v); err != nil {
			return err
		}
		if len(v.Invalid) > 0 {
			return silentExit(exitInvalid)
		}
		return nil
	},
}

func init() {
	providersListCmd.Flags().BoolVar(&providersJSON, "json", false, "print the registry stats as JSON")
	providersCmd.AddCommand(providersListCmd, providersValidateCmd)
}

func loadRegistry(ctx context.Context) (*registry.Registry, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{})
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return newRegistry(ctx, cfg, slog.Default())
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ",")
}
