package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/promagent/pkg/reconciler"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installed, applied and desired state",
	Long: `Show the installed version, the applied configuration fingerprint, the
desired state computed from the current settings and relations, and the
outcome of the most recent cycle. No actions are performed.

While "promagent run" holds the state store, query its API instead:
  curl -s localhost:9465/status?format=yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newAgent(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.reconciler.Status(cmd.Context())
		if err != nil {
			return err
		}
		return encode(cmd.OutOrStdout(), output, st)
	},
}

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Print the URL peers use to reach the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Only settings are needed, so this works while "run" holds the store
		rec := reconciler.NewReconciler(reconciler.Config{
			Settings:      settingsFrom(configPath),
			AdvertiseHost: cfg.AdvertiseHost,
		})
		url, err := rec.Endpoint()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringP("output", "o", "yaml", "Output format (yaml, json)")
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
