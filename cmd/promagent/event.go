package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cuemby/promagent/pkg/events"
	"github.com/cuemby/promagent/pkg/reconciler"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event TYPE",
	Short: "Run one reconciliation cycle for a lifecycle event",
	Long: `Run one reconciliation cycle for a lifecycle event and exit.

Event types: ` + strings.Join(eventTypeNames(), ", ") + `

Relation events need --relation-id. relation-changed also reads the peer's
scrape job payload from --file ("-" for stdin).

Examples:
  # Operator settings were edited
  promagent event config-changed

  # A peer published its scrape jobs
  promagent event relation-changed --relation-id 7 --file jobs.yaml

  # The peer went away
  promagent event relation-broken --relation-id 7`,
	Args: cobra.ExactArgs(1),
	RunE: runEvent,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Converge the daemon with the current settings and relations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, events.New(events.EventConfigChanged))
	},
}

func init() {
	eventCmd.Flags().Int("relation-id", -1, "Relation the event refers to")
	eventCmd.Flags().StringP("file", "f", "", "Relation payload file (- for stdin)")
}

func eventTypeNames() []string {
	names := make([]string, 0, len(events.Types))
	for _, t := range events.Types {
		names = append(names, string(t))
	}
	return names
}

func runEvent(cmd *cobra.Command, args []string) error {
	eventType, err := events.ParseType(args[0])
	if err != nil {
		return err
	}

	ev := events.New(eventType)
	if eventType.IsRelation() {
		relationID, _ := cmd.Flags().GetInt("relation-id")
		if relationID < 0 {
			return fmt.Errorf("--relation-id is required for %s", eventType)
		}

		var payload []byte
		if eventType == events.EventRelationChanged {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required for %s", eventType)
			}
			if payload, err = readPayload(cmd.InOrStdin(), file); err != nil {
				return err
			}
		}
		ev = events.NewRelation(eventType, relationID, payload)
	}

	return runOnce(cmd, ev)
}

func readPayload(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return data, nil
}

// runOnce opens the agent, runs a single cycle and prints what it did
func runOnce(cmd *cobra.Command, ev *events.Event) error {
	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.reconciler.Reconcile(ctx, ev)
	printResult(cmd.OutOrStdout(), res)
	return err
}

func printResult(w io.Writer, res *reconciler.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "Cycle %s (%s)\n", res.CycleID, res.Event)
	if len(res.Actions) == 0 {
		fmt.Fprintln(w, "  no changes")
	}
	for _, a := range res.Actions {
		fmt.Fprintf(w, "  ✓ %s\n", a)
	}
	for _, rej := range res.Rejected {
		fmt.Fprintf(w, "  skipped: %v\n", rej)
	}
	if res.Event == events.EventUpdateStatus {
		fmt.Fprintf(w, "  active targets: %d\n", res.ActiveTargets)
	}
}
