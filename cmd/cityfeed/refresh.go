package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	appLog "cityfeed/internal/log"
)

var refreshJSON bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one fetch and expand cycle and print the result",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshJSON, "json", false, "output occurrences as JSON")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner := newRunner(cfg, nil)
	snap, err := runner.Refresh(cmd.Context())
	if err != nil {
		// Partial failures still produce a snapshot worth printing.
		appLog.Error("refresh finished with errors", err)
	}

	if refreshJSON {
		data, err := json.MarshalIndent(snap.Occurrences, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal occurrences: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printOccurrences(cmd, snap.Occurrences)
	return nil
}
