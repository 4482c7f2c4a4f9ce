package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"cityfeed/internal/ics"
	"cityfeed/internal/model"
)

var (
	expandNow    string
	expandDays   int
	expandFormat string
)

var expandCmd = &cobra.Command{
	Use:   "expand [file]",
	Short: "Expand a local feed file into occurrences",
	Long: `Reads a calendar feed from a file ("-" for stdin) and prints the
occurrences inside the lookahead window. --now accepts a feed-style
timestamp (20260327T190000 for host-city wall clock, or a UTC value ending
in Z); when omitted or unparseable the current time is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runExpand,
}

func init() {
	expandCmd.Flags().StringVar(&expandNow, "now", "", "reference time as a feed timestamp")
	expandCmd.Flags().IntVarP(&expandDays, "days", "d", ics.DefaultHorizonDays, "lookahead horizon in days")
	expandCmd.Flags().StringVarP(&expandFormat, "format", "f", "text", "output format: text, json or ics")
	rootCmd.AddCommand(expandCmd)
}

func runExpand(cmd *cobra.Command, args []string) error {
	body, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	now := ics.Resolve(expandNow, mo.None[time.Time](), time.Now())
	occ := ics.Expand(string(body), now, expandDays)

	switch expandFormat {
	case "json":
		data, err := json.MarshalIndent(occ, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal occurrences: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	case "ics":
		fmt.Fprint(cmd.OutOrStdout(), ics.Export(occ, now))
	case "text":
		printOccurrences(cmd, occ)
	default:
		return fmt.Errorf("unknown format %q", expandFormat)
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return data, nil
}

func printOccurrences(cmd *cobra.Command, occ []model.Occurrence) {
	if len(occ) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No occurrences in window.")
		return
	}
	for _, o := range occ {
		start := o.Start.In(ics.HostZone(o.Start))
		line := start.Format("Mon 2006-01-02 15:04 MST")
		if o.AllDay {
			line = start.Format("Mon 2006-01-02") + " (all day)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s", line, o.Summary)
		if o.Location != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " @ %s", o.Location)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  [%s]\n", o.Key())
	}
}
