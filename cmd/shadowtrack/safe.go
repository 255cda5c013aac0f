package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/safestore"
	"github.com/spf13/cobra"
)

var safeJSON bool

var safeCmd = &cobra.Command{
	Use:   "safe [domain]",
	Short: "List cookie keys known to be safe",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSafe,
}

func init() {
	safeCmd.Flags().BoolVar(&safeJSON, "json", false, "Print records as JSON")
}

func runSafe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	var domain string
	if len(args) == 1 {
		domain = strings.ToLower(strings.TrimSpace(args[0]))
	}

	store, err := safestore.Open(cmd.Context(), cfg.SafeDBPath, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Records(cmd.Context(), domain)
	if err != nil {
		return err
	}
	return printRecords(cmd.OutOrStdout(), records, safeJSON)
}

func printRecords(w io.Writer, records []safestore.Record, asJSON bool) error {
	if asJSON {
		if records == nil {
			records = []safestore.Record{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tKEY\tRECORDED")
	for _, r := range records {
		recorded := "-"
		if !r.RecordedAt.IsZero() {
			recorded = r.RecordedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Domain, r.Key, recorded)
	}
	return tw.Flush()
}
