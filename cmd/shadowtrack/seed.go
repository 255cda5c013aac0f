package main

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/shadowtrack/internal/safestore"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Import a safe cookie seed list into the database",
	Long: `Import newline-delimited "<url> <key>" records into the safe cookie database.
The first line of the file is a header. Without a file argument the built-in
list is imported. Keys already known are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	path := cfg.SeedFile
	if len(args) == 1 {
		path = args[0]
	}
	n, err := importSeed(cmd.Context(), cfg.SafeDBPath, path)
	if err != nil {
		return err
	}
	cmd.Printf("imported %d safe cookie keys into %s\n", n, cfg.SafeDBPath)
	return nil
}

func importSeed(ctx context.Context, dbPath, seedPath string) (int, error) {
	seed, err := openSeed(seedPath)
	if err != nil {
		return 0, err
	}
	defer seed.Close()

	records, err := safestore.ParseSeed(seed)
	if err != nil {
		return 0, err
	}
	store, err := safestore.Open(ctx, dbPath, nil)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.Import(ctx, records)
}
