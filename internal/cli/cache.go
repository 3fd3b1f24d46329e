package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/pngprotect/internal/dedup"
	"github.com/pendergraft/pngprotect/internal/storage"
)

func createCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local protection cache",
	}

	cmd.AddCommand(createCacheListCmd())

	return cmd
}

func createCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List images protected from this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(cmd.Context())
		},
	}
}

func runCacheList(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cliLogLevel(cfg), cfg.Logging.Format)

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	entries := dedup.Load(ctx, store, logger).Entries()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Record.CreatedAt.After(entries[j].Record.CreatedAt)
	})

	if jsonOutput {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No protected images cached")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINGERPRINT\tOWNER\tSTRENGTH\tPROTECTED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			e.Fingerprint.Short(),
			e.Record.OwnerID,
			e.Record.Strength,
			e.Record.CreatedAt.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}
