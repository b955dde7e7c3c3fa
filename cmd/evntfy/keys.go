package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evntfy/evntfy/adapters/mongo"
	"github.com/evntfy/evntfy/adapters/sqlite"
	"github.com/evntfy/evntfy/config"
	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage metered API keys",
	Long: `Manage evntfy metered API keys.

Each key belongs to an owner and carries a usage limit. Producers
authenticate their event streams with the raw key, which is shown
exactly once at creation.

Examples:
  evntfy keys create --owner=acme --limit=100000
  evntfy keys list --owner=acme`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new metered key",
	RunE:  runKeysCreate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's keys",
	RunE:  runKeysList,
}

var (
	keyOwnerID string
	keyLimit   int64
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysListCmd)

	keysCreateCmd.Flags().StringVar(&keyOwnerID, "owner", "", "owner ID (required)")
	keysCreateCmd.Flags().Int64Var(&keyLimit, "limit", 100000, "usage limit")
	keysCreateCmd.MarkFlagRequired("owner")

	keysListCmd.Flags().StringVar(&keyOwnerID, "owner", "", "owner ID (required)")
	keysListCmd.MarkFlagRequired("owner")
}

// openKeyStore opens the durable key store the config points at.
func openKeyStore(ctx context.Context) (ports.KeyStore, func(), error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	switch cfg.Storage.Driver {
	case "mongo":
		store, err := mongo.Connect(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		closer := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			store.Close(closeCtx)
		}
		return store, closer, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.SQLite)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return sqlite.NewKeyStore(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("key management needs durable storage, driver is %q", cfg.Storage.Driver)
	}
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, closer, err := openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer closer()

	rawKey, record := key.Generate(keyOwnerID, keyLimit, time.Now().UTC())
	if err := store.CreateKey(ctx, record); err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	fmt.Printf("Created metered key for owner %s\n", keyOwnerID)
	fmt.Println()
	fmt.Println("API key (save this, shown once):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Printf("Key ID: %s\n", record.Key)
	fmt.Printf("Limit:  %d events\n", record.UsageLimit)

	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, closer, err := openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer closer()

	records, err := store.ListKeys(ctx, keyOwnerID)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	if len(records) == 0 {
		fmt.Printf("No keys found for owner %s.\n", keyOwnerID)
		fmt.Println()
		fmt.Println("Create one with: evntfy keys create --owner=" + keyOwnerID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLOOKUP\tUSAGE\tLIMIT\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t------\t-----\t-----\t------\t-------")

	for _, r := range records {
		status := "active"
		if !r.Active {
			status = "inactive"
		}
		fmt.Fprintf(w, "%s\t%s...\t%d\t%d\t%s\t%s\n",
			r.Key, r.Lookup, r.UsageCount, r.UsageLimit, status, r.CreatedAt.Format("2006-01-02"))
	}

	w.Flush()
	return nil
}
