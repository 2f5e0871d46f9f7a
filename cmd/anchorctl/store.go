package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Alexovate/document-verifier/internal/commitstore"
	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/Alexovate/document-verifier/internal/ledger/solrpc"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect a commitment store directly",
	Long: `store reads the same backing store anchord writes to. It opens the store
read-mostly; run it on the server host or against the shared database.`,
}

func init() {
	f := storeCmd.PersistentFlags()
	f.String("backend", "file", "store backend: file, sqlite, or postgres")
	f.String("path", "hash-store.json", "file store path")
	f.String("sqlite-path", "commitments.db", "sqlite store path")
	f.String("database-url", "", "postgres connection string")
	_ = viper.BindPFlag("store.backend", f.Lookup("backend"))
	_ = viper.BindPFlag("store.path", f.Lookup("path"))
	_ = viper.BindPFlag("store.sqlite_path", f.Lookup("sqlite-path"))
	_ = viper.BindPFlag("database.url", f.Lookup("database-url"))

	storeOrphansCmd.Flags().String("rpc-url", solrpc.DefaultURL, "ledger JSON-RPC endpoint")
	storeOrphansCmd.Flags().IntVar(&orphanConcurrency, "concurrency", 8, "parallel ledger lookups")
	_ = viper.BindPFlag("ledger.rpc_url", storeOrphansCmd.Flags().Lookup("rpc-url"))

	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeOrphansCmd)
}

// openLocalStore opens the configured store. The returned func closes it.
func openLocalStore(ctx context.Context) (commitstore.Store, func(), error) {
	logger := zap.NewNop()
	switch backend := viper.GetString("store.backend"); backend {
	case "file":
		s, err := commitstore.NewFileStore(ctx, viper.GetString("store.path"), logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sqlite":
		s, err := commitstore.NewSQLiteStore(ctx, viper.GetString("store.sqlite_path"), logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		s := commitstore.NewPostgresStore(pool, logger)
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q (want file, sqlite, or postgres)", backend)
	}
}

// ── store list ───────────────────────────────────────────────────────────────

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List commitment records in insertion order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		store, closeStore, err := openLocalStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		records, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("list commitments: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			return printJSON(out, records)
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "No commitments recorded.")
			return nil
		}
		rows := make([][]string, len(records))
		for i, r := range records {
			sig := ""
			if !r.TxRef.IsZero() {
				sig = r.TxRef.String()
			}
			rows[i] = []string{r.AccountID.String(), r.Digest.String(), sig, r.CreatedAt.Format("2006-01-02 15:04:05")}
		}
		fmt.Fprintln(out, renderTable(out, []string{"ACCOUNT", "HASH", "SIGNATURE", "CREATED"}, rows, nil))
		return nil
	},
}

// ── store orphans ────────────────────────────────────────────────────────────

var orphanConcurrency int

var storeOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Find store records whose ledger account no longer exists",
	Long: `orphans checks every record in the store against the ledger and lists the
dangling ones: records pointing at accounts the ledger does not know. Accounts
the server created but failed to index are reported by 'anchorctl orphans'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		store, closeStore, err := openLocalStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		records, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("list commitments: %w", err)
		}

		// Lookups never sign, so a throwaway payer is enough.
		payer, err := ledger.GenerateKeypair()
		if err != nil {
			return err
		}
		gw := ledger.New(solrpc.New(solrpc.Config{URL: viper.GetString("ledger.rpc_url")}), payer, ledger.Config{}, zap.NewNop())
		defer gw.Close() //nolint:errcheck

		dangling, err := findDangling(ctx, records, gw.AccountExists, orphanConcurrency)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			return printJSON(out, dangling)
		}
		fmt.Fprintf(out, "Checked %d records, %d dangling.\n", len(records), len(dangling))
		if len(dangling) == 0 {
			return nil
		}
		rows := make([][]string, len(dangling))
		for i, r := range dangling {
			rows[i] = []string{r.AccountID.String(), r.Digest.String()}
		}
		fmt.Fprintln(out, renderTable(out, []string{"ACCOUNT", "HASH"}, rows, nil))
		return nil
	},
}

type existsFunc func(ctx context.Context, id ledger.AccountID) (bool, error)

// findDangling returns the records whose account does not exist, in store
// order. Any lookup failure aborts the scan.
func findDangling(ctx context.Context, records []commitstore.Record, exists existsFunc, limit int) ([]commitstore.Record, error) {
	missing := make([]bool, len(records))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, r := range records {
		g.Go(func() error {
			ok, err := exists(gctx, r.AccountID)
			if err != nil {
				return fmt.Errorf("look up %s: %w", r.AccountID, err)
			}
			missing[i] = !ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dangling := []commitstore.Record{}
	for i, r := range records {
		if missing[i] {
			dangling = append(dangling, r)
		}
	}
	return dangling, nil
}
