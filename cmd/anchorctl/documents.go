package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/pkg/client"
)

// ── digest ───────────────────────────────────────────────────────────────────

var digestCmd = &cobra.Command{
	Use:   "digest <file> [file] ...",
	Short: "Print the SHA-256 fingerprint of one or more files",
	Long: `digest computes fingerprints locally; no server is contacted. The output
matches what POST /api/v1/digest returns for the same bytes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDigest,
}

type digestRow struct {
	File string `json:"file"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

func runDigest(cmd *cobra.Command, args []string) error {
	rows := make([]digestRow, 0, len(args))
	for _, path := range args {
		d, size, err := digestFile(path)
		if err != nil {
			return err
		}
		rows = append(rows, digestRow{File: path, Hash: d.String(), Size: size})
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return printJSON(out, rows)
	}
	if len(rows) == 1 {
		fmt.Fprintln(out, rows[0].Hash)
		return nil
	}
	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{r.File, r.Hash, strconv.FormatInt(r.Size, 10)}
	}
	fmt.Fprintln(out, renderTable(out, []string{"FILE", "HASH", "BYTES"}, table, []columnAlignment{alignLeft, alignLeft, alignRight}))
	return nil
}

func digestFile(path string) (fingerprint.Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return fingerprint.Digest{}, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fingerprint.Digest{}, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	d, err := fingerprint.SumReader(f)
	if err != nil {
		return fingerprint.Digest{}, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return d, info.Size(), nil
}

// ── anchor ───────────────────────────────────────────────────────────────────

var anchorHash string

var anchorCmd = &cobra.Command{
	Use:   "anchor [file]",
	Short: "Anchor a document's fingerprint on the ledger",
	Long: `anchor fingerprints the file locally and submits only the hash to the
server. Pass --hash to anchor a precomputed fingerprint instead.

  anchorctl anchor lease.pdf
  anchorctl anchor --hash 2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnchor,
}

func init() {
	anchorCmd.Flags().StringVar(&anchorHash, "hash", "", "precomputed hex fingerprint")
}

func runAnchor(cmd *cobra.Command, args []string) error {
	hash := anchorHash
	switch {
	case hash != "" && len(args) > 0:
		return fmt.Errorf("pass a file or --hash, not both")
	case hash == "" && len(args) == 0:
		return fmt.Errorf("a file or --hash is required")
	case hash == "":
		d, _, err := digestFile(args[0])
		if err != nil {
			return err
		}
		hash = d.String()
	}
	if _, err := fingerprint.ParseHex(hash); err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	receipt, err := c.Anchor(commandContext(cmd), hash)
	if err != nil {
		return fmt.Errorf("anchor: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return printJSON(out, receipt)
	}
	fmt.Fprintf(out, "Hash:      %s\n", hash)
	fmt.Fprintf(out, "Account:   %s\n", receipt.Account)
	fmt.Fprintf(out, "Signature: %s\n", receipt.Signature)
	return nil
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyAccount     string
	verifyConcurrency int
)

var verifyCmd = &cobra.Command{
	Use:   "verify --account <address> <file> [file] ...",
	Short: "Check documents against the fingerprint anchored at an account",
	Long: `verify uploads each file and reports whether it matches the anchored
fingerprint. Several copies can be checked at once to find the authentic one:

  anchorctl verify --account 4Nd1mB... draft.pdf signed.pdf scan.pdf

The exit status is non-zero when any file fails to match.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyAccount, "account", "", "anchor account address (required)")
	verifyCmd.Flags().IntVar(&verifyConcurrency, "concurrency", 4, "maximum parallel uploads")
	_ = verifyCmd.MarkFlagRequired("account")
}

type verifyRow struct {
	File   string               `json:"file"`
	Result *client.VerifyResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	rows := verifyFiles(commandContext(cmd), c, verifyAccount, args, verifyConcurrency)

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		if err := printJSON(out, rows); err != nil {
			return err
		}
	} else {
		table := make([][]string, len(rows))
		for i, r := range rows {
			switch {
			case r.Error != "":
				table[i] = []string{r.File, "error", r.Error}
			case r.Result.Match:
				table[i] = []string{r.File, "match", r.Result.Message}
			default:
				table[i] = []string{r.File, "no match", r.Result.Message}
			}
		}
		fmt.Fprintln(out, renderTable(out, []string{"FILE", "RESULT", "DETAIL"}, table, nil))
	}

	for _, r := range rows {
		if r.Error != "" || !r.Result.Match {
			return fmt.Errorf("one or more documents did not verify")
		}
	}
	return nil
}

// verifyFiles checks files concurrently and returns rows in input order.
// Per-file failures are reported in the row, not returned.
func verifyFiles(ctx context.Context, c *client.Client, account string, files []string, limit int) []verifyRow {
	rows := make([]verifyRow, len(files))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, path := range files {
		g.Go(func() error {
			rows[i] = verifyRow{File: path}
			f, err := os.Open(path)
			if err != nil {
				rows[i].Error = err.Error()
				return nil
			}
			defer f.Close()
			res, err := c.Verify(gctx, filepath.Base(path), f, account)
			if err != nil {
				rows[i].Error = err.Error()
				return nil
			}
			rows[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

// ── orphans ──────────────────────────────────────────────────────────────────

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List accounts the server anchored but could not index",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		orphans, err := c.Orphans(commandContext(cmd))
		if err != nil {
			return fmt.Errorf("fetch orphans: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			return printJSON(out, orphans)
		}
		if len(orphans) == 0 {
			fmt.Fprintln(out, "No orphans reported.")
			return nil
		}
		rows := make([][]string, len(orphans))
		for i, o := range orphans {
			rows[i] = []string{o.Account, o.Hash, o.Source, o.DetectedAt.Format("2006-01-02 15:04:05")}
		}
		fmt.Fprintln(out, renderTable(out, []string{"ACCOUNT", "HASH", "SOURCE", "DETECTED"}, rows, nil))
		return nil
	},
}
