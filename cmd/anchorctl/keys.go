package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Alexovate/document-verifier/internal/identity"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage operator tokens",
}

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint an operator token signed with the server's secret",
	Long: `issue signs a token with auth.token_secret, which must match the server's.
Provide it via --secret, the config file, or ANCHORCTL_AUTH_TOKEN_SECRET.

  anchorctl token issue --subject ci-pipeline --scope anchor:write --ttl 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("auth.token_secret")
		if secret == "" {
			return errors.New("auth.token_secret is not set")
		}
		issuer, err := identity.NewTokenIssuer([]byte(secret), viper.GetString("auth.issuer"), tokenTTL)
		if err != nil {
			return err
		}
		for _, s := range tokenScopes {
			if s != identity.ScopeAnchor && s != identity.ScopeOrphans {
				return fmt.Errorf("unknown scope %q (want %s or %s)", s, identity.ScopeAnchor, identity.ScopeOrphans)
			}
		}
		token, err := issuer.Issue(tokenSubject, tokenScopes)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			return printJSON(out, map[string]any{
				"token":      token,
				"subject":    tokenSubject,
				"scopes":     tokenScopes,
				"expires_at": time.Now().Add(issuer.TTL()).UTC(),
			})
		}
		fmt.Fprintln(out, token)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "token subject")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{identity.ScopeAnchor}, "granted scopes")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenIssueCmd.Flags().String("secret", "", "HMAC secret (at least 32 bytes)")
	tokenIssueCmd.Flags().String("issuer", "docanchor", "token issuer")
	_ = viper.BindPFlag("auth.token_secret", tokenIssueCmd.Flags().Lookup("secret"))
	_ = viper.BindPFlag("auth.issuer", tokenIssueCmd.Flags().Lookup("issuer"))

	tokenCmd.AddCommand(tokenIssueCmd)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var (
	keygenOut           string
	keygenPassphraseEnv string
	keygenForce         bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a fee payer keypair file",
	Long: `keygen writes a new ed25519 keypair for ledger.signer_file.

Without --passphrase-env the file is a plain JSON byte array compatible with
the Solana CLI. With it, the key is sealed with scrypt and secretbox and the
server needs ledger.signer_passphrase to load it.

  ANCHOR_KEY_PASS=... anchorctl keygen --out payer.json --passphrase-env ANCHOR_KEY_PASS`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "payer.json", "output path")
	keygenCmd.Flags().StringVar(&keygenPassphraseEnv, "passphrase-env", "", "environment variable holding the sealing passphrase")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite an existing file")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keygenOut); err == nil && !keygenForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", keygenOut)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	kp, err := ledger.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	data, err := encodeKeyfile(kp, keygenPassphraseEnv)
	if err != nil {
		return err
	}
	if err := os.WriteFile(keygenOut, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", keygenOut, err)
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return printJSON(out, map[string]string{"public_key": kp.PublicKey().String(), "path": keygenOut})
	}
	fmt.Fprintf(out, "Public key: %s\n", kp.PublicKey())
	fmt.Fprintf(out, "Written to: %s\n", keygenOut)
	return nil
}

func encodeKeyfile(kp *ledger.Keypair, passphraseEnv string) ([]byte, error) {
	if passphraseEnv == "" {
		secret := kp.Secret()
		ints := make([]int, len(secret))
		for i, b := range secret {
			ints[i] = int(b)
		}
		return json.Marshal(ints)
	}
	passphrase := strings.TrimSpace(os.Getenv(passphraseEnv))
	if passphrase == "" {
		return nil, fmt.Errorf("environment variable %s is empty", passphraseEnv)
	}
	return ledger.SealKeyfile(kp, passphrase)
}
