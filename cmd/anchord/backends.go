package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Alexovate/document-verifier/internal/commitstore"
	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/Alexovate/document-verifier/internal/ledger/simledger"
	"github.com/Alexovate/document-verifier/internal/ledger/solrpc"
)

// openGateway builds the ledger client selected by ledger.backend and wraps
// it in a Gateway funded by the configured signer.
func openGateway(ctx context.Context, v *viper.Viper, logger *zap.Logger) (*ledger.Gateway, error) {
	signer, err := loadSigner(v, logger)
	if err != nil {
		return nil, err
	}

	var program *ledger.AccountID
	if id := v.GetString("ledger.data_program_id"); id != "" {
		p, err := ledger.ParseAccountID(id)
		if err != nil {
			return nil, fmt.Errorf("ledger.data_program_id: %w", err)
		}
		program = &p
	}

	var client ledger.Client
	switch backend := v.GetString("ledger.backend"); backend {
	case "rpc":
		client = solrpc.New(solrpc.Config{
			URL:        v.GetString("ledger.rpc_url"),
			Commitment: v.GetString("ledger.commitment"),
		})
	case "sim":
		sim, err := simledger.New(simledger.Config{
			DataProgram:  program,
			SnapshotPath: v.GetString("ledger.sim_snapshot"),
		}, logger.Named("simledger"))
		if err != nil {
			return nil, fmt.Errorf("start simulated ledger: %w", err)
		}
		client = sim
	default:
		return nil, fmt.Errorf("unknown ledger.backend %q (want rpc or sim)", backend)
	}

	gw := ledger.New(client, signer, ledger.Config{
		Commitment:     v.GetString("ledger.commitment"),
		MinBalance:     v.GetUint64("ledger.min_balance"),
		TopUpAmount:    v.GetUint64("ledger.topup_amount"),
		AllowAirdrop:   v.GetBool("ledger.allow_airdrop"),
		ConfirmTimeout: v.GetDuration("ledger.confirm_timeout"),
		PollInterval:   v.GetDuration("ledger.poll_interval"),
		DataProgram:    program,
	}, logger.Named("ledger"))

	if err := gw.Ping(ctx); err != nil {
		logger.Warn("ledger node not healthy at startup", zap.Error(err))
	}
	return gw, nil
}

// loadSigner resolves the fee payer from, in order: an inline base58 key, a
// keypair file, or an ephemeral key when explicitly allowed.
func loadSigner(v *viper.Viper, logger *zap.Logger) (ledger.Signer, error) {
	if key := v.GetString("ledger.signer_key"); key != "" {
		kp, err := ledger.LoadSignerFromBase58(key)
		if err != nil {
			return nil, fmt.Errorf("ledger.signer_key: %w", err)
		}
		return kp, nil
	}
	if path := v.GetString("ledger.signer_file"); path != "" {
		kp, err := ledger.LoadSignerFile(path, v.GetString("ledger.signer_passphrase"))
		if err != nil {
			return nil, fmt.Errorf("ledger.signer_file: %w", err)
		}
		return kp, nil
	}
	if !v.GetBool("ledger.ephemeral_signer") {
		return nil, fmt.Errorf("no signer configured: set ledger.signer_key or ledger.signer_file (or ledger.ephemeral_signer for development)")
	}
	kp, err := ledger.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral signer: %w", err)
	}
	logger.Warn("using an ephemeral fee payer; funds and authority are lost on restart",
		zap.String("payer", kp.PublicKey().String()),
	)
	return kp, nil
}

// openStore opens the commitment store selected by store.backend. The
// returned func releases it and any pool it owns.
func openStore(ctx context.Context, v *viper.Viper, gw *ledger.Gateway, logger *zap.Logger) (commitstore.Store, func(), error) {
	log := logger.Named("commitstore")
	switch backend := v.GetString("store.backend"); backend {
	case "memory":
		s := commitstore.NewMemory()
		return s, func() { _ = s.Close() }, nil

	case "file":
		s, err := commitstore.NewFileStore(ctx, v.GetString("store.path"), log)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil

	case "sqlite":
		s, err := commitstore.NewSQLiteStore(ctx, v.GetString("store.sqlite_path"), log)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, v.GetString("database.url"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		s := commitstore.NewPostgresStore(pool, log)
		return s, func() {
			_ = s.Close()
			pool.Close()
		}, nil

	case "ledger":
		if !gw.SupportsPayload() {
			return nil, nil, fmt.Errorf("store.backend=ledger requires ledger.data_program_id")
		}
		s := commitstore.NewLedgerStore(gw, log)
		return s, func() { _ = s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store.backend %q", backend)
	}
}
