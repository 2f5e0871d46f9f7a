package commitstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

// PostgresStore persists commitments to the commitments table created by
// migrations/001_commitments.up.sql. Several anchoring processes may share
// one database; the account_id primary key enforces write-once keys.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by pool. The caller owns
// the pool; Close does not close it.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO commitments (account_id, digest, tx_ref, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id) DO NOTHING`,
		rec.AccountID.String(),
		rec.Digest.Bytes(),
		txRefText(rec.TxRef),
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateKey
	}
	s.logger.Debug("commitment recorded", zap.String("account", rec.AccountID.String()))
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id ledger.AccountID) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT account_id, digest, tx_ref, created_at FROM commitments WHERE account_id = $1`,
		id.String(),
	)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get commitment %s: %w", id, err)
	}
	return rec, nil
}

// Reload implements Store. Every Get already reads the database.
func (s *PostgresStore) Reload(_ context.Context) error { return nil }

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, digest, tx_ref, created_at FROM commitments ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error { return nil }

func scanPostgres(row pgx.Row) (Record, error) {
	var (
		account string
		digest  []byte
		ref     string
		created time.Time
	)
	if err := row.Scan(&account, &digest, &ref, &created); err != nil {
		return Record{}, err
	}
	id, err := ledger.ParseAccountID(account)
	if err != nil {
		return Record{}, fmt.Errorf("account_id %q: %w", account, err)
	}
	d, err := fingerprint.FromBytes(digest)
	if err != nil {
		return Record{}, fmt.Errorf("digest for %s: %w", account, err)
	}
	rec := Record{AccountID: id, Digest: d, CreatedAt: created.UTC()}
	if ref != "" {
		if rec.TxRef, err = ledger.ParseTxRef(ref); err != nil {
			return Record{}, fmt.Errorf("tx_ref for %s: %w", account, err)
		}
	}
	return rec, nil
}
