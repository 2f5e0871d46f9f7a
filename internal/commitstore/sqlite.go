package commitstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS commitments (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL UNIQUE,
    digest     TEXT NOT NULL,
    tx_ref     TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
)`

// SQLiteStore persists commitments in a local SQLite database. WAL mode and
// a busy timeout let several processes on one host share the file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("commitstore: sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: pragmas below are per connection, and serialising
	// writers in-process avoids SQLITE_BUSY on snapshot upgrades.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create commitments table: %w", err)
	}
	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO commitments (account_id, digest, tx_ref, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id) DO NOTHING`,
		rec.AccountID.String(),
		rec.Digest.String(),
		txRefText(rec.TxRef),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}
	s.logger.Debug("commitment recorded", zap.String("account", rec.AccountID.String()), zap.String("path", s.path))
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id ledger.AccountID) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT account_id, digest, tx_ref, created_at FROM commitments WHERE account_id = ?`,
		id.String(),
	)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get commitment %s: %w", id, err)
	}
	return rec, nil
}

// Reload implements Store. Every Get already reads the database.
func (s *SQLiteStore) Reload(_ context.Context) error { return nil }

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, digest, tx_ref, created_at FROM commitments ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (Record, error) {
	var account, digest, ref, created string
	if err := row.Scan(&account, &digest, &ref, &created); err != nil {
		return Record{}, err
	}
	return decodeColumns(account, digest, ref, created)
}

func decodeColumns(account, digest, ref, created string) (Record, error) {
	var rec Record
	var err error
	if rec.AccountID, err = ledger.ParseAccountID(account); err != nil {
		return Record{}, fmt.Errorf("account_id %q: %w", account, err)
	}
	if rec.Digest, err = fingerprint.ParseHex(digest); err != nil {
		return Record{}, fmt.Errorf("digest for %s: %w", account, err)
	}
	if ref != "" {
		if rec.TxRef, err = ledger.ParseTxRef(ref); err != nil {
			return Record{}, fmt.Errorf("tx_ref for %s: %w", account, err)
		}
	}
	if created != "" {
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return Record{}, fmt.Errorf("created_at for %s: %w", account, err)
		}
	}
	return rec, nil
}

func txRefText(r ledger.TxRef) string {
	if r.IsZero() {
		return ""
	}
	return r.String()
}
