package commitstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

// lockRetry is how often a blocked FileStore retries the cross-process lock.
const lockRetry = 10 * time.Millisecond

// FileStore keeps commitments in a single JSON file. Writers in other
// processes are excluded by an advisory lock on a sibling ".lock" file, and
// every Put re-reads the file under that lock before appending, so records
// written elsewhere are never lost.
//
// The file holds a JSON array of records. A JSON object mapping account
// address to hex digest is also accepted on load; it is rewritten as an
// array on the next Put.
type FileStore struct {
	path   string
	lock   *flock.Flock
	logger *zap.Logger

	mu      sync.RWMutex
	records []Record
	index   map[ledger.AccountID]int
}

// NewFileStore opens the store at path, creating parent directories as
// needed. A missing file is an empty store.
func NewFileStore(ctx context.Context, path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("commitstore: file path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	s := &FileStore{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
		index:  make(map[ledger.AccountID]int),
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(ctx, true); err != nil {
		return err
	}
	defer s.release()

	records, err := s.read()
	if err != nil {
		return err
	}
	s.replace(records)

	if _, ok := s.index[rec.AccountID]; ok {
		return ErrDuplicateKey
	}
	next := append(records[:len(records):len(records)], rec)
	if err := s.write(next); err != nil {
		return err
	}
	s.replace(next)

	s.logger.Debug("commitment recorded",
		zap.String("account", rec.AccountID.String()),
		zap.String("path", s.path),
	)
	return nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, id ledger.AccountID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.records[i], nil
}

// Reload implements Store.
func (s *FileStore) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(ctx, false); err != nil {
		return err
	}
	defer s.release()

	records, err := s.read()
	if err != nil {
		return err
	}
	s.replace(records)
	return nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return s.lock.Close()
}

// acquire takes the cross-process lock. Callers hold s.mu exclusively,
// since a single flock handle is not safe for overlapping lock holders.
func (s *FileStore) acquire(ctx context.Context, exclusive bool) error {
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = s.lock.TryLockContext(ctx, lockRetry)
	} else {
		ok, err = s.lock.TryRLockContext(ctx, lockRetry)
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("lock %s: not acquired", s.lock.Path())
	}
	return nil
}

func (s *FileStore) release() {
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("release store lock", zap.String("path", s.lock.Path()), zap.Error(err))
	}
}

// replace swaps in records and rebuilds the index. Caller holds s.mu.
func (s *FileStore) replace(records []Record) {
	index := make(map[ledger.AccountID]int, len(records))
	for i, r := range records {
		index[r.AccountID] = i
	}
	s.records = records
	s.index = index
}

func (s *FileStore) read() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '{' {
		records, err := decodeLegacy(data)
		if err != nil {
			return nil, fmt.Errorf("parse store file %s: %w", s.path, err)
		}
		return records, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", s.path, err)
	}
	return records, nil
}

// write persists records atomically: temp file, fsync, rename.
func (s *FileStore) write(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return syncDir(filepath.Dir(s.path))
}

// syncDir flushes dir so a rename into it survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open store directory: %w", err)
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return fmt.Errorf("sync store directory: %w", err)
	}
	return d.Close()
}

// decodeLegacy reads the {"<account>": "<hex digest>"} layout, keeping key
// order as the insertion order.
func decodeLegacy(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var records []Record
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		id, err := ledger.ParseAccountID(key)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		var hexDigest string
		if err := dec.Decode(&hexDigest); err != nil {
			return nil, fmt.Errorf("value for %s: %w", key, err)
		}
		// Older writers stored digests in whatever case the caller sent.
		d, err := fingerprint.ParseHex(strings.ToLower(hexDigest))
		if err != nil {
			return nil, fmt.Errorf("value for %s: %w", key, err)
		}
		records = append(records, Record{AccountID: id, Digest: d})
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return records, nil
}
