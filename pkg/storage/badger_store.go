package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-scheduler/pkg/log"
	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

const (
	resultKeyPrefix = "result:"    // Prefix for URL result keys in DB
	resultsDBDir    = "results_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements ResultStore using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached result count for O(1) ResultCount
}

// NewBadgerStore opens the result database for runName under stateDir.
// Without resume, results from a previous run are removed first
func NewBadgerStore(stateDir, runName string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(runName)+"_"+resultsDBDir)

	if !resume {
		logger.Warnf("Resume flag is false. REMOVING existing result directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing result directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing result database at: %s (Resume: %v)", dbPath, resume)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1) // Only the latest classification per URL matters

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	if resume {
		count, err := store.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing results on resume: %v", err)
		} else {
			store.keyCount.Store(int64(count))
			logger.Infof("Loaded existing result count on resume: %d", count)
		}
	}

	logger.Info("Result database initialized successfully.")
	return store, nil
}

// countKeys performs a one-time prefix scan (used only on resume)
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(resultKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts on overlapping keys resolve in microseconds, so a tight loop is enough
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// PutResult implements ResultWriter
func (s *BadgerStore) PutResult(rec models.ScoredURL) (bool, error) {
	if s.db == nil || s.db.IsClosed() {
		return false, fmt.Errorf("%w: result DB not open", utils.ErrDatabase)
	}
	if rec.URL == "" {
		return false, fmt.Errorf("%w: result has empty URL", utils.ErrDatabase)
	}

	key := []byte(resultKeyPrefix + rec.URL)
	val, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("%w: failed to marshal result for key '%s': %w", utils.ErrParsing, string(key), err)
	}

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			isNew = true
		case errGet != nil:
			return errGet
		}
		return txn.SetEntry(badger.NewEntry(key, val))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in PutResult: %v", err)
		return false, fmt.Errorf("%w: storing result for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return isNew, nil
}

// Emit stores rec so the store can sit behind the scheduler's emitter
func (s *BadgerStore) Emit(rec models.ScoredURL) error {
	if _, err := s.PutResult(rec); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrEmit, err)
	}
	return nil
}

// GetResult implements ResultReader
func (s *BadgerStore) GetResult(rawURL string) (*models.ScoredURL, bool, error) {
	var rec *models.ScoredURL
	key := []byte(resultKeyPrefix + rawURL)

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting result key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.ScoredURL
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				return fmt.Errorf("%w: decoding JSON result for key '%s': %w", utils.ErrParsing, string(key), errJSON)
			}
			rec = &decoded
			return nil
		})
	})
	if err != nil {
		s.log.Errorf("DB View error in GetResult for key '%s': %v", string(key), err)
		return nil, false, err
	}
	return rec, rec != nil, nil
}

// CountByDisposition implements ResultReader. Undecodable values are logged and skipped
func (s *BadgerStore) CountByDisposition(ctx context.Context) (map[models.Disposition]int, error) {
	counts := make(map[models.Disposition]int, len(models.AllDispositions))
	err := s.scan(ctx, func(key string, rec models.ScoredURL) error {
		counts[rec.Disposition]++
		return nil
	})
	return counts, err
}

// ResultCount implements ResultReader
func (s *BadgerStore) ResultCount() int {
	return int(s.keyCount.Load())
}

// scan walks every stored result in key order
func (s *BadgerStore) scan(ctx context.Context, fn func(key string, rec models.ScoredURL) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(resultKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				s.log.Warnf("Result scan interrupted by context cancellation: %v", err)
				return err
			}

			item := it.Item()
			key := string(item.Key()[len(prefix):])
			var rec models.ScoredURL
			errValue := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if errValue != nil {
				s.log.Errorf("Result scan: failed to decode value for '%s': %v. Skipping.", key, errValue)
				continue
			}
			if err := fn(key, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteResultsLog implements StoreAdmin
func (s *BadgerStore) WriteResultsLog(ctx context.Context, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed create results log '%s': %v", filePath, err)
		return fmt.Errorf("%w: create results log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	enc := json.NewEncoder(writer)
	writtenCount := 0

	iterErr := s.scan(ctx, func(key string, rec models.ScoredURL) error {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("%w: writing result '%s': %w", utils.ErrFilesystem, key, err)
		}
		writtenCount++
		if writtenCount%5000 == 0 {
			s.log.Debugf("Flushing results writer after %d entries...", writtenCount)
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("%w: flushing results log: %w", utils.ErrFilesystem, err)
			}
		}
		return nil
	})

	firstErr := iterErr
	if flushErr := writer.Flush(); flushErr != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: final flush of '%s': %w", utils.ErrFilesystem, filePath, flushErr)
	}
	if syncErr := file.Sync(); syncErr != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: sync of '%s': %w", utils.ErrFilesystem, filePath, syncErr)
	}

	if firstErr == nil {
		s.log.Infof("Finished writing %d results to log: %s", writtenCount, filePath)
	} else {
		s.log.Warnf("Finished writing results log with errors. Wrote ~%d results to %s", writtenCount, filePath)
	}
	return firstErr
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")
	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Debug("DB GC: database closed, skipping cycle.")
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin. Safe to call more than once
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing result DB: %v", err)
		return fmt.Errorf("%w: closing result DB: %w", utils.ErrDatabase, err)
	}
	s.log.Info("Result DB closed.")
	return nil
}
