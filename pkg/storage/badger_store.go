package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/log"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

const (
	caseKeyPrefix = "case:"          // case:{portal}:{journalpostId}
	dateKeyPrefix = "date:"          // date:{portal}:{YYYY-MM-DD}
	stateDBDir    = "crawl_state_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the StateStore interface using BadgerDB.
// One store serves every portal of a run; keys carry the portal.
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) Count
}

// NewBadgerStore opens (or creates) the crawl state database under stateDir.
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbPath := filepath.Join(stateDir, stateDBDir)
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest outcome matters

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing keys: %v", err)
	} else {
		store.keyCount.Store(int64(count))
	}

	logger.WithField("path", dbPath).Debugf("Crawl state database opened with %d entries", count)
	return store, nil
}

func caseKey(portal, journalpostID string) []byte {
	return []byte(caseKeyPrefix + portal + ":" + journalpostID)
}

func dateKey(portal, date string) []byte {
	return []byte(dateKeyPrefix + portal + ":" + date)
}

// countKeys performs a one-time full key scan (used only when opening).
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Parallel date workers can write overlapping keys; conflicts resolve in microseconds.
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

// put marshals v under key and keeps keyCount current.
func (s *BadgerStore) put(key []byte, v any) error {
	if s.db == nil || s.db.IsClosed() {
		return fmt.Errorf("%w: state database not open", utils.ErrDatabase)
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: JSON: marshal entry for key '%s': %w", utils.ErrParsing, string(key), err)
	}

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		if _, errGet := txn.Get(key); errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, val))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: setting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// get decodes the value at key into v. found is false when the key is absent or undecodable.
func (s *BadgerStore) get(key []byte, v any) (found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			if errJSON := json.Unmarshal(val, v); errJSON != nil {
				s.log.Warnf("Failed to unmarshal entry for key '%s': %v. Treating as 'not_found'.", string(key), errJSON)
				return nil
			}
			found = true
			return nil
		})
	})
	return found, err
}

// CheckCaseStatus implements the CaseStore interface
func (s *BadgerStore) CheckCaseStatus(portal, journalpostID string) (models.CaseStatus, *models.CaseDBEntry, error) {
	var entry models.CaseDBEntry
	found, err := s.get(caseKey(portal, journalpostID), &entry)
	if err != nil {
		s.log.Errorf("DB View error in CheckCaseStatus for %s/%s: %v", portal, journalpostID, err)
		return models.CaseStatusDBError, nil, err
	}
	if !found {
		return models.CaseStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// UpdateCaseStatus implements the CaseStore interface
func (s *BadgerStore) UpdateCaseStatus(entry *models.CaseDBEntry) error {
	if entry.Portal == "" || entry.JournalpostID == "" {
		return fmt.Errorf("%w: case entry needs portal and journalpost id", utils.ErrDatabase)
	}
	return s.put(caseKey(entry.Portal, entry.JournalpostID), entry)
}

// CheckDateStatus implements the DateStore interface
func (s *BadgerStore) CheckDateStatus(portal, date string) (models.DateStatus, *models.DateDBEntry, error) {
	var entry models.DateDBEntry
	found, err := s.get(dateKey(portal, date), &entry)
	if err != nil {
		return models.DateStatusDBError, nil, err
	}
	if !found {
		return models.DateStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// UpdateDateStatus implements the DateStore interface
func (s *BadgerStore) UpdateDateStatus(entry *models.DateDBEntry) error {
	if entry.Portal == "" || entry.Date == "" {
		return fmt.Errorf("%w: date entry needs portal and date", utils.ErrDatabase)
	}
	return s.put(dateKey(entry.Portal, entry.Date), entry)
}

// Count implements the StoreAdmin interface.
func (s *BadgerStore) Count() int {
	return int(s.keyCount.Load())
}

// scanPrefix calls fn with every value stored under prefix, stopping early on cancellation.
func (s *BadgerStore) scanPrefix(ctx context.Context, prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// FailedCases implements the StoreAdmin interface
func (s *BadgerStore) FailedCases(ctx context.Context, portal string) ([]models.CaseDBEntry, error) {
	var failed []models.CaseDBEntry
	scanErrors := 0
	err := s.scanPrefix(ctx, []byte(caseKeyPrefix+portal+":"), func(val []byte) error {
		var entry models.CaseDBEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			scanErrors++
			return nil
		}
		if entry.Status == models.CaseStatusFailure {
			failed = append(failed, entry)
		}
		return nil
	})
	if scanErrors > 0 {
		s.log.Warnf("Skipped %d undecodable case entries for portal %s", scanErrors, portal)
	}
	if err != nil {
		return failed, wrapScanErr(err)
	}
	sort.Slice(failed, func(i, j int) bool {
		if failed[i].Date != failed[j].Date {
			return failed[i].Date < failed[j].Date
		}
		return failed[i].JournalpostID < failed[j].JournalpostID
	})
	return failed, nil
}

// FailedDates implements the StoreAdmin interface
func (s *BadgerStore) FailedDates(ctx context.Context, portal string) ([]models.DateDBEntry, error) {
	var failed []models.DateDBEntry
	err := s.scanPrefix(ctx, []byte(dateKeyPrefix+portal+":"), func(val []byte) error {
		var entry models.DateDBEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return nil
		}
		if entry.Status == models.DateStatusFailure {
			failed = append(failed, entry)
		}
		return nil
	})
	if err != nil {
		return failed, wrapScanErr(err)
	}
	// Keys are ordered and YYYY-MM-DD sorts chronologically
	return failed, nil
}

func wrapScanErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: scan: %w", utils.ErrDatabase, err)
}

// WriteFailedReport implements the StoreAdmin interface.
// Lines are "date<TAB>journalpost id<TAB>error type<TAB>url"; a failed listing date has "-" as id.
// A case archived with missing documents gets one line per missing document.
func (s *BadgerStore) WriteFailedReport(ctx context.Context, portal string, w io.Writer) (int, error) {
	dates, err := s.FailedDates(ctx, portal)
	if err != nil {
		return 0, err
	}
	cases, err := s.FailedCases(ctx, portal)
	if err != nil {
		return 0, err
	}

	writer := bufio.NewWriter(w)
	written := 0
	var writeErr error
	line := func(fields ...string) {
		if writeErr != nil {
			return
		}
		_, writeErr = writer.WriteString(strings.Join(fields, "\t") + "\n")
		written++
	}
	for _, d := range dates {
		line(d.Date, "-", d.ErrorType, "listing")
	}
	for _, c := range cases {
		if len(c.FailedAttachments) == 0 {
			line(c.Date, c.JournalpostID, c.ErrorType, c.CaseURL)
			continue
		}
		for _, a := range c.FailedAttachments {
			line(c.Date, c.JournalpostID, "Attachment_"+a.ErrorType, a.URL)
		}
	}
	if writeErr == nil {
		writeErr = writer.Flush()
	}
	if writeErr != nil {
		return written, fmt.Errorf("%w: write failed report: %w", utils.ErrFilesystem, writeErr)
	}

	if f, ok := w.(*os.File); ok {
		if err := f.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
			s.log.Debugf("Sync of failed report skipped: %v", err)
		}
	}
	return written, nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
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

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing state DB: %v", err)
			return fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
		}
		s.log.Debug("State DB closed.")
	}
	return nil
}
