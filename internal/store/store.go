// Package store implements the Local Store described in SPEC_FULL.md §4.2:
// a transactional, single-file persistence layer for the singleton
// SyncStatus record and the set of hashed UCVIs, backed by bbolt — the
// embedded single-file KV store that plays the role the original's
// document store plays, out of scope as a product per spec.md §1/§6 but
// whose role this package implements directly.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/italia/drl-sync/internal/store/canon"
	"github.com/italia/drl-sync/pkg/drl"
)

var (
	statusBucket    = []byte("sync_status")
	blacklistBucket = []byte("blacklist")
	statusKey       = []byte("status")
)

// DefaultRelativePath is the on-disk location of the mirror file relative to
// a configured base path, per SPEC_FULL.md §6.
const DefaultRelativePath = "DgcReaderData/Blacklist/Italy/italian-drl.ldb"

// Store is the Local Store: load/init the singleton SyncStatus, test and
// mutate membership of hashed UCVIs, all atomically per call.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the store file at path, ensuring both
// buckets exist — the "index on hashed_ucvi" named in spec.md §3 is bbolt's
// native key ordering within blacklistBucket, so no separate index needs
// maintaining.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, drl.NewStoreError("failed to create store directory", err)
		}
	}

	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, drl.NewStoreError("failed to open store file", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(statusBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(blacklistBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, drl.NewStoreError("failed to initialize store buckets", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadOrInitStatus returns the singleton SyncStatus, creating it with all-zero
// defaults on first access (invariant 1 of spec.md §3).
func (s *Store) LoadOrInitStatus() (drl.SyncStatus, error) {
	var status drl.SyncStatus
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(statusBucket)
		raw := b.Get(statusKey)
		if raw == nil {
			return b.Put(statusKey, mustEncodeStatus(status))
		}
		return canon.Unmarshal(raw, &status)
	})
	if err != nil {
		return drl.SyncStatus{}, drl.NewStoreError("failed to load sync status", err)
	}
	return status, nil
}

// UpdateStatus persists status as the new singleton record.
func (s *Store) UpdateStatus(status drl.SyncStatus) error {
	data, err := canon.Marshal(status)
	if err != nil {
		return drl.NewStoreError("failed to encode sync status", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(statusBucket).Put(statusKey, data)
	})
	if err != nil {
		return drl.NewStoreError("failed to persist sync status", err)
	}
	return nil
}

// ContainsHashedUCVI reports whether hash is present in the blacklist.
func (s *Store) ContainsHashedUCVI(hash string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blacklistBucket).Get([]byte(hash))
		found = v != nil
		return nil
	})
	if err != nil {
		return false, drl.NewStoreError("failed to query blacklist", err)
	}
	return found, nil
}

// BulkInsertMissing inserts every hash in hashes that isn't already present,
// paged internally at pageSize to bound transaction size (SPEC_FULL.md §4.3:
// PAGE = 1000). Hashes already present are skipped; no warning is logged for
// the overlap, here or in the Sync Engine.
func (s *Store) BulkInsertMissing(hashes []string, pageSize int) error {
	return s.pagedUpdate(hashes, pageSize, func(b *bbolt.Bucket, hash string) error {
		if b.Get([]byte(hash)) != nil {
			return nil
		}
		return b.Put([]byte(hash), []byte{})
	})
}

// BulkDelete removes every hash in hashes, paged internally at pageSize.
func (s *Store) BulkDelete(hashes []string, pageSize int) error {
	return s.pagedUpdate(hashes, pageSize, func(b *bbolt.Bucket, hash string) error {
		return b.Delete([]byte(hash))
	})
}

func (s *Store) pagedUpdate(hashes []string, pageSize int, apply func(*bbolt.Bucket, string) error) error {
	if pageSize <= 0 {
		pageSize = len(hashes)
		if pageSize == 0 {
			pageSize = 1
		}
	}
	for start := 0; start < len(hashes); start += pageSize {
		end := start + pageSize
		if end > len(hashes) {
			end = len(hashes)
		}
		page := hashes[start:end]
		err := s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(blacklistBucket)
			for _, hash := range page {
				if err := apply(b, hash); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return drl.NewStoreError("failed to apply bulk update page", err)
		}
	}
	return nil
}

// CountEntries returns the number of hashed UCVIs currently persisted.
func (s *Store) CountEntries() (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(blacklistBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, drl.NewStoreError("failed to count entries", err)
	}
	return count, nil
}

// DropEntries wipes the blacklist bucket but leaves the sync_status bucket
// untouched — the caller updates SyncStatus in the same logical operation.
func (s *Store) DropEntries() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(blacklistBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(blacklistBucket)
		return err
	})
	if err != nil {
		return drl.NewStoreError("failed to drop entries", err)
	}
	return nil
}

// ReplaceAndInsert atomically wipes the blacklist, persists status, and
// inserts hashes, all in one bbolt transaction. This closes the visibility
// window spec.md §9's first open question calls out: a non-incremental
// chunk 1's wipe and its insert must be atomic, or a query mid-refresh could
// observe an empty mirror and wrongly answer "not revoked".
func (s *Store) ReplaceAndInsert(status drl.SyncStatus, hashes []string) error {
	data, err := canon.Marshal(status)
	if err != nil {
		return drl.NewStoreError("failed to encode sync status", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(blacklistBucket); err != nil {
			return err
		}
		bl, err := tx.CreateBucket(blacklistBucket)
		if err != nil {
			return err
		}
		for _, hash := range hashes {
			if err := bl.Put([]byte(hash), []byte{}); err != nil {
				return err
			}
		}
		return tx.Bucket(statusBucket).Put(statusKey, data)
	})
	if err != nil {
		return drl.NewStoreError("failed to replace entries", err)
	}
	return nil
}

func mustEncodeStatus(status drl.SyncStatus) []byte {
	data, err := canon.Marshal(status)
	if err != nil {
		panic(fmt.Sprintf("store: failed to encode zero-value sync status: %v", err))
	}
	return data
}
