package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var entryPrefix = []byte("e:")

// expiryLen is the size of the big-endian unix-nano expiry stored ahead of each value.
const expiryLen = 8

// LevelDB is an on-disk backend. Each value is stored as an 8-byte expiry
// followed by the payload; expired entries read as misses and are removed lazily.
type LevelDB struct {
	db  *leveldb.DB
	now func() time.Time
}

// OpenLevelDB opens (or creates) a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return newLevelDB(db), nil
}

func newLevelDB(db *leveldb.DB) *LevelDB {
	return &LevelDB{db: db, now: time.Now}
}

func entryKey(key string) []byte {
	return append(append([]byte{}, entryPrefix...), key...)
}

// Get returns the stored payload when present and unexpired.
func (l *LevelDB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	k := entryKey(key)
	b, err := l.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldb get: %w", err)
	}
	if len(b) < expiryLen {
		_ = l.db.Delete(k, nil)
		return nil, false, fmt.Errorf("leveldb get: truncated entry %q", key)
	}
	if l.expired(b) {
		_ = l.db.Delete(k, nil)
		return nil, false, nil
	}
	return b[expiryLen:], true, nil
}

// Set stores val under key for ttl.
func (l *LevelDB) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := make([]byte, expiryLen+len(val))
	binary.BigEndian.PutUint64(b, uint64(l.now().Add(ttl).UnixNano()))
	copy(b[expiryLen:], val)
	if err := l.db.Put(entryKey(key), b, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// DeleteExpired removes every expired entry in one batch.
func (l *LevelDB) DeleteExpired(ctx context.Context) (int64, error) {
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		v := it.Value()
		if len(v) < expiryLen || l.expired(v) {
			batch.Delete(append([]byte{}, it.Key()...))
		}
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("leveldb iterate: %w", err)
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("leveldb sweep: %w", err)
	}
	return int64(batch.Len()), nil
}

// Close closes the underlying database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

func (l *LevelDB) expired(b []byte) bool {
	exp := int64(binary.BigEndian.Uint64(b[:expiryLen]))
	return l.now().UnixNano() >= exp
}
