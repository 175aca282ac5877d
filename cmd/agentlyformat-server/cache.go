package main

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// snapshotCache is an optional, consumer-side crash-recovery aid: the
// core itself persists nothing (spec §6 Non-goals), so a demo deployment
// that wants to survive a process restart mid-stream snapshots each
// session's last committed tree to an embedded badger store and replays
// it into a freshly created session of the same id.
//
// Grounded on the teacher's PersistenceManager
// (trace/agent/mcts/crs/persistence.go), scaled down from its
// gzip+SHA256+flock backup/restore machinery to a single badger
// key-value put/get per session, since a tree snapshot is already small
// and badger itself handles on-disk durability and compaction.
type snapshotCache struct {
	db *badger.DB
}

func openSnapshotCache(dir string) (*snapshotCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: open %s: %w", dir, err)
	}
	return &snapshotCache{db: db}, nil
}

// save stores snapshot, the canonical JSON encoding of a session's
// current committed tree, keyed by session id.
func (c *snapshotCache) save(sessionID string, snapshot []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionID), snapshot)
	})
}

// load returns the most recent snapshot for sessionID, if any.
func (c *snapshotCache) load(sessionID string) ([]byte, bool, error) {
	var snapshot []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshot = append([]byte(nil), val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return snapshot, true, nil
}

func (c *snapshotCache) delete(sessionID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionID))
	})
}

func (c *snapshotCache) Close() error {
	return c.db.Close()
}

// marshalSnapshot is a tiny helper so handlers don't repeat the
// interface{} boxing needed to turn a tree.Value into cacheable bytes.
func marshalSnapshot(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
