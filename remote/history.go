package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Every successful push abandons the previous snapshot, so keep a local log
// of what was published when. It has saved people before.

var bucketSnapshots = []byte("snapshots")

func historyPath(gitDir string) string {
	return filepath.Join(gitDir, "ipfs", "history.db")
}

// appendHistory records a pushed snapshot CID for a remote id.
func appendHistory(gitDir, remoteID, cid string) error {
	if err := os.MkdirAll(filepath.Dir(historyPath(gitDir)), 0700); err != nil {
		return err
	}
	db, err := bolt.Open(historyPath(gitDir), 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		if err != nil {
			return err
		}
		key := time.Now().UTC().Format(time.RFC3339Nano)
		return bucket.Put([]byte(key), []byte(remoteID+" "+cid))
	})
}

// History returns every recorded snapshot as "time remote-id cid" lines,
// oldest first. An absent database is just an empty history.
func History(gitDir string) ([]string, error) {
	db, err := bolt.Open(historyPath(gitDir), 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		ReadOnly: false,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open snapshot history: %w", err)
	}
	defer db.Close()

	lines := make([]string, 0)
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			lines = append(lines, string(k)+" "+string(v))
			return nil
		})
	})
	return lines, err
}
