package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/n2nstreams/rollout/pkg/types"
)

var (
	// Bucket names
	bucketTransactions     = []byte("transactions")
	bucketRollbackEvents   = []byte("rollback_events")
	bucketPromotions       = []byte("promotions")
	bucketPendingDeletions = []byte("pending_deletions")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "rollout.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTransactions,
			bucketRollbackEvents,
			bucketPromotions,
			bucketPendingDeletions,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Transaction operations
func (s *BoltStore) SaveTransaction(txn *types.DeploymentTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		data, err := json.Marshal(txn)
		if err != nil {
			return err
		}
		return b.Put([]byte(txn.ID), data)
	})
}

func (s *BoltStore) GetTransaction(id string) (*types.DeploymentTransaction, error) {
	var txn types.DeploymentTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("transaction not found: %s", id)
		}
		return json.Unmarshal(data, &txn)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactions returns all transactions, newest first. Keys are random
// ids, so bucket order is meaningless and the result is sorted by start time.
func (s *BoltStore) ListTransactions() ([]*types.DeploymentTransaction, error) {
	var txns []*types.DeploymentTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		return b.ForEach(func(k, v []byte) error {
			var txn types.DeploymentTransaction
			if err := json.Unmarshal(v, &txn); err != nil {
				return err
			}
			txns = append(txns, &txn)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(txns, func(i, j int) bool {
		return txns[i].StartedAt.After(txns[j].StartedAt)
	})
	return txns, nil
}

// Rollback event operations. Keys are timestamp-prefixed for ordering.
func (s *BoltStore) AppendRollbackEvent(event *types.RollbackEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRollbackEvents)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d/%s", event.Timestamp.UnixNano(), event.ID)
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) ListRollbackEvents() ([]*types.RollbackEvent, error) {
	var evs []*types.RollbackEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRollbackEvents)
		return b.ForEach(func(k, v []byte) error {
			var ev types.RollbackEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			evs = append(evs, &ev)
			return nil
		})
	})
	return evs, err
}

// Promotion operations, latest per service
func (s *BoltStore) SavePromotion(p *types.Promotion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPromotions)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.Ref.Name()), data)
	})
}

func (s *BoltStore) LatestPromotion(ref types.ServiceRef) (*types.Promotion, error) {
	var p types.Promotion
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPromotions)
		data := b.Get([]byte(ref.Name()))
		if data == nil {
			return fmt.Errorf("no promotion recorded for %s", ref)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Pending deletion operations, keyed service-name/revision
func (s *BoltStore) AddPendingDeletion(ref types.ServiceRef, revision string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingDeletions)
		return b.Put(pendingKey(ref, revision), []byte(revision))
	})
}

func (s *BoltStore) ListPendingDeletions(ref types.ServiceRef) ([]string, error) {
	var revisions []string
	prefix := []byte(ref.Name() + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPendingDeletions).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			revisions = append(revisions, string(v))
		}
		return nil
	})
	return revisions, err
}

func (s *BoltStore) RemovePendingDeletion(ref types.ServiceRef, revision string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingDeletions)
		return b.Delete(pendingKey(ref, revision))
	})
}

func pendingKey(ref types.ServiceRef, revision string) []byte {
	return []byte(ref.Name() + "/" + revision)
}
