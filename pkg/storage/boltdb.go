package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/promagent/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketState     = []byte("state")
	bucketRelations = []byte("relations")

	// Keys in the state bucket
	keyInstalled   = []byte("installed")
	keyService     = []byte("service")
	keyLastApplied = []byte("last_applied")
	keyCycleStatus = []byte("cycle_status")
)

// DBFileName is the state file inside the data directory
const DBFileName = "promagent.db"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the state database in dataDir. The file
// lock bbolt takes keeps two agent processes from running cycles at once;
// a second opener gives up after a few seconds.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketState, bucketRelations} {
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

func (s *BoltStore) put(key []byte, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketState).Put(key, data)
	})
}

// get leaves v untouched when the key has never been written
func (s *BoltStore) get(key []byte, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get(key)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return nil
	})
}

// Installed state operations
func (s *BoltStore) GetInstalledState() (types.InstalledState, error) {
	var state types.InstalledState
	err := s.get(keyInstalled, &state)
	return state, err
}

func (s *BoltStore) SaveInstalledState(state types.InstalledState) error {
	return s.put(keyInstalled, state)
}

// Service state operations
func (s *BoltStore) GetServiceState() (types.ServiceState, error) {
	var state types.ServiceState
	err := s.get(keyService, &state)
	return state, err
}

func (s *BoltStore) SaveServiceState(state types.ServiceState) error {
	return s.put(keyService, state)
}

// Last applied operations
func (s *BoltStore) GetLastApplied() (types.LastAppliedState, error) {
	var state types.LastAppliedState
	err := s.get(keyLastApplied, &state)
	return state, err
}

func (s *BoltStore) SaveLastApplied(state types.LastAppliedState) error {
	return s.put(keyLastApplied, state)
}

// Cycle status operations
func (s *BoltStore) GetCycleStatus() (types.CycleStatus, error) {
	var status types.CycleStatus
	err := s.get(keyCycleStatus, &status)
	return status, err
}

func (s *BoltStore) SaveCycleStatus(status types.CycleStatus) error {
	return s.put(keyCycleStatus, status)
}

// Relation operations
func (s *BoltStore) PutRelation(relationID int, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).Put(relationKey(relationID), payload)
	})
}

func (s *BoltStore) DeleteRelation(relationID int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).Delete(relationKey(relationID))
	})
}

func (s *BoltStore) ListRelations() (map[int][]byte, error) {
	relations := make(map[int][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).ForEach(func(k, v []byte) error {
			id, err := strconv.Atoi(string(k))
			if err != nil {
				return fmt.Errorf("corrupt relation key %q: %w", k, err)
			}
			// v is only valid for the life of the transaction
			relations[id] = append([]byte(nil), v...)
			return nil
		})
	})
	return relations, err
}

func relationKey(relationID int) []byte {
	return []byte(strconv.Itoa(relationID))
}
