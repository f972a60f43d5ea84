// Package store provides the BoltDB-backed persistence layer.
//
// BoltDB allows a single read-write transaction at a time, and that
// transaction is the serialization point for every order transition: an
// update reads the current document, checks the guard (for example "payment
// status is still pending") and writes within the same transaction. Two
// writers racing on one order therefore see each other's results and never
// lose an update, without any in-process lock.
//
// Stock reservations touch several product documents and the order in one
// transaction, so a checkout either reserves all of its lines or none.
package store

import (
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketOrders      = []byte("orders")
	bucketPending     = []byte("orders_pending")
	bucketProducts    = []byte("products")
	bucketSettings    = []byte("settings")
	bucketPayments    = []byte("payments")
	bucketIdempotency = []byte("idempotency_keys")
)

// settingsKey is the fixed key of the singleton settings record.
var settingsKey = []byte("global")

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a stock decrement would make a
	// size's stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnknownSize is returned when a product has no such size.
	ErrUnknownSize = errors.New("unknown size")
)

// Store wraps a BoltDB database.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// New opens (or creates) a BoltDB database at the given path and ensures all
// buckets exist.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketOrders, bucketPending, bucketProducts,
			bucketSettings, bucketPayments, bucketIdempotency,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the time source used to stamp documents.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Update runs fn inside a read-write transaction. Returning an error from fn
// rolls back every write made through tx.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx, now: s.now()})
	})
}

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx, now: s.now()})
	})
}

// Tx is a transaction handle exposing typed document access.
type Tx struct {
	tx  *bolt.Tx
	now time.Time
}

// Now is the timestamp shared by every write in the transaction.
func (t *Tx) Now() time.Time {
	return t.now
}

func getJSON(b *bolt.Bucket, key []byte, v any) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}
