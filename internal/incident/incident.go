// Package incident is a durable log of CRITICAL flatten-failure events
// (spec §4.3/§7/§8 I1), adapted from the teacher's bbolt-backed
// internal/storage.Store: same single-bucket append pattern, repurposed
// from trade/depth snapshots to safety incidents that must survive process
// restarts for out-of-band alerting.
package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/archer-trading/execution-core/internal/domain"
)

var incidentsBucket = []byte("flatten_failures")

// Record is one durably-logged CRITICAL flatten-failure incident.
type Record struct {
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Side      domain.Direction `json:"side"`
	Quantity  float64         `json:"quantity"`
	At        time.Time       `json:"at"`
}

// Store is the bbolt-backed incident log.
type Store struct {
	db *bbolt.DB
}

// Open opens (and initializes) a bbolt incident store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open incident store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(incidentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init incident bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// LogCriticalFlattenFailure durably records a naked-position incident.
func (s *Store) LogCriticalFlattenFailure(_ context.Context, userID, symbol string, side domain.Direction, qty float64) error {
	rec := Record{UserID: userID, Symbol: symbol, Side: side, Quantity: qty, At: time.Now()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(incidentsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d", seq)
		return b.Put([]byte(key), raw)
	})
}

// All returns every recorded incident, oldest first, for the admin/alerting
// surface to drain.
func (s *Store) All() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(incidentsBucket)
		return b.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
