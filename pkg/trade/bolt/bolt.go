package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/oklog/ulid/v2"
)

var bucket = []byte("trades")

func New(path string) (*Store, error) {
	// The data file will be created if it doesn't exist.
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: couldn't open bolt db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: couldn't create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

type Store struct {
	db *bolt.DB
}

func (s *Store) Close() error {
	return s.db.Close()
}

// List returns trades opened in [from, to] in insertion order. Keys are
// ulids so the cursor walks them chronologically.
func (s *Store) List(from time.Time, to time.Time) ([]*trade.Trade, error) {
	var trades []*trade.Trade
	if err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()

		// Time range
		var min ulid.ULID
		if from.After(time.Unix(0, 0)) {
			if err := min.SetTime(ulid.Timestamp(from)); err != nil {
				return fmt.Errorf("couldn't set min key: %w", err)
			}
		}

		for k, v := c.Seek([]byte(min.String())); k != nil; k, v = c.Next() {
			var t trade.Trade
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("couldn't decode %s: %w", k, err)
			}
			if t.OpenTime.After(to) {
				break
			}
			if t.OpenTime.Before(from) {
				continue
			}
			trades = append(trades, &t)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("bolt: couldn't query: %w", err)
	}
	return trades, nil
}

func (s *Store) Append(t *trade.Trade) error {
	key := []byte(t.ID)
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get(key) != nil {
			return trade.ErrDuplicate
		}
		byt, err := t.Marshal()
		if err != nil {
			return fmt.Errorf("couldn't encode: %w", err)
		}
		return b.Put(key, byt)
	}); err != nil {
		return fmt.Errorf("bolt: couldn't put %s: %w", key, err)
	}
	return nil
}
