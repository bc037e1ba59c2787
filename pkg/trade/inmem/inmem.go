package inmem

import (
	"fmt"
	"sync"
	"time"

	"github.com/igolaizola/quobot/pkg/trade"
)

type Store struct {
	lock   sync.Mutex
	trades []*trade.Trade
	ids    map[string]struct{}
}

func New() *Store {
	return &Store{ids: make(map[string]struct{})}
}

func (s *Store) List(from time.Time, to time.Time) ([]*trade.Trade, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var trades []*trade.Trade
	for _, t := range s.trades {
		if t.OpenTime.Before(from) {
			continue
		}
		if t.OpenTime.After(to) {
			continue
		}
		trades = append(trades, t.Clone())
	}
	return trades, nil
}

func (s *Store) Append(t *trade.Trade) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.ids[t.ID]; ok {
		return fmt.Errorf("inmem: %w: %s", trade.ErrDuplicate, t.ID)
	}
	s.ids[t.ID] = struct{}{}
	s.trades = append(s.trades, t.Clone())
	return nil
}
