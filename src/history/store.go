// Package history persists executed trades in Pebble and remembers the
// highest order id that ever traded, which seeds the engine's id counter.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"cross-matching-engine/src/engine"
)

// keys: t:<8-byte timestamp><8-byte sequence><trade uuid>, m:maxOrderID, m:tradeSeq
// The sequence keeps trades of the same millisecond in execution order.
var (
	prefixTrade   = []byte("t:")
	keyMaxOrderID = []byte("m:maxOrderID")
	keyTradeSeq   = []byte("m:tradeSeq")
)

func tradeKey(tr engine.Trade, seq uint64) []byte {
	key := make([]byte, 0, len(prefixTrade)+16+len(tr.TradeID))
	key = append(key, prefixTrade...)
	key = binary.BigEndian.AppendUint64(key, uint64(tr.Timestamp))
	key = binary.BigEndian.AppendUint64(key, seq)
	return append(key, tr.TradeID...)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

type Store struct {
	db *pebble.DB

	// serializes Append: the max order id and the sequence are read-modify-write
	mu sync.Mutex
	// last sequence number written
	seq uint64
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade history: %w", err)
	}
	s := &Store{db: db}
	if s.seq, err = s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadSeq() (uint64, error) {
	val, closer, err := s.db.Get(keyTradeSeq)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get trade sequence: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt trade sequence of %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append records trades in one batch together with the new max order id.
// Trades must be given in execution order.
func (s *Store) Append(trades []engine.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	maxID, err := s.MaxOrderID()
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	seq := s.seq
	for _, tr := range trades {
		data, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}
		seq++
		if err := b.Set(tradeKey(tr, seq), data, nil); err != nil {
			return fmt.Errorf("failed to stage trade: %w", err)
		}
		maxID = max(maxID, tr.BuyOrderID, tr.SellOrderID)
	}
	if err := b.Set(keyMaxOrderID, binary.BigEndian.AppendUint64(nil, uint64(maxID)), nil); err != nil {
		return fmt.Errorf("failed to stage max order id: %w", err)
	}
	if err := b.Set(keyTradeSeq, binary.BigEndian.AppendUint64(nil, seq), nil); err != nil {
		return fmt.Errorf("failed to stage trade sequence: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save trades: %w", err)
	}
	s.seq = seq
	return nil
}

// MaxOrderID returns the highest buy or sell order id in the history, or 0
// when there is none. A history without the stored high-water mark is scanned.
func (s *Store) MaxOrderID() (int64, error) {
	val, closer, err := s.db.Get(keyMaxOrderID)
	if errors.Is(err, pebble.ErrNotFound) {
		return s.scanMaxOrderID()
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get max order id: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return s.scanMaxOrderID()
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

func (s *Store) scanMaxOrderID() (int64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixTrade,
		UpperBound: keyUpperBound(prefixTrade),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan trades: %w", err)
	}
	defer iter.Close()

	var maxID int64
	for iter.First(); iter.Valid(); iter.Next() {
		var tr engine.Trade
		if err := json.Unmarshal(iter.Value(), &tr); err != nil {
			continue
		}
		maxID = max(maxID, tr.BuyOrderID, tr.SellOrderID)
	}
	return maxID, nil
}

// Recent returns up to limit trades, newest first.
func (s *Store) Recent(limit int) ([]engine.Trade, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixTrade,
		UpperBound: keyUpperBound(prefixTrade),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan trades: %w", err)
	}
	defer iter.Close()

	trades := []engine.Trade{}
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var tr engine.Trade
		if err := json.Unmarshal(iter.Value(), &tr); err != nil {
			continue
		}
		trades = append(trades, tr)
	}
	return trades, nil
}
