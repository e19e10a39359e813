// Package history persists closed trades in a write-ahead log.
package history

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

const (
	DefaultDir   = "./wal/history"
	segmentLimit = 100
	maxSegments  = 10

	tradeKeyPrefix = "trade_"
)

// Record stored trade with its WAL index.
type Record struct {
	Index uint64             `json:"index"`
	Trade domain.TradeRecord `json:"trade"`
}

// WALStore append-only store of closed trades.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the trade log in dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create trade history dir")
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "trade_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init trade history WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends a closed trade.
func (s *WALStore) Save(record domain.TradeRecord) error {
	if s == nil || s.wal == nil {
		return errors.New("trade history is not initialized")
	}
	if record.PositionID == "" {
		return errors.New("trade record position id is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal trade record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, tradeKeyPrefix+record.PositionID, payload)
}

// Records returns every stored trade, oldest first.
func (s *WALStore) Records() ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade history is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	records := make([]Record, 0, current)
	for idx := uint64(1); idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			// segment rotated away
			continue
		}
		if !strings.HasPrefix(key, tradeKeyPrefix) {
			continue
		}

		var trade domain.TradeRecord
		if err := json.Unmarshal(payload, &trade); err != nil {
			return nil, errors.Wrapf(err, "decode trade record %d", idx)
		}
		records = append(records, Record{Index: idx, Trade: trade})
	}

	return records, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("trade history is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
