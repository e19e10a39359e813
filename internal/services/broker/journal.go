package broker

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/storage/paperstate"
)

const (
	DefaultJournalDir   = "./wal/positions"
	journalSegmentLimit = 1000
	journalMaxSegments  = 100

	openKeyPrefix  = "open_"
	closeKeyPrefix = "close_"
)

// journaled an open_ record. Every update rewrites the whole position, so the
// newest record alone restores it even after older segments rotated away.
type journaled struct {
	paperstate.StoredPosition
	OpenOrderID int64     `json:"open_order_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type entry struct {
	pos     domain.BrokerPosition
	orderID int64
}

// Journal write-ahead log of positions opened through a live broker.
// Exchanges report balances, not positions with stops, so the journal is what
// makes startup recovery possible.
type Journal struct {
	wal  *gowal.Wal
	mu   sync.Mutex
	open map[string]entry
}

// OpenJournal opens the journal in dir and replays it.
func OpenJournal(dir string) (*Journal, error) {
	return openJournal(dir, journalSegmentLimit, journalMaxSegments)
}

func openJournal(dir string, segmentLimit, maxSegments int) (*Journal, error) {
	if dir == "" {
		dir = DefaultJournalDir
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create position journal dir")
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "position_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init position journal WAL")
	}

	j := &Journal{wal: wal, open: make(map[string]entry)}
	if err := j.replay(); err != nil {
		_ = wal.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) replay() error {
	current := j.wal.CurrentIndex()
	for idx := uint64(1); idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(key, openKeyPrefix):
			var rec journaled
			if err := json.Unmarshal(payload, &rec); err != nil {
				return errors.Wrapf(err, "decode journal record %d", idx)
			}
			pos, err := rec.ToBrokerPosition()
			if err != nil {
				return err
			}
			j.open[pos.ID] = entry{pos: pos, orderID: rec.OpenOrderID}
		case strings.HasPrefix(key, closeKeyPrefix):
			delete(j.open, strings.TrimPrefix(key, closeKeyPrefix))
		}
	}
	return nil
}

// Opened records a new position and the venue order that opened it.
func (j *Journal) Opened(p domain.BrokerPosition, orderID int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.put(entry{pos: p, orderID: orderID})
}

// Protected records the current stop and target of an open position.
func (j *Journal) Protected(id string, stop, target decimal.Decimal) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.open[id]
	if !ok {
		return errors.Wrapf(domain.ErrPositionNotFound, "journal %s", id)
	}

	e.pos.Stop, e.pos.Target = stop, target
	return j.put(e)
}

// put caller holds mu.
func (j *Journal) put(e entry) error {
	payload, err := json.Marshal(journaled{
		StoredPosition: paperstate.NewStoredPosition(e.pos),
		OpenOrderID:    e.orderID,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal journal position")
	}
	if err := j.write(openKeyPrefix+e.pos.ID, payload); err != nil {
		return err
	}
	j.open[e.pos.ID] = e
	return nil
}

// Closed removes a position from the open set.
func (j *Journal) Closed(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.write(closeKeyPrefix+id, []byte("{}")); err != nil {
		return err
	}
	delete(j.open, id)
	return nil
}

// Get returns the open position with the given id.
func (j *Journal) Get(id string) (domain.BrokerPosition, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.open[id]
	return e.pos, ok
}

// OpenOrder returns the venue order id that opened the position, zero when
// unknown.
func (j *Journal) OpenOrder(id string) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.open[id].orderID
}

// Open returns the open positions, oldest first.
func (j *Journal) Open() []domain.BrokerPosition {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.BrokerPosition, 0, len(j.open))
	for _, e := range j.open {
		out = append(out, e.pos)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].OpenedAt.Before(out[b].OpenedAt)
	})
	return out
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}

func (j *Journal) write(key string, payload []byte) error {
	if err := j.wal.Write(j.wal.CurrentIndex()+1, key, payload); err != nil {
		return errors.Wrapf(err, "write journal record %s", key)
	}
	return nil
}
