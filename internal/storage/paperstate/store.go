// Package paperstate persists the paper broker's balance and open positions.
package paperstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

const (
	DefaultDir = "./wal/paper"
	stateFile  = "state.json"
	dirPerm    = 0o755
	filePerm   = 0o644
)

// Store reads and writes a single JSON state file.
type Store struct {
	path string
}

// NewStore creates the state directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errors.Wrap(err, "create paper state dir")
	}
	return &Store{path: filepath.Join(dir, stateFile)}, nil
}

// State everything the paper broker needs after a restart.
type State struct {
	Balance   string           `json:"balance"`
	Positions []StoredPosition `json:"positions"`
}

// StoredPosition serializable domain.BrokerPosition.
type StoredPosition struct {
	ID         string           `json:"id"`
	Asset      string           `json:"asset"`
	Direction  domain.Direction `json:"direction"`
	Entry      string           `json:"entry"`
	Stake      string           `json:"stake"`
	Multiplier string           `json:"multiplier"`
	Quantity   string           `json:"quantity,omitempty"`
	Stop       string           `json:"stop,omitempty"`
	Target     string           `json:"target,omitempty"`
	OpenedAt   time.Time        `json:"opened_at"`
}

// Load returns nil when nothing was saved yet.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read paper state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode paper state")
	}
	return &state, nil
}

// Save writes the state atomically via a temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode paper state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, filePerm); err != nil {
		return errors.Wrap(err, "write paper state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist paper state")
	}
	return nil
}

// NewStoredPosition converts a broker position into its stored form.
func NewStoredPosition(p domain.BrokerPosition) StoredPosition {
	return StoredPosition{
		ID:         p.ID,
		Asset:      p.Asset.String(),
		Direction:  p.Direction,
		Entry:      p.Entry.String(),
		Stake:      p.Stake.String(),
		Multiplier: p.Multiplier.String(),
		Quantity:   optional(p.Quantity),
		Stop:       optional(p.Stop),
		Target:     optional(p.Target),
		OpenedAt:   p.OpenedAt,
	}
}

// ToBrokerPosition reconstructs the broker position.
func (sp StoredPosition) ToBrokerPosition() (domain.BrokerPosition, error) {
	asset, err := domain.ParsePair(sp.Asset)
	if err != nil {
		return domain.BrokerPosition{}, errors.Wrap(err, "decode position asset")
	}

	values := make([]decimal.Decimal, 6)
	for i, raw := range []string{sp.Entry, sp.Stake, sp.Multiplier, sp.Stop, sp.Target, sp.Quantity} {
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.BrokerPosition{}, errors.Wrapf(err, "decode position %s value %q", sp.ID, raw)
		}
		values[i] = v
	}

	return domain.BrokerPosition{
		ID:         sp.ID,
		Asset:      asset,
		Direction:  sp.Direction,
		Entry:      values[0],
		Stake:      values[1],
		Multiplier: values[2],
		Stop:       values[3],
		Target:     values[4],
		Quantity:   values[5],
		OpenedAt:   sp.OpenedAt,
	}, nil
}

func optional(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
