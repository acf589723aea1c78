package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/session"
	"github.com/tarungka/lifelog/internal/utils"
	"github.com/tarungka/lifelog/state"
)

// formatVersion is bumped whenever the encoded layout changes
const formatVersion = 1

// ErrCorrupt is returned when a stored checkpoint cannot be decoded
var ErrCorrupt = errors.New("corrupt checkpoint")

// Checkpoint records how much of one source has been consumed. Which parts
// are used depends on the source: cursor sources use Cursor, event stream
// sources use Offsets and Pending.
type Checkpoint struct {
	// Cursor is the lower bound of the next query; zero means from the start
	Cursor time.Time
	// Offsets maps a log file to the number of bytes already consumed
	Offsets map[string]int64
	// Pending holds the unmatched session starts per entity key
	Pending map[string]session.Pending

	Runs      uint64
	UpdatedAt time.Time
}

// Clone returns a deep copy, so adapters can derive the next checkpoint
// without touching the one they were handed.
func (c Checkpoint) Clone() Checkpoint {
	out := c
	if c.Offsets != nil {
		out.Offsets = make(map[string]int64, len(c.Offsets))
		for k, v := range c.Offsets {
			out.Offsets[k] = v
		}
	}
	if c.Pending != nil {
		out.Pending = make(map[string]session.Pending, len(c.Pending))
		for k, v := range c.Pending {
			out.Pending[k] = v
		}
	}
	return out
}

// wire is the persisted layout. Times are unix nanoseconds so the encoding
// does not depend on how the codec treats time.Time.
type wire struct {
	Version   int                    `codec:"v"`
	Cursor    int64                  `codec:"c"`
	Offsets   map[string]int64       `codec:"o"`
	Pending   map[string]wirePending `codec:"p"`
	Runs      uint64                 `codec:"r"`
	UpdatedAt int64                  `codec:"u"`
}

type wirePending struct {
	Time    int64  `codec:"t"`
	Payload string `codec:"p"`
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Encode serializes c with msgpack
func Encode(c Checkpoint) ([]byte, error) {
	w := wire{
		Version:   formatVersion,
		Cursor:    toNanos(c.Cursor),
		Offsets:   c.Offsets,
		Runs:      c.Runs,
		UpdatedAt: toNanos(c.UpdatedAt),
	}
	if len(c.Pending) > 0 {
		w.Pending = make(map[string]wirePending, len(c.Pending))
		for k, p := range c.Pending {
			w.Pending[k] = wirePending{Time: toNanos(p.Time), Payload: p.Payload}
		}
	}
	buf, err := utils.EncodeMsgPack(w)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode
func Decode(data []byte) (Checkpoint, error) {
	var w wire
	if err := utils.DecodeMsgPack(data, &w); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if w.Version != formatVersion {
		return Checkpoint{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, w.Version)
	}
	c := Checkpoint{
		Cursor:    fromNanos(w.Cursor),
		Offsets:   w.Offsets,
		Runs:      w.Runs,
		UpdatedAt: fromNanos(w.UpdatedAt),
	}
	if len(w.Pending) > 0 {
		c.Pending = make(map[string]session.Pending, len(w.Pending))
		for k, p := range w.Pending {
			c.Pending[k] = session.Pending{Time: fromNanos(p.Time), Payload: p.Payload}
		}
	}
	return c, nil
}

// Manager loads and saves typed checkpoints through a state backend
type Manager struct {
	backend state.Backend
	logger  zerolog.Logger
}

// NewManager creates a new Manager.
func NewManager(backend state.Backend, logger zerolog.Logger) *Manager {
	return &Manager{
		backend: backend,
		logger:  logger,
	}
}

// Load returns the checkpoint of sourceID. The boolean is false when the
// source has never completed a run; the zero Checkpoint then means "from the
// beginning".
func (m *Manager) Load(ctx context.Context, sourceID string) (Checkpoint, bool, error) {
	data, ok, err := m.backend.Load(ctx, sourceID)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", sourceID, err)
	}
	if !ok {
		m.logger.Debug().Str("source", sourceID).Msg("no checkpoint, starting from the beginning")
		return Checkpoint{}, false, nil
	}
	c, err := Decode(data)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", sourceID, err)
	}
	return c, true, nil
}

// Save replaces the checkpoint of sourceID
func (m *Manager) Save(ctx context.Context, sourceID string, c Checkpoint) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	if err := m.backend.Save(ctx, sourceID, data); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", sourceID, err)
	}
	m.logger.Debug().Str("source", sourceID).Time("cursor", c.Cursor).Int("offsets", len(c.Offsets)).
		Int("pending", len(c.Pending)).Uint64("runs", c.Runs).Msg("checkpoint saved")
	return nil
}

func (m *Manager) Close() error {
	return m.backend.Close()
}
