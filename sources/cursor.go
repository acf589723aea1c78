package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/checkpoint"
	"github.com/tarungka/lifelog/internal/models"
)

// Boundary decides whether records stamped exactly at the cursor are
// fetched again
type Boundary int

const (
	// Inclusive fetches records with time >= cursor
	Inclusive Boundary = iota
	// Exclusive fetches records with time > cursor
	Exclusive
)

func (b Boundary) String() string {
	if b == Exclusive {
		return "exclusive"
	}
	return "inclusive"
}

// ParseBoundary accepts "inclusive", ">=", "exclusive" and ">"
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "", "inclusive", ">=":
		return Inclusive, nil
	case "exclusive", ">":
		return Exclusive, nil
	default:
		return Inclusive, fmt.Errorf("unknown boundary %q", s)
	}
}

// CursorQuerier is a store that can be queried by its own timestamp field
type CursorQuerier interface {
	// QueryFrom returns every record at or after since (or strictly after,
	// per boundary), ordered ascending by the store's timestamp.
	QueryFrom(ctx context.Context, since time.Time, boundary Boundary) ([]models.Record, error)
}

// CursorAdapter is the timestamp cursor variant of Source.
//
// The next cursor is the wall clock time taken just before the query, not
// the newest record seen. A store whose clock lags the wall clock can then
// surface a record older than the cursor after the query ran; Lookback
// widens each query backwards to catch those, at the price of handing some
// records to the sink twice.
type CursorAdapter struct {
	name     string
	querier  CursorQuerier
	boundary Boundary
	lookback time.Duration
	clock    func() time.Time
	logger   zerolog.Logger
}

type CursorOption func(*CursorAdapter)

func WithBoundary(b Boundary) CursorOption {
	return func(c *CursorAdapter) { c.boundary = b }
}

func WithLookback(d time.Duration) CursorOption {
	return func(c *CursorAdapter) { c.lookback = d }
}

func WithClock(clock func() time.Time) CursorOption {
	return func(c *CursorAdapter) { c.clock = clock }
}

func NewCursorAdapter(name string, querier CursorQuerier, logger zerolog.Logger, opts ...CursorOption) *CursorAdapter {
	c := &CursorAdapter{
		name:     name,
		querier:  querier,
		boundary: Inclusive,
		clock:    time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CursorAdapter) Name() string { return c.name }

func (c *CursorAdapter) Info() string {
	return fmt.Sprintf("Name:%s|Type:cursor|Boundary:%s|Lookback:%s", c.name, c.boundary, c.lookback)
}

func (c *CursorAdapter) Fetch(ctx context.Context, cp checkpoint.Checkpoint) (*Batch, error) {
	start := c.clock().UTC()

	since := cp.Cursor
	if !since.IsZero() && c.lookback > 0 {
		since = since.Add(-c.lookback)
	}

	records, err := c.querier.QueryFrom(ctx, since, c.boundary)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Time("since", since).Time("next", start).Int("records", len(records)).Msg("cursor query done")

	next := cp.Clone()
	next.Cursor = start
	return &Batch{
		Records: records,
		Next:    next,
		Stats:   Stats{Lines: len(records)},
	}, nil
}
