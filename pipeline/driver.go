package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/checkpoint"
	"github.com/tarungka/lifelog/internal/metrics"
	"github.com/tarungka/lifelog/sinks"
	"golang.org/x/sync/errgroup"
)

// ErrSinkRejected is returned when the sink refuses a record or fails to
// flush. The run fails and the checkpoint stays where it was.
var ErrSinkRejected = errors.New("sink rejected records")

// Driver runs pipelines: load the checkpoint, fetch what is new, hand every
// record to the sink and save the next checkpoint only once all of that
// succeeded.
type Driver struct {
	checkpoints *checkpoint.Manager
	logger      zerolog.Logger

	metrics     *metrics.Metrics
	history     *History
	clock       func() time.Time
	dryRun      bool
	parallelism int
}

type Option func(*Driver)

// WithDryRun fetches and emits but never saves a checkpoint
func WithDryRun(dry bool) Option {
	return func(d *Driver) { d.dryRun = dry }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

func WithHistory(h *History) Option {
	return func(d *Driver) { d.history = h }
}

func WithClock(clock func() time.Time) Option {
	return func(d *Driver) { d.clock = clock }
}

// WithParallelism bounds the number of sink groups RunAll runs at once
func WithParallelism(n int) Option {
	return func(d *Driver) { d.parallelism = n }
}

func NewDriver(checkpoints *checkpoint.Manager, logger zerolog.Logger, opts ...Option) *Driver {
	d := &Driver{
		checkpoints: checkpoints,
		logger:      logger,
		clock:       time.Now,
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run performs one run of p. The returned report is filled in on failure
// too; its Error holds the message of the returned error.
func (d *Driver) Run(ctx context.Context, p Pipeline) (Report, error) {
	started := d.clock()
	report := Report{
		Source:  p.Source.Name(),
		Sink:    p.Sink.Name(),
		DryRun:  d.dryRun,
		Started: started.UTC(),
	}
	logger := d.logger.With().Str("source", report.Source).Str("sink", report.Sink).Logger()

	err := d.run(ctx, p, &report, logger)
	report.Duration = d.clock().Sub(started)

	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		if d.metrics != nil {
			d.metrics.RunFailed(report.Source, report.Duration)
		}
		logger.Error().Err(err).Int("emitted", report.Emitted).Dur("took", report.Duration).Msg("run failed, checkpoint unchanged")
	} else {
		report.Status = StatusOK
		if d.metrics != nil {
			d.metrics.RunSucceeded(report.Source, report.Emitted, report.Pending, skipped(report.Stats),
				report.Duration, d.clock())
		}
		logger.Info().
			Int("emitted", report.Emitted).
			Int("pending", report.Pending).
			Int("malformed", report.Stats.Malformed).
			Int("orphan_ends", report.Stats.OrphanEnds).
			Int("duplicate_starts", report.Stats.DuplicateStarts).
			Int("negative_duration", report.Stats.NegativeDuration).
			Bool("dry_run", d.dryRun).
			Dur("took", report.Duration).
			Msg("run finished")
	}

	if d.history != nil {
		d.history.Add(report)
	}
	return report, err
}

func (d *Driver) run(ctx context.Context, p Pipeline, report *Report, logger zerolog.Logger) error {
	cp, found, err := d.checkpoints.Load(ctx, report.Source)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if !found {
		logger.Info().Msg("no checkpoint, reading the source from the beginning")
	}

	batch, err := p.Source.Fetch(ctx, cp)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	report.Stats = newRunStats(batch.Stats)
	report.Pending = len(batch.Next.Pending)

	for i, r := range batch.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Sink.Emit(ctx, r); err != nil {
			return fmt.Errorf("%w: record %d of %d: %w", ErrSinkRejected, i+1, len(batch.Records), err)
		}
		report.Emitted++
	}
	if err := p.Sink.Flush(ctx); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrSinkRejected, err)
	}

	if d.dryRun {
		logger.Debug().Msg("dry run, checkpoint not saved")
		return nil
	}

	next := batch.Next
	next.Runs = cp.Runs + 1
	next.UpdatedAt = d.clock().UTC()
	if err := d.checkpoints.Save(ctx, report.Source, next); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func skipped(s RunStats) map[string]int {
	return map[string]int{
		metrics.ReasonMalformed:        s.Malformed,
		metrics.ReasonIgnored:          s.Ignored,
		metrics.ReasonOrphanEnd:        s.OrphanEnds,
		metrics.ReasonDuplicateStart:   s.DuplicateStarts,
		metrics.ReasonNegativeDuration: s.NegativeDuration,
	}
}

// RunAll runs every pipeline once and returns their reports in input
// order. Pipelines that share a sink run one after another; separate sinks
// run in parallel up to the configured parallelism. A failed source does
// not stop the others; the returned error joins all failures.
func (d *Driver) RunAll(ctx context.Context, pipelines []Pipeline) ([]Report, error) {
	seen := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		name := p.Source.Name()
		if seen[name] {
			return nil, fmt.Errorf("source %s appears more than once", name)
		}
		seen[name] = true
	}

	// group by sink, keeping the first appearance order
	var (
		order  []sinks.Sink
		groups = make(map[sinks.Sink][]int)
	)
	for i, p := range pipelines {
		if _, ok := groups[p.Sink]; !ok {
			order = append(order, p.Sink)
		}
		groups[p.Sink] = append(groups[p.Sink], i)
	}

	reports := make([]Report, len(pipelines))
	errs := make([]error, len(pipelines))

	var g errgroup.Group
	if d.parallelism > 0 {
		g.SetLimit(d.parallelism)
	}
	for _, sink := range order {
		idx := groups[sink]
		g.Go(func() error {
			for _, i := range idx {
				reports[i], errs[i] = d.Run(ctx, pipelines[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", pipelines[i].Source.Name(), err))
		}
	}
	return reports, errors.Join(failed...)
}
