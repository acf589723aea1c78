package session

import (
	"github.com/rs/zerolog"
)

// Result is the output of one reconstruction pass
type Result struct {
	Sessions []Session
	// Pending holds every key left open, to be carried into the next run
	Pending map[string]Pending
	Stats   Stats
}

// Reconstructor pairs start and end events per entity key.
//
// Each key is either idle or open. A start on an idle key opens it; a start
// on an open key is dropped so the first start wins. An end on an open key
// completes a session, an end on an idle key is an orphan and is dropped.
type Reconstructor struct {
	logger zerolog.Logger
}

func NewReconstructor(logger zerolog.Logger) *Reconstructor {
	return &Reconstructor{logger: logger}
}

// Reconstruct processes events on top of the pending state of a previous
// run. Neither events nor prior are modified.
func (r *Reconstructor) Reconstruct(events []Event, prior map[string]Pending) Result {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	Sort(ordered)

	open := make(map[string]Pending, len(prior))
	for k, p := range prior {
		open[k] = p
	}

	res := Result{}
	for _, ev := range ordered {
		switch ev.Kind {
		case Start:
			if _, ok := open[ev.Key]; ok {
				res.Stats.DuplicateStarts++
				r.logger.Trace().Str("key", ev.Key).Time("at", ev.Time).Msg("dropping start, session already open")
				continue
			}
			open[ev.Key] = Pending{Time: ev.Time, Payload: ev.Payload}

		case End:
			start, ok := open[ev.Key]
			if !ok {
				res.Stats.OrphanEnds++
				r.logger.Trace().Str("key", ev.Key).Time("at", ev.Time).Msg("dropping orphan end")
				continue
			}
			delete(open, ev.Key)

			s := Session{
				Key:          ev.Key,
				Start:        start.Time,
				StartPayload: start.Payload,
				End:          ev.Time,
				EndPayload:   ev.Payload,
			}
			if s.Duration() < 0 {
				res.Stats.NegativeDuration++
				r.logger.Warn().Str("key", s.Key).Time("start", s.Start).Time("end", s.End).
					Dur("duration", s.Duration()).Msg("dropping session with negative duration")
				continue
			}
			res.Sessions = append(res.Sessions, s)
		}
	}

	res.Pending = open
	return res
}
