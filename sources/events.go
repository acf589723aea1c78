package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/checkpoint"
	"github.com/tarungka/lifelog/internal/models"
	"github.com/tarungka/lifelog/internal/session"
)

// Line is one complete, not yet consumed log line
type Line struct {
	Text string
	// Seq orders lines across all files of one listing
	Seq int64
}

// LogFile holds the unread lines of one file and the offset reached after
// reading them
type LogFile struct {
	Path   string
	Lines  []Line
	Offset int64
}

// LineLister lists the lines not yet covered by offsets
type LineLister interface {
	List(ctx context.Context, offsets map[string]int64) ([]LogFile, error)
}

// LineParser turns a raw line into an entry. Lines it cannot parse yield an
// error and are skipped by the adapter.
type LineParser interface {
	Parse(line string) (session.RawEntry, error)
}

// Classifier maps an entry kind to a session marker
type Classifier func(kind string) session.Kind

// TitleLookup resolves a display title for an entity key
type TitleLookup interface {
	Title(key string) (string, bool)
}

// refresher is implemented by a TitleLookup that caches between runs
type refresher interface {
	Refresh()
}

// SessionRecordFunc renders a completed session as a record
type SessionRecordFunc func(source string, s session.Session, title string) models.Record

// EventAdapter is the event stream variant of Source. It reads only the log
// lines past the stored offsets and pairs their events with the starts
// left open by the previous run.
type EventAdapter struct {
	name     string
	lister   LineLister
	parser   LineParser
	classify Classifier
	titles   TitleLookup
	toRecord SessionRecordFunc
	rec      *session.Reconstructor
	logger   zerolog.Logger
}

func NewEventAdapter(name string, lister LineLister, parser LineParser, classify Classifier,
	titles TitleLookup, toRecord SessionRecordFunc, logger zerolog.Logger) *EventAdapter {
	return &EventAdapter{
		name:     name,
		lister:   lister,
		parser:   parser,
		classify: classify,
		titles:   titles,
		toRecord: toRecord,
		rec:      session.NewReconstructor(logger),
		logger:   logger,
	}
}

func (e *EventAdapter) Name() string { return e.name }

func (e *EventAdapter) Info() string {
	return fmt.Sprintf("Name:%s|Type:events", e.name)
}

func (e *EventAdapter) Fetch(ctx context.Context, cp checkpoint.Checkpoint) (*Batch, error) {
	files, err := e.lister.List(ctx, cp.Offsets)
	if err != nil {
		return nil, err
	}

	var (
		stats   Stats
		events  []session.Event
		offsets = make(map[string]int64, len(files))
	)
	for _, f := range files {
		offsets[f.Path] = f.Offset
		for _, line := range f.Lines {
			stats.Lines++
			entry, err := e.parser.Parse(line.Text)
			if err != nil {
				stats.Malformed++
				e.logger.Debug().Err(err).Str("file", f.Path).Str("line", line.Text).Msg("skipping malformed line")
				continue
			}
			kind := e.classify(entry.Kind)
			if kind == session.Ignore {
				stats.Ignored++
				continue
			}
			events = append(events, session.Event{
				Time:    entry.Time,
				Key:     entry.Key,
				Kind:    kind,
				Payload: entry.Payload,
				Seq:     line.Seq,
			})
		}
	}

	session.Sort(events)
	res := e.rec.Reconstruct(events, cp.Pending)
	stats.Stats = res.Stats

	if r, ok := e.titles.(refresher); ok {
		r.Refresh()
	}
	records := make([]models.Record, 0, len(res.Sessions))
	for _, s := range res.Sessions {
		title := s.Key
		if e.titles != nil {
			if t, ok := e.titles.Title(s.Key); ok && t != "" {
				title = t
			}
		}
		records = append(records, e.toRecord(e.name, s, title))
	}

	next := cp.Clone()
	next.Offsets = offsets
	next.Pending = res.Pending
	if len(next.Pending) == 0 {
		next.Pending = nil
	}

	if stats.Malformed > 0 {
		e.logger.Warn().Int("malformed", stats.Malformed).Int("lines", stats.Lines).Msg("skipped unparsable log lines")
	}
	e.logger.Debug().Int("files", len(files)).Int("lines", stats.Lines).Int("sessions", len(records)).
		Int("pending", len(res.Pending)).Msg("event stream processed")

	return &Batch{Records: records, Next: next, Stats: stats}, nil
}

// DirLister lists log lines from the regular files under a root directory.
// Files are visited in lexical order of their path relative to root. Only
// newline terminated lines are returned, so a line still being written is
// picked up by a later run. A file that is shorter than its stored offset
// was truncated or replaced and is read again from the start.
type DirLister struct {
	root    string
	pattern string
	logger  zerolog.Logger
}

// NewDirLister lists files under root whose base name matches the glob
// pattern; an empty pattern matches every file.
func NewDirLister(root, pattern string, logger zerolog.Logger) *DirLister {
	return &DirLister{root: root, pattern: pattern, logger: logger}
}

func (d *DirLister) List(ctx context.Context, offsets map[string]int64) ([]LogFile, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, d.root)
	}

	var paths []string
	err = filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if d.pattern != "" {
			ok, err := filepath.Match(d.pattern, entry.Name())
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", ErrSourceUnavailable, d.root, err)
	}
	sort.Strings(paths)

	var (
		seq   int64
		files = make([]LogFile, 0, len(paths))
	)
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := d.readFrom(rel, offsets[rel], &seq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func (d *DirLister) readFrom(rel string, offset int64, seq *int64) (LogFile, error) {
	out := LogFile{Path: rel}

	fh, err := os.Open(filepath.Join(d.root, filepath.FromSlash(rel)))
	if err != nil {
		return out, err
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return out, err
	}
	if info.Size() < offset {
		d.logger.Info().Str("file", rel).Int64("size", info.Size()).Int64("offset", offset).Msg("log file shrank, reading it again")
		offset = 0
	}
	if _, err := fh.Seek(offset, io.SeekStart); err != nil {
		return out, err
	}

	r := bufio.NewReader(fh)
	for {
		text, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// an unterminated tail is left for the next run
			break
		}
		if err != nil {
			return out, err
		}
		offset += int64(len(text))
		text = strings.TrimRight(text, "\r\n")
		out.Lines = append(out.Lines, Line{Text: text, Seq: *seq})
		*seq++
	}
	out.Offset = offset
	return out, nil
}
