package sources

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/models"
	"github.com/tarungka/lifelog/internal/session"
	"github.com/tarungka/lifelog/internal/utils"
)

const (
	defaultKindleBookDir = "/media/Kindle/documents"
	kindleFieldSep       = ","
)

// KindleParser reads reader log lines of the form
//
//	<timestamp>,<EVENT>,<asin>[,<position>]
//
// The timestamp may be unix seconds or any layout dateparse understands.
// Blank lines and lines starting with # are malformed and get skipped.
type KindleParser struct {
	loc *time.Location
}

func NewKindleParser(loc *time.Location) *KindleParser {
	if loc == nil {
		loc = time.Local
	}
	return &KindleParser{loc: loc}
}

func (p *KindleParser) Parse(line string) (session.RawEntry, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return session.RawEntry{}, fmt.Errorf("not an event line")
	}

	fields := strings.Split(line, kindleFieldSep)
	if len(fields) < 3 || len(fields) > 4 {
		return session.RawEntry{}, fmt.Errorf("expected 3 or 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	ts, err := p.parseTime(fields[0])
	if err != nil {
		return session.RawEntry{}, fmt.Errorf("bad timestamp %q: %w", fields[0], err)
	}
	if fields[1] == "" || fields[2] == "" {
		return session.RawEntry{}, fmt.Errorf("missing event kind or asin")
	}

	entry := session.RawEntry{
		Time: ts,
		Kind: strings.ToUpper(fields[1]),
		Key:  fields[2],
	}
	if len(fields) == 4 {
		entry.Payload = fields[3]
	}
	return entry, nil
}

func (p *KindleParser) parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := dateparse.ParseIn(s, p.loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ClassifyKindle maps reader events: picking up or opening a book starts a
// reading session, closing or putting it down ends it.
func ClassifyKindle(kind string) session.Kind {
	switch strings.ToUpper(kind) {
	case "PICK_UP", "OPEN":
		return session.Start
	case "CLOSE", "PUT_DOWN":
		return session.End
	default:
		return session.Ignore
	}
}

var kindleDocumentName = regexp.MustCompile(`^(.+?)-asin_([A-Za-z0-9]+)-type_`)

// KindleTitles finds book titles in the Kindle documents directory, whose
// files are named like "Dune-asin_B00B7NPRY8-type_EBOK-v_0.azw3". The
// directory is scanned on the first lookup after each Refresh, so books
// copied to the device between runs get their titles.
type KindleTitles struct {
	dir    string
	logger zerolog.Logger

	mu     sync.Mutex
	loaded bool
	titles map[string]string
}

func NewKindleTitles(dir string, logger zerolog.Logger) *KindleTitles {
	return &KindleTitles{dir: dir, logger: logger}
}

// Refresh drops the scanned titles
func (k *KindleTitles) Refresh() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.loaded = false
}

func (k *KindleTitles) Title(asin string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.loaded {
		k.titles = k.scan()
		k.loaded = true
	}
	t, ok := k.titles[asin]
	return t, ok
}

func (k *KindleTitles) scan() map[string]string {
	titles := make(map[string]string)
	if !utils.PathExists(k.dir) {
		// the device is not mounted; sessions fall back to the asin
		k.logger.Debug().Str("dir", k.dir).Msg("no book directory")
		return titles
	}
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		k.logger.Warn().Err(err).Str("dir", k.dir).Msg("cannot scan book directory")
		return titles
	}
	for _, e := range entries {
		m := kindleDocumentName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		titles[m[2]] = strings.TrimSpace(strings.ReplaceAll(m[1], "_", " "))
	}
	k.logger.Debug().Int("books", len(titles)).Str("dir", k.dir).Msg("scanned book metadata")
	return titles
}

// KindleRecord renders a reading session with the properties of a book read
func KindleRecord(source string, s session.Session, title string) models.Record {
	props := []models.Property{
		{Name: "ASIN", Value: s.Key},
		{Name: "TITLE", Value: title},
		{Name: "DURATION", Value: strconv.FormatInt(int64(s.Duration()/time.Second), 10)},
		{Name: "START_TIME", Value: strconv.FormatInt(s.Start.Unix(), 10)},
		{Name: "END_TIME", Value: strconv.FormatInt(s.End.Unix(), 10)},
		{Name: "START_POSITION", Value: s.StartPayload},
		{Name: "END_POSITION", Value: s.EndPayload},
	}
	return models.NewRecord(source, s.Start, s.End, title, "", props)
}

// NewKindleSource builds the event stream adapter for a Kindle log directory.
//
// Config keys: log_dir (required), book_dir, pattern, timezone.
func NewKindleSource(c SourceConfig, logger zerolog.Logger) (Source, error) {
	logDir := c.Config["log_dir"]
	if logDir == "" {
		return nil, fmt.Errorf("kindle source %s: missing log_dir", c.Name)
	}
	bookDir := c.Config["book_dir"]
	if bookDir == "" {
		bookDir = defaultKindleBookDir
	}

	loc := time.Local
	if tz := c.Config["timezone"]; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("kindle source %s: %w", c.Name, err)
		}
		loc = l
	}

	return NewEventAdapter(
		c.Name,
		NewDirLister(utils.ExpandHome(logDir), c.Config["pattern"], logger),
		NewKindleParser(loc),
		ClassifyKindle,
		NewKindleTitles(utils.ExpandHome(bookDir), logger),
		KindleRecord,
		logger,
	), nil
}
