package sources

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/internal/models"
	"github.com/tarungka/lifelog/internal/utils"

	_ "modernc.org/sqlite"
)

// Chrome stores visit times as microseconds since 1601-01-01 UTC
const chromeEpochOffsetSeconds = 11644473600

var defaultChromiumHistory = filepath.Join("~", ".config", "chromium", "Default", "History")

// ChromeTime converts a Chrome timestamp to time.Time
func ChromeTime(micros int64) time.Time {
	return time.UnixMicro(micros - chromeEpochOffsetSeconds*1_000_000).UTC()
}

// ToChromeTime converts t to a Chrome timestamp; the zero time maps to 0
func ToChromeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro() + chromeEpochOffsetSeconds*1_000_000
}

// ChromiumHistory queries the urls table of a Chromium or Chrome History
// database. The browser keeps the live database locked, so every query
// works on a private copy that is removed afterwards.
type ChromiumHistory struct {
	source string
	dbPath string
	logger zerolog.Logger
}

func NewChromiumHistory(source, dbPath string, logger zerolog.Logger) *ChromiumHistory {
	return &ChromiumHistory{source: source, dbPath: dbPath, logger: logger}
}

func (c *ChromiumHistory) QueryFrom(ctx context.Context, since time.Time, boundary Boundary) ([]models.Record, error) {
	if _, err := os.Stat(c.dbPath); err != nil {
		return nil, fmt.Errorf("%w: history db: %v", ErrSourceUnavailable, err)
	}

	workspace, err := os.MkdirTemp("", "lifelog-chromium-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	copyPath := filepath.Join(workspace, "History")
	if err := utils.CopyFile(c.dbPath, copyPath); err != nil {
		return nil, fmt.Errorf("%w: copy history db: %v", ErrSourceUnavailable, err)
	}
	c.logger.Debug().Str("db", c.dbPath).Str("copy", copyPath).Msg("history db copied")

	db, err := sql.Open("sqlite", copyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open history db: %v", ErrSourceUnavailable, err)
	}
	defer db.Close()

	op := ">="
	if boundary == Exclusive {
		op = ">"
	}
	query := `SELECT url, title, last_visit_time FROM urls WHERE last_visit_time ` + op +
		` ? ORDER BY last_visit_time`

	rows, err := db.QueryContext(ctx, query, ToChromeTime(since))
	if err != nil {
		return nil, fmt.Errorf("%w: query history: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var (
			url, title sql.NullString
			visited    int64
		)
		if err := rows.Scan(&url, &title, &visited); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		records = append(records, chromiumRecord(c.source, url.String, title.String, ChromeTime(visited)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history rows: %w", err)
	}
	return records, nil
}

func chromiumRecord(source, url, title string, visited time.Time) models.Record {
	text := strings.NewReplacer("[", "(", "]", ")").Replace(title)
	if strings.TrimSpace(text) == "" {
		text = url
	}
	return models.NewRecord(source, visited, time.Time{}, text, url, nil)
}

// NewChromiumSource builds the timestamp cursor adapter for a History db.
//
// Config keys: db, boundary (inclusive|exclusive), lookback (duration).
func NewChromiumSource(c SourceConfig, logger zerolog.Logger) (Source, error) {
	dbPath := c.Config["db"]
	if dbPath == "" {
		dbPath = defaultChromiumHistory
	}

	boundary, err := ParseBoundary(c.Config["boundary"])
	if err != nil {
		return nil, fmt.Errorf("chromium source %s: %w", c.Name, err)
	}
	opts := []CursorOption{WithBoundary(boundary)}

	if lb := c.Config["lookback"]; lb != "" {
		d, err := time.ParseDuration(lb)
		if err != nil {
			return nil, fmt.Errorf("chromium source %s: lookback: %w", c.Name, err)
		}
		opts = append(opts, WithLookback(d))
	}

	return NewCursorAdapter(c.Name, NewChromiumHistory(c.Name, utils.ExpandHome(dbPath), logger), logger, opts...), nil
}
