package sources

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/lifelog/checkpoint"
)

func newHistoryDB(t *testing.T, rows map[string]time.Time) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "History")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url LONGVARCHAR,
		title LONGVARCHAR,
		visit_count INTEGER DEFAULT 0 NOT NULL,
		last_visit_time INTEGER NOT NULL
	)`)
	require.NoError(t, err)

	for title, visited := range rows {
		_, err = db.Exec(`INSERT INTO urls (url, title, last_visit_time) VALUES (?, ?, ?)`,
			"https://example.com/"+title, title, ToChromeTime(visited))
		require.NoError(t, err)
	}
	return path
}

func TestChromeTime(t *testing.T) {
	ts := time.Date(2024, 2, 29, 8, 30, 0, 123000, time.UTC)
	assert.Equal(t, ts, ChromeTime(ToChromeTime(ts)))
	assert.Equal(t, time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC), ChromeTime(0))
	assert.Equal(t, int64(0), ToChromeTime(time.Time{}))
}

func TestChromiumHistory_QueryFrom(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	path := newHistoryDB(t, map[string]time.Time{
		"first":  base,
		"second": base.Add(time.Hour),
		"third":  base.Add(2 * time.Hour),
	})
	h := NewChromiumHistory("chromium", path, zerolog.Nop())

	tests := []struct {
		name     string
		since    time.Time
		boundary Boundary
		want     []string
	}{
		{name: "from the epoch", want: []string{"first", "second", "third"}},
		{name: "inclusive", since: base.Add(time.Hour), boundary: Inclusive, want: []string{"second", "third"}},
		{name: "exclusive", since: base.Add(time.Hour), boundary: Exclusive, want: []string{"third"}},
		{name: "nothing new", since: base.Add(3 * time.Hour), want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.QueryFrom(context.Background(), tt.since, tt.boundary)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(got))
			for _, r := range got {
				assert.Equal(t, "https://example.com/"+r.Text, r.Link)
				assert.Equal(t, "chromium", r.Source)
				assert.False(t, r.IsRange())
			}
		})
	}
}

func TestChromiumHistory_MissingDB(t *testing.T) {
	h := NewChromiumHistory("chromium", filepath.Join(t.TempDir(), "History"), zerolog.Nop())

	_, err := h.QueryFrom(context.Background(), time.Time{}, Inclusive)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestChromiumSource_Fetch(t *testing.T) {
	path := newHistoryDB(t, map[string]time.Time{
		"[draft] notes": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	src, err := CreateSource(SourceConfig{
		Name:           "chromium",
		ConnectionType: "chromium",
		Config:         map[string]string{"db": path, "boundary": "exclusive"},
	}, zerolog.Nop())
	require.NoError(t, err)

	before := time.Now().UTC()
	batch, err := src.Fetch(context.Background(), checkpoint.Checkpoint{})
	require.NoError(t, err)

	require.Len(t, batch.Records, 1)
	assert.Equal(t, "(draft) notes", batch.Records[0].Text)
	assert.False(t, batch.Next.Cursor.Before(before))
}

func TestChromiumRecord_EmptyTitle(t *testing.T) {
	r := chromiumRecord("chromium", "https://example.com", " ", time.Unix(1, 0))
	assert.Equal(t, "https://example.com", r.Text)
}
