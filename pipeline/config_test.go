package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadYAML(t *testing.T, doc string) *koanf.Koanf {
	t.Helper()
	ko := koanf.New(".")
	require.NoError(t, ko.Load(rawbytes.Provider([]byte(doc)), yaml.Parser()))
	return ko
}

func configDoc(dir string) string {
	return fmt.Sprintf(`
pipeline:
  parallelism: 3
  interval: 5m
sources:
  - name: chromium
    type: chromium
    key: journal
    config:
      db: %[1]s/History
      boundary: exclusive
  - name: kindle
    type: kindle
    key: journal
    config:
      log_dir: %[1]s/kindle
sinks:
  - name: journal
    type: org
    key: journal
    config:
      file_path: %[1]s/activity.org
  - name: archive
    type: jsonl
    key: archive
    config:
      file_path: %[1]s/archive.jsonl
`, dir)
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings(loadYAML(t, configDoc(t.TempDir())))
	require.NoError(t, err)
	assert.Equal(t, Settings{Parallelism: 3, Interval: 5 * time.Minute}, s)

	s, err = ParseSettings(koanf.New("."))
	require.NoError(t, err)
	assert.Equal(t, Settings{Parallelism: 1, Interval: defaultInterval}, s)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	srcs, snks, err := ParseConfig(loadYAML(t, configDoc(dir)))
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	require.Len(t, snks, 2)
	assert.Equal(t, "exclusive", srcs[0].Config["boundary"])

	set, err := Build(srcs, snks, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, set.Pipelines, 2)
	assert.Equal(t, "chromium -> journal", set.Pipelines[0].Show())
	assert.Same(t, set.Pipelines[0].Sink, set.Pipelines[1].Sink)
	assert.Len(t, set.sinks, 1, "the unused archive sink is not opened")

	require.NoError(t, set.Open(context.Background()))
	assert.FileExists(t, filepath.Join(dir, "activity.org"))
	assert.NoError(t, set.Close())

	picked, err := set.Select([]string{"kindle"})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "kindle", picked[0].Source.Name())

	all, err := set.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = set.Select([]string{"rss"})
	assert.Error(t, err)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "no sources",
			doc:  "sinks: [{name: s, type: org, key: k, config: {file_path: /tmp/x.org}}]",
		},
		{
			name: "source without sink",
			doc: `
sources: [{name: a, type: kindle, key: missing, config: {log_dir: /tmp}}]
sinks: [{name: s, type: org, key: k, config: {file_path: /tmp/x.org}}]`,
		},
		{
			name: "duplicate source names",
			doc: `
sources:
  - {name: a, type: kindle, key: k, config: {log_dir: /tmp}}
  - {name: a, type: chromium, key: k}
sinks: [{name: s, type: org, key: k, config: {file_path: /tmp/x.org}}]`,
		},
		{
			name: "duplicate sink keys",
			doc: `
sources: [{name: a, type: kindle, key: k, config: {log_dir: /tmp}}]
sinks:
  - {name: s1, type: org, key: k, config: {file_path: /tmp/x.org}}
  - {name: s2, type: jsonl, key: k, config: {file_path: /tmp/x.jsonl}}`,
		},
		{
			name: "unknown source type",
			doc: `
sources: [{name: a, type: rss, key: k}]
sinks: [{name: s, type: org, key: k, config: {file_path: /tmp/x.org}}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srcs, snks, err := ParseConfig(loadYAML(t, tt.doc))
			require.NoError(t, err)
			_, err = Build(srcs, snks, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}
