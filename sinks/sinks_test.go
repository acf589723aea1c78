package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/lifelog/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

var (
	visit = models.NewRecord("chromium", time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), time.Time{},
		"Go blog", "https://go.dev/blog", nil)
	reading = models.NewRecord("kindle", time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 20, 45, 0, 0, time.UTC), "Dune", "",
		[]models.Property{{Name: "ASIN", Value: "B00B7NPRY8"}, {Name: "DURATION", Value: "2700"}})
)

func TestNewDocument(t *testing.T) {
	d := NewDocument(reading)
	assert.Equal(t, reading.ID.String(), d.ID)
	require.NotNil(t, d.End)
	assert.Equal(t, reading.End, *d.End)
	assert.Equal(t, map[string]string{"ASIN": "B00B7NPRY8", "DURATION": "2700"}, d.Properties)

	p := NewDocument(visit)
	assert.Nil(t, p.End)
	assert.Nil(t, p.Properties)
	assert.Equal(t, "https://go.dev/blog", p.Link)
}

func TestOrgSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "activity.org")
	s, err := NewOrgSink(SinkConfig{Name: "journal", Config: map[string]string{"file_path": path, "timezone": "UTC"}}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Emit(ctx, visit))
	require.NoError(t, s.Emit(ctx, reading))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "* journal\n" +
		"** <2024-01-02 Tue 08:00> [[https://go.dev/blog][Go blog]]\n" +
		":PROPERTIES:\n" +
		":ID: " + visit.ID.String() + "\n" +
		":END:\n" +
		"** <2024-01-02 Tue 20:00>--<2024-01-02 Tue 20:45> Dune\n" +
		":PROPERTIES:\n" +
		":ASIN: B00B7NPRY8\n" +
		":DURATION: 2700\n" +
		":ID: " + reading.ID.String() + "\n" +
		":END:\n"
	assert.Equal(t, want, string(got))

	// a second run appends without repeating the file heading
	s, err = NewOrgSink(SinkConfig{Name: "journal", Config: map[string]string{"file_path": path, "timezone": "UTC"}}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Emit(ctx, visit))
	require.NoError(t, s.Close())

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(got), "* journal\n"))
	assert.Equal(t, 3, strings.Count(string(got), ":END:\n"))
}

func TestOrgSink_EmitBeforeOpen(t *testing.T) {
	s, err := NewOrgSink(SinkConfig{Name: "journal", Config: map[string]string{"file_path": filepath.Join(t.TempDir(), "a.org")}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, s.Emit(context.Background(), visit))
}

func TestJSONLinesSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	s, err := NewJSONLinesSink(SinkConfig{Name: "jsonl", Config: map[string]string{"file_path": path}}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Emit(ctx, visit))
	require.NoError(t, s.Emit(ctx, reading))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var docs []Document
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var d Document
		require.NoError(t, json.Unmarshal(sc.Bytes(), &d))
		docs = append(docs, d)
	}
	require.Len(t, docs, 2)
	assert.Equal(t, visit.ID.String(), docs[0].ID)
	assert.Equal(t, "Dune", docs[1].Text)
	assert.Equal(t, "2700", docs[1].Properties["DURATION"])
}

type esRequest struct {
	method string
	path   string
	doc    Document
}

func fakeElastic(t *testing.T, failIndex bool) (*httptest.Server, *[]esRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []esRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		req := esRequest{method: r.Method, path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req.doc)
		}
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()

		if failIndex && strings.Contains(r.URL.Path, "/_doc/") {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
			return
		}
		w.Write([]byte(`{"result":"created","_version":1}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestElasticSink(t *testing.T) {
	srv, reqs := fakeElastic(t, false)
	s, err := NewElasticSink(SinkConfig{Name: "es", Config: map[string]string{"url": srv.URL, "index_name": "lifelog"}}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Emit(ctx, reading))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	require.Len(t, *reqs, 2)
	assert.Equal(t, http.MethodPut, (*reqs)[0].method)
	assert.Equal(t, "/lifelog/_doc/"+reading.ID.String(), (*reqs)[0].path)
	assert.Equal(t, "Dune", (*reqs)[0].doc.Text)
	assert.Equal(t, "/lifelog/_refresh", (*reqs)[1].path)
}

func TestElasticSink_Rejected(t *testing.T) {
	srv, _ := fakeElastic(t, true)
	s, err := NewElasticSink(SinkConfig{Name: "es", Config: map[string]string{"url": srv.URL, "index_name": "lifelog"}}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Open(context.Background()))
	err = s.Emit(context.Background(), visit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestMongoSink_Emit(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("upsert", func(mt *mtest.T) {
		s := &MongoSink{name: "mongo", logger: zerolog.Nop(), coll: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}))

		require.NoError(t, s.Emit(context.Background(), reading))

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		assert.Equal(t, "update", started.CommandName)
	})

	mt.Run("write error", func(mt *mtest.T) {
		s := &MongoSink{name: "mongo", logger: zerolog.Nop(), coll: mt.Coll}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 121, Message: "document failed validation"}))

		assert.Error(t, s.Emit(context.Background(), reading))
	})
}

func TestCreateSink(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		config  SinkConfig
		wantErr bool
	}{
		{name: "org", config: SinkConfig{Name: "o", ConnectionType: "org", Config: map[string]string{"file_path": filepath.Join(dir, "a.org")}}},
		{name: "jsonl", config: SinkConfig{Name: "j", ConnectionType: "jsonl", Config: map[string]string{"file_path": filepath.Join(dir, "a.jsonl")}}},
		{name: "kafka", config: SinkConfig{Name: "k", ConnectionType: "kafka", Config: map[string]string{"bootstrap_servers": "localhost:9092, localhost:9093", "topic": "lifelog"}}},
		{name: "elasticsearch", config: SinkConfig{Name: "e", ConnectionType: "elasticsearch", Config: map[string]string{"url": "http://localhost:9200", "index_name": "lifelog"}}},
		{name: "mongodb", config: SinkConfig{Name: "m", ConnectionType: "mongodb", Config: map[string]string{"mongodb_uri": "mongodb://localhost", "database": "d", "collection": "c"}}},
		{name: "org without path", config: SinkConfig{Name: "o", ConnectionType: "org"}, wantErr: true},
		{name: "org bad timezone", config: SinkConfig{Name: "o", ConnectionType: "org", Config: map[string]string{"file_path": "x", "timezone": "Nowhere/Land"}}, wantErr: true},
		{name: "kafka without topic", config: SinkConfig{Name: "k", ConnectionType: "kafka", Config: map[string]string{"bootstrap_servers": "localhost:9092"}}, wantErr: true},
		{name: "elasticsearch without address", config: SinkConfig{Name: "e", ConnectionType: "elasticsearch", Config: map[string]string{"index_name": "i"}}, wantErr: true},
		{name: "mongodb without collection", config: SinkConfig{Name: "m", ConnectionType: "mongodb", Config: map[string]string{"mongodb_uri": "mongodb://localhost", "database": "d"}}, wantErr: true},
		{name: "no name", config: SinkConfig{ConnectionType: "org"}, wantErr: true},
		{name: "unknown", config: SinkConfig{Name: "x", ConnectionType: "s3"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := CreateSink(tt.config, zerolog.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.Name, s.Name())
		})
	}

	k, err := CreateSink(tests[2].config, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, k.(*KafkaSink).bootstrapServers)
	assert.Equal(t, []string{"elasticsearch", "jsonl", "kafka", "mongodb", "org"}, Types())

	_, err = CreateSink(SinkConfig{Name: "x", ConnectionType: "s3"}, zerolog.Nop())
	assert.ErrorContains(t, err, `unknown sink type "s3", want one of elasticsearch, jsonl, kafka, mongodb, org`)
}

// failingFile cuts its next writes short with a disk full error
type failingFile struct {
	*os.File
	failures int
}

func (f *failingFile) Write(p []byte) (int, error) {
	if f.failures == 0 {
		return f.File.Write(p)
	}
	f.failures--
	n, _ := f.File.Write(p[:len(p)/2])
	return n, errors.New("no space left on device")
}

// failNextWrite makes the next write of out reach the disk only halfway
func failNextWrite(out *appendFile) {
	out.file = &failingFile{File: out.file.(*os.File), failures: 1}
	out.w.Reset(out.file)
}

func TestOrgSink_FailedFlushLeavesNothingBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.org")
	s, err := NewOrgSink(SinkConfig{Name: "journal", Config: map[string]string{"file_path": path, "timezone": "UTC"}}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	failNextWrite(s.(*OrgSink).out)

	require.NoError(t, s.Emit(ctx, visit))
	assert.Error(t, s.Flush(ctx))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "* journal\n", string(got))

	// the next run writes normally
	require.NoError(t, s.Emit(ctx, reading))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(got), "Go blog")
	assert.True(t, strings.HasPrefix(string(got), "* journal\n** <2024-01-02 Tue 20:00>--<2024-01-02 Tue 20:45> Dune\n"))
}

func TestJSONLinesSink_FailedEmitLeavesNothingBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	s, err := NewJSONLinesSink(SinkConfig{Name: "jsonl", Config: map[string]string{"file_path": path}}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Emit(ctx, visit))
	require.NoError(t, s.Flush(ctx))

	failNextWrite(s.(*JSONLinesSink).out)

	// larger than the write buffer, so the failure surfaces in Emit
	long := models.NewRecord("chromium", visit.Time, time.Time{}, strings.Repeat("x", 8192), "", nil)
	assert.Error(t, s.Emit(ctx, long))

	require.NoError(t, s.Emit(ctx, reading))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(got)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], visit.ID.String())
	assert.Contains(t, lines[1], reading.ID.String())
}
