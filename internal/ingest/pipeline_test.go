package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/casefind/internal/config"
	"github.com/hyperjump/casefind/internal/embedding"
	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/remote"
	"github.com/hyperjump/casefind/internal/storage"
	"github.com/hyperjump/casefind/internal/workpool"
)

type fakeSource struct {
	mu       sync.Mutex
	records  map[int64][]byte
	assets   map[string][]byte
	failing  map[int64]bool
	fetches  map[int64]int
	onFetch  func(id int64)
	requests atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records: make(map[int64][]byte),
		assets:  make(map[string][]byte),
		failing: make(map[int64]bool),
		fetches: make(map[int64]int),
	}
}

func (s *fakeSource) addRecord(id int64, first string, assetIDs ...int64) {
	doc := fmt.Sprintf(`{"id":%d,"subjectIdentification":{"firstName":%q,"lastName":"Doe"},"images":[`, id, first)
	for i, a := range assetIDs {
		if i > 0 {
			doc += ","
		}
		doc += fmt.Sprintf(`{"hrefDownload":"/api/CaseSets/NamUs/MissingPersons/Cases/%d/Images/%d/Download"}`, id, a)
		s.assets[fmt.Sprintf("%d_%d", id, a)] = []byte(fmt.Sprintf("image %d/%d", id, a))
	}
	doc += "]}"
	s.records[id] = []byte(doc)
}

func (s *fakeSource) FetchRecord(ctx context.Context, id int64) ([]byte, error) {
	s.requests.Add(1)
	if s.onFetch != nil {
		s.onFetch(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[id]++
	if s.failing[id] {
		return nil, &models.TransientError{Op: "fetch record", Err: errors.New("connection reset")}
	}
	doc, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return doc, nil
}

func (s *fakeSource) FetchAsset(ctx context.Context, recordID, assetID int64) ([]byte, error) {
	s.requests.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.assets[fmt.Sprintf("%d_%d", recordID, assetID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return data, nil
}

func (s *fakeSource) ListAssetRefs(document []byte) ([]int64, error) {
	refs, _, err := remote.ParseAssetRefs(document)
	return refs, err
}

// spyVectors wraps a VectorStore and remembers every key whose Has returned true.
type spyVectors struct {
	storage.VectorStore
	mu      sync.Mutex
	present map[models.Key]bool
	puts    atomic.Int64
	failPut func(models.Key) bool
	dupPuts atomic.Int64
}

func newSpyVectors(inner storage.VectorStore) *spyVectors {
	return &spyVectors{VectorStore: inner, present: make(map[models.Key]bool)}
}

func (s *spyVectors) Has(key models.Key) (bool, error) {
	ok, err := s.VectorStore.Has(key)
	if ok {
		s.mu.Lock()
		s.present[key] = true
		s.mu.Unlock()
	}
	return ok, err
}

func (s *spyVectors) Put(key models.Key, vec []float32) error {
	s.mu.Lock()
	if s.present[key] {
		s.dupPuts.Add(1)
	}
	s.mu.Unlock()
	if s.failPut != nil && s.failPut(key) {
		return &models.StorageError{Op: "put", Path: key.String(), Err: errors.New("disk full")}
	}
	s.puts.Add(1)
	return s.VectorStore.Put(key, vec)
}

type fixture struct {
	source  *fakeSource
	docs    *storage.RecordStore
	vectors *spyVectors
	catalog *storage.Catalog
	cfg     config.IngestConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	docs, err := storage.NewRecordStore(dir)
	require.NoError(t, err)
	emb, err := storage.NewEmbeddingStore(dir + "/embeddings")
	require.NoError(t, err)
	catalog, err := storage.NewCatalog(dir + "/catalog.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })
	return &fixture{
		source:  newFakeSource(),
		docs:    docs,
		vectors: newSpyVectors(emb),
		catalog: catalog,
		cfg:     config.IngestConfig{Workers: 4, Window: 10, StartID: 1},
	}
}

func (f *fixture) pipeline(opts ...Option) *Pipeline {
	opts = append([]Option{
		WithTextProvider(embedding.NewMockProvider("text", 8)),
		WithImageProvider(embedding.NewMockProvider("clip", 4)),
		WithLedger(f.catalog),
	}, opts...)
	return New(f.source, f.docs, f.vectors, f.cfg, opts...)
}

func TestWindowIDs(t *testing.T) {
	f := newFixture(t)
	f.cfg.Window = 3
	f.cfg.StartID = 5

	ids, err := f.pipeline().WindowIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 7}, ids)

	require.NoError(t, f.docs.PutRecord(&models.Record{ID: 20, Document: []byte(`{}`)}))
	ids, err = f.pipeline().WindowIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 21, 22}, ids)

	f.cfg.Lookback = 2
	ids, err = f.pipeline().WindowIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{18, 19, 20}, ids)
}

func TestFetchRecords_SkipsExisting(t *testing.T) {
	f := newFixture(t)
	for id := int64(1); id <= 5; id++ {
		f.source.addRecord(id, fmt.Sprintf("P%d", id))
	}
	existing := map[int64][]byte{
		2: []byte(`{"local":2}`),
		4: []byte(`{"local":4}`),
	}
	for id, doc := range existing {
		require.NoError(t, f.docs.PutRecord(&models.Record{ID: id, Document: doc}))
	}

	rep, err := f.pipeline().FetchRecords(context.Background(), []int64{1, 2, 3, 4, 5})
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Counts[Fetched])
	assert.Equal(t, 2, rep.Counts[Skipped])
	assert.Equal(t, 0, f.source.fetches[2])
	assert.Equal(t, 0, f.source.fetches[4])
	for id, doc := range existing {
		got, err := os.ReadFile(fmt.Sprintf("%s/%d.json", f.docs.RecordsDir(), id))
		require.NoError(t, err)
		assert.Equal(t, doc, got, "record %d must be untouched", id)
	}

	sum, err := f.catalog.GetRecord(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "P3 Doe", sum.DisplayName)
}

func TestFetchRecords_GapsAreMissing(t *testing.T) {
	f := newFixture(t)
	f.source.addRecord(1, "A")
	f.source.addRecord(3, "C")

	rep, err := f.pipeline().FetchRecords(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Counts[Fetched])
	assert.Equal(t, 1, rep.Counts[Missing])
	assert.Equal(t, 0, rep.Failed())
}

func TestFetchRecords_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	ids := make([]int64, 10)
	for i := range ids {
		ids[i] = int64(i + 1)
		f.source.addRecord(ids[i], "X")
	}
	f.source.failing[7] = true

	rep, err := f.pipeline().FetchRecords(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 9, rep.Counts[Fetched])
	assert.Equal(t, 1, rep.Counts[FetchFailed])
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "record 7", rep.Failures[0].Unit)
	assert.ErrorIs(t, rep.Failures[0].Err, models.ErrTransient)

	stored, err := f.docs.RecordIDs()
	require.NoError(t, err)
	assert.Len(t, stored, 9)

	// the next pass retries only the failure
	delete(f.source.failing, 7)
	rep, err = f.pipeline().FetchRecords(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Counts[Fetched])
	assert.Equal(t, 9, rep.Counts[Skipped])
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.source.addRecord(1, "Ann", 10, 11)
	f.source.addRecord(2, "Bob", 20)
	f.source.addRecord(4, "Dee")
	ctx := context.Background()

	reports, err := f.pipeline().Run(ctx)
	require.NoError(t, err)
	require.Len(t, reports, len(Stages))
	assert.Equal(t, 3, reports[0].Counts[Fetched])
	assert.Equal(t, 3, reports[1].Counts[Fetched])
	assert.Equal(t, 3, reports[2].Counts[Embedded])
	assert.Equal(t, 3, reports[3].Counts[Embedded])
	firstPuts := f.vectors.puts.Load()
	assert.Equal(t, int64(6), firstPuts)

	before := f.source.requests.Load()
	reports, err = f.pipeline().Run(ctx)
	require.NoError(t, err)
	for _, rep := range reports {
		assert.Zero(t, rep.Succeeded(), rep.Stage)
		assert.Zero(t, rep.Failed(), rep.Stage)
	}
	assert.Equal(t, firstPuts, f.vectors.puts.Load(), "second run must not write vectors")
	assert.Zero(t, f.vectors.dupPuts.Load())
	// only the catalog walk probes the remote again; stored assets are never refetched
	assert.Equal(t, int64(f.cfg.Window-1), f.source.requests.Load()-before)

	runs, err := f.catalog.RecentRuns(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, runs, 2*len(Stages))
}

func TestEmbed_FailedPutLeavesNoVector(t *testing.T) {
	f := newFixture(t)
	f.source.addRecord(1, "A")
	f.source.addRecord(2, "B")
	bad := models.RecordKey(models.ModalityText, 2)
	f.vectors.failPut = func(k models.Key) bool { return k == bad }
	ctx := context.Background()

	_, err := f.pipeline().Run(ctx, StageRecords)
	require.NoError(t, err)
	rep, err := f.pipeline().EmbedRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Counts[Embedded])
	assert.Equal(t, 1, rep.Counts[EmbedFailed])

	ok, err := f.vectors.Has(bad)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchRecords_Canceled(t *testing.T) {
	f := newFixture(t)
	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
		f.source.addRecord(ids[i], "X")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.source.onFetch = func(id int64) {
		if id == 3 {
			cancel()
		}
	}

	p := f.pipeline(WithPool(workpool.New(1)))
	rep, err := p.FetchRecords(ctx, ids)
	require.NoError(t, err)
	assert.True(t, rep.Canceled)
	assert.Equal(t, 3, rep.Counts[Fetched], "in-flight unit completes")
	assert.Equal(t, 47, rep.Counts[Canceled])

	stored, err := f.docs.RecordIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, stored)

	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchRecords_UnreadableAssetRefsAreLogged(t *testing.T) {
	f := newFixture(t)
	f.source.records[1] = []byte(`{"subjectIdentification":{"firstName":"Ann"},"images":"not a list"}`)
	core, logs := observer.New(zap.WarnLevel)

	rep, err := f.pipeline(WithLogger(zap.New(core))).FetchRecords(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Counts[Fetched])

	warned := logs.FilterMessage("Unreadable asset references").All()
	require.Len(t, warned, 1)
	assert.Equal(t, int64(1), warned[0].ContextMap()["record_id"])

	summary, err := f.catalog.GetRecord(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AssetCount)
}

func TestSyncAssets_MalformedLinkKeepsSiblings(t *testing.T) {
	f := newFixture(t)
	doc := `{"images":[` +
		`{"hrefDownload":"/api/CaseSets/NamUs/MissingPersons/Cases/7/Images/10/Download"},` +
		`{"hrefDownload":""},` +
		`{"hrefDownload":"/api/CaseSets/NamUs/MissingPersons/Cases/7/Images/11/Download"}]}`
	require.NoError(t, f.docs.PutRecord(&models.Record{ID: 7, Document: []byte(doc)}))
	f.source.assets["7_10"] = []byte("image 7/10")
	f.source.assets["7_11"] = []byte("image 7/11")

	rep, err := f.pipeline().SyncAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Counts[Fetched])
	for _, a := range []int64{10, 11} {
		ok, err := f.docs.HasAsset(7, a)
		require.NoError(t, err)
		assert.True(t, ok, "asset %d", a)
	}
}

func TestRun_UnknownStage(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline().Run(context.Background(), "bogus")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestRun_MissingProvider(t *testing.T) {
	f := newFixture(t)
	p := New(f.source, f.docs, f.vectors, f.cfg)
	_, err := p.EmbedRecords(context.Background())
	assert.Error(t, err)
	_, err = p.EmbedAssets(context.Background())
	assert.Error(t, err)
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Pending, Fetching, true},
		{Pending, Embedding, true},
		{Pending, Skipped, true},
		{Pending, Canceled, true},
		{Fetching, Fetched, true},
		{Fetching, FetchFailed, true},
		{Fetching, Missing, true},
		{Embedding, Embedded, true},
		{Embedding, EmbedFailed, true},
		{Pending, Fetched, false},
		{Fetching, Embedded, false},
		{Embedding, FetchFailed, false},
		{Fetched, Pending, false},
		{Skipped, Fetching, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}

	u := newUnit("record 1", Embedding)
	assert.Panics(t, func() { u.advance(Fetched) })
	err := u.fail(errors.New("boom"))
	assert.Error(t, err)
	assert.Equal(t, EmbedFailed, u.state)
	assert.True(t, u.state.Terminal())
	assert.True(t, u.state.Failed())
	assert.False(t, Pending.Terminal())
}
