package authority

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/perfbuffer"
)

type stubClient struct {
	search *SearchResponse
	find   *FindResponse
	err    error
}

func (s *stubClient) Search(context.Context, SearchRequest) (*SearchResponse, error) {
	return s.search, s.err
}

func (s *stubClient) Find(context.Context, FindRequest) (*FindResponse, error) {
	return s.find, s.err
}

func (s *stubClient) SearchURL(SearchRequest) string { return "search-url" }
func (s *stubClient) FindURL(FindRequest) string     { return "find-url" }

type memWriter struct {
	mu      sync.Mutex
	records []model.PerformanceRecord
}

func (w *memWriter) SavePerformanceRecords(_ context.Context, r []model.PerformanceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, r...)
	return nil
}

func TestTracked_RecordsSuccessfulSearch(t *testing.T) {
	w := &memWriter{}
	buf := perfbuffer.New(w, 1<<20)
	tc := NewTracked(&stubClient{search: &SearchResponse{
		Performance: Performance{ActionTimeMS: 50, RetrieveTimeMS: 30, GraphLoadTimeMS: 5, NormalizationTimeMS: 10, SizeBytes: 900},
	}}, buf)

	_, err := tc.Search(context.Background(), SearchRequest{Authority: "AGROVOC", Query: "milk"})
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Len())

	res, err := buf.WriteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
	require.Len(t, w.records, 1)
	rec := w.records[0]
	assert.Equal(t, "AGROVOC", rec.Authority)
	assert.Equal(t, model.ActionSearch, rec.Action)
	assert.Equal(t, int64(900), rec.SizeBytes)
	assert.InDelta(t, 50.0, rec.ActionTimeMS, 1e-9)
}

func TestTracked_MeasuresActionTimeWhenUnreported(t *testing.T) {
	w := &memWriter{}
	buf := perfbuffer.New(w, 1<<20)
	tc := NewTracked(&stubClient{find: &FindResponse{}}, buf)

	_, err := tc.Find(context.Background(), FindRequest{Authority: "OCLC_FAST", Identifier: "x"})
	require.NoError(t, err)
	_, err = buf.WriteAll(context.Background())
	require.NoError(t, err)
	require.Len(t, w.records, 1)
	assert.Equal(t, model.ActionFetch, w.records[0].Action)
	assert.GreaterOrEqual(t, w.records[0].ActionTimeMS, 0.0)
}

func TestTracked_DestroysOnError(t *testing.T) {
	buf := perfbuffer.New(&memWriter{}, 1<<20)
	tc := NewTracked(&stubClient{err: errors.New("timeout")}, buf)

	_, err := tc.Search(context.Background(), SearchRequest{Authority: "AGROVOC"})
	require.Error(t, err)
	_, err = tc.Find(context.Background(), FindRequest{Authority: "AGROVOC"})
	require.Error(t, err)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, "search-url", tc.SearchURL(SearchRequest{}))
}

type countingObserver struct {
	ok, failed int
}

func (c *countingObserver) ObserveRequest(_ string, _ model.Action, err error) {
	if err != nil {
		c.failed++
		return
	}
	c.ok++
}

func TestTracked_ReportsOutcomes(t *testing.T) {
	obs := &countingObserver{}
	stub := &stubClient{find: &FindResponse{}}
	tc := NewTracked(stub, perfbuffer.New(&memWriter{}, 1<<20), WithRequestObserver(obs))

	_, err := tc.Find(context.Background(), FindRequest{Authority: "LOC", Identifier: "sh85"})
	require.NoError(t, err)

	stub.err = errors.New("boom")
	_, err = tc.Find(context.Background(), FindRequest{Authority: "LOC", Identifier: "sh85"})
	require.Error(t, err)

	assert.Equal(t, 1, obs.ok)
	assert.Equal(t, 1, obs.failed)
}

// flushingClient flushes the buffer while its request is in flight.
type flushingClient struct {
	stubClient
	buf   *perfbuffer.Buffer
	first perfbuffer.FlushResult
}

func (f *flushingClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	res, err := f.buf.WriteAll(ctx)
	if err != nil {
		return nil, err
	}
	f.first = res
	return f.stubClient.Search(ctx, req)
}

func TestTracked_SampleSurvivesFlushDuringRequest(t *testing.T) {
	w := &memWriter{}
	buf := perfbuffer.New(w, 1<<20)
	c := &flushingClient{
		stubClient: stubClient{search: &SearchResponse{
			Performance: Performance{ActionTimeMS: 40, RetrieveTimeMS: 20, GraphLoadTimeMS: 5, NormalizationTimeMS: 10, SizeBytes: 512},
		}},
		buf: buf,
	}
	tc := NewTracked(c, buf)

	_, err := tc.Search(context.Background(), SearchRequest{Authority: "LOCNAMES_LD4L_CACHE", Query: "twain"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.first.Dropped, "the in-flight entry was incomplete at the flush")
	assert.Equal(t, 1, buf.Len())

	res, err := buf.WriteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
	require.Len(t, w.records, 1)
	assert.Equal(t, "LOCNAMES_LD4L_CACHE", w.records[0].Authority)
	assert.Equal(t, int64(512), w.records[0].SizeBytes)
}
