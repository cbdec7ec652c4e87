package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceocr/pkg/models"
)

// stubEmbedder returns a fixed vector for every text and counts calls.
type stubEmbedder struct {
	vector []float32
	err    error
	calls  atomic.Int32
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, len(s.vector))
		copy(v, s.vector)
		out[i] = v
	}
	return out, nil
}

func record(number, vendor string) models.InvoiceRecord {
	r := models.NewRecord("test-model")
	r.Data.InvoiceNumber = models.String(number)
	r.Data.Vendor.Name = models.String(vendor)
	r.Data.InvoiceDate = models.NewDate(2024, 3, 1)
	r.Data.LineItems = []models.LineItem{{
		Description: "Service & support <monthly>",
		Quantity:    models.Float(1),
		UnitPrice:   models.Float(99.5),
	}}
	r.Data.Totals.Total = models.Float(99.5)
	return r
}

func TestAddEmptyIsNoop(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0}}
	idx := New(emb)

	require.NoError(t, idx.Add(context.Background(), nil))
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, idx.Dim())
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestQueryEmptyIndex(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0}}
	idx := New(emb)

	results, err := idx.Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestAddAndQuery(t *testing.T) {
	idx := New(NewHashEmbedder(DefaultHashDim))
	records := []models.InvoiceRecord{
		record("INV-1", "Acme Tools"),
		record("INV-2", "Globex Consulting"),
		record("INV-3", "Initech Software"),
	}

	require.NoError(t, idx.Add(context.Background(), records))
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, DefaultHashDim, idx.Dim())

	results, err := idx.Query(context.Background(), "globex consulting", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "INV-2", models.Deref(results[0].Invoice.Data.InvoiceNumber))
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	for _, r := range results {
		assert.False(t, math.IsNaN(float64(r.Score)))
		assert.Contains(t, records, r.Invoice)
	}
}

func TestQueryReturnsAtMostStored(t *testing.T) {
	idx := New(&stubEmbedder{vector: []float32{3, 4}})
	require.NoError(t, idx.Add(context.Background(), []models.InvoiceRecord{record("A", "x"), record("B", "y")}))

	results, err := idx.Query(context.Background(), "q", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestQueryHugeTopK(t *testing.T) {
	idx := New(&stubEmbedder{vector: []float32{1, 0}})
	require.NoError(t, idx.Add(context.Background(), []models.InvoiceRecord{record("INV-1", "Acme")}))

	var results []Result
	require.NotPanics(t, func() {
		var err error
		results, err = idx.Query(context.Background(), "acme", math.MaxInt)
		require.NoError(t, err)
	})
	require.Len(t, results, 1)
	assert.Equal(t, "INV-1", models.Deref(results[0].Invoice.Data.InvoiceNumber))
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	idx := New(&stubEmbedder{vector: []float32{1, 1, 0}})
	var records []models.InvoiceRecord
	for i := 0; i < 5; i++ {
		records = append(records, record(fmt.Sprintf("INV-%d", i), "same"))
	}
	require.NoError(t, idx.Add(context.Background(), records))

	results, err := idx.Query(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("INV-%d", i), models.Deref(r.Invoice.Data.InvoiceNumber))
		// unit vectors, identical: score 1
		assert.InDelta(t, 1.0, r.Score, 1e-6)
	}
}

func TestQueryInvalidTopK(t *testing.T) {
	idx := New(&stubEmbedder{vector: []float32{1}})

	for _, k := range []int{0, -1} {
		_, err := idx.Query(context.Background(), "q", k)
		var stateErr *IndexStateError
		require.True(t, errors.As(err, &stateErr))
		assert.ErrorIs(t, err, ErrInvalidTopK)
	}
}

func TestDimensionMismatch(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0}}
	idx := New(emb)
	require.NoError(t, idx.Add(context.Background(), []models.InvoiceRecord{record("A", "x")}))

	emb.vector = []float32{1, 0}
	err := idx.Add(context.Background(), []models.InvoiceRecord{record("B", "y")})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len(), "nothing appended on mismatch")
	assert.Equal(t, 3, idx.Dim())
}

func TestDropResetsState(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0, 0}}
	idx := New(emb)
	require.NoError(t, idx.Add(context.Background(), []models.InvoiceRecord{record("A", "x")}))

	idx.Drop()
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, idx.Dim())

	results, err := idx.Query(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	// a new dimension is accepted after a drop
	emb.vector = []float32{0, 1}
	require.NoError(t, idx.Add(context.Background(), []models.InvoiceRecord{record("B", "y")}))
	assert.Equal(t, 2, idx.Dim())
}

func TestEmbedderFailure(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1}, err: errors.New("connection refused")}
	idx := New(emb)

	err := idx.Add(context.Background(), []models.InvoiceRecord{record("A", "x")})
	var stateErr *IndexStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "Add", stateErr.Op)
	assert.ErrorIs(t, err, ErrEmbedderUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, int32(1), emb.calls.Load(), "embedder failures are not retried")
}

func TestStoredPayloadIsIsolated(t *testing.T) {
	idx := New(&stubEmbedder{vector: []float32{1}})
	r := record("INV-1", "Acme")
	require.NoError(t, idx.Add(context.Background(), []models.InvoiceRecord{r}))

	*r.Data.InvoiceNumber = "MUTATED"

	results, err := idx.Query(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "INV-1", models.Deref(results[0].Invoice.Data.InvoiceNumber))
}

func TestQueryResultsAreIsolated(t *testing.T) {
	idx := New(&stubEmbedder{vector: []float32{1}})
	require.NoError(t, idx.Add(context.Background(), []models.InvoiceRecord{record("INV-1", "Acme")}))

	first, err := idx.Query(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	*first[0].Invoice.Data.InvoiceNumber = "MUTATED"
	first[0].Invoice.Data.LineItems[0].Description = "MUTATED"
	first[0].Invoice.Warnings = append(first[0].Invoice.Warnings, "added")

	second, err := idx.Query(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "INV-1", models.Deref(second[0].Invoice.Data.InvoiceNumber))
	assert.Equal(t, "Service & support <monthly>", second[0].Invoice.Data.LineItems[0].Description)
	assert.Empty(t, second[0].Invoice.Warnings)
}

func TestSerializeDoesNotEscapeHTML(t *testing.T) {
	r := record("INV-1", "Smith & Sons")
	text, err := serialize(&r)
	require.NoError(t, err)
	assert.Contains(t, text, "Smith & Sons")
	assert.Contains(t, text, "<monthly>")
	assert.NotContains(t, text, "\n")

	again, err := serialize(&r)
	require.NoError(t, err)
	assert.Equal(t, text, again)
}

func TestConcurrentAdds(t *testing.T) {
	idx := New(NewHashEmbedder(32))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, idx.Add(context.Background(), []models.InvoiceRecord{record(fmt.Sprintf("INV-%d", i), "v")}))
			_, err := idx.Query(context.Background(), "v", 3)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, idx.Len())
	assert.Len(t, idx.vectors, len(idx.store))
}

func TestHashEmbedderNormalizes(t *testing.T) {
	emb := NewHashEmbedder(0)
	assert.Equal(t, DefaultHashDim, emb.Dim())

	vectors, err := emb.Embed(context.Background(), []string{`{"vendor":"Acme Tools"}`, ""})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	var norm float64
	for _, x := range vectors[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	for _, x := range vectors[1] {
		assert.Zero(t, x)
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize(`{"vendor":{"name":"ACME Tools"},"total":99.5,"note":null}`)
	assert.Equal(t, []string{"vendor", "name", "acme", "tools", "total", "99.5", "note"}, tokens)
}

func TestOpenAIEmbedder(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model

		w.Header().Set("Content-Type", "application/json")
		// answered out of order on purpose
		fmt.Fprint(w, `{"object":"list","model":"m","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(srv.URL+"/v1", "key", "sentence-transformers/all-MiniLM-L6-v2")
	vectors, err := emb.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", gotModel)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestOpenAIEmbedderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"model loading"}}`)
	}))
	defer srv.Close()

	idx := New(NewOpenAIEmbedder(srv.URL+"/v1", "key", "m"))
	err := idx.Add(context.Background(), []models.InvoiceRecord{record("A", "x")})
	assert.ErrorIs(t, err, ErrEmbedderUnavailable)
}
