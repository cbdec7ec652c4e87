// Package index keeps extracted invoices in memory for semantic lookup.
//
// Each record is serialized to deterministic JSON, embedded, normalized to
// unit length and stored next to its payload. A query is embedded the same
// way and compared against every stored vector by inner product, which on
// unit vectors equals cosine similarity. Search is exact; the corpus is
// expected to stay small enough for a linear scan.
//
// The index has two states. It starts Empty; the first successful Add fixes
// the vector dimension and moves it to Initialized. Drop returns it to Empty.
// Nothing is persisted.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"invoiceocr/internal/logger"
	"invoiceocr/pkg/models"
)

// MaxTopK bounds the result count accepted from outer surfaces.
const MaxTopK = 20

// IndexedInvoice is one stored entry. Its position in the store is its identity.
type IndexedInvoice struct {
	Payload models.InvoiceRecord
	Text    string // serialized form that was embedded
}

// Result is a query hit.
type Result struct {
	Score   float32              `json:"score"`
	Invoice models.InvoiceRecord `json:"invoice"`
}

// Index is an in-memory exact inner-product index over invoice records.
// It is safe for concurrent use.
type Index struct {
	embedder Embedder
	log      zerolog.Logger

	mu      sync.RWMutex
	dim     int // 0 while Empty
	vectors [][]float32
	store   []IndexedInvoice
}

// New creates an empty index.
func New(embedder Embedder) *Index {
	return &Index{
		embedder: embedder,
		log:      logger.WithComponent("index"),
	}
}

// Add embeds and appends records. An empty slice is a no-op. Either every
// record is added or none is.
func (idx *Index) Add(ctx context.Context, records []models.InvoiceRecord) error {
	const op = "Add"

	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	payloads := make([]models.InvoiceRecord, len(records))
	for i := range records {
		text, err := serialize(&records[i])
		if err != nil {
			return &IndexStateError{Op: op, Err: err, Details: fmt.Sprintf("record %d", i)}
		}
		texts[i] = text

		// Stored payloads are decoded from the serialized text so callers
		// cannot mutate them through shared pointers.
		if err := json.Unmarshal([]byte(text), &payloads[i]); err != nil {
			return &IndexStateError{Op: op, Err: err, Details: fmt.Sprintf("record %d", i)}
		}
	}

	vectors, err := idx.embed(ctx, op, texts)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	dim := len(vectors[0])
	if idx.dim != 0 && idx.dim != dim {
		return &IndexStateError{
			Op:      op,
			Err:     ErrDimensionMismatch,
			Details: fmt.Sprintf("index has %d, got %d", idx.dim, dim),
		}
	}
	if idx.dim == 0 {
		idx.dim = dim
		idx.log.Debug().Int("dim", dim).Msg("Index initialized")
	}

	for i := range vectors {
		idx.vectors = append(idx.vectors, vectors[i])
		idx.store = append(idx.store, IndexedInvoice{Payload: payloads[i], Text: texts[i]})
	}

	idx.log.Info().
		Int("added", len(records)).
		Int("total", len(idx.store)).
		Msg("Invoices indexed")

	return nil
}

// Query returns up to topK stored invoices most similar to text, best first.
// Equal scores keep insertion order. Querying an empty index returns an empty
// slice without calling the embedder.
func (idx *Index) Query(ctx context.Context, text string, topK int) ([]Result, error) {
	const op = "Query"

	if topK <= 0 {
		return nil, &IndexStateError{Op: op, Err: ErrInvalidTopK, Details: fmt.Sprintf("top_k: %d", topK)}
	}

	idx.mu.RLock()
	empty := idx.dim == 0
	idx.mu.RUnlock()
	if empty {
		return []Result{}, nil
	}

	vectors, err := idx.embed(ctx, op, []string{text})
	if err != nil {
		return nil, err
	}
	query := vectors[0]

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	// Dropped while embedding.
	if idx.dim == 0 {
		return []Result{}, nil
	}
	if len(query) != idx.dim {
		return nil, &IndexStateError{
			Op:      op,
			Err:     ErrDimensionMismatch,
			Details: fmt.Sprintf("index has %d, query has %d", idx.dim, len(query)),
		}
	}

	positions, scores := search(idx.vectors, query, topK)

	results := make([]Result, 0, len(positions))
	for i, pos := range positions {
		if pos >= len(idx.store) {
			continue
		}
		payload, err := idx.store[pos].clone()
		if err != nil {
			return nil, &IndexStateError{Op: op, Err: err, Details: fmt.Sprintf("entry %d", pos)}
		}
		results = append(results, Result{Score: scores[i], Invoice: payload})
	}
	return results, nil
}

// Drop removes every entry and returns the index to the Empty state.
func (idx *Index) Drop() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.dim = 0
	idx.vectors = nil
	idx.store = nil

	idx.log.Info().Msg("Index dropped")
}

// Len returns the number of stored entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.store)
}

// Dim returns the vector dimension, or 0 while the index is empty.
func (idx *Index) Dim() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// embed calls the embedder outside any lock and normalizes the answer.
func (idx *Index) embed(ctx context.Context, op string, texts []string) ([][]float32, error) {
	vectors, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, embedderError(op, err)
	}
	if len(vectors) != len(texts) {
		return nil, embedderError(op, fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, embedderError(op, fmt.Errorf("empty embedding"))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, &IndexStateError{
				Op:      op,
				Err:     ErrDimensionMismatch,
				Details: fmt.Sprintf("vector %d has %d, batch has %d", i, len(v), dim),
			}
		}
		vectors[i] = normalize(v)
	}
	return vectors, nil
}

// serialize encodes a record as compact JSON in struct field order without
// HTML escaping.
func serialize(record *models.InvoiceRecord) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// clone decodes a fresh copy of the payload from its serialized form, so a
// result shares no slices or pointers with the store.
func (e IndexedInvoice) clone() (models.InvoiceRecord, error) {
	var payload models.InvoiceRecord
	if err := json.Unmarshal([]byte(e.Text), &payload); err != nil {
		return models.InvoiceRecord{}, err
	}
	return payload, nil
}

// search ranks every vector by inner product with query and returns the
// positions and scores of the best min(k, len(vectors)).
func search(vectors [][]float32, query []float32, k int) ([]int, []float32) {
	order := make([]int, len(vectors))
	scores := make([]float32, len(vectors))
	for i, v := range vectors {
		order[i] = i
		scores[i] = dot(v, query)
	}

	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	k = min(k, len(order))
	ranked := make([]float32, k)
	for i := 0; i < k; i++ {
		ranked[i] = scores[order[i]]
	}
	return order[:k], ranked
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
