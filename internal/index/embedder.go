package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultHashDim matches the output size of all-MiniLM-L6-v2, so switching
// between the hashing and remote embedders keeps vector sizes comparable.
const DefaultHashDim = 384

// Embedder turns texts into vectors, one per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingCreator is the part of the OpenAI client OpenAIEmbedder needs.
type EmbeddingCreator interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client EmbeddingCreator
	model  string
}

// NewOpenAIEmbedder creates an embedder for baseURL. An empty baseURL uses
// the OpenAI default.
func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{}
	return NewOpenAIEmbedderWithClient(openai.NewClientWithConfig(config), model)
}

// NewOpenAIEmbedderWithClient creates an embedder around an existing client.
func NewOpenAIEmbedderWithClient(client EmbeddingCreator, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// Servers may answer out of order; Index is authoritative.
	data := make([]openai.Embedding, len(resp.Data))
	copy(data, resp.Data)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// HashEmbedder is an offline bag-of-words embedder. Each token is hashed
// into one of dim buckets and the counts are L2-normalized. It has no notion
// of synonyms, but texts sharing vocabulary score close together, which is
// enough for lookups by vendor, invoice number or amount.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hashing embedder. Non-positive dim means
// DefaultHashDim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDim
	}
	return &HashEmbedder{dim: dim}
}

// Dim returns the vector size.
func (h *HashEmbedder) Dim() int { return h.dim }

// Embed implements Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vec := make([]float32, h.dim)
		for _, token := range tokenize(text) {
			hash := fnv.New32a()
			_, _ = hash.Write([]byte(token))
			vec[hash.Sum32()%uint32(h.dim)] += 1
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit, dot or dash, so JSON punctuation never becomes part of a token.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			return false
		case r > 127:
			return false
		}
		return true
	})

	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".-")
		if f == "" || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

var stopWords = map[string]bool{
	"null": true, "true": true, "false": true,
	"a": true, "an": true, "the": true, "and": true, "of": true, "for": true, "to": true, "in": true,
}

// normalize scales v to unit length in place and returns it. The zero vector
// is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
