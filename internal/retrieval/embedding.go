package retrieval

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultFallbackDim = 16

// EmbeddingProvider fetches dense embeddings from a remote batch endpoint,
// degrading to a deterministic SHA-256-hash-based fallback vector on any
// network or format error. Grounded on original_source's EmbeddingService:
// the fallback guarantee (`embed` never fails) is what keeps retrieval
// deterministic in tests without a live embedding service.
type EmbeddingProvider struct {
	endpoint   string // base URL, e.g. "http://embed.internal"; empty disables the remote call
	dim        int
	httpClient *retryablehttp.Client
}

func NewEmbeddingProvider(endpoint string, dim int) *EmbeddingProvider {
	if dim < 4 {
		dim = defaultFallbackDim
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.Logger = nil // the engine's slog handler, not retryablehttp's leveled logger, owns output
	client.HTTPClient.Timeout = 5 * time.Second

	return &EmbeddingProvider{
		endpoint:   strings.TrimRight(endpoint, "/"),
		dim:        dim,
		httpClient: client,
	}
}

// Embed returns a single vector for text, never failing.
func (p *EmbeddingProvider) Embed(text string) []float64 {
	vectors := p.EmbedBatch([]string{text})
	if len(vectors) == 0 {
		return p.fallback(text)
	}
	return vectors[0]
}

// EmbedBatch returns one vector per input text, in order, never failing. On
// any transport/format error from the remote endpoint it falls back to the
// deterministic hash-based vector for every text in the batch.
func (p *EmbeddingProvider) EmbedBatch(texts []string) [][]float64 {
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = strings.TrimSpace(t)
	}
	if len(normalized) == 0 {
		return nil
	}

	if p.endpoint == "" {
		return p.fallbackBatch(normalized)
	}

	vectors, err := p.callRemote(normalized)
	if err != nil {
		slog.Debug("embedding provider falling back to deterministic vectors", "error", err)
		return p.fallbackBatch(normalized)
	}
	return vectors
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (p *EmbeddingProvider) callRemote(texts []string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, p.endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed request: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed response length mismatch: got %d, want %d", len(parsed.Embeddings), len(texts))
	}
	return parsed.Embeddings, nil
}

func (p *EmbeddingProvider) fallbackBatch(texts []string) [][]float64 {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = p.fallback(t)
	}
	return out
}

// fallback hashes text (SHA-256), maps the digest's bytes into [0,1] floats
// for the configured dimension, and L2-normalizes the result.
func (p *EmbeddingProvider) fallback(text string) []float64 {
	seed := sha256.Sum256([]byte(text))

	values := make([]float64, p.dim)
	var sumSquares float64
	for i := 0; i < p.dim; i++ {
		v := float64(seed[i%len(seed)]) / 255.0
		values[i] = v
		sumSquares += v * v
	}

	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		norm = 1.0
	}
	for i := range values {
		values[i] /= norm
	}
	return values
}
