// Package embedding wraps embedding-provider transport with the
// timeouts, retry policy, and cancellation forwarding the Indexer and
// Retriever need, and ships the OpenAI-compatible HTTP provider the
// spec's external-interface contract names explicitly.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/readest-ai/rag-core/internal/coreerr"
	openai "github.com/sashabaranov/go-openai"
)

// Provider is the capability the Indexer and Retriever consume:
// embed one query string, or embed many chunk texts in one round
// trip.
type Provider interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Per-operation timeouts for calls against an embedding provider.
const (
	TimeoutEmbeddingSingle = 10 * time.Second
	TimeoutEmbeddingBatch  = 30 * time.Second
	TimeoutHealthCheck     = 5 * time.Second
)

// RetryConfig is the exponential-backoff-with-jitter policy for
// embedding calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var EmbeddingRetryConfig = RetryConfig{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    20 * time.Second,
}

// WithRetryAndTimeout runs fn with a per-attempt timeout, retrying
// with exponential backoff plus jitter up to cfg.MaxAttempts times.
// Cancellation (context.Canceled/DeadlineExceeded on the parent ctx)
// short-circuits immediately without counting as a retryable failure.
func WithRetryAndTimeout(ctx context.Context, timeout time.Duration, cfg RetryConfig, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return coreerr.ErrIndexingAborted
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return coreerr.ErrIndexingAborted
		}
		lastErr = err

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(cfg, attempt)
		log.Printf("embedding: retry %d/%d after %v: %v", attempt+1, cfg.MaxAttempts, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return coreerr.ErrIndexingAborted
		}
	}
	return coreerr.NewEmbeddingError(lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := cfg.BaseDelay * time.Duration(1<<uint(attempt))
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d - jitter/2
}

// ==========================================
// OpenAI native provider (default path)
// ==========================================

// OpenAIProvider is the default embedding path: it hands the whole
// batch to the go-openai client's native CreateEmbeddings call in one
// round trip, rather than splitting into fixed-size sub-batches
// itself (that's what OpenAICompatProvider is for).
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", coreerr.ErrConfigError)
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}, nil
}

func (p *OpenAIProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("openai: empty embedding response")
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// ==========================================
// OpenAI-compatible provider
// ==========================================

// OpenAICompatProvider speaks the OpenAI embeddings wire format over
// plain HTTPS: POST {baseURL}/embeddings, Bearer auth, JSON body
// {model, input, encoding_format:"float"}, response
// {data:[{embedding,index}...]} sorted by index before use.
// Requests are split into fixed-size batches to respect provider
// limits, since this path talks raw HTTP rather than a generated
// client, for providers that speak the OpenAI wire format without
// shipping a Go SDK.
type OpenAICompatProvider struct {
	BaseURL   string
	APIKey    string
	Model     string
	BatchSize int

	httpClient *http.Client
}

func NewOpenAICompatProvider(baseURL, apiKey, model string) (*OpenAICompatProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: embedding API key is required", coreerr.ErrConfigError)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%w: embedding base URL is required", coreerr.ErrConfigError)
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAICompatProvider{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		BatchSize:  5,
		httpClient: &http.Client{},
	}, nil
}

func (p *OpenAICompatProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("openai-compat: empty embedding response")
	}
	return vecs[0], nil
}

func (p *OpenAICompatProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	var result [][]float32
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		result = append(result, vecs...)
	}
	return result, nil
}

type embeddingDatum struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Data []embeddingDatum `json:"data"`
}

func (p *OpenAICompatProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"model":           p.Model,
		"input":           texts,
		"encoding_format": "float",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai-compat embeddings: %d - %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("openai-compat embeddings decode: %w", err)
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// ==========================================
// HuggingFace provider
// ==========================================

// HuggingFaceProvider is a second HTTP-from-scratch provider shape,
// kept as an alternate embedding backend selectable via configuration.
type HuggingFaceProvider struct {
	APIKey     string
	Model      string
	httpClient *http.Client
}

func NewHuggingFaceProvider(apiKey, model string) (*HuggingFaceProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: huggingface API key is required", coreerr.ErrConfigError)
	}
	if model == "" {
		model = "BAAI/bge-small-en-v1.5"
	}
	return &HuggingFaceProvider{APIKey: apiKey, Model: model, httpClient: &http.Client{}}, nil
}

func (p *HuggingFaceProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("huggingface: empty embedding response")
	}
	return vecs[0], nil
}

func (p *HuggingFaceProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, _ := json.Marshal(map[string]interface{}{"inputs": texts})

	url := fmt.Sprintf("https://router.huggingface.co/models/%s", p.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("huggingface api error: %d - %s", resp.StatusCode, string(body))
	}

	var raw [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	out := make([][]float32, len(raw))
	for i, vec := range raw {
		f32 := make([]float32, len(vec))
		for j, v := range vec {
			f32[j] = float32(v)
		}
		out[i] = f32
	}
	return out, nil
}
