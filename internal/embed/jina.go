package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/mkendrick/crosswind/internal/domain"
)

const defaultJinaEndpoint = "https://api.jina.ai/v1/embeddings"

// JinaEmbedder generates embeddings via the Jina AI API. Calls are rate
// limited, and transient failures (429, 5xx) retry with backoff before an
// EmbeddingProviderError surfaces.
type JinaEmbedder struct {
	apiKey     string
	model      string
	client     *resty.Client
	limiter    *rate.Limiter
	maxRetries int
}

type jinaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Task       string   `json:"task"`
	Dimensions int      `json:"dimensions"`
	Truncate   bool     `json:"truncate"`
}

type jinaEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewJinaEmbedder creates a JinaEmbedder. An empty model selects
// jina-embeddings-v3; an empty endpoint selects the public API.
func NewJinaEmbedder(apiKey, model, endpoint string, maxRetries int) *JinaEmbedder {
	if model == "" {
		model = "jina-embeddings-v3"
	}
	if endpoint == "" {
		endpoint = defaultJinaEndpoint
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(60 * time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &JinaEmbedder{
		apiKey:     apiKey,
		model:      model,
		client:     client,
		limiter:    rate.NewLimiter(rate.Every(750*time.Millisecond), 1), // ~80 RPM
		maxRetries: maxRetries,
	}
}

// Name implements Embedder.
func (e *JinaEmbedder) Name() string { return "jina" }

// Model implements Embedder.
func (e *JinaEmbedder) Model() string { return e.model }

// Available returns true if the API key is configured.
func (e *JinaEmbedder) Available() bool { return e.apiKey != "" }

// Embed generates a passage embedding.
func (e *JinaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, "retrieval.passage")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedQuery generates a query embedding; the query task type improves
// search quality against passage vectors.
func (e *JinaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, "retrieval.query")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates passage embeddings for multiple texts. Inputs are
// chunked to respect API limits.
func (e *JinaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	const chunkSize = 25
	for start := 0; start < len(texts); start += chunkSize {
		end := start + chunkSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embed(ctx, texts[start:end], "retrieval.passage")
		if err != nil {
			return nil, fmt.Errorf("embed: batch chunk starting at %d: %w", start, err)
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *JinaEmbedder) embed(ctx context.Context, input []string, task string) ([][]float32, error) {
	reqBody := jinaEmbedRequest{
		Model:      e.model,
		Input:      input,
		Task:       task,
		Dimensions: 1024,
		Truncate:   true,
	}

	var lastErr error
	attempts := 0
	backoff := time.Second

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed: rate limiter wait: %w", err)
		}
		attempts++

		resp, err := e.client.R().
			SetContext(ctx).
			SetBody(reqBody).
			Post("")
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("embed: request cancelled: %w", ctx.Err())
			}
			lastErr = err
		} else if resp.StatusCode() == http.StatusOK {
			vecs, err := parseJinaResponse(resp.Body(), len(input))
			if err == nil {
				return vecs, nil
			}
			// Truncated/malformed body: retryable.
			lastErr = err
		} else if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("jina returned status %d: %s", resp.StatusCode(), resp.String())
			// 429 responses may say how long to hold off.
			if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
				wait := time.Duration(secs) * time.Second
				if wait > backoff {
					backoff = wait
				}
			}
		} else {
			return nil, &domain.EmbeddingProviderError{
				Provider: e.Name(),
				Attempts: attempts,
				Err:      fmt.Errorf("jina returned status %d: %s", resp.StatusCode(), resp.String()),
			}
		}

		if attempt < e.maxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embed: cancelled during retry: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, &domain.EmbeddingProviderError{Provider: e.Name(), Attempts: attempts, Err: lastErr}
}

func parseJinaResponse(body []byte, want int) ([][]float32, error) {
	var parsed jinaEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	vecs := make([][]float32, want)
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= want {
			return nil, fmt.Errorf("out-of-range index %d for %d inputs", item.Index, want)
		}
		vecs[item.Index] = item.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}
