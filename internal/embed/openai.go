package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	openaiDefaultBase  = "https://api.openai.com/v1"
	openaiDefaultModel = "text-embedding-3-small"
	openaiMaxRetries   = 4
)

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint. It also
// implements AsyncProvider via the files + batches job API, which some
// compatible backends reject; the gateway treats that mode as optional.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	mu   sync.Mutex
	dims int
	jobs map[string]int // job id → expected vector count
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
// dims may be 0; it is discovered from the first response.
func NewOpenAIProvider(apiKey, baseURL, model string, dims int) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openaiDefaultBase
	}
	if model == "" {
		model = openaiDefaultModel
	}
	return &OpenAIProvider{
		name:    "openai",
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
		dims:    dims,
		jobs:    make(map[string]int),
	}
}

func (p *OpenAIProvider) Name() string  { return p.name }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims
}

func (p *OpenAIProvider) setDims(n int) {
	p.mu.Lock()
	if p.dims == 0 && n > 0 {
		p.dims = n
	}
	p.mu.Unlock()
}

// Embed requests embeddings for texts in one synchronous call, retrying
// transient failures with capped exponential backoff.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, _ := json.Marshal(map[string]any{
		"input": texts,
		"model": p.model,
	})

	var lastErr error
	for attempt := 0; attempt <= openaiMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("embeddings: %s", resp.Status)
			wait := retryAfter(resp)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if wait > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
			}
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("embeddings: %s: %s", resp.Status, truncateBody(payload))
		}

		var out struct {
			Data []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("decode embeddings: %w", err)
		}
		if len(out.Data) != len(texts) {
			return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(out.Data), len(texts))
		}

		vectors := make([][]float32, len(texts))
		for _, d := range out.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		if len(vectors[0]) > 0 {
			p.setDims(len(vectors[0]))
		}
		return vectors, nil
	}

	return nil, fmt.Errorf("embeddings failed after %d attempts: %w", openaiMaxRetries+1, lastErr)
}

// SubmitBatch uploads a JSONL request file and creates an embeddings batch
// job. Implements the optional async mode.
func (p *OpenAIProvider) SubmitBatch(ctx context.Context, texts []string) (string, error) {
	tag := uuid.NewString()[:8]
	var buf bytes.Buffer
	for i, text := range texts {
		line, _ := json.Marshal(map[string]any{
			"custom_id": fmt.Sprintf("%s-%d", tag, i),
			"method":    "POST",
			"url":       "/v1/embeddings",
			"body":      map[string]any{"input": text, "model": p.model},
		})
		buf.Write(line)
		buf.WriteByte('\n')
	}

	fileID, err := p.uploadFile(ctx, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("upload batch input: %w", err)
	}

	body, _ := json.Marshal(map[string]any{
		"input_file_id":     fileID,
		"endpoint":          "/v1/embeddings",
		"completion_window": "24h",
	})
	payload, err := p.doJSON(ctx, http.MethodPost, "/batches", body)
	if err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("create batch: malformed response")
	}

	p.mu.Lock()
	p.jobs[out.ID] = len(texts)
	p.mu.Unlock()
	return out.ID, nil
}

// PollBatch checks a batch job and, when completed, downloads and orders
// the result vectors.
func (p *OpenAIProvider) PollBatch(ctx context.Context, jobID string) ([][]float32, bool, error) {
	payload, err := p.doJSON(ctx, http.MethodGet, "/batches/"+jobID, nil)
	if err != nil {
		return nil, false, err
	}

	var job struct {
		Status       string `json:"status"`
		OutputFileID string `json:"output_file_id"`
	}
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, false, fmt.Errorf("decode batch status: %w", err)
	}

	switch job.Status {
	case "completed":
	case "failed", "expired", "cancelled":
		return nil, false, fmt.Errorf("batch %s: %s", jobID, job.Status)
	default:
		return nil, false, nil
	}

	p.mu.Lock()
	count := p.jobs[jobID]
	delete(p.jobs, jobID)
	p.mu.Unlock()
	if count == 0 {
		return nil, false, fmt.Errorf("batch %s: unknown job", jobID)
	}

	content, err := p.doJSON(ctx, http.MethodGet, "/files/"+job.OutputFileID+"/content", nil)
	if err != nil {
		return nil, false, fmt.Errorf("download batch output: %w", err)
	}

	vectors := make([][]float32, count)
	for _, line := range bytes.Split(content, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row struct {
			CustomID string `json:"custom_id"`
			Response struct {
				Body struct {
					Data []struct {
						Embedding []float32 `json:"embedding"`
					} `json:"data"`
				} `json:"body"`
			} `json:"response"`
		}
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		idx := customIDIndex(row.CustomID)
		if idx < 0 || idx >= count || len(row.Response.Body.Data) == 0 {
			continue
		}
		vectors[idx] = row.Response.Body.Data[0].Embedding
	}

	for i, v := range vectors {
		if len(v) == 0 {
			return nil, false, fmt.Errorf("batch %s: missing vector %d", jobID, i)
		}
	}
	if len(vectors) > 0 {
		p.setDims(len(vectors[0]))
	}
	return vectors, true, nil
}

func (p *OpenAIProvider) uploadFile(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("purpose", "batch")
	fw, err := mw.CreateFormFile("file", "embeddings.jsonl")
	if err != nil {
		return "", err
	}
	fw.Write(data)
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/files", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload file: %s: %s", resp.Status, truncateBody(payload))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("upload file: malformed response")
	}
	return out.ID, nil
}

func (p *OpenAIProvider) doJSON(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return payload, nil
}

func customIDIndex(id string) int {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return -1
	}
	return n
}

func retryAfter(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 250 * time.Millisecond << (attempt - 1)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func truncateBody(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
