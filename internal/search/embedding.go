package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// EmbeddingDim is the dimension produced by the embedding model. Every vector
// stored in the index has exactly this many components.
const EmbeddingDim = 384

// EmbeddingClient calls the embedding service and normalizes its response into
// a fixed-dimension vector. The service's response layout varies between model
// servers, so each known shape gets its own decoder.
type EmbeddingClient struct {
	url        string
	httpClient *http.Client
}

// NewEmbeddingClient creates a client for the embedding service at url.
func NewEmbeddingClient(url string) *EmbeddingClient {
	return &EmbeddingClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Embed returns the embedding vector for text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, msg)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	return NormalizeEmbedding(raw)
}

// NormalizeEmbedding decodes an embedding service response into a vector of
// exactly EmbeddingDim components. Known layouts, tried in order:
//
//   - flat array of EmbeddingDim numbers
//   - flat array whose length is a multiple of EmbeddingDim (token vectors
//     concatenated; mean-pooled per component)
//   - nested rows (array of arrays, each row EmbeddingDim wide; mean-pooled)
//   - tensor object {"dims": [...], "size": n, "data": ...} where data is an
//     array or an index-keyed map
//   - wrapper object {"embedding": ...} or {"vector": ...} around any of the
//     above
//
// Anything else falls back to collecting every number in the document in
// order, which must then match one of the flat layouts.
func NormalizeEmbedding(raw []byte) ([]float32, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if obj, ok := v.(map[string]any); ok {
		for _, key := range []string{"embedding", "vector", "embeddings"} {
			if inner, ok := obj[key]; ok {
				v = inner
				break
			}
		}
	}

	switch t := v.(type) {
	case []any:
		if rows, ok := asRows(t); ok {
			return poolRows(rows)
		}
		nums, ok := asNumbers(t)
		if !ok {
			break
		}
		return poolFlat(nums)
	case map[string]any:
		if data, ok := t["data"]; ok {
			nums, err := tensorData(data, t["size"])
			if err != nil {
				return nil, err
			}
			return poolFlat(nums)
		}
	}

	// Last resort: harvest every number in document order.
	nums := collectNumbers(v, nil)
	if len(nums) == 0 {
		return nil, fmt.Errorf("embedding response contains no numeric data")
	}
	return poolFlat(nums)
}

// poolFlat validates a flat vector, mean-pooling concatenated token vectors
// when the length is a larger multiple of EmbeddingDim.
func poolFlat(nums []float32) ([]float32, error) {
	if len(nums) == EmbeddingDim {
		return nums, nil
	}
	if len(nums) > 0 && len(nums)%EmbeddingDim == 0 {
		rows := make([][]float32, 0, len(nums)/EmbeddingDim)
		for i := 0; i < len(nums); i += EmbeddingDim {
			rows = append(rows, nums[i:i+EmbeddingDim])
		}
		return poolRows(rows)
	}
	return nil, fmt.Errorf("embedding has %d components, want %d or a multiple", len(nums), EmbeddingDim)
}

// poolRows averages per-token rows into a single vector.
func poolRows(rows [][]float32) ([]float32, error) {
	out := make([]float32, EmbeddingDim)
	for _, row := range rows {
		if len(row) != EmbeddingDim {
			return nil, fmt.Errorf("embedding row has %d components, want %d", len(row), EmbeddingDim)
		}
		for i, f := range row {
			out[i] += f
		}
	}
	n := float32(len(rows))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// tensorData flattens the data field of a tensor-style response. Some servers
// serialize typed arrays as {"0": x, "1": y, ...} maps keyed by index.
func tensorData(data any, size any) ([]float32, error) {
	switch d := data.(type) {
	case []any:
		nums, ok := asNumbers(d)
		if !ok {
			return nil, fmt.Errorf("tensor data array contains non-numeric values")
		}
		return nums, nil
	case map[string]any:
		n := len(d)
		if s, ok := size.(float64); ok && int(s) > 0 {
			n = int(s)
		}
		keys := make([]int, 0, len(d))
		for k := range d {
			i, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("tensor data map has non-index key %q", k)
			}
			keys = append(keys, i)
		}
		sort.Ints(keys)
		nums := make([]float32, 0, n)
		for _, i := range keys {
			f, ok := d[strconv.Itoa(i)].(float64)
			if !ok {
				return nil, fmt.Errorf("tensor data map contains non-numeric value at index %d", i)
			}
			nums = append(nums, float32(f))
		}
		return nums, nil
	default:
		return nil, fmt.Errorf("unsupported tensor data type %T", data)
	}
}

func asNumbers(vals []any) ([]float32, bool) {
	nums := make([]float32, 0, len(vals))
	for _, v := range vals {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		nums = append(nums, float32(f))
	}
	return nums, true
}

func asRows(vals []any) ([][]float32, bool) {
	if len(vals) == 0 {
		return nil, false
	}
	rows := make([][]float32, 0, len(vals))
	for _, v := range vals {
		inner, ok := v.([]any)
		if !ok {
			return nil, false
		}
		row, ok := asNumbers(inner)
		if !ok {
			return nil, false
		}
		rows = append(rows, row)
	}
	return rows, true
}

func collectNumbers(v any, acc []float32) []float32 {
	switch t := v.(type) {
	case float64:
		acc = append(acc, float32(t))
	case []any:
		for _, e := range t {
			acc = collectNumbers(e, acc)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			acc = collectNumbers(t[k], acc)
		}
	}
	return acc
}
