// Package embedding turns free text into fixed-width vectors for item search.
// It prefers an OpenAI-compatible /embeddings endpoint and falls back to a
// deterministic local hash embedding so search keeps working without a key.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_+\-]+`)

// Client embeds texts, remotely when configured and locally otherwise.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	dim     int
	http    *http.Client
}

// NewClient builds an embedding client. An empty apiKey means local-only.
func NewClient(apiKey, baseURL, model string, dim int) *Client {
	if dim <= 0 {
		dim = 1024
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dim:     dim,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Dim returns the vector width this client produces in local mode.
func (c *Client) Dim() int { return c.dim }

// Embed returns one vector per input text. Remote failures fall back to the
// local hash embedding so callers never see a hard error for embedding alone.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, string, error) {
	if len(texts) == 0 {
		return nil, "local", nil
	}
	if c.apiKey != "" {
		if vecs, err := c.embedRemote(ctx, texts); err == nil && len(vecs) == len(texts) {
			return vecs, c.model, nil
		}
	}
	return c.embedLocal(texts), "local-hash", nil
}

func (c *Client) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]interface{}{
		"model": c.model,
		"input": texts,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings http %d", resp.StatusCode)
	}
	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embeddings error: %s", parsed.Error.Message)
	}
	out := make([][]float32, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out = append(out, vec)
	}
	return out, nil
}

// embedLocal hashes each token into a bucket of the output vector. The same
// text always maps to the same vector, which is all search needs offline.
func (c *Client) embedLocal(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for ti, text := range texts {
		vec := make([]float32, c.dim)
		for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
			sum := sha256.Sum256([]byte(tok))
			bucket := int(binary.BigEndian.Uint32(sum[:4])) % c.dim
			if bucket < 0 {
				bucket += c.dim
			}
			sign := float32(1)
			if sum[4]&1 == 1 {
				sign = -1
			}
			vec[bucket] += sign
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			inv := float32(1 / math.Sqrt(norm))
			for i := range vec {
				vec[i] *= inv
			}
		}
		out[ti] = vec
	}
	return out
}
