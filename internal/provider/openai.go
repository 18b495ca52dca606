// Package provider implements OpenAI-compatible HTTP clients for the
// embed, rerank, and chat capability interfaces the retrieval core
// depends on.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liliang-cn/memo/internal/retrieval"
)

// normalizeWhitespace trims and collapses internal whitespace runs to a
// single space, grounded on the original embed provider's
// normalize_for_embedding.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ResolvedService is one provider endpoint resolved for a single
// capability (embed, rerank or chat): API key, model and base URL. The core
// never sees it; callers build one per capability before constructing a
// client.
type ResolvedService struct {
	APIKey  string
	Model   string
	BaseURL string
}

// EmbedClient talks to an OpenAI-compatible /embeddings endpoint.
type EmbedClient struct {
	http      *http.Client
	svc       ResolvedService
	dimension int
}

func NewEmbedClient(svc ResolvedService, dimension int) *EmbedClient {
	return &EmbedClient{
		http:      &http.Client{Timeout: 30 * time.Second},
		svc:       svc,
		dimension: dimension,
	}
}

func (c *EmbedClient) Dimension() int { return c.dimension }

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *EmbedClient) Encode(ctx context.Context, text string) ([]float32, error) {
	body := embedRequest{Model: c.svc.Model, Input: []string{normalizeWhitespace(text)}, Dimensions: c.dimension}

	var out embedResponse
	if err := c.post(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("embed response contained no data")
	}
	return out.Data[0].Embedding, nil
}

// RerankClient talks to an OpenAI-compatible /rerank endpoint.
type RerankClient struct {
	http *http.Client
	svc  ResolvedService
}

func NewRerankClient(svc ResolvedService) *RerankClient {
	return &RerankClient{http: &http.Client{Timeout: 60 * time.Second}, svc: svc}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      *int     `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *RerankClient) Rerank(ctx context.Context, query string, documents []string, topN *int) ([]retrieval.RerankPair, error) {
	body := rerankRequest{Model: c.svc.Model, Query: query, Documents: documents, TopN: topN}

	var out rerankResponse
	if err := doPost(ctx, c.http, c.svc, "/rerank", body, &out); err != nil {
		return nil, err
	}

	pairs := make([]retrieval.RerankPair, len(out.Results))
	for i, r := range out.Results {
		pairs[i] = retrieval.RerankPair{Index: r.Index, Score: r.RelevanceScore}
	}
	return pairs, nil
}

// ChatClient talks to an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	http        *http.Client
	svc         ResolvedService
	temperature float64
}

func NewChatClient(svc ResolvedService) *ChatClient {
	return &ChatClient{http: &http.Client{Timeout: 60 * time.Second}, svc: svc, temperature: 0.1}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *ChatClient) Chat(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model:       c.svc.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	}

	var out chatResponse
	if err := doPost(ctx, c.http, c.svc, "/chat/completions", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *EmbedClient) post(ctx context.Context, path string, body, out any) error {
	return doPost(ctx, c.http, c.svc, path, body, out)
}

func doPost(ctx context.Context, client *http.Client, svc ResolvedService, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+svc.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider API error (%d): %s", resp.StatusCode, string(text))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
