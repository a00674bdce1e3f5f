package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"procedure-assistant-be/pkg/routing/consensus"
)

const (
	defaultRerankURL   = "https://api.jina.ai/v1/rerank"
	defaultRerankModel = "jina-reranker-v2-base-multilingual"
)

// JinaReranker is a cross-encoder reranker over the Jina rerank API.
type JinaReranker struct {
	apiClient
	baseURL string
	model   string
}

var _ consensus.Reranker = (*JinaReranker)(nil)

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewJinaReranker(apiKey string) *JinaReranker {
	return &JinaReranker{
		apiClient: apiClient{apiKey: apiKey, client: &http.Client{}},
		baseURL:   defaultRerankURL,
		model:     defaultRerankModel,
	}
}

func (r *JinaReranker) Rerank(ctx context.Context, query string, candidates []consensus.Chunk) ([]consensus.Chunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}
	jsonData, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: docs,
		TopN:      len(docs),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	bodyBytes, err := r.post(ctx, r.baseURL, jsonData)
	if err != nil {
		return nil, err
	}

	var jinaResp rerankResponse
	if err := json.Unmarshal(bodyBytes, &jinaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if jinaResp.Error != nil {
		return nil, fmt.Errorf("jina api returned error: %s", jinaResp.Error.Message)
	}

	out := make([]consensus.Chunk, 0, len(jinaResp.Results))
	for _, res := range jinaResp.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("jina api returned out of range index %d", res.Index)
		}
		c := candidates[res.Index]
		c.Score = res.RelevanceScore
		out = append(out, c)
	}
	return out, nil
}
