package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"procedure-assistant-be/pkg/embedding"
)

const (
	defaultEmbeddingURL   = "https://api.jina.ai/v1/embeddings"
	defaultEmbeddingModel = "jina-embeddings-v2-base-en"
)

type apiClient struct {
	apiKey string
	client *http.Client
}

type JinaProvider struct {
	apiClient
	baseURL string
	model   string
}

var _ embedding.Embedder = (*JinaProvider)(nil)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewJinaProvider(apiKey string) *JinaProvider {
	return &JinaProvider{
		apiClient: apiClient{apiKey: apiKey, client: &http.Client{}},
		baseURL:   defaultEmbeddingURL,
		model:     defaultEmbeddingModel,
	}
}

func (p *JinaProvider) ModelID() string {
	return "jina/" + p.model
}

func (p *JinaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonData, err := json.Marshal(embeddingRequest{
		Model: p.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	bodyBytes, err := p.post(ctx, p.baseURL, jsonData)
	if err != nil {
		return nil, err
	}

	var jinaResp embeddingResponse
	if err := json.Unmarshal(bodyBytes, &jinaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if jinaResp.Error != nil {
		return nil, fmt.Errorf("jina api returned error: %s", jinaResp.Error.Message)
	}

	if len(jinaResp.Data) == 0 {
		return nil, fmt.Errorf("empty embeddings from jina api")
	}

	return jinaResp.Data[0].Embedding, nil
}

func (p *apiClient) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jina api error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}
