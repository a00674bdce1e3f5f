package dto

import "time"

type RoutingCacheStatusResponse struct {
	Loaded          bool       `json:"loaded"`
	Path            string     `json:"path"`
	EmbeddingModel  string     `json:"embedding_model"`
	Version         int        `json:"version,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	Dimension       int        `json:"dimension,omitempty"`
	CollectionCount int        `json:"collection_count"`
	DocumentCount   int        `json:"document_count"`
	QuestionCount   int        `json:"question_count"`
	Excluded        []string   `json:"excluded,omitempty"`
	Error           string     `json:"error,omitempty"`
}

type RebuildRoutingCacheResponse struct {
	RequestId string `json:"request_id"`
	Status    string `json:"status"`
}

type RoutingAuditSummaryResponse struct {
	Since          time.Time      `json:"since"`
	Total          int            `json:"total"`
	Answers        int            `json:"answers"`
	Clarifications int            `json:"clarifications"`
	Overridden     int            `json:"overridden"`
	Degraded       int            `json:"degraded"`
	ByConfidence   map[string]int `json:"by_confidence"`
}
