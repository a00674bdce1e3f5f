package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/routing/router"
)

const module = "CONSENSUS"

const (
	DegradedRerankTimeout = "rerank_timeout"
	DegradedRerankFailed  = "rerank_failed"
)

var ErrNoContent = errors.New("no content chunks matched the query")

// Chunk is one piece of procedure content returned by search or rerank.
type Chunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Score      float64                `json:"score"`
}

type Filter struct {
	DocumentID string
}

// ContentSearcher returns chunks best first. A nil filter searches everything.
type ContentSearcher interface {
	Search(ctx context.Context, query string, k int, filter *Filter) ([]Chunk, error)
}

// Reranker reorders candidates best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Chunk) ([]Chunk, error)
}

type Config struct {
	TrustThreshold float64
	CandidateK     int
	ContextSize    int
	RerankTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		TrustThreshold: 0.85,
		CandidateK:     20,
		ContextSize:    4,
		RerankTimeout:  3 * time.Second,
	}
}

type Result struct {
	Selected     Chunk   `json:"selected"`
	Context      []Chunk `json:"context"`
	TrustApplied bool    `json:"trust_applied"`
	Degraded     string  `json:"degraded,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

type Adapter struct {
	searcher ContentSearcher
	reranker Reranker
	cfg      Config
	logger   logger.ILogger
}

// NewAdapter builds the adapter. reranker may be nil, in which case search order is used.
func NewAdapter(searcher ContentSearcher, reranker Reranker, cfg Config, log logger.ILogger) *Adapter {
	def := DefaultConfig()
	if cfg.TrustThreshold <= 0 {
		cfg.TrustThreshold = def.TrustThreshold
	}
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = def.CandidateK
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = def.ContextSize
	}
	if cfg.RerankTimeout <= 0 {
		cfg.RerankTimeout = def.RerankTimeout
	}
	return &Adapter{searcher: searcher, reranker: reranker, cfg: cfg, logger: log}
}

// Select picks the chunk the answer is grounded on for a terminal decision.
func (a *Adapter) Select(ctx context.Context, query string, d *router.Decision) (*Result, error) {
	candidates, err := a.searcher.Search(ctx, query, a.cfg.CandidateK, nil)
	if err != nil {
		return nil, fmt.Errorf("content search failed: %w", err)
	}

	ranked, degraded, err := a.rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	result := &Result{Degraded: degraded}

	if a.trusts(d, degraded) {
		pool := onlyDocument(ranked, d.DocumentID)
		if len(pool) == 0 {
			pool = a.searchDocument(ctx, query, d.DocumentID)
		}
		if len(pool) > 0 {
			result.TrustApplied = true
			a.fill(result, pool)
			a.logSelection(d, result)
			return result, nil
		}
		result.Reason = fmt.Sprintf("document %s has no matching chunks, using unfiltered top result", d.DocumentID)
		a.logger.Warn(module, "Router trust found no chunks in target document", map[string]interface{}{
			"document_id": d.DocumentID,
		})
	}

	if len(ranked) == 0 {
		return nil, ErrNoContent
	}
	a.fill(result, ranked)
	a.logSelection(d, result)
	return result, nil
}

// trusts reports whether the routing decision may constrain chunk ranking.
// Overridden decisions are never trusted.
func (a *Adapter) trusts(d *router.Decision, degraded string) bool {
	if d == nil || d.DocumentID == "" || d.WasOverridden {
		return false
	}
	level := d.Level
	if degraded == DegradedRerankTimeout {
		level = level.Lower()
	}
	return d.Score > a.cfg.TrustThreshold && level == confidence.High
}

func (a *Adapter) rerank(ctx context.Context, query string, candidates []Chunk) ([]Chunk, string, error) {
	if a.reranker == nil || len(candidates) < 2 {
		return candidates, "", nil
	}

	rctx, cancel := context.WithTimeout(ctx, a.cfg.RerankTimeout)
	defer cancel()

	ranked, err := a.reranker.Rerank(rctx, query, candidates)
	if err == nil {
		return ranked, "", nil
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}

	degraded := DegradedRerankFailed
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded) {
		degraded = DegradedRerankTimeout
	}
	a.logger.Warn(module, "Rerank failed, using search order", map[string]interface{}{
		"degraded": degraded,
		"error":    err.Error(),
	})
	return candidates, degraded, nil
}

func (a *Adapter) searchDocument(ctx context.Context, query, documentID string) []Chunk {
	chunks, err := a.searcher.Search(ctx, query, a.cfg.CandidateK, &Filter{DocumentID: documentID})
	if err != nil {
		a.logger.Warn(module, "Document filtered search failed", map[string]interface{}{
			"document_id": documentID,
			"error":       err.Error(),
		})
		return nil
	}
	return onlyDocument(chunks, documentID)
}

func (a *Adapter) fill(result *Result, pool []Chunk) {
	result.Selected = pool[0]
	n := a.cfg.ContextSize
	if n > len(pool) {
		n = len(pool)
	}
	result.Context = append([]Chunk(nil), pool[:n]...)
}

func (a *Adapter) logSelection(d *router.Decision, result *Result) {
	details := map[string]interface{}{
		"chunk_id":          result.Selected.ID,
		"chunk_document_id": result.Selected.DocumentID,
		"trust_applied":     result.TrustApplied,
		"context_size":      len(result.Context),
	}
	if d != nil {
		details["document_id"] = d.DocumentID
		details["score"] = d.Score
	}
	if result.Degraded != "" {
		details["degraded"] = result.Degraded
	}
	a.logger.Debug(module, "Selected content chunk", details)
}

func onlyDocument(chunks []Chunk, documentID string) []Chunk {
	var out []Chunk
	for _, c := range chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out
}
