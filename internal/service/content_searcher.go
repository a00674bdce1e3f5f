package service

import (
	"context"
	"fmt"
	"time"

	"procedure-assistant-be/internal/repository/unitofwork"
	"procedure-assistant-be/pkg/embedding"
	"procedure-assistant-be/pkg/routing/consensus"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// chunkSearcher serves consensus.ContentSearcher from the pgvector chunk table.
// Query vectors are memoized briefly because one selection may search twice.
type chunkSearcher struct {
	uowFactory unitofwork.RepositoryFactory
	embedder   embedding.Embedder
	vectors    *gocache.Cache
}

func NewChunkSearcher(uowFactory unitofwork.RepositoryFactory, embedder embedding.Embedder) consensus.ContentSearcher {
	return &chunkSearcher{
		uowFactory: uowFactory,
		embedder:   embedder,
		vectors:    gocache.New(2*time.Minute, 5*time.Minute),
	}
}

func (s *chunkSearcher) Search(ctx context.Context, query string, k int, filter *consensus.Filter) ([]consensus.Chunk, error) {
	var documentID *uuid.UUID
	if filter != nil && filter.DocumentID != "" {
		id, err := uuid.Parse(filter.DocumentID)
		if err != nil {
			return nil, nil
		}
		documentID = &id
	}

	vec, err := s.vector(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.uowFactory.NewUnitOfWork(ctx).ProcedureChunkRepository().SearchSimilar(ctx, vec, k, documentID)
}

func (s *chunkSearcher) vector(ctx context.Context, query string) ([]float32, error) {
	if cached, ok := s.vectors.Get(query); ok {
		return cached.([]float32), nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed search query: %w", err)
	}
	s.vectors.SetDefault(query, vec)
	return vec, nil
}
