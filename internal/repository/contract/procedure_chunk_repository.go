package contract

import (
	"context"

	"procedure-assistant-be/pkg/routing/consensus"

	"github.com/google/uuid"
)

type ChunkInput struct {
	Content string
	Vector  []float32
}

type ProcedureChunkRepository interface {
	ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []ChunkInput) error
	// SearchSimilar returns chunks ordered by cosine similarity. A nil documentID searches everything.
	SearchSimilar(ctx context.Context, vector []float32, limit int, documentID *uuid.UUID) ([]consensus.Chunk, error)
}
