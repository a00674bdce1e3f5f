package implementation

import (
	"context"

	"procedure-assistant-be/internal/mapper"
	"procedure-assistant-be/internal/model"
	"procedure-assistant-be/internal/repository/contract"
	"procedure-assistant-be/pkg/routing/consensus"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type ProcedureChunkRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ProcedureMapper
}

func NewProcedureChunkRepository(db *gorm.DB) contract.ProcedureChunkRepository {
	return &ProcedureChunkRepositoryImpl{
		db:     db,
		mapper: mapper.NewProcedureMapper(),
	}
}

// ReplaceForDocument hard deletes the document's chunks and inserts the new set.
func (r *ProcedureChunkRepositoryImpl) ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []contract.ChunkInput) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("document_id = ?", documentID).Delete(&model.ProcedureChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]*model.ProcedureChunk, len(chunks))
		for i, c := range chunks {
			models[i] = r.mapper.ToChunkModel(documentID, i, c.Content, c.Vector)
		}
		return tx.Create(models).Error
	})
}

func (r *ProcedureChunkRepositoryImpl) SearchSimilar(ctx context.Context, vector []float32, limit int, documentID *uuid.UUID) ([]consensus.Chunk, error) {
	if limit <= 0 {
		limit = 10
	}

	// pgvector cosine distance is 1 - cosine similarity
	type result struct {
		model.ProcedureChunk
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(vector)
	query := r.db.WithContext(ctx).
		Table("procedure_chunks").
		Select("procedure_chunks.*, 1 - (embedding_value <=> ?) as similarity", queryVector).
		Joins("JOIN procedure_documents ON procedure_documents.id = procedure_chunks.document_id").
		Where("procedure_chunks.deleted_at IS NULL").
		Where("procedure_documents.deleted_at IS NULL").
		Where("procedure_documents.is_published = ?", true)
	if documentID != nil {
		query = query.Where("procedure_chunks.document_id = ?", *documentID)
	}

	err := query.
		Order("similarity DESC").
		Order("procedure_chunks.chunk_index ASC").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	chunks := make([]consensus.Chunk, len(results))
	for i := range results {
		chunks[i] = r.mapper.ToChunk(&results[i].ProcedureChunk, results[i].Similarity)
	}
	return chunks, nil
}
