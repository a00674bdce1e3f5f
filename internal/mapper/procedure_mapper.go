package mapper

import (
	"procedure-assistant-be/internal/model"
	"procedure-assistant-be/pkg/routing/consensus"
	"procedure-assistant-be/pkg/store"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type ProcedureMapper struct{}

func NewProcedureMapper() *ProcedureMapper {
	return &ProcedureMapper{}
}

func (m *ProcedureMapper) ToCollection(c *model.Collection, documentIDs []string) store.Collection {
	return store.Collection{
		ID:          c.Id.String(),
		Name:        c.Name,
		DocumentIDs: documentIDs,
	}
}

func (m *ProcedureMapper) ToDocument(d *model.ProcedureDocument) *store.Document {
	if d == nil {
		return nil
	}
	return &store.Document{
		ID:           d.Id.String(),
		CollectionID: d.CollectionId.String(),
		Title:        d.Title,
		MainQuestion: d.MainQuestion,
		Variants:     append([]string(nil), d.VariantQuestions...),
		Metadata:     map[string]interface{}(d.Metadata),
	}
}

func (m *ProcedureMapper) ToDocumentModel(d *store.Document, body string, position int) (*model.ProcedureDocument, error) {
	collectionID, err := uuid.Parse(d.CollectionID)
	if err != nil {
		return nil, err
	}
	out := &model.ProcedureDocument{
		CollectionId:     collectionID,
		Title:            d.Title,
		MainQuestion:     d.MainQuestion,
		VariantQuestions: datatypes.JSONSlice[string](d.Variants),
		Body:             body,
		Metadata:         datatypes.JSONMap(d.Metadata),
		Position:         position,
		IsPublished:      true,
	}
	if d.ID != "" {
		if out.Id, err = uuid.Parse(d.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *ProcedureMapper) ToChunk(c *model.ProcedureChunk, score float64) consensus.Chunk {
	metadata := map[string]interface{}(c.Metadata)
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["chunk_index"] = c.ChunkIndex
	return consensus.Chunk{
		ID:         c.Id.String(),
		DocumentID: c.DocumentId.String(),
		Content:    c.Content,
		Metadata:   metadata,
		Score:      score,
	}
}

func (m *ProcedureMapper) ToChunkModel(documentID uuid.UUID, index int, content string, vector []float32) *model.ProcedureChunk {
	return &model.ProcedureChunk{
		DocumentId:     documentID,
		ChunkIndex:     index,
		Content:        content,
		EmbeddingValue: pgvector.NewVector(vector),
	}
}
