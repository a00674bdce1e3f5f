package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProcedureChunk struct {
	Id             uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DocumentId     uuid.UUID         `gorm:"type:uuid;not null;index"`
	ChunkIndex     int               `gorm:"default:0"`
	Content        string            `gorm:"type:text"`
	EmbeddingValue pgvector.Vector   `gorm:"type:vector(768)"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime"`
	DeletedAt      gorm.DeletedAt    `gorm:"index"`
}

func (ProcedureChunk) TableName() string {
	return "procedure_chunks"
}
