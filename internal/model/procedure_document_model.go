package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProcedureDocument struct {
	Id               uuid.UUID                   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CollectionId     uuid.UUID                   `gorm:"type:uuid;not null;index"`
	Title            string                      `gorm:"type:varchar(255);not null"`
	MainQuestion     string                      `gorm:"type:text;not null"`
	VariantQuestions datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Body             string                      `gorm:"type:text"`
	Metadata         datatypes.JSONMap           `gorm:"type:jsonb"` // fee, timing, agency...
	Position         int                         `gorm:"default:0"`
	IsPublished      bool                        `gorm:"default:true"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime"`
	DeletedAt        gorm.DeletedAt              `gorm:"index"`
}

func (ProcedureDocument) TableName() string {
	return "procedure_documents"
}
