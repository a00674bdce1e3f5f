package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Specification narrows or orders a query. Repositories apply them in order.
type Specification interface {
	Apply(db *gorm.DB) *gorm.DB
}

type ByID struct {
	ID uuid.UUID
}

func (s ByID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("id = ?", s.ID)
}
