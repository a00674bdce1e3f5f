package specification

import "gorm.io/gorm"

// Published keeps only documents that are visible to routing.
type Published struct{}

func (s Published) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("is_published = ?", true)
}

// InPosition orders by the curated position, then creation time for stable ties.
type InPosition struct{}

func (s InPosition) Apply(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC").Order("created_at ASC")
}
