package contract

import (
	"context"

	"procedure-assistant-be/internal/repository/specification"
	"procedure-assistant-be/pkg/store"
)

// ProcedureRepository reads and writes collections and their procedure documents.
type ProcedureRepository interface {
	ListCollections(ctx context.Context) ([]store.Collection, error)
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	FindDocuments(ctx context.Context, specs ...specification.Specification) ([]*store.Document, error)

	CreateCollection(ctx context.Context, name string, position int) (string, error)
	CreateDocument(ctx context.Context, doc *store.Document, body string, position int) error
}
