package service

import (
	"context"
	"fmt"

	"procedure-assistant-be/internal/repository/specification"
	"procedure-assistant-be/internal/repository/unitofwork"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/store"
)

// ProcedureSnapshot is every collection and published document read inside one
// repeatable-read transaction, so a cache rebuild never mixes two catalog versions.
type ProcedureSnapshot struct {
	collections []store.Collection
	documents   map[string]*store.Document
}

var _ cache.DocumentSource = (*ProcedureSnapshot)(nil)

func LoadProcedureSnapshot(ctx context.Context, uowFactory unitofwork.RepositoryFactory) (*ProcedureSnapshot, error) {
	uow := uowFactory.NewUnitOfWork(ctx)
	if err := uow.BeginSnapshot(ctx); err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer uow.Rollback()

	repo := uow.ProcedureRepository()
	collections, err := repo.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	docs, err := repo.FindDocuments(ctx, specification.Published{}, specification.InPosition{})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	snap := &ProcedureSnapshot{
		collections: collections,
		documents:   make(map[string]*store.Document, len(docs)),
	}
	for _, d := range docs {
		snap.documents[d.ID] = d
	}
	return snap, nil
}

func (p *ProcedureSnapshot) ListCollections(ctx context.Context) ([]store.Collection, error) {
	out := make([]store.Collection, len(p.collections))
	copy(out, p.collections)
	return out, nil
}

func (p *ProcedureSnapshot) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	d, ok := p.documents[id]
	if !ok {
		return nil, nil
	}
	clone := *d
	return &clone, nil
}

func (p *ProcedureSnapshot) DocumentCount() int {
	return len(p.documents)
}
