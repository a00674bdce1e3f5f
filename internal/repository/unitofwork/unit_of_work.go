package unitofwork

import (
	"context"

	"procedure-assistant-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	// BeginSnapshot opens a read-only repeatable-read transaction.
	BeginSnapshot(ctx context.Context) error
	Commit() error
	Rollback() error

	ProcedureRepository() contract.ProcedureRepository
	ProcedureChunkRepository() contract.ProcedureChunkRepository
}
