package unitofwork

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"procedure-assistant-be/internal/repository/contract"
	"procedure-assistant-be/internal/repository/implementation"

	"gorm.io/gorm"
)

var (
	ErrTxStarted    = errors.New("transaction already started")
	ErrTxNotStarted = errors.New("no transaction in progress")
)

type unitOfWork struct {
	db *gorm.DB
	tx *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) UnitOfWork {
	return &unitOfWork{db: db}
}

func (u *unitOfWork) conn() *gorm.DB {
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	return u.begin(ctx, nil)
}

func (u *unitOfWork) BeginSnapshot(ctx context.Context) error {
	return u.begin(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

func (u *unitOfWork) begin(ctx context.Context, opts *sql.TxOptions) error {
	if u.tx != nil {
		return ErrTxStarted
	}
	var tx *gorm.DB
	if opts != nil {
		tx = u.db.WithContext(ctx).Begin(opts)
	} else {
		tx = u.db.WithContext(ctx).Begin()
	}
	if tx.Error != nil {
		return tx.Error
	}
	u.tx = tx
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return ErrTxNotStarted
	}
	err := u.tx.Commit().Error
	u.tx = nil
	return err
}

// Rollback is safe to defer after Commit; it then reports ErrTxNotStarted.
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return ErrTxNotStarted
	}
	err := u.tx.Rollback().Error
	u.tx = nil
	return err
}

func (u *unitOfWork) ProcedureRepository() contract.ProcedureRepository {
	return implementation.NewProcedureRepository(u.conn())
}

func (u *unitOfWork) ProcedureChunkRepository() contract.ProcedureChunkRepository {
	return implementation.NewProcedureChunkRepository(u.conn())
}

// InTransaction runs fn inside a read-write transaction, committing when fn
// returns nil and rolling back otherwise.
func InTransaction(ctx context.Context, f RepositoryFactory, fn func(uow UnitOfWork) error) error {
	uow := f.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}
