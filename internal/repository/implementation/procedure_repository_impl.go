package implementation

import (
	"context"
	"errors"

	"procedure-assistant-be/internal/mapper"
	"procedure-assistant-be/internal/model"
	"procedure-assistant-be/internal/repository/contract"
	"procedure-assistant-be/internal/repository/specification"
	"procedure-assistant-be/pkg/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProcedureRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ProcedureMapper
}

func NewProcedureRepository(db *gorm.DB) contract.ProcedureRepository {
	return &ProcedureRepositoryImpl{
		db:     db,
		mapper: mapper.NewProcedureMapper(),
	}
}

func (r *ProcedureRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

// ListCollections returns every collection with its published document ids in curated order.
func (r *ProcedureRepositoryImpl) ListCollections(ctx context.Context) ([]store.Collection, error) {
	var collections []*model.Collection
	if err := (specification.InPosition{}).Apply(r.db.WithContext(ctx)).Find(&collections).Error; err != nil {
		return nil, err
	}

	var docs []*model.ProcedureDocument
	query := r.applySpecifications(r.db.WithContext(ctx).Select("id", "collection_id"),
		specification.Published{}, specification.InPosition{})
	if err := query.Find(&docs).Error; err != nil {
		return nil, err
	}

	byCollection := make(map[uuid.UUID][]string, len(collections))
	for _, d := range docs {
		byCollection[d.CollectionId] = append(byCollection[d.CollectionId], d.Id.String())
	}

	out := make([]store.Collection, len(collections))
	for i, c := range collections {
		out[i] = r.mapper.ToCollection(c, byCollection[c.Id])
	}
	return out, nil
}

// GetDocument returns (nil, nil) for unknown, unpublished or malformed ids.
func (r *ProcedureRepositoryImpl) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	docID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}

	var m model.ProcedureDocument
	query := r.applySpecifications(r.db.WithContext(ctx), specification.ByID{ID: docID}, specification.Published{})
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToDocument(&m), nil
}

func (r *ProcedureRepositoryImpl) FindDocuments(ctx context.Context, specs ...specification.Specification) ([]*store.Document, error) {
	var models []*model.ProcedureDocument
	if err := r.applySpecifications(r.db.WithContext(ctx), specs...).Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]*store.Document, len(models))
	for i, m := range models {
		docs[i] = r.mapper.ToDocument(m)
	}
	return docs, nil
}

func (r *ProcedureRepositoryImpl) CreateCollection(ctx context.Context, name string, position int) (string, error) {
	m := &model.Collection{Name: name, Position: position}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return "", err
	}
	return m.Id.String(), nil
}

func (r *ProcedureRepositoryImpl) CreateDocument(ctx context.Context, doc *store.Document, body string, position int) error {
	m, err := r.mapper.ToDocumentModel(doc, body, position)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	doc.ID = m.Id.String()
	return nil
}
