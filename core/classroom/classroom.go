package classroom

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var ErrNotFound = core.NewError(core.CodeNotFound, "class not found")

// Class is the tenant scope of messages; classes belong to a campus.
type Class struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CampusID  string    `json:"campus_id"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

type NewClass struct {
	Name     string `json:"name" validate:"required,notblank"`
	CampusID string `json:"campus_id" validate:"required,notblank"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.CampusID = core.CleanString(nc.CampusID, true /* lower */)
	return validate.Struct(nc)
}

type QueryFilter struct {
	CampusID string `query:"campus_id"`
}

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class, exec ...core.DBExecutor) (Class, error)
		GetClass(ctx context.Context, id string, exec ...core.DBExecutor) (Class, error)
		QueryClasses(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Class, error)
	}

	Service interface {
		Create(ctx context.Context, nc NewClass) (Class, error)
		GetByID(ctx context.Context, id string) (Class, error)
		Query(ctx context.Context, filter QueryFilter) ([]Class, error)
	}

	service struct {
		repo Repository
	}
)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Create(ctx context.Context, nc NewClass) (Class, error) {
	cls, err := svc.repo.CreateClass(ctx, Class{
		Name:      nc.Name,
		CampusID:  nc.CampusID,
		CreatedAt: time.Now().UTC(),
	})
	return cls, errors.Wrap(err, "creating class")
}

func (svc *service) GetByID(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClass(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Class, error) {
	filter.CampusID = core.CleanString(filter.CampusID, true /* lower */)
	return svc.repo.QueryClasses(ctx, filter)
}
