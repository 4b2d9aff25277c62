package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/classroom"
)

var classColumns = []string{"id", "name", "campus_id", "created_at"}

type classRow struct {
	ID        string    `boil:"id"`
	Name      string    `boil:"name"`
	CampusID  string    `boil:"campus_id"`
	CreatedAt time.Time `boil:"created_at"`
}

func (r classRow) unboil() classroom.Class {
	return classroom.Class{ID: r.ID, Name: r.Name, CampusID: r.CampusID, CreatedAt: r.CreatedAt.UTC()}
}

type classRepository struct {
	executor
}

var _ classroom.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(exec core.DBExecutor) *classRepository {
	return &classRepository{executor{exec: exec}}
}

func (repo classRepository) CreateClass(ctx context.Context, cls classroom.Class, exec ...core.DBExecutor) (classroom.Class, error) {
	if cls.ID == "" {
		cls.ID = uuid.New().String()
	}
	cls.CreatedAt = cls.CreatedAt.UTC()
	err := insert(ctx, repo.getExec(exec), classTable, classColumns, cls.ID, cls.Name, cls.CampusID, cls.CreatedAt)
	if err != nil {
		return classroom.Class{}, errors.Wrap(err, "inserting class")
	}
	return cls, nil
}

func (repo classRepository) GetClass(ctx context.Context, id string, exec ...core.DBExecutor) (classroom.Class, error) {
	if _, err := uuid.Parse(id); err != nil {
		return classroom.Class{}, classroom.ErrNotFound
	}
	var r classRow
	if err := newQuery(classTable, qm.Where("id = ?", id)).Bind(ctx, repo.getExec(exec), &r); err != nil {
		return classroom.Class{}, trapNoRowsErr(err, classroom.ErrNotFound, "finding class")
	}
	return r.unboil(), nil
}

func (repo classRepository) QueryClasses(ctx context.Context, filter classroom.QueryFilter, exec ...core.DBExecutor) ([]classroom.Class, error) {
	mods := []qm.QueryMod{qm.OrderBy("name ASC, id ASC")}
	if filter.CampusID != "" {
		mods = append(mods, qm.Where("campus_id = ?", filter.CampusID))
	}

	var rows []classRow
	if err := newQuery(classTable, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]classroom.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.unboil())
	}
	return classes, nil
}
