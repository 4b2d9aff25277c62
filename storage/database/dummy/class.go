package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/classroom"
)

type classRepository struct {
	db *DB
}

var _ classroom.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *DB) classroom.Repository {
	return &classRepository{db: db}
}

func (repo *classRepository) CreateClass(ctx context.Context, cls classroom.Class, exec ...core.DBExecutor) (classroom.Class, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if cls.ID == "" {
		cls.ID = uuid.New().String()
	}
	repo.db.classes[cls.ID] = cls
	return cls, nil
}

func (repo *classRepository) GetClass(ctx context.Context, id string, exec ...core.DBExecutor) (classroom.Class, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if cls, ok := repo.db.classes[id]; ok {
		return cls, nil
	}
	return classroom.Class{}, classroom.ErrNotFound
}

func (repo *classRepository) QueryClasses(ctx context.Context, filter classroom.QueryFilter, exec ...core.DBExecutor) ([]classroom.Class, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	classes := make([]classroom.Class, 0, len(repo.db.classes))
	for _, cls := range repo.db.classes {
		if filter.CampusID == "" || cls.CampusID == filter.CampusID {
			classes = append(classes, cls)
		}
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}
