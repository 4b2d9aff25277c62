package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/message"
)

type riskCountRow struct {
	RiskLevel          string `db:"risk_level"`
	Total              int    `db:"total"`
	EducationalRecords int    `db:"educational_records"`
	Audited            int    `db:"audited"`
}

// statsRepository aggregates compliance counters in the database.
type statsRepository struct {
	executor
}

var _ message.StatsRepository = (*statsRepository)(nil) // interface compliance check

func NewStatsRepository(db *sqlx.DB) *statsRepository {
	return &statsRepository{executor{db: db}}
}

func (repo statsRepository) ComplianceStats(ctx context.Context, scope message.Scope, id string) (message.Stats, error) {
	stats := message.NewStats(scope, id)

	q := psql.Select(
		"m.risk_level",
		"COUNT(*) AS total",
		"COUNT(*) FILTER (WHERE m.is_educational_record) AS educational_records",
		"COUNT(*) FILTER (WHERE m.audit_required) AS audited",
	).From("message m").GroupBy("m.risk_level")

	switch scope {
	case message.ScopeClass:
		if _, err := uuid.Parse(id); err != nil {
			return stats, nil
		}
		q = q.Where(sq.Eq{"m.class_id": id})
	case message.ScopeCampus:
		q = q.Join("class c ON c.id = m.class_id").Where(sq.Eq{"c.campus_id": id})
	}

	var rows []riskCountRow
	if err := repo.selectContext(ctx, nil, &rows, q); err != nil {
		return message.Stats{}, errors.Wrap(err, "aggregating compliance stats")
	}
	for _, r := range rows {
		stats.Total += r.Total
		stats.ByRiskLevel[classifier.RiskLevel(r.RiskLevel)] += r.Total
		stats.EducationalRecords += r.EducationalRecords
		stats.Audited += r.Audited
	}
	return stats, nil
}
