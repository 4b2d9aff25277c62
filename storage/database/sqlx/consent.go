package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/privacy"
)

type consentRow struct {
	ID        string       `db:"id"`
	UserID    string       `db:"user_id"`
	Purpose   string       `db:"purpose"`
	GrantedAt time.Time    `db:"granted_at"`
	RevokedAt sql.NullTime `db:"revoked_at"`
}

func (r consentRow) unboil() privacy.Consent {
	c := privacy.Consent{
		ID:        r.ID,
		UserID:    r.UserID,
		Purpose:   privacy.Purpose(r.Purpose),
		GrantedAt: r.GrantedAt.UTC(),
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time.UTC()
		c.RevokedAt = &t
	}
	return c
}

type consentRepository struct {
	executor
}

var _ privacy.ConsentRepository = (*consentRepository)(nil) // interface compliance check

func NewConsentRepository(db *sqlx.DB) *consentRepository {
	return &consentRepository{executor{db: db}}
}

func (repo consentRepository) SaveConsent(ctx context.Context, c privacy.Consent, exec ...core.DBExecutor) (privacy.Consent, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	var revokedAt sql.NullTime
	if c.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: c.RevokedAt.UTC(), Valid: true}
	}

	q := psql.Insert("consent").
		Columns("id", "user_id", "purpose", "granted_at", "revoked_at").
		Values(c.ID, c.UserID, string(c.Purpose), c.GrantedAt.UTC(), revokedAt).
		Suffix(`ON CONFLICT (user_id, purpose) DO UPDATE SET granted_at = EXCLUDED.granted_at, revoked_at = EXCLUDED.revoked_at
			RETURNING id, user_id, purpose, granted_at, revoked_at`)

	var r consentRow
	if err := repo.getContext(ctx, exec, &r, q); err != nil {
		return privacy.Consent{}, errors.Wrap(err, "saving consent")
	}
	return r.unboil(), nil
}

func (repo consentRepository) GetConsent(ctx context.Context, userID string, purpose privacy.Purpose, exec ...core.DBExecutor) (privacy.Consent, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return privacy.Consent{}, privacy.ErrConsentNotFound
	}
	q := psql.Select("id", "user_id", "purpose", "granted_at", "revoked_at").
		From("consent").
		Where(sq.Eq{"user_id": userID, "purpose": string(purpose)})

	var r consentRow
	if err := repo.getContext(ctx, exec, &r, q); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return privacy.Consent{}, privacy.ErrConsentNotFound
		}
		return privacy.Consent{}, errors.Wrap(err, "finding consent")
	}
	return r.unboil(), nil
}

func (repo consentRepository) QueryConsents(ctx context.Context, userIDs []string, purpose privacy.Purpose, exec ...core.DBExecutor) ([]privacy.Consent, error) {
	valid := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []privacy.Consent{}, nil
	}

	q := psql.Select("id", "user_id", "purpose", "granted_at", "revoked_at").
		From("consent").
		Where(sq.Eq{"user_id": valid}).
		OrderBy("granted_at ASC", "id ASC")
	if purpose != "" {
		q = q.Where(sq.Eq{"purpose": string(purpose)})
	}

	var rows []consentRow
	if err := repo.selectContext(ctx, exec, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying consents")
	}
	consents := make([]privacy.Consent, 0, len(rows))
	for _, r := range rows {
		consents = append(consents, r.unboil())
	}
	return consents, nil
}
