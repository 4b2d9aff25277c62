package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/privacy"
)

type consentRepository struct {
	db *DB
}

var _ privacy.ConsentRepository = (*consentRepository)(nil) // interface compliance check

func NewConsentRepository(db *DB) privacy.ConsentRepository {
	return &consentRepository{db: db}
}

func (repo *consentRepository) SaveConsent(ctx context.Context, c privacy.Consent, exec ...core.DBExecutor) (privacy.Consent, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.consents[consentKey{userID: c.UserID, purpose: c.Purpose}] = c
	return c, nil
}

func (repo *consentRepository) GetConsent(ctx context.Context, userID string, purpose privacy.Purpose, exec ...core.DBExecutor) (privacy.Consent, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if c, ok := repo.db.consents[consentKey{userID: userID, purpose: purpose}]; ok {
		return c, nil
	}
	return privacy.Consent{}, privacy.ErrConsentNotFound
}

func (repo *consentRepository) QueryConsents(ctx context.Context, userIDs []string, purpose privacy.Purpose, exec ...core.DBExecutor) ([]privacy.Consent, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}
	consents := make([]privacy.Consent, 0)
	for key, c := range repo.db.consents {
		if wanted[key.userID] && (purpose == "" || key.purpose == purpose) {
			consents = append(consents, c)
		}
	}
	sort.Slice(consents, func(i, j int) bool {
		if consents[i].UserID != consents[j].UserID {
			return consents[i].UserID < consents[j].UserID
		}
		return consents[i].Purpose < consents[j].Purpose
	})
	return consents, nil
}
