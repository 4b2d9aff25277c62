package privacy

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

// Purpose is what a data subject consents to.
type Purpose string

const (
	PurposeEducationalRecords Purpose = "educational_records"
	PurposeCommunications     Purpose = "communications"
)

var Purposes = []Purpose{PurposeEducationalRecords, PurposeCommunications}

func (p Purpose) IsValid() bool {
	switch p {
	case PurposeEducationalRecords, PurposeCommunications:
		return true
	}
	return false
}

type Consent struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Purpose   Purpose    `json:"purpose"`
	GrantedAt time.Time  `json:"granted_at"` // UTC
	RevokedAt *time.Time `json:"revoked_at"` // UTC
}

func (c Consent) Active() bool {
	return c.RevokedAt == nil
}

// ConsentChange grants or revokes the consent of the request user for Purpose.
type ConsentChange struct {
	Purpose Purpose `json:"purpose" validate:"required,purpose"`
	Granted *bool   `json:"granted" validate:"required"`
}

func (cc *ConsentChange) Validate(validate *validator.Validate) error {
	return validate.Struct(cc)
}

type (
	ConsentRepository interface {
		// SaveConsent inserts the consent or replaces the (user, purpose) one.
		SaveConsent(ctx context.Context, c Consent, exec ...core.DBExecutor) (Consent, error)
		GetConsent(ctx context.Context, userID string, purpose Purpose, exec ...core.DBExecutor) (Consent, error)
		// QueryConsents returns the consents of users; all purposes if purpose is empty.
		QueryConsents(ctx context.Context, userIDs []string, purpose Purpose, exec ...core.DBExecutor) ([]Consent, error)
	}

	ConsentService interface {
		Grant(ctx context.Context, userID string, purpose Purpose) (Consent, error)
		Revoke(ctx context.Context, userID string, purpose Purpose) (Consent, error)
		ForUser(ctx context.Context, userID string) ([]Consent, error)
		// AllGranted reports whether every user has an active consent for purpose.
		AllGranted(ctx context.Context, userIDs []string, purpose Purpose, exec ...core.DBExecutor) (bool, error)
	}

	consentService struct {
		repo    ConsentRepository
		nowFunc func() time.Time
	}
)

var ErrConsentNotFound = core.NewError(core.CodeNotFound, "consent not found")

func NewConsentService(repo ConsentRepository) ConsentService {
	return &consentService{repo: repo, nowFunc: time.Now}
}

func (svc *consentService) Grant(ctx context.Context, userID string, purpose Purpose) (Consent, error) {
	if !purpose.IsValid() {
		return Consent{}, core.NewValidationError(nil, core.FieldError{Field: "purpose", Error: "invalid purpose"})
	}
	c := Consent{
		ID:        uuid.New().String(),
		UserID:    userID,
		Purpose:   purpose,
		GrantedAt: svc.nowFunc().UTC(),
	}
	if existing, err := svc.repo.GetConsent(ctx, userID, purpose); err == nil {
		c.ID = existing.ID
	} else if errors.Cause(err) != ErrConsentNotFound {
		return Consent{}, errors.Wrap(err, "finding consent")
	}

	c, err := svc.repo.SaveConsent(ctx, c)
	return c, errors.Wrap(err, "saving consent")
}

func (svc *consentService) Revoke(ctx context.Context, userID string, purpose Purpose) (Consent, error) {
	if !purpose.IsValid() {
		return Consent{}, core.NewValidationError(nil, core.FieldError{Field: "purpose", Error: "invalid purpose"})
	}
	c, err := svc.repo.GetConsent(ctx, userID, purpose)
	if err != nil {
		return Consent{}, err
	}
	if !c.Active() {
		return c, nil
	}
	now := svc.nowFunc().UTC()
	c.RevokedAt = &now
	c, err = svc.repo.SaveConsent(ctx, c)
	return c, errors.Wrap(err, "saving consent")
}

func (svc *consentService) ForUser(ctx context.Context, userID string) ([]Consent, error) {
	return svc.repo.QueryConsents(ctx, []string{userID}, "")
}

func (svc *consentService) AllGranted(ctx context.Context, userIDs []string, purpose Purpose, exec ...core.DBExecutor) (bool, error) {
	userIDs = core.UniqueStrings(userIDs)
	if len(userIDs) == 0 {
		return false, nil
	}
	consents, err := svc.repo.QueryConsents(ctx, userIDs, purpose, exec...)
	if err != nil {
		return false, errors.Wrap(err, "querying consents")
	}
	granted := make(map[string]bool, len(consents))
	for _, c := range consents {
		if c.Active() {
			granted[c.UserID] = true
		}
	}
	for _, id := range userIDs {
		if !granted[id] {
			return false, nil
		}
	}
	return true, nil
}
