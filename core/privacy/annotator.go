// Package privacy resolves the legal basis, encryption and retention of classified messages.
package privacy

import (
	"context"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/user"
)

// RetentionTag drives how long a message is kept.
type RetentionTag string

const (
	RetentionSafeguarding      RetentionTag = "safeguarding"
	RetentionEducationalRecord RetentionTag = "educational_record"
	RetentionStandard          RetentionTag = "standard"
)

type (
	// Participants are the people a message is about and sent to.
	Participants struct {
		Sender     user.Participant
		Recipients []user.Participant
		// Wide is set for group, broadcast and public messages.
		Wide bool
	}

	// Annotation is the classifier Profile after legal basis resolution.
	Annotation struct {
		Profile            classifier.Profile `json:"profile"`
		RetentionTag       RetentionTag       `json:"retention_tag"`
		Purpose            Purpose            `json:"purpose,omitempty"`
		DisclosureRequired bool               `json:"disclosure_required"`
	}

	Annotator interface {
		Resolve(ctx context.Context, profile classifier.Profile, parts Participants, exec ...core.DBExecutor) (Annotation, error)
		// RecordDisclosure writes the `disclosed` audit entry of a persisted message, if its annotation requires one.
		RecordDisclosure(ctx context.Context, messageID string, parts Participants, ann Annotation, exec ...core.DBExecutor) error
	}

	annotator struct {
		consents ConsentService
		auditSvc audit.Service
	}
)

func NewAnnotator(consents ConsentService, auditSvc audit.Service) Annotator {
	return &annotator{consents: consents, auditSvc: auditSvc}
}

func (a *annotator) Resolve(ctx context.Context, profile classifier.Profile, parts Participants, exec ...core.DBExecutor) (Annotation, error) {
	ann := Annotation{Profile: profile, Purpose: purposeOf(profile)}
	p := &ann.Profile

	// explicit consent > legitimate interest > standard
	if ann.Purpose != "" {
		consented, err := a.consents.AllGranted(ctx, dataSubjects(parts), ann.Purpose, exec...)
		if err != nil {
			return Annotation{}, errors.Wrap(err, "checking consents")
		}
		if consented {
			p.LegalBasis = classifier.LegalBasisConsent
		}
	}
	if p.LegalBasis != classifier.LegalBasisConsent {
		p.LegalBasis = classifier.LegalBasisStandard
		if p.IsEducationalRecord && isStaff(parts.Sender.Role) {
			p.LegalBasis = classifier.LegalBasisLegitimateInterest
		}
	}

	// only ever raise protections
	if p.IsEducationalRecord {
		p.EncryptionLevel = classifier.MaxEncryption(p.EncryptionLevel, classifier.EncryptionEnhanced)
		p.AuditRequired = true
		if parts.Wide {
			p.ModerationRequired = true
		}
	}
	if p.LegalBasis == classifier.LegalBasisConsent && p.Category == classifier.CategoryPersonalData {
		p.EncryptionLevel = classifier.MaxEncryption(p.EncryptionLevel, classifier.EncryptionEnhanced)
	}
	if p.RiskLevel == classifier.RiskCritical {
		p.AuditRequired = true
	}

	switch {
	case p.Category == classifier.CategorySafeguarding:
		ann.RetentionTag = RetentionSafeguarding
	case p.IsEducationalRecord:
		ann.RetentionTag = RetentionEducationalRecord
	default:
		ann.RetentionTag = RetentionStandard
	}
	ann.DisclosureRequired = p.IsEducationalRecord && len(parts.Recipients) > 0
	return ann, nil
}

func (a *annotator) RecordDisclosure(ctx context.Context, messageID string, parts Participants, ann Annotation, exec ...core.DBExecutor) error {
	if !ann.DisclosureRequired {
		return nil
	}
	recipientIDs := make([]string, 0, len(parts.Recipients))
	for _, r := range parts.Recipients {
		recipientIDs = append(recipientIDs, r.UserID)
	}

	_, err := a.auditSvc.Record(ctx, audit.NewEntry{
		MessageID: messageID,
		Action:    audit.ActionDisclosed,
		ActorID:   parts.Sender.UserID,
		ActorRole: parts.Sender.Role,
		Metadata: audit.DisclosureMetadata(audit.DisclosureMeta{
			LegalBasis:   ann.Profile.LegalBasis,
			Purpose:      string(ann.Purpose),
			RecipientIDs: recipientIDs,
			RetentionTag: string(ann.RetentionTag),
		}),
	}, exec...)
	return errors.Wrap(err, "recording disclosure")
}

func purposeOf(p classifier.Profile) Purpose {
	switch {
	case p.IsEducationalRecord:
		return PurposeEducationalRecords
	case p.Category == classifier.CategoryPersonalData:
		return PurposeCommunications
	}
	return ""
}

// dataSubjects returns the students taking part in the message, or every recipient if there are none.
func dataSubjects(parts Participants) []string {
	var students, all []string
	if user.RoleFamily(parts.Sender.Role) == user.RoleStudent {
		students = append(students, parts.Sender.UserID)
	}
	for _, r := range parts.Recipients {
		all = append(all, r.UserID)
		if user.RoleFamily(r.Role) == user.RoleStudent {
			students = append(students, r.UserID)
		}
	}
	if len(students) > 0 {
		return students
	}
	return all
}

func isStaff(role string) bool {
	fam := user.RoleFamily(role)
	return fam == user.RoleTeacher || fam == user.RoleAdmin
}

var (
	purposeTag  = "purpose"
	purposeText = "invalid purpose"
)

// InitValidators registers the privacy validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(purposeTag, core.OneOfValidation(func(s string) bool { return Purpose(s).IsValid() }))
	core.RegisterCustomTranslation(validate, translator, purposeTag, purposeText)
}
