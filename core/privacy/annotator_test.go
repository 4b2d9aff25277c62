package privacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/classifier"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/storage/database/dummy"
)

var (
	teacher = user.Participant{UserID: "t1", Role: user.RoleTeacher}
	student = user.Participant{UserID: "s1", Role: user.RoleStudent}
	parent  = user.Participant{UserID: "p1", Role: user.RoleParent}
	parent2 = user.Participant{UserID: "p2", Role: user.RoleParent}
)

func gradeProfile() classifier.Profile {
	p := classifier.DefaultProfile()
	p.Category = classifier.CategoryAcademic
	p.IsEducationalRecord = true
	p.EncryptionLevel = classifier.EncryptionEnhanced
	p.AuditRequired = true
	p.LegalBasis = classifier.LegalBasisLegitimateInterest
	return p
}

func setup(t *testing.T) (privacy.Annotator, privacy.ConsentService, audit.Service) {
	db := dummydb.Open()
	consents := privacy.NewConsentService(dummydb.NewConsentRepository(db))
	auditSvc := audit.NewService(dummydb.NewAuditRepository(db))
	return privacy.NewAnnotator(consents, auditSvc), consents, auditSvc
}

func TestAnnotator_Resolve(t *testing.T) {
	ctx := context.Background()

	critical := classifier.DefaultProfile()
	critical.Category = classifier.CategorySafeguarding
	critical.RiskLevel = classifier.RiskCritical
	critical.EncryptionLevel = classifier.EncryptionMaximum
	critical.AuditRequired = true
	critical.ModerationRequired = true
	critical.FlaggedKeywords = []string{"knife"}

	personal := classifier.DefaultProfile()
	personal.Category = classifier.CategoryPersonalData
	personal.RiskLevel = classifier.RiskMedium
	personal.EncryptionLevel = classifier.EncryptionEnhanced

	// an educational record whose encryption was not raised by the classifier
	weakGrade := gradeProfile()
	weakGrade.EncryptionLevel = classifier.EncryptionStandard
	weakGrade.AuditRequired = false

	tests := []struct {
		name           string
		profile        classifier.Profile
		parts          privacy.Participants
		consents       []user.Participant
		purpose        privacy.Purpose
		wantBasis      classifier.LegalBasis
		wantEncryption classifier.EncryptionLevel
		wantRetention  privacy.RetentionTag
		wantModeration bool
		wantDisclosure bool
	}{
		{
			name: "grade, no consent", profile: gradeProfile(),
			parts:     privacy.Participants{Sender: teacher, Recipients: []user.Participant{student}},
			wantBasis: classifier.LegalBasisLegitimateInterest, wantEncryption: classifier.EncryptionEnhanced,
			wantRetention: privacy.RetentionEducationalRecord, wantDisclosure: true,
		},
		{
			name: "grade, student consented", profile: gradeProfile(),
			parts:    privacy.Participants{Sender: teacher, Recipients: []user.Participant{student, parent}},
			consents: []user.Participant{student}, purpose: privacy.PurposeEducationalRecords,
			wantBasis: classifier.LegalBasisConsent, wantEncryption: classifier.EncryptionEnhanced,
			wantRetention: privacy.RetentionEducationalRecord, wantDisclosure: true,
		},
		{
			name: "grade, consent for another purpose", profile: gradeProfile(),
			parts:    privacy.Participants{Sender: teacher, Recipients: []user.Participant{student}},
			consents: []user.Participant{student}, purpose: privacy.PurposeCommunications,
			wantBasis: classifier.LegalBasisLegitimateInterest, wantEncryption: classifier.EncryptionEnhanced,
			wantRetention: privacy.RetentionEducationalRecord, wantDisclosure: true,
		},
		{
			name: "grade to a wide audience", profile: gradeProfile(),
			parts:     privacy.Participants{Sender: teacher, Recipients: []user.Participant{student, parent}, Wide: true},
			wantBasis: classifier.LegalBasisLegitimateInterest, wantEncryption: classifier.EncryptionEnhanced,
			wantRetention: privacy.RetentionEducationalRecord, wantModeration: true, wantDisclosure: true,
		},
		{
			name: "educational record encryption is raised", profile: weakGrade,
			parts:     privacy.Participants{Sender: teacher, Recipients: []user.Participant{student}},
			wantBasis: classifier.LegalBasisLegitimateInterest, wantEncryption: classifier.EncryptionEnhanced,
			wantRetention: privacy.RetentionEducationalRecord, wantDisclosure: true,
		},
		{
			name: "critical keeps maximum encryption", profile: critical,
			parts:     privacy.Participants{Sender: student, Recipients: []user.Participant{teacher}},
			wantBasis: classifier.LegalBasisStandard, wantEncryption: classifier.EncryptionMaximum,
			wantRetention: privacy.RetentionSafeguarding, wantModeration: true,
		},
		{
			name: "personal data, every recipient consented", profile: personal,
			parts:    privacy.Participants{Sender: teacher, Recipients: []user.Participant{parent, parent2}},
			consents: []user.Participant{parent, parent2}, purpose: privacy.PurposeCommunications,
			wantBasis: classifier.LegalBasisConsent, wantEncryption: classifier.EncryptionEnhanced,
			wantRetention: privacy.RetentionStandard,
		},
		{
			name: "personal data, one recipient consented", profile: personal,
			parts:    privacy.Participants{Sender: teacher, Recipients: []user.Participant{parent, parent2}},
			consents: []user.Participant{parent}, purpose: privacy.PurposeCommunications,
			wantBasis: classifier.LegalBasisStandard, wantEncryption: classifier.EncryptionEnhanced,
			wantRetention: privacy.RetentionStandard,
		},
		{
			name: "general", profile: classifier.DefaultProfile(),
			parts:     privacy.Participants{Sender: teacher, Recipients: []user.Participant{student}},
			wantBasis: classifier.LegalBasisStandard, wantEncryption: classifier.EncryptionStandard,
			wantRetention: privacy.RetentionStandard,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			annotator, consents, _ := setup(t)
			for _, p := range tt.consents {
				_, err := consents.Grant(ctx, p.UserID, tt.purpose)
				require.NoError(t, err)
			}

			ann, err := annotator.Resolve(ctx, tt.profile, tt.parts)
			require.NoError(t, err)

			p := ann.Profile
			assert.Equal(t, tt.wantBasis, p.LegalBasis, "legal basis")
			assert.Equal(t, tt.wantEncryption, p.EncryptionLevel, "encryption")
			assert.Equal(t, tt.wantRetention, ann.RetentionTag, "retention")
			assert.Equal(t, tt.wantModeration, p.ModerationRequired, "moderation")
			assert.Equal(t, tt.wantDisclosure, ann.DisclosureRequired, "disclosure")

			// protections are never lowered
			assert.Equal(t, tt.profile.RiskLevel, p.RiskLevel)
			assert.Equal(t, tt.profile.Category, p.Category)
			assert.GreaterOrEqual(t, p.EncryptionLevel.Rank(), tt.profile.EncryptionLevel.Rank())
			if tt.profile.AuditRequired || p.IsEducationalRecord {
				assert.True(t, p.AuditRequired)
			}
			assert.NoError(t, p.Validate())
		})
	}
}

func TestAnnotator_RevokedConsent(t *testing.T) {
	ctx := context.Background()
	annotator, consents, _ := setup(t)

	_, err := consents.Grant(ctx, student.UserID, privacy.PurposeEducationalRecords)
	require.NoError(t, err)
	_, err = consents.Revoke(ctx, student.UserID, privacy.PurposeEducationalRecords)
	require.NoError(t, err)

	ann, err := annotator.Resolve(ctx, gradeProfile(), privacy.Participants{Sender: teacher, Recipients: []user.Participant{student}})
	require.NoError(t, err)
	assert.Equal(t, classifier.LegalBasisLegitimateInterest, ann.Profile.LegalBasis)
}

func TestAnnotator_RecordDisclosure(t *testing.T) {
	ctx := context.Background()
	annotator, _, auditSvc := setup(t)
	parts := privacy.Participants{Sender: teacher, Recipients: []user.Participant{student, parent}}

	t.Run("educational record", func(t *testing.T) {
		ann, err := annotator.Resolve(ctx, gradeProfile(), parts)
		require.NoError(t, err)
		require.NoError(t, annotator.RecordDisclosure(ctx, "m1", parts, ann))

		entries, err := auditSvc.Query(ctx, audit.Filter{MessageID: "m1"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		e := entries[0]
		assert.Equal(t, audit.ActionDisclosed, e.Action)
		assert.Equal(t, teacher.UserID, e.ActorID)
		assert.Equal(t, teacher.Role, e.ActorRole)
		require.NotNil(t, e.Metadata.Disclosure)
		assert.Equal(t, []string{"s1", "p1"}, e.Metadata.Disclosure.RecipientIDs)
		assert.Equal(t, classifier.LegalBasisLegitimateInterest, e.Metadata.Disclosure.LegalBasis)
		assert.Equal(t, string(privacy.PurposeEducationalRecords), e.Metadata.Disclosure.Purpose)
		assert.Equal(t, string(privacy.RetentionEducationalRecord), e.Metadata.Disclosure.RetentionTag)
	})

	t.Run("nothing to disclose", func(t *testing.T) {
		ann, err := annotator.Resolve(ctx, classifier.DefaultProfile(), parts)
		require.NoError(t, err)
		require.NoError(t, annotator.RecordDisclosure(ctx, "m2", parts, ann))

		entries, err := auditSvc.Query(ctx, audit.Filter{MessageID: "m2"})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
