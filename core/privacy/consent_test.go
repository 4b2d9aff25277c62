package privacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/storage/database/dummy"
)

func TestConsentService(t *testing.T) {
	ctx := context.Background()
	svc := privacy.NewConsentService(dummydb.NewConsentRepository(dummydb.Open()))

	granted, err := svc.Grant(ctx, "u1", privacy.PurposeCommunications)
	require.NoError(t, err)
	assert.True(t, granted.Active())

	t.Run("grant again keeps the record", func(t *testing.T) {
		again, err := svc.Grant(ctx, "u1", privacy.PurposeCommunications)
		require.NoError(t, err)
		assert.Equal(t, granted.ID, again.ID)
	})

	t.Run("invalid purpose", func(t *testing.T) {
		_, err := svc.Grant(ctx, "u1", "marketing")
		assert.Equal(t, core.CodeValidation, core.ErrorCodeOf(err))
		_, err = svc.Revoke(ctx, "u1", "marketing")
		assert.Equal(t, core.CodeValidation, core.ErrorCodeOf(err))
	})

	t.Run("revoke unknown", func(t *testing.T) {
		_, err := svc.Revoke(ctx, "u1", privacy.PurposeEducationalRecords)
		assert.Equal(t, privacy.ErrConsentNotFound, err)
	})

	t.Run("all granted", func(t *testing.T) {
		ok, err := svc.AllGranted(ctx, []string{"u1"}, privacy.PurposeCommunications)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.AllGranted(ctx, []string{"u1", "u2"}, privacy.PurposeCommunications)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = svc.AllGranted(ctx, nil, privacy.PurposeCommunications)
		require.NoError(t, err)
		assert.False(t, ok, "nobody to consent")
	})

	t.Run("revoke then list", func(t *testing.T) {
		revoked, err := svc.Revoke(ctx, "u1", privacy.PurposeCommunications)
		require.NoError(t, err)
		assert.False(t, revoked.Active())

		ok, err := svc.AllGranted(ctx, []string{"u1"}, privacy.PurposeCommunications)
		require.NoError(t, err)
		assert.False(t, ok)

		consents, err := svc.ForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, consents, 1)
		assert.NotNil(t, consents[0].RevokedAt)
	})
}
