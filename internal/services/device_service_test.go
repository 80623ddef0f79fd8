package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pushbeam/pushbeam/internal/database/testutil"
	"github.com/pushbeam/pushbeam/internal/models"
	apperrors "github.com/pushbeam/pushbeam/pkg/errors"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestDeviceServiceRegisterIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewDeviceService(db)
	require.NoError(t, err)

	ctx := context.Background()
	first, created, err := svc.Register(ctx, RegisterDeviceInput{
		Recipient:  "alice",
		Token:      "token-a",
		Platform:   models.PlatformIOS,
		AppVersion: "1.4.0",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, first.Active)
	require.NotNil(t, first.LastSeen)

	second, created, err := svc.Register(ctx, RegisterDeviceInput{
		Recipient: "alice",
		Token:     "token-a",
		Platform:  models.PlatformIOS,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "1.4.0", second.AppVersion)

	var count int64
	require.NoError(t, db.Model(&models.DeviceRegistration{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestDeviceServiceRegisterReassociatesToken(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewDeviceService(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = svc.Register(ctx, RegisterDeviceInput{
		Recipient: "alice",
		Token:     "token-shared",
		Platform:  models.PlatformAndroid,
	})
	require.NoError(t, err)

	device, created, err := svc.Register(ctx, RegisterDeviceInput{
		Recipient: "bob",
		Token:     "token-shared",
		Platform:  models.PlatformWeb,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "bob", device.Recipient)
	require.Equal(t, models.PlatformWeb, device.Platform)

	var count int64
	require.NoError(t, db.Model(&models.DeviceRegistration{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	tokens, err := svc.ListActiveTokens(ctx, []string{"alice"})
	require.NoError(t, err)
	require.Empty(t, tokens)
}

func TestDeviceServiceRegisterValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewDeviceService(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = svc.Register(ctx, RegisterDeviceInput{Token: "token-a", Platform: models.PlatformIOS})
	require.Error(t, err)

	_, _, err = svc.Register(ctx, RegisterDeviceInput{Recipient: "alice", Platform: models.PlatformIOS})
	require.Error(t, err)

	_, _, err = svc.Register(ctx, RegisterDeviceInput{Recipient: "alice", Token: "token-a", Platform: "blackberry"})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, 400, appErr.StatusCode)
}

func TestDeviceServiceListActiveTokens(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewDeviceService(db)
	require.NoError(t, err)

	ctx := context.Background()
	for _, seed := range []RegisterDeviceInput{
		{Recipient: "alice", Token: "token-a1", Platform: models.PlatformIOS},
		{Recipient: "alice", Token: "token-a2", Platform: models.PlatformWeb},
		{Recipient: "bob", Token: "token-b1", Platform: models.PlatformAndroid},
		{Recipient: "carol", Token: "token-c1", Platform: models.PlatformAndroid},
	} {
		_, _, err := svc.Register(ctx, seed)
		require.NoError(t, err)
	}

	_, err = svc.Deactivate(ctx, []string{"token-a2"})
	require.NoError(t, err)

	rows, err := svc.ListActiveTokens(ctx, []string{"alice", "bob", "alice", ""})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.True(t, row.Active)
		require.NotEqual(t, "token-a2", row.Token)
		require.NotEqual(t, "carol", row.Recipient)
	}

	rows, err = svc.ListActiveTokens(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestDeviceServiceTouchLastSeenReactivates(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewDeviceService(db)
	require.NoError(t, err)
	svc = svc.WithNow(fixedClock(now))

	ctx := context.Background()
	_, _, err = svc.Register(ctx, RegisterDeviceInput{
		Recipient: "alice",
		Token:     "token-a",
		Platform:  models.PlatformIOS,
	})
	require.NoError(t, err)

	_, err = svc.Deactivate(ctx, []string{"token-a"})
	require.NoError(t, err)

	later := now.Add(48 * time.Hour)
	svc = svc.WithNow(fixedClock(later))
	require.NoError(t, svc.TouchLastSeen(ctx, "token-a", "alice"))

	var device models.DeviceRegistration
	require.NoError(t, db.Where("device_token = ?", "token-a").First(&device).Error)
	require.True(t, device.Active)
	require.NotNil(t, device.LastSeen)
	require.Equal(t, later, device.LastSeen.UTC())

	// Unknown tokens are a silent no-op.
	require.NoError(t, svc.TouchLastSeen(ctx, "token-unknown", "alice"))
}

func TestDeviceServiceDeactivate(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewDeviceService(db)
	require.NoError(t, err)

	ctx := context.Background()
	for _, token := range []string{"token-1", "token-2"} {
		_, _, err := svc.Register(ctx, RegisterDeviceInput{
			Recipient: "alice",
			Token:     token,
			Platform:  models.PlatformAndroid,
		})
		require.NoError(t, err)
	}

	affected, err := svc.Deactivate(ctx, []string{"token-1", "token-2", "token-missing"})
	require.NoError(t, err)
	require.EqualValues(t, 2, affected)

	affected, err = svc.Deactivate(ctx, []string{"token-1"})
	require.NoError(t, err)
	require.Zero(t, affected)

	affected, err = svc.Deactivate(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, affected)
}

func TestDeviceServiceUnregister(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewDeviceService(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = svc.Register(ctx, RegisterDeviceInput{
		Recipient: "alice",
		Token:     "token-a",
		Platform:  models.PlatformIOS,
	})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Unregister(ctx, "token-a", "bob"), apperrors.ErrNotFound)
	require.NoError(t, svc.Unregister(ctx, "token-a", "alice"))

	var device models.DeviceRegistration
	require.NoError(t, db.Where("device_token = ?", "token-a").First(&device).Error)
	require.False(t, device.Active)

	err = svc.Unregister(ctx, "token-unknown", "alice")
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
}
