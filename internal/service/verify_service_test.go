package service

import (
	"context"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCodePublisher struct {
	events []*models.SMSCodeEvent
}

func (f *fakeCodePublisher) PublishSMSCode(_ context.Context, event *models.SMSCodeEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestVerify(t *testing.T) (*VerifyService, *miniredis.Miniredis, *fakeCodePublisher) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	pub := &fakeCodePublisher{}
	svc := &VerifyService{
		secret:     []byte("test-secret"),
		sessionTTL: time.Hour,
		codeTTL:    5 * time.Minute,
		sendWindow: time.Minute,
		redis:      redisclient.NewWithClient(rdb),
		publisher:  pub,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
	return svc, mr, pub
}

func TestSessionRoundTrip(t *testing.T) {
	svc, _, _ := newTestVerify(t)

	token, err := svc.IssueSession(42)
	require.NoError(t, err)

	userID, err := svc.ParseSession(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenExpires(t *testing.T) {
	svc, _, _ := newTestVerify(t)

	issued := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }
	token, err := svc.IssueSession(42)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = svc.ParseSession(token)

	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestTokenPurposeIsChecked(t *testing.T) {
	svc, _, _ := newTestVerify(t)

	token, err := svc.IssueSMSToken("13612345678")
	require.NoError(t, err)

	// An sms token must not pass as a session
	_, err = svc.ParseSession(token)
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	mobile, err := svc.CheckSMSToken(token)
	require.NoError(t, err)
	assert.Equal(t, "13612345678", mobile)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	svc, _, _ := newTestVerify(t)
	token, err := svc.IssueSession(42)
	require.NoError(t, err)

	svc.secret = []byte("other-secret")
	_, err = svc.ParseSession(token)

	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestSetPasswordTokenBoundToUser(t *testing.T) {
	svc, _, _ := newTestVerify(t)

	token, err := svc.IssueSetPasswordToken(7)
	require.NoError(t, err)

	require.NoError(t, svc.CheckSetPasswordToken(token, 7))

	err = svc.CheckSetPasswordToken(token, 8)
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestEmailTokenRoundTrip(t *testing.T) {
	svc, _, _ := newTestVerify(t)

	token, err := svc.IssueEmailToken(7, "user@example.com")
	require.NoError(t, err)

	userID, email, err := svc.CheckEmailToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
	assert.Equal(t, "user@example.com", email)
}

func TestBindTokenRoundTrip(t *testing.T) {
	svc, _, _ := newTestVerify(t)

	token, err := svc.IssueBindToken("openid-abc")
	require.NoError(t, err)

	openID, err := svc.CheckBindToken(token)
	require.NoError(t, err)
	assert.Equal(t, "openid-abc", openID)
}

func TestSendSMSCodeStoresAndPublishes(t *testing.T) {
	svc, mr, pub := newTestVerify(t)

	require.NoError(t, svc.SendSMSCode(context.Background(), "13612345678"))

	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.Equal(t, "13612345678", event.Mobile)
	assert.Len(t, event.Code, 6)
	assert.Equal(t, models.EventTypeSMSCodeRequested, event.EventType)

	stored, err := mr.Get("sms_13612345678")
	require.NoError(t, err)
	assert.Equal(t, event.Code, stored)
	assert.True(t, mr.Exists("send_flag_13612345678"))
}

func TestSendSMSCodeRateLimited(t *testing.T) {
	svc, _, pub := newTestVerify(t)

	require.NoError(t, svc.SendSMSCode(context.Background(), "13612345678"))

	err := svc.SendSMSCode(context.Background(), "13612345678")
	assert.ErrorIs(t, err, models.ErrTooFrequent)
	assert.Len(t, pub.events, 1)
}

func TestSendSMSCodeAllowedAfterWindow(t *testing.T) {
	svc, mr, pub := newTestVerify(t)

	require.NoError(t, svc.SendSMSCode(context.Background(), "13612345678"))
	mr.FastForward(2 * time.Minute)

	require.NoError(t, svc.SendSMSCode(context.Background(), "13612345678"))
	assert.Len(t, pub.events, 2)
}

func TestCheckSMSCodeConsumesOnSuccess(t *testing.T) {
	svc, mr, pub := newTestVerify(t)

	require.NoError(t, svc.SendSMSCode(context.Background(), "13612345678"))
	code := pub.events[0].Code

	require.NoError(t, svc.CheckSMSCode(context.Background(), "13612345678", code))
	assert.False(t, mr.Exists("sms_13612345678"))

	// Replay fails once consumed
	err := svc.CheckSMSCode(context.Background(), "13612345678", code)
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCheckSMSCodeRejectsWrongCode(t *testing.T) {
	svc, mr, _ := newTestVerify(t)

	require.NoError(t, mr.Set("sms_13612345678", "123456"))

	err := svc.CheckSMSCode(context.Background(), "13612345678", "654321")
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	// A wrong guess must not consume the stored code
	assert.True(t, mr.Exists("sms_13612345678"))
}
