package service

import (
	"context"
	"fmt"
	"testing"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	openID string
	err    error
}

func (f *fakeProvider) AuthURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (f *fakeProvider) OpenID(context.Context, string) (string, error) {
	return f.openID, f.err
}

type fakeOAuthStore struct {
	users    map[int64]*models.User
	bindings map[string]*models.OAuthBinding
}

func newFakeOAuthStore(users ...*models.User) *fakeOAuthStore {
	f := &fakeOAuthStore{
		users:    make(map[int64]*models.User),
		bindings: make(map[string]*models.OAuthBinding),
	}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeOAuthStore) GetBindingByOpenID(_ context.Context, openID string) (*models.OAuthBinding, error) {
	binding, ok := f.bindings[openID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return binding, nil
}

func (f *fakeOAuthStore) CreateBinding(_ context.Context, binding *models.OAuthBinding) error {
	if _, exists := f.bindings[binding.OpenID]; exists {
		return fmt.Errorf("binding exists: %w", models.ErrConflict)
	}
	f.bindings[binding.OpenID] = binding
	return nil
}

func (f *fakeOAuthStore) GetUserByAccount(_ context.Context, account string) (*models.User, error) {
	for _, u := range f.users {
		if u.Username == account || u.Mobile == account {
			return u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeOAuthStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func newTestOAuth(t *testing.T, provider OAuthProvider, st OAuthStore) (*OAuthService, *VerifyService) {
	verify, _, _ := newTestVerify(t)
	svc := &OAuthService{
		provider: provider,
		store:    st,
		verify:   verify,
		logger:   util.GetLogger(),
	}
	return svc, verify
}

func TestCallbackBoundOpenIDLogsIn(t *testing.T) {
	user := &models.User{ID: 7, Username: "alice", Mobile: "13612345678"}
	st := newFakeOAuthStore(user)
	st.bindings["openid-abc"] = &models.OAuthBinding{OpenID: "openid-abc", UserID: 7}

	svc, verify := newTestOAuth(t, &fakeProvider{openID: "openid-abc"}, st)

	result, err := svc.Callback(context.Background(), "code")
	require.NoError(t, err)
	require.NotNil(t, result.User)
	assert.Equal(t, int64(7), result.User.ID)
	assert.Empty(t, result.BindToken)

	userID, err := verify.ParseSession(result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestCallbackUnboundOpenIDReturnsBindToken(t *testing.T) {
	svc, verify := newTestOAuth(t, &fakeProvider{openID: "openid-new"}, newFakeOAuthStore())

	result, err := svc.Callback(context.Background(), "code")
	require.NoError(t, err)
	assert.Nil(t, result.User)
	assert.Empty(t, result.SessionToken)

	openID, err := verify.CheckBindToken(result.BindToken)
	require.NoError(t, err)
	assert.Equal(t, "openid-new", openID)
}

func TestCallbackProviderFailure(t *testing.T) {
	svc, _ := newTestOAuth(t, &fakeProvider{err: fmt.Errorf("timeout: %w", models.ErrUnavailable)}, newFakeOAuthStore())

	_, err := svc.Callback(context.Background(), "code")
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

func TestCallbackRequiresCode(t *testing.T) {
	svc, _ := newTestOAuth(t, &fakeProvider{openID: "x"}, newFakeOAuthStore())

	_, err := svc.Callback(context.Background(), "")
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestBindAttachesOpenIDToMobileAccount(t *testing.T) {
	user := &models.User{ID: 7, Username: "alice", Mobile: "13612345678"}
	st := newFakeOAuthStore(user)
	svc, verify := newTestOAuth(t, &fakeProvider{openID: "openid-new"}, st)
	ctx := context.Background()

	bindToken, err := verify.IssueBindToken("openid-new")
	require.NoError(t, err)
	require.NoError(t, verify.redis.StoreSMSCode(ctx, user.Mobile, "123456", verify.codeTTL, verify.sendWindow))

	result, err := svc.Bind(ctx, bindToken, user.Mobile, "123456")
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.User.ID)
	assert.NotEmpty(t, result.SessionToken)

	binding, err := st.GetBindingByOpenID(ctx, "openid-new")
	require.NoError(t, err)
	assert.Equal(t, int64(7), binding.UserID)
}

func TestBindRejectsWrongSMSCode(t *testing.T) {
	user := &models.User{ID: 7, Username: "alice", Mobile: "13612345678"}
	st := newFakeOAuthStore(user)
	svc, verify := newTestOAuth(t, &fakeProvider{openID: "openid-new"}, st)
	ctx := context.Background()

	bindToken, err := verify.IssueBindToken("openid-new")
	require.NoError(t, err)
	require.NoError(t, verify.redis.StoreSMSCode(ctx, user.Mobile, "123456", verify.codeTTL, verify.sendWindow))

	_, err = svc.Bind(ctx, bindToken, user.Mobile, "000000")
	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Empty(t, st.bindings)
}

func TestBindUnknownMobile(t *testing.T) {
	svc, verify := newTestOAuth(t, &fakeProvider{openID: "openid-new"}, newFakeOAuthStore())
	ctx := context.Background()

	bindToken, err := verify.IssueBindToken("openid-new")
	require.NoError(t, err)
	require.NoError(t, verify.redis.StoreSMSCode(ctx, "13612345678", "123456", verify.codeTTL, verify.sendWindow))

	_, err = svc.Bind(ctx, bindToken, "13612345678", "123456")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
