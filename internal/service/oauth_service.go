package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// OAuthProvider is the boundary to the external login provider. Anything
// the provider does behind it is out of our hands; failures surface as
// ErrUnavailable.
type OAuthProvider interface {
	AuthURL(state string) string
	OpenID(ctx context.Context, code string) (string, error)
}

// QQProvider implements the QQ connect flow: code to access token to
// openid.
type QQProvider struct {
	AppID       string
	AppKey      string
	RedirectURI string
	HTTPClient  *http.Client
}

// NewQQProvider creates a provider client with a bounded HTTP timeout
func NewQQProvider(appID, appKey, redirectURI string) *QQProvider {
	return &QQProvider{
		AppID:       appID,
		AppKey:      appKey,
		RedirectURI: redirectURI,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *QQProvider) AuthURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.AppID)
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("state", state)
	q.Set("scope", "get_user_info")
	return "https://graph.qq.com/oauth2.0/authorize?" + q.Encode()
}

func (p *QQProvider) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth provider: %w", models.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth provider status %d: %w", resp.StatusCode, models.ErrUnavailable)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oauth provider: %w", models.ErrUnavailable)
	}
	return body, nil
}

// OpenID exchanges the callback code for the provider's stable user id
func (p *QQProvider) OpenID(ctx context.Context, code string) (string, error) {
	q := url.Values{}
	q.Set("grant_type", "authorization_code")
	q.Set("client_id", p.AppID)
	q.Set("client_secret", p.AppKey)
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("code", code)

	body, err := p.get(ctx, "https://graph.qq.com/oauth2.0/token?"+q.Encode())
	if err != nil {
		return "", err
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("parse token response: %w", models.ErrUnavailable)
	}
	accessToken := values.Get("access_token")
	if accessToken == "" {
		return "", fmt.Errorf("empty access token: %w", models.ErrUnavailable)
	}

	body, err = p.get(ctx, "https://graph.qq.com/oauth2.0/me?access_token="+url.QueryEscape(accessToken))
	if err != nil {
		return "", err
	}

	// The me endpoint answers with a JSONP wrapper: callback( {...} );
	payload := strings.TrimSpace(string(body))
	payload = strings.TrimPrefix(payload, "callback(")
	payload = strings.TrimSuffix(payload, ");")
	var me struct {
		OpenID string `json:"openid"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &me); err != nil {
		return "", fmt.Errorf("parse openid response: %w", models.ErrUnavailable)
	}
	if me.OpenID == "" {
		return "", fmt.Errorf("empty openid: %w", models.ErrUnavailable)
	}
	return me.OpenID, nil
}

// OAuthStore is the binding persistence surface
type OAuthStore interface {
	GetBindingByOpenID(ctx context.Context, openID string) (*models.OAuthBinding, error)
	CreateBinding(ctx context.Context, binding *models.OAuthBinding) error
	GetUserByAccount(ctx context.Context, account string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// CallbackResult is either a logged-in session or a bind token for an
// openid we have never seen.
type CallbackResult struct {
	User         *models.User `json:"user,omitempty"`
	SessionToken string       `json:"token,omitempty"`
	BindToken    string       `json:"bind_token,omitempty"`
}

// OAuthService links provider identities to local accounts
type OAuthService struct {
	provider OAuthProvider
	store    OAuthStore
	verify   *VerifyService
	logger   *zap.Logger
}

// NewOAuthService creates a new oauth service
func NewOAuthService(provider OAuthProvider, st OAuthStore, verify *VerifyService) *OAuthService {
	return &OAuthService{
		provider: provider,
		store:    st,
		verify:   verify,
		logger:   util.GetLogger(),
	}
}

// LoginURL builds the provider authorization URL. The state is bounced
// back so the frontend knows where to land after login.
func (s *OAuthService) LoginURL(state string) string {
	if state == "" {
		state = "/"
	}
	return s.provider.AuthURL(state)
}

// Callback resolves the provider code. A bound openid logs straight in;
// an unbound one gets a short-lived bind token instead.
func (s *OAuthService) Callback(ctx context.Context, code string) (*CallbackResult, error) {
	if code == "" {
		return nil, &models.ValidationError{Reason: "code required"}
	}

	openID, err := s.provider.OpenID(ctx, code)
	if err != nil {
		return nil, err
	}

	binding, err := s.store.GetBindingByOpenID(ctx, openID)
	if errors.Is(err, models.ErrNotFound) {
		bindToken, err := s.verify.IssueBindToken(openID)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{BindToken: bindToken}, nil
	}
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, binding.UserID)
	if err != nil {
		return nil, err
	}
	token, err := s.verify.IssueSession(user.ID)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{User: user, SessionToken: token}, nil
}

// Bind attaches an openid to the account owning the mobile number. The
// SMS code proves the mobile; the account must already exist.
func (s *OAuthService) Bind(ctx context.Context, bindToken, mobile, smsCode string) (*CallbackResult, error) {
	openID, err := s.verify.CheckBindToken(bindToken)
	if err != nil {
		return nil, err
	}
	if err := s.verify.CheckSMSCode(ctx, mobile, smsCode); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByAccount(ctx, mobile)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateBinding(ctx, &models.OAuthBinding{OpenID: openID, UserID: user.ID}); err != nil {
		return nil, err
	}

	token, err := s.verify.IssueSession(user.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("OAuth identity bound", zap.Int64("user_id", user.ID))
	return &CallbackResult{User: user, SessionToken: token}, nil
}
