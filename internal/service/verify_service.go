package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Token purposes. A token only verifies against the purpose it was
// issued for.
const (
	purposeSMSCode     = "sms_code"
	purposeSetPassword = "set_password"
	purposeEmailVerify = "email_verify"
	purposeSession     = "session"
	purposeOAuthBind   = "oauth_bind"
)

// Token validity windows
const (
	smsTokenTTL      = 5 * time.Minute
	passwordTokenTTL = 5 * time.Minute
	emailTokenTTL    = 24 * time.Hour
	bindTokenTTL     = 10 * time.Minute
)

// CodePublisher hands SMS codes to the notification queue
type CodePublisher interface {
	PublishSMSCode(ctx context.Context, event *models.SMSCodeEvent) error
}

type verifyClaims struct {
	Purpose string `json:"purpose"`
	Mobile  string `json:"mobile,omitempty"`
	UserID  int64  `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
	OpenID  string `json:"openid,omitempty"`
	jwt.RegisteredClaims
}

// VerifyService issues and checks short-lived signed tokens and drives
// the SMS code flow. Tokens carry their own state: verification is a
// signature plus expiry check plus a payload match.
type VerifyService struct {
	secret     []byte
	sessionTTL time.Duration
	codeTTL    time.Duration
	sendWindow time.Duration
	redis      *redisclient.Client
	publisher  CodePublisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewVerifyService creates a new verification service
func NewVerifyService(secret string, sessionTTL, codeTTL, sendWindow time.Duration, redis *redisclient.Client, publisher CodePublisher) *VerifyService {
	return &VerifyService{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		codeTTL:    codeTTL,
		sendWindow: sendWindow,
		redis:      redis,
		publisher:  publisher,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

func (s *VerifyService) sign(claims *verifyClaims, ttl time.Duration) (string, error) {
	now := s.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (s *VerifyService) parse(token, purpose string) (*verifyClaims, error) {
	var claims verifyClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, &models.ValidationError{Reason: "invalid token"}
	}
	if claims.Purpose != purpose {
		return nil, &models.ValidationError{Reason: "invalid token"}
	}
	return &claims, nil
}

// IssueSMSToken binds a mobile number to a short send-code window
func (s *VerifyService) IssueSMSToken(mobile string) (string, error) {
	return s.sign(&verifyClaims{Purpose: purposeSMSCode, Mobile: mobile}, smsTokenTTL)
}

// CheckSMSToken returns the mobile the token was issued for
func (s *VerifyService) CheckSMSToken(token string) (string, error) {
	claims, err := s.parse(token, purposeSMSCode)
	if err != nil {
		return "", err
	}
	return claims.Mobile, nil
}

// IssueSetPasswordToken gates a password reset to one user
func (s *VerifyService) IssueSetPasswordToken(userID int64) (string, error) {
	return s.sign(&verifyClaims{Purpose: purposeSetPassword, UserID: userID}, passwordTokenTTL)
}

// CheckSetPasswordToken verifies the token belongs to the user
func (s *VerifyService) CheckSetPasswordToken(token string, userID int64) error {
	claims, err := s.parse(token, purposeSetPassword)
	if err != nil {
		return err
	}
	if claims.UserID != userID {
		return &models.ValidationError{Reason: "invalid token"}
	}
	return nil
}

// IssueEmailToken binds a user id and email address for verification
func (s *VerifyService) IssueEmailToken(userID int64, email string) (string, error) {
	return s.sign(&verifyClaims{Purpose: purposeEmailVerify, UserID: userID, Email: email}, emailTokenTTL)
}

// CheckEmailToken returns the user id and email the token was issued for
func (s *VerifyService) CheckEmailToken(token string) (int64, string, error) {
	claims, err := s.parse(token, purposeEmailVerify)
	if err != nil {
		return 0, "", err
	}
	return claims.UserID, claims.Email, nil
}

// IssueSession returns a login session token
func (s *VerifyService) IssueSession(userID int64) (string, error) {
	return s.sign(&verifyClaims{Purpose: purposeSession, UserID: userID}, s.sessionTTL)
}

// ParseSession returns the user id of a valid session token
func (s *VerifyService) ParseSession(token string) (int64, error) {
	claims, err := s.parse(token, purposeSession)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// IssueBindToken carries an unbound openid through the oauth bind flow
func (s *VerifyService) IssueBindToken(openID string) (string, error) {
	return s.sign(&verifyClaims{Purpose: purposeOAuthBind, OpenID: openID}, bindTokenTTL)
}

// CheckBindToken returns the openid the token was issued for
func (s *VerifyService) CheckBindToken(token string) (string, error) {
	claims, err := s.parse(token, purposeOAuthBind)
	if err != nil {
		return "", err
	}
	return claims.OpenID, nil
}

// SendSMSCode generates a 6-digit code, stores it with its rate-limit
// flag and queues delivery. The queue write is fire-and-forget: a
// publish failure is logged and the request still succeeds, since the
// stored code can be re-sent.
func (s *VerifyService) SendSMSCode(ctx context.Context, mobile string) error {
	flagged, err := s.redis.SMSSendFlagged(ctx, mobile)
	if err != nil {
		return fmt.Errorf("check send flag: %w", err)
	}
	if flagged {
		return fmt.Errorf("sms for %s: %w", mobile, models.ErrTooFrequent)
	}

	code := fmt.Sprintf("%06d", rand.Intn(1000000))
	if err := s.redis.StoreSMSCode(ctx, mobile, code, s.codeTTL, s.sendWindow); err != nil {
		return fmt.Errorf("store sms code: %w", err)
	}

	event := &models.SMSCodeEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSMSCodeRequested,
			Timestamp: s.now(),
		},
		Mobile:     mobile,
		Code:       code,
		TTLMinutes: int(s.codeTTL / time.Minute),
	}
	if err := s.publisher.PublishSMSCode(ctx, event); err != nil {
		s.logger.Error("Failed to publish SMSCode event",
			zap.String("mobile", mobile),
			zap.Error(err))
	}

	util.SMSCodesSentTotal.Inc()
	return nil
}

// CheckSMSCode compares a submitted code and consumes it on success
func (s *VerifyService) CheckSMSCode(ctx context.Context, mobile, code string) error {
	stored, err := s.redis.GetSMSCode(ctx, mobile)
	if err != nil {
		return fmt.Errorf("read sms code: %w", err)
	}
	if stored == "" || stored != code {
		return &models.ValidationError{Reason: "wrong or expired sms code"}
	}
	if err := s.redis.DeleteSMSCode(ctx, mobile); err != nil {
		s.logger.Warn("Failed to consume sms code", zap.String("mobile", mobile), zap.Error(err))
	}
	return nil
}
