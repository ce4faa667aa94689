package service

import (
	"context"
	"fmt"
	"regexp"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the persistence surface for accounts and addresses
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByAccount(ctx context.Context, account string) (*models.User, error)
	CountUsername(ctx context.Context, username string) (int, error)
	CountMobile(ctx context.Context, mobile string) (int, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	SetEmail(ctx context.Context, userID int64, email string) error
	MarkEmailActive(ctx context.Context, userID int64, email string) (bool, error)
	CreateAddress(ctx context.Context, addr *models.Address) error
	GetAddress(ctx context.Context, addressID, userID int64) (*models.Address, error)
	ListAddresses(ctx context.Context, userID int64) ([]models.Address, error)
	CountAddresses(ctx context.Context, userID int64) (int, error)
	UpdateAddress(ctx context.Context, addr *models.Address) error
	UpdateAddressTitle(ctx context.Context, addressID, userID int64, title string) error
	SoftDeleteAddress(ctx context.Context, addressID, userID int64) error
	SetDefaultAddress(ctx context.Context, userID, addressID int64) error
}

// EmailPublisher hands verification mails to the notification queue
type EmailPublisher interface {
	PublishEmailVerify(ctx context.Context, event *models.EmailVerifyEvent) error
}

// UserService handles accounts, credentials and the address book
type UserService struct {
	store           UserStore
	verify          *VerifyService
	publisher       EmailPublisher
	emailVerifyBase string
	addressLimit    int
	logger          *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(st UserStore, verify *VerifyService, publisher EmailPublisher, emailVerifyBase string, addressLimit int) *UserService {
	return &UserService{
		store:           st,
		verify:          verify,
		publisher:       publisher,
		emailVerifyBase: emailVerifyBase,
		addressLimit:    addressLimit,
		logger:          util.GetLogger(),
	}
}

var mobilePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

// Register creates an account after checking the SMS code and returns a
// session token so the user lands logged in.
func (s *UserService) Register(ctx context.Context, username, mobile, password, smsCode string) (*models.User, string, error) {
	if username == "" || len(password) < 8 {
		return nil, "", &models.ValidationError{Reason: "username required and password must be at least 8 characters"}
	}
	if !mobilePattern.MatchString(mobile) {
		return nil, "", &models.ValidationError{Reason: "malformed mobile number"}
	}
	if err := s.verify.CheckSMSCode(ctx, mobile, smsCode); err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Mobile:       mobile,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.verify.IssueSession(user.ID)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID), zap.String("username", username))
	return user, token, nil
}

// Login checks credentials and returns a session token. Bad account and
// bad password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, account, password string) (*models.User, string, error) {
	user, err := s.store.GetUserByAccount(ctx, account)
	if err != nil {
		return nil, "", &models.ValidationError{Reason: "wrong account or password"}
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", &models.ValidationError{Reason: "wrong account or password"}
	}

	token, err := s.verify.IssueSession(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// UsernameCount reports how many accounts hold the username
func (s *UserService) UsernameCount(ctx context.Context, username string) (int, error) {
	return s.store.CountUsername(ctx, username)
}

// MobileCount reports how many accounts hold the mobile number
func (s *UserService) MobileCount(ctx context.Context, mobile string) (int, error) {
	return s.store.CountMobile(ctx, mobile)
}

// Detail returns the account of the authenticated user
func (s *UserService) Detail(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

var maskMobilePattern = regexp.MustCompile(`^(\d{3})\d{4}(\d{4})$`)

// RequestSMSToken issues a send-code token for the account's mobile and
// returns the masked number for display.
func (s *UserService) RequestSMSToken(ctx context.Context, account string) (maskedMobile, token string, err error) {
	user, err := s.store.GetUserByAccount(ctx, account)
	if err != nil {
		return "", "", err
	}
	token, err = s.verify.IssueSMSToken(user.Mobile)
	if err != nil {
		return "", "", err
	}
	return maskMobilePattern.ReplaceAllString(user.Mobile, "$1****$2"), token, nil
}

// RequestPasswordToken trades a correct SMS code for a set-password token
func (s *UserService) RequestPasswordToken(ctx context.Context, account, smsCode string) (int64, string, error) {
	user, err := s.store.GetUserByAccount(ctx, account)
	if err != nil {
		return 0, "", err
	}
	if err := s.verify.CheckSMSCode(ctx, user.Mobile, smsCode); err != nil {
		return 0, "", err
	}
	token, err := s.verify.IssueSetPasswordToken(user.ID)
	if err != nil {
		return 0, "", err
	}
	return user.ID, token, nil
}

// ResetPassword replaces the password after checking the reset token
func (s *UserService) ResetPassword(ctx context.Context, userID int64, token, password string) error {
	if len(password) < 8 {
		return &models.ValidationError{Reason: "password must be at least 8 characters"}
	}
	if err := s.verify.CheckSetPasswordToken(token, userID); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdatePassword(ctx, userID, string(hash))
}

// SetEmail stores the address unverified and queues the verification
// mail. Publishing is fire-and-forget.
func (s *UserService) SetEmail(ctx context.Context, userID int64, email string) error {
	if email == "" {
		return &models.ValidationError{Reason: "email required"}
	}
	if err := s.store.SetEmail(ctx, userID, email); err != nil {
		return err
	}

	token, err := s.verify.IssueEmailToken(userID, email)
	if err != nil {
		return err
	}
	event := &models.EmailVerifyEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeEmailVerifyRequested,
		},
		UserID:    userID,
		Email:     email,
		VerifyURL: fmt.Sprintf("%s?token=%s", s.emailVerifyBase, token),
	}
	if err := s.publisher.PublishEmailVerify(ctx, event); err != nil {
		s.logger.Error("Failed to publish EmailVerify event",
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
	return nil
}

// VerifyEmail marks the address active when the token checks out
func (s *UserService) VerifyEmail(ctx context.Context, token string) error {
	userID, email, err := s.verify.CheckEmailToken(token)
	if err != nil {
		return err
	}
	ok, err := s.store.MarkEmailActive(ctx, userID, email)
	if err != nil {
		return err
	}
	if !ok {
		return &models.ValidationError{Reason: "invalid token"}
	}
	return nil
}

// AddressBook is the list payload with the per-user cap and default id
type AddressBook struct {
	UserID           int64            `json:"user_id"`
	DefaultAddressID *int64           `json:"default_address_id"`
	Limit            int              `json:"limit"`
	Addresses        []models.Address `json:"addresses"`
}

// CreateAddress adds a delivery address, enforcing the per-user cap
func (s *UserService) CreateAddress(ctx context.Context, addr *models.Address) error {
	if addr.Receiver == "" || addr.Place == "" || !mobilePattern.MatchString(addr.Mobile) {
		return &models.ValidationError{Reason: "receiver, place and a valid mobile are required"}
	}
	count, err := s.store.CountAddresses(ctx, addr.UserID)
	if err != nil {
		return err
	}
	if count >= s.addressLimit {
		return fmt.Errorf("address limit %d reached: %w", s.addressLimit, models.ErrConflict)
	}
	return s.store.CreateAddress(ctx, addr)
}

// ListAddresses returns the user's address book
func (s *UserService) ListAddresses(ctx context.Context, userID int64) (*AddressBook, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	addrs, err := s.store.ListAddresses(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AddressBook{
		UserID:           userID,
		DefaultAddressID: user.DefaultAddressID,
		Limit:            s.addressLimit,
		Addresses:        addrs,
	}, nil
}

// UpdateAddress overwrites an address the user owns
func (s *UserService) UpdateAddress(ctx context.Context, addr *models.Address) error {
	if addr.Receiver == "" || addr.Place == "" || !mobilePattern.MatchString(addr.Mobile) {
		return &models.ValidationError{Reason: "receiver, place and a valid mobile are required"}
	}
	return s.store.UpdateAddress(ctx, addr)
}

// SetAddressTitle renames an address
func (s *UserService) SetAddressTitle(ctx context.Context, addressID, userID int64, title string) error {
	if title == "" {
		return &models.ValidationError{Reason: "title required"}
	}
	return s.store.UpdateAddressTitle(ctx, addressID, userID, title)
}

// DeleteAddress soft-deletes an address
func (s *UserService) DeleteAddress(ctx context.Context, addressID, userID int64) error {
	return s.store.SoftDeleteAddress(ctx, addressID, userID)
}

// SetDefaultAddress marks one address as the user's default
func (s *UserService) SetDefaultAddress(ctx context.Context, userID, addressID int64) error {
	return s.store.SetDefaultAddress(ctx, userID, addressID)
}
