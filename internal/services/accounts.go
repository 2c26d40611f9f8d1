package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/remote"
	"fintrack/internal/session"
)

const (
	minPasswordLen = 6
	maxPasswordLen = 20
)

var emailPattern = regexp.MustCompile(`^[\w.-]+@([\w-]+\.)+[\w-]{2,4}$`)

// Authenticator is the account side of the data service.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (core.Account, error)
	SignUp(ctx context.Context, req remote.SignUpRequest) (core.Account, error)
}

type SignUpInput struct {
	FullName        string
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

type AccountService struct {
	auth   Authenticator
	logger *log.Logger
}

func NewAccountService(auth Authenticator, logger *log.Logger) *AccountService {
	if logger == nil {
		logger = log.Discard()
	}
	return &AccountService{auth: auth, logger: logger.WithComponent(log.ComponentAccount)}
}

// Authenticate verifies the credentials without touching any session.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (core.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return core.Account{}, invalid("credentials", "email and password are required", nil)
	}

	acc, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, remote.ErrInvalidCredentials) {
			s.logger.InfoContext(ctx, "Sign in rejected", log.FieldErrorType, log.ErrorTypeAuth)
		}
		return core.Account{}, err
	}
	return acc, nil
}

// Register validates the sign-up form and creates the account.
func (s *AccountService) Register(ctx context.Context, in SignUpInput) (core.Account, error) {
	req, err := validateSignUp(in)
	if err != nil {
		return core.Account{}, err
	}
	acc, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return core.Account{}, err
	}
	s.logger.InfoContext(ctx, "Account created", log.FieldUserID, acc.ID)
	return acc, nil
}

// Start makes acc the session user. Whatever the session held before is
// discarded.
func (s *AccountService) Start(ctx context.Context, sess *session.Session, acc core.Account) error {
	if err := sess.Clear(ctx); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if err := sess.SetUserID(ctx, acc.ID); err != nil {
		return err
	}
	return sess.SaveProfile(ctx, acc)
}

// SignIn authenticates and starts the session.
func (s *AccountService) SignIn(ctx context.Context, sess *session.Session, email, password string) (core.Account, error) {
	acc, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return core.Account{}, err
	}
	if err := s.Start(ctx, sess, acc); err != nil {
		return core.Account{}, err
	}
	s.logger.InfoContext(ctx, "Signed in", log.FieldUserID, acc.ID)
	return acc, nil
}

// SignUp registers and starts the session.
func (s *AccountService) SignUp(ctx context.Context, sess *session.Session, in SignUpInput) (core.Account, error) {
	acc, err := s.Register(ctx, in)
	if err != nil {
		return core.Account{}, err
	}
	if err := s.Start(ctx, sess, acc); err != nil {
		return core.Account{}, err
	}
	return acc, nil
}

// SignOut forgets the user and every cached record.
func (s *AccountService) SignOut(ctx context.Context, sess *session.Session) error {
	userID, _ := sess.UserID(ctx)
	if err := sess.Clear(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.logger.InfoContext(ctx, "Signed out", log.FieldUserID, userID)
	return nil
}

func (s *AccountService) Profile(ctx context.Context, sess *session.Session) (core.Account, error) {
	return sess.Profile(ctx)
}

func validateSignUp(in SignUpInput) (remote.SignUpRequest, error) {
	req := remote.SignUpRequest{
		FullName: strings.TrimSpace(in.FullName),
		Username: strings.TrimSpace(in.Username),
		Email:    strings.TrimSpace(in.Email),
		Password: in.Password,
	}
	if req.FullName == "" || req.Username == "" || req.Email == "" || req.Password == "" {
		return req, invalid("form", "please fill in all required fields", nil)
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return req, invalid("confirm_password", "passwords do not match", nil)
	}
	switch n := utf8.RuneCountInString(in.Password); {
	case n < minPasswordLen:
		return req, invalid("password", fmt.Sprintf("password must be at least %d characters long", minPasswordLen), nil)
	case n > maxPasswordLen:
		return req, invalid("password", fmt.Sprintf("password must be at most %d characters long", maxPasswordLen), nil)
	}
	if !emailPattern.MatchString(req.Email) {
		return req, invalid("email", "please enter a valid email address", nil)
	}
	return req, nil
}
