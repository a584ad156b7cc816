package usecase

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
	"github.com/totegamma/cozykost/jwt"
)

const (
	minPasswordLength = 6
	defaultTokenTTL   = 7 * 24 * time.Hour
)

type AuthUsecase struct {
	users  UserRepository
	config domain.Config
}

func NewAuthUsecase(users UserRepository, config domain.Config) *AuthUsecase {
	return &AuthUsecase{users: users, config: config}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Signup creates an account with default settings and returns its profile.
func (uc *AuthUsecase) Signup(ctx context.Context, req cozykost.SignupRequest) (cozykost.Profile, error) {
	ctx, span := tracer.Start(ctx, "Auth.Usecase.Signup")
	defer span.End()

	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return cozykost.Profile{}, errors.Join(domain.ErrInvalidInput, errors.New("invalid email"))
	}
	if len(req.Password) < minPasswordLength {
		return cozykost.Profile{}, errors.Join(domain.ErrInvalidInput, errors.New("password too short"))
	}
	if strings.TrimSpace(req.Name) == "" {
		return cozykost.Profile{}, errors.Join(domain.ErrInvalidInput, errors.New("name is required"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return cozykost.Profile{}, err
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(req.Name),
		Phone:        req.Phone,
		Settings: cozykost.Settings{
			EmailNotification: true,
			ChatNotification:  true,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := uc.users.Create(ctx, user); err != nil {
		span.RecordError(err)
		return cozykost.Profile{}, err
	}

	return user.Profile(), nil
}

// Login checks the password and issues a session token.
func (uc *AuthUsecase) Login(ctx context.Context, req cozykost.LoginRequest) (cozykost.LoginResponse, error) {
	ctx, span := tracer.Start(ctx, "Auth.Usecase.Login")
	defer span.End()

	user, err := uc.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return cozykost.LoginResponse{}, domain.ErrInvalidCredentials
		}
		span.RecordError(err)
		return cozykost.LoginResponse{}, err
	}
	if user.PasswordHash == "" {
		return cozykost.LoginResponse{}, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return cozykost.LoginResponse{}, domain.ErrInvalidCredentials
	}

	token, err := uc.IssueToken(user.ID)
	if err != nil {
		span.RecordError(err)
		return cozykost.LoginResponse{}, err
	}

	return cozykost.LoginResponse{UserID: user.ID, Token: token}, nil
}

// IssueToken signs a session token for userID with the server key.
func (uc *AuthUsecase) IssueToken(userID string) (string, error) {
	ttl := uc.config.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := time.Now()

	return jwt.Create(jwt.Claims{
		Issuer:         uc.config.SignerID,
		Subject:        userID,
		Audience:       uc.config.FQDN,
		IssuedAt:       strconv.FormatInt(now.Unix(), 10),
		ExpirationTime: strconv.FormatInt(now.Add(ttl).Unix(), 10),
		JWTID:          uuid.NewString(),
	}, uc.config.PrivateKey)
}
