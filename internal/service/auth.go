package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
	"github.com/totegamma/cozykost/jwt"
)

var tracer = otel.Tracer("auth")

const maxCachedTokenAge = 10 * time.Minute

// IDTokenVerifier verifies tokens issued by an external identity provider.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (uid string, email string, err error)
}

// UserProvisioner creates the local account of an externally authenticated user.
type UserProvisioner interface {
	Get(ctx context.Context, id string) (domain.User, error)
	Create(ctx context.Context, user domain.User) error
}

type AuthService struct {
	config   domain.Config
	cache    *cache.Cache
	verifier IDTokenVerifier
	users    UserProvisioner
}

// NewAuthService builds the token authenticator. verifier may be nil, in which case
// only session tokens are accepted.
func NewAuthService(
	config domain.Config,
	verifier IDTokenVerifier,
	users UserProvisioner,
) *AuthService {
	return &AuthService{
		config:   config,
		cache:    cache.New(maxCachedTokenAge, 15*time.Minute),
		verifier: verifier,
		users:    users,
	}
}

type AuthResult struct {
	UserID string
	Method domain.AuthMethod
}

// Authenticate resolves a bearer token to a user. Session tokens are tried first.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.Authenticate")
	defer span.End()

	if cached, found := s.cache.Get(token); found {
		result := cached.(AuthResult)
		span.SetAttributes(attribute.Bool("cached", true))
		return &result, nil
	}

	result, ttl, err := s.AuthJwt(ctx, token)
	if err != nil && s.verifier != nil {
		result, ttl, err = s.authFirebase(ctx, token)
	}
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(domain.ErrUnauthenticated, err.Error())
	}

	if ttl > maxCachedTokenAge {
		ttl = maxCachedTokenAge
	}
	if ttl > 0 {
		s.cache.Set(token, *result, ttl)
	}
	return result, nil
}

// AuthJwt validates a session token signed by this server.
func (s *AuthService) AuthJwt(ctx context.Context, token string) (*AuthResult, time.Duration, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.AuthJwt")
	defer span.End()

	header, claims, err := jwt.Validate(token)
	if err != nil {
		span.RecordError(errors.Wrap(err, "jwt validation failed"))
		return nil, 0, err
	}

	keyID := header.KeyID
	if keyID == "" {
		keyID = claims.Issuer
	}
	if !cozykost.IsSignerID(keyID) || keyID != s.config.SignerID {
		err := fmt.Errorf("jwt issuer mismatch: %s", keyID)
		span.RecordError(err)
		return nil, 0, err
	}

	if claims.Audience != s.config.FQDN {
		err := fmt.Errorf("jwt audience mismatch: expected %s, got %s", s.config.FQDN, claims.Audience)
		span.RecordError(err)
		return nil, 0, err
	}

	if claims.Subject == "" {
		err := fmt.Errorf("jwt subject missing")
		span.RecordError(err)
		return nil, 0, err
	}

	ttl := maxCachedTokenAge
	if claims.ExpirationTime != "" {
		exp, err := strconv.ParseInt(claims.ExpirationTime, 10, 64)
		if err == nil {
			ttl = time.Until(time.Unix(exp, 0))
		}
	}

	return &AuthResult{UserID: claims.Subject, Method: domain.AuthMethodSession}, ttl, nil
}

// authFirebase verifies a Firebase ID token and provisions the account on first use.
func (s *AuthService) authFirebase(ctx context.Context, token string) (*AuthResult, time.Duration, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.AuthFirebase")
	defer span.End()

	uid, email, err := s.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	_, err = s.users.Get(ctx, uid)
	if errors.Is(err, domain.ErrNotFound) {
		user := domain.User{
			ID:    uid,
			Email: strings.ToLower(email),
			Settings: cozykost.Settings{
				EmailNotification: true,
				ChatNotification:  true,
			},
			CreatedAt: time.Now().UTC(),
		}
		if user.Email == "" {
			user.Email = placeholderEmail(uid)
		}
		err = s.users.Create(ctx, user)
		if errors.Is(err, domain.ErrConflict) && user.Email != placeholderEmail(uid) {
			// email already belongs to a password account
			user.Email = placeholderEmail(uid)
			err = s.users.Create(ctx, user)
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	return &AuthResult{UserID: uid, Method: domain.AuthMethodFirebase}, maxCachedTokenAge, nil
}

func placeholderEmail(uid string) string {
	return uid + "@users.noreply.cozykost"
}
