package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
	"github.com/totegamma/cozykost/jwt"
)

const testPrivateKey = "fc5c5c9e1d3b6c5e5f5a0b7f1cd4e1f5a2fbd1f3b3f5c7bd5dfb2a1b1c5d9e21"

type mockUserRepo struct {
	users map[string]domain.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]domain.User)}
}

func (m *mockUserRepo) Create(ctx context.Context, user domain.User) error {
	for _, u := range m.users {
		if u.Email == user.Email {
			return domain.ErrConflict
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) Get(ctx context.Context, id string) (domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.NotFoundError{Resource: "user"}
}

func (m *mockUserRepo) Update(ctx context.Context, user domain.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return domain.NotFoundError{Resource: "user"}
	}
	m.users[user.ID] = user
	return nil
}

func testConfig(t *testing.T) domain.Config {
	t.Helper()
	signer, err := cozykost.PrivKeyToAddr(testPrivateKey, cozykost.SignerPrefix)
	require.NoError(t, err)
	return domain.Config{
		FQDN:       "kost.example.com",
		PrivateKey: testPrivateKey,
		SignerID:   signer,
		TokenTTL:   time.Hour,
	}
}

func TestAuthUsecaseSignupAndLogin(t *testing.T) {
	repo := newMockUserRepo()
	config := testConfig(t)
	uc := NewAuthUsecase(repo, config)
	ctx := context.Background()

	profile, err := uc.Signup(ctx, cozykost.SignupRequest{
		Name:     "Budi",
		Email:    " Budi@Example.com ",
		Phone:    "0812",
		Password: "rahasia",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, "budi@example.com", profile.Email)
	assert.True(t, profile.Settings.EmailNotification)
	assert.NotEqual(t, "rahasia", repo.users[profile.ID].PasswordHash)

	res, err := uc.Login(ctx, cozykost.LoginRequest{Email: "budi@example.com", Password: "rahasia"})
	require.NoError(t, err)
	assert.Equal(t, profile.ID, res.UserID)

	header, claims, err := jwt.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, config.SignerID, header.KeyID)
	assert.Equal(t, profile.ID, claims.Subject)
	assert.Equal(t, config.FQDN, claims.Audience)
}

func TestAuthUsecaseSignupDuplicateEmail(t *testing.T) {
	uc := NewAuthUsecase(newMockUserRepo(), testConfig(t))
	ctx := context.Background()
	req := cozykost.SignupRequest{Name: "Budi", Email: "budi@example.com", Password: "rahasia"}

	_, err := uc.Signup(ctx, req)
	require.NoError(t, err)
	_, err = uc.Signup(ctx, req)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAuthUsecaseSignupValidation(t *testing.T) {
	uc := NewAuthUsecase(newMockUserRepo(), testConfig(t))
	ctx := context.Background()

	cases := []cozykost.SignupRequest{
		{Name: "Budi", Email: "not-an-email", Password: "rahasia"},
		{Name: "Budi", Email: "budi@example.com", Password: "123"},
		{Name: " ", Email: "budi@example.com", Password: "rahasia"},
	}
	for _, req := range cases {
		_, err := uc.Signup(ctx, req)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "request %+v", req)
	}
}

func TestAuthUsecaseLoginRejectsBadCredentials(t *testing.T) {
	uc := NewAuthUsecase(newMockUserRepo(), testConfig(t))
	ctx := context.Background()

	_, err := uc.Signup(ctx, cozykost.SignupRequest{Name: "Budi", Email: "budi@example.com", Password: "rahasia"})
	require.NoError(t, err)

	_, err = uc.Login(ctx, cozykost.LoginRequest{Email: "budi@example.com", Password: "salah"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = uc.Login(ctx, cozykost.LoginRequest{Email: "nobody@example.com", Password: "rahasia"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}
