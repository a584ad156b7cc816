package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
)

type ProfileUsecase struct {
	users UserRepository
}

func NewProfileUsecase(users UserRepository) *ProfileUsecase {
	return &ProfileUsecase{users: users}
}

func (uc *ProfileUsecase) Get(ctx context.Context, requester, owner string) (cozykost.Profile, error) {
	ctx, span := tracer.Start(ctx, "Profile.Usecase.Get")
	defer span.End()

	if err := authorizeOwner(requester, owner); err != nil {
		return cozykost.Profile{}, err
	}

	user, err := uc.users.Get(ctx, owner)
	if err != nil {
		span.RecordError(err)
		return cozykost.Profile{}, err
	}
	return user.Profile(), nil
}

// Update applies patch to the owner's profile and returns the stored result.
func (uc *ProfileUsecase) Update(ctx context.Context, requester, owner string, patch cozykost.ProfilePatch) (cozykost.Profile, error) {
	ctx, span := tracer.Start(ctx, "Profile.Usecase.Update")
	defer span.End()

	if err := authorizeOwner(requester, owner); err != nil {
		return cozykost.Profile{}, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return cozykost.Profile{}, errors.Join(domain.ErrInvalidInput, errors.New("name cannot be empty"))
	}

	user, err := uc.users.Get(ctx, owner)
	if err != nil {
		span.RecordError(err)
		return cozykost.Profile{}, err
	}

	user.Apply(patch)
	if err := uc.users.Update(ctx, user); err != nil {
		span.RecordError(err)
		return cozykost.Profile{}, err
	}
	return user.Profile(), nil
}
