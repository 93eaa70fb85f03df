package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

var ErrUnauthorized = errors.New("unauthorized")

type AuthService struct {
	verifier ports.TokenVerifier
}

func NewAuthService(verifier ports.TokenVerifier) *AuthService {
	return &AuthService{verifier: verifier}
}

// Authenticate verifies token and returns the actor with the raw token kept
// for forwarding to the configuration collaborator.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Actor, error) {
	token = strings.TrimSpace(token)
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return domain.Actor{}, ErrUnauthorized
	}

	actor, err := s.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return domain.Actor{}, err
		}
		return domain.Actor{}, errors.Join(ErrUnauthorized, err)
	}
	if err := actor.Validate(); err != nil {
		return domain.Actor{}, ErrUnauthorized
	}
	if actor.UserType == "" {
		actor.UserType = domain.UserTypeUser
	}
	actor.Token = token
	return actor, nil
}
