package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

type verifierStub struct {
	fn func(ctx context.Context, token string) (domain.Actor, error)
}

func (v verifierStub) Verify(ctx context.Context, token string) (domain.Actor, error) {
	return v.fn(ctx, token)
}

func TestAuthServiceAuthenticate(t *testing.T) {
	svc := NewAuthService(verifierStub{fn: func(_ context.Context, token string) (domain.Actor, error) {
		if token != "good" {
			return domain.Actor{}, errors.New("signature is invalid")
		}
		return domain.Actor{ID: "u1", Scopes: []string{domain.ScopeRecordRead}}, nil
	}})

	actor, err := svc.Authenticate(context.Background(), "Bearer good")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if actor.ID != "u1" || actor.Token != "good" || actor.UserType != domain.UserTypeUser {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := svc.Authenticate(context.Background(), "Bearer bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "  "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty token, got %v", err)
	}
}

func TestAuthServiceRejectsActorWithoutSubject(t *testing.T) {
	svc := NewAuthService(verifierStub{fn: func(context.Context, string) (domain.Actor, error) {
		return domain.Actor{}, nil
	}})
	if _, err := svc.Authenticate(context.Background(), "token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
