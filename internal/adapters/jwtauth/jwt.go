package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carry the actor: sub is the user id, scope the granted scopes.
type Claims struct {
	Role            string   `json:"role,omitempty"`
	UserType        string   `json:"userType,omitempty"`
	PrimaryOfficeID string   `json:"primaryOfficeId,omitempty"`
	Scope           []string `json:"scope"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens issued by the identity service.
type Verifier struct {
	signingKey []byte
	issuer     string
	audience   string
}

var _ ports.TokenVerifier = (*Verifier)(nil)

func NewVerifier(signingKey, issuer, audience string) *Verifier {
	return &Verifier{signingKey: []byte(signingKey), issuer: issuer, audience: audience}
}

func (v *Verifier) Verify(_ context.Context, token string) (domain.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Actor{}, ErrTokenExpired
		}
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.Actor{}, ErrInvalidToken
	}

	return domain.Actor{
		ID:              claims.Subject,
		Role:            claims.Role,
		UserType:        domain.UserType(claims.UserType),
		PrimaryOfficeID: claims.PrimaryOfficeID,
		Scopes:          claims.Scope,
	}, nil
}

// Issue signs a token for actor. Used by the token command and tests.
func (v *Verifier) Issue(actor domain.Actor, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:            actor.Role,
		UserType:        string(actor.UserType),
		PrimaryOfficeID: actor.PrimaryOfficeID,
		Scope:           actor.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			ID:        uuid.NewString(),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
