// Package authz owns actor authentication and the capability check invoked
// before money-reversing operations. Donor identity verification is external;
// this package only decides what an already-identified actor may do.
package authz

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tally/internal/platform/middleware"
	dErrors "tally/pkg/domain-errors"
)

// Claims are the JWT claims carried by actor access tokens.
type Claims struct {
	ActorID      string   `json:"actor_id"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// JWTService issues and validates actor tokens. It implements
// middleware.TokenValidator.
type JWTService struct {
	signingKey []byte
	issuer     string
}

func NewJWTService(signingKey, issuer string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateToken mints an actor token; used by the admin tooling and tests.
func (s *JWTService) GenerateToken(actorID string, capabilities []string, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID:      actorID,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*middleware.ActorClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthenticated, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "invalid token claims")
	}
	if claims.ActorID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "token is missing actor_id")
	}
	return &middleware.ActorClaims{
		ActorID:      claims.ActorID,
		Capabilities: claims.Capabilities,
	}, nil
}
