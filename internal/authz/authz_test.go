package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tally/internal/platform/middleware"
	dErrors "tally/pkg/domain-errors"
)

// =============================================================================
// Authorization Test Suite
// =============================================================================

type AuthzSuite struct {
	suite.Suite
	jwt        *JWTService
	authorizer *CapabilityAuthorizer
}

func TestAuthzSuite(t *testing.T) {
	suite.Run(t, new(AuthzSuite))
}

func (s *AuthzSuite) SetupTest() {
	s.jwt = NewJWTService("test-signing-key", "tally-test")
	s.authorizer = NewCapabilityAuthorizer()
}

func (s *AuthzSuite) TestValidateToken() {
	s.Run("round-trips actor id and capabilities", func() {
		token, err := s.jwt.GenerateToken("treasurer-1", []string{ActionIssueRefund}, time.Hour)
		s.Require().NoError(err)

		claims, err := s.jwt.ValidateToken(token)
		s.Require().NoError(err)
		s.Equal("treasurer-1", claims.ActorID)
		s.Equal([]string{ActionIssueRefund}, claims.Capabilities)
	})

	s.Run("expired token is rejected", func() {
		token, err := s.jwt.GenerateToken("treasurer-1", nil, -time.Minute)
		s.Require().NoError(err)

		_, err = s.jwt.ValidateToken(token)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	s.Run("token signed with a different key is rejected", func() {
		other := NewJWTService("wrong-key", "tally-test")
		token, err := other.GenerateToken("treasurer-1", nil, time.Hour)
		s.Require().NoError(err)

		_, err = s.jwt.ValidateToken(token)
		s.Error(err)
	})
}

func (s *AuthzSuite) TestHasCapability() {
	ctx := context.Background()

	s.Run("bare grant matches any scope", func() {
		actor := &middleware.ActorClaims{ActorID: "a", Capabilities: []string{ActionIssueRefund}}
		s.True(s.authorizer.HasCapability(ctx, actor, ActionIssueRefund, "org_1"))
	})

	s.Run("scoped grant matches only its scope", func() {
		actor := &middleware.ActorClaims{ActorID: "a", Capabilities: []string{ActionIssueRefund + ":org_1"}}
		s.True(s.authorizer.HasCapability(ctx, actor, ActionIssueRefund, "org_1"))
		s.False(s.authorizer.HasCapability(ctx, actor, ActionIssueRefund, "org_2"))
	})

	s.Run("nil actor never passes", func() {
		s.False(s.authorizer.HasCapability(ctx, nil, ActionIssueRefund, ""))
	})
}

func (s *AuthzSuite) TestRequire() {
	ctx := context.Background()

	s.Run("missing actor reports unauthenticated", func() {
		err := Require(ctx, s.authorizer, nil, ActionIssueRefund, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	s.Run("missing capability reports forbidden", func() {
		actor := &middleware.ActorClaims{ActorID: "a"}
		err := Require(ctx, s.authorizer, actor, ActionIssueRefund, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("granted capability passes", func() {
		actor := &middleware.ActorClaims{ActorID: "a", Capabilities: []string{ActionIssueRefund}}
		s.NoError(Require(ctx, s.authorizer, actor, ActionIssueRefund, ""))
	})
}
