package authz

import (
	"context"

	"tally/internal/platform/middleware"
	dErrors "tally/pkg/domain-errors"
)

// Capability actions guarded by the authorizer.
const (
	ActionIssueRefund   = "refunds:issue"
	ActionOverrideLimit = "limits:override"
	ActionResolveReview = "reconcile:resolve"
)

// Authorizer answers hasCapability(actor, action, scope). Scope is the
// organization the operation touches; an empty scope matches any grant for
// the action.
type Authorizer interface {
	HasCapability(ctx context.Context, actor *middleware.ActorClaims, action, scope string) bool
}

// CapabilityAuthorizer grants from the token's capability list. A grant is
// either the bare action ("refunds:issue") or scoped with an organization
// suffix ("refunds:issue:org_123").
type CapabilityAuthorizer struct{}

func NewCapabilityAuthorizer() *CapabilityAuthorizer {
	return &CapabilityAuthorizer{}
}

func (a *CapabilityAuthorizer) HasCapability(_ context.Context, actor *middleware.ActorClaims, action, scope string) bool {
	if actor == nil {
		return false
	}
	scoped := action
	if scope != "" {
		scoped = action + ":" + scope
	}
	for _, cap := range actor.Capabilities {
		if cap == action || cap == scoped {
			return true
		}
	}
	return false
}

// Require converts a capability check into the error the transport maps to
// 403, so services share one failure shape.
func Require(ctx context.Context, authorizer Authorizer, actor *middleware.ActorClaims, action, scope string) error {
	if actor == nil {
		return dErrors.New(dErrors.CodeUnauthenticated, "operation requires an authenticated actor")
	}
	if !authorizer.HasCapability(ctx, actor, action, scope) {
		return dErrors.Newf(dErrors.CodeForbidden, "actor lacks capability %s", action)
	}
	return nil
}
