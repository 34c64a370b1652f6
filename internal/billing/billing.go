package billing

import (
	"context"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/registry"
)

// Authority decides whether a deploy or upgrade may go ahead. Implementations must be
// side-effect free and cheap enough to call on every attempt.
type Authority interface {
	CanDeploy(ctx context.Context, svc *domain.Service) bool
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(ctx context.Context, svc *domain.Service) bool

// CanDeploy calls f.
func (f AuthorityFunc) CanDeploy(ctx context.Context, svc *domain.Service) bool {
	return f(ctx, svc)
}

// AllowAll authorizes every deployment. It is the policy for installations that do not bill.
type AllowAll struct{}

// CanDeploy always returns true.
func (AllowAll) CanDeploy(context.Context, *domain.Service) bool {
	return true
}

// Unblocked refuses services an operator has blocked.
type Unblocked struct{}

// CanDeploy returns false for blocked services.
func (Unblocked) CanDeploy(_ context.Context, svc *domain.Service) bool {
	return svc != nil && !svc.Blocked
}

// Policy names accepted by BILLING_POLICY.
const (
	PolicyAllowAll  = "allow-all"
	PolicyUnblocked = "unblocked"
)

// NewRegistry returns the built-in policies keyed by name.
func NewRegistry() *registry.Registry[Authority] {
	reg := registry.New[Authority]()
	reg.MustRegister(PolicyAllowAll, AllowAll{})
	reg.MustRegister(PolicyUnblocked, Unblocked{})
	return reg
}
