package ratelimit

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GenFox/app/models"
)

// UserKey is the window key of one end user within a tenant.
func UserKey(tenantID uint, userRef string) string {
	return fmt.Sprintf("rl:user:%d:%s", tenantID, userRef)
}

// TenantKey is the window key shared by every user of a tenant.
func TenantKey(tenantID uint) string {
	return fmt.Sprintf("rl:tenant:%d", tenantID)
}

// Decision is the combined outcome of the per-user and per-tenant windows.
type Decision struct {
	Allowed bool
	User    Result
	// Tenant is zero when the user window already rejected the request.
	Tenant Result
	// Binding is the more restrictive of the two results.
	Binding Result
}

// Admission applies a tenant's rate-limit settings to incoming requests.
type Admission struct {
	limiter *Limiter
}

func NewAdmission(limiter *Limiter) *Admission {
	return &Admission{limiter: limiter}
}

// Check admits a request only if both the user and the tenant window allow it.
// The tenant window is consulted only after the user window passed, and a
// tenant rejection gives the user slot back, so a rejected request leaves
// neither window charged.
func (a *Admission) Check(ctx context.Context, tenant *models.Tenant, userRef string) Decision {
	window := tenant.RateLimitWindow()
	user := a.limiter.CheckLimit(ctx, UserKey(tenant.ID, userRef), tenant.EffectiveUserRateLimit(), window)
	if !user.Allowed {
		log.Infof("[RateLimit] Tenant %d user %s rejected by the user window", tenant.ID, userRef)
		return Decision{Allowed: false, User: user, Binding: user}
	}

	ten := a.limiter.CheckLimit(ctx, TenantKey(tenant.ID), tenant.EffectiveTenantRateLimit(), window)
	if !ten.Allowed {
		if err := a.limiter.Undo(ctx, user); err != nil {
			log.Warnf("[RateLimit] Failed to release user slot of %s: %v", userRef, err)
		} else if !user.Disabled() && user.Remaining < user.Limit {
			user.Remaining++
		}
		log.Infof("[RateLimit] Tenant %d user %s rejected by the tenant window", tenant.ID, userRef)
		return Decision{Allowed: false, User: user, Tenant: ten, Binding: ten}
	}

	return Decision{
		Allowed: true,
		User:    user,
		Tenant:  ten,
		Binding: moreRestrictive(user, ten),
	}
}

// moreRestrictive picks the enabled window with fewer remaining slots.
func moreRestrictive(a, b Result) Result {
	switch {
	case a.Disabled():
		return b
	case b.Disabled():
		return a
	case b.Remaining < a.Remaining:
		return b
	default:
		return a
	}
}
