package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/GenFox/app/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewLimiter(client).WithClock(clock.Now), mr, clock
}

func TestCheckLimit_SlidingWindow(t *testing.T) {
	l, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := l.CheckLimit(ctx, "k", 5, time.Minute)
		require.True(t, res.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 4-i, res.Remaining)
		clock.Advance(time.Second)
	}

	denied := l.CheckLimit(ctx, "k", 5, time.Minute)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Remaining)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))
	// Oldest entry was admitted 5s ago, so the window frees up in 55s.
	assert.Equal(t, 55*time.Second, denied.RetryAfter)

	clock.Advance(61 * time.Second)
	res := l.CheckLimit(ctx, "k", 5, time.Minute)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestCheckLimit_RejectedRequestsDoNotConsume(t *testing.T) {
	l, mr, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.CheckLimit(ctx, "k", 3, time.Minute).Allowed)
	}
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		assert.False(t, l.CheckLimit(ctx, "k", 3, time.Minute).Allowed)
	}

	members, err := mr.ZMembers("k")
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestCheckLimit_KeysAreIndependent(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	require.True(t, l.CheckLimit(ctx, "a", 1, time.Minute).Allowed)
	assert.False(t, l.CheckLimit(ctx, "a", 1, time.Minute).Allowed)
	assert.True(t, l.CheckLimit(ctx, "b", 1, time.Minute).Allowed)
}

func TestCheckLimit_FailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	l := NewLimiter(client)
	mr.Close()

	res := l.CheckLimit(context.Background(), "k", 1, time.Minute)
	assert.True(t, res.Allowed)
	assert.True(t, res.FailOpen)
}

func TestResultHeaders(t *testing.T) {
	reset := time.Unix(1_700_000_060, 0)
	h := Result{Allowed: false, Limit: 5, Remaining: 0, ResetAt: reset, RetryAfter: 1500 * time.Millisecond}.Headers()
	assert.Equal(t, "5", h["X-RateLimit-Limit"])
	assert.Equal(t, "0", h["X-RateLimit-Remaining"])
	assert.Equal(t, "1700000060", h["X-RateLimit-Reset"])
	assert.Equal(t, "2", h["Retry-After"])

	h = Result{Allowed: true, Limit: 5, Remaining: 3, ResetAt: reset}.Headers()
	_, ok := h["Retry-After"]
	assert.False(t, ok)
}

func TestAdmission_MostRestrictiveWins(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	adm := NewAdmission(l)
	ctx := context.Background()
	tenant := &models.Tenant{ID: 7, UserRateLimit: 2, TenantRateLimit: 3, RateLimitWindowSeconds: 60}

	d := adm.Check(ctx, tenant, "alice")
	require.True(t, d.Allowed)
	assert.Equal(t, 1, d.Binding.Remaining)
	assert.Equal(t, 2, d.Binding.Limit)

	require.True(t, adm.Check(ctx, tenant, "alice").Allowed)

	d = adm.Check(ctx, tenant, "alice")
	assert.False(t, d.Allowed)
	assert.False(t, d.User.Allowed)
	assert.Equal(t, d.User, d.Binding)

	// Only the two admitted calls count against the tenant.
	d = adm.Check(ctx, tenant, "bob")
	require.True(t, d.Allowed)
	assert.Equal(t, 0, d.Binding.Remaining)
	assert.Equal(t, 3, d.Binding.Limit)

	d = adm.Check(ctx, tenant, "carol")
	assert.False(t, d.Allowed)
	assert.True(t, d.User.Allowed)
	assert.False(t, d.Tenant.Allowed)
	assert.Equal(t, d.Tenant, d.Binding)
}

func TestAdmission_UserRejectionsLeaveTenantWindowAlone(t *testing.T) {
	l, mr, _ := newTestLimiter(t)
	adm := NewAdmission(l)
	ctx := context.Background()
	tenant := &models.Tenant{ID: 3, UserRateLimit: 2, TenantRateLimit: 5, RateLimitWindowSeconds: 60}

	admitted := 0
	for i := 0; i < 10; i++ {
		if adm.Check(ctx, tenant, "spammer").Allowed {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted)

	members, err := mr.ZMembers(TenantKey(3))
	require.NoError(t, err)
	assert.Len(t, members, 2)

	d := adm.Check(ctx, tenant, "bob")
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Tenant.Remaining)
}

func TestAdmission_TenantRejectionReleasesUserSlot(t *testing.T) {
	l, mr, _ := newTestLimiter(t)
	adm := NewAdmission(l)
	ctx := context.Background()
	tenant := &models.Tenant{ID: 4, UserRateLimit: 3, TenantRateLimit: 1, RateLimitWindowSeconds: 60}

	require.True(t, adm.Check(ctx, tenant, "alice").Allowed)

	d := adm.Check(ctx, tenant, "bob")
	require.False(t, d.Allowed)
	assert.False(t, d.Tenant.Allowed)
	assert.Equal(t, 3, d.User.Remaining)

	// bob's rejected call holds no slot in his own window.
	members, _ := mr.ZMembers(UserKey(4, "bob"))
	assert.Empty(t, members)
}

func TestMoreRestrictive_SkipsDisabledWindow(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	off := l.CheckLimit(ctx, "off", 0, time.Minute)
	require.True(t, off.Allowed)
	assert.True(t, off.Disabled())
	assert.Empty(t, off.Headers())

	on := l.CheckLimit(ctx, "on", 4, time.Minute)
	require.True(t, on.Allowed)

	assert.Equal(t, on, moreRestrictive(off, on))
	assert.Equal(t, on, moreRestrictive(on, off))
	assert.Equal(t, "4", moreRestrictive(off, on).Headers()["X-RateLimit-Limit"])
	assert.Equal(t, "3", moreRestrictive(off, on).Headers()["X-RateLimit-Remaining"])
}
