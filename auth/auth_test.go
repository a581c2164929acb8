package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/auth"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/docstore/memory"
	"github.com/warp/bakery-ops/schema"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type harness struct {
	svc   *auth.Service
	store *memory.Memory
	clock *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	clk := &clock{now: time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)}
	revoked := auth.NewMemoryRevocations()
	revoked.Now = clk.Now

	svc, err := auth.NewService(store, revoked, auth.Options{
		Secret:     []byte("test-secret-at-least-32-bytes-long"),
		TTL:        time.Hour,
		BcryptCost: bcrypt.MinCost,
		Now:        clk.Now,
	})
	require.NoError(t, err)
	return &harness{svc: svc, store: store, clock: clk}
}

func (h *harness) register(t *testing.T, email, password string, role bakery.Role) *bakery.User {
	t.Helper()
	user, err := h.svc.Register(context.Background(), bakery.SystemActor, email, password, role, "")
	require.NoError(t, err)
	return user
}

// =============================================================================
// SIGN IN / VERIFY
// =============================================================================

func TestSignIn_IssuesVerifiableToken(t *testing.T) {
	// GIVEN: A registered bakery user
	// WHEN: They sign in with the right password
	// THEN: The token verifies back to their identity

	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "baker@example.com", "correct-horse", bakery.RoleBakery)

	session, err := h.svc.SignIn(ctx, "  Baker@Example.com ", "correct-horse")

	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, user.ID, session.Identity.UID)
	assert.Equal(t, bakery.RoleBakery, session.Identity.Role)
	assert.Equal(t, h.clock.now.Add(time.Hour), session.ExpiresAt)

	identity, err := h.svc.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, bakery.Actor{UID: user.ID, Email: "baker@example.com", Role: bakery.RoleBakery}, identity.Actor())
}

func TestSignIn_RejectsBadCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "baker@example.com", "correct-horse", bakery.RoleBakery)

	_, err := h.svc.SignIn(ctx, "baker@example.com", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = h.svc.SignIn(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	repos := bakery.NewRepositories(h.store)
	require.NoError(t, repos.Users.Update(ctx, user.ID, docstore.Document{"active": false}))
	_, err = h.svc.SignIn(ctx, "baker@example.com", "correct-horse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "inactive users cannot sign in")
}

func TestVerify_RejectsExpiredAndForeignTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "baker@example.com", "correct-horse", bakery.RoleBakery)
	session, err := h.svc.SignIn(ctx, "baker@example.com", "correct-horse")
	require.NoError(t, err)

	other, err := auth.NewService(h.store, nil, auth.Options{Secret: []byte("a-different-secret"), Now: h.clock.Now})
	require.NoError(t, err)
	_, err = other.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = h.svc.Verify(ctx, "not-a-token")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	h.clock.now = h.clock.now.Add(2 * time.Hour)
	_, err = h.svc.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestVerify_PicksUpRoleChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "shop@example.com", "correct-horse", bakery.RoleRetail)
	session, err := h.svc.SignIn(ctx, "shop@example.com", "correct-horse")
	require.NoError(t, err)

	repos := bakery.NewRepositories(h.store)
	require.NoError(t, repos.Users.Update(ctx, user.ID, docstore.Document{"role": "fulfillment"}))

	identity, err := h.svc.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, bakery.RoleFulfillment, identity.Role)
}

// =============================================================================
// SIGN OUT / SUBSCRIPTIONS
// =============================================================================

func TestSignOut_RevokesAndNotifies(t *testing.T) {
	// GIVEN: A subscriber and a signed-in user
	// WHEN: The user signs out
	// THEN: The subscriber saw the identity then nil, and the token is dead

	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "packer@example.com", "correct-horse", bakery.RoleFulfillment)

	var events []*auth.Identity
	unsubscribe := h.svc.OnAuthChange(func(id *auth.Identity) { events = append(events, id) })

	session, err := h.svc.SignIn(ctx, "packer@example.com", "correct-horse")
	require.NoError(t, err)
	require.NoError(t, h.svc.SignOut(ctx, session.Token))

	require.Len(t, events, 2)
	require.NotNil(t, events[0])
	assert.Equal(t, "packer@example.com", events[0].Email)
	assert.Nil(t, events[1])

	_, err = h.svc.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	unsubscribe()
	unsubscribe()
	_, err = h.svc.SignIn(ctx, "packer@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Len(t, events, 2, "no events after unsubscribe")
}

func TestSignOut_OtherSessionsStayValid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "packer@example.com", "correct-horse", bakery.RoleFulfillment)

	first, err := h.svc.SignIn(ctx, "packer@example.com", "correct-horse")
	require.NoError(t, err)
	second, err := h.svc.SignIn(ctx, "packer@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, h.svc.SignOut(ctx, first.Token))

	_, err = h.svc.Verify(ctx, second.Token)
	assert.NoError(t, err)
}

// =============================================================================
// ACCOUNT MANAGEMENT
// =============================================================================

func TestRegister_Rules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "baker@example.com", "correct-horse", bakery.RoleBakery)

	_, err := h.svc.Register(ctx, bakery.Actor{UID: "u1", Role: bakery.RoleBakery}, "x@example.com", "correct-horse", bakery.RoleAdmin, "")
	assert.ErrorIs(t, err, bakery.ErrForbidden)

	_, err = h.svc.Register(ctx, bakery.SystemActor, "x@example.com", "short", bakery.RoleRetail, "")
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = h.svc.Register(ctx, bakery.SystemActor, "x@example.com", "correct-horse", bakery.Role("owner"), "")
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = h.svc.Register(ctx, bakery.SystemActor, "BAKER@example.com", "correct-horse", bakery.RoleRetail, "")
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
}

func TestSetPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	baker := h.register(t, "baker@example.com", "correct-horse", bakery.RoleBakery)
	shop := h.register(t, "shop@example.com", "correct-horse", bakery.RoleRetail)
	self := bakery.Actor{UID: baker.ID, Role: bakery.RoleBakery}

	require.NoError(t, h.svc.SetPassword(ctx, self, baker.ID, "battery-staple"))

	_, err := h.svc.SignIn(ctx, "baker@example.com", "correct-horse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = h.svc.SignIn(ctx, "baker@example.com", "battery-staple")
	assert.NoError(t, err)

	err = h.svc.SetPassword(ctx, self, shop.ID, "battery-staple")
	assert.ErrorIs(t, err, bakery.ErrForbidden)

	err = h.svc.SetPassword(ctx, bakery.SystemActor, "missing", "battery-staple")
	assert.True(t, bakery.IsNotFound(err))
}

func TestEnsureAdmin_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.EnsureAdmin(ctx, "admin@example.com", "change-me-now")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = h.svc.EnsureAdmin(ctx, "admin@example.com", "change-me-now")
	require.NoError(t, err)
	assert.False(t, created)

	session, err := h.svc.SignIn(ctx, "admin@example.com", "change-me-now")
	require.NoError(t, err)
	assert.Equal(t, bakery.RoleAdmin, session.Identity.Role)
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := auth.NewService(memory.New(), nil, auth.Options{})
	assert.Error(t, err)
}
