/*
Package auth signs users in and resolves bearer tokens to bakery actors.

PURPOSE:
  Users live in the users collection with a bcrypt password hash. SignIn
  checks the password and issues an HS256 JWT carrying the uid, email and
  role. SignOut revokes the token's id until it would have expired anyway.
  Verify turns a token back into an Identity, re-reading the user so role
  changes and deactivation apply to tokens already handed out.

SUBSCRIPTIONS:
  OnAuthChange registers a callback that receives the Identity after every
  successful sign-in and nil after every sign-out. It returns a function
  that removes the callback.

SEE ALSO:
  - tokens.go: JWT claims, signing and parsing
  - revocation.go: RevocationStore (memory, Redis)
  - bakery/policies.go: What each role may do once signed in
*/
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidCredentials is returned for an unknown email, a wrong
	// password or an inactive account. The caller cannot tell which.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrTokenInvalid is returned for malformed, expired or revoked tokens.
	ErrTokenInvalid = errors.New("invalid or expired token")
)

// MinPasswordLength is enforced by Register and SetPassword.
const MinPasswordLength = 8

// =============================================================================
// TYPES
// =============================================================================

// Identity is the signed-in user as seen by the rest of the system.
type Identity struct {
	UID   string      `json:"uid"`
	Email string      `json:"email"`
	Role  bakery.Role `json:"role"`
}

// Actor converts the identity into the actor threaded through bakery calls.
func (i Identity) Actor() bakery.Actor {
	return bakery.Actor{UID: i.UID, Email: i.Email, Role: i.Role}
}

// Session is what SignIn hands back to the client.
type Session struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Options struct {
	Secret     []byte
	TTL        time.Duration // default 12h
	BcryptCost int           // default bcrypt.DefaultCost
	Logger     *zap.Logger
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 12 * time.Hour
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	users   *bakery.Repository[bakery.User]
	revoked RevocationStore
	opts    Options
	log     *zap.Logger

	mu        sync.RWMutex
	listeners map[int]func(*Identity)
	nextID    int
}

func NewService(store docstore.Store, revoked RevocationStore, opts Options) (*Service, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	if revoked == nil {
		revoked = NewMemoryRevocations()
	}
	opts = opts.withDefaults()
	return &Service{
		users:     bakery.NewRepositories(store).Users,
		revoked:   revoked,
		opts:      opts,
		log:       opts.Logger.Named("auth"),
		listeners: make(map[int]func(*Identity)),
	}, nil
}

// SignIn checks the password and issues a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active || user.PasswordHash == "" {
		s.log.Warn("sign in rejected", zap.String("email", email))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Warn("sign in rejected", zap.String("email", email))
		return nil, ErrInvalidCredentials
	}

	identity := Identity{UID: user.ID, Email: user.Email, Role: user.Role}
	token, expires, err := s.issue(identity)
	if err != nil {
		return nil, err
	}

	s.log.Info("user signed in", zap.String("uid", user.ID), zap.String("role", string(user.Role)))
	s.notify(&identity)
	return &Session{Token: token, Identity: identity, ExpiresAt: expires}, nil
}

// SignOut revokes token. Signing out an already revoked token is a no-op.
func (s *Service) SignOut(ctx context.Context, token string) error {
	c, err := s.parse(token)
	if err != nil {
		return err
	}
	if err := s.revoked.Revoke(ctx, c.ID, c.ExpiresAt.Time); err != nil {
		return err
	}
	s.log.Info("user signed out", zap.String("uid", c.Subject))
	s.notify(nil)
	return nil
}

// Verify resolves a bearer token to the current identity of its user.
func (s *Service) Verify(ctx context.Context, token string) (*Identity, error) {
	c, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenInvalid
	}

	user, err := s.users.Get(ctx, c.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, ErrTokenInvalid
	}
	return &Identity{UID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// OnAuthChange subscribes cb to sign-in and sign-out events.
func (s *Service) OnAuthChange(cb func(*Identity)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = cb
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) notify(identity *Identity) {
	s.mu.RLock()
	cbs := make([]func(*Identity), 0, len(s.listeners))
	for _, cb := range s.listeners {
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()

	for _, cb := range cbs {
		if identity == nil {
			cb(nil)
			continue
		}
		cp := *identity
		cb(&cp)
	}
}

// =============================================================================
// ACCOUNT MANAGEMENT
// =============================================================================

// Register creates an active user with a password. Admin only.
func (s *Service) Register(ctx context.Context, actor bakery.Actor, email, password string, role bakery.Role, displayName string) (*bakery.User, error) {
	if err := bakery.Authorize(actor, bakery.OpManageUsers); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, schema.Invalid(schema.KindUser, "password", "must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	raw := docstore.Document{
		"email":        normalizeEmail(email),
		"role":         string(role),
		"active":       true,
		"passwordHash": string(hash),
	}
	if displayName != "" {
		raw["displayName"] = displayName
	}
	if err := s.users.CreateWithID(ctx, uid, raw); err != nil {
		return nil, err
	}

	s.log.Info("user registered", zap.String("uid", uid), zap.String("role", string(role)), zap.String("actor", actor.UID))
	user, err := s.users.MustGet(ctx, uid)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// SetPassword replaces a user's password. Users may change their own;
// admins may change anyone's.
func (s *Service) SetPassword(ctx context.Context, actor bakery.Actor, uid, password string) error {
	if actor.UID != uid {
		if err := bakery.Authorize(actor, bakery.OpManageUsers); err != nil {
			return err
		}
	}
	if len(password) < MinPasswordLength {
		return schema.Invalid(schema.KindUser, "password", "must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.Update(ctx, uid, docstore.Document{"passwordHash": string(hash)}); err != nil {
		return err
	}
	s.log.Info("password changed", zap.String("uid", uid), zap.String("actor", actor.UID))
	return nil
}

// EnsureAdmin creates an admin account for email unless a user with that
// email already exists. Used at startup to seed an empty database.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (created bool, err error) {
	existing, err := s.findByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if _, err := s.Register(ctx, bakery.SystemActor, email, password, bakery.RoleAdmin, "Administrator"); err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*bakery.User, error) {
	if email == "" {
		return nil, nil
	}
	return s.users.First(ctx, docstore.Where(docstore.Eq("email", email)))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
