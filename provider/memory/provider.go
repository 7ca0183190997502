// Package memory is a self contained authstate.Provider for development and
// tests. Accounts live in process memory, sign in links are signed JWTs and
// passwords are bcrypt hashes.
package memory

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Provider identifiers reported on User.ProviderID
const (
	ProviderPassword  = "password"
	ProviderEmailLink = "emailLink"
	ProviderGoogle    = "google.com"
	ProviderAnonymous = "anonymous"
)

const (
	linkMode        = "signIn"
	queryMode       = "mode"
	queryCode       = "oobCode"
	defaultIssuer   = "authstate-memory"
	defaultLinkTTL  = 15 * time.Minute
	defaultLinkBase = "http://localhost:8572/finish-sign-in"
)

// ErrInvalidCredentials is the cause of a rejected password sign in.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(goerrors.CodeUnauthorized)

var ErrEmailInUse = goerrors.New("email already in use", goerrors.CategoryConflict).
	WithTextCode("EMAIL_IN_USE").
	WithCode(goerrors.CodeConflict)

var ErrNoSession = goerrors.New("no signed in user", goerrors.CategoryAuth).
	WithTextCode("NO_SESSION").
	WithCode(goerrors.CodeUnauthorized)

var ErrLinkUsed = goerrors.New("sign-in link already used", goerrors.CategoryAuth).
	WithTextCode("LINK_USED").
	WithCode(goerrors.CodeBadRequest)

var ErrLinkEmailMismatch = goerrors.New("sign-in link was issued for another email", goerrors.CategoryAuth).
	WithTextCode("LINK_EMAIL_MISMATCH").
	WithCode(goerrors.CodeBadRequest)

// GoogleProfile is the identity returned by SignInWithGoogle.
type GoogleProfile struct {
	Email       string
	DisplayName string
	PhotoURL    string
}

// Config configures the provider.
type Config struct {
	SigningKey    []byte
	Issuer        string
	LinkBaseURL   string
	LinkTTL       time.Duration
	PasswordCost  int
	DisableSignUp bool
	Google        *GoogleProfile
}

// ConfigFrom maps the shared authstate configuration onto the provider.
func ConfigFrom(cfg authstate.Config) Config {
	return Config{
		SigningKey:  []byte(cfg.LinkSigningKey),
		LinkBaseURL: cfg.LinkBaseURL,
		LinkTTL:     cfg.LinkTTL,
	}
}

type account struct {
	user         authstate.User
	passwordHash string
}

type linkClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Mode  string `json:"mode"`
}

// Provider implements authstate.Provider.
type Provider struct {
	cfg    Config
	sender LinkSender
	state  *authstate.UserState
	logger authstate.Logger
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
	current  authstate.User
	used     map[string]time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithLinkSender sets where sign in links are delivered. Defaults to a
// fresh Outbox.
func WithLinkSender(sender LinkSender) Option {
	return func(p *Provider) {
		if sender != nil {
			p.sender = sender
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger authstate.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithClock overrides the time source used for link expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a provider with no accounts and no signed in user. A random
// signing key is generated when cfg has none.
func New(cfg Config, opts ...Option) *Provider {
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = []byte(uuid.NewString() + uuid.NewString())
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaultLinkTTL
	}
	if cfg.LinkBaseURL == "" {
		cfg.LinkBaseURL = defaultLinkBase
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = bcrypt.DefaultCost
	}

	signedOut := authstate.SignedOutUser()
	p := &Provider{
		cfg:      cfg,
		sender:   NewOutbox(),
		now:      time.Now,
		accounts: make(map[string]*account),
		current:  signedOut,
		used:     make(map[string]time.Time),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	_, p.logger = authstate.ResolveLogger("authstate.provider.memory", nil, p.logger)
	p.state = authstate.NewUserState(signedOut).WithLogger(p.logger)

	return p
}

// Sender returns the configured link sender.
func (p *Provider) Sender() LinkSender {
	return p.sender
}

// UserChanges streams the signed in user, starting with the current one.
func (p *Provider) UserChanges(ctx context.Context) <-chan authstate.User {
	return p.state.Subscribe(ctx).Changes(ctx)
}

// Close ends every user stream.
func (p *Provider) Close() error {
	p.state.End()
	return nil
}

// SendSignInLinkToEmail signs a single use link for email and hands it to
// the link sender.
func (p *Provider) SendSignInLinkToEmail(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return authstate.NewFailure(authstate.KindSendLink, err)
	}

	link, err := p.issueLink(email)
	if err != nil {
		return authstate.NewFailure(authstate.KindSendLink, err)
	}

	if err := p.sender.SendSignInLink(ctx, email, link); err != nil {
		return authstate.NewFailure(authstate.KindSendLink, err)
	}

	p.logger.Debug("sign-in link issued", "email", email)
	return nil
}

// IsSignInWithEmailLink reports whether link carries a sign in code.
func (p *Provider) IsSignInWithEmailLink(_ context.Context, link string) (bool, error) {
	u, err := url.Parse(link)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed link")
	}
	q := u.Query()
	return q.Get(queryMode) == linkMode && q.Get(queryCode) != "", nil
}

// SignInWithEmailLink verifies the link code against email. Unknown emails
// get an account unless sign up is disabled, in which case the failure is
// UserNotFound.
func (p *Provider) SignInWithEmailLink(_ context.Context, email, link string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return authstate.NewFailure(authstate.KindInvalidLink, err)
	}

	claims, err := p.parseLink(link)
	if err != nil {
		return authstate.NewFailure(authstate.KindInvalidLink, err)
	}
	if claims.Email != email {
		return authstate.NewFailure(authstate.KindInvalidLink, ErrLinkEmailMismatch)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneUsed()
	if _, seen := p.used[claims.ID]; seen {
		return authstate.NewFailure(authstate.KindInvalidLink, ErrLinkUsed)
	}

	acc, ok := p.accounts[email]
	if !ok {
		if p.cfg.DisableSignUp {
			return authstate.NewFailure(authstate.KindUserNotFound, nil).
				WithMetadata(map[string]any{"email": email})
		}
		acc = p.newAccount(email, ProviderEmailLink)
	}

	p.used[claims.ID] = claims.ExpiresAt.Time
	acc.user.EmailVerified = true
	p.signIn(acc.user)
	return nil
}

// CreateUserWithEmailAndPassword registers an account and signs it in.
func (p *Provider) CreateUserWithEmailAndPassword(_ context.Context, email, password string) (authstate.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return authstate.User{}, err
	}
	if err := validation.Validate(password, validation.Required, validation.Length(6, 72)); err != nil {
		return authstate.User{}, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.PasswordCost)
	if err != nil {
		return authstate.User{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.accounts[email]; exists {
		return authstate.User{}, ErrEmailInUse
	}

	acc := p.newAccount(email, ProviderPassword)
	acc.passwordHash = string(hash)
	p.signIn(acc.user)
	return acc.user, nil
}

// SignInWithEmailAndPassword checks password against the stored hash.
func (p *Provider) SignInWithEmailAndPassword(_ context.Context, email, password string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return authstate.NewFailure(authstate.KindPasswordSignIn, err)
	}

	p.mu.Lock()
	acc, ok := p.accounts[email]
	p.mu.Unlock()

	if !ok || acc.passwordHash == "" {
		return authstate.NewFailure(authstate.KindPasswordSignIn, ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return authstate.NewFailure(authstate.KindPasswordSignIn, ErrInvalidCredentials)
		}
		return authstate.NewFailure(authstate.KindPasswordSignIn, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.signIn(acc.user)
	return nil
}

// SignInWithGoogle signs in the configured Google profile.
func (p *Provider) SignInWithGoogle(_ context.Context) error {
	profile := p.cfg.Google
	if profile == nil {
		return authstate.NewFailure(authstate.KindGoogleSignIn, authstate.ErrProviderUnconfigured)
	}

	email, err := normalizeEmail(profile.Email)
	if err != nil {
		return authstate.NewFailure(authstate.KindGoogleSignIn, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[email]
	if !ok {
		acc = p.newAccount(email, ProviderGoogle)
	}
	acc.user.ProviderID = ProviderGoogle
	acc.user.EmailVerified = true
	acc.user.DisplayName = profile.DisplayName
	acc.user.PhotoURL = profile.PhotoURL

	p.signIn(acc.user)
	return nil
}

// SignInAnonymously starts an anonymous session. An existing anonymous
// session is kept.
func (p *Provider) SignInAnonymously(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.IsAnonymous {
		return nil
	}

	p.signIn(authstate.User{
		ID:          uuid.NewString(),
		ProviderID:  ProviderAnonymous,
		IsAnonymous: true,
		Status:      authstate.UserStatusAnonymous,
	})
	return nil
}

// SignOut clears the session. Signing out without a session is a no-op.
func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.current.HasSession() {
		return nil
	}
	p.signIn(authstate.SignedOutUser())
	return nil
}

// DeleteAccount removes the signed in account and signs out.
func (p *Provider) DeleteAccount(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.current.HasSession() {
		return authstate.NewFailure(authstate.KindDeleteAccount, ErrNoSession)
	}

	if email := p.current.Email; email != "" {
		delete(p.accounts, email)
	}
	p.signIn(authstate.SignedOutUser())
	return nil
}

// Lookup returns the account registered for email.
func (p *Provider) Lookup(email string) (authstate.User, bool) {
	email, err := normalizeEmail(email)
	if err != nil {
		return authstate.User{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[email]
	if !ok {
		return authstate.User{}, false
	}
	return acc.user, true
}

func (p *Provider) issueLink(email string) (string, error) {
	now := p.now()
	claims := &linkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    p.cfg.Issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.LinkTTL)),
		},
		Email: email,
		Mode:  linkMode,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.SigningKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign link")
	}

	u, err := url.Parse(p.cfg.LinkBaseURL)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid link base URL")
	}
	q := u.Query()
	q.Set(queryMode, linkMode)
	q.Set(queryCode, token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (p *Provider) parseLink(link string) (*linkClaims, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed link")
	}

	q := u.Query()
	code := q.Get(queryCode)
	if q.Get(queryMode) != linkMode || code == "" {
		return nil, goerrors.New("link has no sign-in code", goerrors.CategoryBadInput)
	}

	claims := &linkClaims{}
	_, err = jwt.ParseWithClaims(code, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, goerrors.New("unexpected signing method", goerrors.CategoryAuth).
				WithMetadata(map[string]any{"alg": t.Header["alg"]})
		}
		return p.cfg.SigningKey, nil
	},
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "sign-in link expired")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "sign-in link rejected")
	}
	if claims.Mode != linkMode || claims.ID == "" {
		return nil, goerrors.New("sign-in link rejected", goerrors.CategoryAuth)
	}
	return claims, nil
}

// newAccount must be called with p.mu held.
func (p *Provider) newAccount(email, providerID string) *account {
	acc := &account{user: authstate.User{
		ID:         uuid.NewString(),
		Email:      email,
		ProviderID: providerID,
		Status:     authstate.UserStatusAuthenticated,
	}}
	p.accounts[email] = acc
	return acc
}

// signIn must be called with p.mu held.
func (p *Provider) signIn(u authstate.User) {
	p.current = u
	p.state.Publish(u)
}

// pruneUsed must be called with p.mu held.
func (p *Provider) pruneUsed() {
	now := p.now()
	for id, expires := range p.used {
		if now.After(expires) {
			delete(p.used, id)
		}
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "invalid email").
			WithMetadata(map[string]any{"email": email})
	}
	return email, nil
}
