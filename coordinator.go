package authstate

import (
	"context"
	"time"

	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-print"
)

// Metadata keys attached to failures raised by the coordinator
const (
	MetadataOperation = "operation"
	MetadataStage     = "stage"
	MetadataSignedIn  = "signed_in"
)

// Option configures a coordinator at construction time
type Option func(*core)

// WithLogger overrides the logger used by the coordinator.
func WithLogger(logger Logger) Option {
	return func(c *core) {
		c.fallbackLogger = logger
	}
}

// WithLoggerProvider sets the provider used to resolve scoped loggers.
func WithLoggerProvider(provider LoggerProvider) Option {
	return func(c *core) {
		c.loggerProvider = provider
	}
}

// WithActivitySink sets the sink used to emit operation events.
func WithActivitySink(sink ActivitySink) Option {
	return func(c *core) {
		c.activity = normalizeActivitySink(sink)
	}
}

// WithFeatureGate enables feature gate checks before provider calls.
func WithFeatureGate(featureGate gate.FeatureGate) Option {
	return func(c *core) {
		c.featureGate = featureGate
	}
}

// WithConfig sets the pending email key and TTL among other settings.
func WithConfig(cfg Config) Option {
	return func(c *core) {
		c.config = cfg.normalize()
	}
}

// WithSeed replaces the default placeholder user held before the provider emits.
func WithSeed(u User) Option {
	return func(c *core) {
		c.seed = &u
	}
}

// WithDebug logs operation payloads at debug level.
func WithDebug(debug bool) Option {
	return func(c *core) {
		c.debug = debug
	}
}

type operation struct {
	name    string
	kind    Kind
	feature string
	success ActivityEventType
	failure ActivityEventType
}

var (
	opSendLink = operation{
		name: "send_sign_in_link", kind: KindSendLink, feature: FeaturePasswordless,
		success: ActivityEventLinkSent, failure: ActivityEventLinkSendFailure,
	}
	opLinkSignIn = operation{
		name: "sign_in_with_email_link", kind: KindInvalidLink, feature: FeaturePasswordless,
		success: ActivityEventLinkSignInSuccess, failure: ActivityEventLinkSignInFailure,
	}
	opPasswordSignIn = operation{
		name: "sign_in_with_password", kind: KindPasswordSignIn, feature: FeaturePassword,
		success: ActivityEventSignInSuccess, failure: ActivityEventSignInFailure,
	}
	opGoogleSignIn = operation{
		name: "sign_in_with_google", kind: KindGoogleSignIn, feature: FeatureGoogle,
		success: ActivityEventSignInSuccess, failure: ActivityEventSignInFailure,
	}
	opAnonymousSignIn = operation{
		name: "sign_in_anonymously", kind: KindAnonymousSignIn, feature: FeatureAnonymous,
		success: ActivityEventSignInSuccess, failure: ActivityEventSignInFailure,
	}
	opSignOut = operation{
		name: "sign_out", kind: KindLogout,
		success: ActivityEventSignOut, failure: ActivityEventSignOutFailure,
	}
	opDeleteAccount = operation{
		name: "delete_account", kind: KindDeleteAccount,
		success: ActivityEventAccountDeleted, failure: ActivityEventAccountFailure,
	}
)

// core holds everything shared by both coordinator shapes.
type core struct {
	provider       Provider
	state          *UserState
	config         Config
	logger         Logger
	fallbackLogger Logger
	loggerProvider LoggerProvider
	activity       ActivitySink
	featureGate    gate.FeatureGate
	seed           *User
	debug          bool
	cancel         context.CancelFunc
}

func newCore(provider Provider, opts ...Option) *core {
	if provider == nil {
		panic("authstate: missing Provider")
	}

	c := &core{
		provider: provider,
		config:   DefaultConfig(),
		activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.loggerProvider, c.logger = ResolveLogger("authstate.coordinator", c.loggerProvider, c.fallbackLogger)

	seed := DefaultUser()
	if c.seed != nil {
		seed = *c.seed
	}

	_, stateLogger := ResolveLogger("authstate.user_state", c.loggerProvider, c.logger)
	c.state = NewUserState(seed).WithLogger(stateLogger)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state.Follow(provider.UserChanges(ctx))

	return c
}

// UserChanges opens a stream that starts with the current user.
func (c *core) UserChanges(ctx context.Context) *UserStream {
	return c.state.Subscribe(ctx)
}

// CurrentUser returns the latest user reported by the provider, or the seed.
func (c *core) CurrentUser() User {
	return c.state.Current()
}

// State exposes the underlying user state.
func (c *core) State() *UserState {
	return c.state
}

// Close stops following the provider and ends every open stream.
func (c *core) Close() error {
	c.cancel()
	c.state.End()
	return nil
}

// IsSignInWithEmailLink delegates to the provider. Errors are returned as is.
func (c *core) IsSignInWithEmailLink(ctx context.Context, link string) (bool, error) {
	return c.provider.IsSignInWithEmailLink(ctx, link)
}

// SignInWithEmailAndPassword signs in with a password.
func (c *core) SignInWithEmailAndPassword(ctx context.Context, email, password string) error {
	return c.delegate(ctx, opPasswordSignIn, map[string]any{"email": email}, func(ctx context.Context) error {
		return c.provider.SignInWithEmailAndPassword(ctx, email, password)
	})
}

// SignInWithGoogle signs in through the provider's Google flow.
func (c *core) SignInWithGoogle(ctx context.Context) error {
	return c.delegate(ctx, opGoogleSignIn, nil, c.provider.SignInWithGoogle)
}

// SignInAnonymously opens an anonymous provider session.
func (c *core) SignInAnonymously(ctx context.Context) error {
	return c.delegate(ctx, opAnonymousSignIn, nil, c.provider.SignInAnonymously)
}

// SignOut ends the provider session.
func (c *core) SignOut(ctx context.Context) error {
	return c.delegate(ctx, opSignOut, nil, c.provider.SignOut)
}

// DeleteAccount deletes the signed in account.
func (c *core) DeleteAccount(ctx context.Context) error {
	return c.delegate(ctx, opDeleteAccount, nil, c.provider.DeleteAccount)
}

func (c *core) delegate(ctx context.Context, op operation, meta map[string]any, call func(context.Context) error) error {
	if err := c.checkFeature(ctx, op); err != nil {
		return c.failed(ctx, op, err, meta)
	}

	if err := call(ctx); err != nil {
		return c.failed(ctx, op, translate(err, op.kind), meta)
	}

	c.succeeded(ctx, op, meta)
	return nil
}

func (c *core) checkFeature(ctx context.Context, op operation) error {
	if c.featureGate == nil || op.feature == "" {
		return nil
	}
	ctx = withCurrentUser(ctx, c.state.Current())
	if err := requireFeatureGate(ctx, c.featureGate, op.feature); err != nil {
		return newFailure(op.kind, err, 2).WithMetadata(map[string]any{
			MetadataStage: "feature_gate",
			"feature":     op.feature,
		})
	}
	return nil
}

func (c *core) failed(ctx context.Context, op operation, err error, meta map[string]any) error {
	kind, _ := KindOf(err)

	c.logger.Error("authstate operation failed",
		MetadataOperation, op.name,
		"kind", kind,
		"error", err,
	)

	event := c.event(op.failure, op, meta)
	event.FailureKind = kind
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["error"] = err.Error()
	if IsCleanupFailure(err) {
		event.Metadata[MetadataSignedIn] = true
	}
	c.record(ctx, event)

	return err
}

func (c *core) succeeded(ctx context.Context, op operation, meta map[string]any) {
	if c.debug {
		c.logger.Debug("authstate operation payload", MetadataOperation, op.name, "payload", print.MaybePrettyJSON(meta))
	}
	c.logger.Debug("authstate operation succeeded", MetadataOperation, op.name)
	c.record(ctx, c.event(op.success, op, meta))
}

func (c *core) event(eventType ActivityEventType, op operation, meta map[string]any) ActivityEvent {
	user := c.state.Current()

	var metadata map[string]any
	if len(meta) > 0 {
		metadata = make(map[string]any, len(meta))
		for k, v := range meta {
			metadata[k] = v
		}
	}

	return ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRefFromUser(user),
		Operation:  op.name,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
}

func (c *core) record(ctx context.Context, event ActivityEvent) {
	if err := c.activity.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
