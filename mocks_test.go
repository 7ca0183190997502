package authstate_test

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements authstate.Provider. The user stream is driven by
// Emit and Finish instead of expectations.
type MockProvider struct {
	mock.Mock

	once  sync.Once
	users chan authstate.User
}

func NewMockProvider() *MockProvider {
	return &MockProvider{users: make(chan authstate.User, 16)}
}

func (m *MockProvider) UserChanges(ctx context.Context) <-chan authstate.User {
	return m.users
}

// Emit publishes u on the provider stream.
func (m *MockProvider) Emit(u authstate.User) {
	m.users <- u
}

// Finish closes the provider stream.
func (m *MockProvider) Finish() {
	m.once.Do(func() { close(m.users) })
}

func (m *MockProvider) SendSignInLinkToEmail(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockProvider) IsSignInWithEmailLink(ctx context.Context, link string) (bool, error) {
	args := m.Called(ctx, link)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvider) SignInWithEmailLink(ctx context.Context, email, link string) error {
	args := m.Called(ctx, email, link)
	return args.Error(0)
}

func (m *MockProvider) SignInWithEmailAndPassword(ctx context.Context, email, password string) error {
	args := m.Called(ctx, email, password)
	return args.Error(0)
}

func (m *MockProvider) SignInWithGoogle(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) SignInAnonymously(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) DeleteAccount(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockStorage implements authstate.Storage
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) ReadString(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) WriteString(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockExpiringStorage implements authstate.ExpiringStorage
type MockExpiringStorage struct {
	MockStorage
}

func (m *MockExpiringStorage) WriteStringTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

// MockActivitySink implements authstate.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event authstate.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type stubFeatureGate struct {
	mu      sync.Mutex
	enabled map[string]bool
	calls   []string
	users   []authstate.User
	err     error
}

func (s *stubFeatureGate) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, key)
	if u, ok := authstate.UserFromContext(ctx); ok {
		s.users = append(s.users, u)
	}
	if s.err != nil {
		return false, s.err
	}
	enabled, ok := s.enabled[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Trace(message string, args ...any) { l.record("trace", message, args...) }
func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }
func (l *captureLogger) Fatal(message string, args ...any) { l.record("fatal", message, args...) }
func (l *captureLogger) WithContext(context.Context) authstate.Logger {
	return l
}

func (l *captureLogger) levels(level string) []logCall {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []logCall
	for _, c := range l.calls {
		if c.level == level {
			out = append(out, c)
		}
	}
	return out
}

func quietOptions() []authstate.Option {
	return []authstate.Option{authstate.WithLogger(&captureLogger{})}
}
