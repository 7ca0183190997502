package authstate

import (
	"errors"
	"fmt"
	"runtime"

	goerrors "github.com/goliatone/go-errors"
)

// Kind tags a Failure with the operation family that raised it
type Kind string

const (
	KindSendLink        Kind = "send_link"
	KindInvalidLink     Kind = "invalid_link"
	KindUserNotFound    Kind = "user_not_found"
	KindPasswordSignIn  Kind = "password_sign_in"
	KindGoogleSignIn    Kind = "google_sign_in"
	KindAnonymousSignIn Kind = "anonymous_sign_in"
	KindLogout          Kind = "logout"
	KindDeleteAccount   Kind = "delete_account"
)

const (
	TextCodeSendLinkFailed        = "authstate_send_link_failed"
	TextCodeInvalidLink           = "authstate_invalid_link"
	TextCodeUserNotFound          = "authstate_user_not_found"
	TextCodePasswordSignInFailed  = "authstate_password_sign_in_failed"
	TextCodeGoogleSignInFailed    = "authstate_google_sign_in_failed"
	TextCodeAnonymousSignInFailed = "authstate_anonymous_sign_in_failed"
	TextCodeLogoutFailed          = "authstate_logout_failed"
	TextCodeDeleteAccountFailed   = "authstate_delete_account_failed"

	TextCodeKeyNotFound          = "authstate_storage_key_not_found"
	TextCodeStorageRead          = "authstate_storage_read_failed"
	TextCodeStorageWrite         = "authstate_storage_write_failed"
	TextCodeStorageDelete        = "authstate_storage_delete_failed"
	TextCodeStorageTypeMismatch  = "authstate_storage_type_mismatch"
	TextCodeFeatureDisabled      = "authstate_feature_disabled"
	TextCodeProviderUnconfigured = "authstate_provider_unconfigured"
)

// Sentinels used with errors.Is. A sentinel matches any Failure of its Kind.
var (
	ErrSendLink        = newSentinel(KindSendLink)
	ErrInvalidLink     = newSentinel(KindInvalidLink)
	ErrUserNotFound    = newSentinel(KindUserNotFound)
	ErrPasswordSignIn  = newSentinel(KindPasswordSignIn)
	ErrGoogleSignIn    = newSentinel(KindGoogleSignIn)
	ErrAnonymousSignIn = newSentinel(KindAnonymousSignIn)
	ErrLogout          = newSentinel(KindLogout)
	ErrDeleteAccount   = newSentinel(KindDeleteAccount)
)

// ErrKeyNotFound is returned by storage adapters when a key holds no value.
var ErrKeyNotFound = goerrors.New("storage key not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeKeyNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrStorageRead classifies backend failures while reading a key.
var ErrStorageRead = goerrors.New("storage read failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeStorageRead).
	WithCode(goerrors.CodeInternal)

// ErrStorageWrite classifies backend failures while writing a key.
var ErrStorageWrite = goerrors.New("storage write failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeStorageWrite).
	WithCode(goerrors.CodeInternal)

// ErrStorageDelete classifies backend failures while deleting a key.
var ErrStorageDelete = goerrors.New("storage delete failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeStorageDelete).
	WithCode(goerrors.CodeInternal)

// ErrStorageTypeMismatch is returned when a key holds a non string value.
var ErrStorageTypeMismatch = goerrors.New("storage value is not a string", goerrors.CategoryBadInput).
	WithTextCode(TextCodeStorageTypeMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrFeatureDisabled is the cause wrapped when a feature gate denies an operation.
var ErrFeatureDisabled = goerrors.New("feature disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodeFeatureDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrProviderUnconfigured is raised by providers missing a sign in method.
var ErrProviderUnconfigured = goerrors.New("sign in method not configured", goerrors.CategoryOperation).
	WithTextCode(TextCodeProviderUnconfigured).
	WithCode(goerrors.CodeBadRequest)

var failureTemplates = map[Kind]*goerrors.Error{
	KindSendLink: goerrors.New("failed to send sign-in link", goerrors.CategoryOperation).
		WithTextCode(TextCodeSendLinkFailed).
		WithCode(goerrors.CodeInternal),
	KindInvalidLink: goerrors.New("invalid or expired sign-in link", goerrors.CategoryAuth).
		WithTextCode(TextCodeInvalidLink).
		WithCode(goerrors.CodeBadRequest),
	KindUserNotFound: goerrors.New("user not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeUserNotFound).
		WithCode(goerrors.CodeNotFound),
	KindPasswordSignIn: goerrors.New("password sign-in failed", goerrors.CategoryAuth).
		WithTextCode(TextCodePasswordSignInFailed).
		WithCode(goerrors.CodeUnauthorized),
	KindGoogleSignIn: goerrors.New("google sign-in failed", goerrors.CategoryAuth).
		WithTextCode(TextCodeGoogleSignInFailed).
		WithCode(goerrors.CodeUnauthorized),
	KindAnonymousSignIn: goerrors.New("anonymous sign-in failed", goerrors.CategoryAuth).
		WithTextCode(TextCodeAnonymousSignInFailed).
		WithCode(goerrors.CodeUnauthorized),
	KindLogout: goerrors.New("sign out failed", goerrors.CategoryOperation).
		WithTextCode(TextCodeLogoutFailed).
		WithCode(goerrors.CodeInternal),
	KindDeleteAccount: goerrors.New("delete account failed", goerrors.CategoryOperation).
		WithTextCode(TextCodeDeleteAccountFailed).
		WithCode(goerrors.CodeInternal),
}

const maxStackDepth = 32

// Failure is the domain error returned by every coordinator operation.
// It keeps the error that triggered it as Cause and the call stack at the
// point it was raised.
type Failure struct {
	Kind     Kind
	Cause    error
	Metadata map[string]any
	stack    []uintptr
	sentinel bool
}

func newSentinel(kind Kind) *Failure {
	return &Failure{Kind: kind, sentinel: true}
}

// NewFailure builds a Failure of kind wrapping cause, capturing the caller's stack.
func NewFailure(kind Kind, cause error) *Failure {
	return newFailure(kind, cause, 3)
}

func newFailure(kind Kind, cause error, skip int) *Failure {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	return &Failure{
		Kind:  kind,
		Cause: cause,
		stack: pcs[:n],
	}
}

func (f *Failure) Error() string {
	if f == nil {
		return "authstate failure"
	}

	msg := string(f.Kind)
	if tmpl, ok := failureTemplates[f.Kind]; ok {
		msg = tmpl.Message
	}

	if f.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, f.Cause)
	}
	return msg
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}

// Is matches the package sentinels of the same kind. Other failures only
// match themselves.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok || t == nil || f == nil {
		return false
	}
	return t.sentinel && t.Kind == f.Kind
}

// WithMetadata merges meta into the failure metadata.
func (f *Failure) WithMetadata(meta map[string]any) *Failure {
	if f == nil || len(meta) == 0 {
		return f
	}
	if f.Metadata == nil {
		f.Metadata = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		f.Metadata[k] = v
	}
	return f
}

// StackTrace resolves the frames captured when the failure was raised.
func (f *Failure) StackTrace() []runtime.Frame {
	if f == nil || len(f.stack) == 0 {
		return nil
	}

	frames := runtime.CallersFrames(f.stack)
	out := make([]runtime.Frame, 0, len(f.stack))
	for {
		frame, more := frames.Next()
		out = append(out, frame)
		if !more {
			break
		}
	}
	return out
}

// Origin returns "function file:line" for the frame that raised the failure.
func (f *Failure) Origin() string {
	frames := f.StackTrace()
	if len(frames) == 0 {
		return ""
	}
	return fmt.Sprintf("%s %s:%d", frames[0].Function, frames[0].File, frames[0].Line)
}

// RichError renders the failure as a go-errors value for transport layers.
func (f *Failure) RichError() *goerrors.Error {
	if f == nil {
		return nil
	}

	tmpl, ok := failureTemplates[f.Kind]
	if !ok {
		return goerrors.Wrap(f, goerrors.CategoryInternal, f.Error())
	}

	clone := tmpl.Clone()
	if clone == nil {
		clone = tmpl
	}
	clone.Source = f

	meta := map[string]any{"kind": string(f.Kind)}
	if f.Cause != nil {
		meta["cause"] = f.Cause.Error()
	}
	if origin := f.Origin(); origin != "" {
		meta["origin"] = origin
	}
	for k, v := range f.Metadata {
		meta[k] = v
	}

	return clone.WithMetadata(meta)
}

// KindOf returns the kind of the outermost Failure in err's chain.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) && f != nil {
		return f.Kind, true
	}
	return "", false
}

// IsCleanupFailure reports whether err is the link completion failure raised
// after the provider accepted the sign in but the pending email could not be
// removed. The user is signed in when this returns true.
func IsCleanupFailure(err error) bool {
	var f *Failure
	if !errors.As(err, &f) || f == nil || f.Kind != KindInvalidLink {
		return false
	}
	signedIn, _ := f.Metadata[MetadataSignedIn].(bool)
	return signedIn
}

// translate propagates err unchanged when it already is a Failure of kind or
// of one of the passthrough kinds, otherwise wraps it into kind.
func translate(err error, kind Kind, passthrough ...Kind) error {
	if err == nil || passesThrough(err, kind, passthrough...) {
		return err
	}
	return newFailure(kind, err, 3)
}

func passesThrough(err error, kind Kind, passthrough ...Kind) bool {
	var f *Failure
	if !errors.As(err, &f) || f == nil {
		return false
	}
	if f.Kind == kind {
		return true
	}
	for _, k := range passthrough {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// StorageError reports a failed storage call classified by one of the
// storage sentinels (ErrStorageRead, ErrStorageWrite, ...).
type StorageError struct {
	Op    string
	Key   string
	Class *goerrors.Error
	Err   error
}

// NewStorageError is used by storage adapters to classify backend errors.
func NewStorageError(class *goerrors.Error, op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Class: class, Err: err}
}

func (e *StorageError) Error() string {
	if e == nil {
		return "storage error"
	}

	scope := "storage"
	if e.Op != "" {
		scope = "storage " + e.Op
	}
	if e.Key != "" {
		scope = fmt.Sprintf("%s %q", scope, e.Key)
	}

	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", scope, e.Err)
	case e.Class != nil:
		return fmt.Sprintf("%s: %s", scope, e.Class.Message)
	default:
		return scope + " failed"
	}
}

func (e *StorageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Class != nil {
		out = append(out, e.Class)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}
