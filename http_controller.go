package authstate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// PathPrefix is informational; routes are registered relative to the
	// group handed to RegisterRoutes (default: "/auth")
	PathPrefix string

	// Debug dumps request payloads to the logger
	Debug bool

	// UserWait bounds how long a sign in response waits for the provider to
	// report the new session (default: 2s)
	UserWait time.Duration

	Logger         Logger
	LoggerProvider LoggerProvider
}

const defaultUserWait = 2 * time.Second

// HTTPController exposes a coordinator as JSON routes.
type HTTPController struct {
	auth         Authenticator
	completeLink func(ctx context.Context, email, link string) error
	stored       bool
	config       HTTPConfig
	logger       Logger
}

// NewHTTPController serves a storage free coordinator. Completing a link
// requires the email in the request body.
func NewHTTPController(c *Coordinator, cfg HTTPConfig) *HTTPController {
	return newHTTPController(c, c.SignInWithEmailLink, false, cfg)
}

// NewStoredHTTPController serves a storage backed coordinator. Completing a
// link only needs the link; any email in the request is ignored.
func NewStoredHTTPController(c *StoredCoordinator, cfg HTTPConfig) *HTTPController {
	complete := func(ctx context.Context, _ string, link string) error {
		return c.SignInWithEmailLink(ctx, link)
	}
	return newHTTPController(c, complete, true, cfg)
}

func newHTTPController(auth Authenticator, complete func(context.Context, string, string) error, stored bool, cfg HTTPConfig) *HTTPController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth"
	}
	if cfg.UserWait <= 0 {
		cfg.UserWait = defaultUserWait
	}

	_, logger := ResolveLogger("authstate.http", cfg.LoggerProvider, cfg.Logger)

	return &HTTPController{
		auth:         auth,
		completeLink: complete,
		stored:       stored,
		config:       cfg,
		logger:       logger,
	}
}

// RegisterRoutes registers the auth routes on group.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get("/me", c.Me)
	group.Post("/link", c.SendLink)
	group.Get("/link/check", c.CheckLink)
	group.Post("/link/complete", c.CompleteLink)
	group.Post("/password", c.PasswordSignIn)
	group.Post("/google", c.GoogleSignIn)
	group.Post("/anonymous", c.AnonymousSignIn)
	group.Post("/logout", c.SignOut)
	group.Delete("/account", c.DeleteAccount)
}

// SendLinkRequest payload
type SendLinkRequest struct {
	Email string `json:"email" form:"email"`
}

// Validate will run validation rules
func (r SendLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// CompleteLinkRequest payload
type CompleteLinkRequest struct {
	Email string `json:"email,omitempty" form:"email"`
	Link  string `json:"link" form:"link"`
}

// Validate will run validation rules. Email is optional here; storage free
// controllers require it separately.
func (r CompleteLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email),
		validation.Field(&r.Link, validation.Required, is.URL),
	)
}

// PasswordRequest payload
type PasswordRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r PasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// Me returns the current user.
func (c *HTTPController) Me(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{
		"user": c.auth.CurrentUser(),
	})
}

// SendLink sends a sign in link to the posted email.
func (c *HTTPController) SendLink(ctx router.Context) error {
	payload := new(SendLinkRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}

	if err := c.auth.SendSignInLinkToEmail(ctx.Context(), payload.Email); err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"status": "sent",
		"email":  payload.Email,
	})
}

// CheckLink reports whether the link query parameter is a sign in link.
func (c *HTTPController) CheckLink(ctx router.Context) error {
	link := strings.TrimSpace(ctx.Query("link"))
	if err := validation.Validate(link, validation.Required); err != nil {
		return c.handleError(ctx, validation.Errors{"link": err})
	}

	ok, err := c.auth.IsSignInWithEmailLink(ctx.Context(), link)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"is_sign_in_link": ok,
	})
}

// CompleteLink finishes a link sign in.
func (c *HTTPController) CompleteLink(ctx router.Context) error {
	payload := new(CompleteLinkRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}

	if !c.stored {
		if err := validation.Validate(payload.Email, validation.Required); err != nil {
			return c.handleError(ctx, validation.Errors{"email": err})
		}
	}

	return c.signIn(ctx, func(reqCtx context.Context) error {
		return c.completeLink(reqCtx, payload.Email, payload.Link)
	})
}

// PasswordSignIn signs in with email and password.
func (c *HTTPController) PasswordSignIn(ctx router.Context) error {
	payload := new(PasswordRequest)
	if err := c.bind(ctx, payload); err != nil {
		return c.handleError(ctx, err)
	}

	return c.signIn(ctx, func(reqCtx context.Context) error {
		return c.auth.SignInWithEmailAndPassword(reqCtx, payload.Email, payload.Password)
	})
}

// GoogleSignIn signs in through the provider's Google flow.
func (c *HTTPController) GoogleSignIn(ctx router.Context) error {
	return c.signIn(ctx, c.auth.SignInWithGoogle)
}

// AnonymousSignIn opens an anonymous session.
func (c *HTTPController) AnonymousSignIn(ctx router.Context) error {
	return c.signIn(ctx, c.auth.SignInAnonymously)
}

// SignOut ends the session.
func (c *HTTPController) SignOut(ctx router.Context) error {
	if err := c.auth.SignOut(ctx.Context()); err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{"status": "signed_out"})
}

// DeleteAccount deletes the signed in account.
func (c *HTTPController) DeleteAccount(ctx router.Context) error {
	if err := c.auth.DeleteAccount(ctx.Context()); err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{"status": "deleted"})
}

// signIn runs op and responds with the session it opened. The stream is
// opened before op so the provider's update cannot be missed.
func (c *HTTPController) signIn(ctx router.Context, op func(context.Context) error) error {
	reqCtx := ctx.Context()

	stream := c.auth.UserChanges(reqCtx)
	defer stream.Close()

	// first item replays the user held before op
	if _, err := stream.Next(reqCtx); err != nil {
		c.logger.Debug("authstate user stream unavailable", "error", err)
	}

	if err := op(reqCtx); err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"status": "ok",
		"user":   c.awaitSession(reqCtx, stream),
	})
}

// awaitSession returns the first user with a session published after op.
// It falls back to the current user once UserWait elapses.
func (c *HTTPController) awaitSession(ctx context.Context, stream *UserStream) User {
	waitCtx, cancel := context.WithTimeout(ctx, c.config.UserWait)
	defer cancel()

	for {
		u, err := stream.Next(waitCtx)
		if err != nil {
			current := c.auth.CurrentUser()
			c.logger.Warn("authstate session not reported in time",
				"wait", c.config.UserWait,
				"error", err,
				"user_id", current.ID,
				"status", current.Status,
			)
			return current
		}
		if u.HasSession() {
			return u
		}
	}
}

type validatable interface {
	Validate() error
}

func (c *HTTPController) bind(ctx router.Context, payload validatable) error {
	if err := ctx.Bind(payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request body").
			WithCode(goerrors.CodeBadRequest)
	}

	if c.config.Debug {
		c.logger.Debug("authstate request payload", "payload", print.MaybePrettyJSON(payload))
	}

	return payload.Validate()
}

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Message    string            `json:"message"`
	TextCode   string            `json:"text_code,omitempty"`
	Kind       Kind              `json:"kind,omitempty"`
	SignedIn   bool              `json:"signed_in,omitempty"`
	Validation map[string]string `json:"validation,omitempty"`
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	status, body := c.renderError(err)
	return ctx.JSON(status, ErrorResponse{Error: body})
}

func (c *HTTPController) renderError(err error) (int, ErrorBody) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for field, fieldErr := range verrs {
			fields[field] = fieldErr.Error()
		}
		return http.StatusBadRequest, ErrorBody{
			Message:    "validation failed",
			TextCode:   "VALIDATION_ERROR",
			Validation: fields,
		}
	}

	var failure *Failure
	if errors.As(err, &failure) {
		rich := failure.RichError()

		c.logger.Info("authstate request failed",
			"error", rich.Message,
			"category", rich.Category,
			"details", print.MaybePrettyJSON(rich.Metadata),
		)

		status := rich.Code
		if errors.Is(err, ErrFeatureDisabled) {
			status = http.StatusForbidden
		}
		if status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}

		return status, ErrorBody{
			Message:  rich.Message,
			TextCode: rich.TextCode,
			Kind:     failure.Kind,
			SignedIn: IsCleanupFailure(err),
		}
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	c.logger.Error("authstate request error", "error", err, "category", richErr.Category)

	status := richErr.Code
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	return status, ErrorBody{
		Message:  richErr.Message,
		TextCode: richErr.TextCode,
	}
}
