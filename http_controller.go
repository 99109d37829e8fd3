package federation

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// PathPrefix for routes (default: "/auth/<provider>")
	PathPrefix string

	// SessionCookieName carries the login session id between redirect and
	// callback (default: "federation_login")
	SessionCookieName string

	// TokenCookieName stores the provider access token for logout
	// (default: "federation_provider_token")
	TokenCookieName string

	// StoreProviderToken keeps the provider access token in a cookie so
	// Logout can revoke the provider session.
	StoreProviderToken bool

	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string

	// ErrorRedirect, when set, receives failures as ?error=<text code>
	ErrorRedirect string

	// Provisioner, when set, enables POST <prefix>/signup which trades a
	// signup ticket for a new linked account.
	Provisioner *Provisioner

	// OnLogin handles resolved logins. Defaults to a JSON response.
	OnLogin func(ctx router.Context, result *LoginResult) error

	// ErrorHandler handles errors (optional)
	ErrorHandler func(ctx router.Context, err error) error
}

// HTTPController exposes a Flow over go-router.
type HTTPController struct {
	flow   *Flow
	config HTTPConfig
	logger Logger
}

// NewHTTPController creates a controller for flow.
func NewHTTPController(flow *Flow, cfg HTTPConfig, logger Logger) *HTTPController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth/" + flow.Provider().String()
	}
	cfg.PathPrefix = strings.TrimRight(cfg.PathPrefix, "/")
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "federation_login"
	}
	if cfg.TokenCookieName == "" {
		cfg.TokenCookieName = "federation_provider_token"
	}
	if cfg.CookieSameSite == "" {
		cfg.CookieSameSite = "Lax"
	}

	return &HTTPController{
		flow:   flow,
		config: cfg,
		logger: normalizeLogger(logger),
	}
}

// RegisterRoutes registers begin, callback, logout and, with a
// provisioner, signup routes.
func (c *HTTPController) RegisterRoutes(r RouteRegistrar) {
	r.Get(c.config.PathPrefix, c.BeginLogin)
	r.Get(c.config.PathPrefix+"/callback", c.Callback)
	r.Post(c.config.PathPrefix+"/logout", c.Logout)
	if c.config.Provisioner != nil {
		r.Post(c.config.PathPrefix+"/signup", c.Signup)
	}
}

// BeginLogin redirects the browser to the provider.
func (c *HTTPController) BeginLogin(ctx router.Context) error {
	sessionID := ctx.Cookies(c.config.SessionCookieName)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c.setCookie(ctx, c.config.SessionCookieName, sessionID, time.Now().Add(DefaultSessionTTL))

	redirect, err := c.flow.BeginLogin(ctx.Context(), sessionID)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.Redirect(redirect.URL, http.StatusTemporaryRedirect)
}

// Callback completes the login.
func (c *HTTPController) Callback(ctx router.Context) error {
	sessionID := ctx.Cookies(c.config.SessionCookieName)

	result, err := c.flow.CompleteLogin(ctx.Context(), sessionID, CallbackParams{
		Provider:         c.flow.Provider(),
		Code:             ctx.Query("code"),
		State:            ctx.Query("state"),
		Error:            ctx.Query("error"),
		ErrorDescription: ctx.Query("error_description"),
	})
	if err != nil {
		return c.handleError(ctx, err)
	}

	if c.config.StoreProviderToken && result.Token != nil {
		c.setCookie(ctx, c.config.TokenCookieName, result.Token.AccessToken, result.Token.ExpiresAt())
	}

	if c.config.OnLogin != nil {
		return c.config.OnLogin(ctx, result)
	}

	payload := map[string]any{
		"provider": result.Provider,
		"decision": result.Decision,
		"claims":   result.Claims,
	}
	if len(result.Roles) > 0 {
		payload["roles"] = result.Roles
	}
	if result.SignupTicket != "" {
		payload["signup_ticket"] = result.SignupTicket
	}
	return ctx.JSON(router.StatusOK, payload)
}

// Logout revokes the provider session and clears the token cookie. It
// always succeeds.
func (c *HTTPController) Logout(ctx router.Context) error {
	token := ctx.Cookies(c.config.TokenCookieName)
	c.flow.Logout(ctx.Context(), token)

	c.setCookie(ctx, c.config.TokenCookieName, "", time.Unix(0, 0))
	return ctx.JSON(router.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

// Signup provisions a local account from the ticket issued on NoMatch.
func (c *HTTPController) Signup(ctx router.Context) error {
	if c.config.Provisioner == nil {
		return c.handleError(ctx, ErrInvalidSignupTicket)
	}

	ticket, err := c.flow.ParseSignupTicket(ctx.FormValue("ticket"))
	if err != nil {
		return c.handleError(ctx, err)
	}

	account, err := c.config.Provisioner.ProvisionAccount(ctx.Context(), ticket.Provider, ticket.Claims)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"provider": ticket.Provider,
		"account":  account,
	})
}

func (c *HTTPController) setCookie(ctx router.Context, name, value string, expires time.Time) {
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		Secure:   c.config.CookieSecure,
		HTTPOnly: c.config.CookieHTTPOnly,
		SameSite: c.config.CookieSameSite,
	})
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	if c.config.ErrorHandler != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	code := richErr.TextCode
	if code == "" {
		code = "federation_error"
	}

	if c.config.ErrorRedirect != "" {
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", code), http.StatusTemporaryRedirect)
	}

	status := richErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return ctx.JSON(status, map[string]any{
		"error":           richErr.Message,
		"code":            code,
		"contact_support": RequiresSupport(err),
		"retry":           IsTransient(err),
	})
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
