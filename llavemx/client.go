package llavemx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	federation "github.com/goliatone/go-auth-federation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultAuthURL   = "https://val-llavemx.infotec.mx/oauth.xhtml"
	defaultTokenURL  = "https://val-api-llavemx.infotec.mx/ws/rest/oauth/obtenerToken"
	defaultUserURL   = "https://val-api-llavemx.infotec.mx/ws/rest/oauth/datosUsuario"
	defaultRolesURL  = "https://val-api-llavemx.infotec.mx/ws/rest/oauth/getRolesUsuarioLogueado"
	defaultLogoutURL = "https://val-api-llavemx.infotec.mx/ws/rest/oauth/cerrarSesion"

	// DefaultAccessTokenHeader carries the access token on protected calls.
	DefaultAccessTokenHeader = "accessToken"
	// DefaultTimeout applies when no HTTP client is supplied.
	DefaultTimeout = 10 * time.Second
)

const (
	opExchange = "exchange"
	opUserInfo = "user_info"
	opRoles    = "roles"
	opLogout   = "logout"
)

// Config holds Llave MX OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// SystemID identifies the client system on the roles endpoint. Defaults
	// to ClientID.
	SystemID string
	Scopes   []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	RolesURL  string
	LogoutURL string

	Profile            Profile
	ExpiryUnit         ExpiryUnit
	AccessTokenHeader  string
	ServiceCredentials federation.ServiceCredentials

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements federation.OAuth2Client for Llave MX.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     federation.Logger
	observer   federation.Observer
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger federation.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver reports provider call latency.
func WithObserver(observer federation.Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// New creates a Llave MX client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.RolesURL == "" {
		cfg.RolesURL = defaultRolesURL
	}
	if cfg.LogoutURL == "" {
		cfg.LogoutURL = defaultLogoutURL
	}
	if cfg.SystemID == "" {
		cfg.SystemID = cfg.ClientID
	}
	if cfg.ExpiryUnit == "" {
		cfg.ExpiryUnit = ExpiryAuto
	}
	if cfg.AccessTokenHeader == "" {
		cfg.AccessTokenHeader = DefaultAccessTokenHeader
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Profile = cfg.Profile.withDefaults()

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		config:     cfg,
		httpClient: client,
		logger:     federation.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Provider implements federation.OAuth2Client.
func (c *Client) Provider() federation.Provider {
	return federation.ProviderLlaveMX
}

// UsesPKCE implements federation.OAuth2Client.
func (c *Client) UsesPKCE() bool {
	return c.config.Profile.ClientAuth == ClientAuthPKCE
}

// BuildAuthorizationURL implements federation.OAuth2Client.
func (c *Client) BuildAuthorizationURL(state string, opts ...federation.AuthCodeOption) string {
	cfg := federation.ApplyAuthCodeOptions(c.config.Scopes, opts...)

	params := url.Values{
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {c.config.RedirectURL},
		"response_type": {"code"},
		"state":         {state},
	}
	if len(cfg.Scopes) > 0 {
		params.Set("scope", strings.Join(cfg.Scopes, " "))
	}

	if cfg.CodeChallenge != "" {
		method := cfg.CodeChallengeMethod
		if method == "" {
			method = federation.CodeChallengeMethodS256
		}
		params.Set("code_challenge", cfg.CodeChallenge)
		params.Set("code_challenge_method", method)
	}

	sep := "?"
	if strings.Contains(c.config.AuthURL, "?") {
		sep = "&"
	}
	return c.config.AuthURL + sep + params.Encode()
}

// ExchangeCodeForToken implements federation.OAuth2Client.
func (c *Client) ExchangeCodeForToken(ctx context.Context, code string, opts ...federation.ExchangeOption) (token *federation.AccessTokenResult, err error) {
	defer c.observe(opExchange, c.now(), &err)

	if code == "" {
		return nil, federation.ErrMissingAuthorizationCode
	}

	cfg := federation.ApplyExchangeOptions(opts...)
	if c.UsesPKCE() && cfg.CodeVerifier == "" {
		return nil, federation.ErrMissingCodeVerifier
	}

	body, contentType, err := c.tokenRequestBody(code, cfg.CodeVerifier)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, body)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build token request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	c.applyServiceCredentials(req)

	status, raw, err := c.do(req, opExchange)
	if err != nil {
		return nil, err
	}

	if perr := DetectProviderError(raw); perr != nil {
		perr.Operation = opExchange
		perr.Status = status
		return nil, federation.WrapProviderError(federation.ErrProviderResponse, perr.Provider, opExchange, perr)
	}
	if status >= http.StatusBadRequest {
		return nil, c.statusError(federation.ErrTokenExchange, opExchange, status)
	}
	if err := ValidateTokenResponse(raw); err != nil {
		return nil, err
	}

	expiresIn, _ := int64Value(raw, "expiresIn", "expires_in")
	return &federation.AccessTokenResult{
		AccessToken:      accessToken(raw),
		RefreshToken:     stringValue(raw, "refreshToken", "refresh_token"),
		TokenType:        firstNonEmpty(stringValue(raw, "tokenType", "token_type"), "Bearer"),
		ExpiresInSeconds: NormalizeExpiresIn(expiresIn, c.config.ExpiryUnit),
		IssuedAt:         c.now(),
	}, nil
}

// FetchUserInfo implements federation.OAuth2Client.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (raw map[string]any, err error) {
	defer c.observe(opUserInfo, c.now(), &err)

	var body io.Reader
	if c.config.Profile.UserInfoMethod == http.MethodPost {
		body = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, c.config.Profile.UserInfoMethod, c.config.UserURL, body)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build user info request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(c.config.AccessTokenHeader, accessToken)
	c.applyServiceCredentials(req)

	status, raw, err := c.do(req, opUserInfo)
	if err != nil {
		return nil, err
	}

	if perr := DetectProviderError(raw); perr != nil {
		perr.Operation = opUserInfo
		perr.Status = status
		return nil, federation.WrapProviderError(federation.ErrProviderResponse, perr.Provider, opUserInfo, perr)
	}
	if status >= http.StatusBadRequest {
		return nil, c.statusError(federation.ErrProviderResponse, opUserInfo, status)
	}
	if err := ValidateUserInfo(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// FetchRoles implements federation.RolesFetcher.
func (c *Client) FetchRoles(ctx context.Context, accessToken, userID string) (roles []federation.Role, err error) {
	defer c.observe(opRoles, c.now(), &err)

	payload, err := json.Marshal(map[string]string{
		"idSistema": c.config.SystemID,
		"idUsuario": userID,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode roles request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RolesURL, bytes.NewReader(payload))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build roles request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(c.config.AccessTokenHeader, accessToken)
	c.applyServiceCredentials(req)

	status, raw, err := c.do(req, opRoles)
	if err != nil {
		return nil, err
	}
	if perr := DetectProviderError(raw); perr != nil {
		perr.Operation = opRoles
		perr.Status = status
		return nil, federation.WrapProviderError(federation.ErrProviderResponse, perr.Provider, opRoles, perr)
	}
	if status >= http.StatusBadRequest {
		return nil, c.statusError(federation.ErrProviderResponse, opRoles, status)
	}
	return ValidateRolesResponse(raw)
}

// Revoke closes the provider session and reports failures.
func (c *Client) Revoke(ctx context.Context, accessToken string) (err error) {
	defer c.observe(opLogout, c.now(), &err)

	// An empty JSON body avoids 411 Length Required on some gateways.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.LogoutURL, strings.NewReader("{}"))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build logout request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(c.config.AccessTokenHeader, accessToken)
	c.applyServiceCredentials(req)

	status, raw, err := c.do(req, opLogout)
	if err != nil {
		return err
	}
	if perr := DetectProviderError(raw); perr != nil {
		perr.Operation = opLogout
		perr.Status = status
		return federation.WrapProviderError(federation.ErrProviderResponse, perr.Provider, opLogout, perr)
	}
	if status >= http.StatusBadRequest {
		return c.statusError(federation.ErrProviderResponse, opLogout, status)
	}
	if err := ValidateLogoutResponse(raw); err != nil {
		return federation.WrapProviderError(federation.ErrProviderResponse, federation.ProviderLlaveMX.String(), opLogout, err)
	}
	return nil
}

// RevokeSession implements federation.OAuth2Client. Errors are logged and
// swallowed.
func (c *Client) RevokeSession(ctx context.Context, accessToken string) {
	if err := c.Revoke(ctx, accessToken); err != nil {
		c.logger.Warn("llavemx logout failed", "error", err)
	}
}

func (c *Client) tokenRequestBody(code, verifier string) (io.Reader, string, error) {
	usePKCE := c.config.Profile.ClientAuth == ClientAuthPKCE

	if c.config.Profile.Encoding == EncodingForm {
		data := url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {code},
			"redirect_uri": {c.config.RedirectURL},
			"client_id":    {c.config.ClientID},
		}
		if usePKCE {
			data.Set("code_verifier", verifier)
		} else {
			data.Set("client_secret", c.config.ClientSecret)
		}
		return strings.NewReader(data.Encode()), "application/x-www-form-urlencoded", nil
	}

	payload := map[string]string{
		"grantType":   "authorization_code",
		"code":        code,
		"redirectUri": c.config.RedirectURL,
		"clientId":    c.config.ClientID,
	}
	if usePKCE {
		payload["codeVerifier"] = verifier
	} else {
		payload["clientSecret"] = c.config.ClientSecret
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(b), "application/json", nil
}

func (c *Client) applyServiceCredentials(req *http.Request) {
	if !c.config.Profile.ServiceCredentials || c.config.ServiceCredentials.Empty() {
		return
	}
	req.SetBasicAuth(c.config.ServiceCredentials.Username, c.config.ServiceCredentials.Password)
}

// do sends req and decodes a JSON object body. Empty bodies decode to an
// empty map.
func (c *Client) do(req *http.Request, op string) (int, map[string]any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, transportError(op, err)
	}

	raw := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return resp.StatusCode, raw, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		base := federation.ErrProviderResponse
		if op == opExchange {
			base = federation.ErrTokenExchange
		}
		return resp.StatusCode, nil, federation.WrapProviderError(base, federation.ProviderLlaveMX.String(), op, &federation.ProviderError{
			Provider:    federation.ProviderLlaveMX.String(),
			Operation:   op,
			Status:      resp.StatusCode,
			Code:        "invalid_response",
			Description: "response is not a JSON object",
			Err:         err,
		})
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) statusError(base *goerrors.Error, op string, status int) error {
	return federation.WrapProviderError(base, federation.ProviderLlaveMX.String(), op, &federation.ProviderError{
		Provider:    federation.ProviderLlaveMX.String(),
		Operation:   op,
		Status:      status,
		Code:        "http_error",
		Description: http.StatusText(status),
	})
}

func (c *Client) observe(op string, start time.Time, err *error) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveProviderCall(federation.ProviderLlaveMX, op, c.now().Sub(start), *err)
}

func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return federation.WrapProviderError(federation.ErrTimeout, federation.ProviderLlaveMX.String(), op, err)
	}
	return federation.WrapProviderError(federation.ErrNetwork, federation.ProviderLlaveMX.String(), op, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
