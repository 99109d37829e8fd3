package federation

import "context"

// OAuth2Client talks to one identity provider.
type OAuth2Client interface {
	// Provider returns the provider this client speaks to.
	Provider() Provider

	// UsesPKCE reports whether the deployment profile requires PKCE.
	UsesPKCE() bool

	// BuildAuthorizationURL returns the browser redirect URL. No network.
	BuildAuthorizationURL(state string, opts ...AuthCodeOption) string

	// ExchangeCodeForToken trades an authorization code for an access token.
	ExchangeCodeForToken(ctx context.Context, code string, opts ...ExchangeOption) (*AccessTokenResult, error)

	// FetchUserInfo returns the validated raw user record.
	FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error)

	// RevokeSession ends the provider session. Failures are logged, never
	// returned.
	RevokeSession(ctx context.Context, accessToken string)
}

// RolesFetcher is implemented by clients that expose provider roles.
type RolesFetcher interface {
	FetchRoles(ctx context.Context, accessToken, userID string) ([]Role, error)
}

// ClaimsMapper turns a validated raw user record into FederatedClaims.
type ClaimsMapper interface {
	MapClaims(raw map[string]any) (FederatedClaims, error)
}

// ClaimsMapperFunc adapts a function to ClaimsMapper.
type ClaimsMapperFunc func(raw map[string]any) (FederatedClaims, error)

// MapClaims implements ClaimsMapper.
func (f ClaimsMapperFunc) MapClaims(raw map[string]any) (FederatedClaims, error) {
	return f(raw)
}

// AuthCodeOption configures the authorization URL.
type AuthCodeOption func(*authCodeConfig)

// WithPKCE adds a code challenge to the authorization URL.
func WithPKCE(codeChallenge, method string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.codeChallenge = codeChallenge
		c.codeChallengeMethod = method
	}
}

// WithScopes requests extra scopes.
func WithScopes(scopes ...string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.scopes = append(c.scopes, scopes...)
	}
}

// ExchangeOption configures the token exchange.
type ExchangeOption func(*exchangeConfig)

// WithCodeVerifier sets the PKCE code verifier for token exchange.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(c *exchangeConfig) {
		c.codeVerifier = verifier
	}
}

type authCodeConfig struct {
	scopes              []string
	codeChallenge       string
	codeChallengeMethod string
}

type exchangeConfig struct {
	codeVerifier string
}

// AuthCodeConfig represents applied auth code options in a provider-friendly form.
type AuthCodeConfig struct {
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ExchangeConfig represents applied exchange options.
type ExchangeConfig struct {
	CodeVerifier string
}

// ApplyAuthCodeOptions resolves opts on top of the provider default scopes.
func ApplyAuthCodeOptions(defaultScopes []string, opts ...AuthCodeOption) AuthCodeConfig {
	cfg := &authCodeConfig{scopes: append([]string(nil), defaultScopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return AuthCodeConfig{
		Scopes:              cfg.scopes,
		CodeChallenge:       cfg.codeChallenge,
		CodeChallengeMethod: cfg.codeChallengeMethod,
	}
}

// ApplyExchangeOptions resolves opts.
func ApplyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	cfg := &exchangeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return ExchangeConfig{CodeVerifier: cfg.codeVerifier}
}

// ServiceCredentials is the static Basic credential some providers require
// on their web services. It is distinct from the OAuth client secret.
type ServiceCredentials struct {
	Username string
	Password string
}

// Empty reports whether no credential is configured.
func (c ServiceCredentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}
