package llavemx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method      string
	path        string
	contentType string
	body        string
	user        string
	pass        string
	hasBasic    bool
	tokenHeader string
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, pass, ok := r.BasicAuth()
		captured = append(captured, capturedRequest{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
			user:        user,
			pass:        pass,
			hasBasic:    ok,
			tokenHeader: r.Header.Get(DefaultAccessTokenHeader),
		})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(srv *httptest.Server, profile Profile) Config {
	return Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://app.example.com/auth/llavemx/callback",
		AuthURL:      srv.URL + "/oauth.xhtml",
		TokenURL:     srv.URL + "/token",
		UserURL:      srv.URL + "/user",
		RolesURL:     srv.URL + "/roles",
		LogoutURL:    srv.URL + "/logout",
		Profile:      profile,
		ServiceCredentials: federation.ServiceCredentials{
			Username: "svc",
			Password: "svc-pass",
		},
		Timeout: time.Second,
	}
}

func TestBuildAuthorizationURL(t *testing.T) {
	c := New(Config{
		ClientID:    "client-1",
		RedirectURL: "https://app.example.com/cb",
		Scopes:      []string{"openid"},
	})

	raw := c.BuildAuthorizationURL("state-1", federation.WithPKCE("challenge-1", federation.CodeChallengeMethodS256))
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "val-llavemx.infotec.mx", parsed.Host)
	q := parsed.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/cb", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "openid", q.Get("scope"))
	assert.Equal(t, "challenge-1", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))

	plain := c.BuildAuthorizationURL("state-2")
	assert.NotContains(t, plain, "code_challenge")
}

func TestExchangeWebProfileSendsJSONWithSecret(t *testing.T) {
	srv, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "tok-1", "expiresIn": 900000})
	})
	c := New(testConfig(srv, ProfileWeb()))

	token, err := c.ExchangeCodeForToken(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)
	assert.Equal(t, int64(900), token.ExpiresInSeconds)
	assert.Equal(t, "Bearer", token.TokenType)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "application/json", req.contentType)
	assert.True(t, req.hasBasic)
	assert.Equal(t, "svc", req.user)
	assert.Equal(t, "svc-pass", req.pass)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(req.body), &body))
	assert.Equal(t, "authorization_code", body["grantType"])
	assert.Equal(t, "code-1", body["code"])
	assert.Equal(t, "client-1", body["clientId"])
	assert.Equal(t, "secret-1", body["clientSecret"])
	assert.Equal(t, "https://app.example.com/auth/llavemx/callback", body["redirectUri"])
	assert.NotContains(t, body, "codeVerifier")
}

func TestExchangeIgnoresNullErrorFields(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"accessToken":"tok-1","expiresIn":900000,"error":null,"error_description":null}`)
	})

	token, err := New(testConfig(srv, ProfileWeb())).ExchangeCodeForToken(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)
	assert.Equal(t, int64(900), token.ExpiresInSeconds)
}

func TestExchangeAppsProfileSendsFormWithVerifier(t *testing.T) {
	srv, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "tok-1", "expiresIn": 900})
	})
	c := New(testConfig(srv, ProfileApps()))
	require.True(t, c.UsesPKCE())

	_, err := c.ExchangeCodeForToken(context.Background(), "code-1")
	assert.True(t, federation.IsError(err, federation.ErrMissingCodeVerifier))
	assert.Empty(t, *captured)

	token, err := c.ExchangeCodeForToken(context.Background(), "code-1", federation.WithCodeVerifier("verifier-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(900), token.ExpiresInSeconds)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "application/x-www-form-urlencoded", req.contentType)

	form, err := url.ParseQuery(req.body)
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "verifier-1", form.Get("code_verifier"))
	assert.Empty(t, form.Get("client_secret"))
}

func TestExchangeExpiryUnits(t *testing.T) {
	tests := []struct {
		name     string
		unit     ExpiryUnit
		value    any
		expected int64
	}{
		{name: "auto milliseconds", unit: ExpiryAuto, value: 900000, expected: 900},
		{name: "auto seconds", unit: ExpiryAuto, value: 900, expected: 900},
		{name: "forced milliseconds", unit: ExpiryMilliseconds, value: 60000, expected: 60},
		{name: "sub-second milliseconds", unit: ExpiryMilliseconds, value: 500, expected: 1},
		{name: "partial second rounds up", unit: ExpiryMilliseconds, value: 1500, expected: 2},
		{name: "forced seconds", unit: ExpirySeconds, value: 900000, expected: 900000},
		{name: "string value", unit: ExpiryAuto, value: "3600", expected: 3600},
		{name: "missing", unit: ExpiryAuto, value: nil, expected: DefaultExpiresIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				body := map[string]any{"accessToken": "tok"}
				if tt.value != nil {
					body["expiresIn"] = tt.value
				}
				writeJSON(w, http.StatusOK, body)
			})
			cfg := testConfig(srv, ProfileWeb())
			cfg.ExpiryUnit = tt.unit

			token, err := New(cfg).ExchangeCodeForToken(context.Background(), "code")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, token.ExpiresInSeconds)
		})
	}
}

func TestExchangeErrors(t *testing.T) {
	t.Run("provider error body", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "code expired"})
		})
		_, err := New(testConfig(srv, ProfileWeb())).ExchangeCodeForToken(context.Background(), "code")
		assert.True(t, federation.IsError(err, federation.ErrProviderResponse))

		perr, ok := federation.AsProviderError(err)
		require.True(t, ok)
		assert.Equal(t, "invalid_grant", perr.Code)
		assert.Equal(t, http.StatusBadRequest, perr.Status)
	})

	t.Run("missing access token", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"expiresIn": 900})
		})
		_, err := New(testConfig(srv, ProfileWeb())).ExchangeCodeForToken(context.Background(), "code")
		assert.True(t, federation.IsError(err, federation.ErrTokenExchange))
	})

	t.Run("http status", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		_, err := New(testConfig(srv, ProfileWeb())).ExchangeCodeForToken(context.Background(), "code")
		assert.True(t, federation.IsError(err, federation.ErrTokenExchange))
	})

	t.Run("not json", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>gateway</html>"))
		})
		_, err := New(testConfig(srv, ProfileWeb())).ExchangeCodeForToken(context.Background(), "code")
		assert.True(t, federation.IsError(err, federation.ErrTokenExchange))
	})

	t.Run("timeout", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "tok"})
		})
		cfg := testConfig(srv, ProfileWeb())
		cfg.Timeout = 20 * time.Millisecond

		_, err := New(cfg).ExchangeCodeForToken(context.Background(), "code")
		assert.True(t, federation.IsError(err, federation.ErrTimeout))
		assert.True(t, federation.IsTransient(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
		cfg := testConfig(srv, ProfileWeb())
		srv.Close()

		_, err := New(cfg).ExchangeCodeForToken(context.Background(), "code")
		assert.True(t, federation.IsError(err, federation.ErrNetwork))
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := New(Config{}).ExchangeCodeForToken(context.Background(), "")
		assert.True(t, federation.IsError(err, federation.ErrMissingAuthorizationCode))
	})
}

func TestFetchUserInfo(t *testing.T) {
	srv, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"idUsuario": 12345,
			"curp":      "GODE561231HDFRRN09",
			"correo":    "ana@example.com",
		})
	})
	c := New(testConfig(srv, ProfileWeb()))

	raw, err := c.FetchUserInfo(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "12345", UserID(raw))

	req := (*captured)[0]
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "tok-1", req.tokenHeader)
	assert.True(t, req.hasBasic)
}

func TestFetchUserInfoRejectsIncompleteRecord(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"curp": "GODE561231HDFRRN09"})
	})
	_, err := New(testConfig(srv, ProfileWeb())).FetchUserInfo(context.Background(), "tok")
	assert.True(t, federation.IsError(err, federation.ErrInvalidUserInfo))
}

func TestFetchRoles(t *testing.T) {
	srv, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"roles": []any{
				map[string]any{"id": 7, "nombre": "alumno", "idSistema": "sys-1"},
				map[string]any{"id": 8},
			},
		})
	})
	cfg := testConfig(srv, ProfileWeb())
	cfg.SystemID = "sys-1"

	roles, err := New(cfg).FetchRoles(context.Background(), "tok-1", "user-1")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, federation.Role{ID: "7", Name: "alumno", System: "sys-1"}, roles[0])

	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "tok-1", req.tokenHeader)
	assert.JSONEq(t, `{"idSistema":"sys-1","idUsuario":"user-1"}`, req.body)
}

func TestRevoke(t *testing.T) {
	t.Run("success code", func(t *testing.T) {
		srv, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"codeResponse": 101})
		})
		require.NoError(t, New(testConfig(srv, ProfileWeb())).Revoke(context.Background(), "tok-1"))

		req := (*captured)[0]
		assert.Equal(t, "{}", req.body)
		assert.Equal(t, "tok-1", req.tokenHeader)
	})

	t.Run("unexpected code", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"codeResponse": 500, "mensaje": "sesion no encontrada"})
		})
		c := New(testConfig(srv, ProfileWeb()))

		err := c.Revoke(context.Background(), "tok-1")
		assert.True(t, federation.IsError(err, federation.ErrProviderResponse))

		assert.NotPanics(t, func() {
			c.RevokeSession(context.Background(), "tok-1")
		})
	})
}

type callRecorder struct {
	ops      []string
	failures int
}

func (r *callRecorder) ObserveDecision(federation.Provider, federation.ResolutionDecision) {}
func (r *callRecorder) ObserveFailure(federation.Provider, federation.LoginStage, error)   {}

func (r *callRecorder) ObserveProviderCall(_ federation.Provider, op string, _ time.Duration, err error) {
	r.ops = append(r.ops, op)
	if err != nil {
		r.failures++
	}
}

func TestClientReportsProviderCalls(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "tok"})
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	rec := &callRecorder{}
	c := New(testConfig(srv, ProfileWeb()), WithObserver(rec))

	_, err := c.ExchangeCodeForToken(context.Background(), "code")
	require.NoError(t, err)
	_, err = c.FetchUserInfo(context.Background(), "tok")
	require.Error(t, err)

	assert.Equal(t, []string{opExchange, opUserInfo}, rec.ops)
	assert.Equal(t, 1, rec.failures)
}
