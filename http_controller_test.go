package federation_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingRegistrar struct {
	gets  []string
	posts []string
}

func (r *recordingRegistrar) Get(path string, _ router.HandlerFunc, _ ...router.MiddlewareFunc) router.RouteInfo {
	r.gets = append(r.gets, path)
	return nil
}

func (r *recordingRegistrar) Post(path string, _ router.HandlerFunc, _ ...router.MiddlewareFunc) router.RouteInfo {
	r.posts = append(r.posts, path)
	return nil
}

func TestHTTPControllerRegisterRoutes(t *testing.T) {
	f := newFlowFixture(t, &fakeClient{})

	reg := &recordingRegistrar{}
	federation.NewHTTPController(f.flow, federation.HTTPConfig{}, nil).RegisterRoutes(reg)
	assert.Equal(t, []string{"/auth/llavemx", "/auth/llavemx/callback"}, reg.gets)
	assert.Equal(t, []string{"/auth/llavemx/logout"}, reg.posts)

	reg = &recordingRegistrar{}
	federation.NewHTTPController(f.flow, federation.HTTPConfig{
		PathPrefix:  "/login/mx/",
		Provisioner: federation.NewProvisioner(f.repos, federation.ResolverConfig{}, nil, nil),
	}, nil).RegisterRoutes(reg)
	assert.Equal(t, []string{"/login/mx", "/login/mx/callback"}, reg.gets)
	assert.Equal(t, []string{"/login/mx/logout", "/login/mx/signup"}, reg.posts)
}

func TestHTTPControllerBeginLoginRedirects(t *testing.T) {
	f := newFlowFixture(t, &fakeClient{pkce: true})
	controller := federation.NewHTTPController(f.flow, federation.HTTPConfig{CookieHTTPOnly: true}, federation.NopLogger())

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())

	var sessionID string
	ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == "federation_login" && c.HTTPOnly && c.SameSite == "Lax"
	})).Run(func(args mock.Arguments) {
		sessionID = args.Get(0).(*router.Cookie).Value
	}).Return()

	var redirectURL string
	ctx.On("Redirect", mock.Anything, []int{http.StatusTemporaryRedirect}).Run(func(args mock.Arguments) {
		redirectURL = args.String(0)
	}).Return(nil)

	err := controller.BeginLogin(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	parsed, err := url.Parse(redirectURL)
	require.NoError(t, err)
	assert.NotEmpty(t, parsed.Query().Get("state"))
	assert.NotEmpty(t, parsed.Query().Get("code_challenge"))

	stored, err := f.sessions.Get(context.Background(), sessionID, "llavemx:state")
	require.NoError(t, err)
	assert.Equal(t, parsed.Query().Get("state"), stored)
	ctx.AssertExpectations(t)
}

func TestHTTPControllerCallbackReturnsDecision(t *testing.T) {
	f := newFlowFixture(t, &fakeClient{})
	acc := f.seed(t, testCURP, "")
	state := f.begin(t, "sess-1")

	controller := federation.NewHTTPController(f.flow, federation.HTTPConfig{StoreProviderToken: true}, federation.NopLogger())

	ctx := router.NewMockContext()
	ctx.CookiesM["federation_login"] = "sess-1"
	ctx.QueriesM["code"] = "auth-code"
	ctx.QueriesM["state"] = state
	ctx.On("Context").Return(context.Background())
	ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == "federation_provider_token" && c.Value == "access-1"
	})).Return()

	var payload map[string]any
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]any)
	}).Return(nil)

	err := controller.Callback(ctx)
	require.NoError(t, err)
	assert.Equal(t, "auth-code", f.client.lastCode)

	decision, ok := payload["decision"].(federation.ResolutionDecision)
	require.True(t, ok)
	require.True(t, decision.IsBound())
	assert.Equal(t, acc.ID, decision.Account.ID)
	assert.NotContains(t, payload, "signup_ticket")
	ctx.AssertExpectations(t)
}

func TestHTTPControllerCallbackStateMismatch(t *testing.T) {
	f := newFlowFixture(t, &fakeClient{})
	f.begin(t, "sess-1")

	controller := federation.NewHTTPController(f.flow, federation.HTTPConfig{}, federation.NopLogger())

	ctx := router.NewMockContext()
	ctx.CookiesM["federation_login"] = "sess-1"
	ctx.QueriesM["code"] = "auth-code"
	ctx.QueriesM["state"] = "forged"
	ctx.On("Context").Return(context.Background())

	var payload map[string]any
	ctx.On("JSON", http.StatusBadRequest, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]any)
	}).Return(nil)

	err := controller.Callback(ctx)
	require.NoError(t, err)
	assert.Equal(t, federation.TextCodeCSRFStateMismatch, payload["code"])
	assert.Equal(t, false, payload["retry"])
	assert.Equal(t, 0, f.client.exchangeCalls)
}

func TestHTTPControllerCallbackBlockedRedirects(t *testing.T) {
	f := newFlowFixture(t, &fakeClient{})
	f.seed(t, testCURP, "a@example.com")
	f.seed(t, testCURP, "b@example.com")
	state := f.begin(t, "sess-1")

	controller := federation.NewHTTPController(f.flow, federation.HTTPConfig{
		ErrorRedirect: "https://app.example.com/login?next=%2Fhome",
	}, federation.NopLogger())

	ctx := router.NewMockContext()
	ctx.CookiesM["federation_login"] = "sess-1"
	ctx.QueriesM["code"] = "auth-code"
	ctx.QueriesM["state"] = state
	ctx.On("Context").Return(context.Background())

	var redirectURL string
	ctx.On("Redirect", mock.Anything, []int{http.StatusTemporaryRedirect}).Run(func(args mock.Arguments) {
		redirectURL = args.String(0)
	}).Return(nil)

	err := controller.Callback(ctx)
	require.NoError(t, err)

	parsed, err := url.Parse(redirectURL)
	require.NoError(t, err)
	assert.Equal(t, federation.TextCodeDuplicateIdentity, parsed.Query().Get("error"))
	assert.Equal(t, "/home", parsed.Query().Get("next"))
}

func TestHTTPControllerSignupProvisions(t *testing.T) {
	issuer := federation.NewSignupTicketIssuer([]byte("ticket-key"), "", time.Minute, federation.NopLogger())
	f := newFlowFixture(t, &fakeClient{}, federation.WithSignupTickets(issuer))
	state := f.begin(t, "sess-1")

	result, err := f.flow.CompleteLogin(context.Background(), "sess-1", federation.CallbackParams{Code: "code", State: state})
	require.NoError(t, err)
	require.NotEmpty(t, result.SignupTicket)

	controller := federation.NewHTTPController(f.flow, federation.HTTPConfig{
		Provisioner: federation.NewProvisioner(f.repos, federation.ResolverConfig{}, federation.NopLogger(), nil),
	}, federation.NopLogger())

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("FormValue", "ticket").Return(result.SignupTicket)

	var payload map[string]any
	ctx.On("JSON", http.StatusCreated, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]any)
	}).Return(nil)

	require.NoError(t, controller.Signup(ctx))

	account, ok := payload["account"].(*federation.Account)
	require.True(t, ok)
	assert.Equal(t, testCURP, account.NationalID)

	link, err := f.repos.Links().FindByProviderUID(context.Background(), federation.ProviderLlaveMX, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, account.ID, link.AccountID)
}

func TestHTTPControllerLogout(t *testing.T) {
	f := newFlowFixture(t, &fakeClient{revokeErr: federation.ErrNetwork})
	controller := federation.NewHTTPController(f.flow, federation.HTTPConfig{}, federation.NopLogger())

	ctx := router.NewMockContext()
	ctx.CookiesM["federation_provider_token"] = "access-1"
	ctx.On("Context").Return(context.Background())
	ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == "federation_provider_token" && c.Value == ""
	})).Return()

	var payload map[string]string
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]string)
	}).Return(nil)

	require.NoError(t, controller.Logout(ctx))
	assert.Equal(t, "logged_out", payload["status"])
	assert.Equal(t, []string{"access-1"}, f.client.revoked)
	ctx.AssertExpectations(t)
}
