package federation

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// LoginStage tracks how far a login attempt progressed.
type LoginStage string

const (
	StageUnauthenticated        LoginStage = "unauthenticated"
	StageAuthorizationRequested LoginStage = "authorization_requested"
	StageCallbackReceived       LoginStage = "callback_received"
	StageStateValidated         LoginStage = "state_validated"
	StageTokenExchanged         LoginStage = "token_exchanged"
	StageUserInfoFetched        LoginStage = "user_info_fetched"
	StageResolved               LoginStage = "resolved"
	StageFailed                 LoginStage = "failed"
)

// CallbackParams are the query parameters of the provider callback.
type CallbackParams struct {
	Provider         Provider
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// LoginRedirect is returned by BeginLogin.
type LoginRedirect struct {
	URL      string
	Provider Provider
	PKCE     bool
}

// LoginResult is the outcome of a completed callback. Blocked decisions
// are reported as ErrDuplicateIdentityBlocked instead.
type LoginResult struct {
	Provider     Provider
	Decision     ResolutionDecision
	Claims       FederatedClaims
	Token        *AccessTokenResult
	Roles        []Role
	SignupTicket string
	Stage        LoginStage
}

// sessionRevoker is implemented by clients that can report logout failures.
type sessionRevoker interface {
	Revoke(ctx context.Context, accessToken string) error
}

// Flow drives one provider login from redirect to resolution.
type Flow struct {
	client   OAuth2Client
	mapper   ClaimsMapper
	resolver *IdentityResolver
	sessions SessionStore

	logger     Logger
	activity   ActivitySink
	observer   Observer
	tickets    *SignupTicketIssuer
	fetchRoles bool
	now        func() time.Time
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithLogger sets the flow logger.
func WithLogger(logger Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithActivitySink sets where login events are recorded.
func WithActivitySink(sink ActivitySink) FlowOption {
	return func(f *Flow) {
		f.activity = normalizeActivitySink(sink)
	}
}

// WithObserver sets the telemetry observer.
func WithObserver(observer Observer) FlowOption {
	return func(f *Flow) {
		if observer != nil {
			f.observer = observer
		}
	}
}

// WithSignupTickets attaches a signup ticket to NoMatch results.
func WithSignupTickets(issuer *SignupTicketIssuer) FlowOption {
	return func(f *Flow) {
		f.tickets = issuer
	}
}

// WithRoles fetches provider roles after user info when the client
// supports it. Role failures do not fail the login.
func WithRoles(enabled bool) FlowOption {
	return func(f *Flow) {
		f.fetchRoles = enabled
	}
}

// NewFlow wires a login flow.
func NewFlow(client OAuth2Client, mapper ClaimsMapper, resolver *IdentityResolver, sessions SessionStore, opts ...FlowOption) *Flow {
	f := &Flow{
		client:   client,
		mapper:   mapper,
		resolver: resolver,
		sessions: sessions,
		logger:   defLogger{},
		activity: noopActivitySink{},
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Provider returns the provider the flow serves.
func (f *Flow) Provider() Provider {
	return f.client.Provider()
}

// BeginLogin stores fresh login secrets under sessionID and returns the
// provider redirect.
func (f *Flow) BeginLogin(ctx context.Context, sessionID string) (*LoginRedirect, error) {
	provider := f.client.Provider()
	if sessionID == "" {
		return nil, goerrors.New("login session id is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	state, err := GenerateState()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate oauth state")
	}
	if err := f.sessions.Set(ctx, sessionID, providerKey(provider, sessionKeyState), state); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store oauth state")
	}

	var opts []AuthCodeOption
	if f.client.UsesPKCE() {
		verifier, challenge, err := GeneratePKCEPair()
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate pkce pair")
		}
		if err := f.sessions.Set(ctx, sessionID, providerKey(provider, sessionKeyCodeVerifier), verifier); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store pkce verifier")
		}
		opts = append(opts, WithPKCE(challenge, CodeChallengeMethodS256))
	}

	f.logger.Debug("login started", "provider", provider, "pkce", len(opts) > 0)

	return &LoginRedirect{
		URL:      f.client.BuildAuthorizationURL(state, opts...),
		Provider: provider,
		PKCE:     len(opts) > 0,
	}, nil
}

// CompleteLogin validates the callback and resolves the federated identity.
// Stored secrets are consumed before anything else, so a callback can only
// be processed once.
func (f *Flow) CompleteLogin(ctx context.Context, sessionID string, params CallbackParams) (*LoginResult, error) {
	provider := f.client.Provider()
	stage := StageCallbackReceived

	storedState, err := f.sessions.Pop(ctx, sessionID, providerKey(provider, sessionKeyState))
	if err != nil {
		return nil, f.fail(ctx, provider, "", stage, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read oauth state"))
	}
	verifier, err := f.sessions.Pop(ctx, sessionID, providerKey(provider, sessionKeyCodeVerifier))
	if err != nil {
		return nil, f.fail(ctx, provider, "", stage, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read pkce verifier"))
	}

	if params.Provider != "" && params.Provider != provider {
		return nil, f.fail(ctx, provider, "", stage, withMetadata(ErrProviderMismatch, map[string]any{
			"expected": provider.String(),
			"provider": params.Provider.String(),
		}))
	}

	if params.Error != "" || params.ErrorDescription != "" {
		return nil, f.fail(ctx, provider, "", stage, WrapProviderError(ErrProviderResponse, provider.String(), "authorize", &ProviderError{
			Provider:    provider.String(),
			Operation:   "authorize",
			Code:        params.Error,
			Description: params.ErrorDescription,
		}))
	}

	if !statesEqual(storedState, params.State) {
		return nil, f.fail(ctx, provider, "", stage, withMetadata(ErrCSRFStateMismatch, map[string]any{
			"state_present":  params.State != "",
			"stored_present": storedState != "",
		}))
	}
	stage = StageStateValidated

	if params.Code == "" {
		return nil, f.fail(ctx, provider, "", stage, ErrMissingAuthorizationCode)
	}

	var exchangeOpts []ExchangeOption
	if f.client.UsesPKCE() {
		if verifier == "" {
			return nil, f.fail(ctx, provider, "", stage, ErrMissingCodeVerifier)
		}
		exchangeOpts = append(exchangeOpts, WithCodeVerifier(verifier))
	}

	token, err := f.client.ExchangeCodeForToken(ctx, params.Code, exchangeOpts...)
	if err != nil {
		return nil, f.fail(ctx, provider, "", stage, err)
	}
	stage = StageTokenExchanged

	raw, err := f.client.FetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, f.fail(ctx, provider, "", stage, err)
	}
	stage = StageUserInfoFetched
	f.logger.Debug("user info received", "provider", provider, "payload", print.MaybePrettyJSON(MaskPayload(raw)))

	claims, err := f.mapper.MapClaims(raw)
	if err != nil {
		return nil, f.fail(ctx, provider, "", stage, err)
	}
	if claims.Provider == "" {
		claims.Provider = provider
	}

	result := &LoginResult{
		Provider: provider,
		Claims:   claims,
		Token:    token,
	}

	if f.fetchRoles {
		result.Roles = f.roles(ctx, provider, token.AccessToken, claims.ProviderUID)
	}

	decision, err := f.resolver.Resolve(ctx, provider, claims)
	if err != nil {
		return nil, f.fail(ctx, provider, claims.ProviderUID, stage, err)
	}
	stage = StageResolved
	f.observer.ObserveDecision(provider, decision)
	f.record(ctx, ActivityEvent{
		EventType:   decisionEventType(decision.Kind),
		Provider:    provider,
		ProviderUID: claims.ProviderUID,
		AccountID:   accountID(decision),
		Stage:       stage,
		Metadata:    decisionMetadata(decision),
	})

	if decision.IsBlocked() {
		f.logger.Warn("login blocked", "provider", provider, "reason", decision.Reason, "case_id", decision.CaseID)
		return nil, withMetadata(ErrDuplicateIdentityBlocked, map[string]any{
			"provider": provider.String(),
			"reason":   string(decision.Reason),
			"case_id":  decision.CaseID,
			"stage":    string(stage),
		})
	}

	result.Decision = decision
	result.Stage = stage

	if decision.IsNoMatch() && f.tickets != nil {
		ticket, err := f.tickets.Issue(provider, claims)
		if err != nil {
			f.logger.Error("failed to issue signup ticket", "provider", provider, "error", err)
		} else {
			result.SignupTicket = ticket
		}
	}

	f.logger.Info("login resolved",
		"provider", provider,
		"decision", decision.Kind,
		"step", decision.Step,
		"warning", decision.Warning,
	)
	return result, nil
}

// ParseSignupTicket validates a ticket minted for a NoMatch login.
func (f *Flow) ParseSignupTicket(ticket string) (*SignupTicketClaims, error) {
	if f.tickets == nil || ticket == "" {
		return nil, ErrInvalidSignupTicket
	}
	claims, err := f.tickets.Parse(ticket)
	if err != nil {
		return nil, err
	}
	if claims.Provider != f.client.Provider() {
		return nil, withMetadata(ErrInvalidSignupTicket, map[string]any{
			"provider": claims.Provider.String(),
		})
	}
	return claims, nil
}

// Logout ends the provider session. It never fails the caller.
func (f *Flow) Logout(ctx context.Context, accessToken string) {
	provider := f.client.Provider()
	if accessToken == "" {
		return
	}

	revoker, ok := f.client.(sessionRevoker)
	if !ok {
		f.client.RevokeSession(ctx, accessToken)
		return
	}

	if err := revoker.Revoke(ctx, accessToken); err != nil {
		f.logger.Warn("provider logout failed", "provider", provider, "error", err)
		f.record(ctx, ActivityEvent{
			EventType: ActivityEventLogoutFailed,
			Provider:  provider,
			Metadata:  map[string]any{"error": err.Error(), "code": TextCodeOf(err)},
		})
	}
}

func (f *Flow) roles(ctx context.Context, provider Provider, accessToken, userID string) []Role {
	fetcher, ok := f.client.(RolesFetcher)
	if !ok {
		return nil
	}
	roles, err := fetcher.FetchRoles(ctx, accessToken, userID)
	if err != nil {
		f.logger.Warn("failed to fetch provider roles", "provider", provider, "error", err)
		return nil
	}
	return roles
}

func (f *Flow) fail(ctx context.Context, provider Provider, providerUID string, stage LoginStage, err error) error {
	err = annotateStage(err, stage)

	f.observer.ObserveFailure(provider, stage, err)
	f.logger.Error("login failed", "provider", provider, "stage", stage, "error", err)
	f.record(ctx, ActivityEvent{
		EventType:   ActivityEventLoginFailed,
		Provider:    provider,
		ProviderUID: providerUID,
		Stage:       StageFailed,
		Metadata: map[string]any{
			"stage": string(stage),
			"code":  TextCodeOf(err),
		},
	})
	return err
}

func (f *Flow) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = f.now()
	}
	if err := f.activity.Record(ctx, event); err != nil {
		f.logger.Error("failed to record activity", "event", event.EventType, "error", err)
	}
}

func annotateStage(err error, stage LoginStage) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "login failed").
			WithMetadata(map[string]any{"stage": string(stage)})
	}

	meta := map[string]any{}
	for k, v := range richErr.Metadata {
		meta[k] = v
	}
	meta["stage"] = string(stage)
	return withMetadata(richErr, meta)
}

func accountID(d ResolutionDecision) string {
	if d.Account == nil {
		return ""
	}
	return d.Account.ID
}

func decisionMetadata(d ResolutionDecision) map[string]any {
	meta := map[string]any{
		"kind": string(d.Kind),
		"step": d.Step,
	}
	if d.Warning != WarningNone {
		meta["warning"] = string(d.Warning)
	}
	if d.Reason != "" {
		meta["reason"] = string(d.Reason)
	}
	if d.CaseID != "" {
		meta["case_id"] = d.CaseID
	}
	return meta
}

var sensitiveKeys = []string{"curp", "token", "password", "secret", "correo", "telefono", "telvigente"}

// MaskPayload returns a copy of raw with personal and secret values masked
// for debug logging.
func MaskPayload(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		lower := strings.ToLower(k)
		masked := false
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) {
				masked = true
				break
			}
		}
		if masked {
			out[k] = "****"
			continue
		}
		out[k] = v
	}
	return out
}
