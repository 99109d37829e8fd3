package federation

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeCSRFStateMismatch       = "federation_csrf_state_mismatch"
	TextCodeMissingAuthorization    = "federation_missing_authorization_code"
	TextCodeMissingCodeVerifier     = "federation_missing_code_verifier"
	TextCodeTokenExchange           = "federation_token_exchange_failed"
	TextCodeInvalidUserInfo         = "federation_invalid_user_info"
	TextCodeProviderResponse        = "federation_provider_error"
	TextCodeDuplicateIdentity       = "federation_duplicate_identity_blocked"
	TextCodeNetwork                 = "federation_network_error"
	TextCodeTimeout                 = "federation_timeout"
	TextCodeProviderMismatch        = "federation_provider_mismatch"
	TextCodeInvalidSignupTicket     = "federation_invalid_signup_ticket"
	TextCodeAccountAlreadyFederated = "federation_account_already_federated"
	TextCodeDuplicateCaseNotFound   = "federation_duplicate_case_not_found"
)

// ErrCSRFStateMismatch is returned when the callback state is missing or
// does not match the stored one.
var ErrCSRFStateMismatch = errors.New("oauth state mismatch", errors.CategoryBadInput).
	WithTextCode(TextCodeCSRFStateMismatch).
	WithCode(errors.CodeBadRequest)

// ErrMissingAuthorizationCode is returned when the callback carries no code.
var ErrMissingAuthorizationCode = errors.New("missing authorization code", errors.CategoryBadInput).
	WithTextCode(TextCodeMissingAuthorization).
	WithCode(errors.CodeBadRequest)

// ErrMissingCodeVerifier is returned when PKCE is enabled and no verifier
// was stored for the login session.
var ErrMissingCodeVerifier = errors.New("missing pkce code verifier", errors.CategoryBadInput).
	WithTextCode(TextCodeMissingCodeVerifier).
	WithCode(errors.CodeBadRequest)

// ErrTokenExchange is returned when the token endpoint answers without a
// usable access token.
var ErrTokenExchange = errors.New("token exchange failed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExchange).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidUserInfo is returned when the user record lacks the required
// identifiers.
var ErrInvalidUserInfo = errors.New("invalid user info", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidUserInfo).
	WithCode(errors.CodeBadRequest)

// ErrProviderResponse is returned when the provider reports an error.
var ErrProviderResponse = errors.New("identity provider returned an error", errors.CategoryAuth).
	WithTextCode(TextCodeProviderResponse).
	WithCode(errors.CodeUnauthorized)

// ErrDuplicateIdentityBlocked is returned when a national ID matches more
// than one active local account.
var ErrDuplicateIdentityBlocked = errors.New("identity matches several active accounts", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(errors.CodeConflict)

// ErrNetwork is returned on transport failures talking to the provider.
var ErrNetwork = errors.New("identity provider unreachable", errors.CategoryOperation).
	WithTextCode(TextCodeNetwork).
	WithCode(http.StatusBadGateway)

// ErrTimeout is returned when a provider call exceeds its deadline.
var ErrTimeout = errors.New("identity provider timeout", errors.CategoryOperation).
	WithTextCode(TextCodeTimeout).
	WithCode(http.StatusGatewayTimeout)

// ErrProviderMismatch is returned when a callback targets a provider the
// flow was not configured for.
var ErrProviderMismatch = errors.New("unsupported identity provider", errors.CategoryBadInput).
	WithTextCode(TextCodeProviderMismatch).
	WithCode(errors.CodeNotFound)

// ErrInvalidSignupTicket is returned when a signup ticket fails validation.
var ErrInvalidSignupTicket = errors.New("invalid signup ticket", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidSignupTicket).
	WithCode(errors.CodeUnauthorized)

// ErrAccountAlreadyFederated is returned by the provisioner when the provider
// identity is already linked.
var ErrAccountAlreadyFederated = errors.New("provider identity already linked", errors.CategoryConflict).
	WithTextCode(TextCodeAccountAlreadyFederated).
	WithCode(errors.CodeConflict)

// ErrDuplicateCaseNotFound is returned when resolving an unknown case.
var ErrDuplicateCaseNotFound = errors.New("duplicate case not found", errors.CategoryNotFound).
	WithTextCode(TextCodeDuplicateCaseNotFound).
	WithCode(errors.CodeNotFound)

// TextCodeOf returns the text code of a go-errors error in the chain.
func TextCodeOf(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode
	}
	return ""
}

// IsError reports whether err carries the same text code as target.
func IsError(err error, target *errors.Error) bool {
	if err == nil || target == nil {
		return false
	}
	return TextCodeOf(err) == target.TextCode
}

// IsTransient reports whether err is a transport failure worth retrying by
// the user.
func IsTransient(err error) bool {
	return IsError(err, ErrNetwork) || IsError(err, ErrTimeout)
}

// RequiresSupport reports whether err needs manual remediation.
func RequiresSupport(err error) bool {
	return IsError(err, ErrDuplicateIdentityBlocked)
}

func withMetadata(base *errors.Error, meta map[string]any) *errors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
