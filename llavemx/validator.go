package llavemx

import (
	"encoding/json"
	"strconv"
	"strings"

	federation "github.com/goliatone/go-auth-federation"
)

// DetectProviderError returns the provider error embedded in raw, if any.
// Callers check it before any other validation. Null or blank error fields
// are not errors.
func DetectProviderError(raw map[string]any) *federation.ProviderError {
	if raw == nil {
		return nil
	}
	code := stringValue(raw, "error")
	desc := stringValue(raw, "error_description")
	if code == "" && desc == "" {
		return nil
	}
	return &federation.ProviderError{
		Provider:    federation.ProviderLlaveMX.String(),
		Code:        code,
		Description: desc,
	}
}

// ValidateTokenResponse requires a non-empty access token.
func ValidateTokenResponse(raw map[string]any) error {
	if accessToken(raw) == "" {
		return federation.WrapProviderError(federation.ErrTokenExchange, federation.ProviderLlaveMX.String(), "exchange", &federation.ProviderError{
			Provider:    federation.ProviderLlaveMX.String(),
			Operation:   "exchange",
			Code:        "missing_access_token",
			Description: "token response has no access token",
		})
	}
	return nil
}

// ValidateUserInfo requires a user id and at least one contact channel.
func ValidateUserInfo(raw map[string]any) error {
	if UserID(raw) == "" {
		return invalidUserInfo("missing user id")
	}
	if stringValue(raw, "correo") == "" &&
		stringValue(raw, "telVigente", "telefono") == "" &&
		stringValue(raw, "login") == "" {
		return invalidUserInfo("missing email, phone and login")
	}
	return nil
}

// ValidateRolesResponse extracts roles. Each role needs an id and a name.
func ValidateRolesResponse(raw map[string]any) ([]federation.Role, error) {
	list, ok := raw["roles"].([]any)
	if !ok {
		return nil, federation.WrapProviderError(federation.ErrProviderResponse, federation.ProviderLlaveMX.String(), "roles", &federation.ProviderError{
			Code:        "invalid_roles_response",
			Description: "roles array missing",
		})
	}

	roles := make([]federation.Role, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := stringValue(entry, "id")
		name := stringValue(entry, "nombre")
		if id == "" || name == "" {
			continue
		}
		roles = append(roles, federation.Role{
			ID:     id,
			Name:   name,
			System: stringValue(entry, "idSistema", "sistema"),
		})
	}
	return roles, nil
}

// LogoutSuccessCode is the codeResponse value of a successful logout.
const LogoutSuccessCode = 101

// ValidateLogoutResponse checks the logout acknowledgement.
func ValidateLogoutResponse(raw map[string]any) error {
	code, ok := int64Value(raw, "codeResponse")
	if ok && code == LogoutSuccessCode {
		return nil
	}
	return &federation.ProviderError{
		Provider:    federation.ProviderLlaveMX.String(),
		Operation:   "logout",
		Code:        stringValue(raw, "codeResponse"),
		Description: stringValue(raw, "mensaje"),
	}
}

// UserID returns idUsuario, falling back to id.
func UserID(raw map[string]any) string {
	return stringValue(raw, "idUsuario", "id")
}

func accessToken(raw map[string]any) string {
	return stringValue(raw, "accessToken", "access_token")
}

func invalidUserInfo(reason string) error {
	return federation.WrapProviderError(federation.ErrInvalidUserInfo, federation.ProviderLlaveMX.String(), "user_info", &federation.ProviderError{
		Code:        "invalid_user_info",
		Description: reason,
	})
}

// stringValue returns the first non-empty value among keys, rendering
// numbers without exponent.
func stringValue(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			s = strconv.Itoa(t)
		case int64:
			s = strconv.FormatInt(t, 10)
		case bool:
			s = strconv.FormatBool(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func int64Value(raw map[string]any, keys ...string) (int64, bool) {
	for _, key := range keys {
		switch t := raw[key].(type) {
		case float64:
			return int64(t), true
		case int:
			return int64(t), true
		case int64:
			return t, true
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return n, true
			}
			if f, err := t.Float64(); err == nil {
				return int64(f), true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func boolValue(raw map[string]any, key string) bool {
	switch t := raw[key].(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "s", "si", "sí", "y", "yes":
			return true
		}
	case float64:
		return t != 0
	case json.Number:
		return t.String() != "0"
	}
	return false
}
