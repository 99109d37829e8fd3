package llavemx

import (
	"encoding/json"
	"testing"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProviderError(t *testing.T) {
	assert.Nil(t, DetectProviderError(nil))
	assert.Nil(t, DetectProviderError(map[string]any{"accessToken": "tok"}))
	assert.Nil(t, DetectProviderError(map[string]any{"accessToken": "t", "error": nil}))
	assert.Nil(t, DetectProviderError(map[string]any{"accessToken": "t", "error": nil, "error_description": " "}))

	perr := DetectProviderError(map[string]any{"error_description": "bad client"})
	require.NotNil(t, perr)
	assert.Equal(t, "bad client", perr.Description)
	assert.Equal(t, "llavemx", perr.Provider)
}

func TestValidateTokenResponse(t *testing.T) {
	assert.NoError(t, ValidateTokenResponse(map[string]any{"accessToken": "tok"}))
	assert.NoError(t, ValidateTokenResponse(map[string]any{"access_token": "tok"}))

	err := ValidateTokenResponse(map[string]any{"accessToken": "  "})
	assert.True(t, federation.IsError(err, federation.ErrTokenExchange))
}

func TestValidateUserInfo(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]any
		valid bool
	}{
		{name: "Email", raw: map[string]any{"idUsuario": "1", "correo": "a@example.com"}, valid: true},
		{name: "Phone", raw: map[string]any{"id": "1", "telVigente": "5512345678"}, valid: true},
		{name: "Login", raw: map[string]any{"idUsuario": json.Number("1"), "login": "ana"}, valid: true},
		{name: "No contact", raw: map[string]any{"idUsuario": "1"}, valid: false},
		{name: "No id", raw: map[string]any{"correo": "a@example.com"}, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserInfo(tt.raw)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, federation.IsError(err, federation.ErrInvalidUserInfo))
		})
	}
}

func TestValidateRolesResponse(t *testing.T) {
	_, err := ValidateRolesResponse(map[string]any{})
	assert.True(t, federation.IsError(err, federation.ErrProviderResponse))

	roles, err := ValidateRolesResponse(map[string]any{"roles": []any{}})
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestValidateLogoutResponse(t *testing.T) {
	assert.NoError(t, ValidateLogoutResponse(map[string]any{"codeResponse": json.Number("101")}))
	assert.NoError(t, ValidateLogoutResponse(map[string]any{"codeResponse": "101"}))

	err := ValidateLogoutResponse(map[string]any{"codeResponse": json.Number("102"), "mensaje": "error"})
	require.Error(t, err)
	perr, ok := federation.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, "102", perr.Code)

	assert.Error(t, ValidateLogoutResponse(map[string]any{}))
}

func TestStringValueFormatsNumbers(t *testing.T) {
	raw := map[string]any{
		"big":   float64(123456789012),
		"num":   json.Number("42"),
		"empty": "  ",
		"flag":  true,
	}
	assert.Equal(t, "123456789012", stringValue(raw, "big"))
	assert.Equal(t, "42", stringValue(raw, "num"))
	assert.Equal(t, "42", stringValue(raw, "empty", "num"))
	assert.Equal(t, "true", stringValue(raw, "flag"))
	assert.Empty(t, stringValue(raw, "missing"))
}
