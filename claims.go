package federation

import (
	"strings"
	"time"
)

// FederatedClaims is the normalized identity asserted by the provider.
// Treat it as a value: copy it, do not mutate it after mapping.
type FederatedClaims struct {
	Provider         Provider       `json:"provider"`
	ProviderUID      string         `json:"provider_uid"`
	NationalID       string         `json:"national_id,omitempty"`
	Email            string         `json:"email"`
	EmailSynthesized bool           `json:"email_synthesized,omitempty"`
	LoginIdentifier  string         `json:"login,omitempty"`
	GivenName        string         `json:"given_name,omitempty"`
	FamilyNamePart1  string         `json:"family_name_1,omitempty"`
	FamilyNamePart2  string         `json:"family_name_2,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	BirthDate        string         `json:"birth_date,omitempty"`
	Sex              string         `json:"sex,omitempty"`
	State            string         `json:"state,omitempty"`
	Municipality     string         `json:"municipality,omitempty"`
	EmailVerified    bool           `json:"email_verified"`
	PhoneVerified    bool           `json:"phone_verified"`
	Raw              map[string]any `json:"-"`
}

// Username is the national ID when known, else the provider login.
func (c FederatedClaims) Username() string {
	if c.NationalID != "" {
		return c.NationalID
	}
	return c.LoginIdentifier
}

// FamilyName joins both family name parts.
func (c FederatedClaims) FamilyName() string {
	return joinNonEmpty(c.FamilyNamePart1, c.FamilyNamePart2)
}

// DisplayName joins given and family names skipping empty parts.
func (c FederatedClaims) DisplayName() string {
	return joinNonEmpty(c.GivenName, c.FamilyNamePart1, c.FamilyNamePart2)
}

// HasRealEmail reports whether Email came from the provider.
func (c FederatedClaims) HasRealEmail() bool {
	return c.Email != "" && !c.EmailSynthesized
}

// Clone returns a copy that shares nothing mutable with c.
func (c FederatedClaims) Clone() FederatedClaims {
	out := c
	if c.Raw != nil {
		out.Raw = make(map[string]any, len(c.Raw))
		for k, v := range c.Raw {
			out.Raw[k] = v
		}
	}
	return out
}

// AccessTokenResult is a provider access token with expiry in seconds.
type AccessTokenResult struct {
	AccessToken      string    `json:"-"`
	ExpiresInSeconds int64     `json:"expires_in"`
	RefreshToken     string    `json:"-"`
	TokenType        string    `json:"token_type,omitempty"`
	IssuedAt         time.Time `json:"issued_at"`
}

// ExpiresAt returns the absolute expiry time.
func (t AccessTokenResult) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresInSeconds) * time.Second)
}

// Role is a provider role assigned to the user for this client system.
type Role struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	System string `json:"system,omitempty"`
}

// NormalizeNationalID trims and upper-cases a national ID.
func NormalizeNationalID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
