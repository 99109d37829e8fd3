package llavemx

import (
	"fmt"
	"strings"
)

// BodyEncoding selects how token requests are encoded.
type BodyEncoding string

const (
	EncodingJSON BodyEncoding = "json"
	EncodingForm BodyEncoding = "form"
)

// ClientAuth selects how the client proves itself at the token endpoint.
type ClientAuth string

const (
	ClientAuthSecret ClientAuth = "secret"
	ClientAuthPKCE   ClientAuth = "pkce"
)

// ExpiryUnit tells how expiresIn values are expressed.
type ExpiryUnit string

const (
	ExpirySeconds      ExpiryUnit = "seconds"
	ExpiryMilliseconds ExpiryUnit = "milliseconds"
	// ExpiryAuto treats values above AutoExpiryThreshold as milliseconds.
	ExpiryAuto ExpiryUnit = "auto"
)

const (
	// AutoExpiryThreshold is the largest expiresIn taken as seconds in
	// ExpiryAuto mode.
	AutoExpiryThreshold = 100000
	// DefaultExpiresIn is used when the token response omits the expiry.
	DefaultExpiresIn = 900
)

// Profile captures one deployment variant of the provider. Web
// integrations post JSON with the client secret; app integrations post a
// form with a PKCE verifier. Both may require service credentials.
type Profile struct {
	Name               string
	Encoding           BodyEncoding
	ClientAuth         ClientAuth
	ServiceCredentials bool
	UserInfoMethod     string
}

// ProfileWeb is the web integration: JSON body, client secret, Basic
// service credentials, GET user info.
func ProfileWeb() Profile {
	return Profile{
		Name:               "web",
		Encoding:           EncodingJSON,
		ClientAuth:         ClientAuthSecret,
		ServiceCredentials: true,
		UserInfoMethod:     "GET",
	}
}

// ProfileApps is the app integration: form body, PKCE, Basic service
// credentials, GET user info.
func ProfileApps() Profile {
	return Profile{
		Name:               "apps",
		Encoding:           EncodingForm,
		ClientAuth:         ClientAuthPKCE,
		ServiceCredentials: true,
		UserInfoMethod:     "GET",
	}
}

// ProfileByName returns a predefined profile.
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "web":
		return ProfileWeb(), nil
	case "apps", "app":
		return ProfileApps(), nil
	}
	return Profile{}, fmt.Errorf("llavemx: unknown profile %q", name)
}

func (p Profile) withDefaults() Profile {
	if p.Encoding == "" {
		p.Encoding = EncodingJSON
	}
	if p.ClientAuth == "" {
		p.ClientAuth = ClientAuthSecret
	}
	if p.UserInfoMethod == "" {
		p.UserInfoMethod = "GET"
	}
	p.UserInfoMethod = strings.ToUpper(p.UserInfoMethod)
	return p
}

// NormalizeExpiresIn converts a provider expiresIn value to seconds.
// Non-positive values fall back to DefaultExpiresIn. Milliseconds round up
// so a live token never reports zero seconds.
func NormalizeExpiresIn(value int64, unit ExpiryUnit) int64 {
	if value <= 0 {
		return DefaultExpiresIn
	}
	switch unit {
	case ExpirySeconds:
		return value
	case ExpiryMilliseconds:
		return millisToSeconds(value)
	default:
		if value > AutoExpiryThreshold {
			return millisToSeconds(value)
		}
		return value
	}
}

func millisToSeconds(ms int64) int64 {
	return (ms + 999) / 1000
}
