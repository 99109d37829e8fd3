package llavemx

import (
	"strings"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/nyaruka/phonenumbers"
)

const (
	// DefaultPlaceholderDomain is used to synthesize emails for users that
	// registered without one. The .invalid TLD never resolves.
	DefaultPlaceholderDomain = "placeholder.invalid"
	// DefaultPhoneRegion is used to parse national phone numbers.
	DefaultPhoneRegion = "MX"
)

// MapperConfig configures the claims mapper.
type MapperConfig struct {
	PlaceholderDomain string
	PhoneRegion       string
}

// Mapper turns a datosUsuario payload into FederatedClaims.
type Mapper struct {
	config MapperConfig
}

// NewMapper creates a mapper.
func NewMapper(cfg MapperConfig) *Mapper {
	if cfg.PlaceholderDomain == "" {
		cfg.PlaceholderDomain = DefaultPlaceholderDomain
	}
	cfg.PlaceholderDomain = strings.TrimPrefix(strings.ToLower(cfg.PlaceholderDomain), "@")
	if cfg.PhoneRegion == "" {
		cfg.PhoneRegion = DefaultPhoneRegion
	}
	return &Mapper{config: cfg}
}

// MapClaims implements federation.ClaimsMapper.
func (m *Mapper) MapClaims(raw map[string]any) (federation.FederatedClaims, error) {
	uid := UserID(raw)
	if uid == "" {
		return federation.FederatedClaims{}, invalidUserInfo("missing user id")
	}

	login := stringValue(raw, "login")
	rawPhone := stringValue(raw, "telVigente", "telefono")
	phone := m.normalizePhone(rawPhone)

	claims := federation.FederatedClaims{
		Provider:        federation.ProviderLlaveMX,
		ProviderUID:     uid,
		NationalID:      federation.NormalizeNationalID(stringValue(raw, "curp")),
		Email:           federation.NormalizeEmail(stringValue(raw, "correo")),
		LoginIdentifier: login,
		GivenName:       stringValue(raw, "nombre"),
		FamilyNamePart1: stringValue(raw, "primerApellido"),
		FamilyNamePart2: stringValue(raw, "segundoApellido"),
		Phone:           phone,
		BirthDate:       stringValue(raw, "fechaNacimiento"),
		Sex:             stringValue(raw, "sexo"),
		State:           stringValue(raw, "estadoNacimiento"),
		EmailVerified:   boolValue(raw, "correoVerificado"),
		PhoneVerified:   boolValue(raw, "telefonoVerificado"),
		Raw:             copyRaw(raw),
	}

	if address, ok := raw["domicilio"].(map[string]any); ok {
		claims.Municipality = stringValue(address, "alcaldiaMunicipio")
	}

	if claims.Email == "" {
		claims.Email = m.placeholderEmail(login, rawPhone, uid)
		claims.EmailSynthesized = true
	}

	return claims, nil
}

// placeholderEmail builds <login>@<domain>, falling back to the phone as
// sent by the provider and then the provider id for the local part.
func (m *Mapper) placeholderEmail(login, phone, uid string) string {
	local := sanitizeLocalPart(login)
	if local == "" {
		local = sanitizeLocalPart(phone)
	}
	if local == "" {
		local = "llavemx-" + sanitizeLocalPart(uid)
	}
	return local + "@" + m.config.PlaceholderDomain
}

func (m *Mapper) normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, m.config.PhoneRegion)
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func sanitizeLocalPart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}

func copyRaw(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
