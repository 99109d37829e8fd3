package federation

import (
	"fmt"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultSignupTicketTTL is how long a signup ticket stays valid.
const DefaultSignupTicketTTL = 15 * time.Minute

// SignupTicketClaims carries mapped claims from a NoMatch login to the
// host provisioning endpoint.
type SignupTicketClaims struct {
	jwt.RegisteredClaims
	Provider Provider        `json:"prv"`
	Claims   FederatedClaims `json:"fcl"`
}

// SignupTicketIssuer mints and validates signup tickets.
type SignupTicketIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	logger     Logger
}

// NewSignupTicketIssuer creates an HS256 issuer.
func NewSignupTicketIssuer(signingKey []byte, issuer string, ttl time.Duration, logger Logger) *SignupTicketIssuer {
	if ttl <= 0 {
		ttl = DefaultSignupTicketTTL
	}
	return &SignupTicketIssuer{
		signingKey: signingKey,
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
		logger:     normalizeLogger(logger),
	}
}

// Issue signs a ticket for claims. Raw provider payloads are not embedded.
func (s *SignupTicketIssuer) Issue(provider Provider, claims FederatedClaims) (string, error) {
	if len(s.signingKey) == 0 {
		return "", errors.New("signup ticket signing key must not be empty", errors.CategoryInternal)
	}

	now := s.now()
	payload := claims.Clone()
	payload.Raw = nil

	ticket := &SignupTicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   claims.ProviderUID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Provider: provider,
		Claims:   payload,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, ticket).SignedString(s.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign signup ticket")
	}
	return signed, nil
}

// Parse validates a ticket and returns its claims.
func (s *SignupTicketIssuer) Parse(ticket string) (*SignupTicketClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(ticket, &SignupTicketClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			s.logger.Error("signup ticket with unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, WrapProviderError(ErrInvalidSignupTicket, "", "parse_ticket", err)
	}

	claims, ok := token.Claims.(*SignupTicketClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.Subject != claims.Claims.ProviderUID {
		return nil, ErrInvalidSignupTicket
	}
	return claims, nil
}
