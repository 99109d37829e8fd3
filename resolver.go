package federation

import (
	"context"
	"fmt"
)

// GenericNationalID is the national ID issued to foreigners and other
// holders without a personal one. Many people share it.
const GenericNationalID = "XEXX010101HNEXXXA4"

// DuplicatePolicy controls what happens when a national ID matches more
// than one active account.
type DuplicatePolicy string

const (
	// PolicyBlockOnDuplicate refuses the login and records a case.
	PolicyBlockOnDuplicate DuplicatePolicy = "block"
	// PolicyNoMatchOnDuplicate records a case and reports no match.
	PolicyNoMatchOnDuplicate DuplicatePolicy = "no_match"
	// PolicyBindMostRecentWithWarning records a case and binds the most
	// recently created active candidate.
	PolicyBindMostRecentWithWarning DuplicatePolicy = "bind_most_recent"
)

// Valid reports whether p is a known policy.
func (p DuplicatePolicy) Valid() bool {
	switch p {
	case PolicyBlockOnDuplicate, PolicyNoMatchOnDuplicate, PolicyBindMostRecentWithWarning:
		return true
	}
	return false
}

// ResolverConfig declares how identities are resolved. The zero value runs
// DefaultSteps with PolicyBlockOnDuplicate.
type ResolverConfig struct {
	Steps              []ResolutionStep
	DuplicatePolicy    DuplicatePolicy
	GenericNationalIDs []string
}

func (c ResolverConfig) withDefaults() ResolverConfig {
	if len(c.Steps) == 0 {
		c.Steps = DefaultSteps()
	}
	if c.DuplicatePolicy == "" {
		c.DuplicatePolicy = PolicyBlockOnDuplicate
	}
	if len(c.GenericNationalIDs) == 0 {
		c.GenericNationalIDs = []string{GenericNationalID}
	}
	return c
}

// IsGenericNationalID reports whether id is one of the shared sentinels.
func (c ResolverConfig) IsGenericNationalID(id string) bool {
	id = NormalizeNationalID(id)
	if id == "" {
		return false
	}
	for _, generic := range c.GenericNationalIDs {
		if NormalizeNationalID(generic) == id {
			return true
		}
	}
	return false
}

// ResolutionContext is what every step sees during one resolution.
type ResolutionContext struct {
	Provider Provider
	Claims   FederatedClaims
	Repos    Repositories
	Config   ResolverConfig
	Logger   Logger
}

// IdentityResolver decides whether a federated identity binds to a local
// account, is blocked, or has no match.
type IdentityResolver struct {
	repos  RepositoryManager
	config ResolverConfig
	logger Logger
}

// ResolverOption configures an IdentityResolver.
type ResolverOption func(*IdentityResolver)

// WithResolverLogger sets the resolver logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *IdentityResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewIdentityResolver creates a resolver over repos.
func NewIdentityResolver(repos RepositoryManager, cfg ResolverConfig, opts ...ResolverOption) *IdentityResolver {
	r := &IdentityResolver{
		repos:  repos,
		config: cfg.withDefaults(),
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Config returns the effective configuration.
func (r *IdentityResolver) Config() ResolverConfig {
	return r.config
}

// Resolve runs the configured steps in order inside one transaction. The
// first step that decides wins; when none decides the result is NoMatch.
// A Blocked decision commits so the duplicate case is kept.
func (r *IdentityResolver) Resolve(ctx context.Context, provider Provider, claims FederatedClaims) (ResolutionDecision, error) {
	if claims.ProviderUID == "" {
		return ResolutionDecision{}, ErrInvalidUserInfo.Clone().WithMetadata(map[string]any{
			"reason": "missing provider uid",
		})
	}

	claims = claims.Clone()
	claims.NationalID = NormalizeNationalID(claims.NationalID)

	var decision ResolutionDecision
	err := r.repos.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		rc := ResolutionContext{
			Provider: provider,
			Claims:   claims,
			Repos:    repos,
			Config:   r.config,
			Logger:   r.logger,
		}

		for _, step := range r.config.Steps {
			d, decided, err := step.Resolve(ctx, rc)
			if err != nil {
				return fmt.Errorf("resolution step %s: %w", step.Name(), err)
			}
			if decided {
				decision = d.fromStep(step.Name())
				return nil
			}
		}

		decision = NoMatch()
		return nil
	})
	if err != nil {
		return ResolutionDecision{}, err
	}

	r.logger.Debug("identity resolved",
		"provider", provider,
		"decision", decision.Kind,
		"step", decision.Step,
		"warning", decision.Warning,
	)
	return decision, nil
}
