package federation

import (
	"context"
	"sort"
)

// ResolutionStep is one ordered stage of identity resolution. Returning
// decided=false hands over to the next step.
type ResolutionStep interface {
	Name() string
	Resolve(ctx context.Context, rc ResolutionContext) (decision ResolutionDecision, decided bool, err error)
}

// Step names as recorded on ResolutionDecision.Step.
const (
	StepExistingLink      = "existing_link"
	StepGenericNationalID = "generic_national_id"
	StepNationalID        = "national_id"
	StepEmail             = "email"
)

// DefaultSteps returns link, generic national ID guard, national ID and
// email, in that order.
func DefaultSteps() []ResolutionStep {
	return []ResolutionStep{
		ExistingLinkStep{},
		GenericNationalIDStep{},
		NationalIDStep{},
		EmailStep{},
	}
}

// ExistingLinkStep binds to the account already linked to the provider
// identity. It never writes.
type ExistingLinkStep struct{}

func (ExistingLinkStep) Name() string { return StepExistingLink }

func (ExistingLinkStep) Resolve(ctx context.Context, rc ResolutionContext) (ResolutionDecision, bool, error) {
	link, err := rc.Repos.Links().FindByProviderUID(ctx, rc.Provider, rc.Claims.ProviderUID)
	if err != nil {
		return ResolutionDecision{}, false, err
	}
	if link == nil {
		return ResolutionDecision{}, false, nil
	}

	account, err := rc.Repos.Accounts().FindByID(ctx, link.AccountID)
	if err != nil {
		return ResolutionDecision{}, false, err
	}
	if account == nil {
		rc.Logger.Warn("identity link points to a missing account",
			"provider", rc.Provider,
			"link_id", link.ID,
			"account_id", link.AccountID,
		)
		return ResolutionDecision{}, false, nil
	}
	return Bound(account, WarningNone), true, nil
}

// GenericNationalIDStep stops resolution with NoMatch for shared national
// IDs so they never bind by national ID or email.
type GenericNationalIDStep struct{}

func (GenericNationalIDStep) Name() string { return StepGenericNationalID }

func (GenericNationalIDStep) Resolve(_ context.Context, rc ResolutionContext) (ResolutionDecision, bool, error) {
	if !rc.Config.IsGenericNationalID(rc.Claims.NationalID) {
		return ResolutionDecision{}, false, nil
	}
	rc.Logger.Info("generic national id presented, skipping auto binding",
		"provider", rc.Provider,
	)
	return NoMatch(), true, nil
}

// NationalIDStep matches accounts by national ID.
type NationalIDStep struct{}

func (NationalIDStep) Name() string { return StepNationalID }

func (NationalIDStep) Resolve(ctx context.Context, rc ResolutionContext) (ResolutionDecision, bool, error) {
	nationalID := rc.Claims.NationalID
	if nationalID == "" || rc.Config.IsGenericNationalID(nationalID) {
		return ResolutionDecision{}, false, nil
	}

	active, inactive, err := rc.Repos.Accounts().FindByNationalID(ctx, nationalID)
	if err != nil {
		return ResolutionDecision{}, false, err
	}

	switch {
	case len(active) > 1:
		return resolveDuplicate(ctx, rc, active)
	case len(active) == 1:
		return bind(ctx, rc, &active[0], WarningNone)
	case len(inactive) == 1:
		return bind(ctx, rc, &inactive[0], WarningInactiveAccountBind)
	case len(inactive) > 1:
		rc.Logger.Warn("national id matches several inactive accounts, not binding",
			"provider", rc.Provider,
			"candidates", len(inactive),
		)
	}
	return ResolutionDecision{}, false, nil
}

func resolveDuplicate(ctx context.Context, rc ResolutionContext, active []Account) (ResolutionDecision, bool, error) {
	ids := make([]string, 0, len(active))
	for _, acc := range active {
		ids = append(ids, acc.ID)
	}

	dc, err := rc.Repos.DuplicateCases().RecordOrUpdate(ctx, rc.Provider, rc.Claims.ProviderUID, rc.Claims.NationalID, ids)
	if err != nil {
		return ResolutionDecision{}, false, err
	}

	rc.Logger.Warn("national id matches several active accounts",
		"provider", rc.Provider,
		"case_id", dc.ID,
		"candidates", ids,
		"occurrences", dc.Occurrences,
		"policy", rc.Config.DuplicatePolicy,
	)

	switch rc.Config.DuplicatePolicy {
	case PolicyNoMatchOnDuplicate:
		d := NoMatch()
		d.CaseID = dc.ID
		return d, true, nil
	case PolicyBindMostRecentWithWarning:
		sorted := append([]Account(nil), active...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		})
		d, decided, err := bind(ctx, rc, &sorted[0], WarningDuplicateNationalID)
		d.CaseID = dc.ID
		return d, decided, err
	default:
		d := Blocked(BlockReasonDuplicateNationalID)
		d.CaseID = dc.ID
		return d, true, nil
	}
}

// EmailStep matches a provider supplied email. Placeholder emails are
// ignored.
type EmailStep struct{}

func (EmailStep) Name() string { return StepEmail }

func (EmailStep) Resolve(ctx context.Context, rc ResolutionContext) (ResolutionDecision, bool, error) {
	if !rc.Claims.HasRealEmail() {
		return ResolutionDecision{}, false, nil
	}

	account, err := rc.Repos.Accounts().FindByEmail(ctx, rc.Claims.Email)
	if err != nil {
		return ResolutionDecision{}, false, err
	}
	if account == nil {
		return ResolutionDecision{}, false, nil
	}

	warning := WarningNone
	if !account.Active {
		warning = WarningInactiveAccountBind
	}
	return bind(ctx, rc, account, warning)
}

// bind links the provider identity to account. If a concurrent login won
// the race the existing link is honored.
func bind(ctx context.Context, rc ResolutionContext, account *Account, warning Warning) (ResolutionDecision, bool, error) {
	link, created, err := rc.Repos.Links().GetOrCreate(ctx, rc.Provider, rc.Claims.ProviderUID, account.ID)
	if err != nil {
		return ResolutionDecision{}, false, err
	}

	if !created && link.AccountID != account.ID {
		existing, err := rc.Repos.Accounts().FindByID(ctx, link.AccountID)
		if err != nil {
			return ResolutionDecision{}, false, err
		}
		if existing != nil {
			rc.Logger.Warn("provider identity already linked to another account",
				"provider", rc.Provider,
				"link_id", link.ID,
				"account_id", link.AccountID,
			)
			return Bound(existing, WarningNone), true, nil
		}
	}

	if created {
		rc.Logger.Info("identity link created",
			"provider", rc.Provider,
			"link_id", link.ID,
			"account_id", account.ID,
		)
	}
	return Bound(account, warning), true, nil
}
