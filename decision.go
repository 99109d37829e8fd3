package federation

// DecisionKind is the outcome of identity resolution.
type DecisionKind string

const (
	DecisionBound   DecisionKind = "bound"
	DecisionBlocked DecisionKind = "blocked"
	DecisionNoMatch DecisionKind = "no_match"
)

// Warning flags a bind that succeeded under a degraded condition.
type Warning string

const (
	WarningNone                Warning = ""
	WarningInactiveAccountBind Warning = "inactive_account_bind"
	WarningDuplicateNationalID Warning = "duplicate_national_id"
)

// BlockReason explains a Blocked decision.
type BlockReason string

const (
	BlockReasonDuplicateNationalID BlockReason = "duplicate_national_id"
)

// ResolutionDecision is the tagged result of IdentityResolver.Resolve.
// Account is set only for DecisionBound, Reason only for DecisionBlocked.
type ResolutionDecision struct {
	Kind    DecisionKind `json:"kind"`
	Account *Account     `json:"account,omitempty"`
	Warning Warning      `json:"warning,omitempty"`
	Reason  BlockReason  `json:"reason,omitempty"`
	Step    string       `json:"step,omitempty"`
	// CaseID references the DuplicateCase recorded for a blocked attempt.
	CaseID string `json:"case_id,omitempty"`
}

// Bound builds a bind decision.
func Bound(account *Account, warning Warning) ResolutionDecision {
	return ResolutionDecision{Kind: DecisionBound, Account: account, Warning: warning}
}

// Blocked builds a blocked decision.
func Blocked(reason BlockReason) ResolutionDecision {
	return ResolutionDecision{Kind: DecisionBlocked, Reason: reason}
}

// NoMatch builds a no-match decision.
func NoMatch() ResolutionDecision {
	return ResolutionDecision{Kind: DecisionNoMatch}
}

func (d ResolutionDecision) IsBound() bool   { return d.Kind == DecisionBound }
func (d ResolutionDecision) IsBlocked() bool { return d.Kind == DecisionBlocked }
func (d ResolutionDecision) IsNoMatch() bool { return d.Kind == DecisionNoMatch }

func (d ResolutionDecision) fromStep(step string) ResolutionDecision {
	d.Step = step
	return d
}
