package federation

import (
	"context"
	"time"
)

// ActivityEventType enumerates federation activity categories.
type ActivityEventType string

const (
	ActivityEventLoginBound   ActivityEventType = "federation.login.bound"
	ActivityEventLoginBlocked ActivityEventType = "federation.login.blocked"
	ActivityEventLoginNoMatch ActivityEventType = "federation.login.no_match"
	ActivityEventLoginFailed  ActivityEventType = "federation.login.failed"
	ActivityEventLogoutFailed ActivityEventType = "federation.logout.failed"
	ActivityEventProvisioned  ActivityEventType = "federation.account.provisioned"
)

// ActivityEvent captures audit-friendly information about a login attempt.
type ActivityEvent struct {
	EventType   ActivityEventType
	Provider    Provider
	ProviderUID string
	AccountID   string
	Stage       LoginStage
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func decisionEventType(kind DecisionKind) ActivityEventType {
	switch kind {
	case DecisionBound:
		return ActivityEventLoginBound
	case DecisionBlocked:
		return ActivityEventLoginBlocked
	default:
		return ActivityEventLoginNoMatch
	}
}
