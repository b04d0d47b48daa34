package domain

import "fmt"

// EnforcementAction is the closed set of actions an enforcement policy may
// map a failure condition to.
type EnforcementAction string

const (
	ActionContinue   EnforcementAction = "CONTINUE"
	ActionQuarantine EnforcementAction = "QUARANTINE"
	ActionKill       EnforcementAction = "KILL"
)

func (a EnforcementAction) Valid() bool {
	switch a {
	case ActionContinue, ActionQuarantine, ActionKill:
		return true
	}
	return false
}

// IntegrityPolicy configures how a sealed subject is measured over time.
type IntegrityPolicy struct {
	MeasurePaths    []string `json:"measure_paths"`
	IntervalSeconds int64    `json:"interval_seconds"`
	ExpiryIsFatal   bool     `json:"expiry_is_fatal"`
}

// EnforcementPolicy is the decision table mapping failure conditions to
// actions. CONTINUE on an invalid signature is forbidden: a subject whose
// seal cannot be trusted must never keep running unflagged.
type EnforcementPolicy struct {
	OnDrift            EnforcementAction `json:"on_drift"`
	OnExpiry           EnforcementAction `json:"on_expiry"`
	OnSignatureInvalid EnforcementAction `json:"on_signature_invalid"`
}

func (p EnforcementPolicy) Validate() error {
	for _, action := range []EnforcementAction{p.OnDrift, p.OnExpiry, p.OnSignatureInvalid} {
		if !action.Valid() {
			return fmt.Errorf("%w: enforcement action %q", ErrMalformedInput, action)
		}
	}
	if p.OnSignatureInvalid == ActionContinue {
		return fmt.Errorf("%w: CONTINUE is not allowed for on_signature_invalid", ErrMalformedInput)
	}
	return nil
}
