package usecase

import (
	"context"
	"fmt"

	"custodia/internal/domain"
)

// Condition is the closed set of observed failure conditions an enforcement
// policy maps to actions.
type Condition string

const (
	ConditionClean            Condition = "clean"
	ConditionDrift            Condition = "drift"
	ConditionExpired          Condition = "expired"
	ConditionSignatureInvalid Condition = "signature_invalid"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionClean, ConditionDrift, ConditionExpired, ConditionSignatureInvalid:
		return true
	}
	return false
}

type EnforcementInput struct {
	Condition       Condition
	Policy          domain.EnforcementPolicy
	MismatchedPaths []string
}

// TableEngine is the builtin enforcement engine: it reads the artifact's
// decision table directly. The table is validated before lookup so a policy
// smuggling CONTINUE for an invalid signature is rejected here too.
type TableEngine struct{}

func (e *TableEngine) Decide(_ context.Context, input EnforcementInput) (domain.Decision, error) {
	if !input.Condition.Valid() {
		return domain.Decision{}, fmt.Errorf("%w: condition %q", domain.ErrMalformedInput, input.Condition)
	}
	if err := input.Policy.Validate(); err != nil {
		return domain.Decision{}, err
	}

	decision := domain.Decision{Action: domain.ActionContinue, ReasonCode: domain.ReasonMeasurementClean}
	switch input.Condition {
	case ConditionDrift:
		decision = domain.Decision{Action: input.Policy.OnDrift, ReasonCode: domain.ReasonHashDrift}
		if len(input.MismatchedPaths) > 0 {
			decision.Details = map[string]string{
				"mismatched_path_count": fmt.Sprintf("%d", len(input.MismatchedPaths)),
			}
		}
	case ConditionExpired:
		decision = domain.Decision{Action: input.Policy.OnExpiry, ReasonCode: domain.ReasonExpired}
	case ConditionSignatureInvalid:
		decision = domain.Decision{Action: input.Policy.OnSignatureInvalid, ReasonCode: domain.ReasonSignatureInvalid}
	}
	return decision, nil
}
