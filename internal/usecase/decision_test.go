package usecase

import (
	"context"
	"errors"
	"testing"

	"custodia/internal/domain"
)

func TestTableEngine_Conditions(t *testing.T) {
	engine := &TableEngine{}
	policy := testPolicy()

	cases := []struct {
		condition Condition
		action    domain.EnforcementAction
		reason    domain.ReasonCode
	}{
		{ConditionClean, domain.ActionContinue, domain.ReasonMeasurementClean},
		{ConditionDrift, domain.ActionQuarantine, domain.ReasonHashDrift},
		{ConditionExpired, domain.ActionQuarantine, domain.ReasonExpired},
		{ConditionSignatureInvalid, domain.ActionKill, domain.ReasonSignatureInvalid},
	}
	for _, tc := range cases {
		decision, err := engine.Decide(context.Background(), EnforcementInput{Condition: tc.condition, Policy: policy})
		if err != nil {
			t.Fatalf("%s: %v", tc.condition, err)
		}
		if decision.Action != tc.action || decision.ReasonCode != tc.reason {
			t.Errorf("%s: got %s/%s want %s/%s", tc.condition, decision.Action, decision.ReasonCode, tc.action, tc.reason)
		}
	}
}

func TestTableEngine_DriftDetails(t *testing.T) {
	engine := &TableEngine{}
	decision, err := engine.Decide(context.Background(), EnforcementInput{
		Condition:       ConditionDrift,
		Policy:          testPolicy(),
		MismatchedPaths: []string{"weights/w0", "config.json"},
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Details["mismatched_path_count"] != "2" {
		t.Fatalf("drift details: %v", decision.Details)
	}
}

func TestTableEngine_Rejections(t *testing.T) {
	engine := &TableEngine{}

	if _, err := engine.Decide(context.Background(), EnforcementInput{Condition: "weather", Policy: testPolicy()}); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("unknown condition: %v", err)
	}

	smuggled := testPolicy()
	smuggled.OnSignatureInvalid = domain.ActionContinue
	if _, err := engine.Decide(context.Background(), EnforcementInput{Condition: ConditionClean, Policy: smuggled}); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("CONTINUE on invalid signature: %v", err)
	}
}
