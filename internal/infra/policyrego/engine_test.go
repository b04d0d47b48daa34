package policyrego

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"custodia/internal/domain"
	"custodia/internal/usecase"
)

const overlaySource = `package custodia.enforcement

result = {"action": "KILL", "reason_code": "HASH_DRIFT", "details": {"overlay": "strict-drift"}} {
	input.condition == "drift"
	count(input.mismatched_paths) > 1
}

result = {"action": "CONTINUE", "reason_code": "MEASUREMENT_CLEAN"} {
	input.condition == "signature_invalid"
}

result = {"action": "SUSPEND", "reason_code": "ARTIFACT_EXPIRED"} {
	input.condition == "expired"
}
`

func writeBundle(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(source), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return dir
}

func newTestEngine(t *testing.T, source string) *Engine {
	t.Helper()
	engine, err := NewEngineFromBundlePath(context.Background(), writeBundle(t, source), "test", "")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func driftInput(paths ...string) usecase.EnforcementInput {
	return usecase.EnforcementInput{
		Condition: usecase.ConditionDrift,
		Policy: domain.EnforcementPolicy{
			OnDrift:            domain.ActionQuarantine,
			OnExpiry:           domain.ActionQuarantine,
			OnSignatureInvalid: domain.ActionKill,
		},
		MismatchedPaths: paths,
	}
}

func TestEngineDecide_OverlayOverridesTable(t *testing.T) {
	engine := newTestEngine(t, overlaySource)

	decision, err := engine.Decide(context.Background(), driftInput("weights.bin", "config.json"))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Action != domain.ActionKill || decision.ReasonCode != domain.ReasonHashDrift {
		t.Fatalf("decision = %+v, want KILL/HASH_DRIFT", decision)
	}
	if decision.Details["overlay"] != "strict-drift" {
		t.Fatalf("details = %v", decision.Details)
	}
}

func TestEngineDecide_FallsBackToTable(t *testing.T) {
	engine := newTestEngine(t, overlaySource)

	decision, err := engine.Decide(context.Background(), driftInput("weights.bin"))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Action != domain.ActionQuarantine || decision.ReasonCode != domain.ReasonHashDrift {
		t.Fatalf("decision = %+v, want QUARANTINE/HASH_DRIFT from the builtin table", decision)
	}
	if decision.Details["mismatched_path_count"] != "1" {
		t.Fatalf("details = %v", decision.Details)
	}
}

func TestEngineDecide_RejectsContinueOnInvalidSignature(t *testing.T) {
	engine := newTestEngine(t, overlaySource)

	input := driftInput()
	input.Condition = usecase.ConditionSignatureInvalid
	if _, err := engine.Decide(context.Background(), input); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
}

func TestEngineDecide_RejectsUnknownAction(t *testing.T) {
	engine := newTestEngine(t, overlaySource)

	input := driftInput()
	input.Condition = usecase.ConditionExpired
	if _, err := engine.Decide(context.Background(), input); err == nil {
		t.Fatal("unknown overlay action accepted")
	}
}

func TestEngineDecide_RejectsUnknownCondition(t *testing.T) {
	engine := newTestEngine(t, overlaySource)

	input := driftInput()
	input.Condition = usecase.Condition("meltdown")
	if _, err := engine.Decide(context.Background(), input); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
}

func TestNewEngineFromBundlePath_PinsBundleHash(t *testing.T) {
	dir := writeBundle(t, overlaySource)
	want, err := ComputeBundleHashFromPath(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	engine, err := NewEngineFromBundlePath(context.Background(), dir, "test", want)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if engine.BundleHash() != want {
		t.Fatalf("bundle hash = %s, want %s", engine.BundleHash(), want)
	}

	if _, err := NewEngineFromBundlePath(context.Background(), dir, "test", strings.Repeat("0", 64)); err == nil {
		t.Fatal("bundle hash mismatch accepted")
	}
}

func TestNewEngineFromBundlePath_AllowsComparisonBuiltins(t *testing.T) {
	dir := writeBundle(t, `package custodia.enforcement

result = {"action": "QUARANTINE", "reason_code": "HASH_DRIFT"} {
	input.condition == "drift"
	count(input.mismatched_paths) >= 1
	count(input.mismatched_paths) < 100
}
`)
	engine, err := NewEngineFromBundlePath(context.Background(), dir, "test", "")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	decision, err := engine.Decide(context.Background(), driftInput("weights.bin"))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Action != domain.ActionQuarantine {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestNewEngineFromBundlePath_BlocksForbiddenBuiltins(t *testing.T) {
	dir := writeBundle(t, `package custodia.enforcement

result = {"action": "KILL", "reason_code": "HASH_DRIFT"} {
	resp := http.send({"method": "get", "url": "https://example.com"})
	resp.status_code == 200
}
`)
	if _, err := NewEngineFromBundlePath(context.Background(), dir, "test", ""); err == nil {
		t.Fatal("bundle calling http.send accepted")
	}
}
