// Package policyrego is an optional Rego overlay for enforcement decisions.
// A deployment can pin a bundle of .rego policy that refines the artifact's
// builtin decision table, for example to quarantine instead of continue on
// drift for specific paths. The overlay can tighten decisions but never
// weaken the signature-invalid invariant.
package policyrego

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"custodia/internal/domain"
	"custodia/internal/usecase"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.custodia.enforcement.result"

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
	bundleID   string
	fallback   usecase.EnforcementEngine
}

type regoInput struct {
	Condition       string                   `json:"condition"`
	Policy          domain.EnforcementPolicy `json:"policy"`
	MismatchedPaths []string                 `json:"mismatched_paths"`
}

type regoResult struct {
	Action     string            `json:"action"`
	ReasonCode string            `json:"reason_code"`
	Details    map[string]string `json:"details"`
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath, bundleID, expectedHash string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}
	if expectedHash != "" && expectedHash != bundleHash {
		return nil, fmt.Errorf("rego bundle hash mismatch: expected %s, computed %s", expectedHash, bundleHash)
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}

	return &Engine{
		query:      prepared,
		bundleHash: bundleHash,
		bundleID:   bundleID,
		fallback:   &usecase.TableEngine{},
	}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

// Decide evaluates the overlay and falls back to the builtin table when the
// bundle produces no result for the input. Whatever the overlay returns, an
// invalid signature never maps to CONTINUE.
func (e *Engine) Decide(ctx context.Context, input usecase.EnforcementInput) (domain.Decision, error) {
	if e == nil {
		return domain.Decision{}, errors.New("policy engine is nil")
	}
	if !input.Condition.Valid() {
		return domain.Decision{}, fmt.Errorf("%w: condition %q", domain.ErrMalformedInput, input.Condition)
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(regoInput{
		Condition:       string(input.Condition),
		Policy:          input.Policy,
		MismatchedPaths: input.MismatchedPaths,
	}))
	if err != nil {
		return domain.Decision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return e.fallback.Decide(ctx, input)
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.Decision{}, err
	}
	decision := domain.Decision{
		Action:     domain.EnforcementAction(result.Action),
		ReasonCode: domain.ReasonCode(result.ReasonCode),
		Details:    result.Details,
	}
	if err := decision.Validate(); err != nil {
		return domain.Decision{}, fmt.Errorf("rego overlay produced invalid decision: %w", err)
	}
	if input.Condition == usecase.ConditionSignatureInvalid && decision.Action == domain.ActionContinue {
		return domain.Decision{}, fmt.Errorf("%w: rego overlay mapped invalid signature to CONTINUE", domain.ErrMalformedInput)
	}
	return decision, nil
}

func decodeResult(value any) (regoResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return regoResult{}, err
	}
	var result regoResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return regoResult{}, err
	}
	return result, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
