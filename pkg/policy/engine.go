package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog/log"
)

// Engine compiles and evaluates the loaded policy set.
type Engine struct {
	mu       sync.RWMutex
	mode     Mode
	policies []Policy
	prepared *rego.PreparedEvalQuery
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(mode Mode) (*Engine, error) {
	if mode == "" {
		mode = ModeAdvisory
	}
	e := &Engine{mode: mode, policies: builtinPolicies()}
	if err := e.compile(); err != nil {
		return nil, err
	}
	return e, nil
}

// AddPolicy loads an additional policy module and recompiles.
func (e *Engine) AddPolicy(p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, p)
	if err := e.compile(); err != nil {
		// Roll the broken module back out so the engine stays usable.
		e.policies = e.policies[:len(e.policies)-1]
		_ = e.compile()
		return fmt.Errorf("policy %s failed to compile: %w", p.Name, err)
	}
	return nil
}

// compile prepares one query over every loaded module. Caller must hold
// the lock (or be the constructor).
func (e *Engine) compile() error {
	options := []func(*rego.Rego){rego.Query("data.berth")}
	for i, p := range e.policies {
		options = append(options, rego.Module(fmt.Sprintf("policy_%d.rego", i), p.Rego))
	}

	prepared, err := rego.New(options...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare policy query: %w", err)
	}
	e.prepared = &prepared
	return nil
}

// Evaluate runs every policy against the input. The decision is
// Allowed unless the engine is enforcing and an error-severity
// violation fired.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return &Decision{Allowed: true}, nil
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	decision := &Decision{Allowed: true}
	for _, result := range results {
		for _, expr := range result.Expressions {
			collectViolations(expr.Value, decision)
		}
	}

	if e.mode == ModeEnforcing {
		for _, v := range decision.Violations {
			if v.Severity == SeverityError {
				decision.Allowed = false
				break
			}
		}
	}

	for _, v := range decision.Violations {
		log.Warn().
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Str("message", v.Message).
			Msg("policy violation")
	}

	return decision, nil
}

// collectViolations walks the data.berth tree gathering every deny set.
func collectViolations(value any, decision *Decision) {
	switch v := value.(type) {
	case map[string]any:
		if denies, ok := v["deny"]; ok {
			appendDenies(denies, decision)
		}
		for key, child := range v {
			if key == "deny" {
				continue
			}
			collectViolations(child, decision)
		}
	}
}

// appendDenies converts one deny set's members into Violations.
func appendDenies(denies any, decision *Decision) {
	list, ok := denies.([]any)
	if !ok {
		return
	}
	for _, item := range list {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var violation Violation
		if err := json.Unmarshal(raw, &violation); err != nil {
			continue
		}
		if violation.Severity == "" {
			violation.Severity = SeverityError
		}
		decision.Violations = append(decision.Violations, violation)
	}
}
