package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-trust/harrier/internal/domain"
)

// CELTriggers evaluates custom auto-escalation triggers as CEL
// expressions over case attributes. Trigger names on a case refer to
// expressions registered here; an unregistered trigger is an error,
// not a silent false.
type CELTriggers struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewCELTriggers creates the trigger evaluator with the case variable
// environment.
func NewCELTriggers() (*CELTriggers, error) {
	env, err := cel.NewEnv(
		cel.Variable("status", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("case_type", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("amount", cel.IntType),
		cel.Variable("escalation_level", cel.IntType),
		cel.Variable("evidence_count", cel.IntType),
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("message_count", cel.IntType),
		cel.Variable("age_minutes", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELTriggers{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Register compiles and stores a trigger expression under a name. The
// expression must return bool.
func (t *CELTriggers) Register(name, expression string) error {
	ast, issues := t.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("failed to compile trigger %s: %w", name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("trigger %s: expression must return bool, got %s", name, ast.OutputType())
	}

	program, err := t.env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to create program for trigger %s: %w", name, err)
	}

	t.mu.Lock()
	t.programs[name] = program
	t.mu.Unlock()

	return nil
}

// EvaluateTrigger checks the named trigger against a case.
func (t *CELTriggers) EvaluateTrigger(ctx context.Context, c *domain.Case, trigger string) (bool, error) {
	t.mu.RLock()
	program, ok := t.programs[trigger]
	t.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("unknown trigger %q", trigger)
	}

	out, _, err := program.ContextEval(ctx, activation(c))
	if err != nil {
		return false, fmt.Errorf("evaluating trigger %s: %w", trigger, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("trigger %s: non-bool result", trigger)
	}
	return bool(b), nil
}

// Count returns the number of registered triggers.
func (t *CELTriggers) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.programs)
}

func activation(c *domain.Case) map[string]any {
	return map[string]any{
		"status":           string(c.Status),
		"kind":             string(c.Kind),
		"case_type":        c.Type,
		"severity":         string(c.Severity),
		"priority":         string(c.Priority),
		"amount":           c.DisputedAmount,
		"escalation_level": int64(c.EscalationLevel),
		"evidence_count":   int64(len(c.Evidence)),
		"risk_score":       int64(c.RiskScore),
		"message_count":    int64(len(c.Timeline)),
		"age_minutes":      int64(time.Since(c.CreatedAt).Minutes()),
	}
}
