package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/engine"
)

// Engine compiles Rego policies and evaluates them against deployments.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// evalInput is the document handed to every policy as input.
type evalInput struct {
	Deployment *engine.Deployment `json:"deployment"`
}

// NewEngine builds an engine with the built-in policies registered.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy").Logger(),
	}
	for _, p := range Builtins() {
		if err := e.Register(context.Background(), p); err != nil {
			return nil, fmt.Errorf("policy: compile builtin %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// Register compiles a policy and adds it to the engine, replacing any
// existing policy with the same name.
func (e *Engine) Register(ctx context.Context, p Policy) error {
	pkg := packageName(p.Rego)
	if pkg == "" {
		return fmt.Errorf("policy: %s has no package declaration", p.Name)
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("policy: compile %s: %w", p.Name, err)
	}

	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{policy: p, query: query}
	e.mu.Unlock()

	e.logger.Debug().Str("policy", p.Name).Msg("policy registered")
	return nil
}

// LoadPaths registers each .rego file as an enabled error-severity policy
// named after the file.
func (e *Engine) LoadPaths(ctx context.Context, paths []string) error {
	for _, path := range paths {
		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("policy: read %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		p := Policy{
			Name:        name,
			Description: "loaded from " + path,
			Rego:        string(source),
			Severity:    SeverityError,
			Enabled:     true,
		}
		if err := e.Register(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs every enabled policy against the deployment. The run is
// allowed only when no error-severity violation was produced.
func (e *Engine) Evaluate(ctx context.Context, dep *engine.Deployment) (*Result, error) {
	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	result := &Result{
		Allowed:     true,
		Evaluated:   make([]string, 0, len(compiled)),
		EvaluatedAt: time.Now(),
	}
	input := evalInput{Deployment: dep}

	for _, cp := range compiled {
		result.Evaluated = append(result.Evaluated, cp.policy.Name)

		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("policy: evaluate %s: %w", cp.policy.Name, err)
		}
		for _, violation := range extractViolations(cp.policy, rs) {
			if violation.Severity == SeverityError {
				result.Allowed = false
			}
			result.Violations = append(result.Violations, violation)
		}
	}

	if !result.Allowed {
		e.logger.Warn().
			Str("deployment", dep.Name).
			Int("violations", len(result.Blocking())).
			Msg("deployment blocked by policy")
	}
	return result, nil
}

// Policies returns the registered policies sorted by name.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// extractViolations flattens a deny set into Violations. Each deny entry is
// either a plain message string or an object with message, severity, and an
// optional step reference.
func extractViolations(p Policy, rs rego.ResultSet) []Violation {
	var out []Violation
	for _, result := range rs {
		for _, expr := range result.Expressions {
			entries, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, entry := range entries {
				violation := Violation{Policy: p.Name, Severity: p.Severity}
				switch v := entry.(type) {
				case string:
					violation.Message = v
				case map[string]any:
					if msg, ok := v["message"].(string); ok {
						violation.Message = msg
					}
					if sev, ok := v["severity"].(string); ok {
						violation.Severity = Severity(sev)
					}
					if step, ok := v["step"].(string); ok {
						violation.StepID = step
					}
				default:
					violation.Message = fmt.Sprintf("%v", entry)
				}
				out = append(out, violation)
			}
		}
	}
	return out
}

// packageName pulls the package path out of Rego source.
func packageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			if fields := strings.Fields(trimmed); len(fields) >= 2 {
				return fields[1]
			}
		}
	}
	return ""
}
