package engine

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
)

const denyQuery = "data.formbuilder.users.deny"

//go:embed users.rego
var defaultRegoPolicy string

// OPAEvaluator evaluates user-management policies using OPA Rego.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles the built-in policy. Extra modules, keyed by file name, are compiled
// alongside it and may add deny reasons to the formbuilder.users package.
func NewOPAEvaluator(ctx context.Context, extra map[string]string) (*OPAEvaluator, error) {
	modules := map[string]string{"users.rego": defaultRegoPolicy}
	for name, src := range extra {
		modules[name] = src
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	q, err := rego.New(
		rego.Query(denyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// Evaluate returns the decision for in. The action is allowed when no deny rule matches;
// when several match, the reason is the first in lexical order.
func (e *OPAEvaluator) Evaluate(ctx context.Context, in Input) (Decision, error) {
	input, err := toInput(in)
	if err != nil {
		return Decision{}, err
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy query returned no result")
	}
	set, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy query returned %T", rs[0].Expressions[0].Value)
	}
	reasons := make([]string, 0, len(set))
	for _, v := range set {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		}
	}
	if len(reasons) == 0 {
		return Decision{Allowed: true}, nil
	}
	sort.Strings(reasons)
	return Decision{Reason: reasons[0]}, nil
}

// HealthCheck verifies that the prepared policy still evaluates. Does not touch the database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := e.Evaluate(ctx, Input{
		Action: ActionDeleteUser,
		Actor:  Subject{ID: "health", Role: userdomain.RoleUser},
		Target: Subject{ID: "health", Role: userdomain.RoleUser},
	})
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("policy denied self-delete check: %s", d.Reason)
	}
	return nil
}

// toInput round-trips through JSON so Rego sees the same field names as the struct tags.
func toInput(in Input) (map[string]interface{}, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("build input: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("build input: %w", err)
	}
	return out, nil
}

var _ Evaluator = (*OPAEvaluator)(nil)

// LoadModules reads every .rego file in dir, keyed by file name. An empty dir yields no modules.
func LoadModules(dir string) (map[string]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}
	out := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".rego" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", e.Name(), err)
		}
		out[e.Name()] = string(b)
	}
	return out, nil
}
