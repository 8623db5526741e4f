// Package verify scores step outputs with Rego rules and combines rule and
// model verdicts.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"go-analyst/pkg/models"
)

const rulesQuery = "data.step_rules.verdict"

// DefaultRules deducts a penalty per detected problem; the score is one
// minus the sum of penalties, floored at zero.
const DefaultRules = `
package step_rules

has_text {
	count(input.output.text) > 0
}

has_selections {
	some k
	count(input.output.selections[k]) > 0
}

has_rows {
	count(input.output.rows) > 0
}

has_result {
	r := input.output.result
	r != null
	count(r) > 0
}

has_result {
	is_number(input.output.result)
}

deductions[d] {
	input.output == null
	d := {"issue": "output is null", "penalty": 0.5}
}

deductions[d] {
	input.tool == "fetch_web"
	not has_text
	not has_selections
	d := {"issue": "no text returned from web fetch", "penalty": 0.3}
}

deductions[d] {
	input.tool == "load_local"
	not has_rows
	not has_text
	d := {"issue": "no data loaded from file", "penalty": 0.3}
}

deductions[d] {
	input.tool == "sql_query"
	not has_rows
	d := {"issue": "sql query returned no rows", "penalty": 0.2}
}

deductions[d] {
	input.tool == "analyze"
	not has_result
	d := {"issue": "analysis produced an empty result", "penalty": 0.2}
}

penalty := sum([p | p := deductions[_].penalty])

verdict := {
	"score": max([0, 1 - penalty]),
	"issues": sort([i | i := deductions[_].issue]),
}
`

// Rules is a Verifier backed by a prepared Rego query.
type Rules struct {
	query     rego.PreparedEvalQuery
	threshold float64
}

// NewRules prepares policy, or DefaultRules when policy is empty.
func NewRules(ctx context.Context, policy string, threshold float64) (*Rules, error) {
	if policy == "" {
		policy = DefaultRules
	}
	r := rego.New(
		rego.Query(rulesQuery),
		rego.Module("step_rules.rego", policy),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rules: %w", err)
	}
	return &Rules{query: query, threshold: threshold}, nil
}

// NewRulesFromFile reads the policy from path; an empty path selects
// DefaultRules.
func NewRulesFromFile(ctx context.Context, path string, threshold float64) (*Rules, error) {
	if path == "" {
		return NewRules(ctx, "", threshold)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return NewRules(ctx, string(b), threshold)
}

func (r *Rules) Verify(ctx context.Context, step models.Step, result models.StepResult, _ []models.TraceEntry) (models.VerificationOutcome, error) {
	if result.Failed() {
		return models.NewOutcome(step.ID, 0, r.threshold, []string{"step failed before verification"}), nil
	}

	var output any
	if len(result.Output) > 0 {
		if err := json.Unmarshal(result.Output, &output); err != nil {
			return models.VerificationOutcome{}, fmt.Errorf("decode output: %w", err)
		}
	}
	input := map[string]any{
		"tool":            step.Tool,
		"params":          step.Params,
		"expected_output": step.ExpectedOutput,
		"output":          output,
	}

	rs, err := r.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return models.VerificationOutcome{}, fmt.Errorf("evaluate rules: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return models.VerificationOutcome{}, fmt.Errorf("rules produced no verdict")
	}

	score, issues, err := parseVerdict(rs[0].Expressions[0].Value)
	if err != nil {
		return models.VerificationOutcome{}, err
	}
	return models.NewOutcome(step.ID, score, r.threshold, issues), nil
}

func parseVerdict(v any) (float64, []string, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, nil, fmt.Errorf("rules verdict is %T, want object", v)
	}

	var score float64
	switch s := obj["score"].(type) {
	case json.Number:
		f, err := s.Float64()
		if err != nil {
			return 0, nil, fmt.Errorf("rules score: %w", err)
		}
		score = f
	case float64:
		score = s
	default:
		return 0, nil, fmt.Errorf("rules score is %T, want number", obj["score"])
	}

	issues := []string{}
	if raw, ok := obj["issues"].([]any); ok {
		for _, i := range raw {
			if s, ok := i.(string); ok {
				issues = append(issues, s)
			}
		}
	}
	return score, issues, nil
}
