package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/itchyny/gojq"

	"go-analyst/pkg/models"
)

// A param written as $(<jq filter>) is replaced by the filter's value over
// the outputs of the steps that already succeeded, e.g. "$(.step_1.rows)".
var refPattern = regexp.MustCompile(`^\$\((.+)\)$`)

func outputKey(stepID int) string {
	return "step_" + strconv.Itoa(stepID)
}

// resolveRefs returns a copy of step with every reference param evaluated.
func resolveRefs(ctx context.Context, step models.Step, outputs map[string]any) (models.Step, error) {
	if !hasRefs(step.Params) {
		return step.Clone(), nil
	}
	resolved := step.Clone()
	params, err := resolveValue(ctx, resolved.Params, outputs)
	if err != nil {
		return step, err
	}
	resolved.Params = params.(map[string]any)
	return resolved, nil
}

func hasRefs(v any) bool {
	switch t := v.(type) {
	case string:
		return refPattern.MatchString(t)
	case map[string]any:
		for _, e := range t {
			if hasRefs(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if hasRefs(e) {
				return true
			}
		}
	}
	return false
}

func resolveValue(ctx context.Context, v any, outputs map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		m := refPattern.FindStringSubmatch(t)
		if m == nil {
			return t, nil
		}
		return evalRef(ctx, m[1], outputs)
	case map[string]any:
		for k, e := range t {
			r, err := resolveValue(ctx, e, outputs)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			t[k] = r
		}
		return t, nil
	case []any:
		for i, e := range t {
			r, err := resolveValue(ctx, e, outputs)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			t[i] = r
		}
		return t, nil
	default:
		return v, nil
	}
}

func evalRef(ctx context.Context, expression string, outputs map[string]any) (any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse reference %q: %w", expression, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile reference %q: %w", expression, err)
	}

	var results []any
	iter := code.RunWithContext(ctx, outputs)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("evaluate reference %q: %w", expression, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, fmt.Errorf("reference %q produced no value", expression)
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}
