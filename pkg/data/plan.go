package data

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go-analyst/pkg/models"
)

type stepsAnswer struct {
	Steps       *[]models.Step `json:"steps"`
	Unavailable bool           `json:"unavailable"`
	Reason      string         `json:"reason"`
}

// ParseSteps reads the step list out of a planner-style answer. Steps come
// back sorted by id with defaults applied. An explicit "unavailable" answer
// yields models.ErrReplanUnavailable.
func ParseSteps(ans string) ([]models.Step, error) {
	match, err := SanitizeAnswer(ans)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPlanUnparseable, err)
	}

	var parsed stepsAnswer
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPlanUnparseable, err)
	}
	if parsed.Unavailable {
		return nil, fmt.Errorf("%w: %s", models.ErrReplanUnavailable, parsed.Reason)
	}
	if parsed.Steps == nil {
		return nil, fmt.Errorf("%w: answer has no steps field", models.ErrPlanEmpty)
	}

	steps := make([]models.Step, len(*parsed.Steps))
	for i, s := range *parsed.Steps {
		if s.Params == nil {
			s.Params = map[string]any{}
		}
		steps[i] = s.Clone()
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return steps, nil
}

// ParseScore reads {"score": n, "issues": [...]} strictly: the score must
// be a JSON number.
func ParseScore(ans string) (float64, []string, error) {
	match, err := SanitizeAnswer(ans)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", models.ErrVerdictUnparseable, err)
	}
	var parsed struct {
		Score  *json.Number `json:"score"`
		Issues []string     `json:"issues"`
	}
	dec := json.NewDecoder(strings.NewReader(match))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", models.ErrVerdictUnparseable, err)
	}
	if parsed.Score == nil {
		return 0, nil, fmt.Errorf("%w: answer has no score", models.ErrVerdictUnparseable)
	}
	score, err := parsed.Score.Float64()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", models.ErrVerdictUnparseable, err)
	}
	if parsed.Issues == nil {
		parsed.Issues = []string{}
	}
	return score, parsed.Issues, nil
}
