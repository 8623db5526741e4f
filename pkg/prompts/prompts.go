package prompts

// Model prompts. Each is a Go template rendered by langchaingo; values that
// are structured are passed in already serialised as JSON.
var (
	// ToolCatalogue is rendered with the registry's tool list.
	ToolCatalogue = `{{range .}}	- {{.Name}}
		- description: {{.Description}}
		- parameters: {{json .Parameters}}
{{end}}`

	PlanTemplate = `
You are an intelligent AI who specializes in planning data analysis. A user asked: "{{.Query}}"

Additional context supplied with the question (json):
{{.Context}}

Devise an ordered plan of steps that answers the question. Each step calls exactly one tool from only the following list:
{{.Tools}}

A parameter may reference the output of an earlier step with a jq filter written as "$(<filter>)", where the output of step N is available as .step_N, e.g. "$(.step_1.rows)".

Steps are costly, so use as few steps as possible. Give every step a unique positive integer id in execution order.
If a step is too coarse to express with a single tool call, set its step_type to "needs_decomposition" and it will be expanded later; otherwise use "action".

Provide your response in the following json format and nothing else:
{
    "steps": [
        {"id": 1, "tool": "{TOOL_NAME}", "params": {"{PARAM}": "{VALUE}"}, "expected_output": "{WHAT_THIS_STEP_SHOULD_PRODUCE}", "step_type": "action"}
    ]
}
`

	ReplanTemplate = `
You are an intelligent AI who specializes in repairing data analysis plans. This is the current plan (json):
{{.Plan}}

Step {{.StepID}} failed. This is what went wrong (json):
{{.Diagnostic}}

Steps {{.Completed}} already succeeded. They must be kept exactly as they are, in the same order, at the start of the plan.

Replace step {{.StepID}} and anything after it with a better approach. Do not repeat an approach that already failed.
Use tools from only the following list:
{{.Tools}}

A parameter may reference the output of an earlier step with a jq filter written as "$(<filter>)", e.g. "$(.step_1.rows)".

If there is no reasonable alternative, answer {"unavailable": true, "reason": "{WHY}"}.

Otherwise provide the complete revised list of steps in the following json format and nothing else:
{
    "steps": [
        {"id": 1, "tool": "{TOOL_NAME}", "params": {"{PARAM}": "{VALUE}"}, "expected_output": "{EXPECTED}", "step_type": "action"}
    ]
}
`

	DecomposeTemplate = `
You are an intelligent AI who specializes in planning data analysis. This is the current plan (json):
{{.Plan}}

Step {{.StepID}} is too coarse to run as a single tool call:
{{.Step}}

Replace it with one or more smaller steps that together produce its expected output, using tools from only the following list:
{{.Tools}}

Keep every other step of the plan exactly as it is. New steps need ids not used anywhere else in the plan.

If the step cannot be broken down, answer {"unavailable": true, "reason": "{WHY}"}.

Otherwise provide the complete revised list of steps in the following json format and nothing else:
{
    "steps": [
        {"id": 1, "tool": "{TOOL_NAME}", "params": {"{PARAM}": "{VALUE}"}, "expected_output": "{EXPECTED}", "step_type": "action"}
    ]
}
`

	VerifyTemplate = `
You are an expert data verification assistant. Judge whether a step of a data analysis produced what it was supposed to.

Tool: {{.Tool}}
Parameters (json): {{.Params}}
Expected output: "{{.ExpectedOutput}}"

Actual output (json, possibly truncated):
{{.Output}}

Results of the earlier steps (json):
{{.Prior}}

Score the output from 0 to 1, where 1 fully meets the expectation and 0 is useless. List concrete problems, if any.

Provide your response in the following json format and nothing else:
{
    "score": {SCORE_BETWEEN_0_AND_1},
    "issues": ["{ISSUE}"]
}
`
)
