// Package orchestrator drives one analytical request through the
// plan/execute/verify/replan loop and produces its trace and result.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go-analyst/pkg/logger"
	"go-analyst/pkg/models"
)

const (
	DefaultMaxRetries = 3
	DefaultThreshold  = 0.7
)

type Options struct {
	// MaxRetries is the number of budget units a plan position may use.
	MaxRetries int
	// Threshold is the minimum verification score that passes. It is used as
	// given; zero passes every in-range score.
	Threshold        float64
	PlannerTimeout   time.Duration
	ToolTimeout      time.Duration
	VerifierTimeout  time.Duration
	ReplannerTimeout time.Duration
	Now              func() time.Time
}

// DefaultOptions returns the budget and threshold used when nothing is
// configured.
func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries, Threshold: DefaultThreshold}
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Collaborators are the adapters the loop depends on. Decomposer and Sink
// are optional.
type Collaborators struct {
	Planner    Planner
	Invoker    Invoker
	Verifier   Verifier
	Replanner  Replanner
	Decomposer Decomposer
	Sink       Sink
}

// Orchestrator holds only immutable configuration; every Run owns its own
// ExecutionState, so one Orchestrator may serve concurrent requests.
type Orchestrator struct {
	c    Collaborators
	opts Options
}

func New(c Collaborators, opts Options) *Orchestrator {
	if c.Sink == nil {
		c.Sink = MultiSink{}
	}
	return &Orchestrator{c: c, opts: opts.withDefaults()}
}

// WithSink returns a copy of o that also reports to s.
func (o *Orchestrator) WithSink(s Sink) *Orchestrator {
	c := o.c
	c.Sink = MultiSink{o.c.Sink, s}
	return &Orchestrator{c: c, opts: o.opts}
}

// Run drives query to a terminal state. It always returns a Result carrying
// the full trace; failures are reported in Result.Failure.
func (o *Orchestrator) Run(ctx context.Context, requestID string, query models.Query) *models.Result {
	r := &run{
		o:  o,
		st: newExecutionState(requestID, o.opts.Now()),
		l:  log.With().Str(logger.RequestIDField, requestID).Logger(),
	}
	return r.drive(ctx, query)
}

// attempt is the step attempt moving through RUNNING_STEP, VERIFYING and
// either ADVANCING or REPLANNING.
type attempt struct {
	step     models.Step
	result   models.StepResult
	outcome  models.VerificationOutcome
	recorded bool
}

type run struct {
	o    *Orchestrator
	st   *ExecutionState
	l    zerolog.Logger
	cur  *attempt
	diag models.Diagnostic
}

func (r *run) drive(ctx context.Context, query models.Query) *models.Result {
	phase := PhasePlanning
	for !phase.Terminal() {
		r.st.Phase = phase
		switch phase {
		case PhasePlanning:
			phase = r.plan(ctx, query)
		case PhaseRunningStep:
			phase = r.runStep(ctx)
		case PhaseVerifying:
			phase = r.verify(ctx)
		case PhaseAdvancing:
			phase = r.advance(ctx)
		case PhaseReplanning:
			phase = r.replan(ctx)
		default:
			panic(fmt.Sprintf("orchestrator: unknown phase %q", phase))
		}
	}
	r.st.Phase = phase
	return r.finish(ctx)
}

func (r *run) plan(ctx context.Context, query models.Query) Phase {
	r.l.Info().Str(logger.PhaseField, string(PhasePlanning)).Msg("planning...")

	pctx, cancel := withTimeout(ctx, r.o.opts.PlannerTimeout)
	plan, err := r.o.c.Planner.Plan(pctx, query.Text, query.Context)
	cancel()
	if ctx.Err() != nil {
		return r.cancelled(ctx, 0)
	}
	if err != nil {
		return r.fail(models.CausePlanningFailure, 0, fmt.Sprintf("planner: %v", err))
	}
	if err := plan.Validate(); err != nil {
		return r.fail(models.CausePlanningFailure, 0, fmt.Sprintf("invalid plan: %v", err))
	}

	p := plan.Clone()
	r.st.Plan = &p
	r.l = r.l.With().Str(logger.PlanIDField, p.ID).Logger()
	r.l.Info().Int("steps", len(p.Steps)).Msg("plan adopted")
	r.observePlan(ctx)

	if len(p.Steps) == 0 {
		return PhaseDone
	}
	r.st.Index = 0
	return PhaseRunningStep
}

func (r *run) runStep(ctx context.Context) Phase {
	step := r.st.current()
	if step.NeedsDecomposition() {
		return r.decompose(ctx, step)
	}

	r.st.Retries[r.st.Index]++
	n := r.st.Retries[r.st.Index]
	r.l.Info().Int(logger.StepIDField, step.ID).Int(logger.AttemptField, n).Str(logger.ToolField, step.Tool).Msg("running step")

	var result models.StepResult
	resolved, err := resolveRefs(ctx, step, r.st.outputs)
	if err != nil {
		result = models.StepResult{
			Status: models.StepFailure,
			Error:  &models.ToolError{Kind: models.InvalidParams, Tool: step.Tool, Message: err.Error(), Err: err},
		}
	} else {
		ictx, cancel := withTimeout(ctx, r.o.opts.ToolTimeout)
		result = r.o.c.Invoker.Invoke(ictx, resolved)
		cancel()
	}
	if ctx.Err() != nil {
		return r.cancelled(ctx, step.ID)
	}

	result.StepID = step.ID
	result.Attempt = n
	if result.Status == "" {
		result.Status = models.StepFailure
	}
	if result.Failed() && result.Error == nil {
		result.Error = &models.ToolError{Kind: models.ToolInternalError, Tool: step.Tool, Message: "tool failed without detail"}
	}
	r.cur = &attempt{step: step, result: result}
	return PhaseVerifying
}

func (r *run) verify(ctx context.Context) Phase {
	a := r.cur
	threshold := r.o.opts.Threshold

	if a.result.Failed() {
		a.outcome = models.NewOutcome(a.step.ID, 0, threshold, []string{a.result.Error.Error()})
		r.diag = models.Diagnostic{
			Cause:   models.CauseToolFailure,
			Attempt: a.result.Attempt,
			Error:   a.result.Error,
			Issues:  a.outcome.Issues,
		}
		return PhaseReplanning
	}

	vctx, cancel := withTimeout(ctx, r.o.opts.VerifierTimeout)
	out, err := r.o.c.Verifier.Verify(vctx, a.step.Clone(), a.result.Clone(), r.st.Trace.Entries())
	cancel()
	if ctx.Err() != nil {
		return r.cancelled(ctx, a.step.ID)
	}

	var timeout *models.ToolError
	switch {
	case err != nil:
		a.outcome = models.NewOutcome(a.step.ID, 0, threshold, []string{fmt.Sprintf("verifier failed: %v", err)})
		if errors.Is(err, context.DeadlineExceeded) {
			timeout = &models.ToolError{Kind: models.ExecutionTimeout, Message: "verifier timed out", Err: err}
		}
	case !models.ValidScore(out.Score):
		issues := append(append([]string{}, out.Issues...), fmt.Sprintf("verifier returned out-of-range score %v", out.Score))
		a.outcome = models.NewOutcome(a.step.ID, 0, threshold, issues)
	default:
		a.outcome = models.NewOutcome(a.step.ID, out.Score, threshold, out.Issues)
	}

	if a.outcome.Passed {
		return PhaseAdvancing
	}
	r.diag = models.Diagnostic{
		Cause:   models.CauseVerificationFailure,
		Attempt: a.result.Attempt,
		Error:   timeout,
		Score:   a.outcome.Score,
		Issues:  a.outcome.Issues,
	}
	return PhaseReplanning
}

func (r *run) advance(ctx context.Context) Phase {
	a := r.cur
	r.record(ctx, a)

	var out any
	if len(a.result.Output) > 0 {
		if err := json.Unmarshal(a.result.Output, &out); err != nil {
			r.l.Warn().Err(err).Int(logger.StepIDField, a.step.ID).Msg("step output is not json, references to it will see null")
		}
	}
	r.st.outputs[outputKey(a.step.ID)] = out
	r.st.results[a.step.ID] = a.result
	r.cur = nil

	r.st.Index++
	if r.st.Index >= len(r.st.Plan.Steps) {
		return PhaseDone
	}
	return PhaseRunningStep
}

func (r *run) replan(ctx context.Context) Phase {
	if r.cur != nil && !r.cur.recorded {
		r.record(ctx, r.cur)
	}

	idx := r.st.Index
	step := r.st.current()
	used := r.st.Retries[idx]
	if used >= r.o.opts.MaxRetries {
		return r.fail(models.CauseReplanFailure, step.ID, fmt.Sprintf("retry budget exhausted after %d of %d units", used, r.o.opts.MaxRetries))
	}

	r.l.Info().Int(logger.StepIDField, step.ID).Str("cause", string(r.diag.Cause)).Msg("replanning...")
	rctx, cancel := withTimeout(ctx, r.o.opts.ReplannerTimeout)
	revised, err := r.o.c.Replanner.Replan(rctx, r.st.Plan.Clone(), step, r.diag)
	cancel()
	if ctx.Err() != nil {
		return r.cancelled(ctx, step.ID)
	}

	rec := models.ReplanRecord{StepID: step.ID, Attempt: used, FromVersion: r.st.Plan.Version}
	if err != nil {
		r.st.Retries[idx]++
		rec.Reason = err.Error()
		r.observeReplan(ctx, rec)
		if errors.Is(err, models.ErrReplanUnavailable) {
			return r.fail(models.CauseReplanFailure, step.ID, fmt.Sprintf("replanner: %v", err))
		}
		r.l.Warn().Err(err).Int(logger.StepIDField, step.ID).Msg("replan failed")
		r.diag.Note = fmt.Sprintf("previous replan failed: %v", err)
		return PhaseReplanning
	}

	if reason, violation := r.checkRevision(revised); reason != "" {
		r.st.Retries[idx]++
		rec.ToVersion = revised.Version
		rec.Reason = reason
		r.observeReplan(ctx, rec)
		if violation {
			r.violation(ctx, step.ID, revised.Version, reason)
		} else {
			r.l.Warn().Int(logger.StepIDField, step.ID).Str("reason", reason).Msg("revised plan rejected")
		}
		r.diag.Note = fmt.Sprintf("revised plan rejected: %s", reason)
		return PhaseReplanning
	}

	rec.Accepted = true
	rec.ToVersion = revised.Version
	rec.Wasted = revised.SameSteps(*r.st.Plan)
	r.observeReplan(ctx, rec)
	r.adopt(ctx, revised)
	r.cur = nil

	if r.st.Index >= len(r.st.Plan.Steps) {
		return PhaseDone
	}
	return PhaseRunningStep
}

func (r *run) decompose(ctx context.Context, step models.Step) Phase {
	idx := r.st.Index
	if r.o.c.Decomposer == nil {
		return r.fail(models.CauseReplanFailure, step.ID, "step needs decomposition but no decomposer is configured")
	}
	if r.st.Decompositions[idx] >= r.o.opts.MaxRetries {
		return r.fail(models.CauseReplanFailure, step.ID, fmt.Sprintf("decomposition budget exhausted after %d calls", r.st.Decompositions[idx]))
	}
	r.st.Decompositions[idx]++

	r.l.Info().Int(logger.StepIDField, step.ID).Msg("decomposing step...")
	dctx, cancel := withTimeout(ctx, r.o.opts.ReplannerTimeout)
	revised, err := r.o.c.Decomposer.Decompose(dctx, r.st.Plan.Clone(), step)
	cancel()
	if ctx.Err() != nil {
		return r.cancelled(ctx, step.ID)
	}

	rec := models.ReplanRecord{StepID: step.ID, FromVersion: r.st.Plan.Version, Decomposed: true}
	if err != nil {
		rec.Reason = err.Error()
		r.observeReplan(ctx, rec)
		if errors.Is(err, models.ErrReplanUnavailable) {
			return r.fail(models.CauseReplanFailure, step.ID, fmt.Sprintf("decomposer: %v", err))
		}
		return PhaseRunningStep
	}
	if reason, violation := r.checkRevision(revised); reason != "" {
		rec.ToVersion = revised.Version
		rec.Reason = reason
		r.observeReplan(ctx, rec)
		if violation {
			r.violation(ctx, step.ID, revised.Version, reason)
		}
		return PhaseRunningStep
	}

	rec.Accepted = true
	rec.ToVersion = revised.Version
	r.observeReplan(ctx, rec)
	r.adopt(ctx, revised)
	if r.st.Index >= len(r.st.Plan.Steps) {
		return PhaseDone
	}
	return PhaseRunningStep
}

func (r *run) adopt(ctx context.Context, p models.Plan) {
	c := p.Clone()
	r.st.Plan = &c
	r.l.Info().Int(logger.PlanVersionField, c.Version).Int("steps", len(c.Steps)).Msg("revised plan adopted")
	r.observePlan(ctx)
}

func (r *run) observePlan(ctx context.Context) {
	if o, ok := r.o.c.Sink.(PlanObserver); ok {
		o.ObservePlan(ctx, r.st.RequestID, r.st.Plan.Clone())
	}
}

// checkRevision returns a non-empty reason when revised cannot replace the
// current plan. violation is set when the revision rewrites completed work.
func (r *run) checkRevision(revised models.Plan) (reason string, violation bool) {
	cur := r.st.Plan
	if revised.ID != cur.ID {
		return fmt.Sprintf("plan id changed from %q to %q", cur.ID, revised.ID), false
	}
	if revised.Version <= cur.Version {
		return fmt.Sprintf("plan version %d is not greater than %d", revised.Version, cur.Version), false
	}
	if err := revised.Validate(); err != nil {
		return fmt.Sprintf("invalid plan: %v", err), false
	}
	if len(revised.Steps) < r.st.Index {
		return fmt.Sprintf("revision drops completed steps: has %d steps, %d already succeeded", len(revised.Steps), r.st.Index), true
	}
	for i := 0; i < r.st.Index; i++ {
		if !revised.Steps[i].Equal(cur.Steps[i]) {
			return fmt.Sprintf("revision alters completed step %d", cur.Steps[i].ID), true
		}
	}
	return "", false
}

func (r *run) violation(ctx context.Context, stepID, version int, reason string) {
	v := models.Violation{StepID: stepID, PlanVersion: version, Message: reason}
	r.st.Violations = append(r.st.Violations, v)
	r.l.Error().Int(logger.StepIDField, stepID).Int(logger.PlanVersionField, version).Msgf("replanner violated completed steps: %s", reason)
	if o, ok := r.o.c.Sink.(Observer); ok {
		o.ObserveViolation(ctx, r.st.RequestID, v)
	}
}

func (r *run) observeReplan(ctx context.Context, rec models.ReplanRecord) {
	r.st.Replans = append(r.st.Replans, rec)
	if o, ok := r.o.c.Sink.(Observer); ok {
		o.ObserveReplan(ctx, r.st.RequestID, rec)
	}
}

func (r *run) record(ctx context.Context, a *attempt) {
	entry := models.TraceEntry{
		PlanVersion:  r.st.Plan.Version,
		Step:         a.step,
		Attempt:      a.result.Attempt,
		Result:       a.result,
		Verification: a.outcome,
	}
	r.st.Trace.Append(entry)
	a.recorded = true
	r.o.c.Sink.Record(ctx, models.NewTraceRecord(r.st.RequestID, r.st.Plan.ID, entry, r.o.opts.Now()))
}

func (r *run) cancelled(ctx context.Context, stepID int) Phase {
	r.l.Warn().Err(ctx.Err()).Int(logger.StepIDField, stepID).Msg("request cancelled")
	return r.fail(models.CauseCancelled, stepID, fmt.Sprintf("request cancelled: %v", ctx.Err()))
}

func (r *run) fail(cause models.Cause, stepID int, msg string) Phase {
	r.st.Failure = &models.Failure{Cause: cause, StepID: stepID, Message: msg}
	if last, ok := r.st.Trace.Last(); ok && stepID > 0 && last.Step.ID == stepID && !last.Verification.Passed {
		r.st.Trace.Finalize(cause)
	}
	r.l.Error().Str("cause", string(cause)).Int(logger.StepIDField, stepID).Msg(msg)
	return PhaseFailed
}

func (r *run) finish(ctx context.Context) *models.Result {
	st := r.st
	res := &models.Result{
		RequestID:  st.RequestID,
		PlanID:     st.planID(),
		Trace:      st.Trace.Entries(),
		Replans:    st.Replans,
		Violations: st.Violations,
		Failure:    st.Failure,
		StartedAt:  st.StartedAt,
		FinishedAt: r.o.opts.Now(),
		Steps:      []models.StepResult{},
	}
	if st.Plan != nil {
		p := st.Plan.Clone()
		res.Plan = &p
		res.Retries = make(map[int]int)
		for i, s := range p.Steps {
			if n, ok := st.Retries[i]; ok && i <= st.Index {
				res.Retries[s.ID] = n
			}
		}
		latest := make(map[int]models.StepResult)
		for _, e := range res.Trace {
			latest[e.Step.ID] = e.Result
		}
		for _, s := range p.Steps {
			if sr, ok := latest[s.ID]; ok {
				res.Steps = append(res.Steps, sr)
			}
		}
	}

	if st.Phase == PhaseDone {
		res.Status = models.RunSuccess
		for _, s := range st.Plan.Steps {
			res.Output = append(res.Output, models.StepOutput{StepID: s.ID, Tool: s.Tool, Output: st.results[s.ID].Output})
		}
		r.l.Info().Int("trace", len(res.Trace)).Msg("request done")
	} else {
		res.Status = models.RunFailed
	}

	if o, ok := r.o.c.Sink.(Observer); ok {
		o.ObserveResult(ctx, res)
	}
	return res
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
