// Package app assembles the orchestrator and its collaborators from config.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	plannerHandler "go-analyst/internal/agents/planner/handler"
	replannerHandler "go-analyst/internal/agents/replanner/handler"
	verifierHandler "go-analyst/internal/agents/verifier/handler"
	"go-analyst/internal/llm"
	"go-analyst/internal/metrics"
	"go-analyst/internal/orchestrator"
	"go-analyst/internal/store"
	"go-analyst/internal/tools"
	"go-analyst/internal/verify"
	"go-analyst/pkg/config"
	"go-analyst/pkg/models"
	"go-analyst/pkg/prompts"
	"go-analyst/pkg/template"
)

type App struct {
	Config       *config.Config
	Registry     *tools.Registry
	Store        *store.SQLiteStore
	Invoker      *tools.Invoker
	Orchestrator *orchestrator.Orchestrator
}

// New wires every collaborator. extra sinks are appended to the log,
// metrics and store sinks.
func New(ctx context.Context, cfg *config.Config, extra ...orchestrator.Sink) (*App, error) {
	registry := tools.Builtin(cfg.Tools)
	return build(ctx, cfg, registry, extra...)
}

func build(ctx context.Context, cfg *config.Config, registry *tools.Registry, extra ...orchestrator.Sink) (*App, error) {
	threshold := cfg.Orchestrator.VerificationThreshold
	catalogue, err := template.Parse(prompts.ToolCatalogue, registry.List())
	if err != nil {
		return nil, fmt.Errorf("render tool catalogue: %w", err)
	}

	var rules *verify.Rules
	if cfg.Verifier.PolicyFile != "" {
		rules, err = verify.NewRulesFromFile(ctx, cfg.Verifier.PolicyFile, threshold)
	} else {
		rules, err = verify.NewRules(ctx, verify.DefaultRules, threshold)
	}
	if err != nil {
		return nil, fmt.Errorf("verifier rules: %w", err)
	}

	var (
		planner    = plannerHandler.NewStatic(nil)
		replanner  orchestrator.Replanner = offline{}
		decomposer orchestrator.Decomposer
		judge      verify.Scorer
	)
	if cfg.LLM.Enabled() {
		model, err := llm.NewModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
		planner = plannerHandler.NewStatic(plannerHandler.New(
			llm.NewChain(model, prompts.PlanTemplate, plannerHandler.Vars, cfg.LLM), catalogue, cfg.Planner.MaxAttempts))
		rh := replannerHandler.New(
			llm.NewChain(model, prompts.ReplanTemplate, replannerHandler.ReplanVars, cfg.LLM),
			llm.NewChain(model, prompts.DecomposeTemplate, replannerHandler.DecomposeVars, cfg.LLM),
			catalogue)
		replanner, decomposer = rh, rh
		judge = verifierHandler.New(
			llm.NewChain(model, prompts.VerifyTemplate, verifierHandler.Vars, cfg.LLM), cfg.Verifier.MaxOutput, threshold)
	} else {
		log.Warn().Msg("no model configured, only supplied plans can run and replanning is unavailable")
	}

	sinks := orchestrator.MultiSink{orchestrator.LogSink{}, metrics.Sink{}}
	var st *store.SQLiteStore
	if cfg.Store.DSN != "" {
		st, err = store.NewSQLiteStore(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, st)
	}
	sinks = append(sinks, extra...)

	o := cfg.Orchestrator
	invoker := tools.NewInvoker(registry, o.ToolTimeout)
	orch := orchestrator.New(orchestrator.Collaborators{
		Planner:    planner,
		Invoker:    invoker,
		Verifier:   verify.NewComposite(rules, judge, cfg.Verifier.RuleWeight, threshold),
		Replanner:  replanner,
		Decomposer: decomposer,
		Sink:       sinks,
	}, orchestrator.Options{
		MaxRetries:       o.MaxRetries,
		Threshold:        threshold,
		PlannerTimeout:   o.PlannerTimeout,
		ToolTimeout:      o.ToolTimeout,
		VerifierTimeout:  o.VerifierTimeout,
		ReplannerTimeout: o.ReplannerTimeout,
	})

	return &App{Config: cfg, Registry: registry, Store: st, Invoker: invoker, Orchestrator: orch}, nil
}

func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// offline stands in for the replanner when no model is configured.
type offline struct{}

func (offline) Replan(context.Context, models.Plan, models.Step, models.Diagnostic) (models.Plan, error) {
	return models.Plan{}, fmt.Errorf("%w: no model configured", models.ErrReplanUnavailable)
}
