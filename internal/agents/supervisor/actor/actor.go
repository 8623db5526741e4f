package actor

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go-analyst/internal/orchestrator"
	"go-analyst/pkg/logger"
	"go-analyst/pkg/messages"
	"go-analyst/pkg/models"
)

// Supervisor owns one request. It runs the orchestrator off the mailbox,
// collects progress and answers status and cancel messages while the run
// is in flight.
type Supervisor struct {
	orch    *orchestrator.Orchestrator
	linger  time.Duration
	id      uuid.UUID
	query   models.Query
	state   models.State
	records []models.TraceRecord
	plan    *models.Plan
	result  *models.Result
	err     models.Error
	cancel  context.CancelFunc
}

// New returns a producer of supervisors sharing orch. A finished supervisor
// stops itself once it has been idle for linger.
func New(orch *orchestrator.Orchestrator, linger time.Duration) actor.Producer {
	return func() actor.Actor {
		return &Supervisor{
			orch:    orch,
			linger:  linger,
			id:      uuid.Nil,
			state:   models.Init,
			records: make([]models.TraceRecord, 0),
		}
	}
}

func (agent *Supervisor) Receive(ac actor.Context) {
	l := log.With().Fields(map[string]interface{}{logger.ActorIDField: ac.Self().GetId(), logger.AgentNameField: "supervisor"}).Logger()
	switch msg := ac.Message().(type) {
	case *actor.Started:
		l.Debug().Msg("starting actor")
	case *actor.Stopping:
		l.Debug().Msg("stopping actor")
		if agent.cancel != nil {
			agent.cancel()
		}
	case *actor.Stopped:
		l.Debug().Msg("stopped actor")
	case *actor.Restarting:
		l.Debug().Msg("restarting actor")
	case *actor.ReceiveTimeout:
		l.Debug().Str(logger.RequestIDField, agent.id.String()).Msg("idle after finishing, stopping")
		ac.Stop(ac.Self())
	case messages.NewQuery:
		if agent.state != models.Init {
			l.Warn().Str(logger.RequestIDField, agent.id.String()).Msg("query already started, ignoring")
			return
		}
		l.Info().Str(logger.RequestIDField, msg.RequestID.String()).Msg("starting run")
		agent.id = msg.RequestID
		agent.query = msg.Query
		agent.state = models.Thinking
		agent.start(ac)
	case messages.Progress:
		agent.records = append(agent.records, msg.Record)
	case messages.PlanAdopted:
		p := msg.Plan
		agent.plan = &p
	case messages.Cancel:
		if agent.cancel != nil && !agent.state.Terminal() {
			l.Info().Str(logger.RequestIDField, agent.id.String()).Msg("cancelling run")
			agent.cancel()
		}
		ac.Respond(agent.status())
	case messages.GetStatus:
		ac.Respond(agent.status())
	case messages.RunFinished:
		agent.finish(ac, msg.Result)
	default:
		l.Warn().Str(logger.RequestIDField, agent.id.String()).Msgf("unknown message: %v", msg)
	}
}

func (agent *Supervisor) start(ac actor.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	agent.cancel = cancel

	root := ac.ActorSystem().Root
	self := ac.Self()
	orch := agent.orch.WithSink(progress{root: root, pid: self})
	id, q := agent.id.String(), agent.query
	go func() {
		res := orch.Run(ctx, id, q)
		root.Send(self, messages.RunFinished{Result: res})
	}()
}

func (agent *Supervisor) finish(ac actor.Context, res *models.Result) {
	l := log.With().Fields(map[string]interface{}{logger.ActorIDField: ac.Self().GetId(), logger.AgentNameField: "supervisor"}).Logger()
	agent.cancel()
	agent.result = res
	agent.state = res.State()
	if res.Failure != nil {
		t := res.FinishedAt
		agent.err = models.Error{ErrMessage: res.Failure.Error(), Time: &t}
		l.Warn().Str(logger.RequestIDField, agent.id.String()).Str("cause", string(res.Failure.Cause)).Msg("run failed")
	} else {
		l.Info().Str(logger.RequestIDField, agent.id.String()).Msg("run finished")
	}

	if agent.linger <= 0 {
		ac.Stop(ac.Self())
		return
	}
	ac.SetReceiveTimeout(agent.linger)
}

func (agent *Supervisor) status() models.Status {
	records := make([]models.TraceRecord, len(agent.records))
	copy(records, agent.records)
	return models.Status{
		RequestID: agent.id.String(),
		Query:     agent.query.Text,
		State:     agent.state,
		Records:   records,
		Plan:      agent.plan,
		Result:    agent.result,
		Errs:      agent.err,
	}
}

// progress forwards trace records to the supervisor's mailbox.
type progress struct {
	root *actor.RootContext
	pid  *actor.PID
}

func (p progress) Record(_ context.Context, rec models.TraceRecord) {
	p.root.Send(p.pid, messages.Progress{Record: rec})
}

func (p progress) ObservePlan(_ context.Context, _ string, plan models.Plan) {
	p.root.Send(p.pid, messages.PlanAdopted{Plan: plan})
}
