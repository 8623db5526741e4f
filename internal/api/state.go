package api

import (
	"context"
	"sync"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"

	"go-analyst/internal/metrics"
	"go-analyst/pkg/models"
)

// requestsCache maps live request ids to their supervisors. Finished
// requests fall out of it and are served from the store.
type requestsCache struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]*actor.PID
}

func newRequestsCache() *requestsCache {
	return &requestsCache{
		ids: map[uuid.UUID]*actor.PID{},
	}
}

func (s *requestsCache) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *requestsCache) add(id uuid.UUID, pid *actor.PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = pid
}

func (s *requestsCache) get(id uuid.UUID) (*actor.PID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.ids[id]
	return pid, ok
}

// Admission bounds the number of runs in flight. It is registered as an
// orchestrator sink so a slot is released when its run produces a result.
type Admission struct {
	sem chan struct{}
}

func NewAdmission(limit int) *Admission {
	if limit < 1 {
		limit = 1
	}
	return &Admission{sem: make(chan struct{}, limit)}
}

func (a *Admission) tryAcquire() bool {
	select {
	case a.sem <- struct{}{}:
		metrics.InFlight.Inc()
		return true
	default:
		return false
	}
}

func (a *Admission) release() {
	select {
	case <-a.sem:
		metrics.InFlight.Dec()
	default:
	}
}

func (a *Admission) Record(context.Context, models.TraceRecord) {}

func (a *Admission) ObserveReplan(context.Context, string, models.ReplanRecord) {}

func (a *Admission) ObserveViolation(context.Context, string, models.Violation) {}

func (a *Admission) ObserveResult(context.Context, *models.Result) {
	a.release()
}
