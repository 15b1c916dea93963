package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// suspendedRun is a workflow parked on a clarification question.
type suspendedRun struct {
	state     *core.WorkflowState
	request   core.QueryRequest
	createdAt time.Time
}

// suspensionStore holds suspended runs keyed by resumption token. Tokens are
// single-use; Take removes the run. Runs older than maxAge are dropped on the
// next store operation so abandoned clarifications do not accumulate.
type suspensionStore struct {
	mu     sync.Mutex
	runs   map[string]*suspendedRun
	maxAge time.Duration
	now    func() time.Time
}

func newSuspensionStore(maxAge time.Duration) *suspensionStore {
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &suspensionStore{
		runs:   make(map[string]*suspendedRun),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Park stores the run and returns a fresh resumption token.
func (s *suspensionStore) Park(state *core.WorkflowState, req core.QueryRequest) string {
	token := uuid.NewString()

	s.mu.Lock()
	s.pruneLocked()
	s.runs[token] = &suspendedRun{state: state, request: req, createdAt: s.now()}
	s.mu.Unlock()

	return token
}

// Take removes and returns the run for token.
func (s *suspensionStore) Take(token string) (*suspendedRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	run, ok := s.runs[token]
	if !ok {
		return nil, fmt.Errorf("unknown or expired resumption token %q", token)
	}
	delete(s.runs, token)
	return run, nil
}

// Len returns the number of parked runs.
func (s *suspensionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *suspensionStore) pruneLocked() {
	cutoff := s.now().Add(-s.maxAge)
	for token, run := range s.runs {
		if run.createdAt.Before(cutoff) {
			delete(s.runs, token)
		}
	}
}
