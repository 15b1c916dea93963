package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

func TestSuspensionStore_ParkAndTake(t *testing.T) {
	s := newSuspensionStore(time.Minute)

	st := &core.WorkflowState{Query: "parks"}
	token := s.Park(st, core.QueryRequest{Text: "parks"})
	require.NotEmpty(t, token)
	assert.Equal(t, 1, s.Len())

	run, err := s.Take(token)
	require.NoError(t, err)
	assert.Same(t, st, run.state)
	assert.Equal(t, 0, s.Len())

	_, err = s.Take(token)
	require.Error(t, err, "tokens are single-use")
}

func TestSuspensionStore_DistinctTokens(t *testing.T) {
	s := newSuspensionStore(time.Minute)
	a := s.Park(&core.WorkflowState{}, core.QueryRequest{})
	b := s.Park(&core.WorkflowState{}, core.QueryRequest{})
	assert.NotEqual(t, a, b)
}

func TestSuspensionStore_ExpiresOldRuns(t *testing.T) {
	s := newSuspensionStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	token := s.Park(&core.WorkflowState{}, core.QueryRequest{})

	now = now.Add(2 * time.Minute)
	_, err := s.Take(token)
	require.Error(t, err)
}
