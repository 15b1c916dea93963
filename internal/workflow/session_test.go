package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

func TestSessionMemory_RecordAndHistory(t *testing.T) {
	m := newSessionMemory()

	m.Record("s-1", SessionTurn{Question: "q1", Status: core.StatusSuccess})
	m.Record("s-1", SessionTurn{Question: "q2", Status: core.StatusFailed})
	m.Record("s-2", SessionTurn{Question: "other"})

	turns := m.History("s-1")
	require.Len(t, turns, 2)
	assert.Equal(t, "q1", turns[0].Question)
	assert.Equal(t, "q2", turns[1].Question)

	// Anonymous requests are not recorded.
	m.Record("", SessionTurn{Question: "ghost"})
	assert.Empty(t, m.History(""))
}

func TestSessionMemory_BoundedPerSession(t *testing.T) {
	m := newSessionMemory()
	for i := 0; i < maxTurnsPerSession+5; i++ {
		m.Record("s", SessionTurn{Question: fmt.Sprintf("q%d", i)})
	}

	turns := m.History("s")
	require.Len(t, turns, maxTurnsPerSession)
	assert.Equal(t, "q5", turns[0].Question, "oldest turns are dropped first")
}

func TestSessionMemory_Forget(t *testing.T) {
	m := newSessionMemory()
	m.Record("s", SessionTurn{Question: "q"})
	m.Forget("s")
	assert.Empty(t, m.History("s"))
}
