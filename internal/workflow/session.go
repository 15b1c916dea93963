package workflow

import (
	"sync"
	"time"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// maxTurnsPerSession bounds how much history one session can accumulate.
const maxTurnsPerSession = 20

// SessionTurn is one completed question/answer pair within a session.
type SessionTurn struct {
	Question    string      `json:"question"`
	Answer      string      `json:"answer"`
	Status      core.Status `json:"status"`
	AskedAt     time.Time   `json:"asked_at"`
	CacheHit    bool        `json:"cache_hit"`
	SQLAttempts int         `json:"sql_attempts"`
}

// sessionMemory keeps a bounded per-session history of completed turns.
// Requests without a session id are not recorded.
type sessionMemory struct {
	mu    sync.Mutex
	turns map[string][]SessionTurn
}

func newSessionMemory() *sessionMemory {
	return &sessionMemory{turns: make(map[string][]SessionTurn)}
}

// Record appends a turn, dropping the oldest when the session is full.
func (m *sessionMemory) Record(sessionID string, turn SessionTurn) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.turns[sessionID], turn)
	if len(history) > maxTurnsPerSession {
		history = history[len(history)-maxTurnsPerSession:]
	}
	m.turns[sessionID] = history
}

// History returns a copy of the session's turns, oldest first.
func (m *sessionMemory) History(sessionID string) []SessionTurn {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.turns[sessionID]
	out := make([]SessionTurn, len(history))
	copy(out, history)
	return out
}

// Forget drops all history for the session.
func (m *sessionMemory) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.turns, sessionID)
	m.mu.Unlock()
}
