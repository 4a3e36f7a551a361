// Package session holds per-conversation short-term state: the bounded
// turn history a ChatPipeline run reads to build context, and the
// monotonic session id the Gateway uses for interrupt/ordering logic.
package session

import (
	"sync"
	"time"
)

// Turn is one exchange in a conversation's short-term history.
type Turn struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// DefaultHistoryTurns is the default bound on Session.History, per the
// data model's "N turns (default 40) with FIFO eviction".
const DefaultHistoryTurns = 40

// Session is one user/character conversation's live state.
type Session struct {
	UserID      string
	CharacterID string
	SessionID   int64
	Metadata    map[string]any

	mu           sync.Mutex
	history      []Turn
	historyLimit int
}

// New builds a Session with a bounded history deque of historyLimit
// turns (DefaultHistoryTurns if limit <= 0).
func New(userID, characterID string, sessionID int64, limit int) *Session {
	if limit <= 0 {
		limit = DefaultHistoryTurns
	}
	return &Session{
		UserID:       userID,
		CharacterID:  characterID,
		SessionID:    sessionID,
		Metadata:     make(map[string]any),
		historyLimit: limit,
	}
}

// AppendTurn adds a turn to history, evicting the oldest turn (FIFO)
// once historyLimit is exceeded.
func (s *Session) AppendTurn(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = s.history[over:]
	}
}

// History returns a copy of the current bounded turn history, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}
