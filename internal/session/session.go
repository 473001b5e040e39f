// Package session holds per-conversation state and the orchestrator that
// moves it through indexing and querying.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/index"
)

// State is the lifecycle position of a session.
type State int

const (
	StateEmpty State = iota
	StateIndexing
	StateReady
	StateQuerying
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateIndexing:
		return "INDEXING"
	case StateReady:
		return "READY"
	case StateQuerying:
		return "QUERYING"
	}
	return "UNKNOWN"
}

// Config is the per-session selection of models and retrieval settings.
type Config struct {
	Model          string
	EmbeddingModel string
	Threshold      float64
	TopK           int
}

// Session is one conversation. All fields are guarded by mu; the
// orchestrator drops the lock while external calls run.
type Session struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	messages     []domain.Message
	handle       *index.Handle
	state        State
	config       Config
	pendingReset bool
}

func New(cfg Config) *Session {
	return &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		config:    cfg,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// HasIndex reports whether the session currently holds an index handle.
func (s *Session) HasIndex() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Model = model
}

func (s *Session) SetThreshold(t float64) error {
	if !(t >= 0 && t <= 1) {
		return domain.ErrInvalidThreshold
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Threshold = t
	return nil
}

// Snapshot is a consistent view of a session for rendering.
type Snapshot struct {
	ID           string
	State        State
	Messages     []domain.Message
	Config       Config
	Documents    int
	Chunks       int
	ResetPending bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:           s.id,
		State:        s.state,
		Messages:     append([]domain.Message(nil), s.messages...),
		Config:       s.config,
		ResetPending: s.pendingReset,
	}
	if s.handle != nil {
		snap.Documents = s.handle.Documents()
		snap.Chunks = s.handle.Chunks()
	}
	return snap
}

func (s *Session) appendLocked(role domain.Role, content string, isErr bool) {
	s.messages = append(s.messages, domain.Message{
		Role:      role,
		Content:   content,
		Error:     isErr,
		CreatedAt: time.Now(),
	})
}

// resetLocked detaches and releases the index, clears the transcript and
// returns to EMPTY.
func (s *Session) resetLocked() {
	if s.handle != nil {
		s.handle.Release()
		s.handle = nil
	}
	s.messages = nil
	s.state = StateEmpty
	s.pendingReset = false
}
