// Package session keeps per-conversation dialogue state and serializes
// turns within one conversation.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/doctalk-booking/internal/dialogue"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrTurnTimeout = errors.New("turn timed out")
)

type Phase string

const (
	PhaseCollecting Phase = "collecting"
	PhaseConfirming Phase = "confirming"
	PhaseExecuting  Phase = "executing"
	PhaseCommitted  Phase = "committed"
	PhaseRejected   Phase = "rejected"
)

// State is everything remembered about one conversation.
type State struct {
	ID      string            `json:"id"`
	Context *dialogue.Context `json:"context"`
	Phase   Phase             `json:"phase"`
	// PendingOp is the intent that produced Pending, a list of candidate
	// appointment ids awaiting disambiguation.
	PendingOp string    `json:"pending_op,omitempty"`
	Pending   []string  `json:"pending,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewState(id string, capacity int) *State {
	return &State{
		ID:      id,
		Context: dialogue.NewContext(capacity),
		Phase:   PhaseCollecting,
	}
}

// ClearPending forgets any outstanding candidate list.
func (s *State) ClearPending() {
	s.PendingOp = ""
	s.Pending = nil
}

// Store persists State by session id.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, st *State) error
	Delete(ctx context.Context, id string) error
}
