package session

import (
	"errors"
	"sync"

	"github.com/codesynq/collab.go/pkg/logger"
)

var (
	errNotActive     = errors.New("session is not active")
	errUnknownAction = errors.New("unknown action")
)

// Store holds the current State and serializes every change through Reduce.
type Store struct {
	mu     sync.Mutex
	state  State
	subs   []func(prev, next State)
	logger logger.Logger
}

func NewStore(initial State, log logger.Logger) *Store {
	return &Store{state: initial, logger: logger.OrDiscard(log)}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to run after every dispatch, in registration order.
func (s *Store) Subscribe(fn func(prev, next State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Dispatch reduces a into the current state and notifies subscribers.
// Rejected actions are logged and leave the state as it was.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	prev := s.state
	next, err := reduce(prev, a)
	if err != nil {
		s.logger.Error("BUG: ignoring action", "action", actionName(a), "phase", prev.Phase, "error", err)
	}
	s.state = next
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(prev, next)
	}
	return next
}

func actionName(a Action) string {
	switch a.(type) {
	case Started:
		return "Started"
	case SnapshotApplied:
		return "SnapshotApplied"
	case Ended:
		return "Ended"
	case ModeChanged:
		return "ModeChanged"
	case RosterChanged:
		return "RosterChanged"
	case RequestReceived:
		return "RequestReceived"
	case RequestSent:
		return "RequestSent"
	case RequestResolved:
		return "RequestResolved"
	case AuthorityTransferred:
		return "AuthorityTransferred"
	case RequestDeclined:
		return "RequestDeclined"
	case LanguageChanged:
		return "LanguageChanged"
	default:
		return "Unknown"
	}
}
