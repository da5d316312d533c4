package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownAction is returned by Dispatch for actions that are not of the
// form "Namespace/setKey".
var ErrUnknownAction = errors.New("unknown action")

// State is the whole application state, keyed by namespace.
type State map[string]any

// Mutation describes one applied action.
type Mutation struct {
	Type    string
	Payload any
}

// Store is the observable state container the supervisor reports to. The
// host calls ReplaceState once before any supervisor activity.
type Store interface {
	ReplaceState(state State)
	Dispatch(action string, payload any) error
	Subscribe(fn func(Mutation, State)) (unsubscribe func())
}

// MemoryStore is an in-process Store. Actions named "Namespace/setKey" set
// state[Namespace][key] to the payload, with key lower-cased on its first
// letter ("Core/setStatus" sets Core.status).
type MemoryStore struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(Mutation, State)
	nextID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: State{}, subs: make(map[int]func(Mutation, State))}
}

func (s *MemoryStore) ReplaceState(state State) {
	cp := make(State, len(state))
	for ns, v := range state {
		if m, ok := v.(map[string]any); ok {
			cp[ns] = copyMap(m)
			continue
		}
		cp[ns] = v
	}
	s.mu.Lock()
	s.state = cp
	s.mu.Unlock()
}

func (s *MemoryStore) Dispatch(action string, payload any) error {
	ns, key, err := parseAction(action)
	if err != nil {
		return err
	}
	s.mu.Lock()
	m, ok := s.state[ns].(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	m = copyMap(m)
	m[key] = payload
	s.state[ns] = m
	snap := s.snapshotLocked()
	subs := s.orderedSubsLocked()
	s.mu.Unlock()

	mu := Mutation{Type: action, Payload: payload}
	for _, fn := range subs {
		fn(mu, snap)
	}
	return nil
}

// Subscribe registers fn to be called after every mutation, in subscription
// order. The returned function removes the subscription.
func (s *MemoryStore) Subscribe(fn func(Mutation, State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Get returns state[ns][key].
func (s *MemoryStore) Get(ns, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state[ns].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// State returns a shallow copy of the current state.
func (s *MemoryStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *MemoryStore) snapshotLocked() State {
	out := make(State, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) orderedSubsLocked() []func(Mutation, State) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Mutation, State), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

func parseAction(action string) (string, string, error) {
	ns, mut, ok := strings.Cut(action, "/")
	if !ok || ns == "" || !strings.HasPrefix(mut, "set") || len(mut) <= 3 {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	key := mut[3:]
	return ns, strings.ToLower(key[:1]) + key[1:], nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
