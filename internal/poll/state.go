package poll

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/napstar/Voting-App/internal/domain"
)

// State is a question plus a fixed set of options with vote counts.
// The option set is decided at construction and never changes.
type State struct {
	mu       sync.RWMutex
	question string
	order    []string
	counts   map[string]int
	version  uint64
}

// New validates the poll definition and returns a State with all counts at zero.
// Option keys are trimmed; empty or duplicate keys are rejected.
func New(question string, options []string) (*State, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	if len(options) == 0 {
		return nil, domain.ErrNoOptions
	}

	order := make([]string, 0, len(options))
	counts := make(map[string]int, len(options))
	for i, raw := range options {
		key := strings.TrimSpace(raw)
		if key == "" {
			return nil, fmt.Errorf("option at position %d: %w", i, domain.ErrEmptyOption)
		}
		if _, exists := counts[key]; exists {
			return nil, fmt.Errorf("option %q: %w", key, domain.ErrDuplicateOption)
		}
		counts[key] = 0
		order = append(order, key)
	}

	return &State{question: question, order: order, counts: counts}, nil
}

// ApplyVote adds one vote to option and returns its new count.
// Returns ok=false and leaves the state untouched if option is not part of the poll.
func (s *State) ApplyVote(option string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, exists := s.counts[option]
	if !exists {
		return 0, false
	}
	count++
	s.counts[option] = count
	s.version++
	return count, true
}

// Snapshot returns a copy of the current poll. The returned map is owned by the caller.
func (s *State) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.Snapshot{
		Question: s.question,
		Options:  maps.Clone(s.counts),
		Version:  s.version,
	}
}

// Options returns the option keys in declaration order.
func (s *State) Options() []string {
	return append([]string(nil), s.order...)
}

// Question returns the poll question.
func (s *State) Question() string {
	return s.question
}
