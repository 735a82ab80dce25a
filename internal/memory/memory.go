// Package memory keeps bounded per-session chat histories.
package memory

import (
	"sort"
	"sync"

	"github.com/DreamCats/pdfchat/internal/llm"
)

// DefaultMaxTurns bounds a history when no limit is configured.
const DefaultMaxTurns = 10

// Turn is one role-tagged message in a conversation.
type Turn = llm.Message

// History is the ordered turns of one session.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

// Append adds turns without trimming.
func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	h.turns = append(h.turns, turns...)
	h.mu.Unlock()
}

// Messages returns a copy of the turns, oldest first.
func (h *History) Messages() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Clear drops every turn.
func (h *History) Clear() {
	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}

// appendAndTrim appends, then keeps only the newest max turns.
func (h *History) appendAndTrim(max int, turns []Turn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, turns...)
	if len(h.turns) <= max {
		return false
	}
	kept := make([]Turn, max)
	copy(kept, h.turns[len(h.turns)-max:])
	h.turns = kept
	return true
}

// Memory maps session keys to histories.
type Memory struct {
	max int

	mu       sync.Mutex
	sessions map[string]*History
}

// New creates a Memory bounding each history to maxTurns. Values below 1
// use DefaultMaxTurns.
func New(maxTurns int) *Memory {
	if maxTurns < 1 {
		maxTurns = DefaultMaxTurns
	}
	return &Memory{
		max:      maxTurns,
		sessions: make(map[string]*History),
	}
}

// MaxTurns returns the per-session bound.
func (m *Memory) MaxTurns() int {
	return m.max
}

// Get returns the history for key, creating an empty one on first use.
func (m *Memory) Get(key string) *History {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.sessions[key]
	if !ok {
		h = &History{}
		m.sessions[key] = h
	}
	return h
}

// AppendAndTrim appends turns to h. When h then holds more than MaxTurns it
// keeps the most recent MaxTurns and returns true.
func (m *Memory) AppendAndTrim(h *History, turns ...Turn) bool {
	return h.appendAndTrim(m.max, turns)
}

// Delete forgets the session key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
}

// Keys returns the known session keys, sorted.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Strings(keys)
	return keys
}
