// Package inmem provides an in-process implementation of memory.Memory,
// suitable for tests and single-process deployments. It is grounded on the
// teacher's runtime/agents/memory/inmem package: a two-level map guarded by
// a single mutex, with every read and write defensively copying so callers
// can never observe or corrupt internal state by reference.
package inmem

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/agentcore/id"
	"github.com/agentcore/agentcore/memory"
)

// Store is a thread-safe, non-durable memory.Memory implementation. Data is
// lost when the process exits; production deployments should use
// memory/redis or memory/mongo.
type Store struct {
	mu sync.Mutex

	blockOrder []string
	blocks     map[string]*memory.MemoryBlock

	history map[string][]memory.Message

	archive []memory.ArchivalEntry

	sessionsByUser map[string][]sessionEntry
}

type sessionEntry struct {
	sessionID string
	seq       int
}

// New returns an empty Store, ready to use immediately.
func New() *Store {
	return &Store{
		blocks:         make(map[string]*memory.MemoryBlock),
		history:        make(map[string][]memory.Message),
		sessionsByUser: make(map[string][]sessionEntry),
	}
}

// CoreBlocks returns a snapshot of all registered blocks in registration
// order.
func (s *Store) CoreBlocks() []*memory.MemoryBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*memory.MemoryBlock, 0, len(s.blockOrder))
	for _, name := range s.blockOrder {
		out = append(out, s.blocks[name].Clone())
	}
	return out
}

// Block returns a copy of the named block, if registered.
func (s *Store) Block(name string) (*memory.MemoryBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[name]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// PutBlock registers or overwrites a block under its own name.
func (s *Store) PutBlock(block *memory.MemoryBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blocks[block.Name]; !exists {
		s.blockOrder = append(s.blockOrder, block.Name)
	}
	s.blocks[block.Name] = block.Clone()
}

// UpdateBlock sets a single key on an existing block. Returns
// *memory.UnknownBlock if the block was never registered.
func (s *Store) UpdateBlock(name, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[name]
	if !ok {
		return &memory.UnknownBlock{Name: name}
	}
	b.Set(key, value)
	return nil
}

// ReplaceBlock overwrites the entire content of an existing block. Returns
// *memory.UnknownBlock if the block was never registered.
func (s *Store) ReplaceBlock(name string, values map[string]string, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[name]
	if !ok {
		return &memory.UnknownBlock{Name: name}
	}
	b.Replace(values, order)
	return nil
}

// RenderCoreMemory renders every block in registration order, separated by
// a blank line, matching spec.md §4.6's deterministic format.
func (s *Store) RenderCoreMemory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for i, name := range s.blockOrder {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s.blocks[name].Render())
	}
	return sb.String()
}

// History returns a copy of the session's message history in insertion
// order. Unknown sessions return an empty slice, never an error.
func (s *Store) History(sessionID string) []memory.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.history[sessionID])
}

// AddMessage appends a message to the session's history.
func (s *Store) AddMessage(sessionID string, msg memory.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = append(s.history[sessionID], msg)
}

// ClearHistory discards a session's history entirely.
func (s *Store) ClearHistory(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
}

// Archive appends a new searchable entry and returns it.
func (s *Store) Archive(content string, metadata map[string]string) memory.ArchivalEntry {
	entry := memory.ArchivalEntry{
		ID:        id.New(),
		Content:   content,
		Metadata:  cloneStringMap(metadata),
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = append(s.archive, entry)
	return entry
}

// SearchArchive matches entries by case-insensitive substring on content. A
// blank query returns the first limit entries in insertion order.
func (s *Store) SearchArchive(query string, limit int) []memory.ArchivalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []memory.ArchivalEntry
	for _, e := range s.archive {
		if memory.MatchesSubstring(e.Content, query) {
			matches = append(matches, e)
		}
		if len(matches) >= limit && limit > 0 {
			break
		}
	}
	return matches
}

// SearchHistory matches a session's messages by case-insensitive substring
// on content, skipping messages with empty content.
func (s *Store) SearchHistory(sessionID, query string, limit int) []memory.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []memory.Message
	for _, m := range s.history[sessionID] {
		if m.Content == "" {
			continue
		}
		if memory.MatchesSubstring(m.Content, query) {
			matches = append(matches, m)
		}
		if len(matches) >= limit && limit > 0 {
			break
		}
	}
	return cloneMessages(matches)
}

// RegisterSession idempotently records a (userID, sessionID) binding.
func (s *Store) RegisterSession(userID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.sessionsByUser[userID] {
		if e.sessionID == sessionID {
			return
		}
	}
	s.sessionsByUser[userID] = append(s.sessionsByUser[userID], sessionEntry{
		sessionID: sessionID,
		seq:       len(s.sessionsByUser[userID]),
	})
}

// LatestSession returns the most recently registered session for userID.
func (s *Store) LatestSession(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sessionsByUser[userID]
	if len(entries) == 0 {
		return "", false
	}
	return entries[len(entries)-1].sessionID, true
}

// Sessions returns userID's sessions in descending registration order.
func (s *Store) Sessions(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append([]sessionEntry(nil), s.sessionsByUser[userID]...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.sessionID)
	}
	return out
}

func cloneMessages(msgs []memory.Message) []memory.Message {
	out := make([]memory.Message, len(msgs))
	copy(out, msgs)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ memory.Memory = (*Store)(nil)
