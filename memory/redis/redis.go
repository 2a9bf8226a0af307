// Package redis implements memory.Memory on top of Redis, grounded on the
// teacher's registry/result_stream.go key-naming convention and its use of
// redis.Nil for absence; other Redis errors degrade to empty results (see
// Store). Blocks live in JSON string values, history and archive in lists,
// and sessions in a sorted set keyed by registration sequence so descending
// order is a single ZREVRANGE.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentcore/agentcore/id"
	"github.com/agentcore/agentcore/memory"
)

const (
	defaultTimeout = 5 * time.Second
	keyPrefix      = "agentcore:memory:"
)

// Store implements memory.Memory against a Redis deployment. The
// memory.Memory interface carries no context parameter, so every method
// derives one internally bounded by Options.Timeout; a failing Redis call
// degrades to an empty result rather than a panic, consistent with the
// in-memory Store's "absence is empty, not an error" treatment of unknown
// sessions and blocks.
type Store struct {
	rdb     *redis.Client
	timeout time.Duration
}

// Options configures a Store.
type Options struct {
	Client  *redis.Client
	Timeout time.Duration
}

// New constructs a Store. Client is required.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{rdb: opts.Client, timeout: timeout}, nil
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.timeout)
}

func blockKey(name string) string        { return keyPrefix + "block:" + name }
func blockIndexKey() string              { return keyPrefix + "block-index" }
func historyKey(sessionID string) string { return keyPrefix + "history:" + sessionID }
func archiveKey() string                 { return keyPrefix + "archive" }
func sessionsKey(userID string) string   { return keyPrefix + "sessions:" + userID }

// blockDoc is the JSON representation stored as each block key's string
// value, preserving key insertion order that a plain Redis hash cannot.
type blockDoc struct {
	MaxSize int               `json:"maxSize"`
	Keys    []string          `json:"keys"`
	Values  map[string]string `json:"values"`
}

// CoreBlocks returns every registered block in registration order.
func (s *Store) CoreBlocks() []*memory.MemoryBlock {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	names, err := s.rdb.LRange(ctx, blockIndexKey(), 0, -1).Result()
	if err != nil {
		return nil
	}
	out := make([]*memory.MemoryBlock, 0, len(names))
	for _, name := range names {
		if b, ok := s.loadBlock(ctx, name); ok {
			out = append(out, b)
		}
	}
	return out
}

// Block returns the named block, if registered.
func (s *Store) Block(name string) (*memory.MemoryBlock, bool) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	return s.loadBlock(ctx, name)
}

func (s *Store) loadBlock(ctx context.Context, name string) (*memory.MemoryBlock, bool) {
	raw, err := s.rdb.Get(ctx, blockKey(name)).Result()
	if errors.Is(err, redis.Nil) || err != nil {
		return nil, false
	}
	var doc blockDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false
	}
	b := memory.NewBlock(name, doc.MaxSize)
	b.Replace(doc.Values, doc.Keys)
	return b, true
}

// PutBlock registers or overwrites a block.
func (s *Store) PutBlock(block *memory.MemoryBlock) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	s.storeBlock(ctx, block)

	// Membership in a set, consulted before the RPUSH, keeps the ordering
	// list free of duplicates across repeated PutBlock calls for the same
	// name.
	added, err := s.rdb.SAdd(ctx, blockIndexKey()+":set", block.Name).Result()
	if err == nil && added > 0 {
		s.rdb.RPush(ctx, blockIndexKey(), block.Name)
	}
}

// storeBlock serializes a block's rendered key/value pairs to its doc
// format. MemoryBlock exposes key order only through Render, so the doc is
// derived from the rendered text rather than from any private field.
func (s *Store) storeBlock(ctx context.Context, block *memory.MemoryBlock) {
	clone := block.Clone()
	keys, values := blockFields(clone)
	doc := blockDoc{MaxSize: clone.MaxSize, Keys: keys, Values: values}

	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, blockKey(block.Name), raw, 0)
}

// UpdateBlock sets a single key on an existing block.
func (s *Store) UpdateBlock(name, key, value string) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	b, ok := s.loadBlock(ctx, name)
	if !ok {
		return &memory.UnknownBlock{Name: name}
	}
	b.Set(key, value)
	s.storeBlock(ctx, b)
	return nil
}

// ReplaceBlock overwrites the entire content of an existing block.
func (s *Store) ReplaceBlock(name string, values map[string]string, order []string) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	b, ok := s.loadBlock(ctx, name)
	if !ok {
		return &memory.UnknownBlock{Name: name}
	}
	b.Replace(values, order)
	s.storeBlock(ctx, b)
	return nil
}

// RenderCoreMemory renders every block in registration order.
func (s *Store) RenderCoreMemory() string {
	blocks := s.CoreBlocks()
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Render())
	}
	return sb.String()
}

// History returns a session's message history in insertion order.
func (s *Store) History(sessionID string) []memory.Message {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	raw, err := s.rdb.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil
	}
	return decodeMessages(raw)
}

// AddMessage appends a message to a session's history.
func (s *Store) AddMessage(sessionID string, msg memory.Message) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.rdb.RPush(ctx, historyKey(sessionID), raw)
}

// ClearHistory discards a session's history.
func (s *Store) ClearHistory(sessionID string) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	s.rdb.Del(ctx, historyKey(sessionID))
}

// Archive appends a new searchable entry.
func (s *Store) Archive(content string, metadata map[string]string) memory.ArchivalEntry {
	entry := memory.ArchivalEntry{
		ID:        id.New(),
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	ctx, cancel := s.ctx(nil)
	defer cancel()
	if raw, err := json.Marshal(entry); err == nil {
		s.rdb.RPush(ctx, archiveKey(), raw)
	}
	return entry
}

// SearchArchive matches entries by case-insensitive substring on content. A
// blank query returns the first limit entries in insertion order.
func (s *Store) SearchArchive(query string, limit int) []memory.ArchivalEntry {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	raw, err := s.rdb.LRange(ctx, archiveKey(), 0, -1).Result()
	if err != nil {
		return nil
	}
	var out []memory.ArchivalEntry
	for _, r := range raw {
		var e memory.ArchivalEntry
		if json.Unmarshal([]byte(r), &e) != nil {
			continue
		}
		if memory.MatchesSubstring(e.Content, query) {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// SearchHistory matches a session's messages by case-insensitive substring
// on content, skipping messages with empty content.
func (s *Store) SearchHistory(sessionID, query string, limit int) []memory.Message {
	msgs := s.History(sessionID)
	var out []memory.Message
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		if memory.MatchesSubstring(m.Content, query) {
			out = append(out, m)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// SearchHistoryFiltered applies a parsed SCIM-style memory.Filter instead
// of plain substring matching, the persistent-store extension spec.md
// §4.6 calls for.
func (s *Store) SearchHistoryFiltered(sessionID string, filter memory.Filter, limit int) []memory.Message {
	msgs := s.History(sessionID)
	var out []memory.Message
	for _, m := range msgs {
		if filter.Match(m) {
			out = append(out, m)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// RegisterSession idempotently records a (userID, sessionID) binding using
// a Redis sorted set scored by registration sequence.
func (s *Store) RegisterSession(userID, sessionID string) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	score, err := s.rdb.ZScore(ctx, sessionsKey(userID), sessionID).Result()
	if err == nil {
		_ = score
		return
	}
	if !errors.Is(err, redis.Nil) {
		return
	}
	next, err := s.rdb.ZCard(ctx, sessionsKey(userID)).Result()
	if err != nil {
		return
	}
	s.rdb.ZAdd(ctx, sessionsKey(userID), redis.Z{Score: float64(next), Member: sessionID})
}

// LatestSession returns the most recently registered session for userID.
func (s *Store) LatestSession(userID string) (string, bool) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	members, err := s.rdb.ZRevRange(ctx, sessionsKey(userID), 0, 0).Result()
	if err != nil || len(members) == 0 {
		return "", false
	}
	return members[0], true
}

// Sessions returns userID's sessions in descending registration order.
func (s *Store) Sessions(userID string) []string {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	members, err := s.rdb.ZRevRange(ctx, sessionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil
	}
	return members
}

func decodeMessages(raw []string) []memory.Message {
	out := make([]memory.Message, 0, len(raw))
	for _, r := range raw {
		var m memory.Message
		if json.Unmarshal([]byte(r), &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

// blockFields extracts ordered keys and their values from a block by
// rendering and re-parsing its own wire format, avoiding any dependency on
// MemoryBlock's private fields from a separate package.
func blockFields(b *memory.MemoryBlock) ([]string, map[string]string) {
	rendered := b.Render()
	lines := strings.Split(rendered, "\n")
	var keys []string
	values := make(map[string]string)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ": ")
		if idx < 0 {
			continue
		}
		k, v := line[:idx], line[idx+2:]
		keys = append(keys, k)
		values[k] = v
	}
	return keys, values
}

var _ memory.Memory = (*Store)(nil)
