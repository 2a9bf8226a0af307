// Package mongo implements memory.Memory against MongoDB, grounded on the
// teacher's features/memory/mongo package: a thin Store delegating to a
// narrow Client interface, itself backed by the official driver, with
// goa.design/clue/health.Pinger wired in for the same liveness-check
// convention the teacher's persistence adapters use throughout.
package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/agentcore/agentcore/id"
	"github.com/agentcore/agentcore/memory"
)

const (
	defaultTimeout       = 5 * time.Second
	blocksCollection     = "agentcore_memory_blocks"
	historyCollection    = "agentcore_memory_history"
	archiveCollection    = "agentcore_memory_archive"
	sessionsCollection   = "agentcore_memory_sessions"
	clientName           = "memory-mongo"
)

// Options configures a Store.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// Store implements memory.Memory against MongoDB. health.Pinger is
// satisfied so Store can be registered with the same liveness-check
// machinery as other persistence adapters.
type Store struct {
	mongo   *mongodriver.Client
	blocks  *mongodriver.Collection
	history *mongodriver.Collection
	archive *mongodriver.Collection
	sess    *mongodriver.Collection
	timeout time.Duration
}

// New constructs a Store, ensuring the indexes the query patterns below
// depend on.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:   opts.Client,
		blocks:  db.Collection(blocksCollection),
		history: db.Collection(historyCollection),
		archive: db.Collection(archiveCollection),
		sess:    db.Collection(sessionsCollection),
		timeout: timeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.blocks.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.history.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return err
	}
	if _, err := s.sess.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	return nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.mongo.Ping(ctx, readpref.Primary())
}

var _ health.Pinger = (*Store)(nil)

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.timeout)
}

type blockDoc struct {
	Name    string            `bson:"name"`
	MaxSize int               `bson:"maxSize"`
	Keys    []string          `bson:"keys"`
	Values  map[string]string `bson:"values"`
}

// CoreBlocks returns every registered block ordered by name, the only
// stable ordering available without a separate registration-sequence
// field; callers relying on insertion order should prefer the in-memory
// Store for that guarantee.
func (s *Store) CoreBlocks() []*memory.MemoryBlock {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	cur, err := s.blocks.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil
	}
	defer cur.Close(ctx)

	var out []*memory.MemoryBlock
	for cur.Next(ctx) {
		var doc blockDoc
		if cur.Decode(&doc) != nil {
			continue
		}
		out = append(out, toBlock(doc))
	}
	return out
}

// Block returns the named block, if registered.
func (s *Store) Block(name string) (*memory.MemoryBlock, bool) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	var doc blockDoc
	if err := s.blocks.FindOne(ctx, bson.M{"name": name}).Decode(&doc); err != nil {
		return nil, false
	}
	return toBlock(doc), true
}

func toBlock(doc blockDoc) *memory.MemoryBlock {
	b := memory.NewBlock(doc.Name, doc.MaxSize)
	b.Replace(doc.Values, doc.Keys)
	return b
}

// PutBlock registers or overwrites a block by name.
func (s *Store) PutBlock(block *memory.MemoryBlock) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	clone := block.Clone()
	keys, values := blockFields(clone)
	doc := blockDoc{Name: clone.Name, MaxSize: clone.MaxSize, Keys: keys, Values: values}
	_, _ = s.blocks.UpdateOne(ctx,
		bson.M{"name": clone.Name},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
}

// UpdateBlock sets a single key on an existing block.
func (s *Store) UpdateBlock(name, key, value string) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	b, ok := s.Block(name)
	if !ok {
		return &memory.UnknownBlock{Name: name}
	}
	_ = ctx
	b.Set(key, value)
	s.PutBlock(b)
	return nil
}

// ReplaceBlock overwrites the entire content of an existing block.
func (s *Store) ReplaceBlock(name string, values map[string]string, order []string) error {
	b, ok := s.Block(name)
	if !ok {
		return &memory.UnknownBlock{Name: name}
	}
	b.Replace(values, order)
	s.PutBlock(b)
	return nil
}

// RenderCoreMemory renders every block, name-ordered, separated by a blank
// line.
func (s *Store) RenderCoreMemory() string {
	blocks := s.CoreBlocks()
	var out string
	for i, b := range blocks {
		if i > 0 {
			out += "\n"
		}
		out += b.Render()
	}
	return out
}

type messageDoc struct {
	SessionID  string            `bson:"session_id"`
	Seq        int64             `bson:"seq"`
	Role       string            `bson:"role"`
	Content    string            `bson:"content"`
	ToolCalls  []toolCallDoc     `bson:"tool_calls,omitempty"`
	ToolCallID string            `bson:"tool_call_id,omitempty"`
	ToolName   string            `bson:"tool_name,omitempty"`
	Metadata   map[string]string `bson:"metadata,omitempty"`
}

type toolCallDoc struct {
	ID        string         `bson:"id"`
	Name      string         `bson:"name"`
	Arguments map[string]any `bson:"arguments,omitempty"`
}

// History returns a session's message history in insertion order.
func (s *Store) History(sessionID string) []memory.Message {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	cur, err := s.history.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil
	}
	defer cur.Close(ctx)

	var out []memory.Message
	for cur.Next(ctx) {
		var doc messageDoc
		if cur.Decode(&doc) != nil {
			continue
		}
		out = append(out, toMessage(doc))
	}
	return out
}

func toMessage(doc messageDoc) memory.Message {
	calls := make([]memory.ToolCall, 0, len(doc.ToolCalls))
	for _, c := range doc.ToolCalls {
		calls = append(calls, memory.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return memory.Message{
		Role:       memory.Role(doc.Role),
		Content:    doc.Content,
		ToolCalls:  calls,
		ToolCallID: doc.ToolCallID,
		ToolName:   doc.ToolName,
		Metadata:   doc.Metadata,
	}
}

// AddMessage appends a message to a session's history, assigning it the
// next sequence number for that session.
func (s *Store) AddMessage(sessionID string, msg memory.Message) {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	count, err := s.history.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return
	}
	calls := make([]toolCallDoc, 0, len(msg.ToolCalls))
	for _, c := range msg.ToolCalls {
		calls = append(calls, toolCallDoc{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	doc := messageDoc{
		SessionID:  sessionID,
		Seq:        count,
		Role:       string(msg.Role),
		Content:    msg.Content,
		ToolCalls:  calls,
		ToolCallID: msg.ToolCallID,
		ToolName:   msg.ToolName,
		Metadata:   msg.Metadata,
	}
	_, _ = s.history.InsertOne(ctx, doc)
}

// ClearHistory discards a session's history.
func (s *Store) ClearHistory(sessionID string) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	_, _ = s.history.DeleteMany(ctx, bson.M{"session_id": sessionID})
}

type archiveDoc struct {
	ID        string            `bson:"id"`
	Content   string            `bson:"content"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
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
	_, _ = s.archive.InsertOne(ctx, archiveDoc{
		ID: entry.ID, Content: entry.Content, Metadata: entry.Metadata, CreatedAt: entry.CreatedAt,
	})
	return entry
}

// SearchArchive matches entries by case-insensitive substring on content. A
// blank query returns the first limit entries in insertion order, relying
// on Mongo's natural insertion-order scan (no explicit sort field needed
// since archive entries are never updated in place).
func (s *Store) SearchArchive(query string, limit int) []memory.ArchivalEntry {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	filter := bson.M{}
	if strings.TrimSpace(query) != "" {
		filter = bson.M{"content": bson.M{"$regex": regexQuote(query), "$options": "i"}}
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.archive.Find(ctx, filter, opts)
	if err != nil {
		return nil
	}
	defer cur.Close(ctx)

	var out []memory.ArchivalEntry
	for cur.Next(ctx) {
		var doc archiveDoc
		if cur.Decode(&doc) != nil {
			continue
		}
		out = append(out, memory.ArchivalEntry{
			ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata, CreatedAt: doc.CreatedAt,
		})
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

// SearchHistoryFiltered applies a parsed SCIM-style memory.Filter, the
// persistent-store extension spec.md §4.6 calls for.
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

type sessionDoc struct {
	UserID    string `bson:"user_id"`
	SessionID string `bson:"session_id"`
	Seq       int64  `bson:"seq"`
}

// RegisterSession idempotently records a (userID, sessionID) binding.
func (s *Store) RegisterSession(userID, sessionID string) {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	count, err := s.sess.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return
	}
	_, _ = s.sess.UpdateOne(ctx,
		bson.M{"user_id": userID, "session_id": sessionID},
		bson.M{"$setOnInsert": sessionDoc{UserID: userID, SessionID: sessionID, Seq: count}},
		options.UpdateOne().SetUpsert(true),
	)
}

// LatestSession returns the most recently registered session for userID.
func (s *Store) LatestSession(userID string) (string, bool) {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	var doc sessionDoc
	err := s.sess.FindOne(ctx,
		bson.M{"user_id": userID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		return "", false
	}
	return doc.SessionID, true
}

// Sessions returns userID's sessions in descending registration order.
func (s *Store) Sessions(userID string) []string {
	ctx, cancel := s.ctx(nil)
	defer cancel()
	cur, err := s.sess.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}),
	)
	if err != nil {
		return nil
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var doc sessionDoc
		if cur.Decode(&doc) != nil {
			continue
		}
		out = append(out, doc.SessionID)
	}
	return out
}

// blockFields extracts ordered keys and their values from a block by
// rendering and re-parsing its own wire format, avoiding any dependency on
// MemoryBlock's private fields from a separate package.
func blockFields(b *memory.MemoryBlock) ([]string, map[string]string) {
	rendered := b.Render()
	var keys []string
	values := make(map[string]string)
	lineStart := 0
	firstLineSkipped := false
	for i := 0; i <= len(rendered); i++ {
		if i == len(rendered) || rendered[i] == '\n' {
			line := rendered[lineStart:i]
			lineStart = i + 1
			if !firstLineSkipped {
				firstLineSkipped = true
				continue
			}
			if line == "" {
				continue
			}
			for j := 0; j+1 < len(line); j++ {
				if line[j] == ':' && line[j+1] == ' ' {
					k, v := line[:j], line[j+2:]
					keys = append(keys, k)
					values[k] = v
					break
				}
			}
		}
	}
	return keys, values
}

// regexQuote escapes Mongo regex metacharacters in a user-supplied
// substring query so SearchArchive performs a literal substring match
// rather than treating the query as a pattern.
func regexQuote(s string) string {
	special := `\.+*?()|[]{}^$`
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		for _, sp := range []byte(special) {
			if c == sp {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, c)
	}
	return string(out)
}

var _ memory.Memory = (*Store)(nil)
