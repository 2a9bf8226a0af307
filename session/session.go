// Package session implements spec.md §3's SessionContext: the caller-facing
// input to an agent run, carrying the time-ordered session identifier the
// rest of the core threads through memory, tracing, and workflow step
// contexts. Identifier generation is grounded on the teacher's run_id.go
// convention of generating an ID at construction when the caller doesn't
// supply one.
package session

import "github.com/agentcore/agentcore/id"

// Context is one caller-initiated interaction: a user message plus the
// session it belongs to and the variables available to prompt rendering.
// SessionID uniqueness across the process is required by spec.md §3;
// time-orderedness is required so memory ordering stays monotone.
type Context struct {
	SessionID  string
	UserID     string
	UserInput  string
	PromptVars map[string]string
	Metadata   map[string]string
}

// Option configures a Context at construction.
type Option func(*Context)

// WithSessionID pins the session identifier instead of generating one. Use
// this to resume an existing session.
func WithSessionID(sessionID string) Option {
	return func(c *Context) { c.SessionID = sessionID }
}

// WithUserID attaches the caller's user identifier.
func WithUserID(userID string) Option {
	return func(c *Context) { c.UserID = userID }
}

// WithPromptVars attaches caller-supplied template variables, merged last
// over the agent's own `{name}`/`{core_memory}` substitutions per spec.md
// §4.1.
func WithPromptVars(vars map[string]string) Option {
	return func(c *Context) { c.PromptVars = vars }
}

// WithMetadata attaches arbitrary caller metadata that rides along with the
// session but is never interpreted by the core.
func WithMetadata(metadata map[string]string) Option {
	return func(c *Context) { c.Metadata = metadata }
}

// New constructs a Context for userInput, generating a time-ordered
// SessionID unless WithSessionID overrides it.
func New(userInput string, opts ...Option) Context {
	c := Context{UserInput: userInput}
	for _, opt := range opts {
		opt(&c)
	}
	if c.SessionID == "" {
		c.SessionID = id.New()
	}
	return c
}
