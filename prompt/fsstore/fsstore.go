// Package fsstore persists a PromptRegistry's lineage to a YAML file on
// disk, one document per prompt name holding its full version history.
// Grounded on the teacher's internal/templates export/import pair
// (gopkg.in/yaml.v3 encoding, MkdirAll-then-WriteFile persistence),
// generalized from a one-shot template exporter into a registry that
// reloads its own lineage on construction. The file is rewritten in place
// with os.WriteFile; the write is not atomic.
package fsstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentcore/agentcore/prompt"
)

// document is the on-disk representation of one prompt name's full
// version lineage.
type document struct {
	Name     string          `yaml:"name"`
	Versions []versionRecord `yaml:"versions"`
}

type versionRecord struct {
	Version   int      `yaml:"version"`
	Content   string   `yaml:"content"`
	Variables []string `yaml:"variables,omitempty"`
	Active    bool     `yaml:"active"`
}

// Store is a prompt.Registry backed by a YAML file. All mutating
// operations persist the full lineage back to disk before returning,
// trading write amplification for a registry that never needs an explicit
// flush or close.
type Store struct {
	mu   sync.Mutex
	path string
	docs map[string]document
}

// Open loads path into a Store, creating an empty lineage if the file
// does not yet exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, docs: make(map[string]document)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("fsstore: read %s: %w", path, err)
	}

	var docs []document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("fsstore: parse %s: %w", path, err)
	}
	for _, d := range docs {
		s.docs[d.Name] = d
	}
	return s, nil
}

func (s *Store) save() error {
	docs := make([]document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}

	data, err := yaml.Marshal(docs)
	if err != nil {
		return fmt.Errorf("fsstore: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("fsstore: create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("fsstore: write %s: %w", s.path, err)
	}
	return nil
}

// Register adds a new version of name, persisting the updated lineage.
// Persistence failures are not surfaced; the in-memory registration still
// takes effect, consistent with the core Registry's no-error Register
// signature.
func (s *Store) Register(name, content string) prompt.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.docs[name]
	d.Name = name
	next := len(d.Versions) + 1
	for i := range d.Versions {
		d.Versions[i].Active = false
	}
	p := prompt.Prompt{
		Name:      name,
		Version:   next,
		Content:   content,
		Variables: prompt.ExtractVariables(content),
		Active:    true,
	}
	d.Versions = append(d.Versions, versionRecord{
		Version: p.Version, Content: p.Content, Variables: p.Variables, Active: true,
	})
	s.docs[name] = d

	_ = s.save()
	return p
}

// Resolve returns the active version of name.
func (s *Store) Resolve(name string) (prompt.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[name]
	if !ok {
		return prompt.Prompt{}, &prompt.UnknownPrompt{Name: name}
	}
	for _, v := range d.Versions {
		if v.Active {
			return toPrompt(name, v), nil
		}
	}
	return prompt.Prompt{}, &prompt.UnknownPrompt{Name: name}
}

// ResolveVersion returns a specific version of name.
func (s *Store) ResolveVersion(name string, version int) (prompt.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[name]
	if !ok || version < 1 || version > len(d.Versions) {
		if !ok || len(d.Versions) == 0 {
			return prompt.Prompt{}, &prompt.UnknownPrompt{Name: name}
		}
		return prompt.Prompt{}, &prompt.UnknownVersion{Name: name, Version: version}
	}
	return toPrompt(name, d.Versions[version-1]), nil
}

// Versions returns every registered version of name, oldest first.
func (s *Store) Versions(name string) []prompt.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.docs[name]
	out := make([]prompt.Prompt, 0, len(d.Versions))
	for _, v := range d.Versions {
		out = append(out, toPrompt(name, v))
	}
	return out
}

func toPrompt(name string, v versionRecord) prompt.Prompt {
	return prompt.Prompt{
		Name:      name,
		Version:   v.Version,
		Content:   v.Content,
		Variables: v.Variables,
		Active:    v.Active,
	}
}

var _ prompt.Registry = (*Store)(nil)
