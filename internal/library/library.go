// Package library reads and writes the project's entity files. Each
// entity is a markdown file with YAML frontmatter (id, name, kind,
// culture, importance, summary); the body is the long-form description.
package library

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

// applyWorkers bounds concurrent file writes during patch application
const applyWorkers = 8

// Frontmatter is the YAML header of an entity file
type Frontmatter struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Culture    string `yaml:"culture,omitempty"`
	Importance string `yaml:"importance,omitempty"`
	Summary    string `yaml:"summary,omitempty"`
}

// Library is the on-disk entity collection rooted at a directory
type Library struct {
	root string

	mu    sync.RWMutex
	paths map[string]string // entityID -> file path
	dirty map[string]struct{}
}

// Open creates a Library over the given directory
func Open(root string) (*Library, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open library: %s is not a directory", root)
	}
	return &Library{
		root:  root,
		paths: make(map[string]string),
		dirty: make(map[string]struct{}),
	}, nil
}

// Root returns the library directory
func (l *Library) Root() string {
	return l.root
}

// ParseFrontmatter extracts the YAML frontmatter and body from an
// entity file's content. Files without a frontmatter block yield an
// empty Frontmatter and the full content as body.
func ParseFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return &Frontmatter{}, content, nil
	}

	fmData := rest[:endIdx]
	body := rest[endIdx+4:]

	var fm Frontmatter
	if err := yaml.Unmarshal(fmData, &fm); err != nil {
		return nil, nil, err
	}

	return &fm, bytes.TrimLeft(body, "\n"), nil
}

// LoadEntity reads one entity file
func (l *Library) LoadEntity(path string) (*domain.Entity, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if fm.ID == "" {
		return nil, fmt.Errorf("parse %s: missing entity id", path)
	}

	e := &domain.Entity{
		ID:          fm.ID,
		Name:        fm.Name,
		Kind:        fm.Kind,
		Culture:     fm.Culture,
		Importance:  domain.Importance(fm.Importance),
		Summary:     fm.Summary,
		Description: strings.TrimSpace(string(body)),
	}

	l.mu.Lock()
	l.paths[e.ID] = path
	l.mu.Unlock()
	return e, nil
}

// LoadAll walks the library directory and loads every entity file,
// sorted by id for deterministic ordering
func (l *Library) LoadAll() ([]*domain.Entity, error) {
	var entities []*domain.Entity

	err := filepath.Walk(l.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		e, err := l.LoadEntity(path)
		if err != nil {
			return err
		}
		entities = append(entities, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

// entityPath resolves an entity id to its file path. An index miss
// rescans the library directory first, so a fresh process resuming a
// persisted run can load batch entities without a prior LoadAll.
func (l *Library) entityPath(id string) (string, error) {
	l.mu.RLock()
	path, ok := l.paths[id]
	l.mu.RUnlock()
	if ok {
		return path, nil
	}

	if err := l.reindex(); err != nil {
		return "", err
	}

	l.mu.RLock()
	path, ok = l.paths[id]
	l.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("entity %s not in library index", id)
	}
	return path, nil
}

// reindex walks the library directory and records every entity file's
// path without retaining the parsed entities
func (l *Library) reindex() error {
	return filepath.Walk(l.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		fm, _, err := ParseFrontmatter(content)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if fm.ID == "" {
			return fmt.Errorf("parse %s: missing entity id", path)
		}
		l.mu.Lock()
		l.paths[fm.ID] = path
		l.mu.Unlock()
		return nil
	})
}

// Load returns the entities with the given ids, reloading any marked
// dirty by the watcher so batch contexts reflect current file state
func (l *Library) Load(ids []string) ([]*domain.Entity, error) {
	var entities []*domain.Entity
	for _, id := range ids {
		path, err := l.entityPath(id)
		if err != nil {
			return nil, err
		}
		e, err := l.LoadEntity(path)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	l.mu.Lock()
	for _, id := range ids {
		delete(l.dirty, id)
	}
	l.mu.Unlock()
	return entities, nil
}

// MarkDirty flags an entity as changed on disk since last load
func (l *Library) MarkDirty(entityID string) {
	l.mu.Lock()
	l.dirty[entityID] = struct{}{}
	l.mu.Unlock()
}

// DirtyCount returns how many entities are flagged dirty
func (l *Library) DirtyCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.dirty)
}

// ApplyPatches writes accepted patches back into entity files,
// rewriting the summary frontmatter field and the description body as
// patched. Files are written concurrently; the first error aborts.
func (l *Library) ApplyPatches(patches []domain.Patch) error {
	var g errgroup.Group
	g.SetLimit(applyWorkers)

	for _, p := range patches {
		patch := p
		g.Go(func() error {
			return l.applyOne(patch)
		})
	}
	return g.Wait()
}

func (l *Library) applyOne(patch domain.Patch) error {
	path, err := l.entityPath(patch.EntityID)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if summary := patch.Change("summary"); summary != "" {
		fm.Summary = summary
	}
	newBody := string(body)
	if description := patch.Change("description"); description != "" {
		newBody = description + "\n"
	}
	if patch.Annotation != "" {
		newBody = strings.TrimRight(newBody, "\n") + "\n\n" + patch.Annotation + "\n"
	}

	out, err := renderEntity(fm, newBody)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func renderEntity(fm *Frontmatter, body string) ([]byte, error) {
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimRight(body, "\n"))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
