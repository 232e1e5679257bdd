package template

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Info is the listing view of a cached template.
type Info struct {
	ID          string
	Name        string
	Description string
	Category    string
	Version     string
}

// Library discovers and caches template definitions from a directory
// of *.yaml files. Templates are keyed by file stem.
type Library struct {
	dir    string
	logger *log.Logger

	mu        sync.RWMutex
	templates map[string]*Template
}

// NewLibrary loads every template under dir, creating the directory
// if needed. Definitions that fail to parse are logged and skipped;
// the library stays usable.
func NewLibrary(dir string, logger *log.Logger) (*Library, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[templates] ", log.LstdFlags|log.Lmsgprefix)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create template directory: %w", err)
	}

	lib := &Library{
		dir:       dir,
		logger:    logger,
		templates: make(map[string]*Template),
	}
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Reload rescans the template directory, replacing the cache.
func (l *Library) Reload() error {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("scan template directory: %w", err)
	}

	loaded := make(map[string]*Template, len(matches))
	for _, path := range matches {
		t, err := Load(path)
		if err != nil {
			l.logger.Printf("warning: skipping template %s: %v", path, err)
			continue
		}
		id := strings.TrimSuffix(filepath.Base(path), ".yaml")
		loaded[id] = t
	}

	l.mu.Lock()
	l.templates = loaded
	l.mu.Unlock()

	return nil
}

// Get returns the template with the given ID, or ErrNotFound.
func (l *Library) Get(id string) (*Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// List returns all cached templates, sorted by ID.
func (l *Library) List() []Info {
	l.mu.RLock()
	defer l.mu.RUnlock()

	infos := make([]Info, 0, len(l.templates))
	for id, t := range l.templates {
		infos = append(infos, Info{
			ID:          id,
			Name:        t.Metadata.Name,
			Description: t.Metadata.Description,
			Category:    t.Metadata.Category,
			Version:     t.Metadata.Version,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ByCategory returns the templates whose category matches, sorted by ID.
func (l *Library) ByCategory(category string) []Info {
	var infos []Info
	for _, info := range l.List() {
		if info.Category == category {
			infos = append(infos, info)
		}
	}
	return infos
}

// Add loads a single definition file into the cache without a full
// rescan. The file does not need to live under the library directory.
func (l *Library) Add(path string) error {
	t, err := Load(path)
	if err != nil {
		return err
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	l.mu.Lock()
	l.templates[id] = t
	l.mu.Unlock()

	l.logger.Printf("added template %s (%s)", id, t.Metadata.Name)
	return nil
}

// Len returns the number of cached templates.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.templates)
}
