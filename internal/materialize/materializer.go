// Package materialize projects a template definition onto a real
// directory tree: baseline directories, declared directories and
// files, the credential database, and custom command scripts.
package materialize

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"honeymesh/internal/template"
)

// ErrPathViolation indicates a declared path that would escape the
// destination root after normalization. It always aborts before any
// write.
var ErrPathViolation = errors.New("path escapes destination root")

// baselineDirs is the standard Unix-like skeleton created for every
// persona before the template's own directories.
var baselineDirs = []string{
	"proc", "sys", "dev", "run", "tmp",
	"usr/bin", "usr/sbin", "usr/local/bin",
	"sbin", "lib", "bin", "etc", "var/log",
	"opt", "home", "root",
}

// Config holds configuration for creating a Materializer.
type Config struct {
	Root   string // destination root directory
	Logger *log.Logger
}

// Materializer writes a template's declared structure under a single
// destination root. All declared paths are containment-checked
// against the root before anything is written.
type Materializer struct {
	root   string
	logger *log.Logger
}

// New creates a Materializer for the given destination root.
func New(cfg Config) (*Materializer, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("destination root cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[materialize] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Materializer{
		root:   filepath.Clean(cfg.Root),
		logger: cfg.Logger,
	}, nil
}

// Root returns the destination root.
func (m *Materializer) Root() string {
	return m.root
}

// Materialize runs the full projection: path validation, directories,
// files, then command scripts. The first error aborts; a failed
// materialization must not be fed to the snapshot serializer.
func (m *Materializer) Materialize(t *template.Template) error {
	if err := m.ValidatePaths(t); err != nil {
		return err
	}
	if err := m.MaterializeDirectories(t); err != nil {
		return err
	}
	if err := m.MaterializeFiles(t); err != nil {
		return err
	}
	return m.MaterializeCommands(t)
}

// ValidatePaths containment-checks every declared file and command
// path before any write. A single violation fails the whole template.
func (m *Materializer) ValidatePaths(t *template.Template) error {
	for _, f := range t.Files {
		if _, err := m.secureJoin(f.Path); err != nil {
			return err
		}
	}
	for _, c := range t.Commands {
		if _, err := m.secureJoin(c.Path); err != nil {
			return err
		}
	}
	return validateDirTree(t.DirTree)
}

// MaterializeDirectories creates the baseline skeleton, the declared
// directory tree, and a home directory (with .ssh) per user.
// Pre-existing directories are not errors; the operation is
// idempotent.
func (m *Materializer) MaterializeDirectories(t *template.Template) error {
	if err := validateDirTree(t.DirTree); err != nil {
		return err
	}

	for _, dir := range baselineDirs {
		if err := os.MkdirAll(filepath.Join(m.root, dir), 0755); err != nil {
			return fmt.Errorf("create baseline directory %s: %w", dir, err)
		}
	}

	if err := m.createDirTree(t.DirTree, m.root); err != nil {
		return err
	}

	for _, u := range t.Users {
		sshDir := filepath.Join(m.root, "home", u.Name, ".ssh")
		if err := os.MkdirAll(sshDir, 0755); err != nil {
			return fmt.Errorf("create home for user %s: %w", u.Name, err)
		}
	}

	m.logger.Printf("directories materialized under %s", m.root)
	return nil
}

// createDirTree recursively creates the declared directory nodes.
// Depth is bounded by the template's own nesting. Node names are
// re-checked here so a tree handed in directly, without a loader or a
// pre-flight pass, still cannot step outside the root.
func (m *Materializer) createDirTree(nodes []*template.DirNode, parent string) error {
	for _, node := range nodes {
		if err := validateDirName(node.Name); err != nil {
			return err
		}
		dir := filepath.Join(parent, node.Name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
		if err := m.createDirTree(node.Children, dir); err != nil {
			return err
		}
	}
	return nil
}

// MaterializeFiles writes the credential database and every declared
// file. Writes are last-write-wins overwrites.
func (m *Materializer) MaterializeFiles(t *template.Template) error {
	if err := m.writePasswd(t); err != nil {
		return err
	}

	for _, f := range t.Files {
		target, err := m.secureJoin(f.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create parent for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}

	m.logger.Printf("wrote %d declared files under %s", len(t.Files), m.root)
	return nil
}

// writePasswd derives etc/passwd from the template's users: the fixed
// root account first, then one line per declared user.
func (m *Materializer) writePasswd(t *template.Template) error {
	var b strings.Builder
	b.WriteString("root:x:0:0:root:/root:/bin/bash\n")
	for _, u := range t.Users {
		fmt.Fprintf(&b, "%s:x:%d:%d:%s:%s:%s\n", u.Name, u.UID, u.GID, u.Gecos, u.Home, u.Shell)
	}

	path := filepath.Join(m.root, "etc", "passwd")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create etc: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write passwd: %w", err)
	}
	return nil
}

// MaterializeCommands writes each custom command script at its target
// path and marks it executable.
func (m *Materializer) MaterializeCommands(t *template.Template) error {
	for _, c := range t.Commands {
		target, err := m.secureJoin(c.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create parent for command %s: %w", c.Name, err)
		}
		if err := os.WriteFile(target, []byte(c.Script), 0755); err != nil {
			return fmt.Errorf("write command %s: %w", c.Name, err)
		}
	}

	if len(t.Commands) > 0 {
		m.logger.Printf("wrote %d command scripts under %s", len(t.Commands), m.root)
	}
	return nil
}

// validateDirTree walks the declared directory nodes and rejects any
// name that is not a single clean path component.
func validateDirTree(nodes []*template.DirNode) error {
	for _, node := range nodes {
		if err := validateDirName(node.Name); err != nil {
			return err
		}
		if err := validateDirTree(node.Children); err != nil {
			return err
		}
	}
	return nil
}

func validateDirName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.Contains(name, "/") || strings.Contains(name, "\x00") {
		return fmt.Errorf("%w: invalid directory name %q", ErrPathViolation, name)
	}
	return nil
}

// secureJoin resolves a declared rooted path against the destination
// root, rejecting anything that normalizes outside it.
func (m *Materializer) secureJoin(declared string) (string, error) {
	if !strings.HasPrefix(declared, "/") {
		return "", fmt.Errorf("%w: %q is not rooted", ErrPathViolation, declared)
	}

	// Join cleans the result, so "/a/../../x" collapses before the
	// containment check.
	joined := filepath.Join(m.root, declared)
	if joined != m.root && !strings.HasPrefix(joined, m.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrPathViolation, declared, joined)
	}
	return joined, nil
}
