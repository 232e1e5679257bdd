// Package snapshot walks a real directory tree and encodes its
// structure and metadata into a single artifact consumed by the
// honeypot runtime's filesystem emulator. File contents are never
// embedded; the walk is metadata-only.
package snapshot

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"honeymesh/pkg/fstree"
)

// ErrSourceNotFound indicates the source root is missing or not a
// directory.
var ErrSourceNotFound = errors.New("snapshot source is not a directory")

// ErrAlreadyExists indicates the output artifact path already exists.
// The existing file is left untouched.
var ErrAlreadyExists = errors.New("snapshot output already exists")

// DefaultMaxDepth bounds the recursion into the source tree.
const DefaultMaxDepth = 15

// DefaultExclusions prunes the serializer's own artifacts and legacy
// sentinel names from the snapshot, so a snapshot never embeds itself
// or a prior one.
var DefaultExclusions = []string{
	"/root/fs.snapshot",
	"*.snapshot",
	"*.pickle",
	"*cowrie*",
	"*kippo*",
}

// Config holds configuration for creating a Serializer.
type Config struct {
	MaxDepth   int      // 0 means DefaultMaxDepth
	Exclusions []string // nil means DefaultExclusions
	Logger     *log.Logger
}

// Serializer produces snapshot trees from real directories. Exclusion
// patterns are explicit per-instance state, so different callers can
// run different policies over the same engine.
type Serializer struct {
	maxDepth   int
	exclusions []string
	logger     *log.Logger
}

// New creates a Serializer.
func New(cfg Config) *Serializer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Exclusions == nil {
		cfg.Exclusions = DefaultExclusions
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[snapshot] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Serializer{
		maxDepth:   cfg.MaxDepth,
		exclusions: cfg.Exclusions,
		logger:     cfg.Logger,
	}
}

// SkippedPath records one branch or entry the walk left out and why.
type SkippedPath struct {
	Path   string
	Reason string
}

// Report is the walk's side channel: its entry count and everything
// that was skipped, inspectable after the fact.
type Report struct {
	Entries     int
	DepthPruned int
	Skipped     []SkippedPath
}

func (r *Report) skip(logger *log.Logger, path, reason string) {
	r.Skipped = append(r.Skipped, SkippedPath{Path: path, Reason: reason})
	logger.Printf("skipped %s: %s", path, reason)
}

// Serialize walks sourceRoot and writes the encoded tree to outPath.
// It fails with ErrSourceNotFound if sourceRoot is not a directory and
// ErrAlreadyExists if outPath exists; per-entry read failures during
// the walk are recorded in the report and do not fail the operation.
// On failure no artifact is written to outPath.
func (s *Serializer) Serialize(sourceRoot, outPath string) (*Report, error) {
	info, err := os.Stat(sourceRoot)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceRoot)
	}
	if _, err := os.Lstat(outPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, outPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat output path: %w", err)
	}

	// If the output lands inside the source tree, exclude it from the
	// walk as well.
	walker := s
	if virtual, ok := virtualPathWithin(sourceRoot, outPath); ok {
		walker = New(Config{
			MaxDepth:   s.maxDepth,
			Exclusions: append(append([]string{}, s.exclusions...), virtual),
			Logger:     s.logger,
		})
	}

	root, report, err := walker.Walk(sourceRoot)
	if err != nil {
		return nil, err
	}

	if err := fstree.WriteFile(outPath, root); err != nil {
		return nil, err
	}

	s.logger.Printf("snapshot written to %s (%d entries, %d skipped)",
		outPath, report.Entries, len(report.Skipped))
	return report, nil
}

// Walk builds the snapshot tree for sourceRoot without touching any
// output path. The walk is depth-first and best-effort: unreadable
// branches are recorded and skipped.
func (s *Serializer) Walk(sourceRoot string) (*fstree.Entry, *Report, error) {
	info, err := os.Stat(sourceRoot)
	if err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceRoot)
	}

	// Resolve the root once so symlink containment compares resolved
	// paths on both sides.
	resolvedRoot, err := filepath.EvalSymlinks(sourceRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve source root: %w", err)
	}

	root := fstree.NewRoot()
	report := &Report{Entries: 1}
	s.recurse(resolvedRoot, "/", root, s.maxDepth, report)
	return root, report, nil
}

// recurse lists one directory and emits an entry per child,
// descending into subdirectories with the remaining depth reduced by one.
func (s *Serializer) recurse(localRoot, virtual string, parent *fstree.Entry, depth int, report *Report) {
	if depth <= 0 {
		report.DepthPruned++
		return
	}

	localPath := filepath.Join(localRoot, filepath.FromSlash(strings.TrimPrefix(virtual, "/")))
	entries, err := os.ReadDir(localPath)
	if err != nil {
		report.skip(s.logger, virtual, fmt.Sprintf("unreadable directory: %v", err))
		return
	}

	// os.ReadDir returns entries sorted by name, so child ordering in
	// the snapshot is deterministic across runs.
	for _, de := range entries {
		name := de.Name()
		childVirtual := joinVirtual(virtual, name)
		if s.excluded(childVirtual) {
			continue
		}

		childLocal := filepath.Join(localPath, name)
		st, err := os.Lstat(childLocal)
		if err != nil {
			// Vanished between listing and stat.
			report.skip(s.logger, childVirtual, fmt.Sprintf("stat: %v", err))
			continue
		}

		entry := &fstree.Entry{
			Name:    name,
			Type:    classify(st.Mode()),
			Size:    st.Size(),
			Mode:    rawMode(st),
			ModTime: st.ModTime().Unix(),
		}
		entry.UID, entry.GID = owner(st)

		switch entry.Type {
		case fstree.TypeLink:
			target, ok, reason := s.resolveLink(localRoot, childLocal)
			if !ok {
				report.skip(s.logger, childVirtual, reason)
				continue
			}
			entry.LinkTarget = target
		case fstree.TypeDir:
			s.recurse(localRoot, childVirtual, entry, depth-1, report)
		}

		parent.AddChild(entry)
		report.Entries++
	}
}

// resolveLink fully resolves a symlink and relativizes its target to
// the source root. Targets escaping the root are containment
// violations: the entry is dropped so no host path ever leaks into
// the artifact.
func (s *Serializer) resolveLink(localRoot, linkPath string) (target string, ok bool, reason string) {
	resolved, err := filepath.EvalSymlinks(linkPath)
	if err != nil {
		return "", false, fmt.Sprintf("unresolvable symlink: %v", err)
	}

	rel, err := filepath.Rel(localRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false, fmt.Sprintf("symlink target %s outside source root", resolved)
	}
	if rel == "." {
		return "/", true, ""
	}
	return "/" + filepath.ToSlash(rel), true, ""
}

// excluded matches the virtual path against the exclusion globs, both
// as a full path and by base name, so "*.pickle" prunes a match at
// any depth.
func (s *Serializer) excluded(virtual string) bool {
	base := strings.TrimPrefix(virtual[strings.LastIndex(virtual, "/"):], "/")
	for _, pattern := range s.exclusions {
		if matched, err := filepath.Match(pattern, virtual); err == nil && matched {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if matched, err := filepath.Match(pattern, base); err == nil && matched {
				return true
			}
		}
	}
	return false
}

func joinVirtual(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// virtualPathWithin maps an output path into the source tree's
// virtual namespace, if it lies inside it.
func virtualPathWithin(sourceRoot, outPath string) (string, bool) {
	absRoot, err := filepath.Abs(sourceRoot)
	if err != nil {
		return "", false
	}
	absOut, err := filepath.Abs(outPath)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absOut)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}
