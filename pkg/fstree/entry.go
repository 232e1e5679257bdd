// Package fstree defines the snapshot tree model shared between the
// HoneyMesh build tooling (producer) and the honeypot runtime's
// filesystem emulator (consumer), along with its on-disk encoding.
package fstree

import (
	"fmt"
	"sort"
	"strings"
)

// EntryType classifies a snapshot entry. The numeric values match the
// ordering the emulator has always used and must not be reordered.
type EntryType int

const (
	TypeLink EntryType = iota
	TypeDir
	TypeFile
	TypeBlock
	TypeChar
	TypeSocket
	TypeFIFO
)

var typeNames = map[EntryType]string{
	TypeLink:   "symlink",
	TypeDir:    "dir",
	TypeFile:   "file",
	TypeBlock:  "block",
	TypeChar:   "char",
	TypeSocket: "socket",
	TypeFIFO:   "fifo",
}

func (t EntryType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Entry is one node of a filesystem snapshot: metadata and structure
// only, never file contents. Exactly one of Children (directories) or
// LinkTarget (symlinks) is populated, gated by Type.
type Entry struct {
	Name       string    `cbor:"name"`
	Type       EntryType `cbor:"type"`
	UID        int       `cbor:"uid"`
	GID        int       `cbor:"gid"`
	Size       int64     `cbor:"size"`
	Mode       uint32    `cbor:"mode"`
	ModTime    int64     `cbor:"mtime"` // seconds, truncated
	Children   []*Entry  `cbor:"children,omitempty"`
	LinkTarget string    `cbor:"target,omitempty"`

	// SourceRef points to externally stored content for large files.
	// The build tooling never sets it; the field is reserved for the
	// runtime's content overlay.
	SourceRef string `cbor:"ref,omitempty"`
}

// NewRoot returns the fixed snapshot root: a directory named "/" with
// zeroed ownership, mode, size and mtime.
func NewRoot() *Entry {
	return &Entry{Name: "/", Type: TypeDir}
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Type == TypeDir
}

// AddChild appends a child entry. Only meaningful for directories.
func (e *Entry) AddChild(child *Entry) {
	e.Children = append(e.Children, child)
}

// SortChildren orders the entry's children by name, recursively.
func (e *Entry) SortChildren() {
	sort.Slice(e.Children, func(i, j int) bool {
		return e.Children[i].Name < e.Children[j].Name
	})
	for _, c := range e.Children {
		c.SortChildren()
	}
}

// Find resolves a rooted path ("/etc/passwd") within the tree and
// returns the matching entry, or nil if no such path exists. Symlinks
// are not followed.
func (e *Entry) Find(path string) *Entry {
	if path == "/" || path == "" {
		return e
	}
	cur := e
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		var next *Entry
		for _, c := range cur.Children {
			if c.Name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// Count returns the number of entries in the tree, including e itself.
func (e *Entry) Count() int {
	n := 1
	for _, c := range e.Children {
		n += c.Count()
	}
	return n
}

// Validate checks the structural invariant on every node: Children
// only on directories, LinkTarget only on symlinks.
func (e *Entry) Validate() error {
	if len(e.Children) > 0 && e.Type != TypeDir {
		return fmt.Errorf("entry %q: children on non-directory (%s)", e.Name, e.Type)
	}
	if e.LinkTarget != "" && e.Type != TypeLink {
		return fmt.Errorf("entry %q: link target on non-symlink (%s)", e.Name, e.Type)
	}
	for _, c := range e.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
