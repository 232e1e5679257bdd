// Package template defines the declarative honeypot persona model:
// users, directory structure, file contents and custom command
// scripts, loaded from YAML definitions.
package template

import "errors"

// ErrNotFound indicates a missing template file or library entry.
var ErrNotFound = errors.New("template not found")

// ErrParse indicates a malformed template definition.
var ErrParse = errors.New("template parse error")

// Metadata identifies a template.
type Metadata struct {
	Name        string
	Description string
	Category    string
	Version     string
	Author      string
}

// Configuration holds the honeypot-facing settings of a template.
type Configuration struct {
	Hostname  string
	SSHBanner string
	Timezone  string
}

// User is one declared account. UID/GID are always populated after
// loading (defaulted from a monotonic counter when omitted).
type User struct {
	Name     string
	Password string
	UID      int
	GID      int
	Home     string
	Shell    string
	Gecos    string
}

// DirNode is one directory in the declared tree. Children preserve
// the order of the YAML document.
type DirNode struct {
	Name     string
	Children []*DirNode
}

// FileContent is one declared file: a rooted target path and its
// literal text content.
type FileContent struct {
	Path    string
	Content string
}

// CustomCommand is one fake command script: the name attackers will
// invoke, the rooted path it is installed at, and the script body.
type CustomCommand struct {
	Name   string
	Path   string
	Script string
}

// Template is the normalized in-memory form of a persona definition.
// It is immutable once loaded.
type Template struct {
	Metadata Metadata
	Config   Configuration
	Users    []User
	DirTree  []*DirNode
	Files    []FileContent
	Commands []CustomCommand
}

// MOTD returns the declared /etc/motd content, if any.
func (t *Template) MOTD() (string, bool) {
	for _, f := range t.Files {
		if f.Path == "/etc/motd" {
			return f.Content, true
		}
	}
	return "", false
}

// User returns the declared account with the given name, if any.
func (t *Template) User(name string) (User, bool) {
	for _, u := range t.Users {
		if u.Name == name {
			return u, true
		}
	}
	return User{}, false
}
