package template

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader defaults, substituted for absent fields.
const (
	DefaultHostname  = "honeypot.local"
	DefaultSSHBanner = "SSH-2.0-OpenSSH_8.4p1"
	DefaultTimezone  = "US/Eastern"
	DefaultPassword  = "password123"
	DefaultShell     = "/bin/bash"

	// firstUID is where the monotonic UID/GID counter starts for
	// users that do not declare one.
	firstUID = 1000
)

// defaultScript is the body written for custom commands declared
// without one.
const defaultScript = "#!/bin/bash\necho \"Command not implemented\"\n"

// Load reads and normalizes a YAML template definition. It returns
// ErrNotFound (wrapped) if the file is missing and ErrParse (wrapped)
// on malformed input. Load never mutates the filesystem.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return Parse(data)
}

// Parse normalizes a YAML template definition from memory.
func Parse(data []byte) (*Template, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	if len(doc.Content) > 0 {
		root = deref(doc.Content[0])
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrParse)
	}

	t := &Template{}
	var err error

	t.Metadata = parseMetadata(mapLookup(root, "metadata"))
	t.Config = parseConfiguration(mapLookup(root, "configuration"))

	if t.Users, err = parseUsers(mapLookup(root, "users")); err != nil {
		return nil, err
	}
	if t.DirTree, err = parseDirTree(mapLookup(root, "filesystem")); err != nil {
		return nil, err
	}
	if t.Files, err = parseFiles(mapLookup(root, "files")); err != nil {
		return nil, err
	}
	if t.Commands, err = parseCommands(mapLookup(root, "custom_commands")); err != nil {
		return nil, err
	}

	return t, nil
}

func parseMetadata(n *yaml.Node) Metadata {
	return Metadata{
		Name:        scalarOr(mapLookup(n, "name"), "Unknown"),
		Description: scalarOr(mapLookup(n, "description"), ""),
		Category:    scalarOr(mapLookup(n, "category"), "general"),
		Version:     scalarOr(mapLookup(n, "version"), "1.0"),
		Author:      scalarOr(mapLookup(n, "author"), ""),
	}
}

func parseConfiguration(n *yaml.Node) Configuration {
	return Configuration{
		Hostname:  scalarOr(mapLookup(n, "hostname"), DefaultHostname),
		SSHBanner: scalarOr(mapLookup(n, "ssh_banner"), DefaultSSHBanner),
		Timezone:  scalarOr(mapLookup(n, "timezone"), DefaultTimezone),
	}
}

// parseUsers reads the users mapping in document order. A user is
// either shorthand (username: password) or a mapping with password,
// uid, gid, home, shell, gecos. Omitted UIDs/GIDs come from a
// monotonic counter.
func parseUsers(n *yaml.Node) ([]User, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: users must be a mapping", ErrParse)
	}

	var users []User
	seen := make(map[string]bool)
	nextID := firstUID

	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		val := deref(n.Content[i+1])

		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate user %q", ErrParse, name)
		}
		seen[name] = true

		u := User{
			Name:     name,
			Password: DefaultPassword,
			UID:      -1,
			GID:      -1,
			Home:     "/home/" + name,
			Shell:    DefaultShell,
			Gecos:    name,
		}

		switch val.Kind {
		case yaml.ScalarNode:
			if val.Value != "" && val.Tag != "!!null" {
				u.Password = val.Value
			}
		case yaml.MappingNode:
			u.Password = scalarOr(mapLookup(val, "password"), DefaultPassword)
			u.Home = scalarOr(mapLookup(val, "home"), u.Home)
			u.Shell = scalarOr(mapLookup(val, "shell"), u.Shell)
			u.Gecos = scalarOr(mapLookup(val, "gecos"), u.Gecos)
			var err error
			if u.UID, err = intOr(mapLookup(val, "uid"), -1); err != nil {
				return nil, fmt.Errorf("%w: user %q: %v", ErrParse, name, err)
			}
			if u.GID, err = intOr(mapLookup(val, "gid"), -1); err != nil {
				return nil, fmt.Errorf("%w: user %q: %v", ErrParse, name, err)
			}
		default:
			return nil, fmt.Errorf("%w: user %q must be a password or a mapping", ErrParse, name)
		}

		if u.UID < 0 {
			u.UID = nextID
		}
		if u.GID < 0 {
			u.GID = u.UID
		}
		nextID++

		users = append(users, u)
	}
	return users, nil
}

// parseDirTree builds the tagged recursive directory model from the
// nested YAML mapping. An empty or null value is a leaf directory.
func parseDirTree(n *yaml.Node) ([]*DirNode, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: filesystem must be a nested mapping", ErrParse)
	}

	var nodes []*DirNode
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		val := deref(n.Content[i+1])

		if name == "" || strings.ContainsAny(name, "/\x00") || name == "." || name == ".." {
			return nil, fmt.Errorf("%w: invalid directory name %q", ErrParse, name)
		}

		node := &DirNode{Name: name}
		switch {
		case val.Kind == yaml.MappingNode:
			children, err := parseDirTree(val)
			if err != nil {
				return nil, err
			}
			node.Children = children
		case val.Kind == yaml.ScalarNode && (val.Tag == "!!null" || val.Value == ""):
			// leaf directory
		default:
			return nil, fmt.Errorf("%w: directory %q must map to a mapping or null", ErrParse, name)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// parseFiles reads the files mapping: rooted path to literal content,
// with both scalar shorthand and {content: ...} mapping forms.
func parseFiles(n *yaml.Node) ([]FileContent, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: files must be a mapping", ErrParse)
	}

	var files []FileContent
	for i := 0; i+1 < len(n.Content); i += 2 {
		path := n.Content[i].Value
		val := deref(n.Content[i+1])

		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("%w: file path %q must be rooted", ErrParse, path)
		}

		var content string
		switch val.Kind {
		case yaml.ScalarNode:
			content = val.Value
		case yaml.MappingNode:
			content = scalarOr(mapLookup(val, "content"), "")
		default:
			return nil, fmt.Errorf("%w: file %q must map to content", ErrParse, path)
		}

		files = append(files, FileContent{Path: path, Content: content})
	}
	return files, nil
}

// parseCommands reads custom_commands: name to script, with scalar
// shorthand and {path, content} mapping forms.
func parseCommands(n *yaml.Node) ([]CustomCommand, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: custom_commands must be a mapping", ErrParse)
	}

	var cmds []CustomCommand
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		val := deref(n.Content[i+1])

		cmd := CustomCommand{
			Name:   name,
			Path:   "/usr/local/bin/" + name,
			Script: defaultScript,
		}

		switch val.Kind {
		case yaml.ScalarNode:
			if val.Value != "" && val.Tag != "!!null" {
				cmd.Script = val.Value
			}
		case yaml.MappingNode:
			cmd.Path = scalarOr(mapLookup(val, "path"), cmd.Path)
			cmd.Script = scalarOr(mapLookup(val, "content"), cmd.Script)
		default:
			return nil, fmt.Errorf("%w: command %q must be a script or a mapping", ErrParse, name)
		}

		if !strings.HasPrefix(cmd.Path, "/") {
			return nil, fmt.Errorf("%w: command %q path %q must be rooted", ErrParse, name, cmd.Path)
		}

		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// deref resolves alias nodes so anchors behave like inline values.
func deref(n *yaml.Node) *yaml.Node {
	if n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		return n.Alias
	}
	return n
}

// mapLookup returns the value node for key within a mapping node, or
// nil if absent.
func mapLookup(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return deref(n.Content[i+1])
		}
	}
	return nil
}

// scalarOr returns the scalar text of n, or fallback when n is absent
// or null. Non-string scalars (version: 1.0) keep their literal text.
func scalarOr(n *yaml.Node, fallback string) string {
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return fallback
	}
	if n.Value == "" {
		return fallback
	}
	return n.Value
}

// intOr parses an integer scalar, returning fallback when absent.
func intOr(n *yaml.Node, fallback int) (int, error) {
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" || n.Value == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", n.Value)
	}
	return v, nil
}
