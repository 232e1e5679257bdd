package template

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Export writes a template back out as a YAML definition that Load
// accepts, preserving user, directory, file and command order.
func Export(t *Template, path string) error {
	doc := mapping()

	meta := mapping()
	appendScalar(meta, "name", t.Metadata.Name)
	appendScalar(meta, "description", t.Metadata.Description)
	appendScalar(meta, "category", t.Metadata.Category)
	appendScalar(meta, "version", t.Metadata.Version)
	appendScalar(meta, "author", t.Metadata.Author)
	appendNode(doc, "metadata", meta)

	conf := mapping()
	appendScalar(conf, "hostname", t.Config.Hostname)
	appendScalar(conf, "ssh_banner", t.Config.SSHBanner)
	appendScalar(conf, "timezone", t.Config.Timezone)
	appendNode(doc, "configuration", conf)

	if len(t.Users) > 0 {
		users := mapping()
		for _, u := range t.Users {
			user := mapping()
			appendScalar(user, "password", u.Password)
			appendScalar(user, "uid", strconv.Itoa(u.UID))
			appendScalar(user, "gid", strconv.Itoa(u.GID))
			appendScalar(user, "home", u.Home)
			appendScalar(user, "shell", u.Shell)
			appendScalar(user, "gecos", u.Gecos)
			appendNode(users, u.Name, user)
		}
		appendNode(doc, "users", users)
	}

	if len(t.DirTree) > 0 {
		appendNode(doc, "filesystem", dirTreeNode(t.DirTree))
	}

	if len(t.Files) > 0 {
		files := mapping()
		for _, f := range t.Files {
			entry := mapping()
			appendScalar(entry, "content", f.Content)
			appendNode(files, f.Path, entry)
		}
		appendNode(doc, "files", files)
	}

	if len(t.Commands) > 0 {
		cmds := mapping()
		for _, c := range t.Commands {
			cmd := mapping()
			appendScalar(cmd, "path", c.Path)
			appendScalar(cmd, "content", c.Script)
			appendNode(cmds, c.Name, cmd)
		}
		appendNode(doc, "custom_commands", cmds)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write template %s: %w", path, err)
	}
	return nil
}

func dirTreeNode(nodes []*DirNode) *yaml.Node {
	m := mapping()
	for _, n := range nodes {
		if len(n.Children) == 0 {
			appendNode(m, n.Name, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: ""})
			continue
		}
		appendNode(m, n.Name, dirTreeNode(n.Children))
	}
	return m
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func appendNode(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value)
}

func appendScalar(m *yaml.Node, key, value string) {
	appendNode(m, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value})
}
