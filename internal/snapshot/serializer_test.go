package snapshot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"honeymesh/pkg/fstree"
)

// buildSourceTree creates the reference layout:
//
//	/etc/passwd          regular file, 200 bytes
//	/var/log             empty directory
//	/bin/bash            regular file
//	/bin/sh -> bash      symlink resolving inside the root
func buildSourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	for _, dir := range []string{"etc", "var/log", "bin"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "etc", "passwd"), bytes.Repeat([]byte("x"), 200), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "bash"), []byte("#!/fake\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "bin", "bash"), filepath.Join(root, "bin", "sh")); err != nil {
		t.Fatal(err)
	}
	return root
}

func newSerializer(t *testing.T, cfg Config) *Serializer {
	t.Helper()
	return New(cfg)
}

func TestWalkReferenceTree(t *testing.T) {
	root := buildSourceTree(t)
	s := newSerializer(t, Config{})

	tree, report, err := s.Walk(root)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("invalid tree: %v", err)
	}

	passwd := tree.Find("/etc/passwd")
	if passwd == nil {
		t.Fatal("missing /etc/passwd")
	}
	if passwd.Type != fstree.TypeFile || passwd.Size != 200 {
		t.Errorf("/etc/passwd = type %v size %d, want file/200", passwd.Type, passwd.Size)
	}

	logDir := tree.Find("/var/log")
	if logDir == nil || logDir.Type != fstree.TypeDir {
		t.Fatalf("/var/log = %+v, want directory", logDir)
	}
	if len(logDir.Children) != 0 {
		t.Errorf("/var/log has %d children, want 0", len(logDir.Children))
	}

	sh := tree.Find("/bin/sh")
	if sh == nil || sh.Type != fstree.TypeLink {
		t.Fatalf("/bin/sh = %+v, want symlink", sh)
	}
	if sh.LinkTarget != "/bin/bash" {
		t.Errorf("/bin/sh target = %q, want /bin/bash", sh.LinkTarget)
	}
	if len(sh.Children) != 0 {
		t.Error("symlink has children")
	}

	if len(report.Skipped) != 0 {
		t.Errorf("unexpected skips: %+v", report.Skipped)
	}
}

func TestWalkChildOrdering(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	s := newSerializer(t, Config{})
	tree, _, err := s.Walk(root)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	want := []string{"alpha", "mid", "zeta"}
	if len(tree.Children) != len(want) {
		t.Fatalf("got %d children, want %d", len(tree.Children), len(want))
	}
	for i, name := range want {
		if tree.Children[i].Name != name {
			t.Errorf("children[%d] = %q, want %q", i, tree.Children[i].Name, name)
		}
	}
}

func TestWalkSymlinkContainment(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0755); err != nil {
		t.Fatal(err)
	}

	// A file outside the scanned root, and a link to it inside.
	outside := filepath.Join(parent, "host-secret")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "etc", "leak")); err != nil {
		t.Fatal(err)
	}

	s := newSerializer(t, Config{})
	tree, report, err := s.Walk(root)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	if tree.Find("/etc/leak") != nil {
		t.Error("out-of-root symlink was emitted")
	}
	found := false
	for _, sk := range report.Skipped {
		if sk.Path == "/etc/leak" && strings.Contains(sk.Reason, "outside source root") {
			found = true
		}
	}
	if !found {
		t.Errorf("containment skip not reported: %+v", report.Skipped)
	}
}

func TestWalkDanglingSymlinkSkipped(t *testing.T) {
	root := t.TempDir()
	if err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "dangling")); err != nil {
		t.Fatal(err)
	}

	s := newSerializer(t, Config{})
	tree, report, err := s.Walk(root)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if tree.Find("/dangling") != nil {
		t.Error("dangling symlink was emitted")
	}
	if len(report.Skipped) != 1 {
		t.Errorf("skips = %+v, want one", report.Skipped)
	}
}

func TestWalkMaxDepth(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "d1", "d2", "d3", "d4")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(deep, "too-deep.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s := newSerializer(t, Config{MaxDepth: 3})
	tree, report, err := s.Walk(root)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	// d3 sits at the depth limit: emitted, but not descended into.
	d3 := tree.Find("/d1/d2/d3")
	if d3 == nil || d3.Type != fstree.TypeDir {
		t.Fatalf("/d1/d2/d3 = %+v, want directory", d3)
	}
	if len(d3.Children) != 0 {
		t.Errorf("/d1/d2/d3 has %d children, want 0 (depth cutoff)", len(d3.Children))
	}
	if report.DepthPruned == 0 {
		t.Error("depth pruning not reported")
	}
}

func TestWalkExclusions(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "root"), 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"root/fs.pickle": "old artifact",
		"root/notes.txt": "keep",
		"etc/cowrie.cfg": "sentinel name",
		"etc/rc.conf":    "keep",
	}
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	s := newSerializer(t, Config{})
	tree, _, err := s.Walk(root)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	var names []string
	var collect func(e *fstree.Entry)
	collect = func(e *fstree.Entry) {
		names = append(names, e.Name)
		for _, c := range e.Children {
			collect(c)
		}
	}
	collect(tree)

	for _, banned := range []string{"fs.pickle", "cowrie.cfg"} {
		for _, name := range names {
			if name == banned {
				t.Errorf("excluded entry %q present in tree", banned)
			}
		}
	}
	if tree.Find("/root/notes.txt") == nil {
		t.Error("/root/notes.txt missing")
	}
	if tree.Find("/etc/rc.conf") == nil {
		t.Error("/etc/rc.conf missing")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	root := buildSourceTree(t)
	out := filepath.Join(t.TempDir(), "fs.snapshot")

	s := newSerializer(t, Config{})
	report, err := s.Serialize(root, out)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if report.Entries < 6 {
		t.Errorf("report.Entries = %d, want >= 6", report.Entries)
	}

	decoded, err := fstree.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if decoded.Name != "/" || decoded.Type != fstree.TypeDir {
		t.Errorf("decoded root = %+v", decoded)
	}
	sh := decoded.Find("/bin/sh")
	if sh == nil || sh.Type != fstree.TypeLink || sh.LinkTarget != "/bin/bash" {
		t.Errorf("decoded /bin/sh = %+v", sh)
	}
	passwd := decoded.Find("/etc/passwd")
	if passwd == nil || passwd.Size != 200 {
		t.Errorf("decoded /etc/passwd = %+v", passwd)
	}
}

func TestSerializeSourceNotFound(t *testing.T) {
	out := filepath.Join(t.TempDir(), "fs.snapshot")
	s := newSerializer(t, Config{})

	if _, err := s.Serialize(filepath.Join(t.TempDir(), "missing"), out); !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("missing source: error = %v, want ErrSourceNotFound", err)
	}

	// A regular file is not a valid source either.
	file := filepath.Join(t.TempDir(), "afile")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Serialize(file, out); !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("file source: error = %v, want ErrSourceNotFound", err)
	}
}

func TestSerializeAlreadyExists(t *testing.T) {
	root := buildSourceTree(t)
	out := filepath.Join(t.TempDir(), "fs.snapshot")

	previous := []byte("previous artifact bytes")
	if err := os.WriteFile(out, previous, 0644); err != nil {
		t.Fatal(err)
	}

	s := newSerializer(t, Config{})
	if _, err := s.Serialize(root, out); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Serialize error = %v, want ErrAlreadyExists", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, previous) {
		t.Error("existing artifact bytes were modified")
	}
}

func TestSerializeOutputInsideSource(t *testing.T) {
	root := buildSourceTree(t)
	out := filepath.Join(root, "var", "artifact.bin")

	s := newSerializer(t, Config{})
	if _, err := s.Serialize(root, out); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	decoded, err := fstree.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Find("/var/artifact.bin") != nil {
		t.Error("snapshot embeds its own output artifact")
	}
}

func TestWalkUnreadableDirectory(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	if err := os.MkdirAll(locked, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(locked, "hidden"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(locked, 0000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	s := newSerializer(t, Config{})
	tree, report, err := s.Walk(root)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	// The directory entry itself is emitted; its listing failure is
	// reported and the walk continues.
	dir := tree.Find("/locked")
	if dir == nil || dir.Type != fstree.TypeDir {
		t.Fatalf("/locked = %+v, want directory", dir)
	}
	if len(dir.Children) != 0 {
		t.Error("children emitted for unreadable directory")
	}
	if len(report.Skipped) == 0 {
		t.Error("unreadable directory not reported")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		mode os.FileMode
		want fstree.EntryType
	}{
		{"regular file", 0644, fstree.TypeFile},
		{"directory", os.ModeDir | 0755, fstree.TypeDir},
		{"symlink", os.ModeSymlink | 0777, fstree.TypeLink},
		{"block device", os.ModeDevice | 0660, fstree.TypeBlock},
		{"char device", os.ModeDevice | os.ModeCharDevice | 0660, fstree.TypeChar},
		{"socket", os.ModeSocket | 0755, fstree.TypeSocket},
		{"fifo", os.ModeNamedPipe | 0644, fstree.TypeFIFO},
		{"irregular fallback", os.ModeIrregular | 0644, fstree.TypeFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.mode); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestExcluded(t *testing.T) {
	s := newSerializer(t, Config{Exclusions: []string{"/root/fs.snapshot", "*.pickle", "*cowrie*"}})

	tests := []struct {
		path string
		want bool
	}{
		{"/root/fs.snapshot", true},
		{"/root/fs.pickle", true},
		{"/deep/nested/old.pickle", true},
		{"/opt/cowrie", true},
		{"/etc/passwd", false},
		{"/root/notes.txt", false},
	}

	for _, tt := range tests {
		if got := s.excluded(tt.path); got != tt.want {
			t.Errorf("excluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
