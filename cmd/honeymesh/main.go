// Command honeymesh builds and manages medium-interaction honeypot
// deployments: it materializes persona templates onto disk, snapshots
// the result for the honeypot's filesystem emulator, and drives the
// honeypot container lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/client"

	"honeymesh/internal/deploy"
	"honeymesh/internal/snapshot"
	"honeymesh/internal/template"
	"honeymesh/pkg/fstree"
)

const defaultDataDir = "/var/lib/honeymesh"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[honeymesh] ", log.LstdFlags|log.Lmsgprefix)

	var err error
	switch os.Args[1] {
	case "templates":
		err = cmdTemplates(os.Args[2:], logger)
	case "deploy":
		err = cmdDeploy(os.Args[2:], logger)
	case "destroy":
		err = cmdDestroy(os.Args[2:], logger)
	case "list":
		err = cmdList(os.Args[2:], logger)
	case "history":
		err = cmdHistory(os.Args[2:])
	case "snapshot":
		err = cmdSnapshot(os.Args[2:], logger)
	case "inspect":
		err = cmdInspect(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "honeymesh: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: honeymesh <command> [flags]

commands:
  templates   list available persona templates
  deploy      build and start a honeypot deployment
  destroy     stop and remove a deployment
  list        show active deployments
  history     show recent deployment events
  snapshot    serialize a directory tree into a snapshot artifact
  inspect     decode and print a snapshot artifact`)
}

func cmdTemplates(args []string, logger *log.Logger) error {
	fs := flag.NewFlagSet("templates", flag.ExitOnError)
	dir := fs.String("templates", filepath.Join(defaultDataDir, "templates"), "Template library directory")
	category := fs.String("category", "", "Only show templates in this category")
	fs.Parse(args)

	lib, err := template.NewLibrary(*dir, logger)
	if err != nil {
		return err
	}

	infos := lib.List()
	if *category != "" {
		infos = lib.ByCategory(*category)
	}
	if len(infos) == 0 {
		fmt.Println("no templates found")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%-20s %-30s %-12s v%s\n", info.ID, info.Name, info.Category, info.Version)
	}
	return nil
}

func cmdDeploy(args []string, logger *log.Logger) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	templateID := fs.String("template", "", "Template ID to deploy (required)")
	name := fs.String("name", "", "Deployment name (required)")
	sshPort := fs.Int("ssh-port", 2222, "Host port published to the honeypot's SSH listener")
	image := fs.String("image", deploy.DefaultImage, "Honeypot container image")
	templatesDir := fs.String("templates", filepath.Join(defaultDataDir, "templates"), "Template library directory")
	dataDir := fs.String("data", defaultDataDir, "Deployment data directory")
	noStart := fs.Bool("no-start", false, "Build the deployment without starting a container")
	fs.Parse(args)

	if *templateID == "" || *name == "" {
		return fmt.Errorf("deploy requires -template and -name")
	}

	lib, err := template.NewLibrary(*templatesDir, logger)
	if err != nil {
		return err
	}
	tmpl, err := lib.Get(*templateID)
	if err != nil {
		return err
	}

	mgr, err := newManager(*dataDir, !*noStart, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	d, err := mgr.Deploy(context.Background(), tmpl, deploy.Options{
		Name:       *name,
		TemplateID: *templateID,
		SSHPort:    *sshPort,
		Image:      *image,
	})
	if err != nil {
		return err
	}

	fmt.Printf("deployed %s (template=%s, hostname=%s, ssh=%d)\n", d.Name, d.Template, d.Hostname, d.SSHPort)
	return nil
}

func cmdDestroy(args []string, logger *log.Logger) error {
	fs := flag.NewFlagSet("destroy", flag.ExitOnError)
	name := fs.String("name", "", "Deployment name (required)")
	dataDir := fs.String("data", defaultDataDir, "Deployment data directory")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("destroy requires -name")
	}

	mgr, err := newManager(*dataDir, true, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	return mgr.Destroy(context.Background(), *name)
}

func cmdList(args []string, logger *log.Logger) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", defaultDataDir, "Deployment data directory")
	fs.Parse(args)

	mgr, err := newManager(*dataDir, false, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	deployments := mgr.List()
	if len(deployments) == 0 {
		fmt.Println("no active deployments")
		return nil
	}
	for _, d := range deployments {
		status := "built"
		if d.ContainerID != "" {
			status = "running (" + d.ContainerID[:12] + ")"
		}
		fmt.Printf("%-20s %-25s ssh:%-5d %s\n", d.Name, d.Template, d.SSHPort, status)
	}
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dataDir := fs.String("data", defaultDataDir, "Deployment data directory")
	limit := fs.Int("n", 20, "Number of events to show")
	fs.Parse(args)

	events, err := deploy.ReadEvents(filepath.Join(*dataDir, "deployments.log"))
	if err != nil {
		return err
	}
	if len(events) > *limit {
		events = events[len(events)-*limit:]
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-10s %s", e.Timestamp, e.Action, e.Deployment)
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Println(line)
	}
	return nil
}

func cmdSnapshot(args []string, logger *log.Logger) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	source := fs.String("source", "", "Source directory to serialize (required)")
	out := fs.String("out", "", "Output artifact path (required)")
	maxDepth := fs.Int("max-depth", snapshot.DefaultMaxDepth, "Maximum recursion depth")
	var excludes stringList
	fs.Var(&excludes, "exclude", "Additional exclusion glob (repeatable)")
	fs.Parse(args)

	if *source == "" || *out == "" {
		return fmt.Errorf("snapshot requires -source and -out")
	}

	ser := snapshot.New(snapshot.Config{
		MaxDepth:   *maxDepth,
		Exclusions: append(append([]string{}, snapshot.DefaultExclusions...), excludes...),
		Logger:     logger,
	})
	report, err := ser.Serialize(*source, *out)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %s: %d entries, %d skipped\n", *out, report.Entries, len(report.Skipped))
	for _, sk := range report.Skipped {
		fmt.Printf("  skipped %s: %s\n", sk.Path, sk.Reason)
	}
	return nil
}

func cmdInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	artifact := fs.String("snapshot", "", "Snapshot artifact to decode (required)")
	path := fs.String("path", "/", "Subtree to print")
	fs.Parse(args)

	if *artifact == "" {
		return fmt.Errorf("inspect requires -snapshot")
	}

	root, err := fstree.ReadFile(*artifact)
	if err != nil {
		return err
	}
	entry := root.Find(*path)
	if entry == nil {
		return fmt.Errorf("path %s not in snapshot", *path)
	}

	printEntry(entry, 0)
	return nil
}

func printEntry(e *fstree.Entry, indent int) {
	detail := ""
	switch e.Type {
	case fstree.TypeLink:
		detail = " -> " + e.LinkTarget
	case fstree.TypeFile:
		detail = fmt.Sprintf(" (%d bytes)", e.Size)
	}
	fmt.Printf("%s%s [%s uid=%d gid=%d mode=%o]%s\n",
		strings.Repeat("  ", indent), e.Name, e.Type, e.UID, e.GID, e.Mode, detail)
	for _, c := range e.Children {
		printEntry(c, indent+1)
	}
}

// newManager wires a deployment manager, attaching a Docker client
// when requested and reachable.
func newManager(dataDir string, withDocker bool, logger *log.Logger) (*deploy.Manager, error) {
	var docker *client.Client
	if withDocker {
		c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			logger.Printf("warning: docker unavailable: %v", err)
		} else {
			docker = c
		}
	}

	mgr, err := deploy.NewManager(deploy.Config{
		DataDir: dataDir,
		Docker:  docker,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	if err := mgr.Start(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// stringList collects repeated flag values.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }
