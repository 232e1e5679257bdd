package deploy

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"honeymesh/internal/materialize"
	"honeymesh/internal/snapshot"
	"honeymesh/internal/template"
)

// NewManager creates a deployment manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if cfg.StatePath == "" {
		cfg.StatePath = filepath.Join(cfg.DataDir, "deployments.state.json")
	}
	if cfg.EventPath == "" {
		cfg.EventPath = filepath.Join(cfg.DataDir, "deployments.log")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[deploy] ", log.LstdFlags|log.Lmsgprefix)
	}

	return &Manager{
		dataDir:     cfg.DataDir,
		statePath:   cfg.StatePath,
		eventPath:   cfg.EventPath,
		docker:      cfg.Docker,
		logger:      cfg.Logger,
		deployments: make(map[string]*Deployment),
	}, nil
}

// Start initializes the manager: creates the data directory, opens
// the event log, loads persisted state and reconciles it against the
// filesystem.
func (m *Manager) Start() error {
	if err := os.MkdirAll(m.dataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	events, err := NewEventLog(m.eventPath)
	if err != nil {
		return err
	}
	m.events = events

	if err := m.loadState(); err != nil {
		m.logger.Printf("warning: could not load state: %v", err)
	}
	if err := m.ReconcileState(); err != nil {
		m.logger.Printf("warning: could not reconcile state: %v", err)
	}

	m.logger.Printf("started (data=%s, docker=%v)", m.dataDir, m.docker != nil)
	return nil
}

// Close releases the event log.
func (m *Manager) Close() error {
	if m.events != nil {
		return m.events.Close()
	}
	return nil
}

// EventPath returns the path of the JSON-lines event log.
func (m *Manager) EventPath() string {
	return m.eventPath
}

// Deploy materializes the template, snapshots the materialized tree,
// generates the daemon configuration, and starts the honeypot
// container. Any error aborts the deployment and removes its
// directory; in particular no snapshot artifact survives a failed
// materialization.
func (m *Manager) Deploy(ctx context.Context, t *template.Template, opts Options) (*Deployment, error) {
	if err := validateDeploymentName(opts.Name); err != nil {
		return nil, fmt.Errorf("invalid deployment name %q: %w", opts.Name, err)
	}
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.SSHPort == 0 {
		opts.SSHPort = 2222
	}

	d := &Deployment{
		Name:       opts.Name,
		TemplateID: opts.TemplateID,
		Template:   t.Metadata.Name,
		Hostname:   t.Config.Hostname,
		SSHPort:    opts.SSHPort,
		Image:      opts.Image,
		Dir:        filepath.Join(m.dataDir, opts.Name),
		CreatedAt:  time.Now(),
	}

	// Reserve the name before building so a concurrent Deploy for the
	// same name fails the existence check instead of racing the build.
	m.mu.Lock()
	if _, exists := m.deployments[opts.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("deployment already exists: %s", opts.Name)
	}
	m.deployments[opts.Name] = d
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.deployments, opts.Name)
		m.mu.Unlock()
	}

	// A directory that exists but is not in state belongs to someone
	// else (or to a crashed run); refuse rather than build over it and
	// delete it on failure.
	if _, err := os.Lstat(d.Dir); err == nil {
		release()
		return nil, fmt.Errorf("deployment directory already exists: %s", d.Dir)
	} else if !os.IsNotExist(err) {
		release()
		return nil, fmt.Errorf("stat deployment directory: %w", err)
	}

	if err := m.build(d, t); err != nil {
		release()
		os.RemoveAll(d.Dir)
		m.logEvent(Event{Deployment: d.Name, Action: "failed", Template: d.Template, Error: err.Error()})
		return nil, err
	}

	if m.docker != nil {
		containerID, err := m.startContainer(ctx, d)
		if err != nil {
			release()
			os.RemoveAll(d.Dir)
			m.logEvent(Event{Deployment: d.Name, Action: "failed", Template: d.Template, Error: err.Error()})
			return nil, err
		}
		d.ContainerID = containerID
	} else {
		m.logger.Printf("docker unavailable, deployment %s built but not started", d.Name)
	}

	m.mu.Lock()
	if err := m.saveStateUnlocked(); err != nil {
		m.logger.Printf("warning: failed to save state: %v", err)
	}
	m.mu.Unlock()

	m.logEvent(Event{Deployment: d.Name, Action: "deployed", Template: d.Template})
	m.logger.Printf("deployed %s (template=%s, ssh=%d)", d.Name, d.Template, d.SSHPort)
	return d, nil
}

// build runs the filesystem half of a deployment: directory layout,
// materialization, snapshot, generated configuration.
func (m *Manager) build(d *Deployment, t *template.Template) error {
	configDir := filepath.Join(d.Dir, "config")
	shareDir := filepath.Join(d.Dir, "share", "honeymesh")
	honeyfsDir := filepath.Join(d.Dir, "honeyfs")
	txtcmdsDir := filepath.Join(d.Dir, "txtcmds")

	layout := []string{
		configDir, shareDir, honeyfsDir, txtcmdsDir,
		filepath.Join(d.Dir, "log", "tty"),
		filepath.Join(d.Dir, "downloads"),
	}
	for _, dir := range layout {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create deployment directory %s: %w", dir, err)
		}
	}

	// Persona filesystem. Commands are materialized separately below,
	// into the txtcmds overlay rather than the honeyfs tree.
	mat, err := materialize.New(materialize.Config{Root: honeyfsDir, Logger: m.logger})
	if err != nil {
		return err
	}
	if err := mat.ValidatePaths(t); err != nil {
		return err
	}
	if err := mat.MaterializeDirectories(t); err != nil {
		return err
	}
	if err := mat.MaterializeFiles(t); err != nil {
		return err
	}

	cmdMat, err := materialize.New(materialize.Config{Root: txtcmdsDir, Logger: m.logger})
	if err != nil {
		return err
	}
	if err := cmdMat.MaterializeCommands(t); err != nil {
		return err
	}

	// Snapshot the materialized tree for the emulator.
	ser := snapshot.New(snapshot.Config{Logger: m.logger})
	if _, err := ser.Serialize(honeyfsDir, filepath.Join(shareDir, "fs.snapshot")); err != nil {
		return err
	}

	if err := writeUserDB(filepath.Join(configDir, "userdb.txt"), t.Users); err != nil {
		return err
	}
	if err := writeDaemonConfig(filepath.Join(configDir, "honeymesh.cfg"), t.Config); err != nil {
		return err
	}
	if err := writeCmdOutput(filepath.Join(shareDir, "cmdoutput.json"), t.Config.Hostname); err != nil {
		return err
	}
	return writeMetadata(filepath.Join(d.Dir, "metadata.json"), d, t)
}

// Destroy stops the deployment's container (best-effort), removes its
// directory, and drops it from state.
func (m *Manager) Destroy(ctx context.Context, name string) error {
	m.mu.Lock()
	d, exists := m.deployments[name]
	m.mu.Unlock()
	if !exists {
		return fmt.Errorf("deployment not found: %s", name)
	}

	if m.docker != nil && d.ContainerID != "" {
		if err := m.stopContainer(ctx, d.ContainerID); err != nil {
			m.logger.Printf("warning: failed to stop container for %s: %v", name, err)
		}
	}

	if err := os.RemoveAll(d.Dir); err != nil {
		return fmt.Errorf("remove deployment directory: %w", err)
	}

	m.mu.Lock()
	delete(m.deployments, name)
	if err := m.saveStateUnlocked(); err != nil {
		m.logger.Printf("warning: failed to save state: %v", err)
	}
	m.mu.Unlock()

	m.logEvent(Event{Deployment: name, Action: "destroyed", Template: d.Template})
	m.logger.Printf("destroyed deployment %s", name)
	return nil
}

// List returns all known deployments.
func (m *Manager) List() []*Deployment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deployments := make([]*Deployment, 0, len(m.deployments))
	for _, d := range m.deployments {
		dCopy := *d
		deployments = append(deployments, &dCopy)
	}
	return deployments
}

// Get returns the named deployment.
func (m *Manager) Get(name string) (*Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, exists := m.deployments[name]
	if !exists {
		return nil, fmt.Errorf("deployment not found: %s", name)
	}
	dCopy := *d
	return &dCopy, nil
}

func (m *Manager) logEvent(event Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Log(event); err != nil {
		m.logger.Printf("warning: failed to log event: %v", err)
	}
}

// validateDeploymentName ensures a name is safe to use as a directory
// and container name.
func validateDeploymentName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("name cannot contain /")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("name cannot contain ..")
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("name cannot contain null bytes")
	}
	return nil
}
