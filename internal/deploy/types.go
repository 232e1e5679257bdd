// Package deploy manages honeypot deployments on the host: the
// per-deployment directory structure, persona materialization and
// snapshot generation, generated daemon configuration, and the
// honeypot container lifecycle.
package deploy

import (
	"log"
	"sync"
	"time"

	"github.com/docker/docker/client"
)

// DefaultImage is the honeypot daemon image started for a deployment.
const DefaultImage = "cowrie/cowrie:latest"

// Manager manages the deployment directory tree and container
// lifecycle. Docker may be absent (nil client): filesystem and
// config generation still work, container operations report
// unavailable.
type Manager struct {
	dataDir   string // per-deployment directories live here
	statePath string // deployments.state.json
	eventPath string // deployments.log (JSON lines)
	docker    *client.Client
	events    *EventLog
	logger    *log.Logger

	mu          sync.RWMutex
	deployments map[string]*Deployment
}

// Deployment is the persisted record of one deployed honeypot.
type Deployment struct {
	Name        string    `json:"name"`
	TemplateID  string    `json:"template_id"`
	Template    string    `json:"template"`
	Hostname    string    `json:"hostname"`
	SSHPort     int       `json:"ssh_port"`
	Image       string    `json:"image"`
	ContainerID string    `json:"container_id,omitempty"`
	Dir         string    `json:"dir"`
	CreatedAt   time.Time `json:"created_at"`
}

// Options configures a single Deploy call.
type Options struct {
	Name       string // deployment name (directory and container name)
	TemplateID string // library ID, recorded in metadata
	SSHPort    int    // host port published to the honeypot's SSH listener
	Image      string // honeypot image; DefaultImage when empty
}

// Config holds configuration for creating a Manager.
type Config struct {
	DataDir   string
	StatePath string
	EventPath string
	Docker    *client.Client // nil when Docker is unavailable
	Logger    *log.Logger
}
