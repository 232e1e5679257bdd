package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	tmpl "honeymesh/internal/template"
)

// daemonConfig is the honeypot daemon's own configuration format,
// filled from the persona's Configuration block.
var daemonConfig = template.Must(template.New("daemon.cfg").Parse(`[honeypot]
hostname = {{.Hostname}}
log_path = var/log/honeymesh
download_path = downloads
share_path = share/honeymesh
contents_path = honeyfs
txtcmds_path = txtcmds
ttylog = true
ttylog_path = var/log/honeymesh/tty/
interactive_timeout = 180
authentication_timeout = 120
backend = shell
timezone = {{.Timezone}}
auth_class = UserDB
auth_class_parameters = userdb.txt

[shell]
filesystem = share/honeymesh/fs.snapshot
processes = share/honeymesh/cmdoutput.json
arch = linux-x64-lsb
ssh_version = {{.SSHBanner}}

[ssh]
enabled = true
version = {{.SSHBanner}}
listen_endpoints = tcp:2222:interface=0.0.0.0

[output_jsonlog]
enabled = true
logfile = var/log/honeymesh/honeymesh.json
epoch_timestamp = false
`))

// writeDaemonConfig renders the daemon configuration for a persona.
func writeDaemonConfig(path string, cfg tmpl.Configuration) error {
	var b strings.Builder
	if err := daemonConfig.Execute(&b, cfg); err != nil {
		return fmt.Errorf("render daemon config: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write daemon config: %w", err)
	}
	return nil
}

// writeUserDB writes the credential file consumed by the honeypot's
// authentication module: one "name:x:password" line per user.
func writeUserDB(path string, users []tmpl.User) error {
	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "%s:x:%s\n", u.Name, u.Password)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write userdb: %w", err)
	}
	return nil
}

// writeCmdOutput writes the simulated command output table keyed by
// the persona's hostname.
func writeCmdOutput(path, hostname string) error {
	table := map[string]any{
		"command": map[string]any{
			"ps": map[string]string{
				"": "  PID TTY          TIME CMD\n    1 ?        00:00:01 systemd\n  523 ?        00:00:00 sshd\n 1337 pts/0    00:00:00 bash\n 1429 pts/0    00:00:00 ps",
			},
			"uname": map[string]string{
				"-a": fmt.Sprintf("Linux %s 5.4.0-74-generic #83-Ubuntu SMP Sat May 8 02:35:39 UTC 2021 x86_64 x86_64 x86_64 GNU/Linux", hostname),
				"-r": "5.4.0-74-generic",
			},
			"uptime": map[string]string{
				"": " 18:46:53 up 42 days,  3:27,  1 user,  load average: 0.34, 0.52, 0.48",
			},
			"hostname": map[string]string{
				"": hostname,
			},
			"df": map[string]string{
				"-h": "Filesystem      Size  Used Avail Use% Mounted on\n/dev/sda1       450G  356G   71G  84% /\ntmpfs            32G     0   32G   0% /dev/shm",
			},
		},
	}

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal command output table: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write command output table: %w", err)
	}
	return nil
}

// writeMetadata records the deployment's identity next to its files.
func writeMetadata(path string, d *Deployment, t *tmpl.Template) error {
	meta := map[string]any{
		"name":        d.Name,
		"template":    t.Metadata.Name,
		"template_id": d.TemplateID,
		"category":    t.Metadata.Category,
		"version":     t.Metadata.Version,
		"hostname":    d.Hostname,
		"ssh_port":    d.SSHPort,
		"created":     d.CreatedAt.Unix(),
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
