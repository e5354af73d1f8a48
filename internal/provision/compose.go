package provision

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/overlab/overlab/pkg/logger"
)

// composeFile mirrors the subset of the compose schema an instance needs.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
}

type composeService struct {
	Image         string   `yaml:"image"`
	ContainerName string   `yaml:"container_name"`
	Restart       string   `yaml:"restart"`
	EnvFile       []string `yaml:"env_file"`
	Environment   []string `yaml:"environment"`
	Networks      []string `yaml:"networks"`
}

type composeNetwork struct {
	External bool `yaml:"external"`
}

// ComposeOptions configures the compose substrate.
type ComposeOptions struct {
	// Dir is where per-instance compose projects are materialized.
	Dir string
	// Image is the proxy image every instance runs.
	Image string
	// Network is the external network instances join (shared with the editor).
	Network string
	// Port is the in-network port the proxy listens on.
	Port int
}

// ComposeProvisioner runs instances as single-service compose projects, one
// directory per username. Credentials land in a mode-0600 env file rather
// than the compose file itself.
type ComposeProvisioner struct {
	opts ComposeOptions
	// runner is swapped in tests to avoid invoking the real CLI.
	runner func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewComposeProvisioner creates a provisioner rooted at opts.Dir.
func NewComposeProvisioner(opts ComposeOptions) *ComposeProvisioner {
	return &ComposeProvisioner{opts: opts, runner: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func (p *ComposeProvisioner) instanceDir(username string) string {
	return filepath.Join(p.opts.Dir, username)
}

// Materialize writes the compose project for the spec and returns its
// directory. It is exposed separately so operators can inspect what would run.
func (p *ComposeProvisioner) Materialize(spec InstanceSpec) (string, error) {
	if !ValidUsername(spec.Username) {
		return "", fmt.Errorf("invalid username %q", spec.Username)
	}
	dir := p.instanceDir(spec.Username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating instance dir: %w", err)
	}

	name := InstanceName(spec.Username)
	cf := composeFile{
		Services: map[string]composeService{
			name: {
				Image:         p.opts.Image,
				ContainerName: name,
				Restart:       "unless-stopped",
				EnvFile:       []string{".env"},
				Environment: []string{
					fmt.Sprintf("PROXY_PORT=%d", p.opts.Port),
				},
				Networks: []string{p.opts.Network},
			},
		},
		Networks: map[string]composeNetwork{
			p.opts.Network: {External: true},
		},
	}
	out, err := yaml.Marshal(cf)
	if err != nil {
		return "", fmt.Errorf("encoding compose file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "docker-compose.yml"), out, 0o644); err != nil {
		return "", fmt.Errorf("writing compose file: %w", err)
	}

	env := fmt.Sprintf("ZOTERO_USER=%s\nZOTERO_KEY=%s\n", spec.OwnerID, spec.APIKey)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		return "", fmt.Errorf("writing env file: %w", err)
	}
	return dir, nil
}

func (p *ComposeProvisioner) compose(ctx context.Context, username string, args ...string) ([]byte, error) {
	full := append([]string{"compose", "--project-directory", p.instanceDir(username)}, args...)
	out, err := p.runner(ctx, "docker", full...)
	if err != nil {
		return out, fmt.Errorf("docker %s: %w: %s", strings.Join(full, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (p *ComposeProvisioner) Create(ctx context.Context, spec InstanceSpec) error {
	if _, err := p.Materialize(spec); err != nil {
		return err
	}
	logger.Infof("provision: starting instance %s", InstanceName(spec.Username))
	_, err := p.compose(ctx, spec.Username, "up", "-d")
	return err
}

func (p *ComposeProvisioner) Recreate(ctx context.Context, spec InstanceSpec) error {
	if _, err := p.Materialize(spec); err != nil {
		return err
	}
	logger.Infof("provision: recreating instance %s", InstanceName(spec.Username))
	_, err := p.compose(ctx, spec.Username, "up", "-d", "--force-recreate")
	return err
}

func (p *ComposeProvisioner) Remove(ctx context.Context, username string) error {
	exists, err := p.Exists(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrInstanceNotFound
	}
	logger.Infof("provision: removing instance %s", InstanceName(username))
	if _, err := p.compose(ctx, username, "down", "--volumes"); err != nil {
		return err
	}
	if err := os.RemoveAll(p.instanceDir(username)); err != nil {
		return fmt.Errorf("removing instance dir: %w", err)
	}
	return nil
}

func (p *ComposeProvisioner) Exists(ctx context.Context, username string) (bool, error) {
	status, err := p.containerStatus(ctx, username)
	if err != nil {
		return false, err
	}
	return status != "", nil
}

func (p *ComposeProvisioner) Ready(ctx context.Context, username string) (bool, error) {
	status, err := p.containerStatus(ctx, username)
	if err != nil {
		return false, err
	}
	if status == "" {
		return false, ErrInstanceNotFound
	}
	return status == "running", nil
}

// containerStatus returns the container state string, or "" when the
// container does not exist. Other CLI failures are surfaced as errors.
func (p *ComposeProvisioner) containerStatus(ctx context.Context, username string) (string, error) {
	out, err := p.runner(ctx, "docker", "inspect", "--format", "{{.State.Status}}", InstanceName(username))
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "no such") {
			return "", nil
		}
		return "", fmt.Errorf("docker inspect %s: %w: %s", InstanceName(username), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
