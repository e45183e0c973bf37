package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Container is one deployed container as reported by docker ps.
type Container struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	Status  string `json:"status"`
	State   string `json:"state"`
	Created string `json:"created"`
	Ports   string `json:"ports"`
	Project string `json:"project,omitempty"`
}

// ContainerLogs is the log snapshot of one container.
type ContainerLogs struct {
	ContainerID string   `json:"container_id"`
	Logs        []string `json:"logs"`
}

// Docker is the container-management surface behind the dashboard. The
// default implementation shells out to the docker CLI; tests substitute a
// fake.
type Docker interface {
	ListContainers(ctx context.Context, project string) ([]Container, error)
	ContainerLogs(ctx context.Context, id string, tail int) ([]string, error)
	StreamContainerLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error)
	RestartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	StartContainer(ctx context.Context, id string) error
	ListProjects(ctx context.Context) ([]string, error)
	RestartProject(ctx context.Context, name string) error
	StopProject(ctx context.Context, name string) error
	StartProject(ctx context.Context, name string) error
}

type dockerCLI struct{}

// psFormat appends the compose project label so containers can be grouped
// by project.
const psFormat = `{{.ID}}\t{{.Names}}\t{{.Image}}\t{{.Status}}\t{{.State}}\t{{.CreatedAt}}\t{{.Ports}}\t{{index .Labels "com.docker.compose.project"}}`

func (d *dockerCLI) ListContainers(ctx context.Context, project string) ([]Container, error) {
	out, err := exec.CommandContext(ctx, "docker", "ps", "-a", "--format", psFormat).Output()
	if err != nil {
		return nil, fmt.Errorf("docker ps: %w", cmdErr(err))
	}

	containers := []Container{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}
		c := Container{
			ID: parts[0], Name: parts[1], Image: parts[2],
			Status: parts[3], State: parts[4], Created: parts[5], Ports: parts[6],
		}
		if len(parts) > 7 {
			c.Project = parts[7]
		}
		if project != "" && c.Project != project {
			continue
		}
		containers = append(containers, c)
	}
	return containers, nil
}

func (d *dockerCLI) ContainerLogs(ctx context.Context, id string, tail int) ([]string, error) {
	args := []string{"logs", "--timestamps"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, id)

	// docker logs writes to both streams; merge and sort so the timestamp
	// prefix puts the lines back in order.
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker logs: %w: %s", err, strings.TrimSpace(string(out)))
	}
	text := strings.TrimRight(string(out), "\n")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(text, "\n")
	sort.Strings(lines)
	return lines, nil
}

func (d *dockerCLI) StreamContainerLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	args := []string{"logs", "-f", "--timestamps"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, id)

	cmd := exec.CommandContext(ctx, "docker", args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("docker logs -f: %w", err)
	}
	return &cmdPipe{ReadCloser: out, cmd: cmd}, nil
}

// cmdPipe ties a pipe reader to its producing process so Close reaps it.
type cmdPipe struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *cmdPipe) Close() error {
	p.ReadCloser.Close()
	_ = p.cmd.Process.Kill()
	return p.cmd.Wait()
}

func (d *dockerCLI) RestartContainer(ctx context.Context, id string) error {
	return d.run(ctx, "restart", id)
}

func (d *dockerCLI) StopContainer(ctx context.Context, id string) error {
	return d.run(ctx, "stop", id)
}

func (d *dockerCLI) StartContainer(ctx context.Context, id string) error {
	return d.run(ctx, "start", id)
}

func (d *dockerCLI) ListProjects(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "docker", "compose", "ls", "--format", "json").Output()
	if err != nil {
		return nil, fmt.Errorf("docker compose ls: %w", cmdErr(err))
	}
	var entries []struct {
		Name string `json:"Name"`
	}
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("parse compose ls output: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

func (d *dockerCLI) RestartProject(ctx context.Context, name string) error {
	return d.run(ctx, "compose", "-p", name, "restart")
}

func (d *dockerCLI) StopProject(ctx context.Context, name string) error {
	return d.run(ctx, "compose", "-p", name, "stop")
}

func (d *dockerCLI) StartProject(ctx context.Context, name string) error {
	return d.run(ctx, "compose", "-p", name, "start")
}

func (d *dockerCLI) run(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// cmdErr folds captured stderr into the error text.
func cmdErr(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) && len(ee.Stderr) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
	}
	return err
}
