// Package servicedisco watches Docker containers and turns auto_conf
// templates into live check configurations.
package servicedisco

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Container is the subset of the Engine API list entry the discovery engine
// needs.
type Container struct {
	ID              string            `json:"Id"`
	Names           []string          `json:"Names"`
	Image           string            `json:"Image"`
	Labels          map[string]string `json:"Labels"`
	State           string            `json:"State"`
	Ports           []PortBinding     `json:"Ports"`
	NetworkSettings NetworkSettings   `json:"NetworkSettings"`
}

type PortBinding struct {
	IP          string `json:"IP"`
	PrivatePort int    `json:"PrivatePort"`
	PublicPort  int    `json:"PublicPort"`
	Type        string `json:"Type"`
}

type NetworkSettings struct {
	Networks map[string]Network `json:"Networks"`
}

type Network struct {
	IPAddress string `json:"IPAddress"`
}

// Name returns the container name without the leading slash the API adds.
func (c Container) Name() string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

// DockerClient is a minimal Engine API client. It speaks HTTP over the
// daemon's unix socket (or a tcp host for remote daemons).
type DockerClient struct {
	client  *http.Client
	baseURL string
}

func NewDockerClient(host string, timeout time.Duration) (*DockerClient, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := &http.Transport{}
	baseURL := "http://docker"
	switch {
	case strings.HasPrefix(host, "unix://"):
		socket := strings.TrimPrefix(host, "unix://")
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
	case strings.HasPrefix(host, "tcp://"):
		baseURL = "http://" + strings.TrimPrefix(host, "tcp://")
	default:
		return nil, fmt.Errorf("unsupported docker host %q", host)
	}

	return &DockerClient{
		client:  &http.Client{Timeout: timeout, Transport: transport},
		baseURL: baseURL,
	}, nil
}

// ListContainers returns the running containers.
func (d *DockerClient) ListContainers(ctx context.Context) ([]Container, error) {
	var containers []Container
	if err := d.get(ctx, "/containers/json", &containers); err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return containers, nil
}

// containerDetail is the subset of the inspect response discovery uses.
type containerDetail struct {
	State struct {
		Pid int `json:"Pid"`
	} `json:"State"`
}

// InspectPid returns the root process id of a container.
func (d *DockerClient) InspectPid(ctx context.Context, id string) (int, error) {
	var detail containerDetail
	if err := d.get(ctx, "/containers/"+id+"/json", &detail); err != nil {
		return 0, fmt.Errorf("inspect container %s: %w", id, err)
	}
	return detail.State.Pid, nil
}

// Ping verifies the daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/_ping", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("docker daemon ping returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *DockerClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("docker api %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode docker response: %w", err)
	}
	return nil
}
