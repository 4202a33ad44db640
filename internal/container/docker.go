package container

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docker/docker/api/types"
	dcontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"hostwatch-agent/internal/model"
)

const (
	maxHealthLogEntries = 5
	maxHealthLogOutput  = 1024
)

// DockerRuntime talks to the Docker Engine API.
type DockerRuntime struct {
	cli *client.Client
}

func NewDockerRuntime(host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

func (d *DockerRuntime) ListContainers(ctx context.Context) ([]Ref, error) {
	list, err := d.cli.ContainerList(ctx, dcontainer.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("docker container list: %w", err)
	}
	refs := make([]Ref, 0, len(list))
	for _, c := range list {
		ref := Ref{ID: c.ID}
		if len(c.Names) > 0 {
			ref.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (d *DockerRuntime) InspectContainer(ctx context.Context, id string) (model.ContainerDetail, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return model.ContainerDetail{}, fmt.Errorf("docker inspect %s: %w", id, err)
	}
	return detailFromInspect(resp), nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, dcontainer.StartOptions{})
}

func (d *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	return d.cli.ContainerStop(ctx, id, dcontainer.StopOptions{})
}

func (d *DockerRuntime) RestartContainer(ctx context.Context, id string) error {
	return d.cli.ContainerRestart(ctx, id, dcontainer.StopOptions{})
}

func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func detailFromInspect(resp types.ContainerJSON) model.ContainerDetail {
	var detail model.ContainerDetail
	if resp.ContainerJSONBase != nil {
		detail.ID = resp.ID
		detail.Name = strings.TrimPrefix(resp.Name, "/")
		if st := resp.State; st != nil {
			detail.State = model.ContainerState{
				Status:     st.Status,
				Error:      st.Error,
				ExitCode:   int64(st.ExitCode),
				StartedAt:  parseDockerTime(st.StartedAt),
				FinishedAt: parseDockerTime(st.FinishedAt),
			}
			if st.Health != nil {
				h := &model.ContainerHealth{Status: st.Health.Status}
				logs := st.Health.Log
				if len(logs) > maxHealthLogEntries {
					logs = logs[len(logs)-maxHealthLogEntries:]
				}
				for _, l := range logs {
					if l == nil {
						continue
					}
					h.Log = append(h.Log, model.ContainerHealthLog{
						ExitCode: int64(l.ExitCode),
						Output:   boundedOutput(l.Output),
					})
				}
				detail.State.Health = h
			}
		}
	}
	if resp.Config != nil {
		detail.Image = resp.Config.Image
	}
	if resp.NetworkSettings != nil && len(resp.NetworkSettings.Networks) > 0 {
		detail.Networks = make(map[string]model.ContainerNetworkEndpoint, len(resp.NetworkSettings.Networks))
		for name, ep := range resp.NetworkSettings.Networks {
			if ep == nil {
				continue
			}
			detail.Networks[name] = model.ContainerNetworkEndpoint{
				NetworkName:       name,
				MacAddress:        ep.MacAddress,
				Gateway:           ep.Gateway,
				IPAddress:         ep.IPAddress,
				IPv6Gateway:       ep.IPv6Gateway,
				GlobalIPv6Address: ep.GlobalIPv6Address,
			}
		}
	}
	return detail
}

// parseDockerTime maps docker's "0001-01-01T00:00:00Z" placeholder and
// unparsable values to the zero time.
func parseDockerTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t.UTC()
}

func boundedOutput(s string) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= maxHealthLogOutput {
		return s
	}
	cut := maxHealthLogOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
