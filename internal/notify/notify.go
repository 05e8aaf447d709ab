// Package notify delivers the best-effort reload signal sent to a
// downstream tile server after an archive changes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// NotifyError reports a failed container lookup or signal delivery.
type NotifyError struct {
	Image  string
	Signal string
	Err    error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s with %s: %v", e.Image, e.Signal, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// IsNotifyError reports whether err is, or wraps, a *NotifyError.
func IsNotifyError(err error) bool {
	var ne *NotifyError
	return errors.As(err, &ne)
}

// ContainerAPI is the subset of the Docker engine API the notifier uses.
// *client.Client satisfies it.
type ContainerAPI interface {
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
}

// Docker signals running containers started from a given image.
type Docker struct {
	api ContainerAPI
}

// NewDocker creates a notifier over an existing API handle.
func NewDocker(api ContainerAPI) *Docker {
	return &Docker{api: api}
}

// Connect creates a notifier talking to the Docker daemon configured by the
// environment (DOCKER_HOST, default unix:///var/run/docker.sock). The
// returned client must be closed by the caller.
func Connect() (*Docker, *client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, nil, fmt.Errorf("docker client: %w", err)
	}
	return NewDocker(cli), cli, nil
}

// Notify delivers signal to every running container whose image is image.
//
// It is a logged no-op when image or signal is empty, or when no running
// container matches.
func (d *Docker) Notify(ctx context.Context, image, signal string) error {
	if image == "" {
		slog.Info("no image name configured, reload signal not sent")
		return nil
	}
	if signal == "" {
		slog.Info("no kill signal configured, reload signal not sent", "image", image)
		return nil
	}

	containers, err := d.api.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return &NotifyError{Image: image, Signal: signal, Err: err}
	}

	var sent int
	for _, c := range containers {
		if c.Image != image {
			continue
		}
		if err := d.api.ContainerKill(ctx, c.ID, signal); err != nil {
			return &NotifyError{Image: image, Signal: signal, Err: fmt.Errorf("container %s: %w", shortID(c.ID), err)}
		}
		slog.Info("reload signal sent", "image", image, "signal", signal, "container", shortID(c.ID))
		sent++
	}

	if sent == 0 {
		slog.Info("no running container for image, reload signal not sent", "image", image)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
