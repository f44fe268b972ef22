package docker

import (
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
)

// isSelf returns true when the container ID starts with the given hostname.
// Inside a Docker container, HOSTNAME is set to a prefix of the container ID.
func isSelf(containerID, hostname string) bool {
	if hostname == "" {
		return false
	}
	return strings.HasPrefix(containerID, hostname)
}

// containerName extracts the primary display name for a container.
// Docker stores names with a leading slash, so we strip it.
func containerName(c container.Summary) string {
	if len(c.Names) == 0 {
		return shortID(c.ID)
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

// eventName is the container name carried by a lifecycle event.
func eventName(msg events.Message) string {
	if name := msg.Actor.Attributes["name"]; name != "" {
		return name
	}
	return shortID(msg.Actor.ID)
}

func shortID(id string) string {
	return id[:min(len(id), 12)]
}
