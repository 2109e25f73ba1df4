package dashtesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

const containerStartAttempts = 3

// startContainer runs start until it succeeds or fails with an error that a
// fresh attempt will not fix.
func startContainer[C any](ctx context.Context, name string, start func() (C, error)) (C, error) {
	var (
		container C
		lastErr   error
	)
	for attempt := 1; attempt <= containerStartAttempts; attempt++ {
		var err error
		container, err = start()
		if err == nil {
			return container, nil
		}
		lastErr = err
		if !isRetryableContainerStartErr(err) || attempt == containerStartAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return container, ctx.Err()
		case <-time.After(time.Duration(attempt) * 750 * time.Millisecond):
		}
	}
	return container, fmt.Errorf("failed to start %s container after retries: %w", name, lastErr)
}

// endpoint returns the host and mapped port of a container port such as
// "5432/tcp".
func endpoint(ctx context.Context, container testcontainers.Container, port string) (string, string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", "", fmt.Errorf("failed to get container mapped port %s: %w", port, err)
	}
	return host, mapped.Port(), nil
}

func terminate(log *slog.Logger, name string, container testcontainers.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := container.Terminate(ctx); err != nil {
		log.Error("failed to terminate container", "container", name, "error", err)
	}
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}
